package model

// ChatSession is the record stored in the shared session hash.
type ChatSession struct {
	SessionId string `json:"session_id"`
	UserId    string `json:"user_id"`
	Username  string `json:"username"`
	Connected bool   `json:"connected"`
}

func (ChatSession) HashKey() string {
	return "chat:sessions"
}
