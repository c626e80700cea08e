package entity

// ChatSession is the identity a client resumes with its sessionId.
// UserId and Username never change once minted; Connected tracks
// pool-wide liveness of the user.
type ChatSession struct {
	SessionId string
	UserId    string
	Username  string
	Connected bool
}

// Identity is the outcome of a successful handshake.
type Identity struct {
	SessionId string
	UserId    string
	Username  string
	Resumed   bool
}

func (i Identity) Session(connected bool) *ChatSession {
	return &ChatSession{
		SessionId: i.SessionId,
		UserId:    i.UserId,
		Username:  i.Username,
		Connected: connected,
	}
}
