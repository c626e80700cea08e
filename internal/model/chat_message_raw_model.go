package model

// ChatMessageRaw is one list element of a participant's message log.
type ChatMessageRaw struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Content   string `json:"content"`
	Timestamp int64  `json:"ts"` // unix milliseconds
}

func ChatMessageListKey(userId string) string {
	return "chat:messages:" + userId
}
