package dto

import (
	"encoding/json"
	"time"
)

type SessionResponse struct {
	SessionId string `json:"sessionId"`
	UserId    string `json:"userId"`
	Username  string `json:"username"`
}

type UserResponse struct {
	UserId    string            `json:"userId"`
	Username  string            `json:"username"`
	Connected bool              `json:"connected"`
	Messages  []MessageResponse `json:"messages"`
}

type UserPresenceResponse struct {
	UserId   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

type MessageResponse struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type PrivateMessageRequest struct {
	To      string `json:"to" validate:"required,uuid4"`
	Content string `json:"content" validate:"required"`
}

type UserMessagesRequest struct {
	UserId string `json:"userId" validate:"required"`
}

type UserMessagesResponse struct {
	UserId   string            `json:"userId"`
	Username string            `json:"username"`
	Messages []MessageResponse `json:"messages"`
}

type NewMessageResponse struct {
	UserId   string          `json:"userId"`
	Username string          `json:"username"`
	Message  json.RawMessage `json:"message"`
}

// ErrorResponse is the payload of the "error" event sent back for a
// frame that could not be processed.
type ErrorResponse struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

type HealthResponse struct {
	WorkerId         string `json:"workerId"`
	LocalConnections int    `json:"localConnections"`
	LocalUsers       int    `json:"localUsers"`
}

type PresenceResponse struct {
	UserId    string `json:"userId"`
	Connected bool   `json:"connected"`
}
