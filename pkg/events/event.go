package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire event names. They are part of the client protocol and must not change.
const (
	Session          = "session"
	Users            = "users"
	UserConnected    = "user connected"
	UserDisconnected = "user disconnected"
	PrivateMessage   = "private message"
	UserMessages     = "user messages"
	NewMessage       = "new message"
	Error            = "error"
)

// Everyone is the Envelope target that reaches every connected user.
const Everyone = "*"

var ErrMissingEventName = errors.New("frame has no event name")

// Event is one websocket frame: {"event": "...", "data": ...}.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

func New(name string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %q payload: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an inbound frame. The payload is left raw so the router can
// bind it to the request type of the named event.
func Decode(frame []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(frame, &e); err != nil {
		return Event{}, fmt.Errorf("decode frame: %w", err)
	}
	if e.Name == "" {
		return Event{}, ErrMissingEventName
	}
	return e, nil
}

// Envelope carries an encoded frame between workers of the pool.
type Envelope struct {
	Origin     string          `json:"origin"`
	TargetUser string          `json:"target_user_id"`
	ExceptUser string          `json:"except_user_id,omitempty"`
	Message    json.RawMessage `json:"message"`
}

func (e Envelope) IsBroadcast() bool {
	return e.TargetUser == Everyone
}
