package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"realtime-chat-be/pkg/events"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var ErrClientClosed = errors.New("client closed")

// Conn is the subset of *websocket.Conn the pumps use.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one live socket, bound to exactly one user and session.
type Client struct {
	ID        string
	UserID    string
	SessionID string
	Username  string

	conn Conn

	// Buffered channel of outbound frames. Never closed: done is the only
	// shutdown signal, so a late Enqueue cannot panic.
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func NewClient(conn Conn, id, userID, sessionID, username string, queueSize int) *Client {
	return &Client{
		ID:        id,
		UserID:    userID,
		SessionID: sessionID,
		Username:  username,
		conn:      conn,
		send:      make(chan []byte, queueSize),
		done:      make(chan struct{}),
	}
}

// Enqueue never blocks. It returns false if the client is closed or its
// queue is full.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Emit encodes an event and queues it for this client only.
func (c *Client) Emit(name string, payload interface{}) error {
	e, err := events.New(name, payload)
	if err != nil {
		return err
	}
	frame, err := e.Encode()
	if err != nil {
		return err
	}
	if !c.Enqueue(frame) {
		return ErrClientClosed
	}
	return nil
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ReadPump hands every inbound text frame to handle, in the order received.
// It returns when the connection fails or the client is closed.
func (c *Client) ReadPump(handle func(frame []byte)) error {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				return err
			}
			return nil
		}
		if messageType != websocket.TextMessage {
			continue
		}
		handle(frame)
	}
}

// WritePump drains the send queue and keeps the peer alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// EncodeFrame builds the wire form of an event for fan-out through the hub.
func EncodeFrame(name string, payload interface{}) (json.RawMessage, error) {
	e, err := events.New(name, payload)
	if err != nil {
		return nil, err
	}
	return e.Encode()
}
