// Package wstest provides an in-memory websocket connection for tests.
package wstest

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"realtime-chat-be/pkg/events"

	"github.com/fasthttp/websocket"
)

var ErrClosed = errors.New("wstest: connection closed")

// FakeConn records outbound text frames and replays frames pushed by the test.
type FakeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu      sync.Mutex
	written []events.Event
	pings   int
	notify  chan struct{}
}

func NewFakeConn() *FakeConn {
	return &FakeConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
		notify:  make(chan struct{}, 1),
	}
}

// Push queues an inbound frame as if the peer had sent it.
func (f *FakeConn) Push(t testing.TB, name string, payload interface{}) {
	t.Helper()
	e, err := events.New(name, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	raw, err := e.Encode()
	if err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	f.PushRaw(raw)
}

func (f *FakeConn) PushRaw(frame []byte) {
	select {
	case f.inbound <- frame:
	case <-f.closed:
	}
}

func (f *FakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-f.inbound:
		return websocket.TextMessage, frame, nil
	case <-f.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (f *FakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return ErrClosed
	default:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch messageType {
	case websocket.PingMessage:
		f.pings++
	case websocket.TextMessage:
		var e events.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		f.written = append(f.written, e)
		select {
		case f.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

func (f *FakeConn) SetReadLimit(limit int64)                   {}
func (f *FakeConn) SetReadDeadline(t time.Time) error          { return nil }
func (f *FakeConn) SetWriteDeadline(t time.Time) error         { return nil }
func (f *FakeConn) SetPongHandler(h func(appData string) error) {}

func (f *FakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *FakeConn) IsClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// Events returns a copy of every frame written so far.
func (f *FakeConn) Events() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Event, len(f.written))
	copy(out, f.written)
	return out
}

// Named returns the written frames with the given event name.
func (f *FakeConn) Named(name string) []events.Event {
	var out []events.Event
	for _, e := range f.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// WaitFor blocks until at least n frames named name were written.
func (f *FakeConn) WaitFor(t testing.TB, name string, n int) []events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if got := f.Named(name); len(got) >= n {
			return got
		}
		select {
		case <-f.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %d %q frames, got %d", n, name, len(f.Named(name)))
			return nil
		}
	}
}

// Decode unmarshals the data of e into v.
func Decode(t testing.TB, e events.Event, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(e.Data, v); err != nil {
		t.Fatalf("decode %s: %v", e.Name, err)
	}
}
