package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"realtime-chat-be/internal/dto"
	"realtime-chat-be/pkg/events"

	"github.com/fasthttp/websocket"
	"github.com/fatih/color"
)

// Talks to a running dispatcher (or a single worker) as two browser tabs.
var (
	baseURL = envOr("SIM_WS_URL", "ws://localhost:4000/ws")
	origin  = envOr("CLIENT_URL", "http://localhost:3000")
)

type peer struct {
	name    string
	conn    *websocket.Conn
	session dto.SessionResponse
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func connect(name string, query url.Values) *peer {
	header := http.Header{}
	header.Set("Origin", origin)

	conn, resp, err := websocket.DefaultDialer.Dial(baseURL+"?"+query.Encode(), header)
	if err != nil {
		status := ""
		if resp != nil {
			status = resp.Status
		}
		color.Red("[%s] connect failed: %v %s", name, err, status)
		os.Exit(1)
	}

	p := &peer{name: name, conn: conn}
	var users []dto.UserResponse
	p.expect(events.Users, &users)
	p.expect(events.Session, &p.session)
	color.Green("[%s] session %s (user %s), %d users known", name, p.session.SessionId, p.session.UserId, len(users))
	return p
}

// expect reads frames until one named name arrives.
func (p *peer) expect(name string, out interface{}) {
	_ = p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			color.Red("[%s] waiting for %q: %v", p.name, name, err)
			os.Exit(1)
		}
		e, err := events.Decode(raw)
		if err != nil {
			color.Red("[%s] bad frame: %v", p.name, err)
			continue
		}
		if e.Name != name {
			fmt.Printf("  [%s] skipped %q\n", p.name, e.Name)
			continue
		}
		if out != nil {
			if err := json.Unmarshal(e.Data, out); err != nil {
				color.Red("[%s] decode %q: %v", p.name, name, err)
				os.Exit(1)
			}
		}
		return
	}
}

func (p *peer) emit(name string, payload interface{}) {
	frame, err := events.New(name, payload)
	if err != nil {
		color.Red("[%s] encode %q: %v", p.name, name, err)
		os.Exit(1)
	}
	raw, _ := frame.Encode()
	if err := p.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		color.Red("[%s] send %q: %v", p.name, name, err)
		os.Exit(1)
	}
}

func main() {
	color.Cyan("🚀 Realtime chat simulation against %s\n", baseURL)

	color.Yellow("\n1. Alice and Bob connect")
	alice := connect("alice", url.Values{"username": {"alice"}})
	bob := connect("bob", url.Values{"username": {"bob"}})

	var joined dto.UserPresenceResponse
	alice.expect(events.UserConnected, &joined)
	color.Green("[alice] saw %s connect", joined.Username)

	color.Yellow("\n2. Bob sends Alice a private message")
	bob.emit(events.PrivateMessage, dto.PrivateMessageRequest{To: alice.session.UserId, Content: "hi alice"})
	var pm dto.MessageResponse
	alice.expect(events.PrivateMessage, &pm)
	color.Green("[alice] %s -> %q", pm.From, pm.Content)

	color.Yellow("\n3. Alice closes her only tab")
	_ = alice.conn.Close()
	var left dto.UserPresenceResponse
	bob.expect(events.UserDisconnected, &left)
	color.Green("[bob] saw %s go offline", left.UserId)

	color.Yellow("\n4. Bob writes while Alice is away")
	bob.emit(events.PrivateMessage, dto.PrivateMessageRequest{To: alice.session.UserId, Content: "are you there?"})
	time.Sleep(200 * time.Millisecond)

	color.Yellow("\n5. Alice resumes her session")
	resumed := connect("alice", url.Values{"sessionId": {alice.session.SessionId}})
	defer resumed.conn.Close()
	defer bob.conn.Close()
	if resumed.session.UserId != alice.session.UserId {
		color.Red("resumed as a different user: %s", resumed.session.UserId)
		os.Exit(1)
	}

	resumed.emit(events.UserMessages, dto.UserMessagesRequest{UserId: bob.session.UserId})
	var history dto.UserMessagesResponse
	resumed.expect(events.UserMessages, &history)
	color.Green("[alice] %d messages with bob", len(history.Messages))
	for _, m := range history.Messages {
		fmt.Printf("  %s: %s\n", m.From, m.Content)
	}

	color.Yellow("\n6. Bob broadcasts a new message")
	bob.emit(events.NewMessage, map[string]string{"text": "hello everyone"})
	var broadcast dto.NewMessageResponse
	resumed.expect(events.NewMessage, &broadcast)
	color.Green("[alice] broadcast from %s: %s", broadcast.Username, string(broadcast.Message))

	color.Cyan("\n✅ Simulation finished")
}
