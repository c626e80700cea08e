package handler

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"realtime-chat-be/internal/dto"
	"realtime-chat-be/internal/pkg/logger"
	"realtime-chat-be/internal/pkg/serverutils"
	"realtime-chat-be/internal/presence"
	"realtime-chat-be/internal/repository/memory"
	"realtime-chat-be/internal/service"
	internalWS "realtime-chat-be/internal/websocket"
	"realtime-chat-be/pkg/events"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:3000"

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	log := logger.NewNopLogger()
	hub := internalWS.NewHub("worker-1", nil, log, nil)
	sessions := memory.NewSessionRepository()
	messages := memory.NewMessageRepository()
	coord := presence.NewCoordinator(presence.NewMemoryCounter(), "worker-1")

	gateway := service.NewGatewayService(sessions, messages, coord, hub, service.GatewayOptions{MaxUsernameLength: 32, SendQueueSize: 16}, log, nil)
	router := service.NewRouterService(sessions, messages, hub, service.RouterOptions{MaxMessageLength: 1024}, log, nil)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(serverutils.ErrorHandlerMiddleware())
	NewChatHandler(gateway, router, hub, []string{testOrigin}, log).RegisterRoutes(app)
	return app
}

func upgradeRequest(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Origin", testOrigin)
	return req
}

func TestServeWsRejectsBeforeUpgrade(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantError  string
	}{
		{name: "unknown session", req: upgradeRequest("/ws?sessionId=nope"), wantStatus: fiber.StatusUnauthorized, wantError: service.ReasonInvalidSession},
		{name: "no username", req: upgradeRequest("/ws"), wantStatus: fiber.StatusUnauthorized, wantError: service.ReasonInvalidUsername},
		{name: "plain http", req: httptest.NewRequest(http.MethodGet, "/ws?username=alice", nil), wantStatus: fiber.StatusUpgradeRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(tt.req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantError != "" {
				var body serverutils.BaseResponse[any]
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.False(t, body.Success)
				assert.Equal(t, tt.wantError, body.Error)
			}
		})
	}
}

func TestHealthAndPresence(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.NoError(t, err)
	var health serverutils.BaseResponse[dto.HealthResponse]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "worker-1", health.Data.WorkerId)
	assert.Equal(t, 0, health.Data.LocalConnections)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/presence/someone", nil))
	require.NoError(t, err)
	var p serverutils.BaseResponse[dto.PresenceResponse]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.False(t, p.Data.Connected)
}

func TestWebsocketEndToEnd(t *testing.T) {
	app := newTestApp(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	base := "ws://" + ln.Addr().String() + "/ws"
	dial := func(query url.Values) (*websocket.Conn, *http.Response) {
		header := http.Header{}
		header.Set("Origin", testOrigin)
		conn, resp, err := websocket.DefaultDialer.Dial(base+"?"+query.Encode(), header)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		return conn, resp
	}
	read := func(conn *websocket.Conn, name string) events.Event {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		for {
			_, raw, err := conn.ReadMessage()
			require.NoError(t, err)
			e, err := events.Decode(raw)
			require.NoError(t, err)
			if e.Name == name {
				return e
			}
		}
	}

	alice, resp := dial(url.Values{"username": {"alice"}})
	var aliceSession dto.SessionResponse
	require.NoError(t, json.Unmarshal(read(alice, events.Session).Data, &aliceSession))
	assert.Equal(t, aliceSession.SessionId, resp.Header.Get(SessionAffinityHeader))

	bob, _ := dial(url.Values{"username": {"bob"}})
	read(bob, events.Session)
	read(alice, events.UserConnected)

	msg, err := internalWS.EncodeFrame(events.PrivateMessage, dto.PrivateMessageRequest{To: aliceSession.UserId, Content: "hi"})
	require.NoError(t, err)
	require.NoError(t, bob.WriteMessage(websocket.TextMessage, msg))

	var pm dto.MessageResponse
	require.NoError(t, json.Unmarshal(read(alice, events.PrivateMessage).Data, &pm))
	assert.Equal(t, "hi", pm.Content)

	require.NoError(t, alice.Close())
	var gone dto.UserPresenceResponse
	require.NoError(t, json.Unmarshal(read(bob, events.UserDisconnected).Data, &gone))
	assert.Equal(t, aliceSession.UserId, gone.UserId)

	// resume on the same session through the header
	header := http.Header{}
	header.Set("Origin", testOrigin)
	header.Set(serverutils.SessionHeader, aliceSession.SessionId)
	again, _, err := websocket.DefaultDialer.DialContext(context.Background(), base, header)
	require.NoError(t, err)
	defer again.Close()
	var resumed dto.SessionResponse
	require.NoError(t, json.Unmarshal(read(again, events.Session).Data, &resumed))
	assert.Equal(t, aliceSession, resumed)

	// wrong origin is refused by the upgrader
	badHeader := http.Header{}
	badHeader.Set("Origin", "http://evil.example")
	_, badResp, err := websocket.DefaultDialer.Dial(base+"?username=eve", badHeader)
	require.Error(t, err)
	if badResp != nil {
		_, _ = io.Copy(io.Discard, badResp.Body)
		assert.Equal(t, http.StatusForbidden, badResp.StatusCode)
	}
}
