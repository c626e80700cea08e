package handler

import (
	"context"
	"errors"

	"realtime-chat-be/internal/dto"
	"realtime-chat-be/internal/pkg/logger"
	"realtime-chat-be/internal/pkg/serverutils"
	"realtime-chat-be/internal/service"
	internalWS "realtime-chat-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// SessionAffinityHeader is read by the dispatcher on the 101 response to pin
// later connections of the session to this worker.
const SessionAffinityHeader = "X-Chat-Session"

type ChatHandler struct {
	gateway        service.IGatewayService
	router         service.IRouterService
	hub            *internalWS.Hub
	allowedOrigins []string
	logger         logger.ILogger
}

func NewChatHandler(gateway service.IGatewayService, router service.IRouterService, hub *internalWS.Hub, allowedOrigins []string, log logger.ILogger) *ChatHandler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &ChatHandler{
		gateway:        gateway,
		router:         router,
		hub:            hub,
		allowedOrigins: allowedOrigins,
		logger:         log,
	}
}

func (h *ChatHandler) RegisterRoutes(app fiber.Router) {
	app.Get("/ws", serverutils.HandshakeMiddleware, h.ServeWs)

	api := app.Group("/api")
	api.Get("/health", h.Health)
	api.Get("/presence/:userId", h.Presence)
}

// ServeWs authenticates before upgrading, so a rejected client gets a plain
// 401 and never holds a socket.
func (h *ChatHandler) ServeWs(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	handshake := service.Handshake{}
	handshake.SessionId, _ = c.Locals(serverutils.LocalSessionId).(string)
	handshake.Username, _ = c.Locals(serverutils.LocalUsername).(string)

	identity, err := h.gateway.Authenticate(c.UserContext(), handshake)
	if err != nil {
		var authErr *service.AuthError
		if errors.As(err, &authErr) {
			h.logger.Warn("ChatHandler", "Handshake rejected", map[string]interface{}{"reason": authErr.Reason, "ip": c.IP()})
			return c.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(authErr.Reason))
		}
		h.logger.Error("ChatHandler", "Handshake failed", map[string]interface{}{"error": err.Error()})
		return fiber.ErrServiceUnavailable
	}

	c.Set(SessionAffinityHeader, identity.SessionId)

	return websocket.New(func(conn *websocket.Conn) {
		ctx := context.Background()
		client, err := h.gateway.Accept(ctx, identity, conn)
		if err != nil {
			h.logger.Error("ChatHandler", "Failed to accept connection", map[string]interface{}{"error": err.Error(), "user_id": identity.UserId})
			return
		}

		if err := internalWS.Serve(client, func(frame []byte) {
			h.router.HandleFrame(ctx, client, frame)
		}); err != nil {
			h.logger.Warn("ChatHandler", "Connection closed unexpectedly", map[string]interface{}{"error": err.Error(), "conn_id": client.ID})
		}
		h.gateway.Disconnect(ctx, client)
	}, websocket.Config{Origins: h.allowedOrigins})(c)
}

func (h *ChatHandler) Health(c *fiber.Ctx) error {
	return c.JSON(serverutils.SuccessResponse("ok", dto.HealthResponse{
		WorkerId:         h.hub.WorkerId(),
		LocalConnections: h.hub.LocalConnections(),
		LocalUsers:       h.hub.LocalUsers(),
	}))
}

func (h *ChatHandler) Presence(c *fiber.Ctx) error {
	userId := c.Params("userId")
	online, err := h.gateway.IsOnline(c.UserContext(), userId)
	if err != nil {
		h.logger.Error("ChatHandler", "Presence lookup failed", map[string]interface{}{"error": err.Error(), "user_id": userId})
		return fiber.ErrServiceUnavailable
	}
	return c.JSON(serverutils.SuccessResponse("ok", dto.PresenceResponse{UserId: userId, Connected: online}))
}
