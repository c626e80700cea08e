package serverutils

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	LocalSessionId = "session_id"
	LocalUsername  = "username"

	SessionHeader = "X-Session-Id"
)

// HandshakeMiddleware lifts the credentials a websocket client presents into
// locals. Browsers cannot set headers on an upgrade, so the query wins.
func HandshakeMiddleware(ctx *fiber.Ctx) error {
	sessionId := ctx.Query("sessionId")
	if sessionId == "" {
		sessionId = ctx.Get(SessionHeader)
	}

	ctx.Locals(LocalSessionId, strings.TrimSpace(sessionId))
	ctx.Locals(LocalUsername, ctx.Query("username"))
	return ctx.Next()
}
