package contract

import (
	"context"

	"realtime-chat-be/internal/entity"
)

// ChatSessionRepository is the session directory. Sessions are never deleted.
type ChatSessionRepository interface {
	Put(ctx context.Context, session *entity.ChatSession) error
	Get(ctx context.Context, sessionId string) (*entity.ChatSession, error) // nil, nil when unknown
	ListAll(ctx context.Context) ([]*entity.ChatSession, error)
}
