package contract

import (
	"context"

	"realtime-chat-be/internal/entity"
)

// ChatMessageRepository is an append-only log of private messages.
// Reads return messages in insertion order.
type ChatMessageRepository interface {
	Append(ctx context.Context, message *entity.ChatMessage) error
	FindFor(ctx context.Context, userId string) ([]*entity.ChatMessage, error)
	FindBetween(ctx context.Context, userId, otherId string) ([]*entity.ChatMessage, error)
}
