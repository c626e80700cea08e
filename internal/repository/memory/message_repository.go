package memory

import (
	"context"
	"sync"

	"realtime-chat-be/internal/entity"
	"realtime-chat-be/internal/repository/contract"
)

type MessageRepository struct {
	mu       sync.RWMutex
	messages []entity.ChatMessage
	byUser   map[string][]int // userId -> positions in messages
}

func NewMessageRepository() contract.ChatMessageRepository {
	return &MessageRepository{
		byUser: make(map[string][]int),
	}
}

func (r *MessageRepository) Append(ctx context.Context, message *entity.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos := len(r.messages)
	r.messages = append(r.messages, *message)
	r.byUser[message.From] = append(r.byUser[message.From], pos)
	if message.To != message.From {
		r.byUser[message.To] = append(r.byUser[message.To], pos)
	}
	return nil
}

func (r *MessageRepository) FindFor(ctx context.Context, userId string) ([]*entity.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	positions := r.byUser[userId]
	out := make([]*entity.ChatMessage, 0, len(positions))
	for _, pos := range positions {
		m := r.messages[pos]
		out = append(out, &m)
	}
	return out, nil
}

func (r *MessageRepository) FindBetween(ctx context.Context, userId, otherId string) ([]*entity.ChatMessage, error) {
	all, err := r.FindFor(ctx, userId)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.ChatMessage, 0, len(all))
	for _, m := range all {
		if m.Counterpart(userId) == otherId {
			out = append(out, m)
		}
	}
	return out, nil
}
