package implementation

import (
	"context"
	"encoding/json"
	"fmt"

	"realtime-chat-be/internal/entity"
	"realtime-chat-be/internal/mapper"
	"realtime-chat-be/internal/model"
	"realtime-chat-be/internal/repository/contract"

	"github.com/redis/go-redis/v9"
)

// ChatMessageRepositoryImpl keeps one Redis list per participant. Both
// lists are written in a single MULTI/EXEC.
type ChatMessageRepositoryImpl struct {
	rdb    *redis.Client
	mapper *mapper.ChatMapper
}

func NewChatMessageRepository(rdb *redis.Client) contract.ChatMessageRepository {
	return &ChatMessageRepositoryImpl{
		rdb:    rdb,
		mapper: mapper.NewChatMapper(),
	}
}

func (r *ChatMessageRepositoryImpl) Append(ctx context.Context, message *entity.ChatMessage) error {
	raw, err := json.Marshal(r.mapper.ChatMessageToModel(message))
	if err != nil {
		return err
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, model.ChatMessageListKey(message.From), raw)
		if message.To != message.From {
			pipe.RPush(ctx, model.ChatMessageListKey(message.To), raw)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (r *ChatMessageRepositoryImpl) FindFor(ctx context.Context, userId string) ([]*entity.ChatMessage, error) {
	items, err := r.rdb.LRange(ctx, model.ChatMessageListKey(userId), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("find messages for %s: %w", userId, err)
	}

	out := make([]*entity.ChatMessage, 0, len(items))
	for _, item := range items {
		var m model.ChatMessageRaw
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, r.mapper.ChatMessageToEntity(&m))
	}
	return out, nil
}

func (r *ChatMessageRepositoryImpl) FindBetween(ctx context.Context, userId, otherId string) ([]*entity.ChatMessage, error) {
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
