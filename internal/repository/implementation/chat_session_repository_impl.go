package implementation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"realtime-chat-be/internal/entity"
	"realtime-chat-be/internal/mapper"
	"realtime-chat-be/internal/model"
	"realtime-chat-be/internal/repository/contract"

	"github.com/redis/go-redis/v9"
)

// ChatSessionRepositoryImpl stores sessions in one Redis hash shared by
// every worker, so a client may resume on any of them.
type ChatSessionRepositoryImpl struct {
	rdb    *redis.Client
	mapper *mapper.ChatMapper
	key    string
}

func NewChatSessionRepository(rdb *redis.Client) contract.ChatSessionRepository {
	return &ChatSessionRepositoryImpl{
		rdb:    rdb,
		mapper: mapper.NewChatMapper(),
		key:    model.ChatSession{}.HashKey(),
	}
}

func (r *ChatSessionRepositoryImpl) Put(ctx context.Context, session *entity.ChatSession) error {
	raw, err := json.Marshal(r.mapper.ChatSessionToModel(session))
	if err != nil {
		return err
	}
	if err := r.rdb.HSet(ctx, r.key, session.SessionId, raw).Err(); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (r *ChatSessionRepositoryImpl) Get(ctx context.Context, sessionId string) (*entity.ChatSession, error) {
	raw, err := r.rdb.HGet(ctx, r.key, sessionId).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	var m model.ChatSession
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionId, err)
	}
	return r.mapper.ChatSessionToEntity(&m), nil
}

func (r *ChatSessionRepositoryImpl) ListAll(ctx context.Context) ([]*entity.ChatSession, error) {
	all, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*entity.ChatSession, 0, len(all))
	for sid, raw := range all {
		var m model.ChatSession
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", sid, err)
		}
		out = append(out, r.mapper.ChatSessionToEntity(&m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionId < out[j].SessionId })
	return out, nil
}
