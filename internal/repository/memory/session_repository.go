package memory

import (
	"context"
	"sort"

	"realtime-chat-be/internal/entity"
	"realtime-chat-be/internal/repository/contract"

	"github.com/patrickmn/go-cache"
)

type SessionRepository struct {
	cache *cache.Cache
}

// NewSessionRepository keeps sessions for the lifetime of the process.
func NewSessionRepository() contract.ChatSessionRepository {
	return &SessionRepository{
		cache: cache.New(cache.NoExpiration, 0),
	}
}

func (r *SessionRepository) Put(ctx context.Context, session *entity.ChatSession) error {
	stored := *session
	r.cache.Set(session.SessionId, &stored, cache.NoExpiration)
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, sessionId string) (*entity.ChatSession, error) {
	if x, found := r.cache.Get(sessionId); found {
		s := *x.(*entity.ChatSession)
		return &s, nil
	}
	return nil, nil
}

func (r *SessionRepository) ListAll(ctx context.Context) ([]*entity.ChatSession, error) {
	items := r.cache.Items()
	out := make([]*entity.ChatSession, 0, len(items))
	for _, item := range items {
		s := *item.Object.(*entity.ChatSession)
		out = append(out, &s)
	}
	// go-cache iterates a map
	sort.Slice(out, func(i, j int) bool { return out[i].SessionId < out[j].SessionId })
	return out, nil
}
