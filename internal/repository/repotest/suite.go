// Package repotest holds behaviour checks every repository backend must pass.
package repotest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"realtime-chat-be/internal/entity"
	"realtime-chat-be/internal/repository/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func SessionRepository(t *testing.T, newRepo func(t *testing.T) contract.ChatSessionRepository) {
	ctx := context.Background()

	t.Run("unknown session", func(t *testing.T) {
		repo := newRepo(t)
		got, err := repo.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("put is an upsert", func(t *testing.T) {
		repo := newRepo(t)
		s := &entity.ChatSession{SessionId: "s1", UserId: "u1", Username: "alice", Connected: true}
		require.NoError(t, repo.Put(ctx, s))

		s.Connected = false
		require.NoError(t, repo.Put(ctx, s))

		got, err := repo.Get(ctx, "s1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, entity.ChatSession{SessionId: "s1", UserId: "u1", Username: "alice", Connected: false}, *got)

		all, err := repo.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("returned sessions are copies", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Put(ctx, &entity.ChatSession{SessionId: "s1", UserId: "u1", Username: "alice"}))

		got, err := repo.Get(ctx, "s1")
		require.NoError(t, err)
		got.Username = "mallory"

		again, err := repo.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "alice", again.Username)
	})

	t.Run("concurrent puts", func(t *testing.T) {
		repo := newRepo(t)
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("s%02d", i)
				assert.NoError(t, repo.Put(ctx, &entity.ChatSession{SessionId: id, UserId: "u" + id, Username: id}))
			}(i)
		}
		wg.Wait()

		all, err := repo.ListAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 50)
		assert.Equal(t, "s00", all[0].SessionId)
	})
}

func MessageRepository(t *testing.T, newRepo func(t *testing.T) contract.ChatMessageRepository) {
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	msg := func(from, to, content string, offset int) *entity.ChatMessage {
		return &entity.ChatMessage{From: from, To: to, Content: content, Timestamp: at.Add(time.Duration(offset) * time.Second)}
	}

	t.Run("visible to both participants in order", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Append(ctx, msg("a", "b", "hi", 0)))
		require.NoError(t, repo.Append(ctx, msg("b", "a", "hello", 1)))
		require.NoError(t, repo.Append(ctx, msg("c", "b", "yo", 2)))

		forA, err := repo.FindFor(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"hi", "hello"}, contents(forA))

		forB, err := repo.FindFor(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, []string{"hi", "hello", "yo"}, contents(forB))
		assert.True(t, forB[0].Timestamp.Equal(at))

		between, err := repo.FindBetween(ctx, "b", "a")
		require.NoError(t, err)
		assert.Equal(t, []string{"hi", "hello"}, contents(between))
	})

	t.Run("timestamp survives the round trip", func(t *testing.T) {
		repo := newRepo(t)
		sent := &entity.ChatMessage{From: "a", To: "b", Content: "hi", Timestamp: at.Add(1234 * time.Millisecond)}
		require.NoError(t, repo.Append(ctx, sent))

		for _, userId := range []string{"a", "b"} {
			got, err := repo.FindFor(ctx, userId)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.True(t, sent.Timestamp.Equal(got[0].Timestamp), "read %s for %s", got[0].Timestamp, userId)
		}
	})

	t.Run("message to self stored once", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Append(ctx, msg("a", "a", "note", 0)))

		forA, err := repo.FindFor(ctx, "a")
		require.NoError(t, err)
		assert.Len(t, forA, 1)
	})

	t.Run("unknown user has empty history", func(t *testing.T) {
		repo := newRepo(t)
		got, err := repo.FindFor(ctx, "nobody")
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func contents(msgs []*entity.ChatMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
