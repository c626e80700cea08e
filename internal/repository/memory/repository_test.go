package memory

import (
	"testing"

	"realtime-chat-be/internal/repository/contract"
	"realtime-chat-be/internal/repository/repotest"
)

func TestSessionRepository(t *testing.T) {
	repotest.SessionRepository(t, func(t *testing.T) contract.ChatSessionRepository {
		return NewSessionRepository()
	})
}

func TestMessageRepository(t *testing.T) {
	repotest.MessageRepository(t, func(t *testing.T) contract.ChatMessageRepository {
		return NewMessageRepository()
	})
}
