package mapper

import (
	"time"

	"realtime-chat-be/internal/dto"
	"realtime-chat-be/internal/entity"
	"realtime-chat-be/internal/model"
)

type ChatMapper struct{}

func NewChatMapper() *ChatMapper {
	return &ChatMapper{}
}

// Session Mappers

func (m *ChatMapper) ChatSessionToEntity(s *model.ChatSession) *entity.ChatSession {
	if s == nil {
		return nil
	}
	return &entity.ChatSession{
		SessionId: s.SessionId,
		UserId:    s.UserId,
		Username:  s.Username,
		Connected: s.Connected,
	}
}

func (m *ChatMapper) ChatSessionToModel(s *entity.ChatSession) *model.ChatSession {
	if s == nil {
		return nil
	}
	return &model.ChatSession{
		SessionId: s.SessionId,
		UserId:    s.UserId,
		Username:  s.Username,
		Connected: s.Connected,
	}
}

func (m *ChatMapper) SessionToResponse(s *entity.ChatSession) dto.SessionResponse {
	return dto.SessionResponse{
		SessionId: s.SessionId,
		UserId:    s.UserId,
		Username:  s.Username,
	}
}

// Message Mappers

func (m *ChatMapper) ChatMessageToEntity(r *model.ChatMessageRaw) *entity.ChatMessage {
	if r == nil {
		return nil
	}
	return &entity.ChatMessage{
		From:      r.From,
		To:        r.To,
		Content:   r.Content,
		Timestamp: time.UnixMilli(r.Timestamp).UTC(),
	}
}

func (m *ChatMapper) ChatMessageToModel(e *entity.ChatMessage) *model.ChatMessageRaw {
	if e == nil {
		return nil
	}
	return &model.ChatMessageRaw{
		From:      e.From,
		To:        e.To,
		Content:   e.Content,
		Timestamp: e.Timestamp.UnixMilli(),
	}
}

func (m *ChatMapper) MessageToResponse(e *entity.ChatMessage) dto.MessageResponse {
	return dto.MessageResponse{
		From:      e.From,
		To:        e.To,
		Content:   e.Content,
		Timestamp: e.Timestamp,
	}
}

// MessagesToResponse never returns nil so the field encodes as [] on the wire.
func (m *ChatMapper) MessagesToResponse(msgs []*entity.ChatMessage) []dto.MessageResponse {
	out := make([]dto.MessageResponse, 0, len(msgs))
	for _, e := range msgs {
		out = append(out, m.MessageToResponse(e))
	}
	return out
}
