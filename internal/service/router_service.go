package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"realtime-chat-be/internal/dto"
	"realtime-chat-be/internal/entity"
	"realtime-chat-be/internal/mapper"
	"realtime-chat-be/internal/metrics"
	"realtime-chat-be/internal/pkg/logger"
	"realtime-chat-be/internal/repository/contract"
	ws "realtime-chat-be/internal/websocket"
	"realtime-chat-be/pkg/events"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownEvent    = errors.New("unknown event")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrMessageTooLarge = errors.New("message too large")
)

type IRouterService interface {
	// HandleFrame processes one inbound frame of client. Failures are
	// reported to the client as an "error" event; they never close it.
	HandleFrame(ctx context.Context, client *ws.Client, frame []byte)
}

type RouterOptions struct {
	MaxMessageLength int
}

type routerService struct {
	sessions contract.ChatSessionRepository
	messages contract.ChatMessageRepository
	delivery MessageDelivery
	validate *validator.Validate
	mapper   *mapper.ChatMapper
	opts     RouterOptions
	logger   logger.ILogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewRouterService(
	sessions contract.ChatSessionRepository,
	messages contract.ChatMessageRepository,
	delivery MessageDelivery,
	opts RouterOptions,
	log logger.ILogger,
	m *metrics.Metrics,
) IRouterService {
	return &routerService{
		sessions: sessions,
		messages: messages,
		delivery: delivery,
		validate: validator.New(),
		mapper:   mapper.NewChatMapper(),
		opts:     opts,
		logger:   log,
		metrics:  m,
		// stores keep milliseconds; live frames must match history
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

func (s *routerService) HandleFrame(ctx context.Context, client *ws.Client, frame []byte) {
	event, err := events.Decode(frame)
	if err != nil {
		s.reject(client, "", err)
		return
	}

	switch event.Name {
	case events.PrivateMessage:
		err = s.privateMessage(ctx, client, event.Data)
	case events.UserMessages:
		err = s.userMessages(ctx, client, event.Data)
	case events.NewMessage:
		err = s.newMessage(ctx, client, event.Data)
	default:
		err = ErrUnknownEvent
	}

	if err != nil {
		s.reject(client, event.Name, err)
		return
	}
	s.metrics.RecordFrame(event.Name)
}

func (s *routerService) reject(client *ws.Client, name string, cause error) {
	s.logger.Warn("RouterService", "Rejected frame", map[string]interface{}{
		"event":   name,
		"error":   cause.Error(),
		"user_id": client.UserID,
	})
	_ = client.Emit(events.Error, dto.ErrorResponse{Event: name, Error: cause.Error()})
}

// privateMessage stores first, then delivers to whatever sockets the
// recipient has. An offline recipient finds it in the history later.
func (s *routerService) privateMessage(ctx context.Context, client *ws.Client, data json.RawMessage) error {
	var req dto.PrivateMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if utf8.RuneCountInString(req.Content) > s.opts.MaxMessageLength {
		return ErrMessageTooLarge
	}

	msg := &entity.ChatMessage{
		From:      client.UserID,
		To:        req.To,
		Content:   req.Content,
		Timestamp: s.now(),
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		return fmt.Errorf("store message: %w", err)
	}

	frame, err := ws.EncodeFrame(events.PrivateMessage, s.mapper.MessageToResponse(msg))
	if err != nil {
		return err
	}
	if err := s.delivery.SendToUser(ctx, req.To, frame); err != nil {
		// stored already; the recipient still sees it through history
		s.logger.Warn("RouterService", "Private message stored but not fanned out", map[string]interface{}{"error": err.Error(), "to": req.To})
	}
	return nil
}

func (s *routerService) userMessages(ctx context.Context, client *ws.Client, data json.RawMessage) error {
	var req dto.UserMessagesRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	history, err := s.messages.FindBetween(ctx, client.UserID, req.UserId)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	username, err := s.usernameOf(ctx, req.UserId)
	if err != nil {
		return err
	}

	return client.Emit(events.UserMessages, dto.UserMessagesResponse{
		UserId:   req.UserId,
		Username: username,
		Messages: s.mapper.MessagesToResponse(history),
	})
}

func (s *routerService) usernameOf(ctx context.Context, userId string) (string, error) {
	all, err := s.sessions.ListAll(ctx)
	if err != nil {
		return "", fmt.Errorf("list sessions: %w", err)
	}
	for _, session := range all {
		if session.UserId == userId {
			return session.Username, nil
		}
	}
	return "", nil
}

// newMessage relays any payload to everyone else, unchanged.
func (s *routerService) newMessage(ctx context.Context, client *ws.Client, data json.RawMessage) error {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	if len(data) > s.opts.MaxMessageLength {
		return ErrMessageTooLarge
	}
	frame, err := ws.EncodeFrame(events.NewMessage, dto.NewMessageResponse{
		UserId:   client.UserID,
		Username: client.Username,
		Message:  data,
	})
	if err != nil {
		return err
	}
	if err := s.delivery.Broadcast(ctx, frame, client.UserID); err != nil {
		s.logger.Warn("RouterService", "New message reached local sockets only", map[string]interface{}{"error": err.Error()})
	}
	return nil
}
