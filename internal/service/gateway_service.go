package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"realtime-chat-be/internal/dto"
	"realtime-chat-be/internal/entity"
	"realtime-chat-be/internal/mapper"
	"realtime-chat-be/internal/metrics"
	"realtime-chat-be/internal/pkg/logger"
	"realtime-chat-be/internal/repository/contract"
	ws "realtime-chat-be/internal/websocket"
	"realtime-chat-be/pkg/events"

	"github.com/google/uuid"
)

const (
	ReasonInvalidSession  = "invalid-session"
	ReasonInvalidUsername = "invalid-username"
)

// AuthError rejects a handshake before the socket is admitted.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

// Handshake is what a client presents on the upgrade request.
type Handshake struct {
	SessionId string
	Username  string
}

// MessageDelivery is implemented by the websocket hub.
type MessageDelivery interface {
	Register(c *ws.Client)
	Unregister(c *ws.Client) bool
	SendToUser(ctx context.Context, userId string, frame json.RawMessage) error
	Broadcast(ctx context.Context, frame json.RawMessage, exceptUser string) error
	WorkerId() string
}

// PresenceCoordinator answers pool-wide liveness.
type PresenceCoordinator interface {
	AddConnection(ctx context.Context, userId, connId string) (first bool, err error)
	RemoveConnection(ctx context.Context, userId, connId string) (last bool, err error)
	IsConnected(ctx context.Context, userId string) (bool, error)
	Reap(ctx context.Context) ([]string, error)
}

type IGatewayService interface {
	Authenticate(ctx context.Context, h Handshake) (*entity.Identity, error)
	Accept(ctx context.Context, identity *entity.Identity, conn ws.Conn) (*ws.Client, error)
	Disconnect(ctx context.Context, client *ws.Client)
	RecoverWorker(ctx context.Context) error
	IsOnline(ctx context.Context, userId string) (bool, error)
}

type GatewayOptions struct {
	MaxUsernameLength int
	SendQueueSize     int
}

type gatewayService struct {
	sessions contract.ChatSessionRepository
	messages contract.ChatMessageRepository
	presence PresenceCoordinator
	delivery MessageDelivery
	mapper   *mapper.ChatMapper
	opts     GatewayOptions
	logger   logger.ILogger
	metrics  *metrics.Metrics
}

func NewGatewayService(
	sessions contract.ChatSessionRepository,
	messages contract.ChatMessageRepository,
	presence PresenceCoordinator,
	delivery MessageDelivery,
	opts GatewayOptions,
	log logger.ILogger,
	m *metrics.Metrics,
) IGatewayService {
	return &gatewayService{
		sessions: sessions,
		messages: messages,
		presence: presence,
		delivery: delivery,
		mapper:   mapper.NewChatMapper(),
		opts:     opts,
		logger:   log,
		metrics:  m,
	}
}

// Authenticate resolves or mints an identity. It mutates nothing: a rejected
// handshake leaves no trace.
func (s *gatewayService) Authenticate(ctx context.Context, h Handshake) (*entity.Identity, error) {
	if h.SessionId != "" {
		session, err := s.sessions.Get(ctx, h.SessionId)
		if err != nil {
			return nil, fmt.Errorf("lookup session: %w", err)
		}
		if session == nil {
			s.metrics.RecordHandshake("rejected")
			return nil, &AuthError{Reason: ReasonInvalidSession}
		}
		return &entity.Identity{
			SessionId: session.SessionId,
			UserId:    session.UserId,
			Username:  session.Username,
			Resumed:   true,
		}, nil
	}

	username := strings.TrimSpace(h.Username)
	if username == "" || utf8.RuneCountInString(username) > s.opts.MaxUsernameLength {
		s.metrics.RecordHandshake("rejected")
		return nil, &AuthError{Reason: ReasonInvalidUsername}
	}

	return &entity.Identity{
		SessionId: uuid.NewString(),
		UserId:    uuid.NewString(),
		Username:  username,
	}, nil
}

func (s *gatewayService) Accept(ctx context.Context, identity *entity.Identity, conn ws.Conn) (*ws.Client, error) {
	connId := s.delivery.WorkerId() + ":" + uuid.NewString()
	client := ws.NewClient(conn, connId, identity.UserId, identity.SessionId, identity.Username, s.opts.SendQueueSize)

	s.delivery.Register(client)
	first, err := s.presence.AddConnection(ctx, identity.UserId, connId)
	if err != nil {
		client.Close()
		s.delivery.Unregister(client)
		return nil, fmt.Errorf("register presence: %w", err)
	}
	if first {
		s.metrics.RecordPresence(true)
	}

	// saved after presence so a connected session always has a socket behind it
	if err := s.sessions.Put(ctx, identity.Session(true)); err != nil {
		s.rollback(ctx, client, false)
		return nil, fmt.Errorf("save session: %w", err)
	}

	roster, err := s.roster(ctx, identity.UserId)
	if err != nil {
		s.rollback(ctx, client, true)
		return nil, err
	}
	if err := client.Emit(events.Users, roster); err != nil {
		s.rollback(ctx, client, true)
		return nil, err
	}
	if err := client.Emit(events.Session, s.mapper.SessionToResponse(identity.Session(true))); err != nil {
		s.rollback(ctx, client, true)
		return nil, err
	}

	frame, err := ws.EncodeFrame(events.UserConnected, dto.UserPresenceResponse{UserId: identity.UserId, Username: identity.Username})
	if err != nil {
		s.rollback(ctx, client, true)
		return nil, err
	}
	if err := s.delivery.Broadcast(ctx, frame, identity.UserId); err != nil {
		// local sockets already have it; remote workers miss one notice
		s.logger.Warn("GatewayService", "Failed to fan out user connected", map[string]interface{}{"error": err.Error(), "user_id": identity.UserId})
	}

	s.metrics.RecordHandshake("accepted")
	s.logger.Info("GatewayService", "Connection accepted", map[string]interface{}{
		"user_id":    identity.UserId,
		"conn_id":    connId,
		"resumed":    identity.Resumed,
		"first_conn": first,
	})
	return client, nil
}

// rollback undoes a half-accepted socket. Peers never got a connect notice
// for it, so going offline here is silent.
func (s *gatewayService) rollback(ctx context.Context, client *ws.Client, saved bool) {
	client.Close()
	if !s.delivery.Unregister(client) {
		return
	}
	last, err := s.presence.RemoveConnection(ctx, client.UserID, client.ID)
	if err != nil {
		s.logger.Error("GatewayService", "Failed to remove presence", map[string]interface{}{"error": err.Error(), "user_id": client.UserID, "conn_id": client.ID})
		return
	}
	if last {
		s.metrics.RecordPresence(false)
		if saved {
			s.settleOffline(ctx, client.UserID, client.Username, client.SessionID, false)
		}
	}
}

// Disconnect unregisters the socket. Only the removal that empties the
// user's pool-wide connection set announces the user as offline.
func (s *gatewayService) Disconnect(ctx context.Context, client *ws.Client) {
	client.Close()
	if !s.delivery.Unregister(client) {
		return
	}

	last, err := s.presence.RemoveConnection(ctx, client.UserID, client.ID)
	if err != nil {
		s.logger.Error("GatewayService", "Failed to remove presence", map[string]interface{}{"error": err.Error(), "user_id": client.UserID, "conn_id": client.ID})
		return
	}
	if !last {
		return
	}

	s.markOffline(ctx, client.UserID, client.Username, client.SessionID)
}

func (s *gatewayService) markOffline(ctx context.Context, userId, username, sessionId string) {
	s.metrics.RecordPresence(false)
	s.settleOffline(ctx, userId, username, sessionId, true)
}

// settleOffline records the user as offline, then looks at the pool-wide set
// again: a resume that landed while this ran has already saved the session as
// connected, and must not be overwritten.
func (s *gatewayService) settleOffline(ctx context.Context, userId, username, sessionId string, announce bool) {
	presence := dto.UserPresenceResponse{UserId: userId, Username: username}
	if announce {
		s.broadcast(ctx, events.UserDisconnected, presence)
	}

	session := &entity.ChatSession{SessionId: sessionId, UserId: userId, Username: username, Connected: false}
	if err := s.sessions.Put(ctx, session); err != nil {
		s.logger.Error("GatewayService", "Failed to mark session offline", map[string]interface{}{"error": err.Error(), "session_id": sessionId})
	}

	online, err := s.presence.IsConnected(ctx, userId)
	if err != nil {
		s.logger.Error("GatewayService", "Failed to recheck presence", map[string]interface{}{"error": err.Error(), "user_id": userId})
		return
	}
	if !online {
		return
	}

	session.Connected = true
	if err := s.sessions.Put(ctx, session); err != nil {
		s.logger.Error("GatewayService", "Failed to restore session online", map[string]interface{}{"error": err.Error(), "session_id": sessionId})
	}
	if announce {
		s.broadcast(ctx, events.UserConnected, presence)
	}
	s.logger.Info("GatewayService", "User reconnected while going offline", map[string]interface{}{"user_id": userId})
}

func (s *gatewayService) broadcast(ctx context.Context, name string, payload dto.UserPresenceResponse) {
	frame, err := ws.EncodeFrame(name, payload)
	if err == nil {
		err = s.delivery.Broadcast(ctx, frame, payload.UserId)
	}
	if err != nil {
		s.logger.Warn("GatewayService", "Failed to fan out "+name, map[string]interface{}{"error": err.Error(), "user_id": payload.UserId})
	}
}

// RecoverWorker clears presence entries a crashed predecessor with the same
// worker id left behind, and announces the users that went offline with it.
func (s *gatewayService) RecoverWorker(ctx context.Context) error {
	gone, err := s.presence.Reap(ctx)
	if err != nil {
		return fmt.Errorf("reap presence: %w", err)
	}
	if len(gone) == 0 {
		return nil
	}

	all, err := s.sessions.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	goneSet := make(map[string]struct{}, len(gone))
	for _, userId := range gone {
		goneSet[userId] = struct{}{}
	}
	for _, session := range all {
		if _, ok := goneSet[session.UserId]; ok {
			s.markOffline(ctx, session.UserId, session.Username, session.SessionId)
		}
	}

	s.logger.Info("GatewayService", "Reaped presence of previous worker", map[string]interface{}{"users": gone})
	return nil
}

func (s *gatewayService) IsOnline(ctx context.Context, userId string) (bool, error) {
	return s.presence.IsConnected(ctx, userId)
}

// roster lists every other known user with live presence and the private
// history shared with userId.
func (s *gatewayService) roster(ctx context.Context, userId string) ([]dto.UserResponse, error) {
	all, err := s.sessions.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	mine, err := s.messages.FindFor(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	grouped := entity.GroupByCounterpart(userId, mine)

	seen := make(map[string]struct{}, len(all))
	users := make([]dto.UserResponse, 0, len(all))
	for _, session := range all {
		if session.UserId == userId {
			continue
		}
		if _, dup := seen[session.UserId]; dup {
			continue
		}
		seen[session.UserId] = struct{}{}

		online, err := s.presence.IsConnected(ctx, session.UserId)
		if err != nil {
			return nil, fmt.Errorf("presence of %s: %w", session.UserId, err)
		}
		users = append(users, dto.UserResponse{
			UserId:    session.UserId,
			Username:  session.Username,
			Connected: online,
			Messages:  s.mapper.MessagesToResponse(grouped[session.UserId]),
		})
	}

	sort.SliceStable(users, func(i, j int) bool {
		if users[i].Username != users[j].Username {
			return users[i].Username < users[j].Username
		}
		return users[i].UserId < users[j].UserId
	})
	return users, nil
}
