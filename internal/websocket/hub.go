package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"realtime-chat-be/internal/metrics"
	"realtime-chat-be/internal/pkg/logger"
	"realtime-chat-be/pkg/events"
)

// Hub owns the sockets of one worker and delivers frames to them. Frames
// for users connected elsewhere in the pool travel over the bus.
type Hub struct {
	workerId string

	// UserID -> live clients (multi-device)
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	bus     Bus
	logger  logger.ILogger
	metrics *metrics.Metrics
}

func NewHub(workerId string, bus Bus, log logger.ILogger, m *metrics.Metrics) *Hub {
	return &Hub{
		workerId: workerId,
		clients:  make(map[string]map[*Client]struct{}),
		bus:      bus,
		logger:   log,
		metrics:  m,
	}
}

func (h *Hub) WorkerId() string {
	return h.workerId
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	h.metrics.ConnectionOpened()
	h.logger.Info("Hub", "Client registered", map[string]interface{}{"user_id": c.UserID, "conn_id": c.ID})
}

// Unregister reports whether c was still registered.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	set, ok := h.clients[c.UserID]
	if ok {
		_, ok = set[c]
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.UserID)
		}
	}
	h.mu.Unlock()

	if ok {
		h.metrics.ConnectionClosed()
		h.logger.Info("Hub", "Client unregistered", map[string]interface{}{"user_id": c.UserID, "conn_id": c.ID})
	}
	return ok
}

// SendToUser delivers frame to every socket of userId in the pool.
func (h *Hub) SendToUser(ctx context.Context, userId string, frame json.RawMessage) error {
	h.deliver(userId, "", frame)
	return h.publish(ctx, events.Envelope{TargetUser: userId, Message: frame})
}

// Broadcast delivers frame to every socket in the pool except those of exceptUser.
func (h *Hub) Broadcast(ctx context.Context, frame json.RawMessage, exceptUser string) error {
	h.deliver(events.Everyone, exceptUser, frame)
	return h.publish(ctx, events.Envelope{TargetUser: events.Everyone, ExceptUser: exceptUser, Message: frame})
}

func (h *Hub) publish(ctx context.Context, env events.Envelope) error {
	if h.bus == nil {
		return nil
	}
	env.Origin = h.workerId
	if err := h.bus.Publish(ctx, env); err != nil {
		h.logger.Error("Hub", "Cluster publish failed", map[string]interface{}{"error": err.Error(), "target_user_id": env.TargetUser})
		return err
	}
	return nil
}

// Listen subscribes to the bus. It returns once the subscription is live.
func (h *Hub) Listen(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	return h.bus.Subscribe(ctx, h.handleEnvelope)
}

func (h *Hub) handleEnvelope(env events.Envelope) {
	// already delivered locally before publishing
	if env.Origin == h.workerId {
		return
	}
	h.deliver(env.TargetUser, env.ExceptUser, env.Message)
}

func (h *Hub) deliver(target, except string, frame []byte) {
	var slow []*Client

	h.mu.RLock()
	if target == events.Everyone {
		for userId, set := range h.clients {
			if userId == except {
				continue
			}
			slow = enqueueAll(set, frame, slow)
		}
	} else if target != except {
		slow = enqueueAll(h.clients[target], frame, slow)
	}
	h.mu.RUnlock()

	// Close outside the lock; the read pump exit unregisters the client.
	for _, c := range slow {
		h.metrics.RecordSlowConsumer()
		h.logger.Warn("Hub", "Client send buffer full, dropping client", map[string]interface{}{"user_id": c.UserID, "conn_id": c.ID})
		c.Close()
	}
}

func enqueueAll(set map[*Client]struct{}, frame []byte, slow []*Client) []*Client {
	for c := range set {
		if !c.Enqueue(frame) {
			select {
			case <-c.Done():
			default:
				slow = append(slow, c)
			}
		}
	}
	return slow
}

func (h *Hub) LocalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

func (h *Hub) LocalUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll drops every local socket, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	all := make([]*Client, 0)
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.Close()
	}
}
