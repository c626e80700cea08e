package presence

import (
	"context"
	"sort"
	"sync"
)

// MemoryCounter only sees the connections of its own process. It is valid
// for a one-worker pool; config validation refuses it otherwise.
type MemoryCounter struct {
	mu      sync.Mutex
	users   map[string]map[string]struct{}
	workers map[string]map[string]string // workerId -> connId -> userId
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		users:   make(map[string]map[string]struct{}),
		workers: make(map[string]map[string]string),
	}
}

func (c *MemoryCounter) Add(ctx context.Context, workerId, userId, connId string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conns, ok := c.users[userId]
	if !ok {
		conns = make(map[string]struct{})
		c.users[userId] = conns
	}
	_, exists := conns[connId]
	conns[connId] = struct{}{}

	w, ok := c.workers[workerId]
	if !ok {
		w = make(map[string]string)
		c.workers[workerId] = w
	}
	w[connId] = userId

	return int64(len(conns)), !exists, nil
}

func (c *MemoryCounter) Remove(ctx context.Context, workerId, userId, connId string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.workers[workerId]; ok {
		delete(w, connId)
	}
	return c.removeLocked(userId, connId)
}

func (c *MemoryCounter) removeLocked(userId, connId string) (int64, bool, error) {
	conns, ok := c.users[userId]
	if !ok {
		return 0, false, nil
	}
	_, exists := conns[connId]
	delete(conns, connId)
	n := len(conns)
	if n == 0 {
		delete(c.users, userId)
	}
	return int64(n), exists, nil
}

func (c *MemoryCounter) Count(ctx context.Context, userId string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.users[userId])), nil
}

func (c *MemoryCounter) Reap(ctx context.Context, workerId string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	gone := make(map[string]struct{})
	for connId, userId := range c.workers[workerId] {
		n, removed, _ := c.removeLocked(userId, connId)
		if removed && n == 0 {
			gone[userId] = struct{}{}
		}
	}
	delete(c.workers, workerId)

	out := make([]string, 0, len(gone))
	for userId := range gone {
		out = append(out, userId)
	}
	sort.Strings(out)
	return out, nil
}
