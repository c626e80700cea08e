// Package presence tracks which users hold at least one live connection
// anywhere in the worker pool.
package presence

import (
	"context"
	"errors"
)

var ErrContention = errors.New("presence: too many concurrent updates")

// Counter stores the pool-wide connection set of every user. Add and Remove
// are atomic per user and report the set size after the operation, so of
// several concurrent removers exactly one observes zero.
type Counter interface {
	Add(ctx context.Context, workerId, userId, connId string) (count int64, added bool, err error)
	Remove(ctx context.Context, workerId, userId, connId string) (count int64, removed bool, err error)
	Count(ctx context.Context, userId string) (int64, error)
	// Reap drops every connection registered by workerId and returns the
	// users left with no connection at all.
	Reap(ctx context.Context, workerId string) ([]string, error)
}
