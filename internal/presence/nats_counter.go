package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/nats-io/nats.go/jetstream"
)

const maxCASAttempts = 32

// kvStore is the part of a JetStream KeyValue bucket the counter needs.
type kvStore interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
}

type bucket struct {
	kv jetstream.KeyValue
}

func (b bucket) Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	return b.kv.Get(ctx, key)
}

func (b bucket) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return b.kv.Create(ctx, key, value)
}

func (b bucket) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	return b.kv.Update(ctx, key, value, revision)
}

// NatsCounter keeps presence in a JetStream KeyValue bucket. Key u.<userId>
// holds the user's connection ids, key w.<workerId> maps connection ids to
// users for crash cleanup. Every write is a compare-and-swap on the key
// revision, retried on conflict.
type NatsCounter struct {
	kv kvStore
}

func NewNatsCounter(kv jetstream.KeyValue) *NatsCounter {
	return &NatsCounter{kv: bucket{kv: kv}}
}

// OpenNatsCounter creates the bucket when it does not exist yet.
func OpenNatsCounter(ctx context.Context, js jetstream.JetStream, bucketName string) (*NatsCounter, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucketName,
		Description: "pool-wide websocket presence",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("open presence bucket %s: %w", bucketName, err)
	}
	return NewNatsCounter(kv), nil
}

func userKey(userId string) string     { return "u." + userId }
func workerKey(workerId string) string { return "w." + workerId }

func (c *NatsCounter) Add(ctx context.Context, workerId, userId, connId string) (int64, bool, error) {
	// worker map first: a crash between the two writes leaves only an
	// entry Reap can ignore
	if err := c.updateWorker(ctx, workerId, func(m map[string]string) { m[connId] = userId }); err != nil {
		return 0, false, err
	}

	var count int64
	var added bool
	err := c.updateUser(ctx, userId, func(conns []string) []string {
		count, added = int64(len(conns)), false
		for _, id := range conns {
			if id == connId {
				return conns
			}
		}
		conns = append(conns, connId)
		count, added = int64(len(conns)), true
		return conns
	})
	return count, added, err
}

func (c *NatsCounter) Remove(ctx context.Context, workerId, userId, connId string) (int64, bool, error) {
	count, removed, err := c.removeConn(ctx, userId, connId)
	if err != nil {
		return 0, false, err
	}
	if err := c.updateWorker(ctx, workerId, func(m map[string]string) { delete(m, connId) }); err != nil {
		return count, removed, err
	}
	return count, removed, nil
}

func (c *NatsCounter) removeConn(ctx context.Context, userId, connId string) (int64, bool, error) {
	var count int64
	var removed bool
	err := c.updateUser(ctx, userId, func(conns []string) []string {
		removed = false
		kept := conns[:0:0]
		for _, id := range conns {
			if id == connId {
				removed = true
				continue
			}
			kept = append(kept, id)
		}
		count = int64(len(kept))
		return kept
	})
	return count, removed, err
}

func (c *NatsCounter) Count(ctx context.Context, userId string) (int64, error) {
	conns, _, err := c.readUser(ctx, userId)
	if err != nil {
		return 0, err
	}
	return int64(len(conns)), nil
}

func (c *NatsCounter) Reap(ctx context.Context, workerId string) ([]string, error) {
	entry, err := c.kv.Get(ctx, workerKey(workerId))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("presence reap %s: %w", workerId, err)
	}
	owned, err := decodeWorker(entry.Value())
	if err != nil {
		return nil, err
	}

	gone := make(map[string]struct{})
	for connId, userId := range owned {
		n, removed, err := c.removeConn(ctx, userId, connId)
		if err != nil {
			return nil, err
		}
		if removed && n == 0 {
			gone[userId] = struct{}{}
		}
	}

	if err := c.updateWorker(ctx, workerId, func(m map[string]string) {
		for connId := range owned {
			delete(m, connId)
		}
	}); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(gone))
	for userId := range gone {
		out = append(out, userId)
	}
	sort.Strings(out)
	return out, nil
}

func (c *NatsCounter) readUser(ctx context.Context, userId string) ([]string, uint64, error) {
	entry, err := c.kv.Get(ctx, userKey(userId))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("presence read %s: %w", userId, err)
	}
	var conns []string
	if len(entry.Value()) > 0 {
		if err := json.Unmarshal(entry.Value(), &conns); err != nil {
			return nil, 0, fmt.Errorf("decode presence of %s: %w", userId, err)
		}
	}
	return conns, entry.Revision(), nil
}

func (c *NatsCounter) updateUser(ctx context.Context, userId string, mutate func([]string) []string) error {
	key := userKey(userId)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		conns, rev, err := c.readUser(ctx, userId)
		if err != nil {
			return err
		}
		next := mutate(conns)
		if next == nil {
			next = []string{}
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		err = c.swap(ctx, key, raw, rev)
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return fmt.Errorf("presence write %s: %w", userId, err)
		}
	}
	return ErrContention
}

func (c *NatsCounter) updateWorker(ctx context.Context, workerId string, mutate func(map[string]string)) error {
	key := workerKey(workerId)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var (
			rev   uint64
			owned = map[string]string{}
		)
		entry, err := c.kv.Get(ctx, key)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("presence read worker %s: %w", workerId, err)
		default:
			rev = entry.Revision()
			if owned, err = decodeWorker(entry.Value()); err != nil {
				return err
			}
		}

		mutate(owned)
		raw, err := json.Marshal(owned)
		if err != nil {
			return err
		}
		err = c.swap(ctx, key, raw, rev)
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return fmt.Errorf("presence write worker %s: %w", workerId, err)
		}
	}
	return ErrContention
}

// swap writes value only if key is still at revision rev (0: absent).
func (c *NatsCounter) swap(ctx context.Context, key string, value []byte, rev uint64) error {
	var err error
	if rev == 0 {
		_, err = c.kv.Create(ctx, key, value)
	} else {
		_, err = c.kv.Update(ctx, key, value, rev)
	}
	return err
}

func decodeWorker(raw []byte) (map[string]string, error) {
	owned := map[string]string{}
	if len(raw) == 0 {
		return owned, nil
	}
	if err := json.Unmarshal(raw, &owned); err != nil {
		return nil, fmt.Errorf("decode worker presence: %w", err)
	}
	return owned, nil
}

func isConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
