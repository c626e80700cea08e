package presence

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterFactory func(t *testing.T) Counter

func backends() map[string]counterFactory {
	return map[string]counterFactory{
		"memory": func(t *testing.T) Counter { return NewMemoryCounter() },
		"redis": func(t *testing.T) Counter {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return NewRedisCounter(rdb)
		},
		"nats-kv": func(t *testing.T) Counter { return &NatsCounter{kv: newFakeKV()} },
	}
}

func TestCounterTransitions(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			c := NewCoordinator(factory(t), "worker-1")

			first, err := c.AddConnection(ctx, "u1", "worker-1:a")
			require.NoError(t, err)
			assert.True(t, first)

			first, err = c.AddConnection(ctx, "u1", "worker-1:b")
			require.NoError(t, err)
			assert.False(t, first)

			// duplicate registration is not a new connection
			first, err = c.AddConnection(ctx, "u1", "worker-1:b")
			require.NoError(t, err)
			assert.False(t, first)

			last, err := c.RemoveConnection(ctx, "u1", "worker-1:a")
			require.NoError(t, err)
			assert.False(t, last)

			online, err := c.IsConnected(ctx, "u1")
			require.NoError(t, err)
			assert.True(t, online)

			last, err = c.RemoveConnection(ctx, "u1", "worker-1:b")
			require.NoError(t, err)
			assert.True(t, last)

			// a second close of the same handle must not report again
			last, err = c.RemoveConnection(ctx, "u1", "worker-1:b")
			require.NoError(t, err)
			assert.False(t, last)

			online, err = c.IsConnected(ctx, "u1")
			require.NoError(t, err)
			assert.False(t, online)
		})
	}
}

func TestCounterSharedAcrossWorkers(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends() {
		if name == "memory" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			counter := factory(t)
			w1 := NewCoordinator(counter, "worker-1")
			w2 := NewCoordinator(counter, "worker-2")

			first, err := w1.AddConnection(ctx, "u1", "worker-1:a")
			require.NoError(t, err)
			assert.True(t, first)
			first, err = w2.AddConnection(ctx, "u1", "worker-2:a")
			require.NoError(t, err)
			assert.False(t, first)

			// worker-1 has no local socket left but the user is still online
			last, err := w1.RemoveConnection(ctx, "u1", "worker-1:a")
			require.NoError(t, err)
			assert.False(t, last)

			online, err := w1.IsConnected(ctx, "u1")
			require.NoError(t, err)
			assert.True(t, online)

			last, err = w2.RemoveConnection(ctx, "u1", "worker-2:a")
			require.NoError(t, err)
			assert.True(t, last)
		})
	}
}

func TestCounterReap(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			counter := factory(t)
			crashed := NewCoordinator(counter, "worker-1")
			healthy := NewCoordinator(counter, "worker-2")

			_, err := crashed.AddConnection(ctx, "alice", "worker-1:a1")
			require.NoError(t, err)
			_, err = crashed.AddConnection(ctx, "alice", "worker-1:a2")
			require.NoError(t, err)
			_, err = crashed.AddConnection(ctx, "bob", "worker-1:b1")
			require.NoError(t, err)
			_, err = healthy.AddConnection(ctx, "bob", "worker-2:b2")
			require.NoError(t, err)

			// the respawned process carries the same worker id
			gone, err := NewCoordinator(counter, "worker-1").Reap(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"alice"}, gone)

			online, err := healthy.IsConnected(ctx, "bob")
			require.NoError(t, err)
			assert.True(t, online)

			gone, err = crashed.Reap(ctx)
			require.NoError(t, err)
			assert.Empty(t, gone)
		})
	}
}

func TestConcurrentRemoversSeeExactlyOneLast(t *testing.T) {
	ctx := context.Background()
	const conns = 24

	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			counter := factory(t)
			workers := []*Coordinator{
				NewCoordinator(counter, "worker-1"),
				NewCoordinator(counter, "worker-2"),
				NewCoordinator(counter, "worker-3"),
			}

			var firsts int32
			var wg sync.WaitGroup
			for i := 0; i < conns; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					w := workers[i%len(workers)]
					first, err := w.AddConnection(ctx, "u1", fmt.Sprintf("%s:%d", w.WorkerId(), i))
					assert.NoError(t, err)
					if first {
						atomic.AddInt32(&firsts, 1)
					}
				}(i)
			}
			wg.Wait()
			assert.Equal(t, int32(1), firsts)

			var lasts int32
			for i := 0; i < conns; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					w := workers[i%len(workers)]
					last, err := w.RemoveConnection(ctx, "u1", fmt.Sprintf("%s:%d", w.WorkerId(), i))
					assert.NoError(t, err)
					if last {
						atomic.AddInt32(&lasts, 1)
					}
				}(i)
			}
			wg.Wait()
			assert.Equal(t, int32(1), lasts)
		})
	}
}

// TestNatsCounterLive runs against a real JetStream server when NATS_URL is set.
func TestNatsCounterLive(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	bucketName := fmt.Sprintf("presence_test_%d", time.Now().UnixNano())
	counter, err := OpenNatsCounter(ctx, js, bucketName)
	require.NoError(t, err)
	defer func() { _ = js.DeleteKeyValue(context.Background(), bucketName) }()

	c := NewCoordinator(counter, "worker-1")
	first, err := c.AddConnection(ctx, "u1", "worker-1:a")
	require.NoError(t, err)
	assert.True(t, first)

	last, err := c.RemoveConnection(ctx, "u1", "worker-1:a")
	require.NoError(t, err)
	assert.True(t, last)
}
