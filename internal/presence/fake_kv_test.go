package presence

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// fakeKV mimics the revision semantics of a JetStream KeyValue bucket.
type fakeKV struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]fakeEntry
}

type fakeEntry struct {
	key      string
	value    []byte
	revision uint64
	created  time.Time
}

func newFakeKV() *fakeKV {
	return &fakeKV{entries: make(map[string]fakeEntry)}
}

func (f *fakeKV) Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return e, nil
}

func (f *fakeKV) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[key]; ok {
		return 0, jetstream.ErrKeyExists
	}
	return f.putLocked(key, value), nil
}

func (f *fakeKV) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok || e.revision != revision {
		return 0, &jetstream.APIError{
			Code:        400,
			ErrorCode:   jetstream.JSErrCodeStreamWrongLastSequence,
			Description: "wrong last sequence",
		}
	}
	return f.putLocked(key, value), nil
}

func (f *fakeKV) putLocked(key string, value []byte) uint64 {
	f.seq++
	f.entries[key] = fakeEntry{
		key:      key,
		value:    append([]byte(nil), value...),
		revision: f.seq,
		created:  time.Now(),
	}
	return f.seq
}

func (e fakeEntry) Bucket() string                  { return "presence" }
func (e fakeEntry) Key() string                     { return e.key }
func (e fakeEntry) Value() []byte                   { return e.value }
func (e fakeEntry) Revision() uint64                { return e.revision }
func (e fakeEntry) Created() time.Time              { return e.created }
func (e fakeEntry) Delta() uint64                   { return 0 }
func (e fakeEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }
