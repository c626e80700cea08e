package dispatcher

import (
	"errors"
	"hash/fnv"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	// AffinityCookie names the worker that accepted the browser's last socket.
	AffinityCookie = "chat_worker"

	sessionQueryParam = "sessionId"
	sessionHeader     = "X-Session-Id"
)

var ErrNoWorker = errors.New("no live worker")

type Picker interface {
	Pick(r *http.Request) (*Worker, error)
	Remember(sessionId string, w *Worker)
}

// StickyPicker keeps every socket of a session on the worker that first
// accepted it, falling back to the least loaded live worker.
type StickyPicker struct {
	pool     *Pool
	affinity *cache.Cache
}

func NewStickyPicker(pool *Pool, ttl time.Duration) *StickyPicker {
	return &StickyPicker{
		pool:     pool,
		affinity: cache.New(ttl, ttl/2+time.Minute),
	}
}

func (p *StickyPicker) Remember(sessionId string, w *Worker) {
	if sessionId == "" || w == nil {
		return
	}
	p.affinity.SetDefault(sessionId, w.ID)
}

func (p *StickyPicker) Pick(r *http.Request) (*Worker, error) {
	sessionId := sessionOf(r)

	if sessionId != "" {
		if id, ok := p.affinity.Get(sessionId); ok {
			if w := p.liveByID(id.(string)); w != nil {
				return w, nil
			}
		}
	}

	if cookie, err := r.Cookie(AffinityCookie); err == nil {
		if w := p.liveByID(cookie.Value); w != nil {
			return w, nil
		}
	}

	// A resumed session nobody here has seen, e.g. after a dispatcher restart.
	if sessionId != "" {
		workers := p.pool.Workers()
		if len(workers) > 0 {
			if w := workers[hashIndex(sessionId, len(workers))]; w.Alive() {
				return w, nil
			}
		}
	}

	return p.leastLoaded()
}

func (p *StickyPicker) liveByID(id string) *Worker {
	w, ok := p.pool.Get(id)
	if !ok || !w.Alive() {
		return nil
	}
	return w
}

func (p *StickyPicker) leastLoaded() (*Worker, error) {
	var best *Worker
	for _, w := range p.pool.Live() {
		if best == nil || w.Active() < best.Active() {
			best = w
		}
	}
	if best == nil {
		return nil, ErrNoWorker
	}
	return best, nil
}

func sessionOf(r *http.Request) string {
	if id := r.URL.Query().Get(sessionQueryParam); id != "" {
		return id
	}
	return r.Header.Get(sessionHeader)
}

func hashIndex(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
