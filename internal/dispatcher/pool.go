package dispatcher

import (
	"fmt"
	"strconv"
	"sync/atomic"
)

// Worker is one supervised worker slot. The process behind it changes across
// restarts, the slot identity does not.
type Worker struct {
	ID    string
	Index int
	Port  int
	Addr  string

	active atomic.Int64
	alive  atomic.Bool
}

func (w *Worker) Active() int64 { return w.active.Load() }
func (w *Worker) Alive() bool   { return w.alive.Load() }

func (w *Worker) SetAlive(alive bool) { w.alive.Store(alive) }

type Pool struct {
	workers []*Worker
	byID    map[string]*Worker
}

// NewPool lays out count workers on consecutive ports starting at basePort.
func NewPool(count, basePort int) *Pool {
	p := &Pool{byID: make(map[string]*Worker, count)}
	for i := 0; i < count; i++ {
		port := basePort + i
		w := &Worker{
			ID:    fmt.Sprintf("worker-%d", i),
			Index: i,
			Port:  port,
			Addr:  "127.0.0.1:" + strconv.Itoa(port),
		}
		p.workers = append(p.workers, w)
		p.byID[w.ID] = w
	}
	return p
}

func (p *Pool) Workers() []*Worker { return p.workers }

func (p *Pool) Get(id string) (*Worker, bool) {
	w, ok := p.byID[id]
	return w, ok
}

func (p *Pool) Live() []*Worker {
	live := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		if w.Alive() {
			live = append(live, w)
		}
	}
	return live
}
