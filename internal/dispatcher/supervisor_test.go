package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"realtime-chat-be/internal/metrics"
	"realtime-chat-be/internal/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	exit chan error
}

func (p *fakeProcess) Wait() error { return <-p.exit }

// crashingLauncher hands out processes that die straight away.
type crashingLauncher struct {
	launches atomic.Int32
}

func (l *crashingLauncher) Launch(ctx context.Context, w *Worker) (Process, error) {
	l.launches.Add(1)
	p := &fakeProcess{exit: make(chan error, 1)}
	p.exit <- errors.New("boom")
	return p, nil
}

func fastOptions() SupervisorOptions {
	return SupervisorOptions{
		InitialBackoff:       time.Millisecond,
		MaxBackoff:           2 * time.Millisecond,
		StableAfter:          time.Hour,
		MaxRestartsPerMinute: 3,
	}
}

func TestSupervisorBreakerTrips(t *testing.T) {
	pool := NewPool(1, 4100)
	launcher := &crashingLauncher{}
	m := metrics.New("dispatcher")
	sup := NewSupervisor(pool, launcher.Launch, fastOptions(), logger.NewNopLogger(), m)

	done := make(chan struct{})
	go func() {
		sup.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor kept restarting past the breaker")
	}

	// first start plus three restarts
	assert.Equal(t, int32(4), launcher.launches.Load())
	assert.False(t, pool.Workers()[0].Alive())
	expected := `
# HELP chat_worker_restarts_total Worker respawns performed by the supervisor.
# TYPE chat_worker_restarts_total counter
chat_worker_restarts_total{worker="worker-0"} 3
# HELP chat_worker_up 1 while the worker process is running.
# TYPE chat_worker_up gauge
chat_worker_up{worker="worker-0"} 0
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"chat_worker_restarts_total", "chat_worker_up"))
}

func TestSupervisorKeepsWorkerAliveWhileRunning(t *testing.T) {
	pool := NewPool(2, 4100)
	var launches sync.Map

	launch := func(ctx context.Context, w *Worker) (Process, error) {
		p := &fakeProcess{exit: make(chan error, 1)}
		go func() {
			<-ctx.Done()
			p.exit <- ctx.Err()
		}()
		launches.Store(w.ID, true)
		return p, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	sup := NewSupervisor(pool, launch, fastOptions(), logger.NewNopLogger(), nil)
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(pool.Live()) == 2 }, 2*time.Second, 5*time.Millisecond)
	_, ok := launches.Load("worker-1")
	assert.True(t, ok)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop on cancel")
	}
	assert.Empty(t, pool.Live())
}

func TestSupervisorWaitsForReadiness(t *testing.T) {
	pool := NewPool(1, 4100)
	ready := make(chan struct{})
	opts := fastOptions()
	opts.ReadyCheck = func(ctx context.Context, w *Worker) error {
		select {
		case <-ready:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	launch := func(ctx context.Context, w *Worker) (Process, error) {
		p := &fakeProcess{exit: make(chan error, 1)}
		go func() {
			<-ctx.Done()
			p.exit <- nil
		}()
		return p, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewSupervisor(pool, launch, opts, logger.NewNopLogger(), nil).Run(ctx)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, pool.Workers()[0].Alive())

	close(ready)
	require.Eventually(t, func() bool { return pool.Workers()[0].Alive() }, time.Second, 5*time.Millisecond)
}

func TestHTTPReadyCheck(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" || calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := &Worker{ID: "worker-0", Addr: strings.TrimPrefix(srv.URL, "http://")}
	check := HTTPReadyCheck(srv.Client(), 5*time.Second)
	require.NoError(t, check(context.Background(), w))
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestExecLauncherPassesIdentity(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true(1) not available")
	}
	launch := ExecLauncher("true")
	proc, err := launch(context.Background(), &Worker{ID: "worker-3", Port: 4103})
	require.NoError(t, err)

	cmd, ok := proc.(*exec.Cmd)
	require.True(t, ok)
	assert.Contains(t, cmd.Env, "WORKER_ID=worker-3")
	assert.Contains(t, cmd.Env, "APP_PORT=4103")
	assert.NoError(t, proc.Wait())
}
