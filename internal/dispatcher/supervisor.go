package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"realtime-chat-be/internal/metrics"
	"realtime-chat-be/internal/pkg/logger"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// Process is a running worker. Wait blocks until it exits.
type Process interface {
	Wait() error
}

// Launcher starts the worker process for a slot. The process must die when
// ctx is cancelled.
type Launcher func(ctx context.Context, w *Worker) (Process, error)

// ExecLauncher runs binary once per slot with the slot's identity and port in
// its environment.
func ExecLauncher(binary string) Launcher {
	return func(ctx context.Context, w *Worker) (Process, error) {
		cmd := exec.CommandContext(ctx, binary)
		cmd.Env = append(os.Environ(),
			"WORKER_ID="+w.ID,
			"APP_PORT="+strconv.Itoa(w.Port),
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return cmd, nil
	}
}

// HTTPReadyCheck polls the worker's health route until it answers 200.
func HTTPReadyCheck(client *http.Client, timeout time.Duration) func(ctx context.Context, w *Worker) error {
	return func(ctx context.Context, w *Worker) error {
		url := "http://" + w.Addr + "/api/health"
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return struct{}{}, backoff.Permanent(err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return struct{}{}, err
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return struct{}{}, fmt.Errorf("health returned %d", resp.StatusCode)
			}
			return struct{}{}, nil
		},
			backoff.WithBackOff(backoff.NewConstantBackOff(200*time.Millisecond)),
			backoff.WithMaxElapsedTime(timeout),
		)
		return err
	}
}

type SupervisorOptions struct {
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	StableAfter          time.Duration
	MaxRestartsPerMinute int
	// ReadyCheck blocks until the launched worker accepts traffic. Nil means
	// ready on launch.
	ReadyCheck func(ctx context.Context, w *Worker) error
}

// Supervisor keeps one process running per worker slot and restarts it when
// it exits. A slot that restarts faster than the breaker allows stays down.
type Supervisor struct {
	pool    *Pool
	launch  Launcher
	opts    SupervisorOptions
	logger  logger.ILogger
	metrics *metrics.Metrics
}

func NewSupervisor(pool *Pool, launch Launcher, opts SupervisorOptions, log logger.ILogger, m *metrics.Metrics) *Supervisor {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.MaxRestartsPerMinute < 1 {
		opts.MaxRestartsPerMinute = 1
	}
	return &Supervisor{
		pool:    pool,
		launch:  launch,
		opts:    opts,
		logger:  log,
		metrics: m,
	}
}

// Run supervises every slot until ctx is cancelled and all processes exit.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range s.pool.Workers() {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			s.supervise(ctx, w)
		}(w)
	}
	wg.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, w *Worker) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.InitialBackoff
	bo.MaxInterval = s.opts.MaxBackoff

	breaker := rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.opts.MaxRestartsPerMinute)), s.opts.MaxRestartsPerMinute)

	for restarts := 0; ; restarts++ {
		started := time.Now()
		err := s.runOnce(ctx, w)
		if ctx.Err() != nil {
			return
		}

		fields := map[string]interface{}{"worker_id": w.ID, "uptime": time.Since(started).String()}
		if err != nil {
			fields["error"] = err.Error()
		}
		s.logger.Warn("Supervisor", "Worker exited", fields)

		if !breaker.Allow() {
			s.logger.Error("Supervisor", "Restart breaker tripped, leaving worker down", map[string]interface{}{
				"worker_id": w.ID,
				"restarts":  restarts,
			})
			return
		}

		if time.Since(started) >= s.opts.StableAfter {
			bo.Reset()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
		s.metrics.RecordWorkerRestart(w.ID)
	}
}

func (s *Supervisor) runOnce(ctx context.Context, w *Worker) error {
	proc, err := s.launch(ctx, w)
	if err != nil {
		return err
	}

	s.logger.Info("Supervisor", "Worker started", map[string]interface{}{"worker_id": w.ID, "addr": w.Addr})

	readyCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if s.opts.ReadyCheck != nil {
			if err := s.opts.ReadyCheck(readyCtx, w); err != nil {
				if readyCtx.Err() == nil {
					s.logger.Warn("Supervisor", "Worker never became ready", map[string]interface{}{"worker_id": w.ID, "error": err.Error()})
				}
				return
			}
		}
		w.SetAlive(true)
		s.metrics.SetWorkerUp(w.ID, true)
	}()

	err = proc.Wait()
	cancel()
	wg.Wait()

	w.SetAlive(false)
	s.metrics.SetWorkerUp(w.ID, false)
	return err
}
