package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"realtime-chat-be/internal/config"
	"realtime-chat-be/internal/dispatcher"
	"realtime-chat-be/internal/metrics"
	"realtime-chat-be/internal/pkg/logger"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	appLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction()).
		With(map[string]interface{}{"worker_id": "dispatcher"})
	defer appLogger.Sync()

	m := metrics.New("dispatcher")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := dispatcher.NewPool(cfg.Dispatcher.WorkerCount, cfg.Dispatcher.WorkerBasePort)
	picker := dispatcher.NewStickyPicker(pool, cfg.Dispatcher.AffinityTTL)

	supervisor := dispatcher.NewSupervisor(pool, dispatcher.ExecLauncher(cfg.Dispatcher.WorkerBinary), dispatcher.SupervisorOptions{
		MaxBackoff:           cfg.Dispatcher.RestartBackoffMax,
		StableAfter:          cfg.Dispatcher.StableAfter,
		MaxRestartsPerMinute: cfg.Dispatcher.MaxRestartsPerMinute,
		ReadyCheck:           dispatcher.HTTPReadyCheck(&http.Client{Timeout: time.Second}, 30*time.Second),
	}, appLogger, m)

	supervised := make(chan struct{})
	go func() {
		supervisor.Run(ctx)
		close(supervised)
	}()

	mux := http.NewServeMux()
	mux.Handle("/dispatcher/metrics", m.Handler())
	mux.Handle("/", dispatcher.NewProxy(pool, picker, appLogger))

	srv := &http.Server{
		Addr:              ":" + cfg.Dispatcher.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("✅ Dispatcher is running on http://localhost:%s with %d workers", cfg.Dispatcher.Port, cfg.Dispatcher.WorkerCount)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Main", "Dispatcher server stopped", map[string]interface{}{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info("Main", "Shutting down dispatcher", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("Main", "Shutdown error", map[string]interface{}{"error": err.Error()})
	}

	// workers get SIGKILL from their command context
	<-supervised
}
