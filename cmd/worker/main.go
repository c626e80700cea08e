package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"realtime-chat-be/internal/bootstrap"
	"realtime-chat-be/internal/config"
	"realtime-chat-be/internal/server"
	"realtime-chat-be/internal/tracer"
)

func main() {
	// 1. Load Configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 2. Tracing (no-op unless OTEL_ENABLED=true)
	shutdownTracer := tracer.InitTracer("realtime-chat-worker", cfg.App.WorkerID)
	defer shutdownTracer(context.Background())

	// The container subscribes to the cluster bus for the lifetime of ctx.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to bootstrap worker %s: %v", cfg.App.WorkerID, err)
	}
	defer container.Close()

	// 4. Clear presence left behind by a crashed predecessor with our id
	recoverCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := container.GatewayService.RecoverWorker(recoverCtx); err != nil {
		container.Logger.Error("Main", "Presence recovery failed", map[string]interface{}{"error": err.Error()})
	}
	cancel()

	// 5. Run Server
	srv := server.New(cfg, container)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case err := <-errCh:
		if err != nil {
			container.Logger.Error("Main", "Server stopped", map[string]interface{}{"error": err.Error()})
		}
	case <-ctx.Done():
		container.Logger.Info("Main", "Shutting down", nil)
		if err := srv.Shutdown(); err != nil {
			container.Logger.Warn("Main", "Shutdown error", map[string]interface{}{"error": err.Error()})
		}
	}
}
