package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"realtime-chat-be/internal/config"
	"realtime-chat-be/internal/handler"
	"realtime-chat-be/internal/metrics"
	"realtime-chat-be/internal/pkg/logger"
	"realtime-chat-be/internal/presence"
	"realtime-chat-be/internal/repository/contract"
	"realtime-chat-be/internal/repository/implementation"
	"realtime-chat-be/internal/repository/memory"
	"realtime-chat-be/internal/service"
	"realtime-chat-be/internal/websocket"
	pktNats "realtime-chat-be/pkg/nats"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
)

type Container struct {
	Logger  logger.ILogger
	Metrics *metrics.Metrics

	SessionRepository contract.ChatSessionRepository
	MessageRepository contract.ChatMessageRepository
	Presence          *presence.Coordinator

	GatewayService service.IGatewayService
	RouterService  service.IRouterService

	Hub         *websocket.Hub
	ChatHandler *handler.ChatHandler

	closers []func() error
}

func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{}

	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction()).
		With(map[string]interface{}{"worker_id": cfg.App.WorkerID})
	c.Logger = sysLogger
	c.Metrics = metrics.New(cfg.App.WorkerID)

	// Infrastructure, opened only when a backend needs it
	var rdb *redis.Client
	if usesBackend(cfg, config.BackendRedis) {
		var err error
		if rdb, err = openRedis(ctx, cfg.Cluster.RedisURL); err != nil {
			return nil, err
		}
		c.closers = append(c.closers, rdb.Close)
	}

	var nc *nats.Conn
	var js jetstream.JetStream
	if usesBackend(cfg, config.BackendNats) {
		var err error
		if nc, js, err = pktNats.Connect(cfg.Cluster.NatsURL); err != nil {
			c.Close()
			return nil, err
		}
		c.closers = append(c.closers, func() error { nc.Close(); return nil })
	}

	// Stores
	switch cfg.Cluster.StoreBackend {
	case config.BackendRedis:
		c.SessionRepository = implementation.NewChatSessionRepository(rdb)
		c.MessageRepository = implementation.NewChatMessageRepository(rdb)
	default:
		c.SessionRepository = memory.NewSessionRepository()
		c.MessageRepository = memory.NewMessageRepository()
	}

	// Presence
	var counter presence.Counter
	switch cfg.Cluster.PresenceBackend {
	case config.BackendRedis:
		counter = presence.NewRedisCounter(rdb)
	case config.BackendNats:
		natsCounter, err := presence.OpenNatsCounter(ctx, js, cfg.Cluster.PresenceBucket)
		if err != nil {
			c.Close()
			return nil, err
		}
		counter = natsCounter
	default:
		counter = presence.NewMemoryCounter()
	}
	c.Presence = presence.NewCoordinator(counter, cfg.App.WorkerID)

	// WebSocket Hub
	hubLogger := logger.NewIsolatedLogger(cfg.App.HubLogFilePath).
		With(map[string]interface{}{"worker_id": cfg.App.WorkerID})
	var bus websocket.Bus
	switch cfg.Cluster.BusBackend {
	case config.BackendRedis:
		bus = websocket.NewRedisBus(rdb, cfg.Cluster.ClusterChannel, hubLogger)
	case config.BackendNats:
		bus = pktNats.NewBus(nc, cfg.Cluster.ClusterChannel)
	default:
		bus = websocket.NewLocalBus(cfg.Cluster.ClusterChannel, hubLogger)
	}
	// closed before the connections it rides on
	c.closers = append([]func() error{bus.Close}, c.closers...)

	c.Hub = websocket.NewHub(cfg.App.WorkerID, bus, hubLogger, c.Metrics)
	if err := c.Hub.Listen(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("listen on cluster bus: %w", err)
	}

	// Services
	c.GatewayService = service.NewGatewayService(
		c.SessionRepository,
		c.MessageRepository,
		c.Presence,
		c.Hub,
		service.GatewayOptions{
			MaxUsernameLength: cfg.App.MaxUsernameLength,
			SendQueueSize:     cfg.App.SendQueueSize,
		},
		sysLogger,
		c.Metrics,
	)
	c.RouterService = service.NewRouterService(
		c.SessionRepository,
		c.MessageRepository,
		c.Hub,
		service.RouterOptions{MaxMessageLength: cfg.App.MaxMessageLength},
		sysLogger,
		c.Metrics,
	)

	c.ChatHandler = handler.NewChatHandler(c.GatewayService, c.RouterService, c.Hub, []string{cfg.App.ClientURL}, sysLogger)

	return c, nil
}

// Close releases infrastructure in reverse dependency order.
func (c *Container) Close() {
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			log.Printf("[WARN] close: %v", err)
		}
	}
	c.closers = nil
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}
}

func usesBackend(cfg *config.Config, backend string) bool {
	return cfg.Cluster.PresenceBackend == backend ||
		cfg.Cluster.BusBackend == backend ||
		cfg.Cluster.StoreBackend == backend
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: url,
		}
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}
