package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNats   = "nats"
	BackendLocal  = "local"
)

type Config struct {
	App        AppConfig
	Cluster    ClusterConfig
	Dispatcher DispatcherConfig
}

type AppConfig struct {
	Port              string
	ClientURL         string // allow-listed origin for cross-origin websocket clients
	Environment       string
	LogFilePath       string
	HubLogFilePath    string
	WorkerID          string
	MaxUsernameLength int
	MaxMessageLength  int
	SendQueueSize     int
}

// ClusterConfig selects the backends shared between workers of the pool.
type ClusterConfig struct {
	RedisURL        string
	NatsURL         string
	PresenceBackend string // memory | redis | nats
	BusBackend      string // local | redis | nats
	StoreBackend    string // memory | redis
	ClusterChannel  string
	PresenceBucket  string
}

type DispatcherConfig struct {
	Port                 string
	WorkerCount          int
	WorkerBasePort       int
	WorkerBinary         string
	RestartBackoffMax    time.Duration
	StableAfter          time.Duration
	MaxRestartsPerMinute int
	AffinityTTL          time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:              getEnv("APP_PORT", "4000"),
			ClientURL:         getEnv("CLIENT_URL", "http://localhost:3000"),
			Environment:       getEnv("APP_ENV", "development"),
			LogFilePath:       getEnv("LOG_FILE_PATH", "logs/app.log"),
			HubLogFilePath:    getEnv("HUB_LOG_FILE_PATH", "logs/hub.log"),
			WorkerID:          getEnv("WORKER_ID", "worker-0"),
			MaxUsernameLength: getEnvAsInt("MAX_USERNAME_LENGTH", 32),
			MaxMessageLength:  getEnvAsInt("MAX_MESSAGE_LENGTH", 4096),
			SendQueueSize:     getEnvAsInt("SEND_QUEUE_SIZE", 256),
		},
		Cluster: ClusterConfig{
			RedisURL:        getEnv("REDIS_URL", "redis://localhost:6379"),
			NatsURL:         getEnv("NATS_URL", "nats://localhost:4222"),
			PresenceBackend: getEnv("PRESENCE_BACKEND", BackendRedis),
			BusBackend:      getEnv("BUS_BACKEND", BackendRedis),
			StoreBackend:    getEnv("STORE_BACKEND", BackendRedis),
			ClusterChannel:  getEnv("CLUSTER_CHANNEL", "chat_cluster_events"),
			PresenceBucket:  getEnv("PRESENCE_BUCKET", "chat_presence"),
		},
		Dispatcher: DispatcherConfig{
			Port:                 getEnv("DISPATCHER_PORT", "4000"),
			WorkerCount:          getEnvAsInt("WORKER_COUNT", 4),
			WorkerBasePort:       getEnvAsInt("WORKER_BASE_PORT", 4100),
			WorkerBinary:         getEnv("WORKER_BINARY", "./bin/worker"),
			RestartBackoffMax:    getEnvAsDuration("RESTART_BACKOFF_MAX", 30*time.Second),
			StableAfter:          getEnvAsDuration("RESTART_STABLE_AFTER", time.Minute),
			MaxRestartsPerMinute: getEnvAsInt("MAX_RESTARTS_PER_MINUTE", 5),
			AffinityTTL:          getEnvAsDuration("AFFINITY_TTL", 24*time.Hour),
		},
	}
}

// Validate rejects combinations that would let a worker judge presence
// from its own memory while other workers serve the same users.
func (c *Config) Validate() error {
	var errs []error

	switch c.Cluster.PresenceBackend {
	case BackendMemory, BackendRedis, BackendNats:
	default:
		errs = append(errs, fmt.Errorf("unknown PRESENCE_BACKEND %q", c.Cluster.PresenceBackend))
	}
	switch c.Cluster.BusBackend {
	case BackendLocal, BackendRedis, BackendNats:
	default:
		errs = append(errs, fmt.Errorf("unknown BUS_BACKEND %q", c.Cluster.BusBackend))
	}
	switch c.Cluster.StoreBackend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Cluster.StoreBackend))
	}

	if c.Dispatcher.WorkerCount < 1 {
		errs = append(errs, errors.New("WORKER_COUNT must be at least 1"))
	}
	if c.Dispatcher.WorkerCount > 1 {
		if c.Cluster.PresenceBackend == BackendMemory {
			errs = append(errs, errors.New("PRESENCE_BACKEND=memory only counts connections of one worker; use redis or nats when WORKER_COUNT > 1"))
		}
		if c.Cluster.BusBackend == BackendLocal {
			errs = append(errs, errors.New("BUS_BACKEND=local cannot reach other workers; use redis or nats when WORKER_COUNT > 1"))
		}
	}
	if c.App.MaxUsernameLength <= 0 || c.App.MaxMessageLength <= 0 || c.App.SendQueueSize <= 0 {
		errs = append(errs, errors.New("MAX_USERNAME_LENGTH, MAX_MESSAGE_LENGTH and SEND_QUEUE_SIZE must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
