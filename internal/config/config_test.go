package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_PORT", "")
	cfg := Load()

	// An empty value is still a value: LookupEnv reports it as set.
	assert.Equal(t, "", cfg.App.Port)
	assert.Equal(t, "http://localhost:3000", cfg.App.ClientURL)
	assert.Equal(t, 4, cfg.Dispatcher.WorkerCount)
	assert.Equal(t, BackendRedis, cfg.Cluster.PresenceBackend)
	assert.Equal(t, BackendRedis, cfg.Cluster.StoreBackend)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WORKER_COUNT", "2")
	t.Setenv("RESTART_BACKOFF_MAX", "5s")
	t.Setenv("MAX_MESSAGE_LENGTH", "not-a-number")

	cfg := Load()

	assert.Equal(t, 2, cfg.Dispatcher.WorkerCount)
	assert.Equal(t, 5*time.Second, cfg.Dispatcher.RestartBackoffMax)
	assert.Equal(t, 4096, cfg.App.MaxMessageLength)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			App: AppConfig{MaxUsernameLength: 32, MaxMessageLength: 4096, SendQueueSize: 16},
			Cluster: ClusterConfig{
				PresenceBackend: BackendRedis,
				BusBackend:      BackendRedis,
				StoreBackend:    BackendMemory,
			},
			Dispatcher: DispatcherConfig{WorkerCount: 4},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid pool", mutate: func(c *Config) {}},
		{
			name:   "single worker may use memory presence",
			mutate: func(c *Config) { c.Dispatcher.WorkerCount = 1; c.Cluster.PresenceBackend = BackendMemory; c.Cluster.BusBackend = BackendLocal },
		},
		{
			name:    "memory presence rejected for pool",
			mutate:  func(c *Config) { c.Cluster.PresenceBackend = BackendMemory },
			wantErr: "PRESENCE_BACKEND=memory",
		},
		{
			name:    "local bus rejected for pool",
			mutate:  func(c *Config) { c.Cluster.BusBackend = BackendLocal },
			wantErr: "BUS_BACKEND=local",
		},
		{
			name:    "unknown store",
			mutate:  func(c *Config) { c.Cluster.StoreBackend = "postgres" },
			wantErr: "unknown STORE_BACKEND",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Dispatcher.WorkerCount = 0 },
			wantErr: "WORKER_COUNT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
