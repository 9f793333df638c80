package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, want.Cache.TTL, cfg.Cache.TTL)
	assert.Equal(t, want.Cache.ClaimWait, cfg.Cache.ClaimWait)
	assert.Equal(t, want.Scoring, cfg.Scoring)
	assert.Equal(t, want.HTTP.Port, cfg.HTTP.Port)
	assert.Equal(t, want.Redis.KeyPrefix, cfg.Redis.KeyPrefix)
	assert.Equal(t, want.EventBus.ChannelName, cfg.EventBus.ChannelName)
	assert.Equal(t, want.Scheduler.Warm.BatchSize, cfg.Scheduler.Warm.BatchSize)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matchengine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  environment: staging
cache:
  backend: redis
  ttl: 30m
redis:
  host: cache.internal
scoring:
  critical_ceiling: 0.4
scheduler:
  warm_schedule: "*/10 * * * *"
`), 0o600))

	t.Setenv("MATCHENGINE_HTTP_PORT", "9090")
	t.Setenv("MATCHENGINE_CACHE_CLAIM_WAIT", "3s")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.App.Environment)
	assert.Equal(t, CacheRedis, cfg.Cache.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 3*time.Second, cfg.Cache.ClaimWait)
	assert.Equal(t, "cache.internal", cfg.Redis.Host)
	assert.Equal(t, 0.4, cfg.Scoring.CriticalCeiling)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "*/10 * * * *", cfg.Scheduler.WarmSchedule)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.App.Environment = "qa"
	cfg.Store.Backend = "mongo"
	cfg.Cache.Backend = "memcached"
	cfg.Scoring.AggregateWeight = 0.9
	cfg.HTTP.Port = 0
	cfg.Scheduler.WarmSchedule = "every day"
	cfg.Handlers.Modes = []string{"fastest"}

	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "configuration errors:")
	assert.Contains(t, msg, "app.environment")
	assert.Contains(t, msg, "store.backend")
	assert.Contains(t, msg, "cache.backend")
	assert.Contains(t, msg, "scoring:")
	assert.Contains(t, msg, "http.port")
	assert.Contains(t, msg, "scheduler.warm_schedule")
	assert.Contains(t, msg, `unknown mode "fastest"`)
}

func TestValidate_Backends(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "postgres without address",
			mutate: func(c *Config) {
				c.Store.Backend = StorePostgres
				c.Database.URL = ""
				c.Database.Host = ""
			},
			wantErr: "database.url or database.host",
		},
		{
			name: "distributed bus on memory cache",
			mutate: func(c *Config) {
				c.EventBus.Distributed = true
			},
			wantErr: "eventbus.distributed",
		},
		{
			name: "in-memory sqlite in production",
			mutate: func(c *Config) {
				c.App.Environment = EnvProduction
				c.SQLite.Path = ":memory:"
			},
			wantErr: ":memory:",
		},
		{
			name: "prefilter without url",
			mutate: func(c *Config) {
				c.SearchIndex.Enabled = true
				c.SearchIndex.BaseURL = ""
			},
			wantErr: "search_index.base_url",
		},
		{
			name: "claim shorter than compute",
			mutate: func(c *Config) {
				c.Cache.ClaimTTL = time.Second
				c.Cache.ComputeTimeout = 5 * time.Second
			},
			wantErr: "cache.claim_ttl",
		},
		{
			name: "catalog version outlives staleness window",
			mutate: func(c *Config) {
				c.Cache.CatalogVersionTTL = 10 * time.Minute
			},
			wantErr: "cache.catalog_version_ttl",
		},
		{
			name: "bad scheduler zone",
			mutate: func(c *Config) {
				c.Scheduler.Timezone = "Mars/Olympus"
			},
			wantErr: "scheduler.timezone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
