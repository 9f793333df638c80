// Package config loads the match engine configuration from defaults, an
// optional YAML file and MATCHENGINE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/unimatch/match-engine/internal/application/eventhandler"
	"github.com/unimatch/match-engine/internal/application/matches"
	"github.com/unimatch/match-engine/internal/domain/matching"
	"github.com/unimatch/match-engine/internal/infrastructure/external/searchindex"
	"github.com/unimatch/match-engine/internal/infrastructure/messaging"
	"github.com/unimatch/match-engine/internal/infrastructure/persistence/postgres"
	rediscache "github.com/unimatch/match-engine/internal/infrastructure/persistence/redis"
	"github.com/unimatch/match-engine/internal/infrastructure/scheduler"
	"github.com/unimatch/match-engine/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/unimatch/match-engine/internal/interface/http"
	"github.com/unimatch/match-engine/pkg/timeutil"
)

// EnvPrefix prefixes every environment override, e.g. MATCHENGINE_CACHE_TTL.
const EnvPrefix = "MATCHENGINE"

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Profile and catalog store backends.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Match cache backends.
const (
	CacheRedis  = "redis"
	CacheMemory = "memory"
)

// Config holds all application configuration.
type Config struct {
	App         AppConfig              `mapstructure:"app"`
	Log         LogConfig              `mapstructure:"log"`
	Store       StoreConfig            `mapstructure:"store"`
	Database    postgres.Config        `mapstructure:"database"`
	SQLite      SQLiteConfig           `mapstructure:"sqlite"`
	Redis       rediscache.Config      `mapstructure:"redis"`
	Cache       CacheConfig            `mapstructure:"cache"`
	Scoring     matching.Tuning        `mapstructure:"scoring"`
	Builder     matching.BuilderConfig `mapstructure:"builder"`
	SearchIndex searchindex.Config     `mapstructure:"search_index"`
	HTTP        httpapi.Config         `mapstructure:"http"`
	Scheduler   SchedulerConfig        `mapstructure:"scheduler"`
	EventBus    EventBusConfig         `mapstructure:"eventbus"`
	Handlers    eventhandler.Config    `mapstructure:"handlers"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name            string        `mapstructure:"name"`
	Environment     Environment   `mapstructure:"environment"`
	Timezone        string        `mapstructure:"timezone"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig selects the zap encoder and level.
type LogConfig struct {
	JSON  bool `mapstructure:"json"`
	Debug bool `mapstructure:"debug"`
}

// StoreConfig selects where profiles and the catalog are read from.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`

	// Migrate applies the Postgres migrations on start.
	Migrate bool `mapstructure:"migrate"`
}

// SQLiteConfig configures the embedded store.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// CacheConfig selects the match cache and tunes the match service.
type CacheConfig struct {
	Backend        string `mapstructure:"backend"`
	matches.Config `mapstructure:",squash"`
}

// SchedulerConfig configures background jobs.
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Timezone string `mapstructure:"timezone"`

	// WarmSchedule is a cron expression or "@every <duration>".
	WarmSchedule string                    `mapstructure:"warm_schedule"`
	Warm         jobs.WarmMatchCacheConfig `mapstructure:"warm"`
}

// EventBusConfig configures profile event delivery. Distributed relays
// events between instances over Redis pub/sub.
type EventBusConfig struct {
	Distributed                   bool `mapstructure:"distributed"`
	messaging.RedisEventBusConfig `mapstructure:",squash"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		App: AppConfig{
			Name:            "match-engine",
			Environment:     EnvDevelopment,
			Timezone:        "UTC",
			ShutdownTimeout: 15 * time.Second,
		},
		Store:       StoreConfig{Backend: StoreSQLite, Migrate: true},
		Database:    postgres.DefaultConfig(),
		SQLite:      SQLiteConfig{Path: "matchengine.db"},
		Redis:       rediscache.DefaultConfig(),
		Cache:       CacheConfig{Backend: CacheMemory, Config: matches.DefaultConfig()},
		Scoring:     matching.DefaultTuning(),
		Builder:     matching.DefaultBuilderConfig(),
		SearchIndex: searchindex.DefaultConfig(),
		HTTP:        httpapi.DefaultConfig(),
		Scheduler: SchedulerConfig{
			Enabled:      true,
			Timezone:     "UTC",
			WarmSchedule: "@every 5m",
			Warm:         jobs.DefaultWarmMatchCacheConfig(),
		},
		EventBus: EventBusConfig{RedisEventBusConfig: messaging.DefaultRedisEventBusConfig()},
		Handlers: eventhandler.DefaultConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LOADING
// ══════════════════════════════════════════════════════════════════════════════

// Load reads configuration into v's defaults, the file at path (optional) and
// the environment, then validates it.
func Load(v *viper.Viper, path string) (*Config, error) {
	if err := setDefaults(v, "", reflect.ValueOf(Default())); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every leaf of val under its mapstructure path, so
// that AutomaticEnv can override keys that no file mentions.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) error {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		fv := val.Field(i)

		if opts == "squash" {
			if err := setDefaults(v, prefix, fv); err != nil {
				return err
			}
			continue
		}
		if name == "" || name == "-" {
			return fmt.Errorf("config field %s%s has no mapstructure tag", prefix, field.Name)
		}

		key := prefix + name
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Time{}) {
			if err := setDefaults(v, key+".", fv); err != nil {
				return err
			}
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	switch c.App.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		add("app.environment must be development, staging or production")
	}
	if _, err := timeutil.LoadLocation(c.App.Timezone); err != nil {
		add("app.timezone: %v", err)
	}

	switch c.Store.Backend {
	case StoreSQLite:
		if c.SQLite.Path == "" {
			add("sqlite.path is required")
		}
		if c.IsProduction() && c.SQLite.Path == ":memory:" {
			add("sqlite.path cannot be :memory: in production")
		}
	case StorePostgres:
		if c.Database.URL == "" && c.Database.Host == "" {
			add("database.url or database.host is required")
		}
	default:
		add("store.backend must be %q or %q", StoreSQLite, StorePostgres)
	}

	switch c.Cache.Backend {
	case CacheMemory:
		if c.EventBus.Distributed {
			add("eventbus.distributed needs cache.backend %q", CacheRedis)
		}
	case CacheRedis:
		if c.Redis.Host == "" || c.Redis.Port <= 0 {
			add("redis.host and redis.port are required")
		}
	default:
		add("cache.backend must be %q or %q", CacheRedis, CacheMemory)
	}
	if c.Cache.TTL < 0 || c.Cache.ClaimWait < 0 || c.Cache.StoreTimeout < 0 {
		add("cache durations cannot be negative")
	}
	if c.Cache.ClaimTTL > 0 && c.Cache.ComputeTimeout > c.Cache.ClaimTTL {
		add("cache.claim_ttl must outlive cache.compute_timeout")
	}
	if c.Cache.CatalogStalenessWindow > 0 && c.Cache.CatalogVersionTTL > c.Cache.CatalogStalenessWindow {
		add("cache.catalog_version_ttl cannot exceed cache.catalog_staleness_window")
	}

	if err := c.Scoring.Validate(); err != nil {
		add("scoring: %v", err)
	}

	if c.SearchIndex.Enabled && c.SearchIndex.BaseURL == "" {
		add("search_index.base_url is required when the prefilter is enabled")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		add("http.port must be 1-65535")
	}

	if c.Scheduler.Enabled {
		if _, err := scheduler.ParseSchedule(c.Scheduler.WarmSchedule); err != nil {
			add("scheduler.warm_schedule: %v", err)
		}
		if _, err := timeutil.LoadLocation(c.Scheduler.Timezone); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}

	for _, m := range append(append([]string{}, c.Handlers.Modes...), c.Scheduler.Warm.Modes...) {
		if _, err := matching.ParseMode(m); err != nil {
			add("unknown mode %q", m)
		}
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsProduction reports whether the app runs in production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDevelopment reports whether the app runs in development.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// Location returns the scheduler time zone, UTC when unset.
func (c *Config) Location() *time.Location {
	return timeutil.LocationOrUTC(c.Scheduler.Timezone)
}
