package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unimatch/match-engine/config"
	"github.com/unimatch/match-engine/internal/application/eventhandler"
	"github.com/unimatch/match-engine/internal/application/matches"
	"github.com/unimatch/match-engine/internal/domain/matching"
	"github.com/unimatch/match-engine/internal/domain/shared"
	"github.com/unimatch/match-engine/internal/infrastructure/external/searchindex"
	"github.com/unimatch/match-engine/internal/infrastructure/messaging"
	"github.com/unimatch/match-engine/internal/infrastructure/persistence/memory"
	"github.com/unimatch/match-engine/internal/infrastructure/persistence/postgres"
	rediscache "github.com/unimatch/match-engine/internal/infrastructure/persistence/redis"
	"github.com/unimatch/match-engine/internal/infrastructure/persistence/sqlite"
	"github.com/unimatch/match-engine/internal/infrastructure/scheduler"
	"github.com/unimatch/match-engine/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/unimatch/match-engine/internal/interface/http"
	"github.com/unimatch/match-engine/pkg/timeutil"
)

// eventBus is implemented by both bus flavours.
type eventBus interface {
	shared.EventBus
	Close() error
}

// components holds the wired collaborators shared by the subcommands.
type components struct {
	cfg *config.Config
	log *zap.Logger

	profiles      matching.ProfileStore
	lister        matching.ProfileLister
	profileWriter matching.ProfileWriter
	catalog       matching.CatalogStore
	catalogWriter matching.CatalogWriter

	redis   *rediscache.Cache
	cache   matching.MatchCache
	bus     eventBus
	matches *matches.Service
	health  *httpapi.HealthChecker

	closers []func()
}

// newComponents opens the stores, the cache and the event bus and builds the
// match service on top of them.
func newComponents(ctx context.Context, cfg *config.Config, log *zap.Logger) (*components, error) {
	c := &components{
		cfg:    cfg,
		log:    log,
		health: httpapi.NewHealthChecker(version),
	}

	steps := []func(context.Context) error{c.openStore, c.openCache, c.openBus}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			c.Close()
			return nil, err
		}
	}

	deps := matches.Dependencies{
		Profiles:  c.profiles,
		Catalog:   c.catalog,
		Cache:     c.cache,
		Publisher: c.bus,
		Logger:    log,
	}
	if cfg.SearchIndex.Enabled {
		deps.Prefilter = searchindex.NewClient(cfg.SearchIndex, log)
		log.Info("search index prefilter enabled", zap.String("base_url", cfg.SearchIndex.BaseURL))
	}

	c.matches = matches.NewService(deps, cfg.Cache.Config,
		matches.WithTuning(cfg.Scoring),
		matches.WithBuilderConfig(cfg.Builder),
	)
	return c, nil
}

func (c *components) onClose(fn func()) {
	c.closers = append(c.closers, fn)
}

// Close releases everything in reverse order of opening.
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func (c *components) openStore(ctx context.Context) error {
	switch c.cfg.Store.Backend {
	case config.StorePostgres:
		c.log.Info("connecting to postgres", zap.String("host", c.cfg.Database.Host))
		conn, err := postgres.NewConnection(ctx, c.cfg.Database)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		c.onClose(conn.Close)

		if c.cfg.Store.Migrate {
			if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
				return fmt.Errorf("migrate postgres: %w", err)
			}
		}

		profiles := postgres.NewProfileRepository(conn)
		catalog := postgres.NewCatalogRepository(conn)
		c.profiles, c.lister, c.profileWriter = profiles, profiles, profiles
		c.catalog, c.catalogWriter = catalog, catalog
		c.health.AddCheck("postgres", httpapi.PingCheck(conn))

	default:
		c.log.Info("opening sqlite store", zap.String("path", c.cfg.SQLite.Path))
		store, err := sqlite.Open(c.cfg.SQLite.Path)
		if err != nil {
			return fmt.Errorf("open sqlite %s: %w", c.cfg.SQLite.Path, err)
		}
		c.onClose(func() {
			if err := store.Close(); err != nil {
				c.log.Warn("closing sqlite store", zap.Error(err))
			}
		})

		c.profiles, c.lister, c.profileWriter = store, store, store
		c.catalog, c.catalogWriter = store, store
		c.health.AddCheck("sqlite", httpapi.PingCheck(store))
	}
	return nil
}

// openCache selects the match cache. An unreachable Redis does not stop the
// process unless the event bus depends on it: reads fail open and the breaker
// retries it until it recovers.
func (c *components) openCache(ctx context.Context) error {
	if c.cfg.Cache.Backend != config.CacheRedis {
		c.cache = memory.NewMatchCache()
		return nil
	}

	if c.cfg.EventBus.Distributed {
		rc, err := rediscache.NewCache(c.cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		c.redis = rc
	} else {
		c.redis = rediscache.NewCacheFromClient(rediscache.NewClient(c.cfg.Redis), c.cfg.Redis.KeyPrefix)
		pingCtx, cancel := context.WithTimeout(ctx, c.cfg.Redis.DialTimeout)
		err := c.redis.Ping(pingCtx)
		cancel()
		if err != nil {
			c.log.Warn("redis unreachable, serving uncached match sets until it recovers",
				zap.String("addr", c.cfg.Redis.Addr()), zap.Error(err))
		}
	}

	c.onClose(func() {
		if err := c.redis.Close(); err != nil {
			c.log.Warn("closing redis", zap.Error(err))
		}
	})
	c.cache = rediscache.NewMatchCache(c.redis)
	c.health.AddOptionalCheck("redis", httpapi.PingCheck(c.redis))
	return nil
}

func (c *components) openBus(_ context.Context) error {
	if c.cfg.EventBus.Distributed && c.redis != nil {
		bus, err := messaging.NewRedisEventBus(messaging.NewRedisPubSub(c.redis.Client()), c.cfg.EventBus.RedisEventBusConfig, c.log)
		if err != nil {
			return fmt.Errorf("start redis event bus: %w", err)
		}
		c.bus = bus
	} else {
		c.bus = messaging.NewInMemoryEventBus(c.cfg.EventBus.Local, c.log)
	}

	c.onClose(func() {
		if err := c.bus.Close(); err != nil {
			c.log.Warn("closing event bus", zap.Error(err))
		}
	})
	return nil
}

// registerHandlers subscribes the cache maintenance handlers to the bus.
func (c *components) registerHandlers() error {
	onProfile, err := eventhandler.NewOnProfileChangedHandler(c.matches, c.cfg.Handlers, c.log)
	if err != nil {
		return fmt.Errorf("profile handler: %w", err)
	}
	if err := onProfile.Register(c.bus); err != nil {
		return fmt.Errorf("register profile handler: %w", err)
	}
	if err := eventhandler.NewOnCatalogUpdatedHandler(c.matches, c.log).Register(c.bus); err != nil {
		return fmt.Errorf("register catalog handler: %w", err)
	}
	return nil
}

// newScheduler builds the scheduler with the cache warming job registered.
func (c *components) newScheduler() (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler(scheduler.Config{Timezone: c.cfg.Location()}, c.log)

	schedule, err := scheduler.ParseSchedule(c.cfg.Scheduler.WarmSchedule)
	if err != nil {
		return nil, fmt.Errorf("warm schedule: %w", err)
	}
	warm, err := jobs.NewWarmMatchCacheJob(c.lister, c.matches, c.cfg.Scheduler.Warm, c.log)
	if err != nil {
		return nil, fmt.Errorf("warm job: %w", err)
	}
	if err := sched.Register(warm, schedule); err != nil {
		return nil, err
	}
	return sched, nil
}

// logJobs reports when each registered job runs next.
func logJobs(sched *scheduler.Scheduler, log *zap.Logger) {
	now := time.Now()
	for _, job := range sched.Jobs() {
		log.Info("job scheduled",
			zap.String("job", job.Name),
			zap.String("schedule", job.Schedule),
			zap.String("next_run", timeutil.FormatRelative(job.NextRun, now)),
		)
	}
}

// shutdownContext bounds graceful shutdown.
func (c *components) shutdownContext() (context.Context, context.CancelFunc) {
	timeout := c.cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}
