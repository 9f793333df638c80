// Package eventhandler keeps the match cache consistent with profile and
// catalog changes published by other services.
package eventhandler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/unimatch/match-engine/internal/domain/matching"
	"github.com/unimatch/match-engine/internal/domain/shared"
	"github.com/unimatch/match-engine/pkg/logger"
	"github.com/unimatch/match-engine/pkg/retry"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROFILE CHANGED HANDLER
// A profile edit supersedes the student's cached match sets. The profile
// service publishes the event; this handler makes the supersession explicit
// by calling Precompute, or Invalidate when precomputing is disabled.
// ═══════════════════════════════════════════════════════════════════════════

// CacheMaintainer is the part of the match service used by the handlers.
type CacheMaintainer interface {
	Invalidate(ctx context.Context, studentID string) error
	Precompute(ctx context.Context, studentID string, modes ...matching.Mode) error
}

// Config controls the handlers.
type Config struct {
	// Precompute recomputes the sets right away instead of only invalidating.
	Precompute bool `mapstructure:"precompute"`

	// Modes are the modes precomputed on a profile edit. Empty means all.
	Modes []string `mapstructure:"modes"`

	// Timeout bounds the handling of one event.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the default handler configuration.
func DefaultConfig() Config {
	return Config{
		Precompute: true,
		Timeout:    30 * time.Second,
	}
}

// OnProfileChangedHandler reacts to profile updates and deletions.
type OnProfileChangedHandler struct {
	matches CacheMaintainer
	modes   []matching.Mode
	config  Config
	retrier *retry.Retrier
	log     *zap.Logger
}

// NewOnProfileChangedHandler creates the handler. Unknown mode names in the
// configuration are an error.
func NewOnProfileChangedHandler(matches CacheMaintainer, config Config, log *zap.Logger) (*OnProfileChangedHandler, error) {
	modes := make([]matching.Mode, 0, len(config.Modes))
	for _, name := range config.Modes {
		m, err := matching.ParseMode(name)
		if err != nil {
			return nil, err
		}
		modes = append(modes, m)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return &OnProfileChangedHandler{
		matches: matches,
		modes:   modes,
		config:  config,
		retrier: retry.New(
			retry.WithMaxAttempts(3),
			retry.WithInitialDelay(200*time.Millisecond),
			retry.WithRetryIf(shared.IsRetryable),
		),
		log: logger.OrNop(log).Named("eventhandler").With(zap.String("handler", "on_profile_changed")),
	}, nil
}

// Register subscribes the handler to the profile events.
func (h *OnProfileChangedHandler) Register(bus shared.EventSubscriber) error {
	if err := bus.Subscribe(shared.EventProfileUpdated, h.Handle); err != nil {
		return err
	}
	return bus.Subscribe(shared.EventProfileDeleted, h.Handle)
}

// Handle implements shared.EventHandler. Events relayed from other processes
// arrive untyped, so the student is taken from the aggregate id.
func (h *OnProfileChangedHandler) Handle(event shared.Event) error {
	studentID := event.AggregateID()
	log := h.log.With(logger.StudentID(studentID), zap.String("event_type", string(event.EventType())))

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var err error
	switch {
	case event.EventType() == shared.EventProfileDeleted || !h.config.Precompute:
		err = h.retrier.Do(ctx, func(ctx context.Context) error {
			return h.matches.Invalidate(ctx, studentID)
		})
	default:
		err = h.retrier.Do(ctx, func(ctx context.Context) error {
			return h.matches.Precompute(ctx, studentID, h.modes...)
		})
		if errors.Is(err, shared.ErrProfileNotFound) {
			// deleted between the edit and the event; nothing to warm
			log.Debug("profile vanished before precompute")
			return nil
		}
	}

	if err != nil {
		log.Error("failed to supersede cached matches", zap.Error(err))
		return err
	}

	log.Debug("cached matches superseded")
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// ON CATALOG UPDATED HANDLER
// ═══════════════════════════════════════════════════════════════════════════

// CatalogVersionCache is the part of the match service that memoizes the
// catalog version.
type CatalogVersionCache interface {
	ForgetCatalogVersion()
}

// OnCatalogUpdatedHandler drops the memoized catalog version on catalog edits.
// Cached sets need no explicit invalidation: the catalog version is part of
// every cache key.
type OnCatalogUpdatedHandler struct {
	versions CatalogVersionCache
	log      *zap.Logger
}

// NewOnCatalogUpdatedHandler creates the handler. versions may be nil, the
// memoized version then expires on its own.
func NewOnCatalogUpdatedHandler(versions CatalogVersionCache, log *zap.Logger) *OnCatalogUpdatedHandler {
	return &OnCatalogUpdatedHandler{
		versions: versions,
		log:      logger.OrNop(log).Named("eventhandler").With(zap.String("handler", "on_catalog_updated")),
	}
}

// Register subscribes the handler.
func (h *OnCatalogUpdatedHandler) Register(bus shared.EventSubscriber) error {
	return bus.Subscribe(shared.EventCatalogUpdated, h.Handle)
}

// Handle implements shared.EventHandler.
func (h *OnCatalogUpdatedHandler) Handle(event shared.Event) error {
	if h.versions != nil {
		h.versions.ForgetCatalogVersion()
	}

	fields := []zap.Field{zap.Time("occurred_at", event.OccurredAt())}
	if ids, ok := event.Payload()["program_ids"]; ok {
		fields = append(fields, zap.Any("program_ids", ids))
	}
	h.log.Info("catalog updated, cached sets roll over with the catalog version", fields...)
	return nil
}
