// Package circuitbreaker keeps the match engine from waiting on a cache store
// or search index that is known to be down.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the state of a breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down has passed.
	StateOpen
	// StateHalfOpen lets a few trial calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned without calling the store while the breaker
	// is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned while the half-open trial slots are taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config tunes a breaker.
type Config struct {
	Name string

	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int

	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold int

	// CoolDown is how long the breaker stays open before trying again.
	CoolDown time.Duration

	// HalfOpenSlots is the number of concurrent trial calls when half-open.
	HalfOpenSlots int

	// OnStateChange is called with the breaker lock held; it must not call
	// back into the breaker.
	OnStateChange func(name string, from, to State)

	// IsFailure filters the errors that count. Nil counts every error.
	IsFailure func(error) bool

	// Clock replaces time.Now.
	Clock func() time.Time
}

// CircuitBreaker fails calls fast after repeated store failures.
type CircuitBreaker struct {
	cfg Config

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	trials    int
}

// New creates a closed breaker. Zero thresholds default to one.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.HalfOpenSlots <= 0 {
		cfg.HalfOpenSlots = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute runs fn unless the breaker rejects the call, and records its outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.cfg.Clock().Sub(cb.openedAt) < cb.cfg.CoolDown {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.trials = 1
		return nil
	case StateHalfOpen:
		if cb.trials >= cb.cfg.HalfOpenSlots {
			return ErrTooManyRequests
		}
		cb.trials++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err))
	if !failed {
		cb.failures = 0
		cb.successes++
		if cb.state == StateHalfOpen {
			if cb.trials > 0 {
				cb.trials--
			}
			if cb.successes >= cb.cfg.SuccessThreshold {
				cb.transition(StateClosed)
			}
		}
		return
	}

	cb.successes = 0
	cb.failures++
	// a half-open failure reopens at once
	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.cfg.FailureThreshold) {
		cb.openedAt = cb.cfg.Clock()
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.failures, cb.successes, cb.trials = 0, 0, 0
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// CacheStoreBreaker returns a breaker for the match cache store. It opens
// quickly and tries again soon, since every request touches the store.
// Callers going away are not store failures.
func CacheStoreBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Config{
		Name:             "match-cache",
		FailureThreshold: 5,
		SuccessThreshold: 1,
		CoolDown:         5 * time.Second,
		HalfOpenSlots:    1,
		OnStateChange:    onStateChange,
		IsFailure:        func(err error) bool { return !errors.Is(err, context.Canceled) },
	})
}

// SearchIndexBreaker returns a breaker for the candidate prefilter.
func SearchIndexBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Config{
		Name:             "search-index",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		CoolDown:         30 * time.Second,
		HalfOpenSlots:    1,
		OnStateChange:    onStateChange,
	})
}
