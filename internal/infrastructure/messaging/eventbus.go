// Package messaging implements the event buses used to carry profile and
// catalog events to the match cache maintainers. The in-memory bus serves a
// single process; the Redis bus relays events between API and worker nodes.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unimatch/match-engine/internal/domain/shared"
	"github.com/unimatch/match-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic is returned when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps handler execution.
type Middleware func(shared.EventHandler) shared.EventHandler

// RecoveryMiddleware turns handler panics into ErrHandlerPanic.
func RecoveryMiddleware(log *zap.Logger) Middleware {
	log = logger.OrNop(log)
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("event handler panicked",
						zap.String("event_type", string(event.EventType())),
						zap.Any("panic", r),
						zap.Stack("stack"),
					)
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(event)
		}
	}
}

// LoggingMiddleware logs the outcome and latency of every handler call.
func LoggingMiddleware(log *zap.Logger) Middleware {
	log = logger.OrNop(log)
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			start := time.Now()
			err := next(event)
			fields := []zap.Field{
				zap.String("event_type", string(event.EventType())),
				zap.String("aggregate_id", event.AggregateID()),
				logger.Latency(time.Since(start)),
			}
			if err != nil {
				log.Warn("event handler failed", append(fields, zap.Error(err))...)
				return err
			}
			log.Debug("event handled", fields...)
			return nil
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus is a simple in-memory implementation of EventBus.
// Suitable for single-instance deployments and testing.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[shared.EventType][]shared.EventHandler
	allHandlers []shared.EventHandler
	middlewares []Middleware
	asyncMode   bool
	workerPool  chan struct{}
	log         *zap.Logger
	closed      bool
	closeCh     chan struct{}
	wg          sync.WaitGroup
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on a bounded worker pool.
	AsyncMode bool `mapstructure:"async"`

	// WorkerPoolSize is the number of concurrent handler executions.
	WorkerPoolSize int `mapstructure:"workers"`
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 10,
	}
}

// NewInMemoryEventBus creates a new in-memory event bus. Handlers always run
// behind the recovery and logging middleware.
func NewInMemoryEventBus(config InMemoryEventBusConfig, log *zap.Logger) *InMemoryEventBus {
	log = logger.OrNop(log).Named("eventbus")
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}

	return &InMemoryEventBus{
		handlers:    make(map[shared.EventType][]shared.EventHandler),
		middlewares: []Middleware{RecoveryMiddleware(log), LoggingMiddleware(log)},
		asyncMode:   config.AsyncMode,
		workerPool:  make(chan struct{}, config.WorkerPoolSize),
		log:         log,
		closeCh:     make(chan struct{}),
	}
}

// Use adds middleware applied to handlers subscribed afterwards.
func (b *InMemoryEventBus) Use(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middlewares = append(b.middlewares, mw)
}

func (b *InMemoryEventBus) wrap(handler shared.EventHandler) shared.EventHandler {
	// first middleware is the outermost
	for i := len(b.middlewares) - 1; i >= 0; i-- {
		handler = b.middlewares[i](handler)
	}
	return handler
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}

	b.handlers[eventType] = append(b.handlers[eventType], b.wrap(handler))
	b.log.Debug("subscribed handler", zap.String("event_type", string(eventType)))

	return nil
}

// SubscribeAll registers a handler for all events.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}

	b.allHandlers = append(b.allHandlers, b.wrap(handler))
	return nil
}

// Publish sends an event to all subscribed handlers. In sync mode the first
// handler error is returned after every handler has run.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := make([]shared.EventHandler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)
	if b.asyncMode {
		// Add under the read lock so Close cannot start waiting in between.
		b.wg.Add(len(handlers))
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.log.Debug("no handlers for event", zap.String("event_type", string(event.EventType())))
		return nil
	}

	if b.asyncMode {
		for _, handler := range handlers {
			go b.executeAsync(event, handler)
		}
		return nil
	}

	var firstErr error
	for _, handler := range handlers {
		if err := handler(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// executeAsync executes a handler using the worker pool.
func (b *InMemoryEventBus) executeAsync(event shared.Event, handler shared.EventHandler) {
	defer b.wg.Done()

	select {
	case b.workerPool <- struct{}{}:
		defer func() { <-b.workerPool }()
	case <-b.closeCh:
		return
	}

	// errors are logged by the middleware
	_ = handler(event)
}

// Close stops accepting events and waits for running handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	// Queued handlers are dropped; running ones finish.
	close(b.closeCh)
	b.wg.Wait()

	b.log.Info("event bus closed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisMessage represents a message received from Redis Pub/Sub.
type RedisMessage struct {
	Channel string
	Payload []byte
	Err     error
}

// PubSubClient is the pub/sub transport of RedisEventBus.
type PubSubClient interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan RedisMessage, error)
}

// RedisEventBus is a Redis Pub/Sub based implementation of EventBus.
// Events published here reach local handlers directly and handlers of other
// instances through Redis.
type RedisEventBus struct {
	client      PubSubClient
	localBus    *InMemoryEventBus
	channelName string
	instanceID  string
	timeout     time.Duration
	log         *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.RWMutex
	closed      bool
}

// RedisEventBusConfig contains configuration for RedisEventBus.
type RedisEventBusConfig struct {
	// ChannelName is the Redis channel for events.
	ChannelName string `mapstructure:"channel"`

	// InstanceID identifies this instance so its own events are not replayed.
	InstanceID string `mapstructure:"instance_id"`

	// PublishTimeout bounds one Redis publish.
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`

	// Local configures the bus that runs the handlers.
	Local InMemoryEventBusConfig `mapstructure:"local"`
}

// DefaultRedisEventBusConfig returns sensible defaults.
func DefaultRedisEventBusConfig() RedisEventBusConfig {
	return RedisEventBusConfig{
		ChannelName:    "matchengine:events",
		PublishTimeout: 2 * time.Second,
		Local:          DefaultInMemoryEventBusConfig(),
	}
}

// NewRedisEventBus creates a Redis-backed event bus and starts listening.
func NewRedisEventBus(client PubSubClient, config RedisEventBusConfig, log *zap.Logger) (*RedisEventBus, error) {
	if client == nil {
		return nil, errors.New("pub/sub client is required")
	}
	defaults := DefaultRedisEventBusConfig()
	if config.ChannelName == "" {
		config.ChannelName = defaults.ChannelName
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaults.PublishTimeout
	}
	log = logger.OrNop(log).Named("eventbus").With(zap.String("instance_id", config.InstanceID))

	ctx, cancel := context.WithCancel(context.Background())

	bus := &RedisEventBus{
		client:      client,
		localBus:    NewInMemoryEventBus(config.Local, log),
		channelName: config.ChannelName,
		instanceID:  config.InstanceID,
		timeout:     config.PublishTimeout,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}

	messages, err := client.Subscribe(ctx, config.ChannelName)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", config.ChannelName, err)
	}

	bus.wg.Add(1)
	go func() {
		defer bus.wg.Done()
		bus.subscriptionLoop(messages)
	}()

	return bus, nil
}

// Subscribe registers a handler for a specific event type.
func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.localBus.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for all events.
func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.localBus.SubscribeAll(handler)
}

// Publish sends an event to Redis and to local handlers. A failed Redis
// publish is logged; local handlers still run.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(eventEnvelope{
		InstanceID:  b.instanceID,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channelName, data); err != nil {
		b.log.Error("failed to publish to redis", zap.String("event_type", string(event.EventType())), zap.Error(err))
	}

	return b.localBus.Publish(event)
}

// subscriptionLoop processes messages from Redis.
func (b *RedisEventBus) subscriptionLoop(messages <-chan RedisMessage) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Err != nil {
				b.log.Error("redis subscription error", zap.Error(msg.Err))
				continue
			}
			b.handleRedisMessage(msg)
		}
	}
}

// handleRedisMessage replays a remote event on the local bus.
func (b *RedisEventBus) handleRedisMessage(msg RedisMessage) {
	var envelope eventEnvelope
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		b.log.Error("failed to unmarshal event", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}

	// already delivered locally
	if envelope.InstanceID == b.instanceID {
		return
	}

	event := &reconstructedEvent{
		eventType:   envelope.EventType,
		aggregateID: envelope.AggregateID,
		occurredAt:  envelope.OccurredAt,
		payload:     envelope.Payload,
	}

	if err := b.localBus.Publish(event); err != nil {
		b.log.Error("failed to process remote event", zap.Error(err))
	}
}

// Close stops the listener and the local bus.
func (b *RedisEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	return b.localBus.Close()
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

type eventEnvelope struct {
	InstanceID  string                 `json:"instance_id"`
	EventType   shared.EventType       `json:"event_type"`
	AggregateID string                 `json:"aggregate_id"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Payload     map[string]interface{} `json:"payload"`
}

// reconstructedEvent is used to recreate events from Redis messages.
type reconstructedEvent struct {
	eventType   shared.EventType
	aggregateID string
	occurredAt  time.Time
	payload     map[string]interface{}
}

func (e *reconstructedEvent) EventType() shared.EventType     { return e.eventType }
func (e *reconstructedEvent) AggregateID() string             { return e.aggregateID }
func (e *reconstructedEvent) OccurredAt() time.Time           { return e.occurredAt }
func (e *reconstructedEvent) Payload() map[string]interface{} { return e.payload }
