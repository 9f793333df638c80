package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unimatch/match-engine/internal/domain/shared"
)

func syncBus(t *testing.T) *InMemoryEventBus {
	t.Helper()
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false}, nil)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestInMemoryEventBus_DeliversByType(t *testing.T) {
	bus := syncBus(t)

	var updated, deleted, all int
	require.NoError(t, bus.Subscribe(shared.EventProfileUpdated, func(shared.Event) error { updated++; return nil }))
	require.NoError(t, bus.Subscribe(shared.EventProfileDeleted, func(shared.Event) error { deleted++; return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return nil }))

	require.NoError(t, bus.Publish(shared.NewProfileUpdatedEvent("s1")))
	require.NoError(t, bus.Publish(shared.NewProfileUpdatedEvent("s2")))
	require.NoError(t, bus.Publish(shared.NewProfileDeletedEvent("s1")))

	assert.Equal(t, 2, updated)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 3, all)
}

func TestInMemoryEventBus_SyncReturnsFirstError(t *testing.T) {
	bus := syncBus(t)
	boom := errors.New("boom")

	ran := 0
	require.NoError(t, bus.Subscribe(shared.EventProfileUpdated, func(shared.Event) error { ran++; return boom }))
	require.NoError(t, bus.Subscribe(shared.EventProfileUpdated, func(shared.Event) error { ran++; return nil }))

	assert.ErrorIs(t, bus.Publish(shared.NewProfileUpdatedEvent("s1")), boom)
	assert.Equal(t, 2, ran)
}

func TestInMemoryEventBus_RecoversPanics(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{}, zap.New(core))
	defer bus.Close()

	require.NoError(t, bus.Subscribe(shared.EventCatalogUpdated, func(shared.Event) error { panic("bad handler") }))

	err := bus.Publish(shared.NewCatalogUpdatedEvent())
	assert.ErrorIs(t, err, ErrHandlerPanic)
	assert.Equal(t, 1, logs.FilterMessage("event handler panicked").Len())
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2}, nil)

	var done atomic.Int32
	require.NoError(t, bus.Subscribe(shared.EventProfileUpdated, func(shared.Event) error {
		time.Sleep(10 * time.Millisecond)
		done.Add(1)
		return nil
	}))

	started := make(chan struct{})
	require.NoError(t, bus.Subscribe(shared.EventProfileDeleted, func(shared.Event) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		done.Add(1)
		return nil
	}))
	require.NoError(t, bus.Publish(shared.NewProfileDeletedEvent("s1")))
	<-started

	require.NoError(t, bus.Close())
	assert.GreaterOrEqual(t, done.Load(), int32(1), "running handler finishes before Close returns")

	assert.ErrorIs(t, bus.Publish(shared.NewProfileUpdatedEvent("s1")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventProfileUpdated, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := syncBus(t)
	assert.Error(t, bus.Subscribe(shared.EventProfileUpdated, nil))
	assert.Error(t, bus.Publish(nil))
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

type fakeHub struct {
	mu   sync.Mutex
	subs map[string][]chan RedisMessage
	fail error
}

func newFakeHub() *fakeHub {
	return &fakeHub{subs: make(map[string][]chan RedisMessage)}
}

func (h *fakeHub) Publish(_ context.Context, channel string, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		return h.fail
	}
	for _, ch := range h.subs[channel] {
		ch <- RedisMessage{Channel: channel, Payload: payload}
	}
	return nil
}

func (h *fakeHub) Subscribe(_ context.Context, channel string) (<-chan RedisMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan RedisMessage, 16)
	h.subs[channel] = append(h.subs[channel], ch)
	return ch, nil
}

func newRedisBus(t *testing.T, hub *fakeHub, instance string) *RedisEventBus {
	t.Helper()
	cfg := DefaultRedisEventBusConfig()
	cfg.InstanceID = instance
	cfg.Local = InMemoryEventBusConfig{AsyncMode: false}
	bus, err := NewRedisEventBus(hub, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestRedisEventBus_RelaysToOtherInstances(t *testing.T) {
	hub := newFakeHub()
	api := newRedisBus(t, hub, "api")
	worker := newRedisBus(t, hub, "worker")

	var local atomic.Int32
	require.NoError(t, api.Subscribe(shared.EventProfileUpdated, func(shared.Event) error {
		local.Add(1)
		return nil
	}))

	received := make(chan shared.Event, 1)
	require.NoError(t, worker.Subscribe(shared.EventProfileUpdated, func(e shared.Event) error {
		received <- e
		return nil
	}))

	require.NoError(t, api.Publish(shared.NewProfileUpdatedEvent("s1", "transcript")))

	select {
	case e := <-received:
		assert.Equal(t, shared.EventProfileUpdated, e.EventType())
		assert.Equal(t, "s1", e.AggregateID())
		assert.Equal(t, "s1", e.Payload()["student_id"])
	case <-time.After(time.Second):
		t.Fatal("event was not relayed")
	}

	// the publisher's own copy from redis is skipped
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), local.Load())
}

func TestRedisEventBus_PublishFailureStillRunsLocalHandlers(t *testing.T) {
	hub := newFakeHub()
	hub.fail = errors.New("connection refused")
	bus := newRedisBus(t, hub, "api")

	ran := false
	require.NoError(t, bus.Subscribe(shared.EventProfileDeleted, func(shared.Event) error { ran = true; return nil }))

	require.NoError(t, bus.Publish(shared.NewProfileDeletedEvent("s1")))
	assert.True(t, ran)
}

func TestRedisEventBus_IgnoresMalformedMessages(t *testing.T) {
	hub := newFakeHub()
	bus := newRedisBus(t, hub, "worker")

	var calls atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { calls.Add(1); return nil }))

	require.NoError(t, hub.Publish(context.Background(), DefaultRedisEventBusConfig().ChannelName, []byte("{not json")))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestRedisEventBus_RequiresClient(t *testing.T) {
	_, err := NewRedisEventBus(nil, DefaultRedisEventBusConfig(), nil)
	assert.Error(t, err)
}
