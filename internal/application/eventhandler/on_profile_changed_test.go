package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unimatch/match-engine/internal/domain/matching"
	"github.com/unimatch/match-engine/internal/domain/shared"
)

type fakeMaintainer struct {
	mu            sync.Mutex
	invalidated   []string
	precomputed   []string
	modes         []matching.Mode
	precomputeErr []error
}

func (f *fakeMaintainer) Invalidate(_ context.Context, studentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, studentID)
	return nil
}

func (f *fakeMaintainer) Precompute(_ context.Context, studentID string, modes ...matching.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.precomputed = append(f.precomputed, studentID)
	f.modes = modes
	if len(f.precomputeErr) > 0 {
		err := f.precomputeErr[0]
		f.precomputeErr = f.precomputeErr[1:]
		return err
	}
	return nil
}

type fakeBus struct {
	handlers map[shared.EventType][]shared.EventHandler
}

func (b *fakeBus) Subscribe(t shared.EventType, h shared.EventHandler) error {
	if b.handlers == nil {
		b.handlers = make(map[shared.EventType][]shared.EventHandler)
	}
	b.handlers[t] = append(b.handlers[t], h)
	return nil
}

func TestOnProfileChanged_UpdatePrecomputes(t *testing.T) {
	m := &fakeMaintainer{}
	h, err := NewOnProfileChangedHandler(m, Config{Precompute: true, Modes: []string{"ACADEMIC"}}, nil)
	require.NoError(t, err)

	require.NoError(t, h.Handle(shared.NewProfileUpdatedEvent("s1", "transcript")))

	assert.Equal(t, []string{"s1"}, m.precomputed)
	assert.Equal(t, []matching.Mode{matching.ModeAcademic}, m.modes)
	assert.Empty(t, m.invalidated)
}

func TestOnProfileChanged_InvalidateOnlyWhenPrecomputeDisabled(t *testing.T) {
	m := &fakeMaintainer{}
	h, err := NewOnProfileChangedHandler(m, Config{Precompute: false}, nil)
	require.NoError(t, err)

	require.NoError(t, h.Handle(shared.NewProfileUpdatedEvent("s1")))

	assert.Equal(t, []string{"s1"}, m.invalidated)
	assert.Empty(t, m.precomputed)
}

func TestOnProfileChanged_DeleteInvalidates(t *testing.T) {
	m := &fakeMaintainer{}
	h, err := NewOnProfileChangedHandler(m, DefaultConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, h.Handle(shared.NewProfileDeletedEvent("s2")))

	assert.Equal(t, []string{"s2"}, m.invalidated)
	assert.Empty(t, m.precomputed)
}

func TestOnProfileChanged_RetriesUnavailableStore(t *testing.T) {
	unavailable := shared.WrapError("cache", "Invalidate", shared.ErrServiceUnavailable, "bump failed", errors.New("dial tcp"))
	m := &fakeMaintainer{precomputeErr: []error{unavailable}}
	h, err := NewOnProfileChangedHandler(m, DefaultConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, h.Handle(shared.NewProfileUpdatedEvent("s1")))
	assert.Len(t, m.precomputed, 2)
}

func TestOnProfileChanged_VanishedProfileIsIgnored(t *testing.T) {
	m := &fakeMaintainer{precomputeErr: []error{shared.ErrProfileNotFound}}
	h, err := NewOnProfileChangedHandler(m, DefaultConfig(), nil)
	require.NoError(t, err)

	assert.NoError(t, h.Handle(shared.NewProfileUpdatedEvent("gone")))
	assert.Len(t, m.precomputed, 1)
}

func TestOnProfileChanged_PermanentErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	m := &fakeMaintainer{precomputeErr: []error{boom}}
	core, logs := observer.New(zap.ErrorLevel)
	h, err := NewOnProfileChangedHandler(m, DefaultConfig(), zap.New(core))
	require.NoError(t, err)

	assert.ErrorIs(t, h.Handle(shared.NewProfileUpdatedEvent("s1")), boom)
	assert.Len(t, m.precomputed, 1)
	assert.Equal(t, 1, logs.FilterMessage("failed to supersede cached matches").Len())
}

func TestOnProfileChanged_RejectsUnknownMode(t *testing.T) {
	_, err := NewOnProfileChangedHandler(&fakeMaintainer{}, Config{Modes: []string{"FASTEST"}}, nil)
	assert.ErrorIs(t, err, shared.ErrInvalidMode)
}

func TestRegister_SubscribesEventTypes(t *testing.T) {
	bus := &fakeBus{}
	h, err := NewOnProfileChangedHandler(&fakeMaintainer{}, DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, h.Register(bus))
	require.NoError(t, NewOnCatalogUpdatedHandler(nil, nil).Register(bus))

	assert.Len(t, bus.handlers[shared.EventProfileUpdated], 1)
	assert.Len(t, bus.handlers[shared.EventProfileDeleted], 1)
	assert.Len(t, bus.handlers[shared.EventCatalogUpdated], 1)
}

type fakeVersions struct {
	forgotten int
}

func (f *fakeVersions) ForgetCatalogVersion() { f.forgotten++ }

func TestOnCatalogUpdated_ForgetsVersion(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	versions := &fakeVersions{}
	h := NewOnCatalogUpdatedHandler(versions, zap.New(core))

	require.NoError(t, h.Handle(shared.NewCatalogUpdatedEvent("p1", "p2")))
	assert.Equal(t, 1, versions.forgotten)
	assert.Equal(t, 1, logs.Len())
}

func TestOnCatalogUpdated_WithoutVersionCache(t *testing.T) {
	h := NewOnCatalogUpdatedHandler(nil, nil)
	assert.NoError(t, h.Handle(shared.NewCatalogUpdatedEvent()))
}
