package logger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	l, err := New(true, false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New(false, true)
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestFromContext(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	attached := zap.New(core)

	ctx := WithContext(context.Background(), attached)
	FromContext(ctx, nil).Info("hello", StudentID("s-1"), Latency(time.Second))

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "s-1", entries[0].ContextMap()["student_id"])

	// no logger attached and no fallback
	assert.NotNil(t, FromContext(context.Background(), nil))
}
