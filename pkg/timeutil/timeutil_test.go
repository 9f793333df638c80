package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = LoadLocation("Asia/Almaty")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Almaty", loc.String())

	_, err = LoadLocation("Mars/Olympus")
	assert.Error(t, err)
	assert.Equal(t, time.UTC, LocationOrUTC("Mars/Olympus"))
}

func TestWindowIndex(t *testing.T) {
	base := time.Unix(600, 0)

	assert.Equal(t, int64(2), WindowIndex(base, 5*time.Minute))
	assert.Equal(t, int64(2), WindowIndex(base.Add(299*time.Second), 5*time.Minute))
	assert.Equal(t, int64(3), WindowIndex(base.Add(300*time.Second), 5*time.Minute))
	assert.Equal(t, int64(600), WindowIndex(base, 0), "sub-second windows count as one second")
	assert.Equal(t, int64(-1), WindowIndex(time.Unix(-1, 0), time.Minute))
}

func TestWindowStart(t *testing.T) {
	ts := time.Date(2026, 3, 4, 10, 17, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 4, 10, 15, 0, 0, time.UTC), WindowStart(ts, 5*time.Minute))
}

func TestFormatRelative(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		at   time.Time
		want string
	}{
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-3 * time.Minute), "3m ago"},
		{now.Add(-5 * time.Hour), "5h ago"},
		{now.Add(-49 * time.Hour), "2d ago"},
		{now.Add(30 * time.Second), "in under a minute"},
		{now.Add(90 * time.Minute), "in 1h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatRelative(tt.at, now))
	}
}
