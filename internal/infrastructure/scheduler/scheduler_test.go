package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job" }
func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func TestParseCronExpression_Next(t *testing.T) {
	from := time.Date(2026, 3, 4, 10, 17, 30, 0, time.UTC) // Wednesday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 3, 4, 10, 18, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)},
		{"0 21 * * *", time.Date(2026, 3, 4, 21, 0, 0, 0, time.UTC)},
		{"0 9 * * *", time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)},
		{"0 0 * * 0", time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)},
		{"30 8 1 * *", time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC)},
		{"0 12 10-20/5 * *", time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)},
		{"0 0 1 * 5", time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)}, // Friday wins over the 1st
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ce.Next(from))
		})
	}
}

func TestParseCronExpression_Invalid(t *testing.T) {
	for _, expr := range []string{"* * * *", "60 * * * *", "*/0 * * * *", "5-1 * * * *", "a * * * *"} {
		_, err := ParseCronExpression(expr)
		assert.Error(t, err, expr)
	}
}

func TestCronExpression_NeverMatches(t *testing.T) {
	ce := MustParseCronExpression("0 0 31 2 *")
	assert.True(t, ce.Next(time.Now()).IsZero())
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 5m")
	require.NoError(t, err)
	assert.Equal(t, "@every 5m0s", s.String())

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, from.Add(5*time.Minute), s.Next(from))

	_, err = ParseSchedule("@every 10ms")
	assert.Error(t, err)

	s, err = ParseSchedule("*/5 * * * *")
	require.NoError(t, err)
	assert.IsType(t, &CronExpression{}, s)
}

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(Config{}, nil)
	job := &countingJob{name: "a"}

	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Minute)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "b"}, nil), ErrNilSchedule)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "@every 1m0s", jobs[0].Schedule)
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	s := NewScheduler(Config{TickInterval: 5 * time.Millisecond}, nil)
	job := &countingJob{name: "tick"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Second)))

	// move the clock past the first run
	base := time.Now()
	s.now = func() time.Time { return base.Add(2 * time.Second) }

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.Eventually(t, func() bool { return job.runs.Load() >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	assert.Equal(t, int32(1), job.runs.Load(), "clock is frozen, so the job ran once")
	info := s.Jobs()[0]
	assert.Equal(t, int64(1), info.RunCount)
	require.NotNil(t, info.LastResult)
	assert.True(t, info.LastResult.Success())
}

func TestScheduler_DoesNotOverlapRuns(t *testing.T) {
	s := NewScheduler(Config{TickInterval: 2 * time.Millisecond}, nil)
	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Second)))

	now := time.Now()
	var offset atomic.Int64
	s.now = func() time.Time { return now.Add(time.Duration(offset.Load())) }
	offset.Store(int64(2 * time.Second))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)

	offset.Store(int64(10 * time.Second))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), job.runs.Load())

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(job.block)
	require.NoError(t, s.Stop())
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(Config{}, nil)
	failing := &countingJob{name: "fail", err: errors.New("boom")}
	require.NoError(t, s.Register(failing, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "fail")
	require.Error(t, err)
	assert.Equal(t, "boom", res.Error)
	assert.True(t, res.Manual)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.Equal(t, int64(1), s.Jobs()[0].FailCount)
}

type panickingJob struct{ countingJob }

func (j *panickingJob) Run(context.Context) error { panic("bad job") }

func TestScheduler_RecoversPanics(t *testing.T) {
	s := NewScheduler(Config{}, nil)
	require.NoError(t, s.Register(&panickingJob{countingJob{name: "panic"}}, NewIntervalSchedule(time.Hour)))

	_, err := s.RunNow(context.Background(), "panic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad job")
}
