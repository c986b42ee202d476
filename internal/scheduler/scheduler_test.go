package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/seefeesaw/afroverse-sub006/pkg/errors"
)

func newTestScheduler() *Scheduler {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTrigger_RunsJobAndRecordsStatus(t *testing.T) {
	s := newTestScheduler()

	var runs atomic.Int32
	s.Every("sweep", time.Minute, func(ctx context.Context) (int, error) {
		runs.Add(1)
		return 7, nil
	})

	status, err := s.Trigger(context.Background(), "sweep")

	require.NoError(t, err)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, "sweep", status.Name)
	assert.Equal(t, 7, status.LastCount)
	assert.Equal(t, int64(1), status.RunCount)
	assert.Empty(t, status.LastError)
	assert.False(t, status.Running)
}

func TestTrigger_UnknownJob(t *testing.T) {
	s := newTestScheduler()

	_, err := s.Trigger(context.Background(), "nope")

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTrigger_RecordsJobError(t *testing.T) {
	s := newTestScheduler()
	s.Every("sweep", time.Minute, func(ctx context.Context) (int, error) {
		return 0, errors.New("pg connection refused")
	})

	status, err := s.Trigger(context.Background(), "sweep")

	require.NoError(t, err)
	assert.Equal(t, "pg connection refused", status.LastError)

	// A successful run clears the recorded error.
	s.mu.Lock()
	s.jobs["sweep"].fn = func(ctx context.Context) (int, error) { return 1, nil }
	s.mu.Unlock()

	status, err = s.Trigger(context.Background(), "sweep")
	require.NoError(t, err)
	assert.Empty(t, status.LastError)
}

func TestTrigger_ConflictWhileRunning(t *testing.T) {
	s := newTestScheduler()

	started := make(chan struct{})
	release := make(chan struct{})
	s.Every("slow", time.Minute, func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 0, nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.Trigger(context.Background(), "slow")
		assert.NoError(t, err)
	}()

	<-started
	_, err := s.Trigger(context.Background(), "slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	close(release)
	wg.Wait()
}

func TestRun_DispatchesDueJobsWithoutOverlap(t *testing.T) {
	s := newTestScheduler()
	s.scan = 5 * time.Millisecond

	var concurrent atomic.Int32
	var peak atomic.Int32
	var runs atomic.Int32
	s.Every("slow", time.Nanosecond, func(ctx context.Context) (int, error) {
		cur := concurrent.Add(1)
		if cur > peak.Load() {
			peak.Store(cur)
		}
		time.Sleep(20 * time.Millisecond)
		concurrent.Add(-1)
		runs.Add(1)
		return 0, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	// Interval is far shorter than the run time, so overlap would occur
	// without the running guard.
	assert.GreaterOrEqual(t, runs.Load(), int32(2))
	assert.Equal(t, int32(1), peak.Load())
}

func TestNextRun_Daily(t *testing.T) {
	s := newTestScheduler()
	// Wednesday 2026-02-04 09:15 UTC.
	s.now = fixedClock(time.Date(2026, 2, 4, 9, 15, 0, 0, time.UTC))

	s.DailyAt("morning", 7, 0, func(ctx context.Context) (int, error) { return 0, nil })
	s.DailyAt("evening", 23, 0, func(ctx context.Context) (int, error) { return 0, nil })

	statuses := s.Status()
	byName := make(map[string]JobStatus, len(statuses))
	for _, st := range statuses {
		byName[st.Name] = st
	}

	// 07:00 already passed today, 23:00 has not.
	assert.Equal(t, time.Date(2026, 2, 5, 7, 0, 0, 0, time.UTC), byName["morning"].NextRun)
	assert.Equal(t, time.Date(2026, 2, 4, 23, 0, 0, 0, time.UTC), byName["evening"].NextRun)
}

func TestNextRun_Weekly(t *testing.T) {
	s := newTestScheduler()
	// Wednesday 2026-02-04 09:15 UTC.
	s.now = fixedClock(time.Date(2026, 2, 4, 9, 15, 0, 0, time.UTC))

	s.WeeklyAt("reset", time.Monday, 8, 0, func(ctx context.Context) (int, error) { return 0, nil })

	next := s.Status()[0].NextRun
	assert.Equal(t, time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.Monday, next.Weekday())
}

func TestStatus_SortedByName(t *testing.T) {
	s := newTestScheduler()
	s.Every("zebra", time.Minute, func(ctx context.Context) (int, error) { return 0, nil })
	s.Every("alpha", time.Minute, func(ctx context.Context) (int, error) { return 0, nil })

	statuses := s.Status()
	require.Len(t, statuses, 2)
	assert.Equal(t, "alpha", statuses[0].Name)
	assert.Equal(t, "zebra", statuses[1].Name)
}
