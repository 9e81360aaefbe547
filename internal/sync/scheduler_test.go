package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailgateway/internal/lock"
	"github.com/nhle/mailgateway/internal/model"
)

// fakeRunner reports ErrBusy while a run is in progress, like Pipeline.
type fakeRunner struct {
	lock *lock.Local
	err  error

	mu       gosync.Mutex
	calls    int
	triggers []model.SyncTrigger

	// When set, TryRun signals entered and waits for release while holding
	// the lock.
	entered chan struct{}
	release chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{lock: lock.NewLocal()}
}

func (r *fakeRunner) TryRun(ctx context.Context, trigger model.SyncTrigger, lookback time.Duration) (*RunResult, error) {
	ok, _ := r.lock.TryLock(ctx)
	if !ok {
		return nil, ErrBusy
	}
	defer r.lock.Unlock(ctx)

	r.mu.Lock()
	r.calls++
	r.triggers = append(r.triggers, trigger)
	r.mu.Unlock()

	if r.entered != nil {
		r.entered <- struct{}{}
		<-r.release
	}
	if r.err != nil {
		return nil, r.err
	}
	return &RunResult{}, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeStats struct{ calls int }

func (f *fakeStats) Stats(context.Context) (*model.Stats, error) {
	f.calls++
	return &model.Stats{Total: 3}, nil
}

func TestSchedulerDropsMisfiredRun(t *testing.T) {
	runner := newFakeRunner()
	s := NewScheduler(runner, nil, SchedulerConfig{
		Interval:     time.Hour,
		MisfireGrace: 15 * time.Minute,
	}, zerolog.Nop())

	s.fire(time.Now().Add(-20*time.Minute), model.TriggerScheduled)

	assert.Zero(t, runner.callCount())
	assert.Equal(t, 1, s.Status().Missed)

	s.fire(time.Now().Add(-time.Minute), model.TriggerScheduled)
	assert.Equal(t, 1, runner.callCount())
	assert.Equal(t, 1, s.Status().Runs)
}

func TestSchedulerSkipsOverlappingRun(t *testing.T) {
	runner := newFakeRunner()
	runner.entered = make(chan struct{})
	runner.release = make(chan struct{})
	stats := &fakeStats{}
	s := NewScheduler(runner, stats, SchedulerConfig{Interval: time.Hour}, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		s.fire(time.Now(), model.TriggerScheduled)
		close(done)
	}()
	<-runner.entered
	assert.Equal(t, StateRunning, s.Status().State)

	s.fire(time.Now(), model.TriggerScheduled)
	assert.Equal(t, 1, s.Status().Skipped)

	close(runner.release)
	<-done

	st := s.Status()
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, 1, st.Skipped)
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 1, runner.callCount())
	assert.Equal(t, 1, stats.calls)
}

func TestSchedulerCountsFailures(t *testing.T) {
	runner := newFakeRunner()
	runner.err = errors.New("list messages failed: 503 - down")
	s := NewScheduler(runner, nil, SchedulerConfig{Interval: time.Hour}, zerolog.Nop())

	s.fire(time.Now(), model.TriggerScheduled)

	st := s.Status()
	assert.Equal(t, 1, st.Failed)
	assert.Zero(t, st.Runs)
	assert.Contains(t, st.LastError, "503")

	// A later success clears the error.
	runner.err = nil
	s.fire(time.Now(), model.TriggerScheduled)
	st = s.Status()
	assert.Equal(t, 1, st.Runs)
	assert.Empty(t, st.LastError)
}

func TestSchedulerWarmupRun(t *testing.T) {
	runner := newFakeRunner()
	s := NewScheduler(runner, nil, SchedulerConfig{
		Interval:    time.Hour,
		WarmupDelay: 10 * time.Millisecond,
	}, zerolog.Nop())

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool {
		return runner.callCount() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))

	runner.mu.Lock()
	assert.Equal(t, []model.SyncTrigger{model.TriggerWarmup}, runner.triggers)
	runner.mu.Unlock()

	assert.Equal(t, StateStopped, s.Status().State)
	assert.ErrorIs(t, s.Start(), ErrSchedulerStopped)
}

func TestSchedulerReportsNextRun(t *testing.T) {
	fixed := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	s := NewScheduler(newFakeRunner(), nil, SchedulerConfig{
		Interval:    time.Hour,
		WarmupDelay: time.Hour,
	}, zerolog.Nop())
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Start())
	defer s.Stop(context.Background())

	st := s.Status()
	assert.Equal(t, "idle", st.StateName)
	assert.Equal(t, fixed, st.StartedAt)
	assert.Equal(t, fixed.Add(time.Hour), st.NextRun)
}

func TestSchedulerStopWaitsForInFlightRun(t *testing.T) {
	runner := newFakeRunner()
	runner.entered = make(chan struct{})
	runner.release = make(chan struct{})
	s := NewScheduler(runner, nil, SchedulerConfig{Interval: time.Hour}, zerolog.Nop())

	require.NoError(t, s.Start())
	<-runner.entered

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	require.NoError(t, <-stopped)
	assert.Equal(t, 1, s.Status().Runs)
}

func TestSchedulerStopHonorsContext(t *testing.T) {
	runner := newFakeRunner()
	runner.entered = make(chan struct{})
	runner.release = make(chan struct{})
	s := NewScheduler(runner, nil, SchedulerConfig{Interval: time.Hour}, zerolog.Nop())

	require.NoError(t, s.Start())
	<-runner.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)

	close(runner.release)
}

func TestSchedulerStopBeforeStart(t *testing.T) {
	s := NewScheduler(newFakeRunner(), nil, SchedulerConfig{}, zerolog.Nop())
	require.NoError(t, s.Stop(context.Background()))
	assert.ErrorIs(t, s.Start(), ErrSchedulerStopped)
}
