package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailgateway/internal/model"
)

// SchedulerState represents the lifecycle state of the Scheduler.
type SchedulerState int

const (
	StateIdle SchedulerState = iota
	StateRunning
	StateStopped
)

func (s SchedulerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrSchedulerStopped is returned by Start after Stop.
var ErrSchedulerStopped = errors.New("scheduler stopped")

// Runner executes one ingestion run without waiting for a busy lock.
// *Pipeline satisfies it.
type Runner interface {
	TryRun(ctx context.Context, trigger model.SyncTrigger, lookback time.Duration) (*RunResult, error)
}

// StatsSource reports store statistics logged after each successful run.
type StatsSource interface {
	Stats(ctx context.Context) (*model.Stats, error)
}

// SchedulerConfig holds the timing of scheduled runs.
type SchedulerConfig struct {
	Interval     time.Duration
	Lookback     time.Duration
	WarmupDelay  time.Duration
	MisfireGrace time.Duration
}

// SchedulerConfigFromConfig maps configuration onto scheduler timing.
func SchedulerConfigFromConfig(c model.SyncConfig) SchedulerConfig {
	return SchedulerConfig{
		Interval:     c.Interval(),
		Lookback:     c.Lookback(),
		WarmupDelay:  c.WarmupDelay(),
		MisfireGrace: c.MisfireGrace(),
	}
}

// SchedulerStatus is a snapshot of the scheduler.
type SchedulerStatus struct {
	State     SchedulerState `json:"-"`
	StateName string         `json:"state"`
	StartedAt time.Time      `json:"started_at,omitempty"`
	NextRun   time.Time      `json:"next_run,omitempty"`
	LastRun   time.Time      `json:"last_run,omitempty"`
	LastError string         `json:"last_error,omitempty"`
	Runs      int            `json:"runs"`
	Failed    int            `json:"failed"`
	Skipped   int            `json:"skipped"`
	Missed    int            `json:"missed"`
}

// Scheduler fires the ingestion run on a fixed interval plus one warm-up
// run shortly after Start. A firing that finds a run in progress is
// skipped; one that starts later than MisfireGrace after its scheduled
// time is dropped as missed.
type Scheduler struct {
	runner Runner
	stats  StatsSource
	cfg    SchedulerConfig
	logger zerolog.Logger
	now    func() time.Time

	mu        gosync.Mutex
	started   bool
	stopped   bool
	startedAt time.Time
	ticker    *time.Ticker
	warmup    *time.Timer
	stopCh    chan struct{}
	loopDone  chan struct{}
	inFlight  int
	wg        gosync.WaitGroup
	status    SchedulerStatus
}

// NewScheduler creates a Scheduler. stats may be nil.
func NewScheduler(
	runner Runner,
	stats StatsSource,
	cfg SchedulerConfig,
	logger zerolog.Logger,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Scheduler{
		runner:   runner,
		stats:    stats,
		cfg:      cfg,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Start schedules the recurring run and the warm-up run. Calling Start on
// a running scheduler is a no-op; after Stop it fails.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	if s.started {
		return nil
	}

	s.started = true
	s.startedAt = s.now()
	s.ticker = time.NewTicker(s.cfg.Interval)

	warmupAt := s.startedAt.Add(s.cfg.WarmupDelay)
	s.warmup = time.AfterFunc(s.cfg.WarmupDelay, func() {
		s.dispatch(warmupAt, model.TriggerWarmup)
	})

	go s.loop(s.ticker.C)

	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Dur("lookback", s.cfg.Lookback).
		Dur("warmup_delay", s.cfg.WarmupDelay).
		Msg("scheduler started")

	return nil
}

// Stop cancels all future firings and waits for in-flight runs to finish,
// or for ctx to be done. Runs are never cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	wasStarted := s.started
	if wasStarted {
		s.ticker.Stop()
		s.warmup.Stop()
		close(s.stopCh)
	}
	s.mu.Unlock()

	if wasStarted {
		<-s.loopDone
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn().Msg("scheduler stopped with a run still in flight")
		return ctx.Err()
	}
}

// Status returns a snapshot of the scheduler's state and counters.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.status
	switch {
	case s.stopped:
		st.State = StateStopped
	case s.inFlight > 0:
		st.State = StateRunning
	default:
		st.State = StateIdle
	}
	st.StateName = st.State.String()
	st.StartedAt = s.startedAt

	if s.started && !s.stopped {
		elapsed := s.now().Sub(s.startedAt)
		ticks := elapsed/s.cfg.Interval + 1
		st.NextRun = s.startedAt.Add(ticks * s.cfg.Interval)
	}
	return st
}

// loop turns ticks into firings until Stop.
func (s *Scheduler) loop(ticks <-chan time.Time) {
	defer close(s.loopDone)
	for {
		select {
		case <-s.stopCh:
			return
		case t := <-ticks:
			s.dispatch(t, model.TriggerScheduled)
		}
	}
}

// dispatch starts a firing in its own goroutine so a long run never holds
// up the ticker; overlap is resolved by the runner's lock.
func (s *Scheduler) dispatch(scheduledAt time.Time, trigger model.SyncTrigger) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.fire(scheduledAt, trigger)
	}()
}

// fire performs one firing: misfire check, then a non-blocking run.
func (s *Scheduler) fire(scheduledAt time.Time, trigger model.SyncTrigger) {
	log := s.logger.With().Str("trigger", string(trigger)).Logger()

	lateness := s.now().Sub(scheduledAt)
	if s.cfg.MisfireGrace > 0 && lateness > s.cfg.MisfireGrace {
		s.mu.Lock()
		s.status.Missed++
		s.mu.Unlock()
		log.Warn().
			Time("scheduled_at", scheduledAt).
			Dur("late_by", lateness).
			Msg("run missed its grace window, dropping")
		return
	}

	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()

	// Independent of Stop: an in-flight run is allowed to finish.
	ctx := context.Background()
	result, err := s.runner.TryRun(ctx, trigger, s.cfg.Lookback)

	s.mu.Lock()
	s.inFlight--
	switch {
	case errors.Is(err, ErrBusy):
		s.status.Skipped++
	case err != nil:
		s.status.Failed++
		s.status.LastRun = s.now()
		s.status.LastError = err.Error()
	default:
		s.status.Runs++
		s.status.LastRun = s.now()
		s.status.LastError = ""
	}
	s.mu.Unlock()

	switch {
	case errors.Is(err, ErrBusy):
		log.Info().Msg("previous run still in progress, skipping")
		return
	case err != nil:
		// Already logged by the pipeline; future firings continue.
		log.Error().Err(err).Msg("scheduled run failed")
		return
	}

	log.Info().Int("processed", len(result.Processed)).Msg("scheduled run completed")
	s.logStats(ctx, log)
}

func (s *Scheduler) logStats(ctx context.Context, log zerolog.Logger) {
	if s.stats == nil {
		return
	}
	stats, err := s.stats.Stats(ctx)
	if err != nil {
		log.Error().Err(err).Msg("reading store stats")
		return
	}
	log.Info().
		Int("total", stats.Total).
		Int("unread", stats.Unread).
		Int("with_attachments", stats.WithAttachments).
		Msg("store stats")
}
