// Package engine runs the periodic safety-check loop: collect signals, score
// them, keep the risk history and drive escalation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/terminal-bench/safetywatch/internal/checkin"
	"github.com/terminal-bench/safetywatch/internal/escalation"
	"github.com/terminal-bench/safetywatch/internal/events"
	"github.com/terminal-bench/safetywatch/internal/risk"
	"github.com/terminal-bench/safetywatch/internal/signals"
	"github.com/terminal-bench/safetywatch/internal/storage"
	"github.com/terminal-bench/safetywatch/pkg/logging"
)

// DefaultInterval is the time between scheduled cycles.
const DefaultInterval = 30 * time.Minute

var (
	ErrCycleInFlight  = errors.New("engine: cycle already in flight")
	ErrAlreadyRunning = errors.New("engine: already running")
	ErrNotRunning     = errors.New("engine: not running")
	ErrMissingScorer  = errors.New("engine: scorer is required")
)

// Collector snapshots the current inputs.
type Collector interface {
	Collect(ctx context.Context) (signals.Snapshot, error)
}

// Scorer turns a snapshot into a risk result. Implementations must not fail;
// remote problems are absorbed into a fallback score.
type Scorer interface {
	Score(ctx context.Context, snap signals.Snapshot, history []risk.Result) risk.Result
}

// Config holds engine settings.
type Config struct {
	UserID       string
	Interval     time.Duration
	Debounce     time.Duration
	InputTimeout time.Duration
	Now          func() time.Time
	Logger       *zap.Logger
}

// Deps are the engine's collaborators. Only Scorer is required. When
// Collector is nil the engine builds a signals.Collector from Usage and
// Location, using itself as the check-in source.
type Deps struct {
	Scorer    Scorer
	Collector Collector
	Usage     signals.UsageSource
	Location  signals.LocationSource
	Store     storage.Store
	Observer  Observer
}

// Status is the latest scored state.
type Status struct {
	Result    risk.Result     `json:"result"`
	Tier      escalation.Tier `json:"tier"`
	Label     string          `json:"label"`
	Trend     risk.Trend      `json:"trend"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Engine is one user's safety monitor.
type Engine struct {
	userID    string
	interval  time.Duration
	debounce  time.Duration
	now       func() time.Time
	logger    *zap.Logger
	collector Collector
	scorer    Scorer
	location  signals.LocationSource
	store     storage.Store
	observer  Observer

	history  *risk.History
	checkIns *checkin.Log

	// inFlight admits one cycle at a time; cycleMu is held for the
	// duration of that cycle so Stop can wait for it.
	inFlight atomic.Bool
	cycleMu  sync.Mutex

	// checkpointMu serializes load-modify-save so an older snapshot never
	// overwrites a newer one.
	checkpointMu sync.Mutex

	mu          sync.RWMutex
	state       escalation.State
	status      *Status
	lastCheckIn *time.Time
	nextCheckAt time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates the collaborators and builds an engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Scorer == nil {
		return nil, ErrMissingScorer
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("engine: invalid interval %s", cfg.Interval)
	}

	e := &Engine{
		userID:   cfg.UserID,
		interval: cfg.Interval,
		debounce: cfg.Debounce,
		now:      cfg.Now,
		logger:   logging.OrNop(cfg.Logger).With(zap.String("component", "engine")),
		scorer:   deps.Scorer,
		location: deps.Location,
		store:    deps.Store,
		observer: deps.Observer,
		history:  risk.NewHistory(),
		checkIns: checkin.NewLog(),
		state:    escalation.Initial(),
	}
	if e.userID == "" {
		e.userID = "anonymous"
	}
	if e.interval == 0 {
		e.interval = DefaultInterval
	}
	if e.debounce <= 0 {
		e.debounce = escalation.DefaultDebounce
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.observer == nil {
		e.observer = NopObserver{}
	}

	e.collector = deps.Collector
	if e.collector == nil {
		e.collector = signals.NewCollector(signals.CollectorConfig{
			Usage:        deps.Usage,
			Location:     deps.Location,
			CheckIn:      e,
			InputTimeout: cfg.InputTimeout,
			Now:          e.now,
			Logger:       cfg.Logger,
		})
	}
	return e, nil
}

// UserID returns the monitored user.
func (e *Engine) UserID() string {
	return e.userID
}

// Start runs one cycle immediately and then one every interval until Stop is
// called or ctx is done. A non-positive interval uses the configured one.
func (e *Engine) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = e.interval
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done

	e.logger.Info("engine started", zap.Duration("interval", interval))
	go e.loop(loopCtx, interval, done)
	return nil
}

func (e *Engine) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	defer e.exited(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.tick(ctx, interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx, interval)
		}
	}
}

// tick runs a scheduled cycle. The cycle gets a context that survives Stop
// so an in-flight cycle finishes instead of being aborted halfway.
func (e *Engine) tick(ctx context.Context, interval time.Duration) {
	e.mu.Lock()
	e.nextCheckAt = e.now().Add(interval)
	e.mu.Unlock()

	if _, err := e.RunCycle(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrCycleInFlight) {
		e.logger.Warn("scheduled cycle failed", zap.Error(err))
	}
}

// exited clears the run state when the loop ended because its parent
// context was cancelled rather than through Stop.
func (e *Engine) exited(done chan struct{}) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.done != done {
		return
	}
	e.cancel()
	e.cancel, e.done = nil, nil

	e.mu.Lock()
	e.nextCheckAt = time.Time{}
	e.mu.Unlock()
	e.logger.Info("engine stopped: context done")
}

// Stop cancels the schedule and waits for an in-flight cycle to finish.
func (e *Engine) Stop() error {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.runMu.Unlock()

	if cancel == nil {
		return ErrNotRunning
	}
	cancel()
	<-done

	// A manual cycle may still hold cycleMu.
	e.cycleMu.Lock()
	e.cycleMu.Unlock()

	e.mu.Lock()
	e.nextCheckAt = time.Time{}
	e.mu.Unlock()

	e.logger.Info("engine stopped")
	return nil
}

// Running reports whether the schedule is active.
func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.cancel != nil
}

// RunCycle performs collect, score, record and escalate. Scheduled ticks and
// manual triggers share it; while one cycle runs, others return
// ErrCycleInFlight without touching state. A collection failure abandons the
// cycle, leaves state unchanged and is reported to the observer.
func (e *Engine) RunCycle(ctx context.Context) (risk.Result, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.logger.Info("cycle already in flight, skipping")
		return risk.Result{}, ErrCycleInFlight
	}
	defer e.inFlight.Store(false)

	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	cycleID := uuid.NewString()
	log := e.logger.With(zap.String("cycle_id", cycleID))

	snap, err := guard(func() (signals.Snapshot, error) { return e.collector.Collect(ctx) })
	if err != nil {
		return risk.Result{}, e.abandon(cycleID, "collect", err)
	}

	history := e.history.Entries()
	res, err := guard(func() (risk.Result, error) { return e.scorer.Score(ctx, snap, history), nil })
	if err != nil {
		return risk.Result{}, e.abandon(cycleID, "score", err)
	}
	res.RiskLevel = risk.ClampLevel(res.RiskLevel)

	e.history.Push(res)
	now := e.now()

	e.mu.Lock()
	next, intervention := escalation.Transition(res, e.state, now, e.debounce)
	e.state = next
	status := Status{
		Result:    res.Clone(),
		Tier:      next.Tier,
		Label:     next.Tier.Label(),
		Trend:     e.history.Trend(),
		UpdatedAt: now,
	}
	e.status = &status
	var nextCheckAt *time.Time
	if !e.nextCheckAt.IsZero() {
		at := e.nextCheckAt
		nextCheckAt = &at
	}
	e.mu.Unlock()

	log.Info("cycle completed",
		zap.Int("risk_level", res.RiskLevel),
		zap.String("source", string(res.Source)),
		zap.Stringer("tier", next.Tier),
		zap.Bool("intervention", intervention != nil),
	)

	e.observer.StatusChanged(events.StatusChanged{
		CycleID:     cycleID,
		Result:      res.Clone(),
		Tier:        status.Tier,
		Label:       status.Label,
		Trend:       status.Trend,
		History:     e.history.Entries(),
		NextCheckAt: nextCheckAt,
	})
	if intervention != nil {
		e.observer.Intervention(*intervention)
	}

	e.checkpoint(ctx)
	return res, nil
}

func (e *Engine) abandon(cycleID, stage string, err error) error {
	e.logger.Error("cycle abandoned",
		zap.String("cycle_id", cycleID),
		zap.String("stage", stage),
		zap.Error(err),
	)
	e.observer.CycleError(events.CycleError{
		CycleID:    cycleID,
		Stage:      stage,
		Message:    err.Error(),
		OccurredAt: e.now(),
	})
	return fmt.Errorf("%s: %w", stage, err)
}

// guard converts a panic in fn into an error.
func guard[T any](fn func() (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// CurrentStatus returns the latest cycle's status.
func (e *Engine) CurrentStatus() (Status, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.status == nil {
		return Status{}, false
	}
	st := *e.status
	st.Result = st.Result.Clone()
	return st, true
}

// History returns the recent results, newest first.
func (e *Engine) History() []risk.Result {
	return e.history.Entries()
}

// Escalation returns the escalation state.
func (e *Engine) Escalation() escalation.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// CheckIns returns recent check-ins, newest first.
func (e *Engine) CheckIns() []checkin.Record {
	return e.checkIns.Records()
}

// NextCheckAt is when the next scheduled cycle runs; zero when stopped.
func (e *Engine) NextCheckAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nextCheckAt
}

// LastCheckIn implements signals.CheckInSource.
func (e *Engine) LastCheckIn(ctx context.Context) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.lastCheckIn == nil {
		return time.Time{}, false, nil
	}
	return *e.lastCheckIn, true, nil
}
