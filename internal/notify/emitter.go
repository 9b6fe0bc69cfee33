// Package notify delivers engine events to external sinks without blocking
// the engine.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/terminal-bench/safetywatch/internal/escalation"
	"github.com/terminal-bench/safetywatch/internal/events"
	"github.com/terminal-bench/safetywatch/pkg/logging"
)

// Sink consumes event envelopes (NATS, webhook, InfluxDB, etc.).
type Sink interface {
	Name() string
	Deliver(context.Context, *events.Envelope) error
	Close(context.Context) error
}

// Metrics holds counters for event delivery.
type Metrics struct {
	Enqueued    uint64            `json:"enqueued"`
	Dropped     uint64            `json:"dropped"`
	SinkSuccess map[string]uint64 `json:"sink_success"`
	SinkFailure map[string]uint64 `json:"sink_failure"`
}

func (m *Metrics) snapshot() Metrics {
	out := Metrics{
		Enqueued:    m.Enqueued,
		Dropped:     m.Dropped,
		SinkSuccess: make(map[string]uint64, len(m.SinkSuccess)),
		SinkFailure: make(map[string]uint64, len(m.SinkFailure)),
	}
	for k, v := range m.SinkSuccess {
		out.SinkSuccess[k] = v
	}
	for k, v := range m.SinkFailure {
		out.SinkFailure[k] = v
	}
	return out
}

// EmitterConfig controls worker and queue sizing.
type EmitterConfig struct {
	UserID          string
	QueueSize       int
	Workers         int
	DeliverTimeout  time.Duration
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

// Emitter buffers events and delivers them to every sink. It implements the
// engine's observer contract; a full queue drops the event.
type Emitter struct {
	userID          string
	queue           chan *events.Envelope
	sinks           []Sink
	deliverTimeout  time.Duration
	shutdownTimeout time.Duration
	logger          *zap.Logger

	mu        sync.RWMutex
	metricsMu sync.Mutex
	metrics   Metrics
	closed    bool
	wg        sync.WaitGroup
}

// NewEmitter starts background workers delivering to sinks.
func NewEmitter(cfg EmitterConfig, sinks ...Sink) *Emitter {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	deliverTimeout := cfg.DeliverTimeout
	if deliverTimeout <= 0 {
		deliverTimeout = 5 * time.Second
	}
	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 2 * time.Second
	}

	em := &Emitter{
		userID:          cfg.UserID,
		queue:           make(chan *events.Envelope, queueSize),
		sinks:           sinks,
		deliverTimeout:  deliverTimeout,
		shutdownTimeout: shutdownTimeout,
		logger:          logging.OrNop(cfg.Logger).With(zap.String("component", "notify")),
		metrics: Metrics{
			SinkSuccess: make(map[string]uint64, len(sinks)),
			SinkFailure: make(map[string]uint64, len(sinks)),
		},
	}
	for _, s := range sinks {
		em.metrics.SinkSuccess[s.Name()] = 0
		em.metrics.SinkFailure[s.Name()] = 0
	}

	for i := 0; i < workers; i++ {
		em.wg.Add(1)
		go em.worker()
	}
	return em
}

func (e *Emitter) StatusChanged(ev events.StatusChanged) {
	e.emit(events.TypeStatusChanged, ev, events.Metadata{CycleID: ev.CycleID, Source: string(ev.Result.Source)})
}

func (e *Emitter) Intervention(iv escalation.Intervention) {
	e.emit(events.TypeIntervention, iv, events.Metadata{Source: "escalation"})
}

func (e *Emitter) CycleError(ev events.CycleError) {
	e.emit(events.TypeCycleError, ev, events.Metadata{CycleID: ev.CycleID, Source: "engine"})
}

func (e *Emitter) HelpRequested(ev events.HelpRequested) {
	e.emit(events.TypeHelpRequested, ev, events.Metadata{Source: "user"})
}

func (e *Emitter) CheckedIn(ev events.CheckedIn) {
	e.emit(events.TypeCheckedIn, ev, events.Metadata{Source: "user"})
}

func (e *Emitter) emit(eventType string, data any, meta events.Metadata) {
	env, err := events.New(eventType, e.userID, data, meta)
	if err != nil {
		e.logger.Error("encode event", zap.String("type", eventType), zap.Error(err))
		return
	}
	e.Emit(env)
}

// Emit enqueues an envelope without blocking.
func (e *Emitter) Emit(env *events.Envelope) {
	if env == nil {
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.count(func(m *Metrics) { m.Dropped++ })
		return
	}

	select {
	case e.queue <- env:
		e.count(func(m *Metrics) { m.Enqueued++ })
	default:
		e.count(func(m *Metrics) { m.Dropped++ })
		e.logger.Warn("event queue full, dropping", zap.String("type", env.Type))
	}
}

// Close stops accepting events, waits briefly for the queue to drain and
// closes every sink.
func (e *Emitter) Close(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, e.shutdownTimeout)
	defer cancel()

	select {
	case <-done:
	case <-waitCtx.Done():
		e.logger.Warn("event queue not drained before shutdown")
	}

	for _, s := range e.sinks {
		if err := s.Close(waitCtx); err != nil {
			e.logger.Warn("sink close failed", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
}

// MetricsSnapshot copies the current counters.
func (e *Emitter) MetricsSnapshot() Metrics {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	return e.metrics.snapshot()
}

func (e *Emitter) count(fn func(*Metrics)) {
	e.metricsMu.Lock()
	fn(&e.metrics)
	e.metricsMu.Unlock()
}

func (e *Emitter) worker() {
	defer e.wg.Done()
	for env := range e.queue {
		e.deliver(env)
	}
}

func (e *Emitter) deliver(env *events.Envelope) {
	for _, s := range e.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), e.deliverTimeout)
		err := s.Deliver(ctx, env)
		cancel()

		name := s.Name()
		if err != nil {
			e.logger.Warn("sink delivery failed",
				zap.String("sink", name),
				zap.String("type", env.Type),
				zap.Error(err),
			)
			e.count(func(m *Metrics) { m.SinkFailure[name]++ })
			continue
		}
		e.count(func(m *Metrics) { m.SinkSuccess[name]++ })
	}
}
