package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/terminal-bench/safetywatch/internal/checkin"
	"github.com/terminal-bench/safetywatch/internal/events"
	"github.com/terminal-bench/safetywatch/internal/signals"
	"github.com/terminal-bench/safetywatch/internal/storage"
)

// HelpKindEmergency is used when a help request names no kind.
const HelpKindEmergency = "emergency"

// CheckIn records a user check-in and makes it the last known check-in for
// subsequent cycles.
func (e *Engine) CheckIn(ctx context.Context, mood checkin.Mood, note string) (checkin.Record, error) {
	if err := ctx.Err(); err != nil {
		return checkin.Record{}, err
	}
	if mood == "" {
		mood = checkin.MoodSafe
	}
	now := e.now()
	rec := checkin.New(mood, note, e.currentLocation(ctx), now)

	e.checkIns.Add(rec)
	e.mu.Lock()
	e.lastCheckIn = &now
	e.mu.Unlock()

	e.logger.Info("check-in recorded", zap.String("mood", string(mood)))
	e.observer.CheckedIn(events.CheckedIn{Record: rec})
	e.checkpoint(ctx)
	return rec, nil
}

// RequestHelp emits a help request straight to the observer. It is not
// debounced.
func (e *Engine) RequestHelp(ctx context.Context, kind, description string) (events.HelpRequested, error) {
	if err := ctx.Err(); err != nil {
		return events.HelpRequested{}, err
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = HelpKindEmergency
	}
	req := events.HelpRequested{
		ID:          uuid.NewString(),
		Kind:        kind,
		Description: strings.TrimSpace(description),
		Location:    e.currentLocation(ctx),
		RequestedAt: e.now(),
	}

	e.logger.Warn("help requested", zap.String("kind", kind), zap.Bool("has_location", req.Location != nil))
	e.observer.HelpRequested(req)
	return req, nil
}

func (e *Engine) currentLocation(ctx context.Context) *signals.Location {
	if e.location == nil {
		return nil
	}
	loc, err := e.location.Location(ctx)
	if err != nil {
		e.logger.Debug("location unavailable", zap.Error(err))
		return nil
	}
	return loc
}

// Restore loads the persisted record, if any, into the engine.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	rec, err := e.store.Load(ctx, e.userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	e.history.Restore(rec.History)
	e.checkIns.Restore(rec.CheckIns)
	e.mu.Lock()
	e.lastCheckIn = rec.LastCheckIn
	e.mu.Unlock()

	e.logger.Info("state restored",
		zap.Int("history", len(rec.History)),
		zap.Int("check_ins", len(rec.CheckIns)),
	)
	return nil
}

// checkpoint persists the current state. Failures are logged only.
func (e *Engine) checkpoint(ctx context.Context) {
	if e.store == nil {
		return
	}
	e.checkpointMu.Lock()
	defer e.checkpointMu.Unlock()

	err := storage.WithRecord(ctx, e.store, e.userID, func(rec *storage.Record) error {
		e.mu.RLock()
		if e.lastCheckIn != nil {
			at := *e.lastCheckIn
			rec.LastCheckIn = &at
		}
		e.mu.RUnlock()
		rec.History = e.history.Entries()
		rec.CheckIns = e.checkIns.Records()
		return nil
	})
	if err != nil {
		e.logger.Warn("checkpoint failed", zap.Error(err))
	}
}
