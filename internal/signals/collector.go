package signals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/safetywatch/pkg/logging"
)

// DefaultInputTimeout bounds each individual input read.
const DefaultInputTimeout = 5 * time.Second

// UsageSource reports app-usage metrics.
type UsageSource interface {
	Usage(ctx context.Context) (Usage, error)
}

// LocationSource reports the most recent location fix. A nil location with a
// nil error means no fix is available.
type LocationSource interface {
	Location(ctx context.Context) (*Location, error)
}

// CheckInSource reports the last known check-in time.
type CheckInSource interface {
	LastCheckIn(ctx context.Context) (time.Time, bool, error)
}

// ErrSourcePanic is returned when an input source panics during collection.
var ErrSourcePanic = errors.New("signal source panicked")

// CollectorConfig wires the sources. Any source may be nil.
type CollectorConfig struct {
	Usage        UsageSource
	Location     LocationSource
	CheckIn      CheckInSource
	InputTimeout time.Duration
	Now          func() time.Time
	Logger       *zap.Logger
}

// Collector snapshots the current inputs for a scoring cycle.
type Collector struct {
	usage    UsageSource
	location LocationSource
	checkIn  CheckInSource
	timeout  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewCollector creates a Collector.
func NewCollector(cfg CollectorConfig) *Collector {
	timeout := cfg.InputTimeout
	if timeout <= 0 {
		timeout = DefaultInputTimeout
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Collector{
		usage:    cfg.Usage,
		location: cfg.Location,
		checkIn:  cfg.CheckIn,
		timeout:  timeout,
		now:      now,
		logger:   logging.OrNop(cfg.Logger),
	}
}

// Collect reads every input concurrently. A failing or slow input leaves its
// field empty; only a panicking source or a done parent context fails the
// whole collection.
func (c *Collector) Collect(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	var (
		usage    Usage
		location *Location
		checkIn  *time.Time
	)

	g, gctx := errgroup.WithContext(ctx)

	if c.usage != nil {
		g.Go(func() error {
			u, ok, err := readInput(gctx, c, "usage", c.usage.Usage)
			if ok {
				usage = sanitizeUsage(u)
			}
			return err
		})
	}

	if c.location != nil {
		g.Go(func() error {
			loc, ok, err := readInput(gctx, c, "location", c.location.Location)
			if ok && loc != nil {
				cp := *loc
				location = &cp
			}
			return err
		})
	}

	if c.checkIn != nil {
		g.Go(func() error {
			type lastCheckIn struct {
				at    time.Time
				found bool
			}
			got, ok, err := readInput(gctx, c, "check-in", func(ctx context.Context) (lastCheckIn, error) {
				at, found, err := c.checkIn.LastCheckIn(ctx)
				return lastCheckIn{at: at, found: found}, err
			})
			if ok && got.found {
				at := got.at
				checkIn = &at
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		ScreenTimeMinutes: usage.ScreenTimeMinutes,
		AppOpenCount:      usage.AppOpenCount,
		LastActivity:      usage.LastActivity,
		Location:          location,
		LastCheckIn:       checkIn,
		CapturedAt:        c.now(),
	}, nil
}

// readInput runs one input with its own timeout. ok is true only when the
// input answered in time without error; a late answer is discarded.
func readInput[T any](ctx context.Context, c *Collector, name string, fn func(context.Context) (T, error)) (value T, ok bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		value    T
		err      error
		panicked any
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{panicked: r}
			}
		}()
		v, err := fn(ctx)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.panicked != nil {
			c.logger.Error("signal source panicked", zap.String("input", name), zap.Any("panic", out.panicked))
			return value, false, fmt.Errorf("%w: %s: %v", ErrSourcePanic, name, out.panicked)
		}
		if ctx.Err() != nil {
			c.logTimeout(name)
			return value, false, nil
		}
		if out.err != nil {
			c.logger.Warn("signal input unavailable", zap.String("input", name), zap.Error(out.err))
			return value, false, nil
		}
		return out.value, true, nil
	case <-ctx.Done():
		c.logTimeout(name)
		return value, false, nil
	}
}

func (c *Collector) logTimeout(name string) {
	c.logger.Warn("signal input timed out", zap.String("input", name), zap.Duration("timeout", c.timeout))
}

func sanitizeUsage(u Usage) Usage {
	if u.ScreenTimeMinutes < 0 {
		u.ScreenTimeMinutes = 0
	}
	if u.AppOpenCount < 0 {
		u.AppOpenCount = 0
	}
	return u
}
