package signals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type usageFunc func(ctx context.Context) (Usage, error)

func (f usageFunc) Usage(ctx context.Context) (Usage, error) { return f(ctx) }

type locationFunc func(ctx context.Context) (*Location, error)

func (f locationFunc) Location(ctx context.Context) (*Location, error) { return f(ctx) }

type checkInFunc func(ctx context.Context) (time.Time, bool, error)

func (f checkInFunc) LastCheckIn(ctx context.Context) (time.Time, bool, error) { return f(ctx) }

var fixedNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestCollectorCollect(t *testing.T) {
	t.Run("should gather every input", func(t *testing.T) {
		lastCheckIn := fixedNow.Add(-3 * time.Hour)
		c := NewCollector(CollectorConfig{
			Usage: usageFunc(func(context.Context) (Usage, error) {
				return Usage{ScreenTimeMinutes: 120, AppOpenCount: 7}, nil
			}),
			Location: locationFunc(func(context.Context) (*Location, error) {
				return &Location{Latitude: 37.56, Longitude: 126.97, Accuracy: 10}, nil
			}),
			CheckIn: checkInFunc(func(context.Context) (time.Time, bool, error) {
				return lastCheckIn, true, nil
			}),
			Now: clock,
		})

		snap, err := c.Collect(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 120, snap.ScreenTimeMinutes)
		assert.Equal(t, 7, snap.AppOpenCount)
		require.NotNil(t, snap.Location)
		assert.InDelta(t, 37.56, snap.Location.Latitude, 0.0001)
		require.NotNil(t, snap.LastCheckIn)
		assert.Equal(t, lastCheckIn, *snap.LastCheckIn)
		assert.Equal(t, fixedNow, snap.CapturedAt)
	})

	t.Run("should omit a failing input", func(t *testing.T) {
		c := NewCollector(CollectorConfig{
			Usage: usageFunc(func(context.Context) (Usage, error) {
				return Usage{ScreenTimeMinutes: 45, AppOpenCount: 9}, nil
			}),
			Location: locationFunc(func(context.Context) (*Location, error) {
				return nil, errors.New("permission denied")
			}),
			Now: clock,
		})

		snap, err := c.Collect(context.Background())

		require.NoError(t, err)
		assert.Nil(t, snap.Location)
		assert.Nil(t, snap.LastCheckIn)
		assert.Equal(t, 45, snap.ScreenTimeMinutes)
	})

	t.Run("should treat a slow input as missing", func(t *testing.T) {
		c := NewCollector(CollectorConfig{
			Usage: usageFunc(func(ctx context.Context) (Usage, error) {
				<-ctx.Done()
				return Usage{ScreenTimeMinutes: 999}, nil
			}),
			CheckIn: checkInFunc(func(context.Context) (time.Time, bool, error) {
				return fixedNow, true, nil
			}),
			InputTimeout: 20 * time.Millisecond,
			Now:          clock,
		})

		start := time.Now()
		snap, err := c.Collect(context.Background())

		require.NoError(t, err)
		assert.Less(t, time.Since(start), time.Second)
		assert.Zero(t, snap.ScreenTimeMinutes)
		assert.NotNil(t, snap.LastCheckIn)
	})

	t.Run("should clamp negative usage", func(t *testing.T) {
		c := NewCollector(CollectorConfig{
			Usage: usageFunc(func(context.Context) (Usage, error) {
				return Usage{ScreenTimeMinutes: -5, AppOpenCount: -1}, nil
			}),
			Now: clock,
		})

		snap, err := c.Collect(context.Background())

		require.NoError(t, err)
		assert.Zero(t, snap.ScreenTimeMinutes)
		assert.Zero(t, snap.AppOpenCount)
	})

	t.Run("should fail when a source panics", func(t *testing.T) {
		c := NewCollector(CollectorConfig{
			Location: locationFunc(func(context.Context) (*Location, error) {
				panic("sensor driver crashed")
			}),
			Now: clock,
		})

		_, err := c.Collect(context.Background())

		assert.ErrorIs(t, err, ErrSourcePanic)
	})

	t.Run("should fail when the parent context is done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		c := NewCollector(CollectorConfig{Now: clock})

		_, err := c.Collect(ctx)

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSnapshotHoursSinceCheckIn(t *testing.T) {
	t.Run("should measure against capture time", func(t *testing.T) {
		last := fixedNow.Add(-50 * time.Hour)
		snap := Snapshot{LastCheckIn: &last, CapturedAt: fixedNow}

		hours, ok := snap.HoursSinceCheckIn()

		assert.True(t, ok)
		assert.InDelta(t, 50.0, hours, 0.001)
	})

	t.Run("should report missing check-in", func(t *testing.T) {
		_, ok := Snapshot{CapturedAt: fixedNow}.HoursSinceCheckIn()
		assert.False(t, ok)
	})
}
