package signals

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type steppedClock struct {
	now time.Time
}

func (c *steppedClock) Now() time.Time { return c.now }

func TestUsageTracker(t *testing.T) {
	t.Run("should accumulate opens and screen time", func(t *testing.T) {
		c := &steppedClock{now: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)}
		tracker := NewUsageTracker(c.Now)

		tracker.RecordOpen()
		tracker.RecordOpen()
		tracker.AddScreenTime(25 * time.Minute)
		tracker.AddScreenTime(95 * time.Second)

		u, err := tracker.Usage(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, u.AppOpenCount)
		assert.Equal(t, 26, u.ScreenTimeMinutes)
		assert.Equal(t, c.now, u.LastActivity)
	})

	t.Run("should reset at midnight", func(t *testing.T) {
		c := &steppedClock{now: time.Date(2026, 3, 14, 23, 50, 0, 0, time.UTC)}
		tracker := NewUsageTracker(c.Now)
		tracker.RecordOpen()
		tracker.AddScreenTime(time.Hour)

		c.now = c.now.Add(20 * time.Minute)
		u, err := tracker.Usage(context.Background())

		require.NoError(t, err)
		assert.Zero(t, u.AppOpenCount)
		assert.Zero(t, u.ScreenTimeMinutes)
	})

	t.Run("should ignore negative screen time", func(t *testing.T) {
		tracker := NewUsageTracker(nil)
		tracker.AddScreenTime(-time.Minute)

		u, err := tracker.Usage(context.Background())
		require.NoError(t, err)
		assert.Zero(t, u.ScreenTimeMinutes)
	})
}

func TestLocationCache(t *testing.T) {
	t.Run("should return fresh fix", func(t *testing.T) {
		c := &steppedClock{now: fixedNow}
		cache := NewLocationCache(0, c.Now)
		cache.Update(Location{Latitude: 35.1, Longitude: 129.0, Accuracy: 20})

		loc, err := cache.Location(context.Background())

		require.NoError(t, err)
		require.NotNil(t, loc)
		assert.Equal(t, fixedNow, loc.CapturedAt)
	})

	t.Run("should hide stale fix", func(t *testing.T) {
		c := &steppedClock{now: fixedNow}
		cache := NewLocationCache(5*time.Minute, c.Now)
		cache.Update(Location{Latitude: 35.1, Longitude: 129.0})

		c.now = c.now.Add(6 * time.Minute)
		loc, err := cache.Location(context.Background())

		require.NoError(t, err)
		assert.Nil(t, loc)
	})

	t.Run("should forget cleared fix", func(t *testing.T) {
		cache := NewLocationCache(0, nil)
		cache.Update(Location{Latitude: 1, Longitude: 2})
		cache.Clear()

		loc, err := cache.Location(context.Background())
		require.NoError(t, err)
		assert.Nil(t, loc)
	})
}
