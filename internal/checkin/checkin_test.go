package checkin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMood(t *testing.T) {
	t.Run("should accept known moods", func(t *testing.T) {
		m, err := ParseMood(" Good ")
		require.NoError(t, err)
		assert.Equal(t, MoodGood, m)
	})

	t.Run("should default to safe", func(t *testing.T) {
		m, err := ParseMood("")
		require.NoError(t, err)
		assert.Equal(t, MoodSafe, m)
	})

	t.Run("should reject unknown moods", func(t *testing.T) {
		_, err := ParseMood("ecstatic")
		assert.Error(t, err)
	})
}

func TestLog(t *testing.T) {
	base := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

	t.Run("should keep newest first", func(t *testing.T) {
		l := NewLog()
		l.Add(New(MoodGood, "morning walk", nil, base))
		l.Add(New(MoodBad, "", nil, base.Add(time.Hour)))

		last, ok := l.Last()
		require.True(t, ok)
		assert.Equal(t, MoodBad, last.Mood)
		assert.Len(t, l.Records(), 2)
		assert.NotEqual(t, l.Records()[0].ID, l.Records()[1].ID)
	})

	t.Run("should cap the log", func(t *testing.T) {
		l := NewLog()
		for i := 0; i < LogCapacity+5; i++ {
			l.Add(New(MoodNormal, "", nil, base.Add(time.Duration(i)*time.Minute)))
		}

		records := l.Records()
		assert.Len(t, records, LogCapacity)
		assert.Equal(t, base.Add(time.Duration(LogCapacity+4)*time.Minute), records[0].At)
		assert.Equal(t, base.Add(5*time.Minute), records[LogCapacity-1].At)
	})

	t.Run("should report empty log", func(t *testing.T) {
		_, ok := NewLog().Last()
		assert.False(t, ok)
	})
}
