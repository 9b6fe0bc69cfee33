package checkin

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terminal-bench/safetywatch/internal/signals"
)

// LogCapacity is the number of check-ins kept.
const LogCapacity = 50

// Mood is the self-reported state attached to a check-in.
type Mood string

const (
	MoodGood   Mood = "good"
	MoodNormal Mood = "normal"
	MoodBad    Mood = "bad"
	MoodSafe   Mood = "safe"
)

// ParseMood validates a mood string. An empty string means MoodSafe.
func ParseMood(s string) (Mood, error) {
	switch m := Mood(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MoodSafe, nil
	case MoodGood, MoodNormal, MoodBad, MoodSafe:
		return m, nil
	default:
		return "", fmt.Errorf("checkin: unknown mood %q", s)
	}
}

// Record is one check-in.
type Record struct {
	ID       string            `json:"id"`
	Mood     Mood              `json:"mood"`
	Note     string            `json:"note,omitempty"`
	Location *signals.Location `json:"location,omitempty"`
	At       time.Time         `json:"at"`
}

// New builds a record stamped with at.
func New(mood Mood, note string, loc *signals.Location, at time.Time) Record {
	return Record{
		ID:       uuid.NewString(),
		Mood:     mood,
		Note:     strings.TrimSpace(note),
		Location: loc,
		At:       at,
	}
}

// Log keeps the most recent check-ins, newest first.
type Log struct {
	mu      sync.RWMutex
	records []Record
}

func NewLog() *Log {
	return &Log{}
}

// Add prepends r and drops anything beyond LogCapacity.
func (l *Log) Add(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append([]Record{r}, l.records...)
	if len(l.records) > LogCapacity {
		l.records = l.records[:LogCapacity]
	}
}

// Restore replaces the log contents (newest first).
func (l *Log) Restore(records []Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(records) > LogCapacity {
		records = records[:LogCapacity]
	}
	l.records = append([]Record(nil), records...)
}

// Records returns a copy, newest first.
func (l *Log) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Record(nil), l.records...)
}

// Last returns the newest check-in.
func (l *Log) Last() (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.records) == 0 {
		return Record{}, false
	}
	return l.records[0], true
}
