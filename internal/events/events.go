package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/terminal-bench/safetywatch/internal/checkin"
	"github.com/terminal-bench/safetywatch/internal/escalation"
	"github.com/terminal-bench/safetywatch/internal/risk"
	"github.com/terminal-bench/safetywatch/internal/signals"
)

// Event types
const (
	TypeStatusChanged = "safety.status_changed"
	TypeIntervention  = "safety.intervention"
	TypeCycleError    = "safety.cycle_error"
	TypeHelpRequested = "safety.help_requested"
	TypeCheckedIn     = "safety.checked_in"
)

// Envelope wraps every event leaving the engine.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	UserID    string          `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Version   int             `json:"version"`
	Data      json.RawMessage `json:"data"`
	Metadata  Metadata        `json:"metadata"`
}

// Metadata contains event metadata
type Metadata struct {
	CycleID string            `json:"cycle_id,omitempty"`
	Source  string            `json:"source"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// StatusChanged is emitted after every completed cycle.
type StatusChanged struct {
	CycleID     string          `json:"cycle_id"`
	Result      risk.Result     `json:"result"`
	Tier        escalation.Tier `json:"tier"`
	Label       string          `json:"label"`
	Trend       risk.Trend      `json:"trend"`
	History     []risk.Result   `json:"history"`
	NextCheckAt *time.Time      `json:"next_check_at,omitempty"`
}

// CycleError reports a cycle abandoned before scoring.
type CycleError struct {
	CycleID    string    `json:"cycle_id"`
	Stage      string    `json:"stage"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// HelpRequested is raised when the user asks for help directly.
type HelpRequested struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Description string            `json:"description,omitempty"`
	Location    *signals.Location `json:"location,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
}

// CheckedIn is emitted when the user records a check-in.
type CheckedIn struct {
	Record checkin.Record `json:"record"`
}

// Intervention aliases the escalation payload so sinks only import events.
type Intervention = escalation.Intervention

// New creates a new envelope
func New(eventType, userID string, data any, metadata Metadata) (*Envelope, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:        uuid.New(),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now(),
		Version:   1,
		Data:      dataBytes,
		Metadata:  metadata,
	}, nil
}

// ParseData parses envelope data into the specified type
func ParseData[T any](e *Envelope) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}
