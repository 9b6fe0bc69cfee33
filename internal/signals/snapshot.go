package signals

import "time"

// Location is a coarse position fix.
type Location struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	CapturedAt time.Time `json:"captured_at"`
}

// Usage is the app-usage proxy for the current day.
type Usage struct {
	ScreenTimeMinutes int       `json:"screen_time_minutes"`
	AppOpenCount      int       `json:"app_open_count"`
	LastActivity      time.Time `json:"last_activity"`
}

// Snapshot is the immutable bundle of inputs collected for one scoring cycle.
// A nil Location or LastCheckIn means the input was unavailable.
type Snapshot struct {
	ScreenTimeMinutes int        `json:"screen_time_minutes"`
	AppOpenCount      int        `json:"app_open_count"`
	LastActivity      time.Time  `json:"last_activity"`
	Location          *Location  `json:"location,omitempty"`
	LastCheckIn       *time.Time `json:"last_check_in,omitempty"`
	CapturedAt        time.Time  `json:"captured_at"`
}

// HoursSinceCheckIn measures the check-in gap against the snapshot's own
// capture time. ok is false when no check-in is recorded.
func (s Snapshot) HoursSinceCheckIn() (hours float64, ok bool) {
	if s.LastCheckIn == nil {
		return 0, false
	}
	return s.CapturedAt.Sub(*s.LastCheckIn).Hours(), true
}

// HasLocation reports whether a location fix was collected.
func (s Snapshot) HasLocation() bool {
	return s.Location != nil
}
