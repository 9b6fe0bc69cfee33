package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/terminal-bench/safetywatch/internal/signals"
)

// Upper bounds on a single usage report.
const (
	maxOpensPerReport      = 500
	maxScreenTimePerReport = 24 * 60
)

var ErrInputsUnavailable = errors.New("signal inputs are not configured")

// UsageRecorder receives app-usage reports from the host app.
type UsageRecorder interface {
	RecordOpen()
	AddScreenTime(d time.Duration)
}

// LocationRecorder receives position fixes from the host app.
type LocationRecorder interface {
	Update(loc signals.Location)
	Clear()
}

// Inputs are the signal sources the host app feeds between cycles.
type Inputs struct {
	Usage    UsageRecorder
	Location LocationRecorder
}

// UsageReport is an increment of app usage since the previous report.
type UsageReport struct {
	Opens             int `json:"opens"`
	ScreenTimeMinutes int `json:"screen_time_minutes"`
}

// LocationReport is one position fix. A zero CapturedAt means now.
type LocationReport struct {
	Latitude   *float64  `json:"latitude"`
	Longitude  *float64  `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	CapturedAt time.Time `json:"captured_at"`
}

func (in Inputs) recordUsage(r UsageReport) error {
	if in.Usage == nil {
		return ErrInputsUnavailable
	}
	if r.Opens < 0 || r.Opens > maxOpensPerReport {
		return fmt.Errorf("opens must be in [0, %d]", maxOpensPerReport)
	}
	if r.ScreenTimeMinutes < 0 || r.ScreenTimeMinutes > maxScreenTimePerReport {
		return fmt.Errorf("screen_time_minutes must be in [0, %d]", maxScreenTimePerReport)
	}

	for i := 0; i < r.Opens; i++ {
		in.Usage.RecordOpen()
	}
	in.Usage.AddScreenTime(time.Duration(r.ScreenTimeMinutes) * time.Minute)
	return nil
}

func (in Inputs) updateLocation(r LocationReport) error {
	if in.Location == nil {
		return ErrInputsUnavailable
	}
	if r.Latitude == nil || r.Longitude == nil {
		return errors.New("latitude and longitude are required")
	}
	if *r.Latitude < -90 || *r.Latitude > 90 || *r.Longitude < -180 || *r.Longitude > 180 {
		return errors.New("coordinates out of range")
	}
	if r.Accuracy < 0 {
		return errors.New("accuracy must not be negative")
	}

	in.Location.Update(signals.Location{
		Latitude:   *r.Latitude,
		Longitude:  *r.Longitude,
		Accuracy:   r.Accuracy,
		CapturedAt: r.CapturedAt,
	})
	return nil
}

func (in Inputs) clearLocation() error {
	if in.Location == nil {
		return ErrInputsUnavailable
	}
	in.Location.Clear()
	return nil
}
