package engine

import (
	"github.com/terminal-bench/safetywatch/internal/escalation"
	"github.com/terminal-bench/safetywatch/internal/events"
)

// Observer receives everything the engine emits. Calls are made on the
// cycle's goroutine, so implementations must return quickly.
type Observer interface {
	StatusChanged(events.StatusChanged)
	Intervention(escalation.Intervention)
	CycleError(events.CycleError)
	HelpRequested(events.HelpRequested)
	CheckedIn(events.CheckedIn)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) StatusChanged(events.StatusChanged)   {}
func (NopObserver) Intervention(escalation.Intervention) {}
func (NopObserver) CycleError(events.CycleError)         {}
func (NopObserver) HelpRequested(events.HelpRequested)   {}
func (NopObserver) CheckedIn(events.CheckedIn)           {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) StatusChanged(ev events.StatusChanged) {
	for _, obs := range o {
		obs.StatusChanged(ev)
	}
}

func (o Observers) Intervention(iv escalation.Intervention) {
	for _, obs := range o {
		obs.Intervention(iv)
	}
}

func (o Observers) CycleError(ev events.CycleError) {
	for _, obs := range o {
		obs.CycleError(ev)
	}
}

func (o Observers) HelpRequested(ev events.HelpRequested) {
	for _, obs := range o {
		obs.HelpRequested(ev)
	}
}

func (o Observers) CheckedIn(ev events.CheckedIn) {
	for _, obs := range o {
		obs.CheckedIn(ev)
	}
}
