package detector

import (
	"context"

	"proctord/internal/audit"
	"proctord/internal/logging"
	"proctord/internal/signal"
)

// VisibilityMonitor watches visibility and fullscreen transitions.
//
// Unlike the scheduled detectors these signals are edge-triggered state
// changes, so the monitor is event-driven and its candidates bypass
// debouncing (audit marks the types edge-triggered). Re-entering
// fullscreen or unhiding the document produces no flag; only the exit
// edges do.
type VisibilityMonitor struct {
	source signal.Source
	sink   Sink
	log    *logging.Logger
}

// NewVisibilityMonitor creates a VisibilityMonitor.
func NewVisibilityMonitor(source signal.Source, sink Sink, log *logging.Logger) *VisibilityMonitor {
	if log == nil {
		log = logging.Default()
	}
	return &VisibilityMonitor{
		source: source,
		sink:   sink,
		log:    log.WithComponent("visibility-monitor"),
	}
}

// Run consumes visibility events until the context is cancelled. It is
// intended to run on its own goroutine for the life of the Active state.
func (m *VisibilityMonitor) Run(ctx context.Context) {
	events := m.source.VisibilityEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handle(ev)
		}
	}
}

func (m *VisibilityMonitor) handle(ev signal.VisibilityEvent) {
	switch ev.Kind {
	case signal.KindVisibility:
		if !ev.Hidden {
			return
		}
		m.sink.Submit(audit.Candidate{
			Type:      audit.TypeTabSwitch,
			Message:   "Tab switch detected",
			Timestamp: ev.At,
		})
		m.log.Warn("tab switch detected")

	case signal.KindFullscreen:
		if ev.Fullscreen {
			return
		}
		m.sink.Submit(audit.Candidate{
			Type:      audit.TypeFullscreenExit,
			Message:   "Exited fullscreen mode",
			Timestamp: ev.At,
		})
		m.log.Warn("fullscreen exit detected")
	}
}
