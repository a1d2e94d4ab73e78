// Package biometric builds a typing-cadence profile during a calibration
// window and scores identity continuity against it for the rest of the
// session.
//
// Only timing ever leaves this package. Key identity is used solely to
// pair a release with its press; it is not stored, not exported, and not
// part of any emitted violation.
package biometric

import (
	"time"

	"proctord/internal/signal"
)

// Outlier bounds. Events at or beyond these limits are glitches or
// deliberate pauses, not typing rhythm, and never reach the baseline.
const (
	MaxDwell  = time.Second
	MaxFlight = 2 * time.Second
)

// Event is one completed keystroke, derived at key-up.
type Event struct {
	PressTime   time.Time
	ReleaseTime time.Time
	Dwell       time.Duration // key held down
	Flight      time.Duration // gap since the previous release
}

// Tracker pairs raw press/release signals into keystroke events.
// Not safe for concurrent use; one Tracker serves one event stream.
type Tracker struct {
	active      map[string]time.Time
	lastRelease time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]time.Time)}
}

// Observe consumes a raw key event. A completed, in-bounds keystroke is
// returned with ok=true; presses, repeats, unmatched releases, and
// outliers return ok=false.
func (t *Tracker) Observe(ev signal.KeyEvent) (Event, bool) {
	if ev.Down {
		// Auto-repeat delivers additional downs for a held key;
		// the first press time stands.
		if _, held := t.active[ev.Key]; !held {
			t.active[ev.Key] = ev.At
		}
		return Event{}, false
	}

	pressTime, ok := t.active[ev.Key]
	if !ok {
		return Event{}, false
	}
	delete(t.active, ev.Key)

	releaseTime := ev.At
	dwell := releaseTime.Sub(pressTime)

	var flight time.Duration
	if !t.lastRelease.IsZero() {
		flight = pressTime.Sub(t.lastRelease)
	}
	// The release anchors the next flight gap even when this event is
	// discarded as an outlier.
	t.lastRelease = releaseTime

	if dwell < 0 || flight < 0 {
		return Event{}, false
	}
	if dwell >= MaxDwell || flight >= MaxFlight {
		return Event{}, false
	}

	return Event{
		PressTime:   pressTime,
		ReleaseTime: releaseTime,
		Dwell:       dwell,
		Flight:      flight,
	}, true
}
