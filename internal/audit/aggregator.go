package audit

import (
	"sync"
	"time"
)

// Default debounce windows per violation type. A candidate matching the
// type of the most recent stored flag is dropped unless at least this
// much time has passed since that flag. Edge-triggered types have no
// window and always append.
var defaultWindows = map[Type]time.Duration{
	TypeSecurityViolation: 2 * time.Second,
	TypeLookingAway:       3 * time.Second,
	TypeNoFace:            5 * time.Second,
	TypeMultipleFaces:     5 * time.Second,
	TypeProhibitedObject:  5 * time.Second,
	TypeBiometricMismatch: 5 * time.Second,
}

// DefaultWindows returns a copy of the default per-type debounce windows.
func DefaultWindows() map[Type]time.Duration {
	windows := make(map[Type]time.Duration, len(defaultWindows))
	for t, w := range defaultWindows {
		windows[t] = w
	}
	return windows
}

// Aggregator converts candidate violations into the authoritative,
// time-ordered flag sequence for one session.
//
// All appends go through Submit, which performs the read-last-flag,
// compare, append sequence atomically. Detectors run concurrently;
// single-writer discipline lives here, not in the callers.
type Aggregator struct {
	mu      sync.Mutex
	windows map[Type]time.Duration
	flags   []Flag
}

// NewAggregator creates an Aggregator with the given debounce windows.
// A nil map selects the defaults.
func NewAggregator(windows map[Type]time.Duration) *Aggregator {
	if windows == nil {
		windows = DefaultWindows()
	}
	return &Aggregator{windows: windows}
}

// Submit offers a candidate violation. It returns the stored flag and
// true if the candidate survived deduplication, or a zero Flag and false
// if it was debounced.
func (a *Aggregator) Submit(c Candidate) (Flag, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := c.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	if n := len(a.flags); n > 0 {
		last := a.flags[n-1]

		if !c.Type.EdgeTriggered() && last.Type == c.Type {
			window := a.windows[c.Type]
			if ts.Sub(last.Timestamp) <= window {
				return Flag{}, false
			}
		}

		// Stored timestamps must be non-decreasing. Concurrent
		// detectors can race between observing and submitting;
		// clamp rather than violate the ordering invariant.
		if ts.Before(last.Timestamp) {
			ts = last.Timestamp
		}
	}

	flag := Flag{Type: c.Type, Message: c.Message, Timestamp: ts}
	a.flags = append(a.flags, flag)
	return flag, true
}

// Flags returns a copy of the stored flag sequence.
func (a *Aggregator) Flags() []Flag {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Flag, len(a.flags))
	copy(out, a.flags)
	return out
}

// Count returns the number of stored flags.
func (a *Aggregator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.flags)
}
