package signal

import (
	"sync"
	"time"
)

// Event channel capacity. Overflow drops the oldest semantics are not
// needed; a slow consumer loses new events instead of blocking the host.
const eventBuffer = 256

// Feed is the push-fed Source implementation backing one session. The
// platform adapter (HTTP ingest, test harness) delivers observations;
// detectors consume them.
type Feed struct {
	mu       sync.RWMutex
	frame    Frame
	hasFrame bool
	env      Environment
	hasEnv   bool

	// Last seen visibility state, used to suppress non-transitions.
	hidden     bool
	fullscreen bool
	visInit    bool

	keys chan KeyEvent
	vis  chan VisibilityEvent
	clip chan ClipboardEvent
}

// NewFeed creates an empty Feed.
func NewFeed() *Feed {
	return &Feed{
		keys: make(chan KeyEvent, eventBuffer),
		vis:  make(chan VisibilityEvent, eventBuffer),
		clip: make(chan ClipboardEvent, eventBuffer),
	}
}

// PushFrame records the latest camera frame.
func (f *Feed) PushFrame(data []byte, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	f.mu.Lock()
	f.frame = Frame{Data: data, CapturedAt: at}
	f.hasFrame = true
	f.mu.Unlock()
}

// PushKey records a raw key press or release.
func (f *Feed) PushKey(key string, down bool, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	select {
	case f.keys <- KeyEvent{Key: key, Down: down, At: at}:
	default:
		// Consumer stalled; dropping a key event only widens one
		// flight-time gap, which the outlier filter discards anyway.
	}
}

// SetVisibility records the document visibility and fullscreen state.
// Only actual transitions produce events.
func (f *Feed) SetVisibility(hidden, fullscreen bool, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}

	f.mu.Lock()
	first := !f.visInit
	hiddenChanged := first || f.hidden != hidden
	fullscreenChanged := first || f.fullscreen != fullscreen
	f.hidden = hidden
	f.fullscreen = fullscreen
	f.visInit = true
	f.mu.Unlock()

	// The initial report establishes state without emitting edges.
	if first {
		return
	}

	if hiddenChanged {
		f.emit(VisibilityEvent{Kind: KindVisibility, Hidden: hidden, At: at})
	}
	if fullscreenChanged {
		f.emit(VisibilityEvent{Kind: KindFullscreen, Fullscreen: fullscreen, At: at})
	}
}

func (f *Feed) emit(ev VisibilityEvent) {
	select {
	case f.vis <- ev:
	default:
	}
}

// PushClipboard records a blocked clipboard action.
func (f *Feed) PushClipboard(op ClipboardOp, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	select {
	case f.clip <- ClipboardEvent{Op: op, At: at}:
	default:
	}
}

// SetEnvironment records the host environment metrics.
func (f *Feed) SetEnvironment(env Environment) {
	f.mu.Lock()
	f.env = env
	f.hasEnv = true
	f.mu.Unlock()
}

// LatestFrame implements Source.
func (f *Feed) LatestFrame() (Frame, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.frame, f.hasFrame
}

// KeyEvents implements Source.
func (f *Feed) KeyEvents() <-chan KeyEvent {
	return f.keys
}

// VisibilityEvents implements Source.
func (f *Feed) VisibilityEvents() <-chan VisibilityEvent {
	return f.vis
}

// ClipboardEvents implements Source.
func (f *Feed) ClipboardEvents() <-chan ClipboardEvent {
	return f.clip
}

// Environment implements Source.
func (f *Feed) Environment() (Environment, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.env, f.hasEnv
}

// Fullscreen returns the last reported fullscreen state.
func (f *Feed) Fullscreen() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fullscreen
}
