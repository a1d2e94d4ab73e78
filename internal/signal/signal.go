// Package signal defines the capability boundary between the host
// environment and the proctoring engine.
//
// The host (browser client, kiosk shell, test harness) observes the
// candidate; the engine only consumes plain values through the Source
// interface. Nothing in the engine core touches platform state directly.
package signal

import "time"

// Frame is a still image from the candidate's camera, encoded as
// delivered by the host (JPEG or PNG).
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// KeyEvent is a raw key press or release with host-side timing. The key
// identity never leaves the biometric layer.
type KeyEvent struct {
	Key  string
	Down bool
	At   time.Time
}

// VisibilityKind distinguishes visibility event kinds.
type VisibilityKind int

const (
	// KindVisibility reports a document hidden/visible transition.
	KindVisibility VisibilityKind = iota
	// KindFullscreen reports a fullscreen enter/exit transition.
	KindFullscreen
)

// VisibilityEvent is an edge-triggered visibility state change.
type VisibilityEvent struct {
	Kind       VisibilityKind
	Hidden     bool // state after the change, KindVisibility only
	Fullscreen bool // state after the change, KindFullscreen only
	At         time.Time
}

// ClipboardOp identifies a clipboard action intercepted by the host.
type ClipboardOp string

// Clipboard operations.
const (
	ClipboardPaste ClipboardOp = "paste"
	ClipboardCopy  ClipboardOp = "copy"
	ClipboardCut   ClipboardOp = "cut"
)

// ClipboardEvent is a blocked clipboard action reported by the host.
type ClipboardEvent struct {
	Op ClipboardOp
	At time.Time
}

// Environment carries coarse host environment metrics used by the VM
// heuristic. Values are reported by the host and treated as advisory.
type Environment struct {
	HardwareConcurrency int
	DeviceMemoryGB      float64
	Renderer            string
}

// Source exposes the host's observations to the engine.
type Source interface {
	// LatestFrame returns the most recent camera frame, if any.
	LatestFrame() (Frame, bool)

	// KeyEvents streams raw key press/release timing events.
	KeyEvents() <-chan KeyEvent

	// VisibilityEvents streams visibility and fullscreen transitions.
	VisibilityEvents() <-chan VisibilityEvent

	// ClipboardEvents streams blocked clipboard actions.
	ClipboardEvents() <-chan ClipboardEvent

	// Environment returns the host environment metrics, if reported.
	Environment() (Environment, bool)
}
