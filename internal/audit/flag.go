// Package audit maintains the authoritative violation record for a
// proctored session.
//
// Detectors submit candidate violations; the Aggregator deduplicates them
// through per-type debounce windows and appends the survivors to an
// append-only, time-ordered flag sequence. Stored flags are immutable and
// are sealed into a hash chain at submission time (see internal/chain).
package audit

import "time"

// Type identifies a violation category.
type Type string

// Violation types recorded during a session.
const (
	TypeNoFace            Type = "NO_FACE"
	TypeMultipleFaces     Type = "MULTIPLE_FACES"
	TypeLookingAway       Type = "LOOKING_AWAY"
	TypeProhibitedObject  Type = "PROHIBITED_OBJECT"
	TypeTabSwitch         Type = "TAB_SWITCH"
	TypeFullscreenExit    Type = "FULLSCREEN_EXIT"
	TypeSecurityViolation Type = "SECURITY_VIOLATION"
	TypeBiometricMismatch Type = "BIOMETRIC_MISMATCH"
)

// EdgeTriggered reports whether flags of this type represent discrete
// state-change events rather than continuous conditions. Edge-triggered
// types bypass debouncing entirely.
func (t Type) EdgeTriggered() bool {
	return t == TypeTabSwitch || t == TypeFullscreenExit
}

// SnapshotWorthy reports whether a stored flag of this type should
// trigger an evidence snapshot.
func (t Type) SnapshotWorthy() bool {
	switch t {
	case TypeMultipleFaces, TypeLookingAway, TypeFullscreenExit,
		TypeProhibitedObject, TypeSecurityViolation:
		return true
	}
	return false
}

// Candidate is a violation proposed by a detector for one evaluation
// cycle. It may or may not survive deduplication.
type Candidate struct {
	Type      Type
	Message   string
	Timestamp time.Time
}

// Flag is a recorded violation in the session's audit trail. Hash and
// PreviousHash are empty until the sequence is sealed.
type Flag struct {
	Type         Type      `json:"type"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	Hash         string    `json:"hash,omitempty"`
	PreviousHash string    `json:"previousHash,omitempty"`
}
