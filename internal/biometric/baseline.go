package biometric

import (
	"math"
	"sync"
	"time"

	"proctord/internal/audit"
)

// Baseline tuning.
const (
	// CalibrationSamples is the number of keystrokes used to build the
	// profile. The baseline freezes on exactly this sample.
	CalibrationSamples = 30

	// WindowSize is the moving window scored against the baseline.
	WindowSize = 10

	// AnomalyThreshold is the mean relative deviation above which the
	// window is considered a mismatch.
	AnomalyThreshold = 0.5

	// FlagConfidence is the confidence floor: a sustained mismatch
	// below it surfaces a violation candidate.
	FlagConfidence = 50.0

	// MismatchStreak is how many consecutive mismatched evaluations
	// count as sustained. A single bad window is noise; typing through
	// half a window of someone else's rhythm is not.
	MismatchStreak = 3
)

// Status is the baseline's verification state.
type Status int

const (
	// StatusCalibrating means the profile is still being built.
	StatusCalibrating Status = iota
	// StatusVerifying means typing matches the frozen profile.
	StatusVerifying
	// StatusMismatch means recent typing deviates from the profile.
	// Not terminal; the status returns to Verifying when the window
	// recovers.
	StatusMismatch
)

func (s Status) String() string {
	switch s {
	case StatusCalibrating:
		return "calibrating"
	case StatusVerifying:
		return "verifying"
	case StatusMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Profile is the frozen typing-cadence baseline. Mutated only during
// calibration; read-only afterward.
type Profile struct {
	AvgDwellMS  float64 `json:"avgDwellTime"`
	AvgFlightMS float64 `json:"avgFlightTime"`
	SampleCount int     `json:"sampleCount"`
}

// Baseline accumulates keystroke events and scores deviation.
type Baseline struct {
	mu sync.Mutex

	profile Profile
	window  []Event // last WindowSize events, calibration tail included
	total   int

	status     Status
	confidence float64
	streak     int // consecutive mismatch evaluations
}

// NewBaseline creates a Baseline in the calibrating state.
func NewBaseline() *Baseline {
	return &Baseline{status: StatusCalibrating, confidence: 100}
}

// Record consumes one keystroke event, updating the profile during
// calibration or the verification window afterward.
func (b *Baseline) Record(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++

	// The window tracks the last WindowSize events across the
	// calibration boundary, so the first verification scores a full
	// window instead of a single keystroke.
	b.window = append(b.window, ev)
	if len(b.window) > WindowSize {
		b.window = b.window[1:]
	}

	if b.total <= CalibrationSamples {
		n := float64(b.profile.SampleCount)
		b.profile.AvgDwellMS = (b.profile.AvgDwellMS*n + durMS(ev.Dwell)) / (n + 1)
		b.profile.AvgFlightMS = (b.profile.AvgFlightMS*n + durMS(ev.Flight)) / (n + 1)
		b.profile.SampleCount++

		if b.total == CalibrationSamples {
			b.status = StatusVerifying
		}
		return
	}

	b.evaluate()
}

// evaluate scores the current window against the frozen profile.
// Caller holds b.mu.
func (b *Baseline) evaluate() {
	var dwellSum, flightSum float64
	for _, ev := range b.window {
		dwellSum += durMS(ev.Dwell)
		flightSum += durMS(ev.Flight)
	}
	n := float64(len(b.window))
	dwellMean := dwellSum / n
	flightMean := flightSum / n

	dwellDev := relativeDeviation(dwellMean, b.profile.AvgDwellMS)
	flightDev := relativeDeviation(flightMean, b.profile.AvgFlightMS)
	anomaly := (dwellDev + flightDev) / 2

	if anomaly > AnomalyThreshold {
		b.status = StatusMismatch
		b.confidence = math.Max(0, 100-anomaly*100)
		b.streak++
	} else {
		b.status = StatusVerifying
		b.confidence = 100
		b.streak = 0
	}
}

// State returns the current status and confidence.
func (b *Baseline) State() (Status, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status, b.confidence
}

// Profile returns a copy of the profile.
func (b *Baseline) Profile() Profile {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.profile
}

// Candidate reports whether the current state warrants a violation
// candidate: a mismatch sustained across MismatchStreak evaluations with
// confidence below FlagConfidence.
func (b *Baseline) Candidate(now time.Time) (audit.Candidate, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status != StatusMismatch || b.streak < MismatchStreak || b.confidence >= FlagConfidence {
		return audit.Candidate{}, false
	}

	return audit.Candidate{
		Type:      audit.TypeBiometricMismatch,
		Message:   "Typing cadence deviates from calibrated profile",
		Timestamp: now,
	}, true
}

func durMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func relativeDeviation(observed, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	return math.Abs(observed-baseline) / baseline
}
