// Package detector implements the independently scheduled violation
// evaluators: face presence and gaze, prohibited objects, visibility,
// and environment heuristics.
//
// Each detector consumes the session's signal source and produces zero
// or one candidate violation per evaluation cycle. Detectors never talk
// to each other and never store flags themselves; candidates flow into
// the audit aggregator through a Sink.
//
// ML inference (face landmarks, object detection) is an injected
// capability. The engine is agnostic to the concrete model; a nil or
// failing model degrades that detector to producing no candidates, it
// never aborts the session.
package detector

import (
	"context"
	"time"

	"proctord/internal/audit"
	"proctord/internal/signal"
)

// Sink receives candidate violations. Satisfied by audit.Aggregator,
// usually wrapped by the session to attach snapshot capture.
type Sink interface {
	Submit(c audit.Candidate) (audit.Flag, bool)
}

// Face is one detected face, reduced to the landmarks the gaze
// classifier needs.
type Face struct {
	// Horizontal landmark positions, in frame pixels.
	NoseX    float64
	LeftJawX float64
	// FaceWidth spans the jaw outline.
	FaceWidth float64

	// Vertical landmark positions.
	NoseY   float64
	AvgEyeY float64
}

// FaceLandmarker is the injected face-landmark inference capability.
type FaceLandmarker interface {
	DetectFaces(ctx context.Context, frame signal.Frame) ([]Face, error)
}

// Detection is one detected object with its class label and confidence.
type Detection struct {
	Class      string
	Confidence float64
	// Box is the normalized bounding box (x, y, w, h in [0,1]).
	Box [4]float64
}

// ObjectModel is the injected object-detection inference capability.
type ObjectModel interface {
	DetectObjects(ctx context.Context, frame signal.Frame) ([]Detection, error)
}

// Detector produces zero or one candidate violation per evaluation
// cycle. Implementations are scheduled by internal/schedule with a
// skip-if-busy guard, so Evaluate never overlaps itself.
type Detector interface {
	Name() string
	Interval() time.Duration

	// Evaluate performs one cycle. The second return is false when no
	// candidate was produced this cycle.
	Evaluate(ctx context.Context) (audit.Candidate, bool)
}
