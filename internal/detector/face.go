package detector

import (
	"context"
	"fmt"
	"time"

	"proctord/internal/audit"
	"proctord/internal/logging"
	"proctord/internal/signal"
)

// Gaze classification thresholds, as horizontal and vertical ratios of
// face width. Within (0.25, 0.75) horizontally and (0.2, 0.6)
// vertically counts as facing the screen.
const (
	gazeRightMax = 0.25
	gazeLeftMin  = 0.75
	gazeUpMax    = 0.2
	gazeDownMin  = 0.6
)

// DefaultFaceInterval is the nominal face evaluation period. Fast, for
// responsiveness; correctness does not depend on it.
const DefaultFaceInterval = 100 * time.Millisecond

// FaceDetector evaluates face presence, count, and gaze direction.
type FaceDetector struct {
	source   signal.Source
	model    FaceLandmarker
	interval time.Duration
	log      *logging.Logger
}

// NewFaceDetector creates a FaceDetector. A nil model degrades the
// detector to producing no candidates.
func NewFaceDetector(source signal.Source, model FaceLandmarker, interval time.Duration, log *logging.Logger) *FaceDetector {
	if interval <= 0 {
		interval = DefaultFaceInterval
	}
	if log == nil {
		log = logging.Default()
	}
	return &FaceDetector{
		source:   source,
		model:    model,
		interval: interval,
		log:      log.WithComponent("face-detector"),
	}
}

// Name implements Detector.
func (d *FaceDetector) Name() string { return "face" }

// Interval implements Detector.
func (d *FaceDetector) Interval() time.Duration { return d.interval }

// Evaluate implements Detector.
func (d *FaceDetector) Evaluate(ctx context.Context) (audit.Candidate, bool) {
	if d.model == nil {
		return audit.Candidate{}, false
	}

	frame, ok := d.source.LatestFrame()
	if !ok {
		return audit.Candidate{}, false
	}

	faces, err := d.model.DetectFaces(ctx, frame)
	if err != nil {
		// Per-cycle inference errors are logged and skipped.
		d.log.Debug("face inference failed", "error", err)
		return audit.Candidate{}, false
	}

	now := time.Now()

	switch {
	case len(faces) == 0:
		return audit.Candidate{
			Type:      audit.TypeNoFace,
			Message:   "No face visible in frame",
			Timestamp: now,
		}, true

	case len(faces) > 1:
		return audit.Candidate{
			Type:      audit.TypeMultipleFaces,
			Message:   fmt.Sprintf("%d faces visible in frame", len(faces)),
			Timestamp: now,
		}, true
	}

	if direction := classifyGaze(faces[0]); direction != "" {
		return audit.Candidate{
			Type:      audit.TypeLookingAway,
			Message:   "Candidate looking " + direction,
			Timestamp: now,
		}, true
	}

	return audit.Candidate{}, false
}

// classifyGaze returns the off-center gaze direction, or "" for center.
func classifyGaze(f Face) string {
	if f.FaceWidth <= 0 {
		return ""
	}

	relativeNoseX := (f.NoseX - f.LeftJawX) / f.FaceWidth
	pitchRatio := (f.NoseY - f.AvgEyeY) / f.FaceWidth

	switch {
	case relativeNoseX < gazeRightMax:
		return "right"
	case relativeNoseX > gazeLeftMin:
		return "left"
	case pitchRatio < gazeUpMax:
		return "up"
	case pitchRatio > gazeDownMin:
		return "down"
	}
	return ""
}
