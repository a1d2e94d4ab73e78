package detector

import (
	"context"
	"strings"
	"time"

	"proctord/internal/audit"
	"proctord/internal/logging"
	"proctord/internal/signal"
)

// DefaultObjectInterval is the nominal object evaluation period. Object
// inference is heavier than face landmarks, so it runs an order of
// magnitude slower.
const DefaultObjectInterval = 2 * time.Second

// DefaultMinObjectConfidence filters low-confidence detections.
const DefaultMinObjectConfidence = 0.5

// DefaultProhibitedClasses returns the default prohibited item set.
func DefaultProhibitedClasses() []string {
	return []string{"cell phone", "book", "laptop"}
}

// ObjectDetector evaluates frames for prohibited items.
type ObjectDetector struct {
	source        signal.Source
	model         ObjectModel
	prohibited    map[string]struct{}
	minConfidence float64
	interval      time.Duration
	log           *logging.Logger
}

// NewObjectDetector creates an ObjectDetector. A nil model degrades the
// detector to producing no candidates. An empty class list selects the
// defaults.
func NewObjectDetector(source signal.Source, model ObjectModel, classes []string, minConfidence float64, interval time.Duration, log *logging.Logger) *ObjectDetector {
	if len(classes) == 0 {
		classes = DefaultProhibitedClasses()
	}
	if minConfidence <= 0 {
		minConfidence = DefaultMinObjectConfidence
	}
	if interval <= 0 {
		interval = DefaultObjectInterval
	}
	if log == nil {
		log = logging.Default()
	}

	prohibited := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		prohibited[strings.ToLower(c)] = struct{}{}
	}

	return &ObjectDetector{
		source:        source,
		model:         model,
		prohibited:    prohibited,
		minConfidence: minConfidence,
		interval:      interval,
		log:           log.WithComponent("object-detector"),
	}
}

// Name implements Detector.
func (d *ObjectDetector) Name() string { return "object" }

// Interval implements Detector.
func (d *ObjectDetector) Interval() time.Duration { return d.interval }

// Evaluate implements Detector.
func (d *ObjectDetector) Evaluate(ctx context.Context) (audit.Candidate, bool) {
	if d.model == nil {
		return audit.Candidate{}, false
	}

	frame, ok := d.source.LatestFrame()
	if !ok {
		return audit.Candidate{}, false
	}

	detections, err := d.model.DetectObjects(ctx, frame)
	if err != nil {
		d.log.Debug("object inference failed", "error", err)
		return audit.Candidate{}, false
	}

	for _, det := range detections {
		if det.Confidence < d.minConfidence {
			continue
		}
		if _, banned := d.prohibited[strings.ToLower(det.Class)]; banned {
			return audit.Candidate{
				Type:      audit.TypeProhibitedObject,
				Message:   "Prohibited object detected: " + det.Class,
				Timestamp: time.Now(),
			}, true
		}
	}

	return audit.Candidate{}, false
}
