// Package snapshot captures evidence stills at the moment a qualifying
// flag is stored.
//
// Captures are bandwidth-bound: frames are downscaled and re-encoded as
// low-quality JPEG before being held for the submission record. A
// missing or undecodable frame is never fatal; the flag stands on its
// own and the capture is silently skipped.
package snapshot

import (
	"bytes"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"proctord/internal/logging"
	"proctord/internal/signal"
)

// Encoding bounds for captured stills.
const (
	// DefaultMaxWidth bounds the longer image dimension in pixels.
	DefaultMaxWidth = 640

	// DefaultJPEGQuality trades fidelity for size; evidence needs to
	// show what was in frame, not survive printing.
	DefaultJPEGQuality = 50
)

// Snapshot is one captured evidence still.
type Snapshot struct {
	Image     []byte    `json:"image"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Capturer captures and holds snapshots for one session.
type Capturer struct {
	source   signal.Source
	maxWidth int
	quality  int
	log      *logging.Logger

	mu    sync.Mutex
	snaps []Snapshot
}

// NewCapturer creates a Capturer reading frames from source.
func NewCapturer(source signal.Source, maxWidth, quality int, log *logging.Logger) *Capturer {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if log == nil {
		log = logging.Default()
	}
	return &Capturer{
		source:   source,
		maxWidth: maxWidth,
		quality:  quality,
		log:      log.WithComponent("snapshot"),
	}
}

// Capture grabs the current frame, compresses it, and records it with
// the given reason. It returns false when no usable frame was
// available; the caller's flag is unaffected either way.
func (c *Capturer) Capture(reason string, at time.Time) bool {
	frame, ok := c.source.LatestFrame()
	if !ok || len(frame.Data) == 0 {
		c.log.Debug("snapshot skipped: no frame available", "reason", reason)
		return false
	}

	img, err := imaging.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		c.log.Debug("snapshot skipped: undecodable frame", "reason", reason, "error", err)
		return false
	}

	if img.Bounds().Dx() > c.maxWidth {
		img = imaging.Resize(img, c.maxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(c.quality)); err != nil {
		c.log.Debug("snapshot skipped: encode failed", "reason", reason, "error", err)
		return false
	}

	if at.IsZero() {
		at = time.Now()
	}

	c.mu.Lock()
	c.snaps = append(c.snaps, Snapshot{
		Image:     buf.Bytes(),
		Reason:    reason,
		Timestamp: at,
	})
	c.mu.Unlock()

	return true
}

// Snapshots returns a copy of the captured snapshots in capture order.
func (c *Capturer) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Snapshot, len(c.snaps))
	copy(out, c.snaps)
	return out
}

// Count returns the number of captured snapshots.
func (c *Capturer) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}
