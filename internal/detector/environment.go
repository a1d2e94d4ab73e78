package detector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"proctord/internal/audit"
	"proctord/internal/signal"
)

// VM heuristic scoring. A total at or above VMScoreThreshold marks the
// session "possible VM", an advisory surfaced to the reviewer rather
// than a violation flag. Monitoring limitations are not suspicious
// behavior.
const (
	VMScoreThreshold = 2

	vmScoreLowConcurrency = 1
	vmScoreLowMemory      = 1
	vmScoreRenderer       = 5

	lowConcurrency = 2   // cores
	lowMemoryGB    = 2.0 // GB
)

// vmRendererSignatures match render-backend strings of known
// virtualization stacks.
var vmRendererSignatures = []string{"VMware", "VirtualBox", "SwiftShader", "llvmpipe"}

// VMScore computes the virtualization heuristic score and the matched
// indicators for review.
func VMScore(env signal.Environment) (int, []string) {
	var score int
	var reasons []string

	if env.HardwareConcurrency > 0 && env.HardwareConcurrency < lowConcurrency {
		score += vmScoreLowConcurrency
		reasons = append(reasons, fmt.Sprintf("low hardware concurrency (%d)", env.HardwareConcurrency))
	}
	if env.DeviceMemoryGB > 0 && env.DeviceMemoryGB < lowMemoryGB {
		score += vmScoreLowMemory
		reasons = append(reasons, fmt.Sprintf("low device memory (%.1f GB)", env.DeviceMemoryGB))
	}
	for _, sig := range vmRendererSignatures {
		if strings.Contains(env.Renderer, sig) {
			score += vmScoreRenderer
			reasons = append(reasons, "virtualized renderer: "+sig)
			break
		}
	}

	return score, reasons
}

// Devtools-opening key combinations intercepted by the host. The engine
// re-derives them from the raw key stream so interception cannot be
// silently disabled client-side.
type comboState struct {
	ctrl  bool
	shift bool
}

// EnvironmentHeuristic covers the non-vision integrity signals:
// devtools key combinations, clipboard interception, and the VM
// advisory.
//
// Key and clipboard events are fed by the session's fan-out loop
// (ObserveKey / ObserveClipboard); the VM check doubles as a scheduled
// detector so late-reported environment metrics are still picked up.
type EnvironmentHeuristic struct {
	source   signal.Source
	interval time.Duration

	mu         sync.Mutex
	combo      comboState
	possibleVM bool
	vmReasons  []string
	// FlagOnVM keeps the advisory-only policy configurable; off by
	// default per the source system's intent.
	FlagOnVM bool
}

// DefaultEnvironmentInterval is the VM advisory evaluation period.
const DefaultEnvironmentInterval = 10 * time.Second

// NewEnvironmentHeuristic creates an EnvironmentHeuristic.
func NewEnvironmentHeuristic(source signal.Source, interval time.Duration) *EnvironmentHeuristic {
	if interval <= 0 {
		interval = DefaultEnvironmentInterval
	}
	return &EnvironmentHeuristic{source: source, interval: interval}
}

// Name implements Detector.
func (h *EnvironmentHeuristic) Name() string { return "environment" }

// Interval implements Detector.
func (h *EnvironmentHeuristic) Interval() time.Duration { return h.interval }

// Evaluate implements Detector: it refreshes the VM advisory. It only
// produces a candidate when FlagOnVM is enabled.
func (h *EnvironmentHeuristic) Evaluate(ctx context.Context) (audit.Candidate, bool) {
	env, ok := h.source.Environment()
	if !ok {
		return audit.Candidate{}, false
	}

	score, reasons := VMScore(env)

	h.mu.Lock()
	defer h.mu.Unlock()

	wasVM := h.possibleVM
	h.possibleVM = score >= VMScoreThreshold
	h.vmReasons = reasons

	if h.FlagOnVM && h.possibleVM && !wasVM {
		return audit.Candidate{
			Type:      audit.TypeSecurityViolation,
			Message:   "Possible virtual machine: " + strings.Join(reasons, "; "),
			Timestamp: time.Now(),
		}, true
	}
	return audit.Candidate{}, false
}

// PossibleVM returns the advisory state and its indicators.
func (h *EnvironmentHeuristic) PossibleVM() (bool, []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.possibleVM, append([]string(nil), h.vmReasons...)
}

// ObserveKey inspects one raw key event for devtools-opening
// combinations. A matched combination yields a SECURITY_VIOLATION
// candidate.
func (h *EnvironmentHeuristic) ObserveKey(ev signal.KeyEvent) (audit.Candidate, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Key {
	case "Control", "ControlLeft", "ControlRight":
		h.combo.ctrl = ev.Down
		return audit.Candidate{}, false
	case "Shift", "ShiftLeft", "ShiftRight":
		h.combo.shift = ev.Down
		return audit.Candidate{}, false
	}

	if !ev.Down {
		return audit.Candidate{}, false
	}

	key := strings.ToUpper(ev.Key)
	blocked := key == "F12" ||
		(h.combo.ctrl && h.combo.shift && (key == "I" || key == "J")) ||
		(h.combo.ctrl && !h.combo.shift && key == "U")

	if !blocked {
		return audit.Candidate{}, false
	}

	return audit.Candidate{
		Type:      audit.TypeSecurityViolation,
		Message:   "Attempted to open Developer Tools",
		Timestamp: ev.At,
	}, true
}

// ObserveClipboard inspects one blocked clipboard action. Paste
// attempts yield a SECURITY_VIOLATION candidate; copy and cut are
// blocked silently.
func (h *EnvironmentHeuristic) ObserveClipboard(ev signal.ClipboardEvent) (audit.Candidate, bool) {
	if ev.Op != signal.ClipboardPaste {
		return audit.Candidate{}, false
	}
	return audit.Candidate{
		Type:      audit.TypeSecurityViolation,
		Message:   "Paste attempt blocked",
		Timestamp: ev.At,
	}, true
}
