package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validation errors.
var (
	ErrMissingUpstream = errors.New("config: upstream base URL required")
	ErrBadInterval     = errors.New("config: interval must be positive")
)

// Validate checks the configuration for errors. It is called on every
// load, including hot reloads, so a bad edit never reaches the daemon.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
			problems = append(problems, fmt.Sprintf("server.addr %q: %v", c.Server.Addr, err))
		}
	}
	if c.Server.FrameRate < 0 {
		problems = append(problems, "server.frame_rate must not be negative")
	}

	for name, up := range map[string]UpstreamConfig{
		"exam_service": c.ExamService,
		"platform":     c.Platform,
	} {
		if up.BaseURL == "" {
			problems = append(problems, fmt.Sprintf("%s.base_url required", name))
			continue
		}
		u, err := url.Parse(up.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			problems = append(problems, fmt.Sprintf("%s.base_url %q is not an http(s) URL", name, up.BaseURL))
		}
		if up.TimeoutSec < 0 {
			problems = append(problems, fmt.Sprintf("%s.timeout_sec must not be negative", name))
		}
	}

	if c.Detectors.FaceIntervalMs <= 0 {
		problems = append(problems, "detectors.face_interval_ms must be positive")
	}
	if c.Detectors.ObjectIntervalMs <= 0 {
		problems = append(problems, "detectors.object_interval_ms must be positive")
	}
	if c.Detectors.EnvironmentIntervalSec <= 0 {
		problems = append(problems, "detectors.environment_interval_sec must be positive")
	}
	if c.Detectors.MinObjectConfidence < 0 || c.Detectors.MinObjectConfidence > 1 {
		problems = append(problems, "detectors.min_object_confidence must be within [0, 1]")
	}
	if c.Detectors.InferenceURL != "" {
		u, err := url.Parse(c.Detectors.InferenceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			problems = append(problems, fmt.Sprintf("detectors.inference_url %q is not an http(s) URL", c.Detectors.InferenceURL))
		}
	}
	if c.Detectors.InferenceTimeoutSec < 0 {
		problems = append(problems, "detectors.inference_timeout_sec must not be negative")
	}

	if c.Snapshot.MaxWidth <= 0 {
		problems = append(problems, "snapshot.max_width must be positive")
	}
	if c.Snapshot.JPEGQuality < 1 || c.Snapshot.JPEGQuality > 100 {
		problems = append(problems, "snapshot.jpeg_quality must be within [1, 100]")
	}

	if c.Spool.Path == "" {
		problems = append(problems, "spool.path required")
	}
	if c.Spool.SweepIntervalSec <= 0 {
		problems = append(problems, "spool.sweep_interval_sec must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q unknown", c.Logging.Level))
	}
	switch c.Logging.Output {
	case "stdout", "stderr", "file", "both":
	default:
		problems = append(problems, fmt.Sprintf("logging.output %q unknown", c.Logging.Output))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config validation: %s", strings.Join(problems, "; "))
	}
	return nil
}
