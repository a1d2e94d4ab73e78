package metrics

import (
	"sync"
	"time"
)

// EngineMetrics holds the proctoring engine's metrics.
type EngineMetrics struct {
	registry *Registry

	SessionsTotal     *Counter
	FlagsTotal        *Counter
	FlagsDropped      *Counter
	SnapshotsTotal    *Counter
	DetectorRuns      *Counter
	DetectorSkips     *Counter
	DeliveriesTotal   *Counter
	DeliveryFailures  *Counter
	TerminationsTotal *Counter

	ActiveSessions     *Gauge
	PendingSubmissions *Gauge
	UptimeSeconds      *Gauge

	DetectorDuration *Histogram
	SealDuration     *Histogram
	DeliveryDuration *Histogram
}

var startTime = time.Now()

// NewEngineMetrics registers the engine metrics on the registry.
func NewEngineMetrics(registry *Registry) *EngineMetrics {
	if registry == nil {
		registry = Default()
	}

	return &EngineMetrics{
		registry: registry,

		SessionsTotal: registry.RegisterCounter(
			"sessions_total", "Total number of proctored sessions started"),
		FlagsTotal: registry.RegisterCounter(
			"flags_total", "Total number of violation flags stored"),
		FlagsDropped: registry.RegisterCounter(
			"flags_dropped_total", "Total number of flag candidates dropped by debounce"),
		SnapshotsTotal: registry.RegisterCounter(
			"snapshots_total", "Total number of evidence snapshots captured"),
		DetectorRuns: registry.RegisterCounter(
			"detector_runs_total", "Total number of detector evaluation cycles"),
		DetectorSkips: registry.RegisterCounter(
			"detector_skips_total", "Total number of detector cycles skipped while busy"),
		DeliveriesTotal: registry.RegisterCounter(
			"deliveries_total", "Total number of submissions delivered to the platform"),
		DeliveryFailures: registry.RegisterCounter(
			"delivery_failures_total", "Total number of failed delivery attempts"),
		TerminationsTotal: registry.RegisterCounter(
			"terminations_total", "Total number of administratively terminated sessions"),

		ActiveSessions: registry.RegisterGauge(
			"active_sessions", "Number of currently active sessions"),
		PendingSubmissions: registry.RegisterGauge(
			"pending_submissions", "Number of spooled submissions awaiting delivery"),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds", "Number of seconds the daemon has been running"),

		DetectorDuration: registry.RegisterHistogram(
			"detector_duration_seconds", "Duration of detector evaluations in seconds",
			DurationBuckets),
		SealDuration: registry.RegisterHistogram(
			"seal_duration_seconds", "Duration of integrity chain sealing in seconds",
			DurationBuckets),
		DeliveryDuration: registry.RegisterHistogram(
			"delivery_duration_seconds", "Duration of submission deliveries in seconds",
			DurationBuckets),
	}
}

// SessionStarted records a session start.
func (m *EngineMetrics) SessionStarted() {
	m.SessionsTotal.Inc()
	m.ActiveSessions.Inc()
}

// SessionEnded records a session end.
func (m *EngineMetrics) SessionEnded() {
	m.ActiveSessions.Dec()
}

// RecordFlag records a stored flag.
func (m *EngineMetrics) RecordFlag() {
	m.FlagsTotal.Inc()
}

// RecordDroppedFlag records a candidate suppressed by the debounce
// window.
func (m *EngineMetrics) RecordDroppedFlag() {
	m.FlagsDropped.Inc()
}

// RecordSnapshot records a captured snapshot.
func (m *EngineMetrics) RecordSnapshot() {
	m.SnapshotsTotal.Inc()
}

// RecordDetectorRun records one detector cycle.
func (m *EngineMetrics) RecordDetectorRun(d time.Duration) {
	m.DetectorRuns.Inc()
	m.DetectorDuration.ObserveDuration(d)
}

// RecordDetectorSkip records a skipped detector cycle.
func (m *EngineMetrics) RecordDetectorSkip() {
	m.DetectorSkips.Inc()
}

// RecordDelivery records a delivery attempt outcome.
func (m *EngineMetrics) RecordDelivery(d time.Duration, success bool) {
	if success {
		m.DeliveriesTotal.Inc()
	} else {
		m.DeliveryFailures.Inc()
	}
	m.DeliveryDuration.ObserveDuration(d)
}

// RecordTermination records an administrative termination.
func (m *EngineMetrics) RecordTermination() {
	m.TerminationsTotal.Inc()
}

// UpdateUptime refreshes the uptime gauge.
func (m *EngineMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}

var (
	defaultEngineMetrics     *EngineMetrics
	defaultEngineMetricsOnce sync.Once
)

// GetMetrics returns the global engine metrics instance.
func GetMetrics() *EngineMetrics {
	defaultEngineMetricsOnce.Do(func() {
		defaultEngineMetrics = NewEngineMetrics(Default())
	})
	return defaultEngineMetrics
}
