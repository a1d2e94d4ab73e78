// Package session runs one proctored exam attempt end to end: it owns
// the signal feed, schedules the violation detectors, accumulates the
// debounced flag log, and produces the sealed submission record when
// the attempt ends.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"proctord/internal/audit"
	"proctord/internal/biometric"
	"proctord/internal/chain"
	"proctord/internal/detector"
	"proctord/internal/exam"
	"proctord/internal/gateway"
	"proctord/internal/logging"
	"proctord/internal/metrics"
	"proctord/internal/schedule"
	"proctord/internal/scoring"
	"proctord/internal/signal"
	"proctord/internal/snapshot"
)

// Finish triggers, recorded on the submission envelope.
const (
	TriggerManual  = "manual"
	TriggerTimeout = "time_expired"
)

// Config assembles one session. Nil models put the corresponding
// detector into degraded mode rather than failing the session.
type Config struct {
	SessionID string
	StudentID string
	Exam      *exam.Exam

	FaceModel   detector.FaceLandmarker
	ObjectModel detector.ObjectModel

	// FlagOnVM stores a flag when the environment scores as a likely
	// virtual machine. Off by default; the advisory still rides on the
	// submission either way.
	FlagOnVM bool

	FaceInterval        time.Duration
	ObjectInterval      time.Duration
	EnvironmentInterval time.Duration

	// ProhibitedClasses and MinObjectConfidence tune the object
	// detector. Zero values fall back to the defaults.
	ProhibitedClasses   []string
	MinObjectConfidence float64

	SnapshotMaxWidth int
	SnapshotQuality  int

	Log *logging.Logger
}

// Session is a single proctored exam attempt.
type Session struct {
	id        string
	studentID string
	exam      *exam.Exam

	machine  *Machine
	feed     *signal.Feed
	agg      *audit.Aggregator
	capturer *snapshot.Capturer
	tracker  *biometric.Tracker
	baseline *biometric.Baseline
	env      *detector.EnvironmentHeuristic
	runner   *schedule.Runner

	log *logging.Logger
	m   *metrics.EngineMetrics

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// onConclude, when set, receives the submission record produced by
	// any finish path, including the countdown timer's.
	onConclude func(*gateway.Record)

	mu       sync.Mutex
	answers  map[string]string
	degraded []string
	started  time.Time
	deadline time.Time
	timer    *time.Timer
	outcome  *gateway.Record
}

// New assembles a session in StateNotStarted.
func New(cfg Config) (*Session, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("session: empty session ID")
	}
	if cfg.Exam == nil {
		return nil, fmt.Errorf("session: exam required")
	}
	if err := cfg.Exam.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	log := cfg.Log
	if log == nil {
		log = logging.Default()
	}
	log = log.WithSession(cfg.SessionID)

	feed := signal.NewFeed()

	s := &Session{
		id:        cfg.SessionID,
		studentID: cfg.StudentID,
		exam:      cfg.Exam,
		machine:   NewMachine(),
		feed:      feed,
		agg:       audit.NewAggregator(nil),
		capturer:  snapshot.NewCapturer(feed, cfg.SnapshotMaxWidth, cfg.SnapshotQuality, log),
		tracker:   biometric.NewTracker(),
		baseline:  biometric.NewBaseline(),
		env:       detector.NewEnvironmentHeuristic(feed, cfg.EnvironmentInterval),
		runner:    schedule.NewRunner(),
		log:       log,
		m:         metrics.GetMetrics(),
		answers:   make(map[string]string),
	}
	s.env.FlagOnVM = cfg.FlagOnVM

	if cfg.FaceModel == nil {
		s.degraded = append(s.degraded, "face")
	}
	if cfg.ObjectModel == nil {
		s.degraded = append(s.degraded, "object")
	}

	classes := cfg.ProhibitedClasses
	if len(classes) == 0 {
		classes = detector.DefaultProhibitedClasses()
	}
	minConfidence := cfg.MinObjectConfidence
	if minConfidence <= 0 {
		minConfidence = detector.DefaultMinObjectConfidence
	}

	face := detector.NewFaceDetector(feed, cfg.FaceModel, cfg.FaceInterval, log)
	object := detector.NewObjectDetector(feed, cfg.ObjectModel,
		classes, minConfidence, cfg.ObjectInterval, log)

	for _, det := range []detector.Detector{face, object, s.env} {
		det := det
		if err := s.runner.Add(schedule.Task{
			Name:     det.Name(),
			Interval: det.Interval(),
			Run: func(ctx context.Context) {
				start := time.Now()
				if c, ok := det.Evaluate(ctx); ok {
					s.submit(c)
				}
				s.m.RecordDetectorRun(time.Since(start))
			},
		}); err != nil {
			return nil, fmt.Errorf("session: register %s detector: %w", det.Name(), err)
		}
	}

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// StudentID returns the candidate identifier.
func (s *Session) StudentID() string { return s.studentID }

// ExamID returns the exam identifier.
func (s *Session) ExamID() string { return s.exam.ID }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.machine.State() }

// Feed returns the signal feed this session consumes.
func (s *Session) Feed() *signal.Feed { return s.feed }

// SetConcludeHook registers a callback receiving the submission
// record on any finish path. Must be set before Start.
func (s *Session) SetConcludeHook(fn func(*gateway.Record)) {
	s.onConclude = fn
}

// Degraded lists capabilities running in degraded mode.
func (s *Session) Degraded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.degraded))
	copy(out, s.degraded)
	return out
}

// MarkDegraded records that a capability could not be provided. Only
// meaningful before or during the active phase.
func (s *Session) MarkDegraded(capability string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.degraded {
		if d == capability {
			return
		}
	}
	s.degraded = append(s.degraded, capability)
	s.log.Warn("capability degraded", "capability", capability)
}

// RequestConsent moves the session to AwaitingConsent.
func (s *Session) RequestConsent() error {
	return s.machine.Transition(StateAwaitingConsent)
}

// Start records consent and begins monitoring. The countdown starts
// now; when the exam duration elapses the session submits itself.
func (s *Session) Start(ctx context.Context) error {
	if err := s.machine.Transition(StateActive); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)

	now := time.Now()
	s.mu.Lock()
	s.cancel = cancel
	s.started = now
	s.deadline = now.Add(s.exam.TimeLimit())
	s.timer = time.AfterFunc(s.exam.TimeLimit(), func() {
		if _, err := s.Finish(TriggerTimeout); err != nil {
			s.log.Debug("timeout finish skipped", "error", err)
		}
	})
	s.mu.Unlock()

	if err := s.runner.Start(ctx); err != nil {
		return fmt.Errorf("session: start detectors: %w", err)
	}

	visibility := detector.NewVisibilityMonitor(s.feed, sinkFunc(s.submit), s.log)
	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		visibility.Run(ctx)
	}()
	go s.keyLoop(ctx)
	go s.clipboardLoop(ctx)

	s.m.SessionStarted()
	s.log.Info("session started",
		"exam_id", s.exam.ID, "student_id", s.studentID,
		"duration_min", s.exam.Duration, "degraded", s.Degraded())
	return nil
}

// keyLoop fans raw key events out to the biometric tracker and the
// devtools combo watcher.
func (s *Session) keyLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.feed.KeyEvents():
			if sample, ok := s.tracker.Observe(ev); ok {
				s.baseline.Record(sample)
				if c, ok := s.baseline.Candidate(ev.At); ok {
					s.submit(c)
				}
			}
			if c, ok := s.env.ObserveKey(ev); ok {
				s.submit(c)
			}
		}
	}
}

func (s *Session) clipboardLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.feed.ClipboardEvents():
			if c, ok := s.env.ObserveClipboard(ev); ok {
				s.submit(c)
			}
		}
	}
}

// submit routes a candidate through the debouncing aggregator and, for
// flag types that warrant it, captures an evidence snapshot.
func (s *Session) submit(c audit.Candidate) (audit.Flag, bool) {
	if s.machine.State() != StateActive {
		return audit.Flag{}, false
	}

	flag, stored := s.agg.Submit(c)
	if !stored {
		s.m.RecordDroppedFlag()
		return audit.Flag{}, false
	}

	s.m.RecordFlag()
	s.log.Info("violation flagged", "type", string(flag.Type), "message", flag.Message)

	if flag.Type.SnapshotWorthy() {
		if s.capturer.Capture(string(flag.Type), flag.Timestamp) {
			s.m.RecordSnapshot()
		}
	}
	return flag, true
}

// sinkFunc adapts a function to the detector.Sink interface.
type sinkFunc func(audit.Candidate) (audit.Flag, bool)

func (f sinkFunc) Submit(c audit.Candidate) (audit.Flag, bool) { return f(c) }

// SaveAnswer stores or replaces the answer to a question. Answers are
// only accepted while the session is active.
func (s *Session) SaveAnswer(questionID, answer string) error {
	if s.machine.State() != StateActive {
		return fmt.Errorf("session %s: not active", s.id)
	}

	known := false
	for _, q := range s.exam.Questions {
		if q.ID == questionID {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("session %s: unknown question %q", s.id, questionID)
	}

	s.mu.Lock()
	s.answers[questionID] = answer
	s.mu.Unlock()
	return nil
}

// Finish ends the session normally: it wins the race against any
// concurrent finish or termination, stops monitoring, seals the flag
// log, scores the answers, and returns the submission record. A second
// call returns ErrFinished.
func (s *Session) Finish(trigger string) (*gateway.Record, error) {
	if err := s.machine.Transition(StateSubmitted); err != nil {
		return nil, err
	}
	return s.conclude(trigger, "")
}

// Terminate ends the session by policy. The attempt still submits,
// carrying the termination reason.
func (s *Session) Terminate(reason string) (*gateway.Record, error) {
	wasActive := s.machine.State() == StateActive
	if err := s.machine.Transition(StateTerminated); err != nil {
		return nil, err
	}
	s.m.RecordTermination()
	if !wasActive {
		// Nothing was monitored; there is no attempt to submit.
		s.log.Info("session terminated before start", "reason", reason)
		return nil, nil
	}
	return s.conclude(TriggerManual, reason)
}

// conclude runs exactly once, guarded by the terminal transition in
// the callers.
func (s *Session) conclude(trigger, terminationReason string) (*gateway.Record, error) {
	s.stopMonitoring()

	sealStart := time.Now()
	sealed, err := chain.Seal(s.exam.ID, s.agg.Flags())
	if err != nil {
		return nil, fmt.Errorf("session %s: seal flag log: %w", s.id, err)
	}
	s.m.SealDuration.ObserveDuration(time.Since(sealStart))

	s.mu.Lock()
	answers := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}
	started := s.started
	degraded := len(s.degraded) > 0
	s.mu.Unlock()

	result := scoring.Score(s.exam, answers)
	status, _ := s.baseline.State()
	profile := s.baseline.Profile()
	possibleVM, vmReasons := s.env.PossibleVM()

	rec := &gateway.Record{
		SessionID:         s.id,
		ExamID:            s.exam.ID,
		StudentID:         s.studentID,
		Answers:           answers,
		Score:             result.Score,
		MaxScore:          result.MaxScore,
		Flags:             sealed,
		Snapshots:         s.capturer.Snapshots(),
		BiometricProfile:  &profile,
		BiometricStatus:   status.String(),
		Degraded:          degraded,
		PossibleVM:        possibleVM,
		VMReasons:         vmReasons,
		TerminationReason: terminationReason,
		StartedAt:         started,
		SubmittedAt:       time.Now(),
		Grading:           &result,
	}

	s.mu.Lock()
	s.outcome = rec
	s.mu.Unlock()

	if s.onConclude != nil {
		s.onConclude(rec)
	}

	s.m.SessionEnded()
	s.log.Info("session concluded",
		"trigger", trigger, "state", s.machine.State().String(),
		"score", result.Score, "max_score", result.MaxScore,
		"flags", len(sealed), "snapshots", len(rec.Snapshots))
	return rec, nil
}

// stopMonitoring cancels every worker and releases signal consumers.
// After it returns no detector can store another flag.
func (s *Session) stopMonitoring() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.runner.Stop()
	s.wg.Wait()
}

// Status is a point-in-time view of the session for polling clients.
type Status struct {
	SessionID       string    `json:"sessionId"`
	ExamID          string    `json:"examId"`
	State           string    `json:"state"`
	FlagCount       int       `json:"flagCount"`
	SnapshotCount   int       `json:"snapshotCount"`
	BiometricStatus string    `json:"biometricStatus"`
	Degraded        []string  `json:"degraded,omitempty"`
	PossibleVM      bool      `json:"possibleVm"`
	Deadline        time.Time `json:"deadline,omitempty"`
	RemainingSec    int       `json:"remainingSec"`
}

// Status returns the current session status.
func (s *Session) Status() Status {
	status, _ := s.baseline.State()
	possibleVM, _ := s.env.PossibleVM()

	s.mu.Lock()
	deadline := s.deadline
	s.mu.Unlock()

	remaining := 0
	if s.machine.State() == StateActive && !deadline.IsZero() {
		if d := time.Until(deadline); d > 0 {
			remaining = int(d.Seconds())
		}
	}

	return Status{
		SessionID:       s.id,
		ExamID:          s.exam.ID,
		State:           s.machine.State().String(),
		FlagCount:       s.agg.Count(),
		SnapshotCount:   s.capturer.Count(),
		BiometricStatus: status.String(),
		Degraded:        s.Degraded(),
		PossibleVM:      possibleVM,
		Deadline:        deadline,
		RemainingSec:    remaining,
	}
}

// Outcome returns the submission record if the session has concluded.
func (s *Session) Outcome() (*gateway.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome, s.outcome != nil
}
