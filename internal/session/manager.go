package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"proctord/internal/detector"
	"proctord/internal/exam"
	"proctord/internal/gateway"
	"proctord/internal/logging"
	"proctord/internal/security"
	"proctord/internal/store"
)

var (
	ErrUnknownSession   = errors.New("session: unknown session")
	ErrActiveSession    = errors.New("session: student already has an active session")
	ErrAlreadySubmitted = errors.New("session: exam already submitted")
)

// ManagerConfig wires the manager's collaborators.
type ManagerConfig struct {
	Exams     *exam.Client
	Spool     *store.Store
	Deliverer *gateway.Deliverer

	// MasterKey roots the per-session spool authentication keys.
	MasterKey []byte

	FaceModel   detector.FaceLandmarker
	ObjectModel detector.ObjectModel
	FlagOnVM    bool

	FaceInterval        time.Duration
	ObjectInterval      time.Duration
	EnvironmentInterval time.Duration
	ProhibitedClasses   []string
	MinObjectConfidence float64

	SnapshotMaxWidth int
	SnapshotQuality  int

	Log *logging.Logger
}

// Manager owns the live session registry and moves concluded sessions
// into the delivery spool.
type Manager struct {
	cfg ManagerConfig
	log *logging.Logger

	// onConclude, when set, receives the ID of every session that
	// reaches a terminal state through its conclude hook.
	onConclude func(sessionID string)

	mu       sync.Mutex
	sessions map[string]*Session
	byOwner  map[string]string // studentID+examID -> sessionID
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Spool == nil {
		return nil, errors.New("session: spool required")
	}
	if err := security.ValidateKeyStrength(cfg.MasterKey); err != nil {
		return nil, fmt.Errorf("session: master key: %w", err)
	}
	log := cfg.Log
	if log == nil {
		log = logging.Default()
	}
	return &Manager{
		cfg:      cfg,
		log:      log.WithComponent("sessions"),
		sessions: make(map[string]*Session),
		byOwner:  make(map[string]string),
	}, nil
}

// SetDeliverer wires the delivery worker. The deliverer is constructed
// after the manager because it decodes envelopes with Codec.
func (m *Manager) SetDeliverer(d *gateway.Deliverer) {
	m.cfg.Deliverer = d
}

// OnConclude registers a listener invoked with the session ID on every
// conclude path, the countdown timer's and shutdown's included. Must be
// set before sessions are created.
func (m *Manager) OnConclude(fn func(sessionID string)) {
	m.onConclude = fn
}

// Codec returns the spool codec for one session's envelopes.
func (m *Manager) Codec(sessionID string) (*store.Codec, error) {
	key, err := security.SpoolKey(m.cfg.MasterKey, sessionID)
	if err != nil {
		return nil, err
	}
	return store.NewCodec(key)
}

// Create fetches the exam and assembles a new session in
// StateNotStarted. One live session per student and exam.
func (m *Manager) Create(ctx context.Context, examID, studentID string) (*Session, error) {
	owner := studentID + "/" + examID

	m.mu.Lock()
	if id, ok := m.byOwner[owner]; ok {
		if existing := m.sessions[id]; existing != nil && !existing.State().Terminal() {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrActiveSession, id)
		}
	}
	m.mu.Unlock()

	// One submission per student and exam, ever. Terminated sessions do
	// not count; a proctor may allow a retake after review.
	submitted, err := m.cfg.Spool.HasSubmitted(examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("session: submission pre-check: %w", err)
	}
	if submitted {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubmitted, examID)
	}

	e, err := m.cfg.Exams.Fetch(ctx, examID)
	if err != nil {
		return nil, err
	}

	sess, err := New(Config{
		SessionID:           uuid.NewString(),
		StudentID:           studentID,
		Exam:                e,
		FaceModel:           m.cfg.FaceModel,
		ObjectModel:         m.cfg.ObjectModel,
		FlagOnVM:            m.cfg.FlagOnVM,
		FaceInterval:        m.cfg.FaceInterval,
		ObjectInterval:      m.cfg.ObjectInterval,
		EnvironmentInterval: m.cfg.EnvironmentInterval,
		ProhibitedClasses:   m.cfg.ProhibitedClasses,
		MinObjectConfidence: m.cfg.MinObjectConfidence,
		SnapshotMaxWidth:    m.cfg.SnapshotMaxWidth,
		SnapshotQuality:     m.cfg.SnapshotQuality,
		Log:                 m.log,
	})
	if err != nil {
		return nil, err
	}
	sess.SetConcludeHook(func(rec *gateway.Record) {
		m.spool(sess, rec)
		if m.onConclude != nil {
			m.onConclude(sess.ID())
		}
	})

	m.mu.Lock()
	m.sessions[sess.ID()] = sess
	m.byOwner[owner] = sess.ID()
	m.mu.Unlock()

	m.persist(sess, "")
	m.log.Info("session created",
		"session_id", sess.ID(), "exam_id", examID, "student_id", studentID)
	return sess, nil
}

// Get returns a live session by ID.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return sess, nil
}

// spool encodes the submission record under the session's derived key
// and hands it to the deliverer. Spool failures are logged, not fatal:
// the record remains available through Session.Outcome.
func (m *Manager) spool(sess *Session, rec *gateway.Record) {
	codec, err := m.Codec(sess.ID())
	if err != nil {
		m.log.Error("spool key derivation failed", "session_id", sess.ID(), "error", err)
		return
	}
	defer codec.Close()

	payload, tag, err := codec.Encode(rec)
	if err != nil {
		m.log.Error("envelope encode failed", "session_id", sess.ID(), "error", err)
		return
	}

	if _, err := m.cfg.Spool.SpoolSubmission(&store.PendingSubmission{
		SessionID: sess.ID(),
		ExamID:    rec.ExamID,
		Payload:   payload,
		Tag:       tag,
		CreatedAt: time.Now(),
	}); err != nil {
		if errors.Is(err, store.ErrSessionExists) {
			return
		}
		m.log.Error("spool write failed", "session_id", sess.ID(), "error", err)
		return
	}

	m.persist(sess, rec.TerminationReason)
	if m.cfg.Deliverer != nil {
		m.cfg.Deliverer.Nudge()
	}
}

// persist mirrors the session's metadata into the store.
func (m *Manager) persist(sess *Session, reason string) {
	st := sess.Status()
	rec := &store.SessionRecord{
		SessionID: sess.ID(),
		ExamID:    sess.ExamID(),
		StudentID: sess.StudentID(),
		State:     st.State,
		Degraded:  len(st.Degraded) > 0,
		StartedAt: time.Now(),
		Reason:    reason,
	}
	if sess.State().Terminal() {
		rec.FinishedAt = time.Now()
	}
	if existing, err := m.cfg.Spool.GetSession(sess.ID()); err == nil && existing != nil {
		rec.StartedAt = existing.StartedAt
	}
	if err := m.cfg.Spool.UpsertSession(rec); err != nil {
		m.log.Error("session metadata write failed", "session_id", sess.ID(), "error", err)
	}
}

// UpdateState refreshes the stored metadata row; handlers call it
// after consent and start transitions.
func (m *Manager) UpdateState(sess *Session) {
	m.persist(sess, "")
}

// Shutdown terminates every live session that is still running.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		if s.State().Terminal() {
			continue
		}
		if _, err := s.Terminate("daemon shutdown"); err != nil && !errors.Is(err, ErrFinished) {
			m.log.Warn("shutdown termination failed", "session_id", s.ID(), "error", err)
		}
	}
}
