package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"proctord/internal/audit"
	"proctord/internal/chain"
	"proctord/internal/detector"
	"proctord/internal/exam"
	"proctord/internal/gateway"
	"proctord/internal/signal"
)

// emptyFrameModel reports an empty frame on every inference call.
type emptyFrameModel struct{}

func (emptyFrameModel) DetectFaces(ctx context.Context, frame signal.Frame) ([]detector.Face, error) {
	return nil, nil
}

func sessionExam() *exam.Exam {
	return &exam.Exam{
		ID:       "exam-042",
		Title:    "Midterm",
		Duration: 30,
		Questions: []exam.Question{
			{ID: "q1", Type: exam.TypeMCQ, Options: []string{"a", "b"}, CorrectAnswer: "b", Points: 5},
			{ID: "q2", Type: exam.TypeFillBlank, CorrectAnswer: "mutex", Points: 3},
			{ID: "q3", Type: exam.TypeDescriptive, Points: 10},
		},
	}
}

func newTestSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	if cfg.SessionID == "" {
		cfg.SessionID = "sess-1"
	}
	if cfg.StudentID == "" {
		cfg.StudentID = "student-7"
	}
	if cfg.Exam == nil {
		cfg.Exam = sessionExam()
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

// startSession walks a session into the active state.
func startSession(t *testing.T, s *Session) {
	t.Helper()
	if err := s.RequestConsent(); err != nil {
		t.Fatalf("RequestConsent failed: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func TestNew_RejectsInvalidExam(t *testing.T) {
	_, err := New(Config{SessionID: "s", Exam: &exam.Exam{ID: "e", Duration: 30}})
	if !errors.Is(err, exam.ErrNoQuestions) {
		t.Errorf("expected ErrNoQuestions, got %v", err)
	}
}

func TestNew_DegradedWithoutModels(t *testing.T) {
	s := newTestSession(t, Config{})
	got := s.Degraded()
	if len(got) != 2 {
		t.Fatalf("expected face and object degraded, got %v", got)
	}
}

func TestSession_Lifecycle(t *testing.T) {
	s := newTestSession(t, Config{})
	if s.State() != StateNotStarted {
		t.Fatalf("expected not_started, got %s", s.State())
	}

	startSession(t, s)
	if s.State() != StateActive {
		t.Fatalf("expected active, got %s", s.State())
	}

	if err := s.SaveAnswer("q1", "b"); err != nil {
		t.Fatalf("SaveAnswer failed: %v", err)
	}
	if err := s.SaveAnswer("q2", " MUTEX "); err != nil {
		t.Fatalf("SaveAnswer failed: %v", err)
	}

	rec, err := s.Finish(TriggerManual)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if s.State() != StateSubmitted {
		t.Errorf("expected submitted, got %s", s.State())
	}
	if rec.Score != 8 || rec.MaxScore != 18 {
		t.Errorf("expected 8/18, got %d/%d", rec.Score, rec.MaxScore)
	}
	if rec.Answers["q1"] != "b" {
		t.Errorf("answers missing from record: %v", rec.Answers)
	}
	if rec.SubmittedAt.Before(rec.StartedAt) {
		t.Error("submission timestamp precedes start")
	}
}

func TestSession_SaveAnswer_Guards(t *testing.T) {
	s := newTestSession(t, Config{})

	if err := s.SaveAnswer("q1", "b"); err == nil {
		t.Error("answers must be rejected before the session is active")
	}

	startSession(t, s)
	if err := s.SaveAnswer("q99", "b"); err == nil {
		t.Error("unknown question IDs must be rejected")
	}

	if _, err := s.Finish(TriggerManual); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if err := s.SaveAnswer("q1", "b"); err == nil {
		t.Error("answers must be rejected after submission")
	}
}

func TestSession_FinishExactlyOnce(t *testing.T) {
	s := newTestSession(t, Config{})
	startSession(t, s)

	if _, err := s.Finish(TriggerManual); err != nil {
		t.Fatalf("first finish failed: %v", err)
	}
	if _, err := s.Finish(TriggerManual); !errors.Is(err, ErrFinished) {
		t.Errorf("second finish: expected ErrFinished, got %v", err)
	}
	if _, err := s.Terminate("late"); !errors.Is(err, ErrFinished) {
		t.Errorf("terminate after finish: expected ErrFinished, got %v", err)
	}

	if _, ok := s.Outcome(); !ok {
		t.Error("outcome should remain available after finish")
	}
}

func TestSession_StartAndFinishConcurrently(t *testing.T) {
	s := newTestSession(t, Config{})
	if err := s.RequestConsent(); err != nil {
		t.Fatalf("RequestConsent failed: %v", err)
	}

	// Finish races with Start until the transition to active lands; the
	// cancel handoff must stay inside the session lock.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, err := s.Finish(TriggerTimeout)
			if err == nil || errors.Is(err, ErrFinished) {
				return
			}
		}
	}()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-done

	if s.State() != StateSubmitted {
		t.Errorf("expected submitted, got %s", s.State())
	}
}

func TestSession_ConcludeHookFires(t *testing.T) {
	s := newTestSession(t, Config{})
	var got *gateway.Record
	s.SetConcludeHook(func(rec *gateway.Record) { got = rec })

	startSession(t, s)
	rec, err := s.Finish(TriggerManual)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if got != rec {
		t.Error("conclude hook did not receive the submission record")
	}
}

func TestSession_TerminateBeforeStart(t *testing.T) {
	s := newTestSession(t, Config{})
	if err := s.RequestConsent(); err != nil {
		t.Fatalf("RequestConsent failed: %v", err)
	}

	rec, err := s.Terminate("consent declined")
	if err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if rec != nil {
		t.Error("termination before start produces no submission")
	}
	if s.State() != StateTerminated {
		t.Errorf("expected terminated, got %s", s.State())
	}
}

func TestSession_TerminateActiveSubmits(t *testing.T) {
	s := newTestSession(t, Config{})
	startSession(t, s)
	s.SaveAnswer("q1", "b")

	rec, err := s.Terminate("left the room")
	if err != nil {
		t.Fatalf("Terminate failed: %v", err)
	}
	if rec == nil {
		t.Fatal("active termination must still submit the attempt")
	}
	if rec.TerminationReason != "left the room" {
		t.Errorf("unexpected termination reason %q", rec.TerminationReason)
	}
	if rec.Score != 5 {
		t.Errorf("expected partial score 5, got %d", rec.Score)
	}
}

func TestSession_FlagsSealedIntoChain(t *testing.T) {
	s := newTestSession(t, Config{
		FaceModel:    emptyFrameModel{},
		FaceInterval: 5 * time.Millisecond,
	})
	startSession(t, s)

	// The face detector needs a frame to evaluate; the empty model then
	// reports no face on every cycle.
	s.Feed().PushFrame([]byte{0xff, 0xd8}, time.Now())

	deadline := time.After(2 * time.Second)
	for s.Status().FlagCount == 0 {
		select {
		case <-deadline:
			t.Fatal("no NO_FACE flag recorded")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	rec, err := s.Finish(TriggerManual)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if len(rec.Flags) == 0 {
		t.Fatal("record carries no flags")
	}
	if rec.Flags[0].Type != audit.TypeNoFace {
		t.Errorf("expected NO_FACE, got %s", rec.Flags[0].Type)
	}
	if err := chain.Verify(rec.ExamID, rec.Flags); err != nil {
		t.Errorf("sealed chain failed verification: %v", err)
	}
}

func TestSession_VisibilityEdgesFlagged(t *testing.T) {
	s := newTestSession(t, Config{})
	startSession(t, s)

	now := time.Now()
	s.Feed().SetVisibility(false, true, now)
	s.Feed().SetVisibility(true, false, now.Add(time.Second))

	deadline := time.After(2 * time.Second)
	for s.Status().FlagCount < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected 2 flags, got %d", s.Status().FlagCount)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	rec, err := s.Finish(TriggerManual)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	types := map[audit.Type]bool{}
	for _, f := range rec.Flags {
		types[f.Type] = true
	}
	if !types[audit.TypeTabSwitch] || !types[audit.TypeFullscreenExit] {
		t.Errorf("expected tab switch and fullscreen exit, got %v", types)
	}
}

func TestSession_StatusCountdown(t *testing.T) {
	s := newTestSession(t, Config{})
	startSession(t, s)
	defer s.Finish(TriggerManual)

	st := s.Status()
	if st.State != "active" {
		t.Errorf("expected active, got %s", st.State)
	}
	if st.RemainingSec <= 0 || st.RemainingSec > 30*60 {
		t.Errorf("remaining seconds out of range: %d", st.RemainingSec)
	}
	if st.Deadline.IsZero() {
		t.Error("deadline not set")
	}
}
