package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"proctord/internal/auth"
	"proctord/internal/exam"
	"proctord/internal/gateway"
	"proctord/internal/session"
	"proctord/internal/signal"
)

// maxFrameBytes bounds a single camera frame upload.
const maxFrameBytes = 2 * 1024 * 1024

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// sessionFor resolves the {id} path segment and enforces ownership:
// the session's student, or an admin.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no identity")
		return nil, false
	}

	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return nil, false
	}

	if id.Role != auth.RoleAdmin && sess.StudentID() != id.ID {
		writeError(w, http.StatusForbidden, "not your session")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var req struct {
		ExamID string `json:"examId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExamID == "" {
		writeError(w, http.StatusBadRequest, "examId required")
		return
	}

	sess, err := s.manager.Create(r.Context(), req.ExamID, id.ID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrActiveSession):
			writeError(w, http.StatusConflict, "session already in progress")
		case errors.Is(err, session.ErrAlreadySubmitted):
			writeError(w, http.StatusConflict, "exam already submitted")
		case errors.Is(err, exam.ErrNotFound):
			writeError(w, http.StatusNotFound, "unknown exam")
		default:
			s.log.Error("session create failed", "exam_id", req.ExamID, "error", err)
			writeError(w, http.StatusBadGateway, "exam service unavailable")
		}
		return
	}

	// The monitoring disclosure is shown now; the session waits on the
	// candidate's explicit acceptance before anything starts.
	if err := sess.RequestConsent(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.manager.UpdateState(sess)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"sessionId": sess.ID(),
		"state":     sess.State().String(),
		"degraded":  sess.Degraded(),
	})
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}

	var req struct {
		Accepted bool `json:"accepted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	if !req.Accepted {
		if _, err := sess.Terminate("consent declined"); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.manager.UpdateState(sess)
		writeJSON(w, http.StatusOK, map[string]string{"state": sess.State().String()})
		return
	}

	// Monitoring outlives this request; tie it to the daemon, not r.
	if err := sess.Start(context.Background()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.manager.UpdateState(sess)
	writeJSON(w, http.StatusOK, sess.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}

	var req struct {
		QuestionID string `json:"questionId"`
		Answer     string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuestionID == "" {
		writeError(w, http.StatusBadRequest, "questionId required")
		return
	}

	if err := sess.SaveAnswer(req.QuestionID, req.Answer); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}

	rec, err := sess.Finish(session.TriggerManual)
	if err != nil {
		if errors.Is(err, session.ErrFinished) {
			// Idempotent from the client's point of view.
			if rec, ok := sess.Outcome(); ok {
				writeJSON(w, http.StatusOK, finishResponse(sess, rec))
				return
			}
			writeError(w, http.StatusConflict, "session already finished")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, finishResponse(sess, rec))
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	if id.Role != auth.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin role required")
		return
	}

	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "terminated by administrator"
	}

	if _, err := sess.Terminate(req.Reason); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": sess.State().String()})
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	if sess.State() != session.StateActive {
		writeError(w, http.StatusConflict, "session not active")
		return
	}
	if !s.frames.Allow(sess.ID()) {
		writeError(w, http.StatusTooManyRequests, "frame rate exceeded")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes))
	if err != nil || len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty frame")
		return
	}

	sess.Feed().PushFrame(data, time.Now())
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	if sess.State() != session.StateActive {
		writeError(w, http.StatusConflict, "session not active")
		return
	}

	var events []struct {
		Key  string    `json:"key"`
		Down bool      `json:"down"`
		At   time.Time `json:"at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, "malformed events")
		return
	}

	for _, ev := range events {
		at := ev.At
		if at.IsZero() {
			at = time.Now()
		}
		sess.Feed().PushKey(ev.Key, ev.Down, at)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	if sess.State() != session.StateActive {
		writeError(w, http.StatusConflict, "session not active")
		return
	}

	var req struct {
		Hidden     bool `json:"hidden"`
		Fullscreen bool `json:"fullscreen"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	sess.Feed().SetVisibility(req.Hidden, req.Fullscreen, time.Now())
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleClipboard(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	if sess.State() != session.StateActive {
		writeError(w, http.StatusConflict, "session not active")
		return
	}

	var req struct {
		Op string `json:"op"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	op := signal.ClipboardOp(req.Op)
	switch op {
	case signal.ClipboardPaste, signal.ClipboardCopy, signal.ClipboardCut:
	default:
		writeError(w, http.StatusBadRequest, "unknown clipboard op")
		return
	}

	sess.Feed().PushClipboard(op, time.Now())
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleEnvironment(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}

	var req struct {
		HardwareConcurrency int     `json:"hardwareConcurrency"`
		DeviceMemoryGB      float64 `json:"deviceMemoryGb"`
		Renderer            string  `json:"renderer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	sess.Feed().SetEnvironment(signal.Environment{
		HardwareConcurrency: req.HardwareConcurrency,
		DeviceMemoryGB:      req.DeviceMemoryGB,
		Renderer:            req.Renderer,
	})
	w.WriteHeader(http.StatusAccepted)
}

func finishResponse(sess *session.Session, rec *gateway.Record) map[string]interface{} {
	return map[string]interface{}{
		"sessionId": sess.ID(),
		"state":     sess.State().String(),
		"score":     rec.Score,
		"maxScore":  rec.MaxScore,
	}
}
