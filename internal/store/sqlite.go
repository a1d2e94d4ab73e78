// Package store persists session metadata and spools finished
// submissions until the exam platform acknowledges them.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the proctoring spool.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id   TEXT PRIMARY KEY,
    exam_id      TEXT NOT NULL,
    student_id   TEXT NOT NULL,
    state        TEXT NOT NULL,
    degraded     INTEGER NOT NULL DEFAULT 0,
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER,
    reason       TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_exam ON sessions(exam_id);
CREATE INDEX IF NOT EXISTS idx_sessions_student ON sessions(student_id);

CREATE TABLE IF NOT EXISTS pending_submissions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT NOT NULL REFERENCES sessions(session_id),
    exam_id      TEXT NOT NULL,
    payload      BLOB NOT NULL,
    tag          BLOB NOT NULL,
    created_at   INTEGER NOT NULL,
    attempts     INTEGER NOT NULL DEFAULT 0,
    last_attempt INTEGER,
    delivered    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_pending_undelivered
    ON pending_submissions(delivered, created_at);
`

var ErrSessionExists = errors.New("store: session already spooled")

// Store is the SQLite-backed spool.
type Store struct {
	db *sql.DB
}

// Open opens or creates the spool database at the given path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// UpsertSession inserts or refreshes a session metadata row.
func (s *Store) UpsertSession(r *SessionRecord) error {
	var finished interface{}
	if !r.FinishedAt.IsZero() {
		finished = r.FinishedAt.UnixNano()
	}

	_, err := s.db.Exec(`
		INSERT INTO sessions (session_id, exam_id, student_id, state, degraded, started_at, finished_at, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state = excluded.state,
			degraded = excluded.degraded,
			finished_at = excluded.finished_at,
			reason = excluded.reason`,
		r.SessionID, r.ExamID, r.StudentID, r.State, boolToInt(r.Degraded),
		r.StartedAt.UnixNano(), finished, r.Reason,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session row by ID, or nil if absent.
func (s *Store) GetSession(sessionID string) (*SessionRecord, error) {
	var r SessionRecord
	var degraded int
	var startedNs int64
	var finishedNs sql.NullInt64
	var reason sql.NullString

	err := s.db.QueryRow(`
		SELECT session_id, exam_id, student_id, state, degraded, started_at, finished_at, reason
		FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&r.SessionID, &r.ExamID, &r.StudentID, &r.State, &degraded, &startedNs, &finishedNs, &reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	r.Degraded = degraded != 0
	r.StartedAt = time.Unix(0, startedNs)
	if finishedNs.Valid {
		r.FinishedAt = time.Unix(0, finishedNs.Int64)
	}
	r.Reason = reason.String

	return &r, nil
}

// HasSubmitted reports whether the student already submitted a session
// for the exam.
func (s *Store) HasSubmitted(examID, studentID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(1) FROM sessions
		WHERE exam_id = ? AND student_id = ? AND state = 'submitted'`,
		examID, studentID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check submitted: %w", err)
	}
	return n > 0, nil
}

// SpoolSubmission stores an encoded submission envelope for delivery.
// At most one envelope is accepted per session.
func (s *Store) SpoolSubmission(p *PendingSubmission) (int64, error) {
	var existing int
	err := s.db.QueryRow(`
		SELECT COUNT(1) FROM pending_submissions WHERE session_id = ?`,
		p.SessionID,
	).Scan(&existing)
	if err != nil {
		return 0, fmt.Errorf("check spool: %w", err)
	}
	if existing > 0 {
		return 0, fmt.Errorf("session %s: %w", p.SessionID, ErrSessionExists)
	}

	result, err := s.db.Exec(`
		INSERT INTO pending_submissions (session_id, exam_id, payload, tag, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.SessionID, p.ExamID, p.Payload, p.Tag, p.CreatedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("spool submission: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// NextPending returns the oldest undelivered submissions, up to limit.
func (s *Store) NextPending(limit int) ([]PendingSubmission, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, exam_id, payload, tag, created_at, attempts, last_attempt, delivered
		FROM pending_submissions
		WHERE delivered = 0
		ORDER BY created_at ASC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	return scanPending(rows)
}

// MarkDelivered records a successful delivery.
func (s *Store) MarkDelivered(id int64) error {
	result, err := s.db.Exec(`
		UPDATE pending_submissions SET delivered = 1, last_attempt = ? WHERE id = ?`,
		time.Now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("pending submission not found: %d", id)
	}
	return nil
}

// RecordAttempt bumps the attempt counter after a failed delivery.
func (s *Store) RecordAttempt(id int64) error {
	_, err := s.db.Exec(`
		UPDATE pending_submissions SET attempts = attempts + 1, last_attempt = ? WHERE id = ?`,
		time.Now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// PendingCount returns the number of undelivered submissions.
func (s *Store) PendingCount() (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(1) FROM pending_submissions WHERE delivered = 0`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func scanPending(rows *sql.Rows) ([]PendingSubmission, error) {
	var out []PendingSubmission

	for rows.Next() {
		var p PendingSubmission
		var createdNs int64
		var lastNs sql.NullInt64
		var delivered int

		if err := rows.Scan(&p.ID, &p.SessionID, &p.ExamID, &p.Payload, &p.Tag,
			&createdNs, &p.Attempts, &lastNs, &delivered); err != nil {
			return nil, fmt.Errorf("scan pending submission: %w", err)
		}

		p.CreatedAt = time.Unix(0, createdNs)
		if lastNs.Valid {
			p.LastAttempt = time.Unix(0, lastNs.Int64)
		}
		p.Delivered = delivered != 0

		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending submissions: %w", err)
	}

	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
