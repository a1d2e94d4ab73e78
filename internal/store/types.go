package store

import "time"

// SessionRecord is the durable metadata row for one proctored session.
type SessionRecord struct {
	SessionID  string
	ExamID     string
	StudentID  string
	State      string
	Degraded   bool
	StartedAt  time.Time
	FinishedAt time.Time // zero until the session leaves Active
	Reason     string    // termination reason, empty otherwise
}

// PendingSubmission is a spooled submission awaiting delivery to the
// exam platform. Payload is an encoded envelope; Tag authenticates it
// against on-disk tampering.
type PendingSubmission struct {
	ID          int64
	SessionID   string
	ExamID      string
	Payload     []byte
	Tag         []byte
	CreatedAt   time.Time
	Attempts    int
	LastAttempt time.Time
	Delivered   bool
}
