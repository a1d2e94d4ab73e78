// Package exam defines the exam model delivered to proctored sessions.
package exam

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Question types.
const (
	TypeMCQ         = "mcq"
	TypeTrueFalse   = "true_false"
	TypeFillBlank   = "fill_blank"
	TypeDescriptive = "descriptive"
)

var (
	ErrNoQuestions   = errors.New("exam has no questions")
	ErrUnknownType   = errors.New("unknown question type")
	ErrZeroDuration  = errors.New("exam duration must be positive")
	ErrMissingAnswer = errors.New("objective question missing correct answer")
)

// Question is a single exam question. CorrectAnswer is server-side
// only and must never reach the candidate; use Redacted before
// handing an exam to a session.
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Type          string   `json:"type"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer string   `json:"correctAnswer,omitempty"`

	// Points carries the question's mark value; the exam service calls
	// the field "marks" on the wire.
	Points int `json:"marks"`
}

// Objective reports whether the question can be machine scored.
func (q Question) Objective() bool {
	switch q.Type {
	case TypeMCQ, TypeTrueFalse, TypeFillBlank:
		return true
	}
	return false
}

// Exam is a full exam definition as provided by the exam service.
type Exam struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Duration    int        `json:"duration"` // minutes
	Questions   []Question `json:"questions"`
}

// TimeLimit returns the exam duration as a Duration.
func (e *Exam) TimeLimit() time.Duration {
	return time.Duration(e.Duration) * time.Minute
}

// TotalPoints sums the point value of every question.
func (e *Exam) TotalPoints() int {
	total := 0
	for _, q := range e.Questions {
		total += q.Points
	}
	return total
}

// Validate checks structural soundness of an exam definition.
func (e *Exam) Validate() error {
	if e.Duration <= 0 {
		return ErrZeroDuration
	}
	if len(e.Questions) == 0 {
		return ErrNoQuestions
	}
	for i, q := range e.Questions {
		switch q.Type {
		case TypeMCQ, TypeTrueFalse, TypeFillBlank, TypeDescriptive:
		default:
			return fmt.Errorf("question %d: %w: %q", i, ErrUnknownType, q.Type)
		}
		if q.Objective() && strings.TrimSpace(q.CorrectAnswer) == "" {
			return fmt.Errorf("question %d: %w", i, ErrMissingAnswer)
		}
	}
	return nil
}

// Redacted returns a candidate-safe copy with correct answers removed.
func (e *Exam) Redacted() *Exam {
	out := *e
	out.Questions = make([]Question, len(e.Questions))
	for i, q := range e.Questions {
		q.CorrectAnswer = ""
		out.Questions[i] = q
	}
	return &out
}
