// Package scoring grades objective answers at submission time.
//
// Only machine-checkable question types earn points automatically.
// Descriptive answers always score zero here and wait for a human
// grader; the submission carries them unscored.
package scoring

import (
	"strings"

	"proctord/internal/exam"
)

// QuestionScore is the grading outcome for one question.
type QuestionScore struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
	Points     int    `json:"points"`
	MaxPoints  int    `json:"maxPoints"`
	Correct    bool   `json:"correct"`
	Pending    bool   `json:"pending"` // awaiting manual grading
}

// Result is the overall grading outcome for a submission.
type Result struct {
	Score     int             `json:"score"`
	MaxScore  int             `json:"maxScore"`
	Questions []QuestionScore `json:"questions"`
}

// Score grades answers against the exam definition. Answers is keyed
// by question ID; a missing key is an unanswered question and scores
// zero. Unknown answer keys are ignored.
func Score(e *exam.Exam, answers map[string]string) Result {
	res := Result{
		MaxScore:  e.TotalPoints(),
		Questions: make([]QuestionScore, 0, len(e.Questions)),
	}

	for _, q := range e.Questions {
		answer := answers[q.ID]
		qs := QuestionScore{
			QuestionID: q.ID,
			Answer:     answer,
			MaxPoints:  q.Points,
		}

		switch q.Type {
		case exam.TypeMCQ, exam.TypeTrueFalse:
			qs.Correct = answer == q.CorrectAnswer && answer != ""
		case exam.TypeFillBlank:
			qs.Correct = equalFold(answer, q.CorrectAnswer) && strings.TrimSpace(answer) != ""
		case exam.TypeDescriptive:
			qs.Pending = true
		}

		if qs.Correct {
			qs.Points = q.Points
			res.Score += q.Points
		}
		res.Questions = append(res.Questions, qs)
	}

	return res
}

// equalFold compares answers ignoring surrounding whitespace and case.
func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
