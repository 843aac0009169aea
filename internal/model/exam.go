package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam represents an exam and its ordered question list.
type Exam struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	CEFRTarget       string     `json:"cefr_target,omitempty"`
	TimeLimitMinutes int        `json:"time_limit_minutes"`
	ShuffleQuestions bool       `json:"shuffle_questions"`
	PassingScore     float64    `json:"passing_score"`
	Status           ExamStatus `json:"status"`
	Questions        []Question `json:"questions"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// QuestionCount returns the number of questions in the exam.
func (e *Exam) QuestionCount() int {
	return len(e.Questions)
}

// QuestionIndex returns the original position of the question with the given ID.
func (e *Exam) QuestionIndex(id uuid.UUID) (int, bool) {
	for i := range e.Questions {
		if e.Questions[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// IsTimed reports whether the exam has a time limit.
func (e *Exam) IsTimed() bool {
	return e.TimeLimitMinutes > 0
}
