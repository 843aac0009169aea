package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states on the Attempt Service.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in-progress"
	AttemptStatusSubmitted  AttemptStatus = "submitted"
	AttemptStatusGraded     AttemptStatus = "graded"
)

// AttemptAnswer is one submitted answer as recorded by the Attempt Service.
type AttemptAnswer struct {
	QuestionID uuid.UUID `json:"question_id"`
	Answer     string    `json:"answer"`
	IsCorrect  *bool     `json:"is_correct,omitempty"`
	Score      *float64  `json:"score,omitempty"`
}

// AIEvaluation holds rubric scores produced by the external grading service.
type AIEvaluation struct {
	Grammar    float64 `json:"grammar"`
	Fluency    float64 `json:"fluency"`
	Coherence  float64 `json:"coherence"`
	Vocabulary float64 `json:"vocabulary"`
	Comments   string  `json:"comments,omitempty"`
}

// Attempt represents one learner's run through an exam.
type Attempt struct {
	ID              uuid.UUID       `json:"id"`
	ExamID          uuid.UUID       `json:"exam_id"`
	UserID          int             `json:"user_id"`
	AttemptNumber   int             `json:"attempt_number"`
	StartedAt       time.Time       `json:"started_at"`
	SubmittedAt     *time.Time      `json:"submitted_at,omitempty"`
	Status          AttemptStatus   `json:"status"`
	Answers         []AttemptAnswer `json:"answers"`
	AIEvaluation    *AIEvaluation   `json:"ai_evaluation,omitempty"`
	Score           *float64        `json:"score,omitempty"`
	Passed          *bool           `json:"passed,omitempty"`
	CEFREstimated   *string         `json:"cefr_estimated,omitempty"`
	DurationSeconds *int            `json:"duration_seconds,omitempty"`
}

// IsTerminal reports whether the attempt no longer accepts changes.
func (a *Attempt) IsTerminal() bool {
	return a.SubmittedAt != nil || a.Status != AttemptStatusInProgress
}

// Eligibility is the answer to "may this learner start another attempt?".
type Eligibility struct {
	CanCreate bool   `json:"can_create"`
	Message   string `json:"message,omitempty"`
}

// CreateAttemptRequest identifies the learner and exam of a new attempt.
type CreateAttemptRequest struct {
	UserID int       `json:"user_id"`
	ExamID uuid.UUID `json:"exam_id"`
}

// SubmitAnswerRequest syncs a single answer while the attempt is running.
type SubmitAnswerRequest struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	Answer     Answer    `json:"answer"`
}

// SubmitAttemptRequest carries the complete answer set, one entry per
// question in the exam's original order.
type SubmitAttemptRequest struct {
	Answers []string `json:"answers" binding:"required"`
}

// Stats summarizes a learner's attempts across all exams.
type Stats struct {
	UserID        int        `json:"user_id"`
	TotalAttempts int        `json:"total_attempts"`
	InProgress    int        `json:"in_progress"`
	Submitted     int        `json:"submitted"`
	Graded        int        `json:"graded"`
	Passed        int        `json:"passed"`
	AverageScore  *float64   `json:"average_score,omitempty"`
	BestScore     *float64   `json:"best_score,omitempty"`
	LatestCEFR    *string    `json:"latest_cefr,omitempty"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}
