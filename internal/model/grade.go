package model

import (
	"time"

	"github.com/google/uuid"
)

// GradeRequest is queued for the external grading service once an attempt
// is submitted. Answers follow the exam's original question order.
type GradeRequest struct {
	AttemptID   uuid.UUID       `json:"attempt_id"`
	ExamID      uuid.UUID       `json:"exam_id"`
	UserID      int             `json:"user_id"`
	CEFRTarget  string          `json:"cefr_target,omitempty"`
	Answers     []AttemptAnswer `json:"answers"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// AnswerGrade is the grader's verdict on one answer.
type AnswerGrade struct {
	QuestionID uuid.UUID `json:"question_id"`
	IsCorrect  bool      `json:"is_correct"`
	Score      float64   `json:"score"`
}

// GradeResult is what the grading service sends back for an attempt.
// Passing is decided against the exam's passing score when applied.
type GradeResult struct {
	AttemptID     uuid.UUID     `json:"attempt_id"`
	Score         float64       `json:"score"`
	CEFREstimated string        `json:"cefr_estimated,omitempty"`
	AIEvaluation  *AIEvaluation `json:"ai_evaluation,omitempty"`
	Answers       []AnswerGrade `json:"answers,omitempty"`
}

// AnswerSync is one answer queued for persistence while an attempt runs.
type AnswerSync struct {
	AttemptID  uuid.UUID `json:"attempt_id"`
	QuestionID uuid.UUID `json:"question_id"`
	Answer     string    `json:"answer"`
}
