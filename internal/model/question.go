package model

import (
	"github.com/google/uuid"
)

// QuestionType determines how an answer is captured.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeFreeText       QuestionType = "FREE_TEXT"
)

// Question is a single exam question. The engine never mutates it.
type Question struct {
	ID           uuid.UUID    `json:"id"`
	ExamID       uuid.UUID    `json:"exam_id"`
	Prompt       string       `json:"prompt"`
	QuestionType QuestionType `json:"question_type"`
	Options      []string     `json:"options,omitempty"`
	OrderNum     int          `json:"order_num"`
}

// IsChoice reports whether the question is answered by picking an option.
func (q *Question) IsChoice() bool {
	return q.QuestionType == QuestionTypeMultipleChoice
}
