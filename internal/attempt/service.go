// Package attempt runs one learner's exam attempt: eligibility, start or
// resume, optimistic answering, navigation, the countdown and the single
// final submission.
package attempt

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/lingua-attempt/internal/draft"
	"github.com/stemsi/lingua-attempt/internal/model"
)

// Service is the remote Attempt Service the session talks to.
type Service interface {
	CanCreateAttempt(ctx context.Context, userID int, examID uuid.UUID) (*model.Eligibility, error)
	CreateAttempt(ctx context.Context, req model.CreateAttemptRequest) (*model.Attempt, error)
	GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error)
	GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
	// SubmitAnswer is best-effort; the session never retries it.
	SubmitAnswer(ctx context.Context, attemptID uuid.UUID, req model.SubmitAnswerRequest) error
	// SubmitAttempt sends the complete answer set, one entry per question
	// in original order.
	SubmitAttempt(ctx context.Context, attemptID uuid.UUID, answers []string) (*model.Attempt, error)
	GetAttemptsByUserAndExam(ctx context.Context, userID int, examID uuid.UUID) ([]model.Attempt, error)
	GetUserStats(ctx context.Context, userID int) (*model.Stats, error)
}

// DraftStore persists resumable local progress. *draft.Store satisfies it.
type DraftStore interface {
	Load(ctx context.Context, examID, attemptID uuid.UUID, questionCount int) (*model.Draft, error)
	Save(ctx context.Context, examID, attemptID uuid.UUID, patch draft.Patch) error
	Clear(ctx context.Context, examID, attemptID uuid.UUID) error
}

var (
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrNotEligible          = errors.New("not eligible to start a new attempt")
	ErrAlreadyStarted       = errors.New("session already started")
	ErrNotStarted           = errors.New("session not started")
	ErrNotActive            = errors.New("attempt is not active")
	ErrSubmissionInProgress = errors.New("submission already in progress")
	ErrTimeUp               = errors.New("time limit reached")
	ErrAlreadySubmitted     = errors.New("attempt already submitted")
	ErrUnknownQuestion      = errors.New("question does not belong to exam")
	ErrExamMismatch         = errors.New("attempt belongs to a different exam")
	ErrNoQuestions          = errors.New("exam has no questions")
)

// EligibilityError carries the message explaining why a start was refused.
type EligibilityError struct {
	Message string
}

func (e *EligibilityError) Error() string { return ErrNotEligible.Error() + ": " + e.Message }

// Is makes errors.Is(err, ErrNotEligible) hold.
func (e *EligibilityError) Is(target error) bool { return target == ErrNotEligible }
