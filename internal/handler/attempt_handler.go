package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/lingua-attempt/internal/middleware"
	"github.com/stemsi/lingua-attempt/internal/model"
	"github.com/stemsi/lingua-attempt/internal/response"
	"github.com/stemsi/lingua-attempt/internal/service"
	"github.com/stemsi/lingua-attempt/internal/validator"
)

// Attempts is the part of *service.AttemptService the learner endpoints use.
type Attempts interface {
	Eligibility(ctx context.Context, userID int, examID uuid.UUID) (*model.Eligibility, error)
	Create(ctx context.Context, userID int, examID uuid.UUID) (*model.Attempt, error)
	Get(ctx context.Context, userID int, attemptID uuid.UUID) (*model.Attempt, error)
	SubmitAnswer(ctx context.Context, userID int, attemptID uuid.UUID, req model.SubmitAnswerRequest) error
	Submit(ctx context.Context, userID int, attemptID uuid.UUID, answers []string) (*model.Attempt, error)
	History(ctx context.Context, userID int, examID uuid.UUID) ([]model.Attempt, error)
	Stats(ctx context.Context, userID int) (*model.Stats, error)
}

// Exams serves published exam payloads.
type Exams interface {
	GetPublished(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
}

// AttemptHandler handles the learner-facing exam and attempt endpoints.
type AttemptHandler struct {
	attempts Attempts
	exams    Exams
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts Attempts, exams Exams, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		exams:    exams,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// GetExam godoc
// GET /api/v1/learner/exams/:exam_id
// Returns the published exam with its questions in original order.
func (h *AttemptHandler) GetExam(c *gin.Context) {
	examID, ok := parseID(c, "exam_id")
	if !ok {
		return
	}

	exam, err := h.exams.GetPublished(c.Request.Context(), examID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, exam)
}

// Eligibility godoc
// GET /api/v1/learner/exams/:exam_id/eligibility
func (h *AttemptHandler) Eligibility(c *gin.Context) {
	claims, examID, ok := claimsAndID(c, "exam_id")
	if !ok {
		return
	}

	elig, err := h.attempts.Eligibility(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, elig)
}

// CreateAttempt godoc
// POST /api/v1/learner/exams/:exam_id/attempts
func (h *AttemptHandler) CreateAttempt(c *gin.Context) {
	claims, examID, ok := claimsAndID(c, "exam_id")
	if !ok {
		return
	}

	a, err := h.attempts.Create(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, a)
}

// ListAttempts godoc
// GET /api/v1/learner/exams/:exam_id/attempts
// Returns the learner's attempts on the exam, newest first.
func (h *AttemptHandler) ListAttempts(c *gin.Context) {
	claims, examID, ok := claimsAndID(c, "exam_id")
	if !ok {
		return
	}

	attempts, err := h.attempts.History(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	response.Success(c, http.StatusOK, attempts)
}

// GetAttempt godoc
// GET /api/v1/learner/attempts/:attempt_id
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	claims, attemptID, ok := claimsAndID(c, "attempt_id")
	if !ok {
		return
	}

	a, err := h.attempts.Get(c.Request.Context(), claims.UserID, attemptID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, a)
}

// SubmitAnswer godoc
// PUT /api/v1/learner/attempts/:attempt_id/answers
// Autosaves one answer while the attempt is in progress.
func (h *AttemptHandler) SubmitAnswer(c *gin.Context) {
	claims, attemptID, ok := claimsAndID(c, "attempt_id")
	if !ok {
		return
	}

	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attempts.SubmitAnswer(c.Request.Context(), claims.UserID, attemptID, req); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// SubmitAttempt godoc
// POST /api/v1/learner/attempts/:attempt_id/submit
// Finalizes the attempt. Repeated submissions get 409.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	claims, attemptID, ok := claimsAndID(c, "attempt_id")
	if !ok {
		return
	}

	var req model.SubmitAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	a, err := h.attempts.Submit(c.Request.Context(), claims.UserID, attemptID, req.Answers)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, a)
}

// Stats godoc
// GET /api/v1/learner/stats
func (h *AttemptHandler) Stats(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	stats, err := h.attempts.Stats(c.Request.Context(), claims.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// fail maps service errors to HTTP statuses and error codes.
func (h *AttemptHandler) fail(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	response.Fail(c, status, code)
}

func errorStatus(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrExamNotFound), errors.Is(err, service.ErrExamNotPublished):
		return http.StatusNotFound, response.ErrExamNotAvailable
	case errors.Is(err, service.ErrNoQuestions):
		return http.StatusConflict, response.ErrNoQuestions
	case errors.Is(err, service.ErrAttemptLimitReached):
		return http.StatusForbidden, response.ErrAttemptLimitReached
	case errors.Is(err, service.ErrAttemptNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrNotAttemptOwner):
		return http.StatusForbidden, response.ErrNotAttemptOwner
	case errors.Is(err, service.ErrAttemptNotActive):
		return http.StatusConflict, response.ErrAttemptNotActive
	case errors.Is(err, service.ErrAttemptAlreadySubmitted):
		return http.StatusConflict, response.ErrAttemptAlreadySubmit
	case errors.Is(err, service.ErrAnswerCountMismatch):
		return http.StatusBadRequest, response.ErrAnswerCountMismatch
	case errors.Is(err, service.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrUnknownQuestion
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

func claimsAndID(c *gin.Context, param string) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}
	id, ok := parseID(c, param)
	return claims, id, ok
}
