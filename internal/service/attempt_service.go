package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/lingua-attempt/internal/config"
	"github.com/stemsi/lingua-attempt/internal/metrics"
	"github.com/stemsi/lingua-attempt/internal/model"
	"github.com/stemsi/lingua-attempt/internal/repository"
	"github.com/stemsi/lingua-attempt/internal/response"
	ws "github.com/stemsi/lingua-attempt/internal/websocket"
)

var (
	ErrAttemptNotFound         = errors.New("attempt not found")
	ErrNotAttemptOwner         = errors.New("attempt belongs to another learner")
	ErrAttemptLimitReached     = errors.New("attempt limit reached")
	ErrAttemptNotActive        = errors.New("attempt is not in progress")
	ErrAttemptAlreadySubmitted = errors.New("attempt already submitted")
	ErrAnswerCountMismatch     = errors.New("answer count does not match question count")
	ErrUnknownQuestion         = errors.New("question does not belong to this exam")
)

// autosaveTTL keeps the answer hash of an abandoned attempt from living forever.
const autosaveTTL = 48 * time.Hour

// AttemptService owns the attempt lifecycle on the server: eligibility,
// creation, answer autosave, final submission and reporting.
type AttemptService struct {
	attemptRepo *repository.AttemptRepository
	exams       *ExamService
	rdb         *redis.Client
	maxAttempts int
	log         zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attemptRepo *repository.AttemptRepository,
	exams *ExamService,
	rdb *redis.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attemptRepo: attemptRepo,
		exams:       exams,
		rdb:         rdb,
		maxAttempts: cfg.MaxAttemptsPerExam,
		log:         log.With().Str("component", "attempt_service").Logger(),
	}
}

// IsExamUnavailable reports whether err means the exam cannot be taken.
func IsExamUnavailable(err error) bool {
	return errors.Is(err, ErrExamNotFound) ||
		errors.Is(err, ErrExamNotPublished) ||
		errors.Is(err, ErrNoQuestions)
}

// Eligibility answers whether the learner may start another attempt.
// Ineligibility is a normal answer, not an error.
func (s *AttemptService) Eligibility(ctx context.Context, userID int, examID uuid.UUID) (*model.Eligibility, error) {
	if _, err := s.exams.GetPublished(ctx, examID); err != nil {
		if IsExamUnavailable(err) {
			return &model.Eligibility{Message: response.GetMessage(response.ErrExamNotAvailable)}, nil
		}
		return nil, err
	}

	err := s.checkLimit(ctx, userID, examID)
	if errors.Is(err, ErrAttemptLimitReached) {
		return &model.Eligibility{
			Message: fmt.Sprintf("You have used all %d attempts for this exam.", s.maxAttempts),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.Eligibility{CanCreate: true}, nil
}

func (s *AttemptService) checkLimit(ctx context.Context, userID int, examID uuid.UUID) error {
	if s.maxAttempts <= 0 {
		return nil
	}
	count, err := s.attemptRepo.CountByUserAndExam(ctx, userID, examID)
	if err != nil {
		return fmt.Errorf("count attempts: %w", err)
	}
	if count >= s.maxAttempts {
		return ErrAttemptLimitReached
	}
	return nil
}

// Create starts a new attempt after re-checking eligibility.
func (s *AttemptService) Create(ctx context.Context, userID int, examID uuid.UUID) (*model.Attempt, error) {
	if _, err := s.exams.GetPublished(ctx, examID); err != nil {
		return nil, err
	}
	if err := s.checkLimit(ctx, userID, examID); err != nil {
		return nil, err
	}

	a := &model.Attempt{ExamID: examID, UserID: userID}
	err := s.attemptRepo.Create(ctx, a)
	if errors.Is(err, repository.ErrAttemptNumberTaken) {
		// A concurrent create won the number; the limit must hold for the retry.
		if err := s.checkLimit(ctx, userID, examID); err != nil {
			return nil, err
		}
		err = s.attemptRepo.Create(ctx, a)
	}
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	metrics.AttemptsCreated.Inc()
	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Str("exam_id", examID.String()).
		Int("user_id", userID).
		Int("attempt_number", a.AttemptNumber).
		Msg("Attempt started")

	s.publish(ctx, ws.NewAttemptEvent(ws.EventStarted, a))
	return a, nil
}

// owned loads an attempt and checks it belongs to userID.
func (s *AttemptService) owned(ctx context.Context, userID int, attemptID uuid.UUID) (*model.Attempt, error) {
	a, err := s.attemptRepo.GetByID(ctx, attemptID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if a.UserID != userID {
		return nil, ErrNotAttemptOwner
	}
	return a, nil
}

// Get returns an attempt owned by userID. For an in-progress attempt the
// autosaved answers not yet persisted by the answer worker are merged in.
func (s *AttemptService) Get(ctx context.Context, userID int, attemptID uuid.UUID) (*model.Attempt, error) {
	a, err := s.owned(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AttemptStatusInProgress {
		return a, nil
	}

	saved, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String())).Result()
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Autosave read failed")
		return a, nil
	}
	if len(saved) == 0 {
		return a, nil
	}

	exam, err := s.exams.GetPublished(ctx, a.ExamID)
	if err != nil {
		return a, nil
	}

	merged := make([]model.AttemptAnswer, 0, len(exam.Questions))
	stored := make(map[uuid.UUID]string, len(a.Answers))
	for _, ans := range a.Answers {
		stored[ans.QuestionID] = ans.Answer
	}
	for _, q := range exam.Questions {
		value, ok := saved[q.ID.String()]
		if !ok {
			value, ok = stored[q.ID]
		}
		if ok {
			merged = append(merged, model.AttemptAnswer{QuestionID: q.ID, Answer: value})
		}
	}
	a.Answers = merged
	return a, nil
}

// SubmitAnswer autosaves one answer of an in-progress attempt and queues it
// for persistence.
func (s *AttemptService) SubmitAnswer(ctx context.Context, userID int, attemptID uuid.UUID, req model.SubmitAnswerRequest) error {
	a, err := s.owned(ctx, userID, attemptID)
	if err != nil {
		return err
	}
	if a.Status != model.AttemptStatusInProgress {
		return ErrAttemptNotActive
	}

	exam, err := s.exams.GetPublished(ctx, a.ExamID)
	if err != nil {
		return err
	}
	if _, ok := exam.QuestionIndex(req.QuestionID); !ok {
		return ErrUnknownQuestion
	}

	value := req.Answer.String()
	payload, err := json.Marshal(model.AnswerSync{
		AttemptID:  attemptID,
		QuestionID: req.QuestionID,
		Answer:     value,
	})
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}

	key := config.CacheKey.AttemptAnswersKey(attemptID.String())
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, req.QuestionID.String(), value)
	pipe.Expire(ctx, key, autosaveTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("autosave answer: %w", err)
	}
	return nil
}

// Submit finalizes an attempt with its complete answer set, given in the
// exam's original question order. Only the first submission succeeds.
func (s *AttemptService) Submit(ctx context.Context, userID int, attemptID uuid.UUID, answers []string) (*model.Attempt, error) {
	a, err := s.owned(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptAlreadySubmitted
	}

	exam, err := s.exams.GetPublished(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	if len(answers) != len(exam.Questions) {
		return nil, ErrAnswerCountMismatch
	}

	records := make([]model.AttemptAnswer, len(answers))
	for i, q := range exam.Questions {
		records[i] = model.AttemptAnswer{QuestionID: q.ID, Answer: answers[i]}
	}

	submitted, err := s.attemptRepo.Submit(ctx, attemptID, records)
	if errors.Is(err, repository.ErrAttemptNotInProgress) {
		return nil, ErrAttemptAlreadySubmitted
	}
	if err != nil {
		return nil, err
	}

	metrics.AttemptsSubmitted.WithLabelValues("api").Inc()
	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("user_id", userID).
		Msg("Attempt submitted")

	// The submission is committed; queueing for grading is best effort and
	// logged so an operator can requeue.
	s.queueForGrading(ctx, exam, submitted)
	s.publish(ctx, ws.NewAttemptEvent(ws.EventSubmitted, submitted))
	return submitted, nil
}

func (s *AttemptService) queueForGrading(ctx context.Context, exam *model.Exam, a *model.Attempt) {
	req := model.GradeRequest{
		AttemptID:  a.ID,
		ExamID:     a.ExamID,
		UserID:     a.UserID,
		CEFRTarget: exam.CEFRTarget,
		Answers:    a.Answers,
	}
	if a.SubmittedAt != nil {
		req.SubmittedAt = *a.SubmittedAt
	}

	payload, err := json.Marshal(req)
	if err != nil {
		s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Marshal grade request failed")
		return
	}

	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, config.WorkerKey.GradeRequestsQueue, payload)
	pipe.Del(ctx, config.CacheKey.AttemptAnswersKey(a.ID.String()))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Queue grade request failed")
	}
}

// History returns the learner's attempts on an exam, newest first.
func (s *AttemptService) History(ctx context.Context, userID int, examID uuid.UUID) ([]model.Attempt, error) {
	return s.attemptRepo.ListByUserAndExam(ctx, userID, examID)
}

// Stats returns the learner's aggregate statistics.
func (s *AttemptService) Stats(ctx context.Context, userID int) (*model.Stats, error) {
	return s.attemptRepo.Stats(ctx, userID)
}

// publish fans an event out to stream subscribers of the attempt.
func (s *AttemptService) publish(ctx context.Context, ev ws.AttemptEvent) {
	if err := PublishAttemptEvent(ctx, s.rdb, ev); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", ev.AttemptID.String()).Msg("Publish attempt event failed")
	}
}

// PublishAttemptEvent publishes ev on the attempt's event channel.
func PublishAttemptEvent(ctx context.Context, rdb *redis.Client, ev ws.AttemptEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return rdb.Publish(ctx, config.CacheKey.AttemptEventsChannel(ev.AttemptID.String()), payload).Err()
}
