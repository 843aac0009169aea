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
	"github.com/stemsi/lingua-attempt/internal/model"
	"github.com/stemsi/lingua-attempt/internal/repository"
)

// Domain Errors
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrExamNotPublished = errors.New("exam status is not PUBLISHED")
	ErrNoQuestions      = errors.New("exam has no questions")
)

// ExamPayloadTTL bounds how long a lazily cached payload lives. Payloads
// warmed on startup or publish are refreshed explicitly.
const ExamPayloadTTL = 6 * time.Hour

// ExamService serves published exams from the Redis payload cache.
type ExamService struct {
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// GetPublished returns a published exam with its questions in original
// order. A cache miss falls back to PostgreSQL and re-caches the payload.
func (s *ExamService) GetPublished(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	key := config.CacheKey.ExamPayloadKey(examID.String())

	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var exam model.Exam
		if err := json.Unmarshal(data, &exam); err == nil {
			return &exam, nil
		}
		s.log.Warn().Str("exam_id", examID.String()).Msg("Corrupt exam payload in cache, reloading")
	case !errors.Is(err, redis.Nil):
		// Redis trouble should not take exams offline.
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Exam cache read failed")
	}

	exam, err := s.load(ctx, examID)
	if err != nil {
		return nil, err
	}

	if err := s.cache(ctx, exam, ExamPayloadTTL); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to self-heal exam cache")
	}
	return exam, nil
}

func (s *ExamService) load(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotPublished
	}

	questions, err := s.questionRepo.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	exam.Questions = questions
	return exam, nil
}

func (s *ExamService) cache(ctx context.Context, exam *model.Exam, ttl time.Duration) error {
	payload, err := json.Marshal(exam)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return s.rdb.Set(ctx, config.CacheKey.ExamPayloadKey(exam.ID.String()), payload, ttl).Err()
}

// Publish marks an exam PUBLISHED and warms its payload.
func (s *ExamService) Publish(ctx context.Context, examID uuid.UUID) error {
	if err := s.examRepo.UpdateStatus(ctx, examID, model.ExamStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	exam, err := s.load(ctx, examID)
	if err != nil {
		return err
	}
	if err := s.cache(ctx, exam, 0); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Exam published")
	return nil
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		exam, err := s.load(ctx, exams[i].ID)
		if err == nil {
			err = s.cache(ctx, exam, 0)
		}
		if err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}
