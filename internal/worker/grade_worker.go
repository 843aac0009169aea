package worker

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/lingua-attempt/internal/config"
	"github.com/stemsi/lingua-attempt/internal/metrics"
	"github.com/stemsi/lingua-attempt/internal/model"
	"github.com/stemsi/lingua-attempt/internal/service"
	ws "github.com/stemsi/lingua-attempt/internal/websocket"
)

// GradeStore applies grading results.
type GradeStore interface {
	ApplyGrades(ctx context.Context, results []model.GradeResult) ([]uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
}

// GradeWorker consumes attempt_grades_queue, filled by the external grading
// service, and moves submitted attempts to graded.
type GradeWorker struct {
	store GradeStore
	rdb   *redis.Client
	q     popper
}

// NewGradeWorker creates a new GradeWorker.
func NewGradeWorker(store GradeStore, rdb *redis.Client, log zerolog.Logger) *GradeWorker {
	w := &GradeWorker{store: store, rdb: rdb}
	w.q = popper{
		rdb:   rdb,
		queue: config.WorkerKey.AttemptGradesQueue,
		log:   log.With().Str("component", "grade_worker").Logger(),
		flush: w.flush,
	}
	return w
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *GradeWorker) Start(ctx context.Context) {
	w.q.run(ctx)
}

// flush tries the whole batch in one statement, then falls back to one
// result at a time. Only the results that still fail are returned to the
// queue.
func (w *GradeWorker) flush(ctx context.Context, raw []string) error {
	results := make([]model.GradeResult, 0, len(raw))
	kept := make([]string, 0, len(raw))
	for _, item := range raw {
		var r model.GradeResult
		if err := json.Unmarshal([]byte(item), &r); err != nil || r.AttemptID == uuid.Nil {
			w.q.log.Error().Err(err).Msg("Invalid grade payload, dropping")
			continue
		}
		results = append(results, r)
		kept = append(kept, item)
	}
	if len(results) == 0 {
		return nil
	}

	graded, err := w.store.ApplyGrades(ctx, results)
	if err == nil {
		w.announce(ctx, graded)
		return nil
	}
	w.q.log.Warn().Err(err).Msg("Bulk grade update failed, using fallback")

	var failed []string
	for i := range results {
		ids, err := w.store.ApplyGrades(ctx, results[i:i+1])
		if err != nil {
			w.q.log.Error().Err(err).Str("attempt_id", results[i].AttemptID.String()).Msg("Grade update failed")
			failed = append(failed, kept[i])
			continue
		}
		w.announce(ctx, ids)
	}
	if len(failed) > 0 {
		w.q.requeue(failed)
		sleep(ctx, RetryDelay)
	}
	return nil
}

// announce publishes a graded event for every attempt that changed.
func (w *GradeWorker) announce(ctx context.Context, graded []uuid.UUID) {
	metrics.AttemptsGraded.Add(float64(len(graded)))
	for _, id := range graded {
		a, err := w.store.GetByID(ctx, id)
		if err != nil {
			w.q.log.Warn().Err(err).Str("attempt_id", id.String()).Msg("Reload graded attempt failed")
			continue
		}
		if err := service.PublishAttemptEvent(ctx, w.rdb, ws.NewAttemptEvent(ws.EventGraded, a)); err != nil {
			w.q.log.Warn().Err(err).Str("attempt_id", id.String()).Msg("Publish graded event failed")
		}
	}
}
