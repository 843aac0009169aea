package worker

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/lingua-attempt/internal/config"
	"github.com/stemsi/lingua-attempt/internal/model"
)

// AnswerStore persists batches of answer syncs.
type AnswerStore interface {
	UpsertAnswers(ctx context.Context, syncs []model.AnswerSync) error
}

// AnswerWorker consumes persist_answers_queue and UPSERTs answers to PostgreSQL.
type AnswerWorker struct {
	store AnswerStore
	q     popper
}

// NewAnswerWorker creates a new AnswerWorker.
func NewAnswerWorker(store AnswerStore, rdb *redis.Client, log zerolog.Logger) *AnswerWorker {
	w := &AnswerWorker{store: store}
	w.q = popper{
		rdb:   rdb,
		queue: config.WorkerKey.PersistAnswersQueue,
		log:   log.With().Str("component", "answer_worker").Logger(),
		flush: w.flush,
	}
	return w
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *AnswerWorker) Start(ctx context.Context) {
	w.q.run(ctx)
}

func (w *AnswerWorker) flush(ctx context.Context, raw []string) error {
	syncs := make([]model.AnswerSync, 0, len(raw))
	for _, item := range raw {
		var s model.AnswerSync
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			w.q.log.Error().Err(err).Msg("Invalid JSON payload, dropping")
			continue
		}
		syncs = append(syncs, s)
	}
	return w.store.UpsertAnswers(ctx, collapseAnswers(syncs))
}

type answerKey struct {
	attempt  uuid.UUID
	question uuid.UUID
}

// collapseAnswers keeps only the latest sync per (attempt, question), so a
// single UPSERT never touches the same row twice. Order of first appearance
// is preserved.
func collapseAnswers(syncs []model.AnswerSync) []model.AnswerSync {
	pos := make(map[answerKey]int, len(syncs))
	out := make([]model.AnswerSync, 0, len(syncs))
	for _, s := range syncs {
		k := answerKey{s.AttemptID, s.QuestionID}
		if i, ok := pos[k]; ok {
			out[i] = s
			continue
		}
		pos[k] = len(out)
		out = append(out, s)
	}
	return out
}
