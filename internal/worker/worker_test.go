package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/lingua-attempt/internal/model"
)

type fakeAnswerStore struct {
	got []model.AnswerSync
	err error
}

func (f *fakeAnswerStore) UpsertAnswers(_ context.Context, syncs []model.AnswerSync) error {
	f.got = append(f.got, syncs...)
	return f.err
}

type fakeGradeStore struct {
	bulkErr error
	calls   [][]model.GradeResult
}

func (f *fakeGradeStore) ApplyGrades(_ context.Context, results []model.GradeResult) ([]uuid.UUID, error) {
	f.calls = append(f.calls, results)
	if len(results) > 1 && f.bulkErr != nil {
		return nil, f.bulkErr
	}
	return nil, nil
}

func (f *fakeGradeStore) GetByID(context.Context, uuid.UUID) (*model.Attempt, error) {
	return nil, errors.New("not used")
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestCollapseAnswersKeepsLatestPerQuestion(t *testing.T) {
	a, q1, q2 := uuid.New(), uuid.New(), uuid.New()
	in := []model.AnswerSync{
		{AttemptID: a, QuestionID: q1, Answer: "first"},
		{AttemptID: a, QuestionID: q2, Answer: "other"},
		{AttemptID: a, QuestionID: q1, Answer: "second"},
	}

	out := collapseAnswers(in)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].QuestionID != q1 || out[0].Answer != "second" {
		t.Errorf("out[0] = %+v", out[0])
	}
	if out[1].QuestionID != q2 {
		t.Errorf("out[1] = %+v", out[1])
	}
}

func TestAnswerWorkerFlushDropsInvalidPayloads(t *testing.T) {
	store := &fakeAnswerStore{}
	w := NewAnswerWorker(store, nil, zerolog.Nop())

	a, q := uuid.New(), uuid.New()
	raw := []string{
		"{not json",
		mustJSON(t, model.AnswerSync{AttemptID: a, QuestionID: q, Answer: "1"}),
		mustJSON(t, model.AnswerSync{AttemptID: a, QuestionID: q, Answer: "2"}),
	}
	if err := w.flush(context.Background(), raw); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(store.got) != 1 || store.got[0].Answer != "2" {
		t.Fatalf("stored = %+v", store.got)
	}
}

func TestAnswerWorkerFlushReturnsStoreError(t *testing.T) {
	store := &fakeAnswerStore{err: errors.New("db down")}
	w := NewAnswerWorker(store, nil, zerolog.Nop())

	raw := []string{mustJSON(t, model.AnswerSync{AttemptID: uuid.New(), QuestionID: uuid.New()})}
	if err := w.flush(context.Background(), raw); err == nil {
		t.Fatal("expected the store error so the batch is requeued")
	}
}

func TestGradeWorkerFallsBackToSingleUpdates(t *testing.T) {
	store := &fakeGradeStore{bulkErr: errors.New("deadlock")}
	w := NewGradeWorker(store, nil, zerolog.Nop())

	raw := []string{
		mustJSON(t, model.GradeResult{AttemptID: uuid.New(), Score: 80}),
		`{"attempt_id":"00000000-0000-0000-0000-000000000000"}`,
		mustJSON(t, model.GradeResult{AttemptID: uuid.New(), Score: 40}),
	}
	if err := w.flush(context.Background(), raw); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// One bulk call with the two valid results, then one call each.
	if len(store.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(store.calls))
	}
	if len(store.calls[0]) != 2 || len(store.calls[1]) != 1 || len(store.calls[2]) != 1 {
		t.Fatalf("call sizes = %d, %d, %d", len(store.calls[0]), len(store.calls[1]), len(store.calls[2]))
	}
}
