// Package draft persists the resumable local state of in-progress attempts.
//
// A draft is keyed by (exam ID, attempt ID) and written synchronously on
// every answer or navigation change. Loading a draft whose answer count no
// longer matches the exam discards it.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/lingua-attempt/internal/config"
	"github.com/stemsi/lingua-attempt/internal/model"
	"github.com/stemsi/lingua-attempt/internal/shuffle"
)

// errNotFound is returned by backends for missing keys.
var errNotFound = errors.New("draft not found")

// backend is a byte-oriented key-value store.
type backend interface {
	get(ctx context.Context, key string) ([]byte, error)
	put(ctx context.Context, key string, value []byte) error
	del(ctx context.Context, key string) error
}

// Patch is a partial draft. Nil fields leave the stored value untouched.
type Patch struct {
	StartedAt            *time.Time
	Answers              []model.Answer
	TimeLimitMinutes     *int
	ShuffleQuestions     *bool
	ShuffledOrder        []int
	CurrentQuestionIndex *int
}

// Apply merges p into d.
func (p Patch) Apply(d *model.Draft) {
	if p.StartedAt != nil {
		d.StartedAt = *p.StartedAt
	}
	if p.Answers != nil {
		d.Answers = append([]model.Answer(nil), p.Answers...)
	}
	if p.TimeLimitMinutes != nil {
		d.TimeLimitMinutes = *p.TimeLimitMinutes
	}
	if p.ShuffleQuestions != nil {
		d.ShuffleQuestions = *p.ShuffleQuestions
	}
	if p.ShuffledOrder != nil {
		d.ShuffledOrder = append([]int(nil), p.ShuffledOrder...)
	}
	if p.CurrentQuestionIndex != nil {
		d.CurrentQuestionIndex = *p.CurrentQuestionIndex
	}
}

// Full returns a Patch that overwrites every field with d's values.
func Full(d *model.Draft) Patch {
	startedAt := d.StartedAt
	limit := d.TimeLimitMinutes
	shuffleOn := d.ShuffleQuestions
	index := d.CurrentQuestionIndex
	answers := d.Answers
	if answers == nil {
		answers = []model.Answer{}
	}
	return Patch{
		StartedAt:            &startedAt,
		Answers:              answers,
		TimeLimitMinutes:     &limit,
		ShuffleQuestions:     &shuffleOn,
		ShuffledOrder:        d.ShuffledOrder,
		CurrentQuestionIndex: &index,
	}
}

// Store loads, merges and clears drafts on top of a backend.
type Store struct {
	kv    backend
	keyFn func(examID, attemptID string) string
	log   zerolog.Logger
	name  string
}

func newStore(name string, kv backend, keyFn func(examID, attemptID string) string, log zerolog.Logger) *Store {
	return &Store{
		kv:    kv,
		keyFn: keyFn,
		log:   log.With().Str("component", "draft_store").Str("backend", name).Logger(),
		name:  name,
	}
}

// Backend names the persistence layer behind the store.
func (s *Store) Backend() string { return s.name }

func (s *Store) key(examID, attemptID uuid.UUID) string {
	return s.keyFn(examID.String(), attemptID.String())
}

// Load returns the draft for (examID, attemptID), or nil when none exists or
// the stored draft does not fit an exam of questionCount questions. Unusable
// drafts are deleted.
func (s *Store) Load(ctx context.Context, examID, attemptID uuid.UUID, questionCount int) (*model.Draft, error) {
	key := s.key(examID, attemptID)

	raw, err := s.kv.get(ctx, key)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}

	var d model.Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Discarding unreadable draft")
		s.discard(ctx, key)
		return nil, nil
	}

	if reason := incompatible(&d, questionCount); reason != "" {
		s.log.Info().
			Str("key", key).
			Str("reason", reason).
			Int("question_count", questionCount).
			Msg("Discarding stale draft")
		s.discard(ctx, key)
		return nil, nil
	}

	if d.CurrentQuestionIndex < 0 {
		d.CurrentQuestionIndex = 0
	}
	if n := len(d.Answers); n > 0 && d.CurrentQuestionIndex >= n {
		d.CurrentQuestionIndex = n - 1
	}
	return &d, nil
}

// Save merges patch into the stored draft (or an empty one) and persists it.
func (s *Store) Save(ctx context.Context, examID, attemptID uuid.UUID, patch Patch) error {
	key := s.key(examID, attemptID)

	var d model.Draft
	raw, err := s.kv.get(ctx, key)
	switch {
	case errors.Is(err, errNotFound):
	case err != nil:
		return fmt.Errorf("read draft: %w", err)
	default:
		if err := json.Unmarshal(raw, &d); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Overwriting unreadable draft")
			d = model.Draft{}
		}
	}

	patch.Apply(&d)

	out, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	if err := s.kv.put(ctx, key, out); err != nil {
		return fmt.Errorf("write draft: %w", err)
	}
	return nil
}

// Clear removes the draft. Missing drafts are a no-op.
func (s *Store) Clear(ctx context.Context, examID, attemptID uuid.UUID) error {
	if err := s.kv.del(ctx, s.key(examID, attemptID)); err != nil && !errors.Is(err, errNotFound) {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

func (s *Store) discard(ctx context.Context, key string) {
	if err := s.kv.del(ctx, key); err != nil && !errors.Is(err, errNotFound) {
		s.log.Warn().Err(err).Str("key", key).Msg("Failed to delete discarded draft")
	}
}

// incompatible returns why d cannot be resumed for an exam of n questions.
func incompatible(d *model.Draft, n int) string {
	if len(d.Answers) != n {
		return "answer count mismatch"
	}
	if d.ShuffleQuestions && !shuffle.IsPermutation(d.ShuffledOrder, n) {
		return "invalid shuffled order"
	}
	return ""
}

// defaultKey is the record key used by the file and memory backends.
func defaultKey(examID, attemptID string) string {
	return config.CacheKey.DraftKey(examID, attemptID)
}
