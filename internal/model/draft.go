package model

import (
	"encoding/json"
	"time"
)

// Draft is the locally persisted, resumable snapshot of an in-progress attempt.
//
// Answers is indexed by the question's original position in the exam.
// CurrentQuestionIndex is a position in display order, i.e. an index into
// ShuffledOrder when shuffling is enabled.
type Draft struct {
	StartedAt            time.Time
	Answers              []Answer
	TimeLimitMinutes     int
	ShuffleQuestions     bool
	ShuffledOrder        []int
	CurrentQuestionIndex int
}

// draftRecord is the on-disk layout of a Draft.
type draftRecord struct {
	StartedAt            int64    `json:"startedAt"`
	Answers              []Answer `json:"answers"`
	TimeLimitMinutes     int      `json:"timeLimitMinutes"`
	ShuffleQuestions     bool     `json:"shuffleQuestions"`
	ShuffledOrder        []int    `json:"shuffledOrder,omitempty"`
	CurrentQuestionIndex int      `json:"currentQuestionIndex"`
}

// MarshalJSON implements json.Marshaler. StartedAt is stored as epoch milliseconds.
func (d Draft) MarshalJSON() ([]byte, error) {
	rec := draftRecord{
		Answers:              d.Answers,
		TimeLimitMinutes:     d.TimeLimitMinutes,
		ShuffleQuestions:     d.ShuffleQuestions,
		CurrentQuestionIndex: d.CurrentQuestionIndex,
	}
	if !d.StartedAt.IsZero() {
		rec.StartedAt = d.StartedAt.UnixMilli()
	}
	if d.ShuffleQuestions {
		rec.ShuffledOrder = d.ShuffledOrder
	}
	if rec.Answers == nil {
		rec.Answers = []Answer{}
	}
	return json.Marshal(rec)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Draft) UnmarshalJSON(data []byte) error {
	var rec draftRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*d = Draft{
		Answers:              rec.Answers,
		TimeLimitMinutes:     rec.TimeLimitMinutes,
		ShuffleQuestions:     rec.ShuffleQuestions,
		ShuffledOrder:        rec.ShuffledOrder,
		CurrentQuestionIndex: rec.CurrentQuestionIndex,
	}
	if rec.StartedAt != 0 {
		d.StartedAt = time.UnixMilli(rec.StartedAt)
	}
	return nil
}

// DisplayOrder returns the question positions in the order they are shown.
func (d *Draft) DisplayOrder() []int {
	if d.ShuffleQuestions && len(d.ShuffledOrder) == len(d.Answers) {
		return d.ShuffledOrder
	}
	order := make([]int, len(d.Answers))
	for i := range order {
		order[i] = i
	}
	return order
}
