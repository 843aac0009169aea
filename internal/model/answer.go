package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type answerKind uint8

const (
	answerNone answerKind = iota
	answerChoice
	answerText
)

// Answer is a learner's response to one question.
// The zero value means "not answered" and encodes as JSON null.
// Choice answers hold the selected option index and encode as a number;
// free-text answers encode as a string.
type Answer struct {
	kind   answerKind
	choice int
	text   string
}

// ChoiceAnswer returns an answer selecting option i.
func ChoiceAnswer(i int) Answer {
	return Answer{kind: answerChoice, choice: i}
}

// TextAnswer returns a free-text answer.
func TextAnswer(s string) Answer {
	return Answer{kind: answerText, text: s}
}

// IsNull reports whether no answer was given.
func (a Answer) IsNull() bool { return a.kind == answerNone }

// Choice returns the selected option index.
func (a Answer) Choice() (int, bool) { return a.choice, a.kind == answerChoice }

// Text returns the free-text value.
func (a Answer) Text() (string, bool) { return a.text, a.kind == answerText }

// IsAnswered reports whether the answer counts toward progress:
// non-null and, for text, non-empty after trimming.
func (a Answer) IsAnswered() bool {
	switch a.kind {
	case answerChoice:
		return true
	case answerText:
		return strings.TrimSpace(a.text) != ""
	default:
		return false
	}
}

// String is the submission form of the answer: "" for null, the decimal
// option index for choices and the raw text otherwise.
func (a Answer) String() string {
	switch a.kind {
	case answerChoice:
		return strconv.Itoa(a.choice)
	case answerText:
		return a.text
	default:
		return ""
	}
}

// MarshalJSON implements json.Marshaler.
func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.kind {
	case answerChoice:
		return []byte(strconv.Itoa(a.choice)), nil
	case answerText:
		return json.Marshal(a.text)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Answer{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = TextAnswer(s)
		return nil
	}

	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("answer must be a number, string or null: %w", err)
	}
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return fmt.Errorf("choice answer must be an integer, got %s", data)
	}
	*a = ChoiceAnswer(int(f))
	return nil
}

// NewAnswers returns n unanswered slots.
func NewAnswers(n int) []Answer {
	return make([]Answer, n)
}

// SubmissionStrings coerces answers into the array sent on final submission.
func SubmissionStrings(answers []Answer) []string {
	out := make([]string, len(answers))
	for i, a := range answers {
		out[i] = a.String()
	}
	return out
}

// RecordedAnswers maps the answers stored on an attempt back onto the exam's
// question slots. Choice questions recover the option index; an empty
// string stays unanswered.
func RecordedAnswers(e *Exam, recorded []AttemptAnswer) []Answer {
	out := NewAnswers(e.QuestionCount())
	for _, r := range recorded {
		i, ok := e.QuestionIndex(r.QuestionID)
		if !ok || r.Answer == "" {
			continue
		}
		q := &e.Questions[i]
		if q.IsChoice() {
			if n, err := strconv.Atoi(r.Answer); err == nil && n >= 0 && n < len(q.Options) {
				out[i] = ChoiceAnswer(n)
				continue
			}
		}
		out[i] = TextAnswer(r.Answer)
	}
	return out
}
