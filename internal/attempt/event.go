package attempt

import (
	"github.com/google/uuid"
	"github.com/stemsi/lingua-attempt/internal/clock"
	"github.com/stemsi/lingua-attempt/internal/model"
)

// State is the session lifecycle position.
type State string

const (
	StateLoading        State = "loading"
	StateActive         State = "active"
	StateAutoSubmitting State = "auto-submitting"
	StateUserSubmitting State = "user-submitting"
	StateSubmitted      State = "submitted"
)

// Trigger identifies what asked for the final submission.
type Trigger int

const (
	TriggerUser Trigger = iota
	TriggerExpired
)

func (t Trigger) String() string {
	if t == TriggerExpired {
		return "expired"
	}
	return "user"
}

func (t Trigger) submittingState() State {
	if t == TriggerExpired {
		return StateAutoSubmitting
	}
	return StateUserSubmitting
}

// EventType names a session notification.
type EventType string

const (
	EventTick             EventType = "tick"
	EventExpired          EventType = "expired"
	EventSubmitted        EventType = "submitted"
	EventSubmitFailed     EventType = "submit_failed"
	EventAnswerSyncFailed EventType = "answer_sync_failed"
)

// Event is delivered to Options.OnEvent. Ticks and expiry arrive on the
// clock goroutine and answer sync failures on their sync goroutine, so the
// callback must be safe for concurrent use.
type Event struct {
	Type       EventType
	Clock      clock.Snapshot
	Trigger    Trigger
	Attempt    *model.Attempt
	QuestionID uuid.UUID
	Err        error
}
