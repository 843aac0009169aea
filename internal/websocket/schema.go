package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/lingua-attempt/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	// EventSnapshot is the first frame: the attempt as stored when the
	// stream opened.
	EventSnapshot  Event = "snapshot"
	EventStarted   Event = "started"
	EventSubmitted Event = "submitted"
	EventGraded    Event = "graded"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// AttemptEvent is published on the attempt's Redis channel and forwarded
// verbatim to stream subscribers.
type AttemptEvent struct {
	Event     Event               `json:"event"`
	AttemptID uuid.UUID           `json:"attempt_id"`
	Status    model.AttemptStatus `json:"status,omitempty"`
	Attempt   *model.Attempt      `json:"attempt,omitempty"`
	Error     string              `json:"error,omitempty"`
	At        time.Time           `json:"at"`
}

// Terminal reports whether no further events follow for the attempt.
func (e AttemptEvent) Terminal() bool {
	return e.Event == EventGraded
}

// NewAttemptEvent builds an event carrying the attempt's current state.
func NewAttemptEvent(ev Event, a *model.Attempt) AttemptEvent {
	return AttemptEvent{
		Event:     ev,
		AttemptID: a.ID,
		Status:    a.Status,
		Attempt:   a,
		At:        time.Now().UTC(),
	}
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
