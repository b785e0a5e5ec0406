// internal/types/models.go
package types

import (
	"time"
)

// Outcome describes what the engine did with one inbound event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDropped   Outcome = "dropped"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeStop      Outcome = "stop"
)

// Record is one journal line. It carries the outcome of an event, never the raw envelope.
type Record struct {
	Seq       int64     `json:"seq"`
	SessionID SessionID `json:"session_id"`
	EventID   EventID   `json:"event_id,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	MessageID MessageID `json:"message_id,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}
