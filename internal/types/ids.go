// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type SessionID string
type EventID string
type MessageID string

// NewSessionID returns a random (v4) UUID drawn from crypto/rand.
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}
