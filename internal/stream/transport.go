package stream

import (
	"context"
	"errors"
	"fmt"
)

// Frame event names produced by transports.
const (
	EventMessage = "message"
	EventStop    = "stop"
)

// Frame is one transport-level message. Data holds the raw envelope for
// EventMessage frames; stop frames mark the end of a logical segment.
type Frame struct {
	Event string
	ID    string
	Data  []byte
}

// IsStop reports whether f is the transport-level stop signal.
func (f Frame) IsStop() bool {
	return f.Event == EventStop
}

// Transport opens one server-push channel.
type Transport interface {
	Dial(ctx context.Context, endpoint, lastEventID string) (Stream, error)
}

// Stream yields frames until the channel fails or is closed.
type Stream interface {
	Next() (Frame, error)
	Close() error
}

// ErrBadContentType is returned when the server answers with something other
// than an event stream.
var ErrBadContentType = errors.New("unexpected content type")

// StatusError is returned when the server rejects the handshake.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("handshake rejected with status %d", e.Code)
}
