// Package session holds the per-session identity and connection state that is
// constructed once at startup and threaded through the engine.
package session

import (
	"sync"

	"github.com/user/botstream/internal/stream"
	"github.com/user/botstream/internal/types"
)

// Identity produces one stable identifier for the life of a session.
type Identity struct {
	once sync.Once
	id   types.SessionID
	gen  func() types.SessionID
}

// NewIdentity returns an Identity backed by random UUIDs.
func NewIdentity() *Identity {
	return &Identity{gen: types.NewSessionID}
}

// FixedIdentity returns an Identity that always yields id. It lets a caller
// resume correlation with a session created elsewhere.
func FixedIdentity(id types.SessionID) *Identity {
	return &Identity{gen: func() types.SessionID { return id }}
}

// Generate returns the session id, creating it on first call.
func (i *Identity) Generate() types.SessionID {
	i.once.Do(func() {
		gen := i.gen
		if gen == nil {
			gen = types.NewSessionID
		}
		i.id = gen()
	})
	return i.id
}

// Session is the caller-scoped state: an immutable id plus the current
// connection handle.
type Session struct {
	id types.SessionID

	mu      sync.Mutex
	handle  *stream.Handle
	fetched bool
}

// New creates a Session using identity's id.
func New(identity *Identity) *Session {
	return &Session{id: identity.Generate()}
}

// ID returns the session id.
func (s *Session) ID() types.SessionID {
	return s.id
}

// Handle returns the current connection handle, or nil.
func (s *Session) Handle() *stream.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Attach records h as the session's connection and marks the session as
// having fetched at least once.
func (s *Session) Attach(h *stream.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
	s.fetched = true
}

// Detach clears the handle if it is still h and returns whether it was.
func (s *Session) Detach(h *stream.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != h {
		return false
	}
	s.handle = nil
	return true
}

// Fetched reports whether a connection was ever attached in this session.
func (s *Session) Fetched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetched
}
