// Package transcript accumulates streamed text fragments per bot message.
package transcript

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/user/botstream/internal/types"
)

// ErrSequenced is returned by Append on a BySequence store, where every
// fragment must carry its own sequence number.
var ErrSequenced = errors.New("transcript: store is ordered by sequence, use AppendChunk")

// State distinguishes an unknown message from a known one with no text yet.
type State int

const (
	Loading State = iota // never created
	Empty                // created, zero fragments
	Ready                // at least one fragment
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Empty:
		return "empty"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Ordering selects how AppendChunk places fragments.
type Ordering int

const (
	// ByArrival appends in call order and ignores the sequence number.
	ByArrival Ordering = iota
	// BySequence places fragments by sequence number and drops repeated sequences.
	BySequence
)

// Entry is a snapshot of one message's fragments.
type Entry struct {
	State     State
	Fragments []string
}

// Text joins the fragments.
func (e Entry) Text() string {
	return strings.Join(e.Fragments, "")
}

type entry struct {
	fragments []string
	seqs      []int
}

// Store maps message ids to ordered fragments. It is append-only: entries are
// never truncated or reordered once a fragment has been placed under ByArrival.
type Store struct {
	mu       sync.Mutex
	entries  map[types.MessageID]*entry
	order    []types.MessageID
	ordering Ordering
}

// Option configures a Store.
type Option func(*Store)

// WithOrdering sets the ordering used by AppendChunk.
func WithOrdering(o Ordering) Option {
	return func(s *Store) { s.ordering = o }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{entries: make(map[types.MessageID]*entry)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// update applies fn to the current entry for id while holding the lock, so
// every mutation reads the latest state rather than a copy captured earlier.
func (s *Store) update(id types.MessageID, fn func(e *entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		e = &entry{}
		s.entries[id] = e
		s.order = append(s.order, id)
	}
	fn(e)
}

// Create registers id with zero fragments if it is not already known.
func (s *Store) Create(id types.MessageID) {
	s.update(id, func(*entry) {})
}

// Append adds fragment to the end of id's sequence, creating the entry if
// needed. It only works on a ByArrival store.
func (s *Store) Append(id types.MessageID, fragment string) error {
	if s.ordering == BySequence {
		return ErrSequenced
	}
	s.update(id, func(e *entry) {
		e.fragments = append(e.fragments, fragment)
		e.seqs = append(e.seqs, -1)
	})
	return nil
}

// AppendChunk adds a fragment carrying a sequence number. Under ByArrival it
// behaves like Append. Under BySequence the fragment is inserted in sequence
// order and reports false when that sequence is already present.
func (s *Store) AppendChunk(id types.MessageID, seq int, fragment string) bool {
	if s.ordering == ByArrival {
		s.update(id, func(e *entry) {
			e.fragments = append(e.fragments, fragment)
			e.seqs = append(e.seqs, seq)
		})
		return true
	}

	inserted := false
	s.update(id, func(e *entry) {
		i := sort.SearchInts(e.seqs, seq)
		if i < len(e.seqs) && e.seqs[i] == seq {
			return
		}
		e.seqs = append(e.seqs, 0)
		copy(e.seqs[i+1:], e.seqs[i:])
		e.seqs[i] = seq
		e.fragments = append(e.fragments, "")
		copy(e.fragments[i+1:], e.fragments[i:])
		e.fragments[i] = fragment
		inserted = true
	})
	return inserted
}

// Get returns a snapshot of id's fragments.
func (s *Store) Get(id types.MessageID) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{State: Loading}
	}
	if len(e.fragments) == 0 {
		return Entry{State: Empty, Fragments: []string{}}
	}
	out := make([]string, len(e.fragments))
	copy(out, e.fragments)
	return Entry{State: Ready, Fragments: out}
}

// IDs returns the known message ids in first-seen order.
func (s *Store) IDs() []types.MessageID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.MessageID, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of known messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
