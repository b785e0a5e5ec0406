package engine

import "github.com/user/botstream/internal/types"

// seenSet remembers the most recent event ids in a fixed-size ring so that
// replayed envelopes (for example after a reconnect) are applied once.
type seenSet struct {
	ids  map[types.EventID]struct{}
	ring []types.EventID
	next int
}

func newSeenSet(size int) *seenSet {
	if size <= 0 {
		size = 1024
	}
	return &seenSet{
		ids:  make(map[types.EventID]struct{}, size),
		ring: make([]types.EventID, size),
	}
}

// add records id and reports whether it was new. Empty ids are always new.
func (s *seenSet) add(id types.EventID) bool {
	if id == "" {
		return true
	}
	if _, ok := s.ids[id]; ok {
		return false
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
	return true
}
