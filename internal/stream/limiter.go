package stream

import (
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConnections mirrors the per-origin ceiling browsers place on
// concurrent event streams.
const DefaultMaxConnections = 6

// ErrConnectionLimit is returned by Open when the caller already holds the
// maximum number of open channels.
var ErrConnectionLimit = errors.New("connection limit reached")

// Limiter caps the number of concurrently open channels. Share one Limiter
// between all Conns that belong to the same caller.
type Limiter struct {
	sem *semaphore.Weighted
	max int64
}

// NewLimiter creates a Limiter allowing up to max open channels.
func NewLimiter(max int64) *Limiter {
	if max <= 0 {
		max = DefaultMaxConnections
	}
	return &Limiter{sem: semaphore.NewWeighted(max), max: max}
}

// Max returns the configured cap.
func (l *Limiter) Max() int64 {
	return l.max
}

func (l *Limiter) acquire() error {
	if !l.sem.TryAcquire(1) {
		return fmt.Errorf("%w (max %d)", ErrConnectionLimit, l.max)
	}
	return nil
}

func (l *Limiter) release() {
	l.sem.Release(1)
}
