// internal/types/interfaces.go
package types

import (
	"context"
)

// Journal records per-event outcomes for diagnostics.
type Journal interface {
	Append(ctx context.Context, rec *Record) error
	Tail(ctx context.Context, sessionID SessionID, limit int) ([]*Record, error)
	Count(ctx context.Context, sessionID SessionID) (int64, error)
}
