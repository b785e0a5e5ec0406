// Package journal provides a filesystem-backed log of per-event outcomes.
package journal

import "github.com/user/botstream/internal/types"

// Compile-time interface compliance check.
var _ types.Journal = (*Journal)(nil)
