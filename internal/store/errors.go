package store

import (
	"errors"
	"fmt"

	"github.com/nerrad567/crm-core/internal/auth"
)

// Sentinel errors shared by every adapter.
var (
	ErrNotFound     = errors.New("record not found")
	ErrConflict     = errors.New("record conflicts with an existing record")
	ErrInvalidQuery = errors.New("invalid list query")
	ErrValidation   = errors.New("invalid record")
	ErrUnavailable  = errors.New("durable store unavailable")
)

// errIdentityNotFound satisfies both ErrNotFound and auth.ErrIdentityNotFound
// so the auth service can tell an unknown subject from a store outage.
var errIdentityNotFound = fmt.Errorf("%w: %w", auth.ErrIdentityNotFound, ErrNotFound)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
