// Package ids generates request and entity identifiers.
package ids

import (
	crand "crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(crand.Reader, 0)
)

// NewRequestID returns a lexicographically sortable ULID.
func NewRequestID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// New returns an entity id of the form "<prefix>-<8 hex chars>".
func New(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
