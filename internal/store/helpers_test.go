package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/crm-core/internal/auth"
	"github.com/nerrad567/crm-core/internal/infrastructure/database"
	_ "github.com/nerrad567/crm-core/migrations"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// stepClock returns a time that advances by step on every call.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{t: testEpoch, step: time.Second + 1500*time.Nanosecond}
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

// manualClock only moves when told to.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// openTestSQL opens a migrated SQLite-backed durable adapter in a temp dir.
func openTestSQL(t *testing.T, opts ...SQLOption) *SQL {
	t.Helper()

	db, err := database.Open(database.Config{
		Driver:      database.DriverSQLite,
		Path:        filepath.Join(t.TempDir(), "crm.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewSQL(db, opts...)
	require.NoError(t, s.Ping(context.Background()))
	return s
}

func testIdentity(id, email string, role auth.Role) *auth.Identity {
	ident := &auth.Identity{
		ID:           id,
		FirstName:    "Test",
		LastName:     string(role),
		Email:        email,
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA$aGFzaA",
		IsActive:     true,
	}
	ident.SetRole(role)
	return ident
}

// adapters returns a fresh memory and SQLite adapter sharing no state.
func adapters(t *testing.T) map[string]Adapter {
	t.Helper()
	return map[string]Adapter{
		"memory": NewMemory(),
		"sql":    openTestSQL(t),
	}
}
