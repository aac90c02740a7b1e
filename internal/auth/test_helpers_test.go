package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const (
	testAccessSecret  = "access-secret-key-at-least-32-chars!"
	testRefreshSecret = "refresh-secret-key-at-least-32-chars"
)

// fakeStore is an in-memory IdentityStore and SeedStore for tests.
type fakeStore struct {
	mu        sync.Mutex
	byID      map[string]*Identity
	updateErr error
	findErr   error
	updates   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: make(map[string]*Identity)}
}

func (s *fakeStore) FindByID(_ context.Context, id string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	ident, ok := s.byID[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return ident.Clone(), nil
}

func (s *fakeStore) FindByEmail(_ context.Context, email string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, ident := range s.byID {
		if ident.Email == email {
			return ident.Clone(), nil
		}
	}
	return nil, ErrIdentityNotFound
}

func (s *fakeStore) Update(_ context.Context, ident *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if _, ok := s.byID[ident.ID]; !ok {
		return ErrIdentityNotFound
	}
	s.updates++
	s.byID[ident.ID] = ident.Clone()
	return nil
}

func (s *fakeStore) RecordLogin(_ context.Context, id, passwordHash string, at time.Time, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	ident, ok := s.byID[id]
	if !ok || !ident.IsActive || ident.PasswordHash != passwordHash {
		return ErrStaleIdentity
	}
	s.updates++
	ident.LastLoginAt = &at
	ident.RefreshTokenRef = ref
	return nil
}

func (s *fakeStore) SwapRefreshRef(_ context.Context, id, expected, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	ident, ok := s.byID[id]
	if !ok || !ident.IsActive || ident.RefreshTokenRef != expected {
		return ErrStaleIdentity
	}
	s.updates++
	ident.RefreshTokenRef = next
	return nil
}

func (s *fakeStore) ClearRefreshRef(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	ident, ok := s.byID[id]
	if !ok {
		return ErrIdentityNotFound
	}
	s.updates++
	ident.RefreshTokenRef = ""
	return nil
}

func (s *fakeStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID), nil
}

func (s *fakeStore) Create(_ context.Context, ident *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ident.ID == "" {
		ident.ID = "usr-" + string(rune('a'+len(s.byID)))
	}
	s.byID[ident.ID] = ident.Clone()
	return nil
}

func (s *fakeStore) get(t *testing.T, id string) *Identity {
	t.Helper()
	ident, err := s.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID(%s) error = %v", id, err)
	}
	return ident
}

var errStoreDown = errors.New("store down")

// testClock is a settable clock shared by the token service and tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTokens(t *testing.T, clock *testClock) *TokenService {
	t.Helper()
	opts := []TokenOption{}
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	svc, err := NewTokenService(TokenConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		Issuer:        "crm-core-test",
	}, opts...)
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	return svc
}

// seedIdentity stores an active identity with the given role and password.
func seedIdentity(t *testing.T, store *fakeStore, id, email string, role Role, password string) *Identity {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	ident := &Identity{
		ID:           id,
		FirstName:    "Test",
		LastName:     string(role),
		Email:        NormalizeEmail(email),
		PasswordHash: hash,
		IsActive:     true,
	}
	ident.SetRole(role)
	if err := store.Create(context.Background(), ident); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return ident
}
