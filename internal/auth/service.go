package auth

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

// refreshLockStripes is the number of mutexes refreshes are striped over.
const refreshLockStripes = 64

// IdentityStore is the identity persistence a Service needs. It is the
// identity repository of whichever backend serves the current unit of
// work. Lookups of absent identities return an error matching
// ErrIdentityNotFound.
//
// The session fields are written through narrow, conditional writes so a
// login or refresh never writes back a stale copy of the whole identity.
type IdentityStore interface {
	FindByID(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)

	// RecordLogin sets LastLoginAt and RefreshTokenRef if the identity is
	// still active and still has passwordHash. Otherwise ErrStaleIdentity.
	RecordLogin(ctx context.Context, id, passwordHash string, at time.Time, ref string) error

	// SwapRefreshRef replaces the refresh reference if the identity is
	// still active and its reference is still expected. Otherwise
	// ErrStaleIdentity.
	SwapRefreshRef(ctx context.Context, id, expected, next string) error

	// ClearRefreshRef empties the refresh reference.
	ClearRefreshRef(ctx context.Context, id string) error
}

// Session is a successful login.
type Session struct {
	Identity *Identity
	Tokens   TokenPair
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithRevocationCache enables access token revocation on logout.
func WithRevocationCache(c *RevocationCache) ServiceOption {
	return func(s *Service) { s.revocations = c }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithServiceClock overrides the clock used for LastLoginAt.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service implements login, refresh, logout and request authentication.
// It keeps no per-identity state; identity data always comes from the
// IdentityStore passed to each call.
type Service struct {
	tokens      *TokenService
	revocations *RevocationCache
	logger      *slog.Logger
	now         func() time.Time

	// refreshLocks serialise rotations of the same subject within this
	// process so two requests holding one refresh token cannot both win.
	refreshLocks [refreshLockStripes]sync.Mutex
}

// NewService creates a Service around tokens.
func NewService(tokens *TokenService, opts ...ServiceOption) *Service {
	s := &Service{
		tokens: tokens,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tokens returns the underlying TokenService.
func (s *Service) Tokens() *TokenService {
	return s.tokens
}

// Login checks credentials and issues a token pair.
//
// Unknown email, inactive identity and wrong password are indistinguishable
// to the caller: all return ErrInvalidCredentials after a full password
// hash comparison. Recording LastLoginAt and the refresh reference is
// best-effort; a failure is logged and the login still succeeds. If the
// identity was deactivated or its password changed after it was read, the
// login fails with ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, store IdentityStore, email, password string) (*Session, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		burnPasswordCheck(password)
		return nil, ErrInvalidCredentials
	}

	ident, err := store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			burnPasswordCheck(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up identity: %w", err)
	}

	ok, err := VerifyPassword(password, ident.PasswordHash)
	if err != nil {
		s.logger.Error("stored password hash unreadable", "user_id", ident.ID, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok || !ident.IsActive {
		return nil, ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(ident.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing tokens: %w", err)
	}

	now := s.now().UTC()
	err = store.RecordLogin(ctx, ident.ID, ident.PasswordHash, now, pair.RefreshRef)
	switch {
	case errors.Is(err, ErrStaleIdentity):
		return nil, ErrInvalidCredentials
	case err != nil:
		s.logger.Warn("recording login failed, refresh rotation weakened until next login",
			"user_id", ident.ID, "error", err)
	default:
		ident.LastLoginAt = &now
		ident.RefreshTokenRef = pair.RefreshRef
	}

	return &Session{Identity: ident, Tokens: pair}, nil
}

// Refresh rotates a refresh token. Only the most recently issued refresh
// token of an identity is honoured; older ones return ErrRefreshReplay.
// The new reference must be persisted before the pair is returned.
func (s *Service) Refresh(ctx context.Context, store IdentityStore, refreshToken string) (TokenPair, error) {
	claims, err := s.tokens.VerifyClaims(refreshToken, KindRefresh)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	lock := s.refreshLock(claims.Subject)
	lock.Lock()
	defer lock.Unlock()

	ident, err := s.loadActive(ctx, store, claims.Subject)
	if err != nil {
		return TokenPair{}, err
	}

	if !RefreshRefMatches(ident.RefreshTokenRef, refreshToken) {
		return TokenPair{}, ErrRefreshReplay
	}

	pair, err := s.tokens.Rotate(refreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	err = store.SwapRefreshRef(ctx, ident.ID, ident.RefreshTokenRef, pair.RefreshRef)
	if errors.Is(err, ErrStaleIdentity) {
		return TokenPair{}, ErrRefreshReplay
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("persisting refresh reference: %w", err)
	}

	return pair, nil
}

func (s *Service) refreshLock(subject string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subject)) //nolint:errcheck // hash writes never fail
	return &s.refreshLocks[h.Sum32()%refreshLockStripes]
}

// Logout clears the identity's refresh reference so every outstanding
// refresh token is rejected. With a revocation cache configured the
// presented access token is revoked as well.
func (s *Service) Logout(ctx context.Context, store IdentityStore, ident *Identity, claims *Claims) error {
	if err := store.ClearRefreshRef(ctx, ident.ID); err != nil {
		return fmt.Errorf("clearing refresh reference: %w", err)
	}
	ident.RefreshTokenRef = ""

	if s.revocations != nil && claims != nil && claims.ExpiresAt != nil {
		s.revocations.Revoke(claims.ID, claims.ExpiresAt.Time)
	}
	return nil
}

// Authenticate verifies an access token and loads its active identity.
// Every failure other than a store outage is ErrInvalidToken.
func (s *Service) Authenticate(ctx context.Context, store IdentityStore, accessToken string) (*Identity, *Claims, error) {
	if accessToken == "" {
		return nil, nil, ErrMissingToken
	}

	claims, err := s.tokens.VerifyClaims(accessToken, KindAccess)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if s.revocations != nil && s.revocations.IsRevoked(claims.ID) {
		return nil, nil, fmt.Errorf("%w: revoked", ErrInvalidToken)
	}

	ident, err := s.loadActive(ctx, store, claims.Subject)
	if err != nil {
		return nil, nil, err
	}

	return ident, claims, nil
}

// loadActive maps missing and inactive identities to ErrInvalidToken.
func (s *Service) loadActive(ctx context.Context, store IdentityStore, id string) (*Identity, error) {
	ident, err := store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, fmt.Errorf("%w: unknown subject", ErrInvalidToken)
		}
		return nil, fmt.Errorf("loading identity: %w", err)
	}
	if !ident.IsActive {
		return nil, fmt.Errorf("%w: inactive subject", ErrInvalidToken)
	}
	return ident, nil
}
