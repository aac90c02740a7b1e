package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Token verification errors.
var (
	ErrExpired        = errors.New("token has expired")
	ErrBadSignature   = errors.New("token signature is invalid")
	ErrWrongKind      = errors.New("token kind mismatch")
	ErrMalformedToken = errors.New("malformed token")
)

// Claims extends JWT standard claims with the token kind.
type Claims struct {
	jwt.RegisteredClaims
	Kind TokenKind `json:"kind"`
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// TokenPair is the result of issuing or rotating tokens.
// RefreshRef must be persisted on the identity by the caller.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	Subject          string
	RefreshRef       string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenOption customises a TokenService.
type TokenOption func(*TokenService)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// TokenService issues and verifies signed access and refresh tokens.
// It holds no per-token state and is safe for concurrent use.
type TokenService struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
}

// NewTokenService validates cfg and returns a TokenService.
// Access and refresh tokens are signed with distinct secrets.
func NewTokenService(cfg TokenConfig, opts ...TokenOption) (*TokenService, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, fmt.Errorf("token secrets must not be empty")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, fmt.Errorf("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}

	s := &TokenService{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		issuer:     cfg.Issuer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// IssuePair signs a fresh access and refresh token for subject.
func (s *TokenService) IssuePair(subject string) (TokenPair, error) {
	if subject == "" {
		return TokenPair{}, fmt.Errorf("issuing tokens: empty subject")
	}

	access, accessExp, err := s.sign(subject, KindAccess)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.sign(subject, KindRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		Subject:          subject,
		RefreshRef:       RefreshRef(refresh),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *TokenService) sign(subject string, kind TokenKind) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl(kind))

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Kind: kind,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key(kind))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing %s token: %w", kind, err)
	}
	return signed, exp, nil
}

func (s *TokenService) ttl(kind TokenKind) time.Duration {
	if kind == KindRefresh {
		return s.refreshTTL
	}
	return s.accessTTL
}

func (s *TokenService) key(kind TokenKind) []byte {
	if kind == KindRefresh {
		return s.refreshKey
	}
	return s.accessKey
}

// Verify checks token and returns its subject.
func (s *TokenService) Verify(token string, kind TokenKind) (string, error) {
	claims, err := s.VerifyClaims(token, kind)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// VerifyClaims checks signature, expiry and kind and returns the claims.
//
// The verification key is chosen by the kind the token claims to be, so a
// refresh token verifies under the refresh secret and is then rejected
// with ErrWrongKind where an access token is expected.
func (s *TokenService) VerifyClaims(token string, kind TokenKind) (*Claims, error) {
	claims := &Claims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		c, ok := t.Claims.(*Claims)
		if !ok {
			return nil, ErrMalformedToken
		}
		switch c.Kind {
		case KindAccess, KindRefresh:
			return s.key(c.Kind), nil
		default:
			return nil, fmt.Errorf("unknown token kind %q", c.Kind)
		}
	}, opts...)
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if !parsed.Valid {
		return nil, ErrMalformedToken
	}

	if claims.Kind != kind {
		return nil, ErrWrongKind
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformedToken)
	}

	return claims, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	default:
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
}

// Rotate verifies a refresh token and issues a new pair for its subject.
// Enforcing that only the latest refresh token is honoured is the
// caller's job: compare against the stored RefreshRef before rotating and
// persist the returned RefreshRef afterwards.
func (s *TokenService) Rotate(refreshToken string) (TokenPair, error) {
	subject, err := s.Verify(refreshToken, KindRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	return s.IssuePair(subject)
}

// RefreshRef returns the stored reference for a refresh token: hex SHA-256.
func RefreshRef(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RefreshRefMatches compares token against a stored reference in
// constant time. An empty stored reference never matches.
func RefreshRefMatches(stored, token string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(RefreshRef(token))) == 1
}
