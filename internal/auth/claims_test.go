package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewTokenService_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TokenConfig
		wantErr bool
	}{
		{"valid", TokenConfig{AccessSecret: testAccessSecret, RefreshSecret: testRefreshSecret}, false},
		{"empty access", TokenConfig{RefreshSecret: testRefreshSecret}, true},
		{"empty refresh", TokenConfig{AccessSecret: testAccessSecret}, true},
		{"identical", TokenConfig{AccessSecret: testAccessSecret, RefreshSecret: testAccessSecret}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenService(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewTokenService() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIssuePair_RoundTrip(t *testing.T) {
	clock := newTestClock()
	svc := newTestTokens(t, clock)

	pair, err := svc.IssuePair("usr-001")
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("IssuePair() returned empty tokens")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Error("access and refresh tokens should differ")
	}
	if pair.RefreshRef != RefreshRef(pair.RefreshToken) {
		t.Error("RefreshRef should be the hash of the refresh token")
	}
	if want := clock.Now().Add(DefaultAccessTTL); !pair.AccessExpiresAt.Equal(want) {
		t.Errorf("AccessExpiresAt = %v, want %v", pair.AccessExpiresAt, want)
	}
	if want := clock.Now().Add(DefaultRefreshTTL); !pair.RefreshExpiresAt.Equal(want) {
		t.Errorf("RefreshExpiresAt = %v, want %v", pair.RefreshExpiresAt, want)
	}

	sub, err := svc.Verify(pair.AccessToken, KindAccess)
	if err != nil || sub != "usr-001" {
		t.Errorf("Verify(access) = %q, %v; want usr-001, nil", sub, err)
	}

	claims, err := svc.VerifyClaims(pair.RefreshToken, KindRefresh)
	if err != nil {
		t.Fatalf("VerifyClaims(refresh) error = %v", err)
	}
	if claims.Subject != "usr-001" || claims.Kind != KindRefresh {
		t.Errorf("claims = %+v, want subject usr-001 kind refresh", claims)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
	if claims.Issuer != "crm-core-test" {
		t.Errorf("Issuer = %q, want crm-core-test", claims.Issuer)
	}
}

func TestIssuePair_EmptySubject(t *testing.T) {
	svc := newTestTokens(t, nil)
	if _, err := svc.IssuePair(""); err == nil {
		t.Error("IssuePair(\"\") should fail")
	}
}

func TestVerify_Expired(t *testing.T) {
	clock := newTestClock()
	svc := newTestTokens(t, clock)

	pair, err := svc.IssuePair("usr-001")
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}

	clock.Advance(DefaultAccessTTL - time.Second)
	if _, err := svc.Verify(pair.AccessToken, KindAccess); err != nil {
		t.Fatalf("Verify() just before expiry error = %v", err)
	}

	clock.Advance(2 * time.Second)
	if _, err := svc.Verify(pair.AccessToken, KindAccess); !errors.Is(err, ErrExpired) {
		t.Errorf("Verify() after expiry error = %v, want ErrExpired", err)
	}

	// The refresh token lives longer.
	if _, err := svc.Verify(pair.RefreshToken, KindRefresh); err != nil {
		t.Errorf("Verify(refresh) error = %v, want nil", err)
	}

	clock.Advance(DefaultRefreshTTL)
	if _, err := svc.Verify(pair.RefreshToken, KindRefresh); !errors.Is(err, ErrExpired) {
		t.Errorf("Verify(refresh) after expiry error = %v, want ErrExpired", err)
	}
}

func TestVerify_WrongKind(t *testing.T) {
	svc := newTestTokens(t, nil)
	pair, err := svc.IssuePair("usr-001")
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}

	if _, err := svc.Verify(pair.RefreshToken, KindAccess); !errors.Is(err, ErrWrongKind) {
		t.Errorf("refresh as access error = %v, want ErrWrongKind", err)
	}
	if _, err := svc.Verify(pair.AccessToken, KindRefresh); !errors.Is(err, ErrWrongKind) {
		t.Errorf("access as refresh error = %v, want ErrWrongKind", err)
	}
}

func TestVerify_BadSignature(t *testing.T) {
	svc := newTestTokens(t, nil)
	other, err := NewTokenService(TokenConfig{
		AccessSecret:  "another-access-secret-at-least-32-chars",
		RefreshSecret: "another-refresh-secret-at-least-32-chars",
		Issuer:        "crm-core-test",
	})
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	pair, err := other.IssuePair("usr-001")
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}

	if _, err := svc.Verify(pair.AccessToken, KindAccess); !errors.Is(err, ErrBadSignature) {
		t.Errorf("foreign token error = %v, want ErrBadSignature", err)
	}

	// Tampering with the payload invalidates the signature.
	own, _ := svc.IssuePair("usr-001")
	parts := strings.Split(own.AccessToken, ".")
	forged := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := svc.Verify(forged, KindAccess); err == nil {
		t.Error("tampered token should not verify")
	}
}

// A token claiming to be a refresh token but signed with the access
// secret must not verify: keys are chosen by kind.
func TestVerify_RefreshSignedWithAccessSecret(t *testing.T) {
	svc := newTestTokens(t, nil)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "usr-001",
			Issuer:    "crm-core-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Kind: KindRefresh,
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testAccessSecret))
	if err != nil {
		t.Fatalf("signing forged token: %v", err)
	}

	if _, err := svc.Verify(forged, KindRefresh); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify() error = %v, want ErrBadSignature", err)
	}
}

func TestVerify_Malformed(t *testing.T) {
	svc := newTestTokens(t, nil)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := svc.Verify(token, KindAccess); !errors.Is(err, ErrMalformedToken) {
			t.Errorf("Verify(%q) error = %v, want ErrMalformedToken", token, err)
		}
	}
}

func TestVerify_InvalidSigningMethod(t *testing.T) {
	svc := newTestTokens(t, nil)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "usr-001",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Kind: KindAccess,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString([]byte(testAccessSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}

	if _, err := svc.Verify(token, KindAccess); err == nil {
		t.Error("HS384 token should be rejected")
	}
}

func TestRotate(t *testing.T) {
	svc := newTestTokens(t, nil)
	first, err := svc.IssuePair("usr-001")
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}

	second, err := svc.Rotate(first.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if second.Subject != "usr-001" {
		t.Errorf("Subject = %q, want usr-001", second.Subject)
	}
	if second.RefreshToken == first.RefreshToken || second.RefreshRef == first.RefreshRef {
		t.Error("Rotate() should issue a new refresh token")
	}

	if _, err := svc.Rotate(first.AccessToken); !errors.Is(err, ErrWrongKind) {
		t.Errorf("Rotate(access) error = %v, want ErrWrongKind", err)
	}
}

func TestRefreshRefMatches(t *testing.T) {
	ref := RefreshRef("token-a")

	if !RefreshRefMatches(ref, "token-a") {
		t.Error("matching token should match")
	}
	if RefreshRefMatches(ref, "token-b") {
		t.Error("different token should not match")
	}
	if RefreshRefMatches("", "token-a") {
		t.Error("empty stored ref should never match")
	}
}
