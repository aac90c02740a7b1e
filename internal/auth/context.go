package auth

import "context"

type identityKey struct{}
type claimsKey struct{}

// ContextWithIdentity attaches an authenticated identity and its access
// token claims to ctx.
func ContextWithIdentity(ctx context.Context, ident *Identity, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, identityKey{}, ident)
	return context.WithValue(ctx, claimsKey{}, claims)
}

// IdentityFromContext returns the identity attached by the gateway.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	ident, ok := ctx.Value(identityKey{}).(*Identity)
	return ident, ok && ident != nil
}

// ClaimsFromContext returns the access token claims attached by the gateway.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}
