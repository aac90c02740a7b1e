package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for the seed admin password.
const seedPasswordBytes = 16

// SeedStore is the subset of identity persistence used for first-boot seeding.
type SeedStore interface {
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, ident *Identity) error
}

// SeedAdmin creates the initial admin account if the durable store holds
// no identities. The generated password is logged once and must be
// changed immediately. Returns the generated password (empty string if
// seeding was skipped).
func SeedAdmin(ctx context.Context, store SeedStore, email string, logger *slog.Logger) (string, error) {
	count, err := store.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking identity count: %w", err)
	}

	if count > 0 {
		logger.Info("identities exist, skipping admin seed")
		return "", nil
	}

	passwordBytes := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(passwordBytes); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(passwordBytes)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &Identity{
		FirstName:    "System",
		LastName:     "Administrator",
		Email:        NormalizeEmail(email),
		PasswordHash: hash,
		IsActive:     true,
	}
	admin.SetRole(RoleAdmin)

	if err := store.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("seed admin account created",
		"email", admin.Email,
		"password", password,
		"action_required", "change this password immediately",
	)

	return password, nil
}
