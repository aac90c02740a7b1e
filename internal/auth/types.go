package auth

import (
	"errors"
	"slices"
	"strings"
	"time"
)

// Role is a CRM job function. Each role maps to a fixed permission set.
type Role string

const (
	RoleAdmin           Role = "admin"
	RoleSDR             Role = "sdr"
	RoleAE              Role = "ae"
	RoleCSM             Role = "csm"
	RoleAccountManager  Role = "account_manager"
	RoleSupportEngineer Role = "support_engineer"
	RoleProduct         Role = "product"
	RoleMarketing       Role = "marketing"
	RoleExecutive       Role = "executive"
)

// ValidRoles lists every role in a stable order.
var ValidRoles = []Role{
	RoleAdmin,
	RoleSDR,
	RoleAE,
	RoleCSM,
	RoleAccountManager,
	RoleSupportEngineer,
	RoleProduct,
	RoleMarketing,
	RoleExecutive,
}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// Identity is the authoritative user record.
//
// Permissions is derived from Role on creation and on every role change
// unless CustomPermissions is set, in which case it is kept as granted.
type Identity struct {
	ID                string       `json:"id"`
	FirstName         string       `json:"firstName"`
	LastName          string       `json:"lastName"`
	Email             string       `json:"email"`
	PasswordHash      string       `json:"-"` // never serialised
	Role              Role         `json:"role"`
	Permissions       []Permission `json:"permissions"`
	CustomPermissions bool         `json:"customPermissions"`
	IsActive          bool         `json:"isActive"`
	LastLoginAt       *time.Time   `json:"lastLoginAt"`
	RefreshTokenRef   string       `json:"-"` // never serialised
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// DisplayName joins first and last name.
func (i *Identity) DisplayName() string {
	return strings.TrimSpace(i.FirstName + " " + i.LastName)
}

// SetRole changes the role and recomputes Permissions unless the identity
// carries custom permissions.
func (i *Identity) SetRole(role Role) {
	i.Role = role
	if !i.CustomPermissions {
		i.Permissions = PermissionsForRole(role)
	}
}

// Validate checks the fields required of every stored identity.
func (i *Identity) Validate() error {
	if i.Email == "" || !strings.Contains(i.Email, "@") {
		return ErrInvalidEmail
	}
	if !IsValidRole(i.Role) {
		return ErrInvalidRole
	}
	if i.PasswordHash == "" {
		return ErrMissingPassword
	}
	return nil
}

// Clone returns a deep copy.
func (i *Identity) Clone() *Identity {
	c := *i
	if i.Permissions != nil {
		c.Permissions = slices.Clone(i.Permissions)
	}
	if i.LastLoginAt != nil {
		t := *i.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

// Profile is the outward view of an identity returned by /auth/login
// and /auth/me.
type Profile struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	Email       string       `json:"email"`
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
}

// Profile returns the outward view of the identity.
func (i *Identity) Profile() Profile {
	perms := i.Permissions
	if perms == nil {
		perms = []Permission{}
	}
	return Profile{
		ID:          i.ID,
		DisplayName: i.DisplayName(),
		Email:       i.Email,
		Role:        i.Role,
		Permissions: slices.Clone(perms),
	}
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMissingToken       = errors.New("missing bearer token")
	ErrInvalidToken       = errors.New("invalid token")
	ErrRefreshReplay      = errors.New("refresh token superseded")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrIdentityNotFound   = errors.New("identity not found")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidRole        = errors.New("invalid role")
	ErrMissingPassword    = errors.New("password is required")
	ErrSelfModification   = errors.New("cannot modify own account in this way")

	// ErrStaleIdentity is returned by the narrow IdentityStore writes when
	// the stored identity no longer matches what the caller read.
	ErrStaleIdentity = errors.New("identity changed concurrently")
)
