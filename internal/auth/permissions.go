package auth

import (
	"slices"
	"sync"
)

// Permission is a dotted capability token: <resource>.<action>.
type Permission string

// Permission constants.
const (
	PermContactsRead    Permission = "contacts.read"
	PermContactsWrite   Permission = "contacts.write"
	PermContactsDelete  Permission = "contacts.delete"
	PermCompaniesRead   Permission = "companies.read"
	PermCompaniesWrite  Permission = "companies.write"
	PermCompaniesDelete Permission = "companies.delete"
	PermDealsRead       Permission = "deals.read"
	PermDealsWrite      Permission = "deals.write"
	PermDealsDelete     Permission = "deals.delete"
	PermCampaignsRead   Permission = "campaigns.read"
	PermCampaignsWrite  Permission = "campaigns.write"
	PermCampaignsDelete Permission = "campaigns.delete"
	PermTicketsRead     Permission = "tickets.read"
	PermTicketsWrite    Permission = "tickets.write"
	PermTicketsDelete   Permission = "tickets.delete"
	PermAnalyticsRead   Permission = "analytics.read"
	PermUsersRead       Permission = "users.read"
	PermUsersManage     Permission = "users.manage"
	PermAuditRead       Permission = "audit.read"
)

// AllPermissions lists every permission token.
var AllPermissions = []Permission{
	PermContactsRead, PermContactsWrite, PermContactsDelete,
	PermCompaniesRead, PermCompaniesWrite, PermCompaniesDelete,
	PermDealsRead, PermDealsWrite, PermDealsDelete,
	PermCampaignsRead, PermCampaignsWrite, PermCampaignsDelete,
	PermTicketsRead, PermTicketsWrite, PermTicketsDelete,
	PermAnalyticsRead,
	PermUsersRead, PermUsersManage,
	PermAuditRead,
}

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleAdmin: AllPermissions,
	RoleSDR: {
		PermContactsRead, PermContactsWrite,
		PermCompaniesRead,
		PermDealsRead, PermDealsWrite,
	},
	RoleAE: {
		PermContactsRead, PermContactsWrite,
		PermCompaniesRead, PermCompaniesWrite,
		PermDealsRead, PermDealsWrite, PermDealsDelete,
		PermAnalyticsRead,
	},
	RoleCSM: {
		PermContactsRead, PermContactsWrite,
		PermCompaniesRead,
		PermDealsRead,
		PermTicketsRead, PermTicketsWrite,
		PermAnalyticsRead,
	},
	RoleAccountManager: {
		PermContactsRead, PermContactsWrite,
		PermCompaniesRead, PermCompaniesWrite,
		PermDealsRead, PermDealsWrite,
		PermTicketsRead,
		PermAnalyticsRead,
	},
	RoleSupportEngineer: {
		PermTicketsRead, PermTicketsWrite,
	},
	RoleProduct: {
		PermCompaniesRead,
		PermTicketsRead,
		PermAnalyticsRead,
	},
	RoleMarketing: {
		PermContactsRead, PermContactsWrite,
		PermCampaignsRead, PermCampaignsWrite, PermCampaignsDelete,
		PermAnalyticsRead,
	},
	RoleExecutive: {
		PermContactsRead,
		PermCompaniesRead,
		PermDealsRead,
		PermCampaignsRead,
		PermTicketsRead,
		PermAnalyticsRead,
		PermUsersRead,
		PermAuditRead,
	},
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	return slices.Clone(perms)
}

// Satisfies reports whether ident may pass a gate requiring any one of
// required. Admins always pass. An empty requirement admits nobody else.
func Satisfies(ident *Identity, required []Permission) bool {
	if ident == nil {
		return false
	}
	if ident.Role == RoleAdmin {
		return true
	}
	for _, p := range required {
		if slices.Contains(ident.Permissions, p) {
			return true
		}
	}
	return false
}

// Resource kinds with CRUD routes.
var ResourceKinds = []string{"contacts", "companies", "deals", "campaigns", "tickets"}

// Route actions.
const (
	ActionList   = "list"
	ActionGet    = "get"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// RouteID names a protected route, e.g. "contacts.create".
func RouteID(resource, action string) string {
	return resource + "." + action
}

// Matrix holds the permission requirements declared per route id.
//
// Thread Safety:
//   - Safe for concurrent use; declarations may be added at any time.
type Matrix struct {
	mu     sync.RWMutex
	routes map[string][]Permission
}

// NewMatrix returns a Matrix with every route served by the HTTP layer
// already declared.
func NewMatrix() *Matrix {
	m := &Matrix{routes: make(map[string][]Permission)}

	for _, kind := range ResourceKinds {
		read := Permission(kind + ".read")
		write := Permission(kind + ".write")
		del := Permission(kind + ".delete")

		m.Declare(RouteID(kind, ActionList), read)
		m.Declare(RouteID(kind, ActionGet), read)
		m.Declare(RouteID(kind, ActionCreate), write)
		m.Declare(RouteID(kind, ActionUpdate), write)
		m.Declare(RouteID(kind, ActionDelete), del)
	}

	m.Declare(RouteID("users", ActionList), PermUsersRead, PermUsersManage)
	m.Declare(RouteID("users", ActionGet), PermUsersRead, PermUsersManage)
	m.Declare(RouteID("users", ActionCreate), PermUsersManage)
	m.Declare(RouteID("users", ActionUpdate), PermUsersManage)
	m.Declare(RouteID("users", ActionDelete), PermUsersManage)
	m.Declare(RouteID("audit", ActionList), PermAuditRead)

	return m
}

// Declare sets the permissions that satisfy routeID (any-of).
func (m *Matrix) Declare(routeID string, perms ...Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[routeID] = slices.Clone(perms)
}

// RequiredPermissions returns a copy of the declaration for routeID,
// or nil if the route was never declared.
func (m *Matrix) RequiredPermissions(routeID string) []Permission {
	m.mu.RLock()
	defer m.mu.RUnlock()
	perms, ok := m.routes[routeID]
	if !ok {
		return nil
	}
	return slices.Clone(perms)
}

// Allows reports whether ident satisfies the declaration for routeID.
// Undeclared routes admit admins only.
func (m *Matrix) Allows(ident *Identity, routeID string) bool {
	return Satisfies(ident, m.RequiredPermissions(routeID))
}
