package auth

import (
	"slices"
	"testing"
)

// expectedGrants is the role table written out independently of
// rolePermissions so every (role, permission) pair is checked.
var expectedGrants = map[Role][]Permission{
	RoleSDR:             {PermContactsRead, PermContactsWrite, PermCompaniesRead, PermDealsRead, PermDealsWrite},
	RoleAE:              {PermContactsRead, PermContactsWrite, PermCompaniesRead, PermCompaniesWrite, PermDealsRead, PermDealsWrite, PermDealsDelete, PermAnalyticsRead},
	RoleCSM:             {PermContactsRead, PermContactsWrite, PermCompaniesRead, PermDealsRead, PermTicketsRead, PermTicketsWrite, PermAnalyticsRead},
	RoleAccountManager:  {PermContactsRead, PermContactsWrite, PermCompaniesRead, PermCompaniesWrite, PermDealsRead, PermDealsWrite, PermTicketsRead, PermAnalyticsRead},
	RoleSupportEngineer: {PermTicketsRead, PermTicketsWrite},
	RoleProduct:         {PermCompaniesRead, PermTicketsRead, PermAnalyticsRead},
	RoleMarketing:       {PermContactsRead, PermContactsWrite, PermCampaignsRead, PermCampaignsWrite, PermCampaignsDelete, PermAnalyticsRead},
	RoleExecutive:       {PermContactsRead, PermCompaniesRead, PermDealsRead, PermCampaignsRead, PermTicketsRead, PermAnalyticsRead, PermUsersRead, PermAuditRead},
	RoleAdmin:           AllPermissions,
}

func TestPermissionsForRole_EveryPair(t *testing.T) {
	for _, role := range ValidRoles {
		granted := PermissionsForRole(role)
		for _, perm := range AllPermissions {
			want := slices.Contains(expectedGrants[role], perm)
			if got := slices.Contains(granted, perm); got != want {
				t.Errorf("%s has %s = %v, want %v", role, perm, got, want)
			}
		}
	}
}

func TestPermissionsForRole(t *testing.T) {
	perms := PermissionsForRole(RoleSupportEngineer)
	if len(perms) != 2 {
		t.Fatalf("support_engineer permissions = %v, want 2", perms)
	}

	// Mutating the result must not affect the table.
	perms[0] = PermUsersManage
	if slices.Contains(PermissionsForRole(RoleSupportEngineer), PermUsersManage) {
		t.Error("PermissionsForRole should return a copy")
	}
}

func TestPermissionsForRole_Unknown(t *testing.T) {
	if perms := PermissionsForRole("intern"); perms != nil {
		t.Errorf("PermissionsForRole(unknown) = %v, want nil", perms)
	}
}

func TestSatisfies_AnyOfWithAdminBypass(t *testing.T) {
	requirements := [][]Permission{
		{PermCompaniesWrite},
		{PermTicketsWrite},
		{PermUsersRead, PermUsersManage},
		{PermCampaignsDelete, PermDealsDelete},
		{PermAuditRead},
		{},
		nil,
	}

	for _, role := range ValidRoles {
		ident := &Identity{Role: role, Permissions: PermissionsForRole(role)}
		for _, required := range requirements {
			want := role == RoleAdmin
			for _, p := range required {
				if slices.Contains(expectedGrants[role], p) {
					want = true
				}
			}
			if got := Satisfies(ident, required); got != want {
				t.Errorf("Satisfies(%s, %v) = %v, want %v", role, required, got, want)
			}
		}
	}
}

func TestSatisfies_UsesStoredPermissions(t *testing.T) {
	ident := &Identity{Role: RoleSDR, Permissions: []Permission{PermTicketsRead}, CustomPermissions: true}

	if !Satisfies(ident, []Permission{PermTicketsRead}) {
		t.Error("custom grant should satisfy tickets.read")
	}
	if Satisfies(ident, []Permission{PermContactsRead}) {
		t.Error("role default not in stored set should not satisfy")
	}
	if Satisfies(nil, []Permission{PermContactsRead}) {
		t.Error("nil identity should never satisfy")
	}
}

func TestSetRole_RecomputesUnlessCustom(t *testing.T) {
	ident := &Identity{}
	ident.SetRole(RoleSDR)
	ident.SetRole(RoleSupportEngineer)

	if !slices.Equal(ident.Permissions, PermissionsForRole(RoleSupportEngineer)) {
		t.Errorf("Permissions = %v, want support_engineer defaults", ident.Permissions)
	}

	custom := &Identity{Permissions: []Permission{PermAuditRead}, CustomPermissions: true}
	custom.SetRole(RoleMarketing)
	if custom.Role != RoleMarketing {
		t.Errorf("Role = %q, want marketing", custom.Role)
	}
	if !slices.Equal(custom.Permissions, []Permission{PermAuditRead}) {
		t.Errorf("custom Permissions = %v, want unchanged", custom.Permissions)
	}
}

func TestMatrix_DeclaredRoutes(t *testing.T) {
	m := NewMatrix()

	tests := []struct {
		route string
		want  []Permission
	}{
		{"contacts.list", []Permission{PermContactsRead}},
		{"companies.update", []Permission{PermCompaniesWrite}},
		{"tickets.create", []Permission{PermTicketsWrite}},
		{"deals.delete", []Permission{PermDealsDelete}},
		{"users.list", []Permission{PermUsersRead, PermUsersManage}},
		{"users.delete", []Permission{PermUsersManage}},
		{"audit.list", []Permission{PermAuditRead}},
	}

	for _, tt := range tests {
		t.Run(tt.route, func(t *testing.T) {
			if got := m.RequiredPermissions(tt.route); !slices.Equal(got, tt.want) {
				t.Errorf("RequiredPermissions(%s) = %v, want %v", tt.route, got, tt.want)
			}
		})
	}

	if got := m.RequiredPermissions("reports.export"); got != nil {
		t.Errorf("undeclared route = %v, want nil", got)
	}
}

func TestMatrix_DeclareAndAllows(t *testing.T) {
	m := NewMatrix()
	m.Declare("reports.export", PermAnalyticsRead)

	product := &Identity{Role: RoleProduct, Permissions: PermissionsForRole(RoleProduct)}
	support := &Identity{Role: RoleSupportEngineer, Permissions: PermissionsForRole(RoleSupportEngineer)}
	admin := &Identity{Role: RoleAdmin}

	if !m.Allows(product, "reports.export") {
		t.Error("product should pass reports.export")
	}
	if m.Allows(support, "reports.export") {
		t.Error("support_engineer should not pass reports.export")
	}
	if m.Allows(support, "companies.update") {
		t.Error("support_engineer should not pass companies.update")
	}
	if !m.Allows(support, "tickets.update") {
		t.Error("support_engineer should pass tickets.update")
	}
	if m.Allows(product, "never.declared") {
		t.Error("undeclared routes should fail closed for non-admins")
	}
	if !m.Allows(admin, "never.declared") {
		t.Error("admin should bypass undeclared routes")
	}

	// The returned slice is a copy.
	got := m.RequiredPermissions("reports.export")
	got[0] = PermUsersManage
	if m.RequiredPermissions("reports.export")[0] != PermAnalyticsRead {
		t.Error("RequiredPermissions should return a copy")
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range ValidRoles {
		if !IsValidRole(r) {
			t.Errorf("IsValidRole(%s) = false", r)
		}
	}
	if IsValidRole("owner") {
		t.Error("IsValidRole(owner) = true, want false")
	}
}
