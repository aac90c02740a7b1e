package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/crm-core/internal/audit"
	"github.com/nerrad567/crm-core/internal/auth"
)

// minPasswordLength is the shortest password accepted for new credentials.
const minPasswordLength = 8

// ─── Request Types ─────────────────────────────────────────────────

type createUserRequest struct {
	FirstName   string            `json:"firstName"`
	LastName    string            `json:"lastName"`
	Email       string            `json:"email"`
	Password    string            `json:"password"`
	Role        auth.Role         `json:"role"`
	Permissions []auth.Permission `json:"permissions,omitempty"`
	IsActive    *bool             `json:"isActive,omitempty"`
}

type updateUserRequest struct {
	FirstName         *string            `json:"firstName,omitempty"`
	LastName          *string            `json:"lastName,omitempty"`
	Email             *string            `json:"email,omitempty"`
	Password          *string            `json:"password,omitempty"`
	Role              *auth.Role         `json:"role,omitempty"`
	Permissions       *[]auth.Permission `json:"permissions,omitempty"`
	CustomPermissions *bool              `json:"customPermissions,omitempty"`
	IsActive          *bool              `json:"isActive,omitempty"`
}

// validPermissions reports whether every token is a known permission.
func validPermissions(perms []auth.Permission) bool {
	for _, p := range perms {
		if !slices.Contains(auth.AllPermissions, p) {
			return false
		}
	}
	return true
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListUsers returns identities, including deactivated ones.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	a, ok := s.adapterFrom(w, r)
	if !ok {
		return
	}
	result, err := a.Identities().List(r.Context(), q)
	if err != nil {
		s.writeStoreError(w, r, "list users", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetUser returns one identity.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	a, ok := s.adapterFrom(w, r)
	if !ok {
		return
	}
	ident, err := a.Identities().FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

// handleCreateUser creates an identity. Permissions are derived from the
// role unless an explicit list is supplied.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Email == "" || req.Password == "" || req.Role == "" {
		writeBadRequest(w, "email, password and role are required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeBadRequest(w, "password must be at least 8 characters")
		return
	}
	if !auth.IsValidRole(req.Role) {
		writeBadRequest(w, "invalid role")
		return
	}
	if !validPermissions(req.Permissions) {
		writeBadRequest(w, "unknown permission")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeInternalError(w)
		return
	}

	ident := &auth.Identity{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        auth.NormalizeEmail(req.Email),
		PasswordHash: hash,
		IsActive:     req.IsActive == nil || *req.IsActive,
	}
	if req.Permissions != nil {
		ident.CustomPermissions = true
		ident.Permissions = slices.Clone(req.Permissions)
	}
	ident.SetRole(req.Role)

	a, ok := s.adapterFrom(w, r)
	if !ok {
		return
	}
	if err := a.Identities().Create(r.Context(), ident); err != nil {
		s.writeStoreError(w, r, "create user", err)
		return
	}

	caller, _ := auth.IdentityFromContext(r.Context())
	s.logger.Info("user created", "user_id", ident.ID, "role", ident.Role, "created_by", caller.ID)
	s.record(r, audit.ActionCreate, "users", ident.ID, "", map[string]any{
		"newRole": string(ident.Role),
	})

	writeJSON(w, http.StatusCreated, ident)
}

// handleUpdateUser applies a partial update. Callers cannot deactivate
// themselves. Deactivation and password changes end every refresh session.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) { //nolint:gocognit,gocyclo // field-by-field patch with per-field validation
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	caller, _ := auth.IdentityFromContext(r.Context())
	if req.IsActive != nil && !*req.IsActive && caller.ID == id {
		writeForbidden(w, auth.ErrSelfModification.Error())
		return
	}

	a, ok := s.adapterFrom(w, r)
	if !ok {
		return
	}
	ident, err := a.Identities().FindByID(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, "get user", err)
		return
	}

	var endSessions bool
	if req.FirstName != nil {
		ident.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		ident.LastName = *req.LastName
	}
	if req.Email != nil {
		ident.Email = auth.NormalizeEmail(*req.Email)
	}
	if req.Password != nil {
		if len(*req.Password) < minPasswordLength {
			writeBadRequest(w, "password must be at least 8 characters")
			return
		}
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			s.logger.Error("hash password failed", "error", err)
			writeInternalError(w)
			return
		}
		ident.PasswordHash = hash
		endSessions = true
	}
	if req.Permissions != nil {
		if !validPermissions(*req.Permissions) {
			writeBadRequest(w, "unknown permission")
			return
		}
		ident.CustomPermissions = true
		ident.Permissions = slices.Clone(*req.Permissions)
	}
	if req.CustomPermissions != nil && !*req.CustomPermissions {
		ident.CustomPermissions = false
	}
	role := ident.Role
	if req.Role != nil {
		if !auth.IsValidRole(*req.Role) {
			writeBadRequest(w, "invalid role")
			return
		}
		role = *req.Role
	}
	ident.SetRole(role)
	if req.IsActive != nil {
		ident.IsActive = *req.IsActive
		if !ident.IsActive {
			endSessions = true
		}
	}

	if err := a.Identities().Update(r.Context(), ident); err != nil {
		s.writeStoreError(w, r, "update user", err)
		return
	}
	if endSessions {
		if err := a.Identities().ClearRefreshRef(r.Context(), ident.ID); err != nil {
			s.writeStoreError(w, r, "end user sessions", err)
			return
		}
		ident.RefreshTokenRef = ""
	}

	s.logger.Info("user updated", "user_id", ident.ID, "role", ident.Role, "updated_by", caller.ID)
	s.record(r, audit.ActionUpdate, "users", ident.ID, "", map[string]any{
		"newRole":  string(ident.Role),
		"isActive": ident.IsActive,
	})

	writeJSON(w, http.StatusOK, ident)
}

// handleDeleteUser removes an identity. Callers cannot delete themselves.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	caller, _ := auth.IdentityFromContext(r.Context())
	if caller.ID == id {
		writeForbidden(w, auth.ErrSelfModification.Error())
		return
	}

	a, ok := s.adapterFrom(w, r)
	if !ok {
		return
	}
	if err := a.Identities().Delete(r.Context(), id); err != nil {
		s.writeStoreError(w, r, "delete user", err)
		return
	}

	s.logger.Info("user deleted", "user_id", id, "deleted_by", caller.ID)
	s.record(r, audit.ActionDelete, "users", id, "", nil)
	w.WriteHeader(http.StatusNoContent)
}
