package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/crm-core/internal/audit"
	"github.com/nerrad567/crm-core/internal/auth"
	"github.com/nerrad567/crm-core/internal/store"
)

// record enqueues an audit entry (best-effort). userID is the acting
// identity; when empty the authenticated caller, if any, is used.
func (s *Server) record(r *http.Request, action, entityType, entityID, userID string, details map[string]any) {
	if s.audit == nil {
		return
	}

	if userID == "" {
		if ident, ok := auth.IdentityFromContext(r.Context()); ok {
			userID = ident.ID
			if details == nil {
				details = map[string]any{}
			}
			if _, set := details["role"]; !set {
				details["role"] = string(ident.Role)
			}
		}
	}
	if requestID := requestIDFrom(r.Context()); requestID != "" {
		if details == nil {
			details = map[string]any{}
		}
		details["requestId"] = requestID
	}

	s.audit.Record(&audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Source:     audit.SourceAPI,
		Mode:       modeOf(r.Context()),
		Details:    details,
	})
}

// handleListAudit returns paginated audit entries with optional filters.
//
// Query parameters:
//   - action: filter by action (login, login_failed, create, ...)
//   - entityType: filter by entity type (session, users, contacts, ...)
//   - entityId: filter by specific entity ID
//   - userId: filter by acting identity
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
//
// The trail is held only by the durable store, so a unit of work running
// on the fallback answers 503 without querying it.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeUnavailable(w)
		return
	}
	if modeOf(r.Context()) != string(store.ModeDurable) {
		s.logger.Info("audit trail unavailable in fallback mode",
			"request_id", requestIDFrom(r.Context()),
		)
		writeUnavailable(w)
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
		UserID:     q.Get("userId"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			s.selector.ReportFailure(err)
			writeUnavailable(w)
			return
		}
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
