package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/qlc-bridge/internal/audit"
	"github.com/nerrad567/qlc-bridge/internal/auth"
)

// Actions audited besides the controller commands.
const (
	auditActionRefresh             = "refresh"
	auditActionResetClassification = "reset_classifications"
)

// AuditStore records and lists operator actions.
type AuditStore interface {
	Create(ctx context.Context, log *audit.AuditLog) error
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// recordAudit writes one audit entry. Failures are logged, never returned:
// an unwritable audit table must not block the show.
func (s *Server) recordAudit(r *http.Request, action, entityID, outcome string, details map[string]any) {
	if s.audit == nil {
		return
	}
	entry := &audit.AuditLog{
		Action:   action,
		EntityID: entityID,
		Subject:  requestSubject(r),
		Source:   audit.SourceAPI,
		Outcome:  outcome,
		Details:  details,
	}
	if err := s.audit.Create(r.Context(), entry); err != nil {
		s.logger.Warn("writing audit log failed", "action", action, "error", err)
	}
}

// requestSubject returns the token subject, or "" when auth is disabled.
func requestSubject(r *http.Request) string {
	if claims, ok := r.Context().Value(ctxKeyClaims).(*auth.Claims); ok {
		return claims.Subject
	}
	return ""
}

// handleListAudit returns audit entries, newest first.
// Query parameters: action, entity_id, subject, outcome, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log is not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		EntityID: q.Get("entity_id"),
		Subject:  q.Get("subject"),
		Outcome:  q.Get("outcome"),
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, p.name+" must be a non-negative integer")
			return
		}
		*p.dst = n
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs failed", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
