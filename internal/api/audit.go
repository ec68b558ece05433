package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/microcoaster-core/internal/audit"
)

// record writes an audit entry. Failures are logged and never fail the request.
func (s *Server) record(ctx context.Context, e audit.Entry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, &e); err != nil {
		s.logger.Warn("failed to record audit entry", "action", e.Action, "error", err)
	}
}

// handleAdminAudit pages through the audit log.
//
// Query parameters: action, module_id, user_id, limit, offset.
func (s *Server) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit log is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		ModuleID: q.Get("module_id"),
		UserID:   q.Get("user_id"),
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeBadRequest(w, key+" must be an integer")
				return
			}
			*dst = n
		}
	}

	page, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err, "failed to list audit log")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
