package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/dali-center/internal/audit"
)

// handleListAuditLogs returns a page of audit entries, newest first.
//
// Query parameters:
//   - action: discovery_complete, refresh_complete, flow_failed or gateway_removed
//   - entity_type, entity_id: e.g. gateway + serial
//   - flow_id: entries written for one flow
//   - since: RFC 3339 timestamp, inclusive
//   - limit (default 50, max 200), offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeInternalError(w, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		FlowID:     q.Get("flow_id"),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	filter.Limit = intParam(q.Get("limit"))
	filter.Offset = intParam(q.Get("offset"))

	page, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// intParam parses an optional integer query parameter; junk reads as 0 so
// the repository default applies.
func intParam(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
