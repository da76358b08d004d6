package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-petfeeder/internal/audit"
)

// handleListHistory returns recorded control actions, newest first.
//
// Query parameters:
//   - device_id: filter by feeder
//   - action: filter by action name
//   - failed: "true" for unsuccessful actions only
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "action history not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID: q.Get("device_id"),
		Action:   q.Get("action"),
		Failed:   queryBool(r, "failed"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list action history", "error", err)
		writeInternalError(w, "failed to list action history")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
