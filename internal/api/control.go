package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-petfeeder/internal/petlibro"
)

// stopFeedRequest is the optional body of POST /feed/stop.
type stopFeedRequest struct {
	FeedID string `json:"feed_id"`
}

// feedRequest is the optional body of POST /feed.
type feedRequest struct {
	Portions int `json:"portions"`
}

// trayRequest is the body of POST /tray.
type trayRequest struct {
	Percentage *int `json:"percentage"`
}

// settingRequest is the optional body of POST /settings/{endpoint}.
type settingRequest struct {
	Value any            `json:"value"`
	Extra map[string]any `json:"extra"`
}

// handleFeedStart opens the feeder for a manual feed.
func (s *Server) handleFeedStart(w http.ResponseWriter, r *http.Request) {
	sess, err := s.feeder.StartFeed(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFeederError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleFeedStop closes the feeder. Without a feed_id the feed opened by
// feed/start is closed.
func (s *Server) handleFeedStop(w http.ResponseWriter, r *http.Request) {
	var req stopFeedRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	res, err := s.feeder.StopFeed(r.Context(), chi.URLParam(r, "id"), req.FeedID)
	if err != nil {
		writeFeederError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleFeed dispenses portions of dry food. Omitted portions use the
// configured default.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	var req feedRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Portions < 0 {
		writeBadRequest(w, "portions must not be negative")
		return
	}

	requestID, err := s.feeder.Feed(r.Context(), chi.URLParam(r, "id"), req.Portions)
	if err != nil {
		writeFeederError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request_id": requestID})
}

// handleRotate advances the tray by one position.
func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	if err := s.feeder.RotateOnce(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFeederError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetTray moves the tray to the position for a percentage.
func (s *Server) handleSetTray(w http.ResponseWriter, r *http.Request) {
	var req trayRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Percentage == nil {
		writeBadRequest(w, "percentage is required")
		return
	}

	out, err := s.feeder.SetTrayPosition(r.Context(), chi.URLParam(r, "id"), *req.Percentage)
	if err != nil {
		writeFeederError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePlayAudio plays the feeding call.
func (s *Server) handlePlayAudio(w http.ResponseWriter, r *http.Request) {
	if err := s.feeder.PlayAudio(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFeederError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleApplySetting changes one device setting. Unknown endpoints are
// rejected with 409 before anything is sent.
func (s *Server) handleApplySetting(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	setting := petlibro.Setting{
		Endpoint: chi.URLParam(r, "endpoint"),
		Value:    req.Value,
		Extra:    req.Extra,
	}
	data, err := s.feeder.ApplySetting(r.Context(), chi.URLParam(r, "id"), setting)
	if err != nil {
		writeFeederError(w, err)
		return
	}
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, map[string]any{"endpoint": setting.Endpoint, "data": data})
}

// decodeOptionalBody decodes a JSON body into v. An empty body leaves v
// untouched.
func decodeOptionalBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
