package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-petfeeder/internal/petlibro"
	"github.com/nerrad567/gray-logic-petfeeder/internal/tray"
)

// snapshotResponse is a snapshot with the derived tray percentage and the
// open feed, if any.
type snapshotResponse struct {
	petlibro.Snapshot
	TrayPercentage int    `json:"tray_percentage"`
	Feeding        bool   `json:"feeding"`
	FeedID         string `json:"feed_id,omitempty"`
}

// handleListDevices lists the feeders on the account.
//
// Query parameters:
//   - force: "true" to bypass the cache
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.feeder.Devices(r.Context(), queryBool(r, "force"))
	if err != nil {
		writeFeederError(w, err)
		return
	}
	if devices == nil {
		devices = []petlibro.DeviceRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleSnapshot returns the real-time state of one feeder.
//
// Query parameters:
//   - force: "true" to bypass the cache
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.feeder.Snapshot(r.Context(), chi.URLParam(r, "id"), queryBool(r, "force"))
	if err != nil {
		writeFeederError(w, err)
		return
	}

	resp := snapshotResponse{
		Snapshot:       snap,
		TrayPercentage: tray.PositionToPercentage(snap.TrayPosition),
	}
	if sess, ok := s.feeder.ActiveFeed(snap.DeviceID); ok {
		resp.Feeding = true
		resp.FeedID = sess.FeedID
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFeedingData returns one feeding-data document of a feeder, passed
// through as the vendor sent it.
//
// Kinds: plan, grain, wet, work, matrix.
func (s *Server) handleFeedingData(w http.ResponseWriter, r *http.Request) {
	var fetch func(ctx context.Context, deviceID string, force bool) (json.RawMessage, error)
	switch kind := chi.URLParam(r, "kind"); kind {
	case "plan":
		fetch = s.feeder.FeedingPlanToday
	case "grain":
		fetch = s.feeder.GrainStatus
	case "wet":
		fetch = s.feeder.WetFeedingPlan
	case "work":
		fetch = s.feeder.WorkRecord
	case "matrix":
		fetch = s.feeder.DefaultMatrix
	default:
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "unknown feeding data kind: "+kind)
		return
	}

	data, err := fetch(r.Context(), chi.URLParam(r, "id"), queryBool(r, "force"))
	if err != nil {
		writeFeederError(w, err)
		return
	}
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

// queryBool reads a boolean query parameter; anything unparsable is false.
func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
