package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/syncview/syncview-agent/internal/export"
	"github.com/syncview/syncview-agent/internal/marker"
)

func listMarkersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var markers []*marker.Marker
		if r.URL.Query().Get("include_deleted") == "true" {
			cfg.Markers.Flush(r.Context())
			markers = cfg.Store.LoadAll(r.Context(), true)
		} else {
			markers = cfg.Markers.All()
		}
		WriteJSON(w, http.StatusOK, markersEnvelope(markers))
	}
}

func createMarkerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateMarkerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Timestamp == nil {
			WriteError(w, http.StatusBadRequest, "timestamp is required", "BAD_REQUEST")
			return
		}

		mk, err := cfg.Markers.Add(r.Context(), &marker.Marker{
			Timestamp:   *req.Timestamp,
			Color:       req.Color,
			Description: req.Description,
			Category:    req.Category,
			VideoIndex:  req.VideoIndex,
		})
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusCreated, mk)
	}
}

func updateMarkerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req UpdateMarkerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.VideoIndex != nil && req.ClearVideoIndex {
			WriteError(w, http.StatusBadRequest, "video_index and clear_video_index are mutually exclusive", "BAD_REQUEST")
			return
		}

		u := marker.Update{
			Timestamp:   req.Timestamp,
			Color:       req.Color,
			Description: req.Description,
			Category:    req.Category,
		}
		if req.ClearVideoIndex {
			var all *int
			u.VideoIndex = &all
		} else if req.VideoIndex != nil {
			u.VideoIndex = &req.VideoIndex
		}

		ok, err := cfg.Markers.Update(r.Context(), id, u)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		if !ok {
			WriteError(w, http.StatusNotFound, "marker not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, cfg.Markers.Get(id))
	}
}

func deleteMarkerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !cfg.Markers.Remove(r.Context(), id) {
			WriteError(w, http.StatusNotFound, "marker not found", "NOT_FOUND")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func markersRangeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, okStart := queryInt64(r, "start")
		end, okEnd := queryInt64(r, "end")
		if !okStart || !okEnd {
			WriteError(w, http.StatusBadRequest, "start and end are required integers", "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusOK, markersEnvelope(cfg.Markers.QueryRange(start, end)))
	}
}

func markerNearestHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := queryInt64(r, "t")
		if !ok {
			WriteError(w, http.StatusBadRequest, "t is a required integer", "BAD_REQUEST")
			return
		}
		maxDistance, ok := queryInt64(r, "max_distance")
		if !ok {
			maxDistance = marker.DefaultMaxDistance
		}

		mk := cfg.Markers.FindNearest(t, maxDistance)
		if mk == nil {
			WriteError(w, http.StatusNotFound, "no marker within range", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, mk)
	}
}

func markerPrevHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := queryInt64(r, "t")
		if !ok {
			WriteError(w, http.StatusBadRequest, "t is a required integer", "BAD_REQUEST")
			return
		}

		mk := cfg.Markers.FindPrev(t)
		if mk == nil {
			WriteError(w, http.StatusNotFound, "no earlier marker", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, mk)
	}
}

func markerNextHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, ok := queryInt64(r, "t")
		if !ok {
			WriteError(w, http.StatusBadRequest, "t is a required integer", "BAD_REQUEST")
			return
		}

		mk := cfg.Markers.FindNext(t)
		if mk == nil {
			WriteError(w, http.StatusNotFound, "no later marker", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, mk)
	}
}

// markerPaletteHandler serves the color and category tags the review UI
// offers when creating markers.
func markerPaletteHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, PaletteResponse{
			Colors:     marker.DefaultColors,
			Categories: marker.DefaultCategories,
		})
	}
}

func markerStatsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Markers.Flush(r.Context())
		stats := cfg.Store.Stats(r.Context())
		if stats == nil {
			WriteError(w, http.StatusInternalServerError, "failed to compute marker stats", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

func importMarkersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, ok := decodeFileRequest(w, r)
		if !ok {
			return
		}

		imported, ok := cfg.Store.ImportJSON(r.Context(), path)
		if !ok {
			WriteError(w, http.StatusUnprocessableEntity, "failed to import markers file", "IMPORT_FAILED")
			return
		}

		cfg.Markers.Reload(r.Context())
		WriteJSON(w, http.StatusOK, ImportMarkersResponse{
			Imported: imported,
			Total:    cfg.Markers.Count(),
		})
	}
}

func exportMarkersJSONHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, ok := decodeFileRequest(w, r)
		if !ok {
			return
		}

		cfg.Markers.Flush(r.Context())
		if !cfg.Store.ExportJSON(r.Context(), path) {
			WriteError(w, http.StatusInternalServerError, "failed to write markers file", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, ExportMarkersResponse{
			Status: "ok",
			Path:   path,
			Count:  cfg.Store.Count(r.Context(), false),
		})
	}
}

func exportMarkersCSVHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, ok := decodeFileRequest(w, r)
		if !ok {
			return
		}

		cfg.Markers.Flush(r.Context())
		if !cfg.Store.ExportCSV(r.Context(), path) {
			WriteError(w, http.StatusInternalServerError, "failed to write CSV file", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, ExportMarkersResponse{
			Status: "ok",
			Path:   path,
			Count:  cfg.Store.Count(r.Context(), false),
		})
	}
}

func exportMarkersEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportEDLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if req.Slot < 0 || req.Slot >= marker.NumSlots {
			WriteError(w, http.StatusBadRequest, "slot index out of range", "BAD_REQUEST")
			return
		}
		if req.BeforeSec < 0 || req.AfterSec < 0 || req.BeforeSec+req.AfterSec <= 0 {
			WriteError(w, http.StatusBadRequest, "export window must be positive", "BAD_REQUEST")
			return
		}
		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		mediaPath, loaded := cfg.Workspace.LoadedPath(req.Slot)
		if !loaded {
			WriteError(w, http.StatusNotFound, "no video loaded in slot", "NOT_FOUND")
			return
		}

		cues := export.MarkerCues(cfg.Markers.All(), req.Slot, mediaPath,
			secondsToMs(req.BeforeSec), secondsToMs(req.AfterSec))
		if len(cues) == 0 {
			WriteError(w, http.StatusUnprocessableEntity, "no markers in scope for slot", "NO_MARKERS")
			return
		}

		name := export.SanitizeName(req.Name, 120)
		if name == "" {
			name = "syncview_markers"
		}

		frameRate := req.FrameRate
		if frameRate <= 0 {
			frameRate = cfg.Workspace.Slots()[req.Slot].FPS
		}
		if frameRate <= 0 {
			frameRate = 30.0
		}

		edl := export.GenerateEDL(cues, name, frameRate)
		outputPath := filepath.Join(req.OutputDir, name+".edl")
		if err := os.WriteFile(outputPath, []byte(edl), 0o644); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to write export file", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, ExportEDLResponse{
			Status:     "ok",
			Format:     "edl",
			OutputPath: outputPath,
			ClipCount:  len(cues),
		})
	}
}

func markersEnvelope(markers []*marker.Marker) MarkersResponse {
	if markers == nil {
		markers = []*marker.Marker{}
	}
	return MarkersResponse{Markers: markers, Count: len(markers)}
}

func decodeFileRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req MarkerFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return "", false
	}
	if req.Path == "" {
		WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
		return "", false
	}
	return req.Path, true
}

func queryInt64(r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
