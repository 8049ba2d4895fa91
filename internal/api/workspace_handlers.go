package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/syncview/syncview-agent/internal/marker"
)

func listSlotsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, SlotsResponse{Slots: cfg.Workspace.Slots()})
	}
}

func setSlotHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := slotParam(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "slot index out of range", "BAD_REQUEST")
			return
		}

		var req SetSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		prev := cfg.Workspace.Slots()[index].Path

		slot, err := cfg.Workspace.SetSlot(r.Context(), index, req.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				WriteError(w, http.StatusNotFound, "video file not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		if cfg.Watcher != nil {
			if prev != "" && prev != slot.Path {
				cfg.Watcher.UnwatchFile(prev)
			}
			if err := cfg.Watcher.WatchFile(slot.Path); err != nil {
				cfg.Logger.Warn("failed to watch slot file", "path", slot.Path, "error", err)
			}
		}

		WriteJSON(w, http.StatusOK, slot)
	}
}

func clearSlotHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := slotParam(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "slot index out of range", "BAD_REQUEST")
			return
		}

		prev := cfg.Workspace.Slots()[index].Path
		if err := cfg.Workspace.ClearSlot(index); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		if cfg.Watcher != nil && prev != "" {
			cfg.Watcher.UnwatchFile(prev)
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func syncStateHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, syncSnapshot(cfg))
	}
}

func setOffsetHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := slotParam(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "slot index out of range", "BAD_REQUEST")
			return
		}

		var req SetOffsetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.OffsetMs == nil {
			WriteError(w, http.StatusBadRequest, "offset_ms is required", "BAD_REQUEST")
			return
		}

		if err := cfg.Workspace.SetOffset(index, *req.OffsetMs); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		WriteJSON(w, http.StatusOK, syncSnapshot(cfg))
	}
}

func setMasterHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := slotParam(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "slot index out of range", "BAD_REQUEST")
			return
		}

		if err := cfg.Workspace.SetMaster(index); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		WriteJSON(w, http.StatusOK, syncSnapshot(cfg))
	}
}

func playbackSlotHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := slotParam(r)
		if !ok {
			WriteError(w, http.StatusBadRequest, "slot index out of range", "BAD_REQUEST")
			return
		}

		path, loaded := cfg.Workspace.LoadedPath(index)
		if !loaded {
			WriteError(w, http.StatusNotFound, "slot video not available", "NOT_FOUND")
			return
		}

		if err := cfg.Playback.ServeFile(w, r, path); err != nil {
			cfg.Logger.Error("playback error", "error", err, "slot", index)
		}
	}
}

func syncSnapshot(cfg ServerConfig) SyncResponse {
	offsets := make([]int64, marker.NumSlots)
	for i := range offsets {
		offsets[i] = cfg.Workspace.Offset(i)
	}
	return SyncResponse{
		Offsets:          offsets,
		Master:           cfg.Workspace.Master(),
		DriftToleranceMs: cfg.Workspace.DriftTolerance(),
	}
}

func slotParam(r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 || index >= marker.NumSlots {
		return 0, false
	}
	return index, true
}
