package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(LoopbackGuard())
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	// Media elements cannot attach Authorization headers, so playback
	// sits outside token auth behind the loopback guard.
	r.Get("/playback/slot/{index}", playbackSlotHandler(cfg))
	r.Head("/playback/slot/{index}", playbackSlotHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Store, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/encoders", encodersHandler(cfg))

		r.Get("/markers", listMarkersHandler(cfg))
		r.Post("/markers", createMarkerHandler(cfg))
		r.Patch("/markers/{id}", updateMarkerHandler(cfg))
		r.Delete("/markers/{id}", deleteMarkerHandler(cfg))
		r.Get("/markers/range", markersRangeHandler(cfg))
		r.Get("/markers/nearest", markerNearestHandler(cfg))
		r.Get("/markers/prev", markerPrevHandler(cfg))
		r.Get("/markers/next", markerNextHandler(cfg))
		r.Get("/markers/stats", markerStatsHandler(cfg))
		r.Get("/markers/palette", markerPaletteHandler(cfg))
		r.Post("/markers/import", importMarkersHandler(cfg))
		r.Post("/markers/export", exportMarkersJSONHandler(cfg))
		r.Post("/markers/export/csv", exportMarkersCSVHandler(cfg))
		r.Post("/markers/export/edl", exportMarkersEDLHandler(cfg))

		r.Get("/slots", listSlotsHandler(cfg))
		r.Put("/slots/{index}", setSlotHandler(cfg))
		r.Delete("/slots/{index}", clearSlotHandler(cfg))
		r.Get("/sync", syncStateHandler(cfg))
		r.Put("/sync/offsets/{index}", setOffsetHandler(cfg))
		r.Put("/sync/master/{index}", setMasterHandler(cfg))

		r.Post("/export/validate", validateExportHandler(cfg))
		r.Post("/export", startExportHandler(cfg))
		r.Get("/export/active", activeExportHandler(cfg))
		r.Post("/export/cancel", cancelExportHandler(cfg))
		r.Get("/export/queue", exportQueueHandler(cfg))
		r.Post("/export/queue/resume-failed", resumeFailedHandler(cfg))
		r.Post("/export/queue/clear", clearQueueHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  cfg.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			State:        "idle",
			MarkerCount:  cfg.Markers.Count(),
			SlotsLoaded:  len(cfg.Workspace.LoadedPaths()),
			QueuePending: len(cfg.Queue.Pending()),
			QueueFailed:  len(cfg.Queue.Failed()),
		}

		if run, active := cfg.Engine.Active(); active {
			resp.State = "exporting"
			resp.ActiveRun = &run
		}

		// Peek, never probe: a status poll must not spawn subprocesses.
		resp.Encoders = CapabilitiesToResponse(cfg.Detector.Peek(), cfg.HardwareDisabled)
		resp.System = systemSnapshot(r)

		WriteJSON(w, http.StatusOK, resp)
	}
}

func systemSnapshot(r *http.Request) *SystemResponse {
	sys := &SystemResponse{}

	// Zero interval compares against the previous sample instead of
	// blocking the request.
	if percents, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(percents) > 0 {
		sys.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(r.Context())
	if err != nil {
		return nil
	}
	sys.MemoryPercent = vm.UsedPercent
	return sys
}

func encodersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caps := cfg.Detector.Get(r.Context())
		WriteJSON(w, http.StatusOK, CapabilitiesToResponse(caps, cfg.HardwareDisabled))
	}
}
