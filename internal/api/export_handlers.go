package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/syncview/syncview-agent/internal/encoder"
	"github.com/syncview/syncview-agent/internal/export"
	"github.com/syncview/syncview-agent/internal/workspace"
)

func validateExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ValidateExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.BeforeSec < 0 || req.AfterSec < 0 || req.BeforeSec+req.AfterSec <= 0 {
			WriteError(w, http.StatusBadRequest, "export window must be positive", "BAD_REQUEST")
			return
		}

		issues := cfg.Workspace.CheckWindow(cfg.Markers.All(),
			secondsToMs(req.BeforeSec), secondsToMs(req.AfterSec))
		if issues == nil {
			issues = []workspace.WindowIssue{}
		}
		WriteJSON(w, http.StatusOK, ValidateExportResponse{Issues: issues, Count: len(issues)})
	}
}

func startExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.BeforeSec < 0 || req.AfterSec < 0 || req.BeforeSec+req.AfterSec <= 0 {
			WriteError(w, http.StatusBadRequest, "export window must be positive", "BAD_REQUEST")
			return
		}

		quality, ok := encoder.ParseQuality(req.Quality)
		if !ok {
			WriteError(w, http.StatusBadRequest, "unknown quality preset", "BAD_REQUEST")
			return
		}

		outputDir := req.OutputDir
		if outputDir == "" {
			outputDir = cfg.Workspace.LastExportDir()
		}
		if outputDir == "" {
			outputDir = cfg.ExportDir
		}
		if outputDir == "" {
			WriteError(w, http.StatusBadRequest, "output_dir is required", "BAD_REQUEST")
			return
		}

		status, err := cfg.Engine.Start(export.Request{
			Markers:         cfg.Markers.All(),
			Videos:          cfg.Workspace.LoadedPaths(),
			BeforeMs:        secondsToMs(req.BeforeSec),
			AfterMs:         secondsToMs(req.AfterSec),
			OutputDir:       outputDir,
			Encoder:         encoder.Encoder(req.Encoder),
			Quality:         quality,
			Workers:         req.Workers,
			DisableHardware: req.DisableHardware || cfg.HardwareDisabled,
		})
		if err != nil {
			if errors.Is(err, export.ErrRunActive) {
				WriteError(w, http.StatusConflict, err.Error(), "RUN_ACTIVE")
				return
			}
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		cfg.Workspace.SetLastExportDir(outputDir)
		WriteJSON(w, http.StatusAccepted, status)
	}
}

func activeExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, active := cfg.Engine.Active()
		resp := ActiveRunResponse{Active: active}
		if active {
			resp.Run = &run
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func cancelExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.Engine.Cancel() {
			WriteError(w, http.StatusConflict, "no active export run", "NO_ACTIVE_RUN")
			return
		}
		WriteJSON(w, http.StatusAccepted, CancelResponse{Status: "cancelling"})
	}
}

func exportQueueHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs := cfg.Queue.Jobs()
		if jobs == nil {
			jobs = []*export.Job{}
		}
		WriteJSON(w, http.StatusOK, QueueResponse{
			Jobs:    jobs,
			Total:   len(jobs),
			Pending: len(cfg.Queue.Pending()),
			Failed:  len(cfg.Queue.Failed()),
		})
	}
}

func resumeFailedHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RetryExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		quality, ok := encoder.ParseQuality(req.Quality)
		if !ok {
			WriteError(w, http.StatusBadRequest, "unknown quality preset", "BAD_REQUEST")
			return
		}

		status, err := cfg.Engine.StartPending(export.RetryOptions{
			Encoder:         encoder.Encoder(req.Encoder),
			Quality:         quality,
			Workers:         req.Workers,
			DisableHardware: req.DisableHardware || cfg.HardwareDisabled,
		})
		if err != nil {
			if errors.Is(err, export.ErrRunActive) {
				WriteError(w, http.StatusConflict, err.Error(), "RUN_ACTIVE")
				return
			}
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusAccepted, status)
	}
}

func clearQueueHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, active := cfg.Engine.Active(); active {
			WriteError(w, http.StatusConflict, "cannot clear the queue while a run is active", "RUN_ACTIVE")
			return
		}
		cfg.Queue.Clear()
		w.WriteHeader(http.StatusNoContent)
	}
}
