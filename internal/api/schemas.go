package api

import (
	"time"

	"github.com/syncview/syncview-agent/internal/encoder"
	"github.com/syncview/syncview-agent/internal/export"
	"github.com/syncview/syncview-agent/internal/marker"
	"github.com/syncview/syncview-agent/internal/workspace"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State        string            `json:"state"`
	MarkerCount  int               `json:"marker_count"`
	SlotsLoaded  int               `json:"slots_loaded"`
	QueuePending int               `json:"queue_pending"`
	QueueFailed  int               `json:"queue_failed"`
	ActiveRun    *export.RunStatus `json:"active_run,omitempty"`
	Encoders     *EncodersResponse `json:"encoders,omitempty"`
	System       *SystemResponse   `json:"system,omitempty"`
}

type SystemResponse struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

type EncodersResponse struct {
	Encoders []string `json:"encoders"`
	Best     string   `json:"best"`
	ProbedAt string   `json:"probed_at,omitempty"`
}

// Markers keep their storage JSON shape on the wire; list endpoints
// wrap them in an envelope with the count.
type MarkersResponse struct {
	Markers []*marker.Marker `json:"markers"`
	Count   int              `json:"count"`
}

type CreateMarkerRequest struct {
	Timestamp   *int64 `json:"timestamp"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	VideoIndex  *int   `json:"video_index,omitempty"`
}

// UpdateMarkerRequest carries only the fields to change. VideoIndex
// and ClearVideoIndex are mutually exclusive; the latter widens the
// marker back to every slot.
type UpdateMarkerRequest struct {
	Timestamp       *int64  `json:"timestamp,omitempty"`
	Color           *string `json:"color,omitempty"`
	Description     *string `json:"description,omitempty"`
	Category        *string `json:"category,omitempty"`
	VideoIndex      *int    `json:"video_index,omitempty"`
	ClearVideoIndex bool    `json:"clear_video_index,omitempty"`
}

type PaletteResponse struct {
	Colors     map[string]string `json:"colors"`
	Categories []string          `json:"categories"`
}

type MarkerFileRequest struct {
	Path string `json:"path"`
}

type ImportMarkersResponse struct {
	Imported int `json:"imported"`
	Total    int `json:"total"`
}

type ExportMarkersResponse struct {
	Status string `json:"status"`
	Path   string `json:"path"`
	Count  int    `json:"count"`
}

type ExportEDLRequest struct {
	OutputDir string  `json:"output_dir"`
	Name      string  `json:"name,omitempty"`
	Slot      int     `json:"slot"`
	FrameRate float64 `json:"frame_rate,omitempty"`
	BeforeSec float64 `json:"before_sec"`
	AfterSec  float64 `json:"after_sec"`
}

type ExportEDLResponse struct {
	Status     string `json:"status"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
	ClipCount  int    `json:"clip_count"`
}

type SlotsResponse struct {
	Slots []workspace.Slot `json:"slots"`
}

type SetSlotRequest struct {
	Path string `json:"path"`
}

type SyncResponse struct {
	Offsets          []int64 `json:"offsets"`
	Master           int     `json:"master"`
	DriftToleranceMs int64   `json:"drift_tolerance_ms"`
}

type SetOffsetRequest struct {
	OffsetMs *int64 `json:"offset_ms"`
}

type ValidateExportRequest struct {
	BeforeSec float64 `json:"before_sec"`
	AfterSec  float64 `json:"after_sec"`
}

type ValidateExportResponse struct {
	Issues []workspace.WindowIssue `json:"issues"`
	Count  int                     `json:"count"`
}

type StartExportRequest struct {
	BeforeSec       float64 `json:"before_sec"`
	AfterSec        float64 `json:"after_sec"`
	OutputDir       string  `json:"output_dir,omitempty"`
	Encoder         string  `json:"encoder,omitempty"`
	Quality         string  `json:"quality,omitempty"`
	Workers         int     `json:"workers,omitempty"`
	DisableHardware bool    `json:"disable_hardware,omitempty"`
}

type RetryExportRequest struct {
	Encoder         string `json:"encoder,omitempty"`
	Quality         string `json:"quality,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	DisableHardware bool   `json:"disable_hardware,omitempty"`
}

type ActiveRunResponse struct {
	Active bool              `json:"active"`
	Run    *export.RunStatus `json:"run,omitempty"`
}

type CancelResponse struct {
	Status string `json:"status"`
}

type QueueResponse struct {
	Jobs    []*export.Job `json:"jobs"`
	Total   int           `json:"total"`
	Pending int           `json:"pending"`
	Failed  int           `json:"failed"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func CapabilitiesToResponse(caps *encoder.Capabilities, hardwareDisabled bool) *EncodersResponse {
	if caps == nil {
		return nil
	}
	resp := &EncodersResponse{
		Encoders: make([]string, len(caps.Encoders)),
		Best:     string(caps.SelectBest(hardwareDisabled)),
	}
	for i, enc := range caps.Encoders {
		resp.Encoders[i] = string(enc)
	}
	if !caps.ProbedAt.IsZero() {
		resp.ProbedAt = caps.ProbedAt.Format(time.RFC3339)
	}
	return resp
}

func secondsToMs(sec float64) int64 {
	return int64(sec * 1000)
}
