package export

import (
	"time"

	"github.com/syncview/syncview-agent/internal/encoder"
	"github.com/syncview/syncview-agent/internal/marker"
)

// Request describes one parallel export run.
type Request struct {
	Markers         []*marker.Marker
	Videos          map[int]string // loaded slot -> video path
	BeforeMs        int64
	AfterMs         int64
	OutputDir       string          // run folder is created inside
	Encoder         encoder.Encoder // empty selects the best available
	Quality         encoder.Quality // empty means medium
	Workers         int             // <= 0 sizes the pool from CPU count
	DisableHardware bool
}

// RetryOptions tunes a retry run over jobs already in the queue.
type RetryOptions struct {
	Encoder         encoder.Encoder
	Quality         encoder.Quality
	Workers         int
	DisableHardware bool
}

// RunSummary is the terminal report of an export run.
type RunSummary struct {
	RunID      string          `json:"run_id"`
	OutputDir  string          `json:"output_dir"`
	Encoder    encoder.Encoder `json:"encoder"`
	Total      int             `json:"total"`
	Completed  int             `json:"completed"`
	Failed     int             `json:"failed"`
	Cancelled  int             `json:"cancelled"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMs int64           `json:"duration_ms"`
}

// RunStatus is a point-in-time snapshot of the active run.
type RunStatus struct {
	RunID     string          `json:"run_id"`
	OutputDir string          `json:"output_dir"`
	Encoder   encoder.Encoder `json:"encoder"`
	Total     int             `json:"total"`
	Done      int             `json:"done"`
	Completed int             `json:"completed"`
	Failed    int             `json:"failed"`
	StartedAt time.Time       `json:"started_at"`
}
