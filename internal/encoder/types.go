// Package encoder probes the host ffmpeg installation for hardware
// encoder support and runs the per-clip encode invocations used by the
// export engine, with structured result capture.
package encoder

import "time"

// Encoder names an H.264 encoder backend exposed by ffmpeg.
type Encoder string

const (
	// EncoderSoftware is the pure-software fallback, always usable when
	// ffmpeg itself is.
	EncoderSoftware     Encoder = "libx264"
	EncoderNVENC        Encoder = "h264_nvenc"
	EncoderQSV          Encoder = "h264_qsv"
	EncoderVideoToolbox Encoder = "h264_videotoolbox"
	EncoderVAAPI        Encoder = "h264_vaapi"
)

// preferenceOrder ranks encoders best-first for selection.
var preferenceOrder = []Encoder{
	EncoderNVENC,
	EncoderQSV,
	EncoderVideoToolbox,
	EncoderVAAPI,
	EncoderSoftware,
}

// Quality is the libx264 preset used for software encodes. Hardware
// encoders carry their own fixed rate settings.
type Quality string

const (
	QualityFastPreview Quality = "ultrafast"
	QualityMedium      Quality = "medium"
	QualityHigh        Quality = "slow"
	QualityBest        Quality = "veryslow"
)

// ParseQuality maps a caller-facing preset name onto a Quality. Unknown
// names report false.
func ParseQuality(name string) (Quality, bool) {
	switch name {
	case "fast", "fast_preview", "ultrafast":
		return QualityFastPreview, true
	case "", "medium":
		return QualityMedium, true
	case "high", "slow":
		return QualityHigh, true
	case "best", "veryslow":
		return QualityBest, true
	}
	return QualityMedium, false
}

// Capabilities is the outcome of one hardware probe.
type Capabilities struct {
	Encoders []Encoder `json:"encoders"`
	ProbedAt time.Time `json:"probed_at"`
}

// SoftwareOnly returns the guaranteed-fallback capability set.
func SoftwareOnly() *Capabilities {
	return &Capabilities{Encoders: []Encoder{EncoderSoftware}, ProbedAt: time.Now()}
}

// Has reports whether e was found by the probe.
func (c *Capabilities) Has(e Encoder) bool {
	for _, enc := range c.Encoders {
		if enc == e {
			return true
		}
	}
	return false
}

// SelectBest returns the first available encoder in preference order, or
// the software fallback when hardware is disabled by configuration.
func (c *Capabilities) SelectBest(hardwareDisabled bool) Encoder {
	if hardwareDisabled {
		return EncoderSoftware
	}
	for _, e := range preferenceOrder {
		if c.Has(e) {
			return e
		}
	}
	return EncoderSoftware
}

// ClipSpec describes one encode invocation: seek to StartMs in InputPath,
// write EndMs-StartMs worth of output to OutputPath.
type ClipSpec struct {
	InputPath  string
	OutputPath string
	StartMs    int64
	EndMs      int64
	Encoder    Encoder
	Quality    Quality
}

// RunResult is the structured outcome of one encoder subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
	TimedOut   bool          `json:"timed_out,omitempty"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// ErrorDetail normalizes a failed result into a single diagnostic line.
func (r RunResult) ErrorDetail() string {
	if r.IsSuccess() {
		return ""
	}
	if r.TimedOut {
		return "encode timeout exceeded"
	}
	if r.StderrTail != "" {
		return "ffmpeg error: " + tail(r.StderrTail, maxErrorDetail)
	}
	return "ffmpeg exited with unknown error"
}

// VideoInfo is the probed metadata of one source file.
type VideoInfo struct {
	DurationMs int64   `json:"duration_ms"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	Codec      string  `json:"codec"`
}
