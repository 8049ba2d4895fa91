package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/syncview/syncview-agent/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
	maxErrorDetail = 500      // chars of stderr surfaced in job error messages
)

// Runner executes ffmpeg/ffprobe as subprocesses. It is the single
// implementation of the encoder execution contract used by the export
// engine and the status surface.
type Runner interface {
	// DetectEncoders probes `ffmpeg -encoders` for hardware support.
	DetectEncoders(ctx context.Context) (*Capabilities, error)

	// EncodeClip runs one clip encode and never returns an error: every
	// failure mode is normalized into the RunResult.
	EncodeClip(ctx context.Context, spec ClipSpec) RunResult

	// Probe reads stream metadata for one video file via ffprobe.
	Probe(ctx context.Context, videoPath string) (*VideoInfo, error)

	// Available reports whether the ffmpeg binary can be resolved.
	Available() bool
}

// Config holds the runner's configuration.
type Config struct {
	FFmpegPath    string        // explicit ffmpeg path; empty = PATH lookup
	FFprobePath   string        // explicit ffprobe path; empty = PATH lookup
	DetectTimeout time.Duration // timeout for the capability probe
	EncodeTimeout time.Duration // wall-clock bound per clip invocation
	ProbeTimeout  time.Duration // timeout for per-file metadata probes
	Logger        *slog.Logger
	DebugPaths    bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		DetectTimeout: 5 * time.Second,
		EncodeTimeout: 5 * time.Minute,
		ProbeTimeout:  10 * time.Second,
		Logger:        logger,
	}
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	cfg Config
}

// NewRunner creates a SubprocessRunner. Construction never fails: a host
// without ffmpeg still runs the agent, and the missing binary surfaces
// through Available and the engine's pre-flight check.
func NewRunner(cfg Config) *SubprocessRunner {
	r := &SubprocessRunner{cfg: cfg}

	if path, err := r.resolveFFmpeg(); err == nil {
		cfg.Logger.Info("encoder runner initialised", "ffmpeg", path)
	} else {
		cfg.Logger.Warn("ffmpeg not found, exports unavailable until installed", "error", err)
	}
	return r
}

func (r *SubprocessRunner) Available() bool {
	_, err := r.resolveFFmpeg()
	return err == nil
}

// DetectEncoders lists ffmpeg's compiled-in encoders and scans for the
// known hardware backends. The software encoder is always included.
func (r *SubprocessRunner) DetectEncoders(ctx context.Context) (*Capabilities, error) {
	ffmpeg, err := r.resolveFFmpeg()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.DetectTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpeg, "-hide_banner", "-encoders")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Discard

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("encoder probe timed out after %s", r.cfg.DetectTimeout)
		}
		return nil, fmt.Errorf("encoder probe failed: %w", err)
	}

	caps := parseEncoderList(stdout.String())

	r.cfg.Logger.Info("encoder probe complete",
		"encoders", caps.Encoders,
		"hardware", len(caps.Encoders) > 1,
	)
	return caps, nil
}

// parseEncoderList scans `-encoders` output for hardware backends.
func parseEncoderList(output string) *Capabilities {
	lower := strings.ToLower(output)
	caps := &Capabilities{ProbedAt: time.Now()}

	if strings.Contains(lower, string(EncoderNVENC)) || strings.Contains(lower, "nvenc") {
		caps.Encoders = append(caps.Encoders, EncoderNVENC)
	}
	if strings.Contains(lower, string(EncoderQSV)) || strings.Contains(lower, "qsv") {
		caps.Encoders = append(caps.Encoders, EncoderQSV)
	}
	if strings.Contains(lower, string(EncoderVideoToolbox)) || strings.Contains(lower, "videotoolbox") {
		caps.Encoders = append(caps.Encoders, EncoderVideoToolbox)
	}
	if strings.Contains(lower, string(EncoderVAAPI)) || strings.Contains(lower, "vaapi") {
		caps.Encoders = append(caps.Encoders, EncoderVAAPI)
	}

	caps.Encoders = append(caps.Encoders, EncoderSoftware)
	return caps
}

// BuildClipArgs constructs the ffmpeg argument list for one clip: seek,
// bounded duration, encoder-specific rate settings, aac audio.
func BuildClipArgs(spec ClipSpec) []string {
	startSec := float64(spec.StartMs) / 1000.0
	durationSec := float64(spec.EndMs-spec.StartMs) / 1000.0

	args := []string{
		"-y",
		"-ss", formatSeconds(startSec),
		"-i", spec.InputPath,
		"-t", formatSeconds(durationSec),
		"-c:v", string(spec.Encoder),
	}

	switch spec.Encoder {
	case EncoderNVENC:
		args = append(args, "-preset", "p4", "-b:v", "5M")
	case EncoderQSV:
		args = append(args, "-preset", "medium", "-b:v", "5M")
	case EncoderVideoToolbox, EncoderVAAPI:
		args = append(args, "-b:v", "5M")
	default:
		args = append(args, "-preset", string(spec.Quality), "-crf", "23")
	}

	args = append(args, "-c:a", "aac", "-b:a", "192k")
	args = append(args, spec.OutputPath)
	return args
}

// EncodeClip runs one encode invocation under the configured wall-clock
// bound. Non-zero exit, timeout, and spawn failure all land in the result.
func (r *SubprocessRunner) EncodeClip(ctx context.Context, spec ClipSpec) RunResult {
	start := time.Now()

	ffmpeg, err := r.resolveFFmpeg()
	if err != nil {
		return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
	}

	if err := os.MkdirAll(filepath.Dir(spec.OutputPath), 0755); err != nil {
		r.cfg.Logger.Error("cannot create clip output dir", "error", err)
		return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.EncodeTimeout)
	defer cancel()

	args := BuildClipArgs(spec)
	cmd := exec.CommandContext(ctx, ffmpeg, args...)

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = io.Discard

	r.cfg.Logger.Debug("executing encode",
		"encoder", spec.Encoder,
		"start_ms", spec.StartMs,
		"end_ms", spec.EndMs,
		"output", r.safePath(spec.OutputPath),
	)

	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := RunResult{
		StderrTail: stderrBuf.String(),
		Duration:   elapsed,
		TimedOut:   ctx.Err() == context.DeadlineExceeded,
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			if result.StderrTail == "" {
				result.StderrTail = runErr.Error()
			}
		}
	}

	if !result.IsSuccess() {
		r.cfg.Logger.Warn("encode failed",
			"exit_code", result.ExitCode,
			"timed_out", result.TimedOut,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", tail(result.StderrTail, maxErrorDetail),
		)
	} else {
		r.cfg.Logger.Debug("encode succeeded",
			"duration_ms", elapsed.Milliseconds(),
			"output", r.safePath(spec.OutputPath),
		)
	}
	return result
}

// ffprobe stream JSON for the fields the workspace needs.
type probeOutput struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe reads metadata for one video file.
func (r *SubprocessRunner) Probe(ctx context.Context, videoPath string) (*VideoInfo, error) {
	ffprobe, err := r.resolveFFprobe()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate,duration,width,height,codec_name",
		"-show_entries", "format=duration",
		"-of", "json",
		videoPath,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timed out for %s", r.safePath(videoPath))
		}
		return nil, fmt.Errorf("probe failed for %s: %s", r.safePath(videoPath),
			tail(stderrBuf.String(), maxErrorDetail))
	}

	info, err := parseProbeOutput(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("probe output for %s: %w", r.safePath(videoPath), err)
	}
	return info, nil
}

func parseProbeOutput(data []byte) (*VideoInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}
	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("no video stream found")
	}

	s := out.Streams[0]
	info := &VideoInfo{
		Width:  s.Width,
		Height: s.Height,
		Codec:  s.CodecName,
		FPS:    parseFrameRate(s.RFrameRate),
	}

	durationStr := s.Duration
	if durationStr == "" {
		durationStr = out.Format.Duration
	}
	if durationStr != "" {
		if sec, err := strconv.ParseFloat(durationStr, 64); err == nil {
			info.DurationMs = int64(sec * 1000)
		}
	}
	return info, nil
}

// parseFrameRate converts ffprobe's "num/den" rational into fps.
func parseFrameRate(rate string) float64 {
	num, den, ok := strings.Cut(rate, "/")
	if !ok {
		if v, err := strconv.ParseFloat(rate, 64); err == nil {
			return v
		}
		return 0
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func (r *SubprocessRunner) resolveFFmpeg() (string, error) {
	return resolveBinary(r.cfg.FFmpegPath, "ffmpeg")
}

func (r *SubprocessRunner) resolveFFprobe() (string, error) {
	return resolveBinary(r.cfg.FFprobePath, "ffprobe")
}

func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("no %s binary found on PATH", name)
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	return logging.SanitizePath(path)
}

// formatSeconds renders a seek/duration value without float artifacts.
func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func tail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
