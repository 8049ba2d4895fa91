// Package config provides configuration management for the SyncView Agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort      = 8878
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
	DefaultDataDir   = ".syncview"

	// Environment variable names
	EnvPort      = "SYNCVIEW_PORT"
	EnvLogLevel  = "SYNCVIEW_LOG_LEVEL"
	EnvLogFormat = "SYNCVIEW_LOG_FORMAT"
	EnvDataDir   = "SYNCVIEW_DATA_DIR"

	// Encoder environment variable names
	EnvFFmpeg        = "SYNCVIEW_FFMPEG"
	EnvFFprobe       = "SYNCVIEW_FFPROBE"
	EnvDisableHWEnc  = "SYNCVIEW_DISABLE_HWENC"
	EnvExportWorkers = "SYNCVIEW_EXPORT_WORKERS"
	EnvExportDir     = "SYNCVIEW_EXPORT_DIR"
	EnvEncodeTimeout = "SYNCVIEW_ENCODE_TIMEOUT"

	// UI environment variable names
	EnvHeadless = "SYNCVIEW_HEADLESS"

	// Database filename
	DBFilename = "markers.db"

	// Queue filename
	QueueFilename = "export_queue.json"

	// Slot layout filename
	PathsFilename = "user_paths.json"

	// Encoder defaults
	DefaultEncodeTimeout = 300 // seconds, per clip invocation
	DefaultDetectTimeout = 5   // seconds, capability probe
	DefaultProbeTimeout  = 10  // seconds, per-file metadata probe
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFormat() string
	DataDir() string
	DBPath() string
	QueuePath() string
	PathsPath() string
	ExportDir() string
	FFmpegPath() string
	FFprobePath() string
	HardwareEncodingDisabled() bool
	ExportWorkers() int
	Headless() bool
	EncodeTimeout() time.Duration
	DetectTimeout() time.Duration
	ProbeTimeout() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port      int
	logLevel  string
	logFormat string
	dataDir   string

	ffmpegPath     string
	ffprobePath    string
	disableHWEnc   bool
	exportWorkers  int
	exportDir      string
	encodeTimeoutS int
	headless       bool
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:      DefaultPort,
		logLevel:  DefaultLogLevel,
		logFormat: DefaultLogFormat,
		dataDir:   defaultDataDir(),
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	// Override log level from environment
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	// Override log format from environment
	if lf := os.Getenv(EnvLogFormat); lf != "" {
		if lf != "json" && lf != "text" {
			return nil, fmt.Errorf("invalid %s: must be json or text", EnvLogFormat)
		}
		cfg.logFormat = lf
	}

	// Override data directory from environment
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.ffmpegPath = os.Getenv(EnvFFmpeg)
	cfg.ffprobePath = os.Getenv(EnvFFprobe)
	cfg.exportDir = os.Getenv(EnvExportDir)

	if v := os.Getenv(EnvDisableHWEnc); v != "" {
		dis, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvDisableHWEnc, err)
		}
		cfg.disableHWEnc = dis
	}

	if v := os.Getenv(EnvHeadless); v != "" {
		headless, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	if w := os.Getenv(EnvExportWorkers); w != "" {
		workers, err := strconv.Atoi(w)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvExportWorkers, err)
		}
		if workers < 1 {
			return nil, fmt.Errorf("invalid %s: must be at least 1", EnvExportWorkers)
		}
		cfg.exportWorkers = workers
	}

	if t := os.Getenv(EnvEncodeTimeout); t != "" {
		secs, err := strconv.Atoi(t)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvEncodeTimeout, err)
		}
		if secs < 1 {
			return nil, fmt.Errorf("invalid %s: must be at least 1 second", EnvEncodeTimeout)
		}
		cfg.encodeTimeoutS = secs
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// LogFormat returns the log output format (json or text)
func (c *EnvConfig) LogFormat() string {
	return c.logFormat
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// QueuePath returns the full path to the durable export queue file
func (c *EnvConfig) QueuePath() string {
	return filepath.Join(c.dataDir, QueueFilename)
}

// PathsPath returns the full path to the saved slot layout file
func (c *EnvConfig) PathsPath() string {
	return filepath.Join(c.dataDir, PathsFilename)
}

// ExportDir returns the base directory for export runs.
// Defaults to <data dir>/exports when unset.
func (c *EnvConfig) ExportDir() string {
	if c.exportDir != "" {
		return c.exportDir
	}
	return filepath.Join(c.dataDir, "exports")
}

// FFmpegPath returns an explicit ffmpeg binary path, or "" to use PATH lookup
func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

// FFprobePath returns an explicit ffprobe binary path, or "" to use PATH lookup
func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

// HardwareEncodingDisabled reports whether hardware encoders are forced off
func (c *EnvConfig) HardwareEncodingDisabled() bool {
	return c.disableHWEnc
}

// ExportWorkers returns the configured worker count, or 0 for automatic sizing
func (c *EnvConfig) ExportWorkers() int {
	return c.exportWorkers
}

// Headless reports whether the system tray should be skipped
func (c *EnvConfig) Headless() bool {
	return c.headless
}

// EncodeTimeout returns the wall-clock budget for one clip encode.
func (c *EnvConfig) EncodeTimeout() time.Duration {
	if c.encodeTimeoutS > 0 {
		return time.Duration(c.encodeTimeoutS) * time.Second
	}
	return time.Duration(DefaultEncodeTimeout) * time.Second
}

func (c *EnvConfig) DetectTimeout() time.Duration {
	return time.Duration(DefaultDetectTimeout) * time.Second
}

func (c *EnvConfig) ProbeTimeout() time.Duration {
	return time.Duration(DefaultProbeTimeout) * time.Second
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
