package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/syncview/syncview-agent/internal/encoder"
	"github.com/syncview/syncview-agent/internal/logging"
	"github.com/syncview/syncview-agent/internal/marker"
)

var ErrInvalidSlot = errors.New("slot index out of range")

// Prober reads stream metadata for a video file.
type Prober interface {
	Probe(ctx context.Context, videoPath string) (*encoder.VideoInfo, error)
}

// Slot is the public snapshot of one video position.
type Slot struct {
	Index      int     `json:"index"`
	Path       string  `json:"path,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	Codec      string  `json:"codec,omitempty"`
	OffsetMs   int64   `json:"offset_ms"`
	Missing    bool    `json:"missing,omitempty"`
	Loaded     bool    `json:"loaded"`
}

type slotState struct {
	path     string
	info     encoder.VideoInfo
	offsetMs int64
	missing  bool
}

func (s *slotState) loaded() bool { return s.path != "" && !s.missing }

// pathsFile mirrors user_paths.json: a fixed four-entry array with
// null for empty slots.
type pathsFile struct {
	VideoPaths    []*string `json:"video_paths"`
	LastExportDir *string   `json:"last_export_dir"`
}

// Manager owns the four video slots, their probed metadata, and the
// sync offsets between them. Slot paths persist to user_paths.json so
// a restart restores the last session.
type Manager struct {
	prober    Prober
	pathsPath string
	logger    *slog.Logger

	mu             sync.Mutex
	slots          [marker.NumSlots]slotState
	lastExportDir  string
	masterIndex    int
	driftTolerance int64
}

// NewManager creates an empty workspace. Call Load to restore the
// previous session.
func NewManager(prober Prober, pathsPath string, logger *slog.Logger) *Manager {
	return &Manager{
		prober:         prober,
		pathsPath:      pathsPath,
		logger:         logging.WithComponent(logger, "workspace"),
		driftTolerance: DefaultDriftTolerance,
	}
}

// Load restores slot paths from user_paths.json, probing each file and
// pruning entries whose files have vanished. Failures are logged and
// absorbed; the workspace always comes up.
func (m *Manager) Load(ctx context.Context) {
	data, err := os.ReadFile(m.pathsPath)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("failed to read user paths, starting empty", "path", m.pathsPath, "error", err)
		}
		return
	}

	var file pathsFile
	if err := json.Unmarshal(data, &file); err != nil {
		m.logger.Warn("user paths file is corrupt, starting empty", "path", m.pathsPath, "error", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := false
	for i, p := range file.VideoPaths {
		if i >= marker.NumSlots {
			break
		}
		if p == nil || *p == "" {
			continue
		}

		info, err := m.probeFile(ctx, *p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				m.logger.Info("pruned vanished slot file", "slot", i, "path", *p)
				pruned = true
				continue
			}
			// The file exists but ffprobe cannot read it yet. Keep the
			// slot; export will surface the real error.
			m.logger.Warn("failed to probe restored slot", "slot", i, "path", *p, "error", err)
			m.slots[i] = slotState{path: *p}
			continue
		}

		m.slots[i] = slotState{path: *p, info: *info}
		m.logger.Info("slot restored", "slot", i, "path", *p, "duration_ms", info.DurationMs)
	}

	if file.LastExportDir != nil {
		m.lastExportDir = *file.LastExportDir
	}
	if pruned {
		m.savePathsLocked()
	}
}

// SetSlot loads a video into a slot, probing its metadata. The slot is
// left unchanged when the file is missing or unreadable.
func (m *Manager) SetSlot(ctx context.Context, index int, path string) (Slot, error) {
	if index < 0 || index >= marker.NumSlots {
		return Slot{}, fmt.Errorf("%w: %d", ErrInvalidSlot, index)
	}

	info, err := m.probeFile(ctx, path)
	if err != nil {
		return Slot{}, fmt.Errorf("failed to load video: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[index] = slotState{path: path, info: *info, offsetMs: m.slots[index].offsetMs}
	m.savePathsLocked()
	m.logger.Info("slot loaded", "slot", index, "path", path, "duration_ms", info.DurationMs)
	return m.snapshotLocked(index), nil
}

// ClearSlot unloads a slot, keeping its sync offset.
func (m *Manager) ClearSlot(index int) error {
	if index < 0 || index >= marker.NumSlots {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, index)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slots[index].path == "" {
		return nil
	}
	m.slots[index] = slotState{offsetMs: m.slots[index].offsetMs}
	m.savePathsLocked()
	m.logger.Info("slot cleared", "slot", index)
	return nil
}

// Slots returns a snapshot of all four slots, loaded or not.
func (m *Manager) Slots() []Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Slot, marker.NumSlots)
	for i := range m.slots {
		out[i] = m.snapshotLocked(i)
	}
	return out
}

// LoadedPath returns the file behind a slot when it is loaded and its
// file is still present.
func (m *Manager) LoadedPath(index int) (string, bool) {
	if index < 0 || index >= marker.NumSlots {
		return "", false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.slots[index].loaded() {
		return "", false
	}
	return m.slots[index].path, true
}

// LoadedPaths returns the slot-to-path map consumed by job expansion.
// Slots flagged missing are excluded.
func (m *Manager) LoadedPaths() map[int]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]string)
	for i := range m.slots {
		if m.slots[i].loaded() {
			out[i] = m.slots[i].path
		}
	}
	return out
}

// SetPresent flags every slot holding path as present or missing,
// returning how many slots changed. The watcher drives this when slot
// files vanish or reappear.
func (m *Manager) SetPresent(path string, present bool) int {
	if path == "" {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := 0
	for i := range m.slots {
		if m.slots[i].path != path || m.slots[i].missing == !present {
			continue
		}
		m.slots[i].missing = !present
		changed++
		if present {
			m.logger.Info("slot file reappeared", "slot", i, "path", path)
		} else {
			m.logger.Warn("slot file vanished", "slot", i, "path", path)
		}
	}
	return changed
}

// SetLastExportDir remembers the export folder for the next session.
func (m *Manager) SetLastExportDir(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastExportDir = dir
	m.savePathsLocked()
}

// LastExportDir returns the remembered export folder, if any.
func (m *Manager) LastExportDir() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastExportDir
}

func (m *Manager) probeFile(ctx context.Context, path string) (*encoder.VideoInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return m.prober.Probe(ctx, path)
}

func (m *Manager) snapshotLocked(index int) Slot {
	s := m.slots[index]
	return Slot{
		Index:      index,
		Path:       s.path,
		DurationMs: s.info.DurationMs,
		Width:      s.info.Width,
		Height:     s.info.Height,
		FPS:        s.info.FPS,
		Codec:      s.info.Codec,
		OffsetMs:   s.offsetMs,
		Missing:    s.missing,
		Loaded:     s.loaded(),
	}
}

func (m *Manager) savePathsLocked() {
	file := pathsFile{VideoPaths: make([]*string, marker.NumSlots)}
	for i := range m.slots {
		if m.slots[i].path != "" {
			p := m.slots[i].path
			file.VideoPaths[i] = &p
		}
	}
	if m.lastExportDir != "" {
		d := m.lastExportDir
		file.LastExportDir = &d
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		m.logger.Error("failed to encode user paths", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.pathsPath), 0o755); err != nil {
		m.logger.Error("failed to create user paths directory", "path", m.pathsPath, "error", err)
		return
	}
	if err := os.WriteFile(m.pathsPath, data, 0o644); err != nil {
		m.logger.Error("failed to write user paths", "path", m.pathsPath, "error", err)
	}
}
