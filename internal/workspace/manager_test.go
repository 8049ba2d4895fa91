package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/syncview/syncview-agent/internal/encoder"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeVideo(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatalf("failed to write video stub: %v", err)
	}
	return path
}

func setupManager(t *testing.T) (*Manager, *fakeProber, string) {
	t.Helper()
	prober := newFakeProber()
	pathsPath := filepath.Join(t.TempDir(), "user_paths.json")
	return NewManager(prober, pathsPath, testLogger()), prober, pathsPath
}

func TestSetSlotProbesAndPersists(t *testing.T) {
	manager, prober, pathsPath := setupManager(t)
	video := writeVideo(t, t.TempDir(), "cam0.mp4")
	prober.durations[video] = 120000

	slot, err := manager.SetSlot(context.Background(), 1, video)
	if err != nil {
		t.Fatalf("SetSlot failed: %v", err)
	}
	if !slot.Loaded || slot.Path != video || slot.DurationMs != 120000 {
		t.Fatalf("slot = %+v", slot)
	}

	data, err := os.ReadFile(pathsPath)
	if err != nil {
		t.Fatalf("user paths not written: %v", err)
	}
	var file pathsFile
	if err := json.Unmarshal(data, &file); err != nil {
		t.Fatalf("user paths corrupt: %v", err)
	}
	if len(file.VideoPaths) != 4 {
		t.Fatalf("video_paths has %d entries, want 4", len(file.VideoPaths))
	}
	if file.VideoPaths[0] != nil || file.VideoPaths[1] == nil || *file.VideoPaths[1] != video {
		t.Fatalf("video_paths = %+v", file.VideoPaths)
	}
}

func TestSetSlotErrors(t *testing.T) {
	manager, prober, _ := setupManager(t)

	if _, err := manager.SetSlot(context.Background(), 4, "/nope.mp4"); !errors.Is(err, ErrInvalidSlot) {
		t.Fatalf("index 4 error = %v, want ErrInvalidSlot", err)
	}
	if _, err := manager.SetSlot(context.Background(), -1, "/nope.mp4"); !errors.Is(err, ErrInvalidSlot) {
		t.Fatalf("index -1 error = %v, want ErrInvalidSlot", err)
	}

	if _, err := manager.SetSlot(context.Background(), 0, filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Fatal("expected error for missing file")
	}

	video := writeVideo(t, t.TempDir(), "broken.mp4")
	prober.fail[video] = true
	if _, err := manager.SetSlot(context.Background(), 0, video); err == nil {
		t.Fatal("expected error for unprobeable file")
	}
	if _, ok := manager.LoadedPath(0); ok {
		t.Fatal("failed load should leave slot empty")
	}
}

func TestClearSlot(t *testing.T) {
	manager, prober, _ := setupManager(t)
	video := writeVideo(t, t.TempDir(), "cam0.mp4")
	prober.durations[video] = 60000

	if _, err := manager.SetSlot(context.Background(), 0, video); err != nil {
		t.Fatalf("SetSlot failed: %v", err)
	}
	if err := manager.SetOffset(0, 250); err != nil {
		t.Fatalf("SetOffset failed: %v", err)
	}

	if err := manager.ClearSlot(0); err != nil {
		t.Fatalf("ClearSlot failed: %v", err)
	}
	if _, ok := manager.LoadedPath(0); ok {
		t.Fatal("slot still loaded after clear")
	}
	if got := manager.Offset(0); got != 250 {
		t.Fatalf("offset lost on clear: %d", got)
	}

	if err := manager.ClearSlot(9); !errors.Is(err, ErrInvalidSlot) {
		t.Fatalf("ClearSlot(9) error = %v, want ErrInvalidSlot", err)
	}
}

func TestLoadRestoresAndPrunes(t *testing.T) {
	dir := t.TempDir()
	kept := writeVideo(t, dir, "kept.mp4")
	gone := filepath.Join(dir, "gone.mp4")

	pathsPath := filepath.Join(t.TempDir(), "user_paths.json")
	seed := pathsFile{VideoPaths: []*string{&kept, &gone, nil, nil}}
	data, _ := json.MarshalIndent(seed, "", "  ")
	if err := os.WriteFile(pathsPath, data, 0o644); err != nil {
		t.Fatalf("failed to seed user paths: %v", err)
	}

	prober := newFakeProber()
	prober.durations[kept] = 90000
	manager := NewManager(prober, pathsPath, testLogger())
	manager.Load(context.Background())

	paths := manager.LoadedPaths()
	if len(paths) != 1 || paths[0] != kept {
		t.Fatalf("LoadedPaths = %+v, want slot 0 only", paths)
	}
	slots := manager.Slots()
	if slots[0].DurationMs != 90000 {
		t.Fatalf("restored slot not probed: %+v", slots[0])
	}

	// The prune is persisted.
	raw, _ := os.ReadFile(pathsPath)
	var file pathsFile
	if err := json.Unmarshal(raw, &file); err != nil {
		t.Fatalf("user paths corrupt after prune: %v", err)
	}
	if file.VideoPaths[1] != nil {
		t.Fatalf("vanished path not pruned: %+v", file.VideoPaths)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	pathsPath := filepath.Join(t.TempDir(), "user_paths.json")
	if err := os.WriteFile(pathsPath, []byte("{bad"), 0o644); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}

	manager := NewManager(newFakeProber(), pathsPath, testLogger())
	manager.Load(context.Background())
	if len(manager.LoadedPaths()) != 0 {
		t.Fatal("corrupt file should load as empty workspace")
	}
}

func TestSetPresent(t *testing.T) {
	manager, prober, _ := setupManager(t)
	video := writeVideo(t, t.TempDir(), "cam0.mp4")
	prober.durations[video] = 60000

	if _, err := manager.SetSlot(context.Background(), 2, video); err != nil {
		t.Fatalf("SetSlot failed: %v", err)
	}

	if changed := manager.SetPresent(video, false); changed != 1 {
		t.Fatalf("SetPresent(false) changed %d slots, want 1", changed)
	}
	if _, ok := manager.LoadedPath(2); ok {
		t.Fatal("missing slot still reported loaded")
	}
	if len(manager.LoadedPaths()) != 0 {
		t.Fatal("missing slot still in LoadedPaths")
	}
	if !manager.Slots()[2].Missing {
		t.Fatal("snapshot not flagged missing")
	}

	// Flagging again is a no-op; reappearing restores the slot.
	if changed := manager.SetPresent(video, false); changed != 0 {
		t.Fatal("second SetPresent(false) should change nothing")
	}
	if changed := manager.SetPresent(video, true); changed != 1 {
		t.Fatal("SetPresent(true) should restore the slot")
	}
	if _, ok := manager.LoadedPath(2); !ok {
		t.Fatal("restored slot not loaded")
	}
}

func TestLastExportDirRoundTrip(t *testing.T) {
	manager, _, pathsPath := setupManager(t)
	manager.SetLastExportDir("/exports/match-01")

	reloaded := NewManager(newFakeProber(), pathsPath, testLogger())
	reloaded.Load(context.Background())
	if got := reloaded.LastExportDir(); got != "/exports/match-01" {
		t.Fatalf("LastExportDir = %q", got)
	}
}

// fakeProber maps paths to canned durations. Unknown paths probe fine
// with zero duration; paths in fail return an error.
type fakeProber struct {
	durations map[string]int64
	fail      map[string]bool
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		durations: make(map[string]int64),
		fail:      make(map[string]bool),
	}
}

func (p *fakeProber) Probe(_ context.Context, path string) (*encoder.VideoInfo, error) {
	if p.fail[path] {
		return nil, errors.New("ffprobe failed")
	}
	return &encoder.VideoInfo{
		DurationMs: p.durations[path],
		Width:      1920,
		Height:     1080,
		FPS:        30,
		Codec:      "h264",
	}, nil
}
