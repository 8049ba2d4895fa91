package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/syncview/syncview-agent/internal/marker"
)

const maxCueNameLen = 60

// FormatJobID numbers jobs within a single expansion, job_0000 first.
func FormatJobID(seq int) string {
	return fmt.Sprintf("job_%04d", seq)
}

// ClipFileName names an exported clip after its slot and window, as in
// "Clip 2 1:05->1:25.mp4". Slots are 1-based in file names and minutes
// are total minutes, not wrapped at the hour.
func ClipFileName(slot int, startMs, endMs int64) string {
	startMin := startMs / 1000 / 60
	startSec := startMs / 1000 % 60
	endMin := endMs / 1000 / 60
	endSec := endMs / 1000 % 60
	return fmt.Sprintf("Clip %d %d:%02d->%d:%02d.mp4", slot+1, startMin, startSec, endMin, endSec)
}

// RunDirName names the per-run folder created under the export root.
func RunDirName(now time.Time) string {
	return fmt.Sprintf("Export %02d.%02d:%02d:%02d", now.Day(), now.Hour(), now.Minute(), now.Second())
}

// CueName labels an EDL event after the marker it came from: the
// description when set, the category otherwise, the marker ID as a
// last resort.
func CueName(m *marker.Marker) string {
	name := SanitizeName(m.Description, maxCueNameLen)
	if name == "" {
		name = SanitizeName(m.Category, maxCueNameLen)
	}
	if name == "" {
		name = m.ID
	}
	return name
}

// SanitizeName strips control characters and replaces anything outside
// the allowed set with underscores, trimming to maxLen runes.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}

// ValidateOutputDir rejects export roots that are missing, not
// directories, or contain path traversal.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("output_dir is required")
	}

	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("output_dir cannot contain path traversal")
		}
	}

	cleaned := filepath.Clean(dir)
	if cleaned != dir {
		return fmt.Errorf("output_dir must be clean path")
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("output_dir does not exist")
		}
		return fmt.Errorf("invalid output_dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output_dir is not a directory")
	}

	return nil
}
