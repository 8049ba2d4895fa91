package marker

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// FileVersion is the format tag written into marker JSON exports.
const FileVersion = "3.0"

// markerFile is the plain-text escape hatch for marker data. Decoding
// drops any legacy field unknown to the current Marker shape, so files
// written by older releases still import cleanly.
type markerFile struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Markers   []*Marker `json:"markers"`
}

// ExportJSON writes all live markers to path. Returns false on failure.
func (s *Store) ExportJSON(ctx context.Context, path string) bool {
	markers := s.LoadAll(ctx, false)

	file := markerFile{
		Version:   FileVersion,
		CreatedAt: time.Now(),
		Markers:   markers,
	}
	if file.Markers == nil {
		file.Markers = []*Marker{}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		s.logger.Error("failed to encode marker export", "error", err)
		return false
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.logger.Error("failed to write marker export", "path", path, "error", err)
		return false
	}

	s.logger.Info("exported markers", "path", path, "count", len(file.Markers))
	return true
}

// ImportJSON loads markers from path into the store. Markers with missing
// ids are assigned fresh ones; invalid records are skipped with a warning.
// Returns the number imported and whether the batch was persisted.
func (s *Store) ImportJSON(ctx context.Context, path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Error("failed to read marker file", "path", path, "error", err)
		return 0, false
	}

	var file markerFile
	if err := json.Unmarshal(data, &file); err != nil {
		s.logger.Error("failed to parse marker file", "path", path, "error", err)
		return 0, false
	}

	var markers []*Marker
	for _, m := range file.Markers {
		if err := m.Validate(); err != nil {
			s.logger.Warn("skipping invalid marker on import", "marker_id", m.ID, "error", err)
			continue
		}
		if m.ID == "" {
			m.ID = NewMarkerID(m.Timestamp)
		}
		if m.Color == "" {
			m.Color = DefaultColor
		}
		if m.Category == "" {
			m.Category = DefaultCategory
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		m.State = StateLive
		markers = append(markers, m)
	}

	if !s.SaveBatch(ctx, markers) {
		return 0, false
	}

	s.logger.Info("imported markers", "path", path, "count", len(markers))
	return len(markers), true
}

// ExportCSV writes all live markers to path as a spreadsheet-friendly
// table. Returns false on failure.
func (s *Store) ExportCSV(ctx context.Context, path string) bool {
	markers := s.LoadAll(ctx, false)

	f, err := os.Create(path)
	if err != nil {
		s.logger.Error("failed to create csv export", "path", path, "error", err)
		return false
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"Timestamp (ms)", "Time", "Category", "Color", "Description", "Created At"}
	if err := w.Write(header); err != nil {
		s.logger.Error("failed to write csv export", "path", path, "error", err)
		return false
	}

	for _, m := range markers {
		record := []string{
			strconv.FormatInt(m.Timestamp, 10),
			FormatTimestamp(m.Timestamp),
			m.Category,
			m.Color,
			m.Description,
			m.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			s.logger.Error("failed to write csv export", "path", path, "error", err)
			return false
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		s.logger.Error("failed to flush csv export", "path", path, "error", err)
		return false
	}

	s.logger.Info("exported markers csv", "path", path, "count", len(markers))
	return true
}

// FormatTimestamp renders a millisecond position as HH:MM:SS.mmm.
func FormatTimestamp(ms int64) string {
	totalSeconds := ms / 1000
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
}
