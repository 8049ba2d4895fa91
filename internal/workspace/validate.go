package workspace

import (
	"github.com/syncview/syncview-agent/internal/marker"
)

// WindowProblem classifies why an export window does not fit inside a
// video.
type WindowProblem string

const (
	ProblemBefore WindowProblem = "insufficient_before"
	ProblemAfter  WindowProblem = "insufficient_after"
	ProblemBoth   WindowProblem = "insufficient_both"
)

// WindowIssue reports one (marker, slot) pair whose requested window
// runs past an edge of the video.
type WindowIssue struct {
	MarkerID          string        `json:"marker_id"`
	TimestampMs       int64         `json:"timestamp_ms"`
	Slot              int           `json:"slot"`
	Problem           WindowProblem `json:"problem"`
	AvailableBeforeMs int64         `json:"available_before_ms"`
	AvailableAfterMs  int64         `json:"available_after_ms"`
	RequiredBeforeMs  int64         `json:"required_before_ms"`
	RequiredAfterMs   int64         `json:"required_after_ms"`
}

// CheckWindow tests every (marker, loaded slot) pair against the
// requested export window and returns the pairs that do not fit.
// Available time before a marker is its timestamp; available time
// after is the slot duration minus the timestamp. Slots with unknown
// duration are only checked on the before side. Export itself never
// clamps; these are advisory warnings for the caller.
func (m *Manager) CheckWindow(markers []*marker.Marker, beforeMs, afterMs int64) []WindowIssue {
	slots := m.Slots()

	var issues []WindowIssue
	for _, mk := range markers {
		for _, slot := range slots {
			if !slot.Loaded || !mk.AppliesTo(slot.Index) {
				continue
			}

			availBefore := mk.Timestamp
			var availAfter int64
			if slot.DurationMs > 0 {
				availAfter = slot.DurationMs - mk.Timestamp
			}

			beforeShort := availBefore < beforeMs
			afterShort := slot.DurationMs > 0 && availAfter < afterMs
			if !beforeShort && !afterShort {
				continue
			}

			problem := ProblemBefore
			switch {
			case beforeShort && afterShort:
				problem = ProblemBoth
			case afterShort:
				problem = ProblemAfter
			}

			issues = append(issues, WindowIssue{
				MarkerID:          mk.ID,
				TimestampMs:       mk.Timestamp,
				Slot:              slot.Index,
				Problem:           problem,
				AvailableBeforeMs: availBefore,
				AvailableAfterMs:  availAfter,
				RequiredBeforeMs:  beforeMs,
				RequiredAfterMs:   afterMs,
			})
		}
	}
	return issues
}
