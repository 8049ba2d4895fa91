package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/syncview/syncview-agent/internal/marker"
)

// Cue is one EDL event: a marker window on a single source file.
type Cue struct {
	Name      string
	MediaPath string
	StartMs   int64
	EndMs     int64
}

// MarkerCues builds the cue list for one video slot. Markers that do
// not apply to the slot are skipped; windows are floored at zero, same
// as clip export.
func MarkerCues(markers []*marker.Marker, slot int, mediaPath string, beforeMs, afterMs int64) []Cue {
	cues := make([]Cue, 0, len(markers))
	for _, m := range markers {
		if !m.AppliesTo(slot) {
			continue
		}
		start := m.Timestamp - beforeMs
		if start < 0 {
			start = 0
		}
		cues = append(cues, Cue{
			Name:      CueName(m),
			MediaPath: mediaPath,
			StartMs:   start,
			EndMs:     m.Timestamp + afterMs,
		})
	}
	return cues
}

func GenerateEDL(cues []Cue, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	var recordOffsetMs int64
	for i, cue := range cues {
		srcIn := msToTimecode(cue.StartMs, fps)
		srcOut := msToTimecode(cue.EndMs, fps)
		recIn := msToTimecode(recordOffsetMs, fps)
		durationMs := cue.EndMs - cue.StartMs
		recOut := msToTimecode(recordOffsetMs+durationMs, fps)

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V", srcIn, srcOut, recIn, recOut),
			fmt.Sprintf("* FROM CLIP NAME:  %s", cue.Name),
			fmt.Sprintf("* MEDIA PATH:  %s", cue.MediaPath),
		)

		recordOffsetMs += durationMs
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func msToTimecode(ms int64, fps int) string {
	totalFrames := int64(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % int64(fps)
	totalSeconds := totalFrames / int64(fps)
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
