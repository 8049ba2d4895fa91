package marker

import (
	"crypto/rand"
	"fmt"
	"time"
)

// NumSlots is the fixed number of synchronized video feeds in a review
// session. Marker scoping, workspace slots, and export expansion all share
// this bound.
const NumSlots = 4

// State tags a marker as live or soft-deleted. Deleted markers stay in
// storage and are excluded by default at the query boundary.
type State string

const (
	StateLive    State = "live"
	StateDeleted State = "deleted"
)

const (
	DefaultColor    = "#3498db"
	DefaultCategory = "default"
)

// DefaultColors maps palette names to the hex tags offered by the review UI.
var DefaultColors = map[string]string{
	"red":    "#e74c3c",
	"yellow": "#f39c12",
	"green":  "#2ecc71",
	"blue":   "#3498db",
	"purple": "#9b59b6",
	"orange": "#e67e22",
	"cyan":   "#1abc9c",
	"pink":   "#e91e63",
}

// DefaultCategories are the category tags offered by the review UI.
var DefaultCategories = []string{
	"default",
	"action",
	"event",
	"note",
	"highlight",
	"review",
}

// Marker is one timestamped annotation on one or all video feeds.
// A nil VideoIndex means the marker applies to every loaded slot.
type Marker struct {
	ID          string     `json:"id"`
	Timestamp   int64      `json:"timestamp"`
	Color       string     `json:"color"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	VideoIndex  *int       `json:"video_index"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	State       State      `json:"-"`
}

// Validate reports contract violations: a negative timestamp or a video
// scope outside the slot range. These are caller bugs, not runtime
// conditions, so they surface as errors rather than absorbed failures.
func (m *Marker) Validate() error {
	if m.Timestamp < 0 {
		return fmt.Errorf("marker timestamp must be non-negative, got %d", m.Timestamp)
	}
	if m.VideoIndex != nil && (*m.VideoIndex < 0 || *m.VideoIndex >= NumSlots) {
		return fmt.Errorf("marker video index %d out of range [0,%d)", *m.VideoIndex, NumSlots)
	}
	return nil
}

// AppliesTo reports whether the marker is in scope for the given slot.
func (m *Marker) AppliesTo(slot int) bool {
	return m.VideoIndex == nil || *m.VideoIndex == slot
}

// Clone returns a copy of the marker with its pointer fields duplicated,
// so edits to the copy never reach the original.
func (m *Marker) Clone() *Marker {
	c := *m
	if m.VideoIndex != nil {
		v := *m.VideoIndex
		c.VideoIndex = &v
	}
	if m.UpdatedAt != nil {
		t := *m.UpdatedAt
		c.UpdatedAt = &t
	}
	return &c
}

// Update is a partial update applied to a stored marker. Nil fields are
// left unchanged. VideoIndex uses a double pointer so "set scope to all
// slots" (inner nil) is distinct from "leave scope alone" (outer nil).
type Update struct {
	Timestamp   *int64
	Color       *string
	Description *string
	Category    *string
	VideoIndex  **int
}

// Apply mutates m in place and stamps UpdatedAt. It reports whether any
// field actually changed.
func (u Update) Apply(m *Marker, now time.Time) bool {
	changed := false
	if u.Timestamp != nil && *u.Timestamp != m.Timestamp {
		m.Timestamp = *u.Timestamp
		changed = true
	}
	if u.Color != nil && *u.Color != m.Color {
		m.Color = *u.Color
		changed = true
	}
	if u.Description != nil && *u.Description != m.Description {
		m.Description = *u.Description
		changed = true
	}
	if u.Category != nil && *u.Category != m.Category {
		m.Category = *u.Category
		changed = true
	}
	if u.VideoIndex != nil {
		old := m.VideoIndex
		next := *u.VideoIndex
		if (old == nil) != (next == nil) || (old != nil && next != nil && *old != *next) {
			m.VideoIndex = next
			changed = true
		}
	}
	if changed {
		t := now
		m.UpdatedAt = &t
	}
	return changed
}

// Validate checks the fields the update would write.
func (u Update) Validate() error {
	if u.Timestamp != nil && *u.Timestamp < 0 {
		return fmt.Errorf("marker timestamp must be non-negative, got %d", *u.Timestamp)
	}
	if u.VideoIndex != nil && *u.VideoIndex != nil {
		if idx := **u.VideoIndex; idx < 0 || idx >= NumSlots {
			return fmt.Errorf("marker video index %d out of range [0,%d)", idx, NumSlots)
		}
	}
	return nil
}

// Stats summarizes the live marker population.
type Stats struct {
	Total      int            `json:"total"`
	Deleted    int            `json:"deleted"`
	ByCategory map[string]int `json:"by_category"`
	ByColor    map[string]int `json:"by_color"`
	FirstMs    int64          `json:"first_ms"`
	LastMs     int64          `json:"last_ms"`
}

// NewMarkerID builds a marker identifier from the annotation timestamp and
// the current wall clock, unique enough for a single review session.
func NewMarkerID(timestampMs int64) string {
	return fmt.Sprintf("marker_%d_%d", timestampMs, time.Now().UnixMicro())
}

// NewID returns a random 128-bit identifier in UUID-like formatting.
func NewID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}
