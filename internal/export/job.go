package export

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/syncview/syncview-agent/internal/marker"
)

// DefaultMaxRetries is how many times a failed clip encode is retried
// before its job is marked failed.
const DefaultMaxRetries = 3

// JobStatus tracks a job through the export state machine.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusInProgress JobStatus = "in_progress"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusRetrying   JobStatus = "retrying"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further work will happen for a job in
// this status.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Job is one clip encode: a single marker window cut from a single
// video slot.
type Job struct {
	ID          string     `json:"job_id"`
	VideoPath   string     `json:"video_path"`
	VideoIndex  int        `json:"video_index"`
	MarkerIndex int        `json:"marker_index"`
	MarkerTs    int64      `json:"marker_timestamp"`
	StartMs     int64      `json:"start_ms"`
	EndMs       int64      `json:"end_ms"`
	OutputPath  string     `json:"output_path"`
	Status      JobStatus  `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	Error       string     `json:"error_message,omitempty"`
	Progress    float64    `json:"progress"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (j *Job) clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// JobUpdate is a partial update applied to a queued job. Nil fields
// leave the current value untouched.
type JobUpdate struct {
	Status      *JobStatus
	RetryCount  *int
	Error       *string
	Progress    *float64
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func (u JobUpdate) apply(j *Job) {
	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.RetryCount != nil {
		j.RetryCount = *u.RetryCount
	}
	if u.Error != nil {
		j.Error = *u.Error
	}
	if u.Progress != nil {
		j.Progress = *u.Progress
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		j.StartedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		j.CompletedAt = &t
	}
}

// ExpandParams describes one export request before it is broken into
// per-clip jobs.
type ExpandParams struct {
	Markers    []*marker.Marker
	Videos     map[int]string // loaded slot -> video path
	BeforeMs   int64
	AfterMs    int64
	OutputDir  string
	MaxRetries int // <= 0 uses DefaultMaxRetries
}

// ExpandJobs breaks markers into one pending job per (marker, loaded
// slot) pair. Markers bound to a slot produce a single job; markers
// that apply to all slots fan out to every loaded slot. The clip
// window is [timestamp-before, timestamp+after], floored at zero and
// never clamped to the video duration.
func ExpandJobs(p ExpandParams) []*Job {
	slots := make([]int, 0, len(p.Videos))
	for idx := range p.Videos {
		slots = append(slots, idx)
	}
	sort.Ints(slots)

	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var jobs []*Job
	seq := 0
	for mi, m := range p.Markers {
		for _, slot := range slots {
			if !m.AppliesTo(slot) {
				continue
			}

			startMs := m.Timestamp - p.BeforeMs
			if startMs < 0 {
				startMs = 0
			}
			endMs := m.Timestamp + p.AfterMs

			jobs = append(jobs, &Job{
				ID:          FormatJobID(seq),
				VideoPath:   p.Videos[slot],
				VideoIndex:  slot,
				MarkerIndex: mi,
				MarkerTs:    m.Timestamp,
				StartMs:     startMs,
				EndMs:       endMs,
				OutputPath:  filepath.Join(p.OutputDir, ClipFileName(slot, startMs, endMs)),
				Status:      StatusPending,
				MaxRetries:  maxRetries,
			})
			seq++
		}
	}
	return jobs
}
