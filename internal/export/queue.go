package export

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/syncview/syncview-agent/internal/logging"
)

const queueFileVersion = "3.0"

type queueFile struct {
	Version   string  `json:"version"`
	Timestamp float64 `json:"timestamp"`
	Jobs      []*Job  `json:"jobs"`
}

// Queue is the persistent export queue. Every mutation is written
// through to disk so an interrupted export survives a restart; persist
// failures are logged and absorbed. Jobs keep their insertion order.
type Queue struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	order []string
	jobs  map[string]*Job
}

// NewQueue loads the queue stored at path, starting empty when the
// file is missing or unreadable.
func NewQueue(path string, logger *slog.Logger) *Queue {
	q := &Queue{
		path:   path,
		logger: logging.WithComponent(logger, "export_queue"),
		jobs:   make(map[string]*Job),
	}
	q.load()
	return q
}

func (q *Queue) load() {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if !os.IsNotExist(err) {
			q.logger.Warn("failed to read export queue, starting empty", "path", q.path, "error", err)
		}
		return
	}

	var file queueFile
	if err := json.Unmarshal(data, &file); err != nil {
		q.logger.Warn("export queue file is corrupt, starting empty", "path", q.path, "error", err)
		return
	}

	for _, job := range file.Jobs {
		if job == nil || job.ID == "" {
			continue
		}
		if _, ok := q.jobs[job.ID]; !ok {
			q.order = append(q.order, job.ID)
		}
		q.jobs[job.ID] = job
	}
	if len(q.jobs) > 0 {
		q.logger.Info("export queue restored", "jobs", len(q.jobs))
	}
}

// Add upserts jobs and persists the queue once.
func (q *Queue) Add(jobs ...*Job) {
	if len(jobs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range jobs {
		if _, ok := q.jobs[job.ID]; !ok {
			q.order = append(q.order, job.ID)
		}
		q.jobs[job.ID] = job.clone()
	}
	q.persistLocked()
}

// Get returns a copy of one job, or nil when it is not queued.
func (q *Queue) Get(id string) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil
	}
	return job.clone()
}

// Jobs returns copies of every queued job in insertion order.
func (q *Queue) Jobs() []*Job {
	return q.filter(func(*Job) bool { return true })
}

// Pending returns jobs still waiting to run, retries included.
func (q *Queue) Pending() []*Job {
	return q.filter(func(j *Job) bool {
		return j.Status == StatusPending || j.Status == StatusRetrying
	})
}

// Failed returns jobs whose retries are exhausted.
func (q *Queue) Failed() []*Job {
	return q.filter(func(j *Job) bool { return j.Status == StatusFailed })
}

func (q *Queue) filter(keep func(*Job) bool) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Job
	for _, id := range q.order {
		if job := q.jobs[id]; keep(job) {
			out = append(out, job.clone())
		}
	}
	return out
}

// Update applies a partial update to one job and persists. It reports
// whether the job exists.
func (q *Queue) Update(id string, u JobUpdate) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return false
	}
	u.apply(job)
	q.persistLocked()
	return true
}

// RemoveCompleted drops completed jobs, returning how many were
// removed.
func (q *Queue) RemoveCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := make([]string, 0, len(q.order))
	removed := 0
	for _, id := range q.order {
		if q.jobs[id].Status == StatusCompleted {
			delete(q.jobs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
	if removed > 0 {
		q.persistLocked()
	}
	return removed
}

// ResumeFailed moves failed jobs back to pending with a fresh retry
// budget, returning how many were reset.
func (q *Queue) ResumeFailed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	reset := 0
	for _, id := range q.order {
		job := q.jobs[id]
		if job.Status != StatusFailed {
			continue
		}
		job.Status = StatusPending
		job.RetryCount = 0
		job.Error = ""
		job.Progress = 0
		job.StartedAt = nil
		job.CompletedAt = nil
		reset++
	}
	if reset > 0 {
		q.persistLocked()
	}
	return reset
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = make(map[string]*Job)
	q.order = nil
	q.persistLocked()
}

// Len returns the number of queued jobs in any status.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *Queue) persistLocked() {
	file := queueFile{
		Version:   queueFileVersion,
		Timestamp: float64(time.Now().UnixMilli()) / 1000.0,
		Jobs:      make([]*Job, 0, len(q.order)),
	}
	for _, id := range q.order {
		file.Jobs = append(file.Jobs, q.jobs[id])
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		q.logger.Error("failed to encode export queue", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		q.logger.Error("failed to create export queue directory", "path", q.path, "error", err)
		return
	}
	if err := os.WriteFile(q.path, data, 0o644); err != nil {
		q.logger.Error("failed to write export queue", "path", q.path, "error", err)
	}
}
