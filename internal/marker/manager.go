package marker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultFlushDelay is how long the manager waits after the last mutation
// before flushing dirty markers to the store.
const DefaultFlushDelay = 2 * time.Second

// Manager owns the live marker collection for a review session. It keeps
// markers in memory, maintains the spatial index, and persists changes
// incrementally: mutations flag markers dirty and a debounced flush writes
// only the dirty ones in one batch, so rapid edits do not hammer storage.
//
// The index reference is replaced wholesale on every mutation; readers get
// a consistent snapshot without holding the manager lock during queries.
// Published markers are immutable: Update replaces the stored struct with
// an edited clone instead of writing through shared pointers, so markers
// handed out by Get and the query methods never change under a reader.
type Manager struct {
	store      *Store
	logger     *slog.Logger
	flushDelay time.Duration

	mu         sync.Mutex
	markers    map[string]*Marker
	index      *Index
	dirty      map[string]struct{}
	flushTimer *time.Timer
	closed     bool
}

func NewManager(store *Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:      store,
		logger:     logger,
		flushDelay: DefaultFlushDelay,
		markers:    make(map[string]*Marker),
		dirty:      make(map[string]struct{}),
		index:      NewIndex(nil),
	}
}

// SetFlushDelay overrides the debounce interval.
func (m *Manager) SetFlushDelay(d time.Duration) {
	m.mu.Lock()
	m.flushDelay = d
	m.mu.Unlock()
}

// Load replaces the in-memory collection with the store's live markers.
// Returns the number loaded.
func (m *Manager) Load(ctx context.Context) int {
	loaded := m.store.LoadAll(ctx, false)

	m.mu.Lock()
	m.markers = make(map[string]*Marker, len(loaded))
	for _, mk := range loaded {
		m.markers[mk.ID] = mk
	}
	m.dirty = make(map[string]struct{})
	m.rebuildIndexLocked()
	m.mu.Unlock()

	m.logger.Info("loaded markers", "count", len(loaded))
	return len(loaded)
}

// Add creates a marker, filling defaults for missing fields. Returns an
// error only on contract violations (negative timestamp, bad slot index).
func (m *Manager) Add(ctx context.Context, mk *Marker) (*Marker, error) {
	if err := mk.Validate(); err != nil {
		return nil, err
	}
	mk = mk.Clone()
	if mk.ID == "" {
		mk.ID = NewMarkerID(mk.Timestamp)
	}
	if mk.Color == "" {
		mk.Color = DefaultColor
	}
	if mk.Category == "" {
		mk.Category = DefaultCategory
	}
	if mk.CreatedAt.IsZero() {
		mk.CreatedAt = time.Now()
	}
	mk.State = StateLive

	m.mu.Lock()
	m.markers[mk.ID] = mk
	m.dirty[mk.ID] = struct{}{}
	m.rebuildIndexLocked()
	m.scheduleFlushLocked()
	m.mu.Unlock()

	m.logger.Debug("marker added", "marker_id", mk.ID, "timestamp", mk.Timestamp)
	return mk, nil
}

// Update applies a partial update to a live marker. Returns false if no
// such marker exists; an error only on contract violations.
func (m *Manager) Update(ctx context.Context, id string, u Update) (bool, error) {
	if err := u.Validate(); err != nil {
		return false, err
	}

	m.mu.Lock()
	mk, ok := m.markers[id]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	next := mk.Clone()
	if u.Apply(next, time.Now()) {
		m.markers[id] = next
		m.dirty[id] = struct{}{}
		m.rebuildIndexLocked()
		m.scheduleFlushLocked()
	}
	m.mu.Unlock()
	return true, nil
}

// Remove soft-deletes a marker. The deletion is persisted immediately
// rather than debounced; a marker still inside the debounce window is
// written first so its tombstone lands in the store. Returns whether a
// live marker existed.
func (m *Manager) Remove(ctx context.Context, id string) bool {
	m.mu.Lock()
	mk, ok := m.markers[id]
	var unsaved bool
	if ok {
		_, unsaved = m.dirty[id]
		delete(m.markers, id)
		delete(m.dirty, id)
		m.rebuildIndexLocked()
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	if unsaved {
		m.store.Save(ctx, mk)
	}
	m.store.Delete(ctx, id)
	return true
}

// Get returns the live marker with the given id, or nil.
func (m *Manager) Get(id string) *Marker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markers[id]
}

// All returns the live markers in ascending timestamp order.
func (m *Manager) All() []*Marker {
	return m.snapshot().All()
}

// Count returns the number of live markers.
func (m *Manager) Count() int {
	return m.snapshot().Len()
}

// QueryRange returns live markers with start <= timestamp <= end.
func (m *Manager) QueryRange(startMs, endMs int64) []*Marker {
	return m.snapshot().QueryRange(startMs, endMs)
}

// FindNearest returns the live marker closest to the timestamp within
// maxDistance, or nil.
func (m *Manager) FindNearest(timestampMs, maxDistanceMs int64) *Marker {
	return m.snapshot().FindNearest(timestampMs, maxDistanceMs)
}

// FindPrev returns the last marker strictly before the timestamp, or nil.
func (m *Manager) FindPrev(timestampMs int64) *Marker {
	return m.snapshot().FindPrev(timestampMs)
}

// FindNext returns the first marker strictly after the timestamp, or nil.
func (m *Manager) FindNext(timestampMs int64) *Marker {
	return m.snapshot().FindNext(timestampMs)
}

// Flush writes dirty markers to the store in one batch. Returns false if
// the write failed; failed markers stay dirty for the next attempt.
func (m *Manager) Flush(ctx context.Context) bool {
	m.mu.Lock()
	if len(m.dirty) == 0 {
		m.mu.Unlock()
		return true
	}
	batch := make([]*Marker, 0, len(m.dirty))
	ids := make([]string, 0, len(m.dirty))
	for id := range m.dirty {
		if mk, ok := m.markers[id]; ok {
			clone := *mk
			batch = append(batch, &clone)
		}
		ids = append(ids, id)
	}
	m.dirty = make(map[string]struct{})
	m.mu.Unlock()

	if m.store.SaveBatch(ctx, batch) {
		m.logger.Debug("flushed markers", "count", len(batch))
		return true
	}

	m.mu.Lock()
	for _, id := range ids {
		if _, ok := m.markers[id]; ok {
			m.dirty[id] = struct{}{}
		}
	}
	m.mu.Unlock()
	return false
}

// Reload discards the in-memory collection and reloads from the store.
// Unflushed changes are written first.
func (m *Manager) Reload(ctx context.Context) int {
	m.Flush(ctx)
	return m.Load(ctx)
}

// Close stops the flush timer and writes any remaining dirty markers.
// The owner must call this on every shutdown path.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	if m.flushTimer != nil {
		m.flushTimer.Stop()
		m.flushTimer = nil
	}
	m.mu.Unlock()

	m.Flush(ctx)
}

func (m *Manager) snapshot() *Index {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

func (m *Manager) rebuildIndexLocked() {
	all := make([]*Marker, 0, len(m.markers))
	for _, mk := range m.markers {
		all = append(all, mk)
	}
	m.index = NewIndex(all)
}

func (m *Manager) scheduleFlushLocked() {
	if m.closed {
		return
	}
	delay := m.flushDelay
	if delay <= 0 {
		delay = time.Millisecond
	}
	if m.flushTimer != nil {
		m.flushTimer.Stop()
	}
	m.flushTimer = time.AfterFunc(delay, func() {
		m.Flush(context.Background())
	})
}
