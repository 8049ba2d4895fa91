package marker

import (
	"context"
	"log/slog"
)

// Store is the durable marker collection. Every public operation absorbs
// persistence failures at this boundary: the failure is logged and the
// caller sees a false/empty result, never a storage error. Callers treat
// a false return as "nothing changed" and may retry.
type Store struct {
	repo   Repository
	logger *slog.Logger
}

func NewStore(repo Repository, logger *slog.Logger) *Store {
	return &Store{repo: repo, logger: logger}
}

// Save upserts one marker. Returns false if the write did not happen.
func (s *Store) Save(ctx context.Context, m *Marker) bool {
	if err := s.repo.Upsert(ctx, m); err != nil {
		s.logger.Error("failed to save marker", "marker_id", m.ID, "error", err)
		return false
	}
	return true
}

// SaveBatch upserts markers in one transaction. All or nothing.
func (s *Store) SaveBatch(ctx context.Context, markers []*Marker) bool {
	if len(markers) == 0 {
		return true
	}
	if err := s.repo.UpsertBatch(ctx, markers); err != nil {
		s.logger.Error("failed to save marker batch", "count", len(markers), "error", err)
		return false
	}
	return true
}

// Delete soft-deletes one marker. Returns whether a matching live record
// existed.
func (s *Store) Delete(ctx context.Context, id string) bool {
	existed, err := s.repo.SoftDelete(ctx, id)
	if err != nil {
		s.logger.Error("failed to delete marker", "marker_id", id, "error", err)
		return false
	}
	return existed
}

// Get returns one marker by id, or nil if missing or unreadable.
func (s *Store) Get(ctx context.Context, id string) *Marker {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		s.logger.Error("failed to get marker", "marker_id", id, "error", err)
		return nil
	}
	return m
}

// LoadAll returns markers ordered by ascending timestamp. An unreadable
// store yields an empty list so callers survive a corrupted database on
// startup.
func (s *Store) LoadAll(ctx context.Context, includeDeleted bool) []*Marker {
	markers, err := s.repo.List(ctx, includeDeleted)
	if err != nil {
		s.logger.Error("failed to load markers", "error", err)
		return nil
	}
	return markers
}

// Count returns the number of matching records, 0 on failure.
func (s *Store) Count(ctx context.Context, includeDeleted bool) int {
	n, err := s.repo.Count(ctx, includeDeleted)
	if err != nil {
		s.logger.Error("failed to count markers", "error", err)
		return 0
	}
	return n
}

// ClearAll hard-deletes every marker, live and deleted.
func (s *Store) ClearAll(ctx context.Context) bool {
	if err := s.repo.DeleteAll(ctx); err != nil {
		s.logger.Error("failed to clear markers", "error", err)
		return false
	}
	s.logger.Info("cleared all markers")
	return true
}

// Vacuum compacts the underlying database file.
func (s *Store) Vacuum(ctx context.Context) bool {
	if err := s.repo.Vacuum(ctx); err != nil {
		s.logger.Error("failed to vacuum marker store", "error", err)
		return false
	}
	return true
}

// Stats summarizes the marker population. Returns an empty summary on
// failure.
func (s *Store) Stats(ctx context.Context) *Stats {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		s.logger.Error("failed to collect marker stats", "error", err)
		return &Stats{ByCategory: map[string]int{}, ByColor: map[string]int{}}
	}
	return stats
}

// GetMeta reads an agent metadata value. Metadata access keeps explicit
// errors: it backs startup bootstrap, not the resilient marker surface.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	return s.repo.GetMeta(ctx, key)
}

// SetMeta writes an agent metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	return s.repo.SetMeta(ctx, key, value)
}
