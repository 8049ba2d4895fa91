package encoder

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// CachedDetector wraps a Runner to cache capability probes with a
// configurable TTL, so the status surface and the export engine share one
// probe instead of spawning ffmpeg per request.
type CachedDetector struct {
	runner Runner
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDetector creates a caching wrapper around capability probes.
func NewCachedDetector(runner Runner, logger *slog.Logger) *CachedDetector {
	return &CachedDetector{
		runner: runner,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDetector) Get(ctx context.Context) *Capabilities {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Peek returns the cached capabilities without probing, or nil.
func (d *CachedDetector) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness. A failed probe
// is never fatal: the previous capabilities are kept if present, otherwise
// the caller gets the software-only fallback.
func (d *CachedDetector) Refresh(ctx context.Context) *Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.runner.DetectEncoders(ctx)
	if err != nil {
		d.logger.Warn("encoder probe failed, falling back to software", "error", err)
		if d.cached != nil {
			return d.cached
		}
		return SoftwareOnly()
	}

	d.cached = caps
	return caps
}

// Invalidate clears the cached capabilities.
func (d *CachedDetector) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
