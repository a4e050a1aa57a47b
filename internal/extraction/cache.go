package extraction

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Veraticus/the-receipts-must-match/internal/common"
	"github.com/Veraticus/the-receipts-must-match/internal/model"
)

// CacheBacking persists cache entries across runs.
// LoadExtraction returns common.ErrNotFound when nothing is stored for the hash.
type CacheBacking interface {
	LoadExtraction(ctx context.Context, contentHash string) (*model.ExtractedReceipt, error)
	StoreExtraction(ctx context.Context, receipt *model.ExtractedReceipt) error
}

// CacheStats counts cache activity.
type CacheStats struct {
	Hits     int64
	Misses   int64
	Stores   int64
	Rejected int64
}

// ContentCache maps a content hash to the best extraction seen for it.
// Entries below the acceptance threshold are never stored so a later
// extraction can improve on them.
type ContentCache struct {
	backing       CacheBacking
	entries       map[string]model.ExtractedReceipt
	logger        *slog.Logger
	minConfidence float64
	hits          atomic.Int64
	misses        atomic.Int64
	stores        atomic.Int64
	rejected      atomic.Int64
	mu            sync.RWMutex
}

// NewContentCache creates a cache. backing may be nil for a memory-only cache.
func NewContentCache(minConfidence float64, backing CacheBacking, logger *slog.Logger) *ContentCache {
	return &ContentCache{
		backing:       backing,
		entries:       make(map[string]model.ExtractedReceipt),
		logger:        common.ComponentLogger(logger, "content_cache"),
		minConfidence: minConfidence,
	}
}

// MinConfidence returns the cache acceptance threshold.
func (c *ContentCache) MinConfidence() float64 {
	return c.minConfidence
}

// Get returns a copy of the cached extraction for hash.
func (c *ContentCache) Get(ctx context.Context, hash string) (model.ExtractedReceipt, bool) {
	c.mu.RLock()
	entry, ok := c.entries[hash]
	c.mu.RUnlock()

	if ok && entry.Confidence >= c.minConfidence {
		c.hits.Add(1)
		return entry.Clone(), true
	}

	if c.backing != nil {
		stored, err := c.backing.LoadExtraction(ctx, hash)
		switch {
		case err == nil && stored != nil && stored.Confidence >= c.minConfidence:
			c.mu.Lock()
			c.entries[hash] = stored.Clone()
			c.mu.Unlock()
			c.hits.Add(1)
			return stored.Clone(), true
		case err != nil && !errors.Is(err, common.ErrNotFound):
			c.logger.Warn("Failed to load cached extraction", "content_hash", hash, "error", err)
		}
	}

	c.misses.Add(1)
	return model.ExtractedReceipt{}, false
}

// Put stores receipt under its content hash. It reports whether the receipt
// was accepted; the error is only for a failed write to the backing store,
// in which case the in-memory entry is still kept.
func (c *ContentCache) Put(ctx context.Context, receipt model.ExtractedReceipt) (bool, error) {
	if receipt.ContentHash == "" || receipt.Confidence < c.minConfidence {
		c.rejected.Add(1)
		return false, nil
	}

	c.mu.Lock()
	c.entries[receipt.ContentHash] = receipt.Clone()
	c.mu.Unlock()
	c.stores.Add(1)

	if c.backing != nil {
		stored := receipt.Clone()
		if err := c.backing.StoreExtraction(ctx, &stored); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Len returns the number of in-memory entries.
func (c *ContentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *ContentCache) Stats() CacheStats {
	return CacheStats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Stores:   c.stores.Load(),
		Rejected: c.rejected.Load(),
	}
}
