package vecdb

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/vecdb/distance"
	"github.com/hupe1980/vecdb/hnsw"
)

// SearchResult is a single nearest-neighbor result.
type SearchResult = hnsw.SearchResult

// Collection is a named, thread-safe vector index.
//
// All mutating operations and searches take an exclusive lock (a search
// reuses the index's scratch buffers); other reads share a read lock.
type Collection struct {
	name    string
	mu      sync.RWMutex
	index   *hnsw.Index
	metrics MetricsCollector
	logger  *Logger
}

func newCollection(name string, index *hnsw.Index, opts options) *Collection {
	return &Collection{
		name:    name,
		index:   index,
		metrics: opts.metricsCollector,
		logger:  opts.logger.WithCollection(name),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Insert adds a vector under the given id.
//
// The id must not be present, live or deleted. The vector must match the
// collection's dimension. On error the collection is unchanged.
func (c *Collection) Insert(ctx context.Context, id int64, vector []float32) error {
	start := time.Now()

	c.mu.Lock()
	err := translateError(c.index.Add(id, vector))
	c.mu.Unlock()

	c.metrics.RecordInsert(time.Since(start), err)
	c.logger.LogInsert(ctx, c.name, id, len(vector), err)
	return err
}

// Search returns the (up to) k nearest live neighbors of query, ordered
// by ascending distance. efSearch bounds the search beam; values below k
// are raised to k.
func (c *Collection) Search(ctx context.Context, query []float32, k, efSearch int) ([]SearchResult, error) {
	start := time.Now()

	c.mu.Lock()
	results, err := c.index.Search(query, k, efSearch)
	c.mu.Unlock()
	err = translateError(err)

	c.metrics.RecordSearch(k, time.Since(start), err)
	c.logger.LogSearch(ctx, c.name, k, len(results), err)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Remove marks the id as deleted. It reports whether a live record was
// removed. Removing an absent or already-deleted id is a no-op.
func (c *Collection) Remove(ctx context.Context, id int64) bool {
	start := time.Now()

	c.mu.Lock()
	removed := c.index.Remove(id)
	c.mu.Unlock()

	c.metrics.RecordDelete(time.Since(start), removed)
	c.logger.LogDelete(ctx, c.name, id, removed)
	return removed
}

// Get returns a copy of the vector stored under id, or ErrNotFound if
// the id is absent or deleted.
func (c *Collection) Get(ctx context.Context, id int64) ([]float32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.index.Vector(id)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, nil
}

// Contains reports whether a live record exists under id.
func (c *Collection) Contains(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index.Vector(id)
	return ok
}

// Count returns the number of live records.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.LiveCount()
}

// Dimension returns the collection's vector dimension.
func (c *Collection) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Dimension()
}

// Metric returns the collection's distance metric.
func (c *Collection) Metric() distance.Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Metric()
}

// M returns the graph connectivity parameter.
func (c *Collection) M() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.M()
}

// EFConstruction returns the construction-time beam width.
func (c *Collection) EFConstruction() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.EFConstruction()
}

// Stats returns a snapshot of the underlying graph shape.
func (c *Collection) Stats() hnsw.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Stats()
}

// serialize snapshots the collection's index under the read lock.
func (c *Collection) serialize() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Serialize()
}
