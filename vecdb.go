// Package vecdb provides an embedded in-memory vector database for Go.
//
// A DB holds named collections, each backed by an HNSW graph supporting
// approximate nearest neighbor search:
//
//   - Insert, k-NN search, and tombstone-based deletion per collection
//   - Deterministic graph construction for a fixed insertion order
//   - L2, cosine, and dot-product distance metrics
//   - Versioned binary snapshots with checksummed, compressed container
//     files on disk
//
// # Quick Start
//
//	ctx := context.Background()
//	db := vecdb.New()
//
//	col, err := db.CreateCollection("docs", 128, distance.MetricCosine)
//	if err != nil {
//	    panic(err)
//	}
//
//	_ = col.Insert(ctx, 1, embedding)
//
//	results, err := col.Search(ctx, query, 10, 100)
//	for _, r := range results {
//	    fmt.Println(r.ID, r.Distance)
//	}
//
// Persist and restore all collections:
//
//	_ = db.Save(ctx, "./data")
//	db2, _ := vecdb.Load(ctx, "./data")
package vecdb

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vecdb/distance"
	"github.com/hupe1980/vecdb/hnsw"
	"github.com/hupe1980/vecdb/persistence"
)

// DB is a collection-oriented vector database. All methods are safe for
// concurrent use.
type DB struct {
	mu          sync.RWMutex
	collections map[string]*Collection
	opts        options
	closed      bool
}

// New creates an empty database.
func New(optFns ...Option) *DB {
	return &DB{
		collections: make(map[string]*Collection),
		opts:        applyOptions(optFns),
	}
}

// CreateCollection creates a new named collection with the given vector
// dimension and distance metric. Index parameters can be tuned via
// option functions:
//
//	col, err := db.CreateCollection("docs", 768, distance.MetricCosine, func(o *hnsw.Options) {
//	    o.M = 32
//	    o.EFConstruction = 400
//	})
func (db *DB) CreateCollection(name string, dimension int, metric distance.Metric, optFns ...func(o *hnsw.Options)) (*Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	if _, ok := db.collections[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionExists, name)
	}

	index, err := hnsw.New(dimension, metric, optFns...)
	if err != nil {
		return nil, translateError(err)
	}

	col := newCollection(name, index, db.opts)
	db.collections[name] = col

	db.opts.logger.InfoContext(context.Background(), "collection created",
		"collection", name,
		"dimension", dimension,
		"metric", metric.String(),
	)
	return col, nil
}

// GetCollection returns the named collection, or ErrCollectionNotFound.
func (db *DB) GetCollection(name string) (*Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	col, ok := db.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return col, nil
}

// DropCollection removes the named collection from the database. It does
// not touch files previously written by Save.
func (db *DB) DropCollection(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	if _, ok := db.collections[name]; !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	delete(db.collections, name)
	return nil
}

// ListCollections returns the names of all collections, sorted.
func (db *DB) ListCollections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save writes every collection to dir, one container file per
// collection. Collections are saved concurrently; writes are atomic per
// file.
func (db *DB) Save(ctx context.Context, dir string) error {
	db.mu.RLock()
	if db.closed {
		db.mu.RUnlock()
		return ErrClosed
	}
	cols := make([]*Collection, 0, len(db.collections))
	for _, col := range db.collections {
		cols = append(cols, col)
	}
	db.mu.RUnlock()

	store, err := persistence.NewStore(dir)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, col := range cols {
		col := col
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			start := time.Now()
			err := store.Save(col.name, col.serialize(), db.opts.compression)
			db.opts.metricsCollector.RecordSave(time.Since(start), err)
			db.opts.logger.LogSave(ctx, col.name, store.Path(col.name), err)
			if err != nil {
				return fmt.Errorf("save collection %s: %w", col.name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Load reads every container file in dir into a new database.
// Collections are loaded concurrently.
func Load(ctx context.Context, dir string, optFns ...Option) (*DB, error) {
	db := New(optFns...)

	store, err := persistence.NewStore(dir)
	if err != nil {
		return nil, err
	}
	names, err := store.List()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			start := time.Now()
			col, err := loadCollection(store, name, db.opts)
			db.opts.metricsCollector.RecordLoad(time.Since(start), err)
			db.opts.logger.LogLoad(ctx, name, store.Path(name), err)
			if err != nil {
				return fmt.Errorf("load collection %s: %w", name, err)
			}

			mu.Lock()
			db.collections[name] = col
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return db, nil
}

func loadCollection(store *persistence.Store, name string, opts options) (*Collection, error) {
	payload, err := store.Load(name)
	if err != nil {
		return nil, translateError(err)
	}
	index, err := hnsw.Deserialize(payload)
	if err != nil {
		return nil, translateError(err)
	}
	return newCollection(name, index, opts), nil
}

// Close marks the database closed. Subsequent collection management and
// Save calls fail with ErrClosed.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.closed = true
	return nil
}
