// Package hnsw implements the Hierarchical Navigable Small World (HNSW) graph
// for approximate nearest neighbor search.
//
// The index is a single-threaded data structure. Callers that share an index
// across goroutines must serialize access externally.
package hnsw

import (
	"math"
	"math/rand"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/vecdb/distance"
	"github.com/hupe1980/vecdb/internal/queue"
	"github.com/hupe1980/vecdb/internal/visited"
)

const (
	// DefaultM is the default number of bidirectional links per layer.
	DefaultM = 16

	// DefaultEFConstruction is the default size of the dynamic candidate
	// list during insertion.
	DefaultEFConstruction = 200

	// DefaultEFSearch is the default beam width during search.
	DefaultEFSearch = 50

	// levelSeed seeds the level sampler. Constructions with identical
	// inputs produce identical graphs.
	levelSeed = 42

	// mmax0Multiplier is the multiplier for the connection bound at layer 0.
	mmax0Multiplier = 2

	// minimumM is the minimum valid value for M.
	minimumM = 2

	// noEntryPoint marks an index without an entry point.
	noEntryPoint = -1
)

// Options represents the options for configuring the index.
type Options struct {
	// M is the target out-degree at layers above 0; 2M is the bound at layer 0.
	M int

	// EFConstruction is the beam width used while linking new records.
	EFConstruction int

	// Heuristic enables the relative-neighborhood selection heuristic
	// instead of plain nearest-first truncation.
	Heuristic bool
}

// DefaultOptions holds the default index configuration.
var DefaultOptions = Options{
	M:              DefaultM,
	EFConstruction: DefaultEFConstruction,
	Heuristic:      false,
}

// record is a stored vector with its graph adjacency. Records are
// addressed by their dense position in Index.records; neighbor lists
// hold positions, never external IDs.
type record struct {
	id     int64
	level  int
	vector []float32

	// neighbors[l] is the adjacency at layer l, for l in [0, level].
	neighbors [][]uint32
}

// SearchResult represents a single nearest-neighbor result.
type SearchResult struct {
	ID       int64
	Distance float32
}

// Index is an in-memory HNSW graph over fixed-dimension float32 vectors.
type Index struct {
	dimension       int
	metric          distance.Metric
	distanceFunc    distance.Func
	m               int
	efConstruction  int
	maxConnections  int
	maxConnections0 int
	levelMultiplier float64
	heuristic       bool

	rng *rand.Rand

	records    []*record
	byID       map[int64]uint32
	tombstones *roaring.Bitmap
	entryPoint int32
	maxLevel   int
	live       int

	// Scratch state reused across searches to keep the inner loop
	// allocation-free.
	visited    *visited.Set
	candidates *queue.PriorityQueue
	results    *queue.PriorityQueue
}

// New creates a new index for vectors of the given dimension and metric.
func New(dimension int, metric distance.Metric, optFns ...func(o *Options)) (*Index, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if dimension < 1 {
		return nil, &InvalidDimensionError{Dimension: dimension}
	}

	distanceFunc, err := distance.Provider(metric)
	if err != nil {
		return nil, &InvalidMetricError{Metric: metric}
	}

	if opts.M < minimumM {
		opts.M = minimumM
	}
	if opts.EFConstruction < 1 {
		opts.EFConstruction = DefaultEFConstruction
	}

	return &Index{
		dimension:       dimension,
		metric:          metric,
		distanceFunc:    distanceFunc,
		m:               opts.M,
		efConstruction:  opts.EFConstruction,
		maxConnections:  opts.M,
		maxConnections0: mmax0Multiplier * opts.M,
		levelMultiplier: 1.0 / math.Log(float64(opts.M)),
		heuristic:       opts.Heuristic,
		rng:             rand.New(rand.NewSource(levelSeed)),
		byID:            make(map[int64]uint32),
		tombstones:      roaring.New(),
		entryPoint:      noEntryPoint,
		visited:         visited.New(1024),
		candidates:      queue.NewMin(opts.EFConstruction),
		results:         queue.NewMax(opts.EFConstruction),
	}, nil
}

// randomLevel draws a level from the geometric distribution induced by M.
func (idx *Index) randomLevel() int {
	u := idx.rng.Float64()
	for u == 0 {
		u = idx.rng.Float64()
	}
	level := int(math.Floor(-math.Log(u) * idx.levelMultiplier))
	if level < 0 {
		level = 0
	}
	return level
}

func (idx *Index) maxConnectionsAt(layer int) int {
	if layer == 0 {
		return idx.maxConnections0
	}
	return idx.maxConnections
}

func (idx *Index) dist(q []float32, pos uint32) float32 {
	return idx.distanceFunc(q, idx.records[pos].vector)
}

// Add inserts a vector under an externally supplied identifier.
//
// It fails with a *DimensionMismatchError when the vector length does not
// match the index dimension, and with a *DuplicateIDError when the
// identifier is already present, tombstoned or not. No state changes on
// failure.
func (idx *Index) Add(id int64, v []float32) error {
	if len(v) != idx.dimension {
		return &DimensionMismatchError{Expected: idx.dimension, Actual: len(v)}
	}
	if _, ok := idx.byID[id]; ok {
		return &DuplicateIDError{ID: id}
	}

	vec := make([]float32, len(v))
	copy(vec, v)

	level := idx.randomLevel()
	rec := &record{
		id:        id,
		level:     level,
		vector:    vec,
		neighbors: make([][]uint32, level+1),
	}

	pos := uint32(len(idx.records))
	idx.records = append(idx.records, rec)
	idx.byID[id] = pos
	idx.live++

	if idx.entryPoint == noEntryPoint {
		idx.entryPoint = int32(pos)
		idx.maxLevel = level
		return nil
	}

	cur := uint32(idx.entryPoint)
	for layer := idx.maxLevel; layer > level; layer-- {
		cur = idx.greedySearch(vec, cur, layer)
	}

	for layer := min(level, idx.maxLevel); layer >= 0; layer-- {
		beam := idx.searchLayer(vec, cur, idx.efConstruction, layer)

		neighbors := idx.selectNeighbors(beam, idx.maxConnectionsAt(layer))
		rec.neighbors[layer] = neighbors

		for _, n := range neighbors {
			idx.linkBack(n, pos, layer)
		}

		if len(beam) > 0 {
			cur = beam[0].Node
		}
	}

	if level > idx.maxLevel {
		idx.maxLevel = level
		idx.entryPoint = int32(pos)
	}

	return nil
}

// greedySearch descends to the local minimum at the given layer, moving
// to any neighbor strictly closer to q than the current best.
func (idx *Index) greedySearch(q []float32, entry uint32, layer int) uint32 {
	cur := entry
	curDist := idx.dist(q, cur)

	for changed := true; changed; {
		changed = false
		for _, n := range idx.records[cur].neighbors[layer] {
			if d := idx.dist(q, n); d < curDist {
				cur = n
				curDist = d
				changed = true
			}
		}
	}

	return cur
}

// searchLayer runs a bounded beam search at the given layer and returns
// up to ef candidates sorted ascending by distance to q. Tombstoned
// records participate; filtering is up to the caller.
func (idx *Index) searchLayer(q []float32, entry uint32, ef, layer int) []queue.Item {
	vis := idx.visited
	vis.Reset()

	candidates := idx.candidates
	candidates.Reset()

	results := idx.results
	results.Reset()

	entryDist := idx.dist(q, entry)
	vis.Visit(entry)
	candidates.Push(queue.Item{Node: entry, Distance: entryDist})
	results.Push(queue.Item{Node: entry, Distance: entryDist})

	for candidates.Len() > 0 {
		cur, _ := candidates.Pop()

		if worst, ok := results.Top(); ok && cur.Distance > worst.Distance {
			break
		}

		for _, n := range idx.records[cur.Node].neighbors[layer] {
			if vis.Visited(n) {
				continue
			}
			vis.Visit(n)

			d := idx.dist(q, n)
			worst, _ := results.Top()
			if results.Len() < ef || d < worst.Distance {
				candidates.Push(queue.Item{Node: n, Distance: d})
				results.Push(queue.Item{Node: n, Distance: d})
				if results.Len() > ef {
					results.Pop()
				}
			}
		}
	}

	out := make([]queue.Item, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i], _ = results.Pop()
	}
	return out
}

// selectNeighbors picks at most m neighbor positions from a beam result
// sorted ascending by distance.
func (idx *Index) selectNeighbors(beam []queue.Item, m int) []uint32 {
	if idx.heuristic {
		return idx.selectNeighborsHeuristic(beam, m)
	}
	return idx.selectNeighborsSimple(beam, m)
}

func (idx *Index) selectNeighborsSimple(beam []queue.Item, m int) []uint32 {
	if len(beam) > m {
		beam = beam[:m]
	}
	out := make([]uint32, len(beam))
	for i, item := range beam {
		out[i] = item.Node
	}
	return out
}

// selectNeighborsHeuristic keeps a candidate only if it is closer to the
// query than to every neighbor selected so far, then fills up with the
// nearest remaining candidates.
func (idx *Index) selectNeighborsHeuristic(beam []queue.Item, m int) []uint32 {
	if len(beam) <= m {
		return idx.selectNeighborsSimple(beam, m)
	}

	out := make([]uint32, 0, m)
	for _, cand := range beam {
		if len(out) >= m {
			break
		}

		good := true
		candVec := idx.records[cand.Node].vector
		for _, sel := range out {
			if idx.distanceFunc(candVec, idx.records[sel].vector) < cand.Distance {
				good = false
				break
			}
		}
		if good {
			out = append(out, cand.Node)
		}
	}

	if len(out) < m {
		for _, cand := range beam {
			if len(out) >= m {
				break
			}
			seen := false
			for _, sel := range out {
				if sel == cand.Node {
					seen = true
					break
				}
			}
			if !seen {
				out = append(out, cand.Node)
			}
		}
	}

	return out
}

// linkBack appends the new record to a selected neighbor's adjacency and
// prunes the list back to the degree bound if it overflowed.
func (idx *Index) linkBack(pos, newPos uint32, layer int) {
	rec := idx.records[pos]
	rec.neighbors[layer] = append(rec.neighbors[layer], newPos)

	maxConns := idx.maxConnectionsAt(layer)
	if len(rec.neighbors[layer]) <= maxConns {
		return
	}

	items := make([]queue.Item, len(rec.neighbors[layer]))
	for i, c := range rec.neighbors[layer] {
		items[i] = queue.Item{Node: c, Distance: idx.distanceFunc(rec.vector, idx.records[c].vector)}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Distance < items[j].Distance })

	pruned := make([]uint32, maxConns)
	for i := range pruned {
		pruned[i] = items[i].Node
	}
	rec.neighbors[layer] = pruned
}

// Search returns up to k live records nearest to q, sorted ascending by
// distance. efSearch widens the layer-0 beam; values below k are raised
// to k.
func (idx *Index) Search(q []float32, k int, efSearch int) ([]SearchResult, error) {
	if len(q) != idx.dimension {
		return nil, &DimensionMismatchError{Expected: idx.dimension, Actual: len(q)}
	}
	if k < 1 {
		return nil, ErrInvalidK
	}

	if idx.live == 0 || idx.entryPoint == noEntryPoint {
		return []SearchResult{}, nil
	}

	ef := efSearch
	if ef < k {
		ef = k
	}

	cur := uint32(idx.entryPoint)
	for layer := idx.maxLevel; layer >= 1; layer-- {
		cur = idx.greedySearch(q, cur, layer)
	}

	beam := idx.searchLayer(q, cur, ef, 0)

	out := make([]SearchResult, 0, k)
	for _, item := range beam {
		if idx.tombstones.Contains(item.Node) {
			continue
		}
		out = append(out, SearchResult{ID: idx.records[item.Node].id, Distance: item.Distance})
		if len(out) == k {
			break
		}
	}

	return out, nil
}

// Remove marks a record as tombstoned. It reports whether state changed;
// removing an absent or already tombstoned identifier is a no-op.
//
// Removal does not touch adjacency: tombstoned records remain navigation
// landmarks and are filtered from search results only.
func (idx *Index) Remove(id int64) bool {
	pos, ok := idx.byID[id]
	if !ok {
		return false
	}
	if idx.tombstones.Contains(pos) {
		return false
	}

	idx.tombstones.Add(pos)
	idx.live--
	return true
}

// Contains reports whether id exists as a live record.
func (idx *Index) Contains(id int64) bool {
	pos, ok := idx.byID[id]
	if !ok {
		return false
	}
	return !idx.tombstones.Contains(pos)
}

// Vector returns a copy of the stored vector for a live identifier.
func (idx *Index) Vector(id int64) ([]float32, bool) {
	pos, ok := idx.byID[id]
	if !ok || idx.tombstones.Contains(pos) {
		return nil, false
	}
	out := make([]float32, idx.dimension)
	copy(out, idx.records[pos].vector)
	return out, true
}

// LiveCount returns the number of non-tombstoned records.
func (idx *Index) LiveCount() int { return idx.live }

// Count returns the total number of records, tombstoned included.
func (idx *Index) Count() int { return len(idx.records) }

// Dimension returns the configured vector dimension.
func (idx *Index) Dimension() int { return idx.dimension }

// Metric returns the configured distance metric.
func (idx *Index) Metric() distance.Metric { return idx.metric }

// M returns the configured out-degree bound for layers above 0.
func (idx *Index) M() int { return idx.m }

// EFConstruction returns the configured construction beam width.
func (idx *Index) EFConstruction() int { return idx.efConstruction }

// MaxLevel returns the highest level among all records.
func (idx *Index) MaxLevel() int { return idx.maxLevel }

// EntryPoint returns the identifier the graph descent starts from.
// ok is false when the index is empty.
func (idx *Index) EntryPoint() (int64, bool) {
	if idx.entryPoint == noEntryPoint {
		return 0, false
	}
	return idx.records[idx.entryPoint].id, true
}

// Neighbors returns the adjacency of id at the given layer as external
// identifiers. ok is false when id is unknown or the layer exceeds the
// record's level.
func (idx *Index) Neighbors(id int64, layer int) ([]int64, bool) {
	pos, ok := idx.byID[id]
	if !ok {
		return nil, false
	}
	rec := idx.records[pos]
	if layer < 0 || layer > rec.level {
		return nil, false
	}
	out := make([]int64, len(rec.neighbors[layer]))
	for i, n := range rec.neighbors[layer] {
		out[i] = idx.records[n].id
	}
	return out, true
}

// Level returns the assigned level of id, tombstoned records included.
func (idx *Index) Level(id int64) (int, bool) {
	pos, ok := idx.byID[id]
	if !ok {
		return 0, false
	}
	return idx.records[pos].level, true
}
