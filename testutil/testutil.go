package testutil

import (
	"math/rand"
	"sort"

	"github.com/hupe1980/vecdb/distance"
)

// RNG encapsulates a seeded random number generator.
type RNG struct {
	rand *rand.Rand
	seed int64
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.rand.Seed(r.seed)
}

// Float32 returns a pseudo-random number in [0.0, 1.0).
func (r *RNG) Float32() float32 {
	return r.rand.Float32()
}

// Intn returns a non-negative pseudo-random number in [0, n).
func (r *RNG) Intn(n int) int {
	return r.rand.Intn(n)
}

// UniformVector returns a vector with components drawn uniformly from [0, 1).
func (r *RNG) UniformVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = r.rand.Float32()
	}
	return v
}

// UniformVectors returns n vectors with components drawn uniformly from [0, 1).
func (r *RNG) UniformVectors(n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = r.UniformVector(dim)
	}
	return out
}

// Neighbor is a brute-force search result.
type Neighbor struct {
	ID       int64
	Distance float32
}

// BruteForce returns the k nearest neighbors of q among the given
// vectors, computed exhaustively. ids and vectors must have equal length.
func BruteForce(q []float32, ids []int64, vectors [][]float32, k int, fn distance.Func) []Neighbor {
	out := make([]Neighbor, 0, len(vectors))
	for i, v := range vectors {
		out = append(out, Neighbor{ID: ids[i], Distance: fn(q, v)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// Recall returns the fraction of expected ids present in got.
func Recall(got []int64, expected []Neighbor) float64 {
	if len(expected) == 0 {
		return 1
	}
	want := make(map[int64]struct{}, len(expected))
	for _, n := range expected {
		want[n.ID] = struct{}{}
	}
	hits := 0
	for _, id := range got {
		if _, ok := want[id]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(expected))
}
