package hnsw

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/vecdb/distance"
	"github.com/hupe1980/vecdb/testutil"
)

func TestNewValidation(t *testing.T) {
	t.Run("invalid dimension", func(t *testing.T) {
		_, err := New(0, distance.MetricL2)
		var ide *InvalidDimensionError
		require.ErrorAs(t, err, &ide)
		assert.Equal(t, 0, ide.Dimension)
	})

	t.Run("invalid metric", func(t *testing.T) {
		_, err := New(4, distance.Metric("manhattan"))
		var ime *InvalidMetricError
		require.ErrorAs(t, err, &ime)
	})

	t.Run("defaults", func(t *testing.T) {
		idx, err := New(4, distance.MetricL2)
		require.NoError(t, err)
		assert.Equal(t, DefaultM, idx.M())
		assert.Equal(t, DefaultEFConstruction, idx.EFConstruction())
		assert.Equal(t, 4, idx.Dimension())
		assert.Equal(t, distance.MetricL2, idx.Metric())
	})
}

func TestDimensionEnforcement(t *testing.T) {
	idx, err := New(4, distance.MetricL2)
	require.NoError(t, err)

	var dme *DimensionMismatchError

	err = idx.Add(1, []float32{1, 2, 3})
	require.ErrorAs(t, err, &dme)
	assert.Equal(t, 4, dme.Expected)
	assert.Equal(t, 3, dme.Actual)
	assert.Equal(t, 0, idx.Count())
	assert.Equal(t, 0, idx.LiveCount())

	_, err = idx.Search([]float32{1, 2, 3, 4, 5}, 1, DefaultEFSearch)
	require.ErrorAs(t, err, &dme)
}

func TestDuplicateRejection(t *testing.T) {
	idx, err := New(2, distance.MetricL2)
	require.NoError(t, err)

	require.NoError(t, idx.Add(1, []float32{1, 2}))

	var dup *DuplicateIDError
	err = idx.Add(1, []float32{3, 4})
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, int64(1), dup.ID)
	assert.Equal(t, 1, idx.Count())

	// Tombstoned identifiers stay taken: re-insertion is rejected too.
	require.True(t, idx.Remove(1))
	err = idx.Add(1, []float32{3, 4})
	require.ErrorAs(t, err, &dup)
}

func TestSearchArguments(t *testing.T) {
	idx, err := New(2, distance.MetricL2)
	require.NoError(t, err)
	require.NoError(t, idx.Add(1, []float32{0, 0}))

	_, err = idx.Search([]float32{0, 0}, 0, DefaultEFSearch)
	require.ErrorIs(t, err, ErrInvalidK)

	_, err = idx.Search([]float32{0, 0}, -3, DefaultEFSearch)
	require.ErrorIs(t, err, ErrInvalidK)
}

func TestEmptySearch(t *testing.T) {
	idx, err := New(2, distance.MetricL2)
	require.NoError(t, err)

	results, err := idx.Search([]float32{0, 0}, 5, DefaultEFSearch)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTombstoneInvisibility(t *testing.T) {
	idx, err := New(8, distance.MetricL2)
	require.NoError(t, err)

	rng := testutil.NewRNG(1)
	vectors := rng.UniformVectors(50, 8)
	for i, v := range vectors {
		require.NoError(t, idx.Add(int64(i), v))
	}

	removed := map[int64]struct{}{}
	for id := int64(0); id < 10; id++ {
		require.True(t, idx.Remove(id))
		removed[id] = struct{}{}
	}

	for i := 0; i < 20; i++ {
		q := rng.UniformVector(8)
		results, err := idx.Search(q, 50, 100)
		require.NoError(t, err)
		for _, r := range results {
			_, gone := removed[r.ID]
			assert.False(t, gone, "tombstoned id %d returned", r.ID)
		}
	}
}

func TestLiveCountIdentity(t *testing.T) {
	idx, err := New(4, distance.MetricL2)
	require.NoError(t, err)

	rng := testutil.NewRNG(2)
	const n = 40
	for i := 0; i < n; i++ {
		require.NoError(t, idx.Add(int64(i), rng.UniformVector(4)))
	}
	assert.Equal(t, n, idx.LiveCount())

	const r = 15
	for i := 0; i < r; i++ {
		require.True(t, idx.Remove(int64(i)))
	}
	assert.Equal(t, n-r, idx.LiveCount())
	assert.Equal(t, n, idx.Count())

	// No-ops do not change the count.
	assert.False(t, idx.Remove(0))
	assert.False(t, idx.Remove(9999))
	assert.Equal(t, n-r, idx.LiveCount())
}

func TestSelfQuery(t *testing.T) {
	t.Run("l2", func(t *testing.T) {
		idx, err := New(8, distance.MetricL2)
		require.NoError(t, err)

		rng := testutil.NewRNG(3)
		vectors := rng.UniformVectors(30, 8)
		for i, v := range vectors {
			require.NoError(t, idx.Add(int64(i), v))
		}

		for i, v := range vectors {
			results, err := idx.Search(v, 1, DefaultEFSearch)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, int64(i), results[0].ID)
			assert.Equal(t, float32(0), results[0].Distance)
		}
	})

	t.Run("cosine", func(t *testing.T) {
		idx, err := New(8, distance.MetricCosine)
		require.NoError(t, err)

		rng := testutil.NewRNG(4)
		vectors := rng.UniformVectors(30, 8)
		for i, v := range vectors {
			require.NoError(t, idx.Add(int64(i), v))
		}

		for i, v := range vectors {
			results, err := idx.Search(v, 1, DefaultEFSearch)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, int64(i), results[0].ID)
			assert.LessOrEqual(t, results[0].Distance, float32(1e-5))
		}
	})
}

func TestDistanceOrdering(t *testing.T) {
	idx, err := New(8, distance.MetricL2)
	require.NoError(t, err)

	rng := testutil.NewRNG(5)
	for i := 0; i < 200; i++ {
		require.NoError(t, idx.Add(int64(i), rng.UniformVector(8)))
	}

	for i := 0; i < 10; i++ {
		q := rng.UniformVector(8)
		results, err := idx.Search(q, 25, 64)
		require.NoError(t, err)
		for j := 1; j < len(results); j++ {
			assert.LessOrEqual(t, results[j-1].Distance, results[j].Distance)
		}
	}
}

func TestDeterminism(t *testing.T) {
	build := func() *Index {
		idx, err := New(8, distance.MetricL2, func(o *Options) {
			o.M = 8
			o.EFConstruction = 64
		})
		require.NoError(t, err)
		rng := testutil.NewRNG(6)
		for i := 0; i < 150; i++ {
			require.NoError(t, idx.Add(int64(i), rng.UniformVector(8)))
		}
		return idx
	}

	a := build()
	b := build()

	assert.True(t, bytes.Equal(a.Serialize(), b.Serialize()))

	rng := testutil.NewRNG(7)
	for i := 0; i < 5; i++ {
		q := rng.UniformVector(8)
		ra, err := a.Search(q, 10, DefaultEFSearch)
		require.NoError(t, err)
		rb, err := b.Search(q, 10, DefaultEFSearch)
		require.NoError(t, err)
		assert.Equal(t, ra, rb)
	}
}

func TestDegreeBounds(t *testing.T) {
	for _, heuristic := range []bool{false, true} {
		name := "simple"
		if heuristic {
			name = "heuristic"
		}
		t.Run(name, func(t *testing.T) {
			const m = 4
			idx, err := New(8, distance.MetricL2, func(o *Options) {
				o.M = m
				o.EFConstruction = 32
				o.Heuristic = heuristic
			})
			require.NoError(t, err)

			checkBounds := func() {
				for id := int64(0); id < int64(idx.Count()); id++ {
					level, ok := idx.Level(id)
					require.True(t, ok)
					for l := 0; l <= level; l++ {
						neighbors, ok := idx.Neighbors(id, l)
						require.True(t, ok)
						bound := m
						if l == 0 {
							bound = 2 * m
						}
						assert.LessOrEqual(t, len(neighbors), bound)

						// No self loops, no duplicates.
						seen := map[int64]struct{}{}
						for _, n := range neighbors {
							assert.NotEqual(t, id, n)
							_, dup := seen[n]
							assert.False(t, dup)
							seen[n] = struct{}{}
						}
					}
				}
			}

			rng := testutil.NewRNG(8)
			for i := 0; i < 300; i++ {
				require.NoError(t, idx.Add(int64(i), rng.UniformVector(8)))
				if i%25 == 0 {
					checkBounds()
				}
			}
			checkBounds()
		})
	}
}

func TestRecall(t *testing.T) {
	for _, metric := range []distance.Metric{distance.MetricL2, distance.MetricCosine, distance.MetricDot} {
		t.Run(metric.String(), func(t *testing.T) {
			const (
				n   = 1000
				dim = 16
				k   = 10
			)

			idx, err := New(dim, metric)
			require.NoError(t, err)

			rng := testutil.NewRNG(9)
			vectors := rng.UniformVectors(n, dim)
			ids := make([]int64, n)
			for i, v := range vectors {
				ids[i] = int64(i)
				require.NoError(t, idx.Add(int64(i), v))
			}

			fn, err := distance.Provider(metric)
			require.NoError(t, err)

			total := 0.0
			const queries = 50
			for i := 0; i < queries; i++ {
				q := rng.UniformVector(dim)
				expected := testutil.BruteForce(q, ids, vectors, k, fn)

				results, err := idx.Search(q, k, 50)
				require.NoError(t, err)
				got := make([]int64, len(results))
				for j, r := range results {
					got[j] = r.ID
				}
				total += testutil.Recall(got, expected)
			}

			recall := total / queries
			assert.GreaterOrEqual(t, recall, 0.9, "recall@10 = %f", recall)
		})
	}
}

func TestScenarioS1(t *testing.T) {
	idx, err := New(4, distance.MetricL2)
	require.NoError(t, err)

	require.NoError(t, idx.Add(1, []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Add(2, []float32{0, 1, 0, 0}))
	require.NoError(t, idx.Add(3, []float32{0, 0, 1, 0}))

	results, err := idx.Search([]float32{1, 0, 0, 0}, 1, DefaultEFSearch)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)
	assert.Equal(t, float32(0), results[0].Distance)
}

func TestScenarioS2(t *testing.T) {
	idx, err := New(4, distance.MetricL2)
	require.NoError(t, err)

	require.NoError(t, idx.Add(1, []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Add(2, []float32{0, 1, 0, 0}))
	require.NoError(t, idx.Add(3, []float32{0, 0, 1, 0}))
	require.True(t, idx.Remove(1))

	results, err := idx.Search([]float32{1, 0, 0, 0}, 2, DefaultEFSearch)
	require.NoError(t, err)
	require.Len(t, results, 2)

	sqrt2 := float32(math.Sqrt(2))
	got := map[int64]bool{}
	for _, r := range results {
		got[r.ID] = true
		assert.InDelta(t, sqrt2, r.Distance, 1e-6)
	}
	assert.True(t, got[2])
	assert.True(t, got[3])
}

func TestScenarioS3(t *testing.T) {
	idx, err := New(3, distance.MetricCosine)
	require.NoError(t, err)

	require.NoError(t, idx.Add(1, []float32{1, 0, 0}))
	require.NoError(t, idx.Add(2, []float32{-1, 0, 0}))

	results, err := idx.Search([]float32{1, 0, 0}, 2, DefaultEFSearch)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	assert.Equal(t, int64(2), results[1].ID)
	assert.InDelta(t, 2, results[1].Distance, 1e-6)
}

func TestScenarioS4(t *testing.T) {
	idx, err := New(3, distance.MetricDot)
	require.NoError(t, err)

	require.NoError(t, idx.Add(1, []float32{1, 1, 1}))
	require.NoError(t, idx.Add(2, []float32{2, 2, 2}))

	results, err := idx.Search([]float32{1, 1, 1}, 2, DefaultEFSearch)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(2), results[0].ID)
	assert.Equal(t, float32(-6), results[0].Distance)
	assert.Equal(t, int64(1), results[1].ID)
	assert.Equal(t, float32(-3), results[1].Distance)
}

func TestScenarioS6(t *testing.T) {
	idx, err := New(2, distance.MetricL2)
	require.NoError(t, err)

	require.NoError(t, idx.Add(7, []float32{0, 0}))
	require.True(t, idx.Remove(7))
	assert.Equal(t, 0, idx.LiveCount())

	results, err := idx.Search([]float32{0, 0}, 1, DefaultEFSearch)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEntryPointPromotion(t *testing.T) {
	idx, err := New(2, distance.MetricL2, func(o *Options) {
		o.M = 2
	})
	require.NoError(t, err)

	rng := testutil.NewRNG(10)
	for i := 0; i < 100; i++ {
		require.NoError(t, idx.Add(int64(i), rng.UniformVector(2)))
	}

	ep, ok := idx.EntryPoint()
	require.True(t, ok)
	level, ok := idx.Level(ep)
	require.True(t, ok)
	assert.Equal(t, idx.MaxLevel(), level)
}

func TestStats(t *testing.T) {
	idx, err := New(4, distance.MetricL2)
	require.NoError(t, err)

	rng := testutil.NewRNG(11)
	for i := 0; i < 50; i++ {
		require.NoError(t, idx.Add(int64(i), rng.UniformVector(4)))
	}
	require.True(t, idx.Remove(0))

	stats := idx.Stats()
	assert.Equal(t, 50, stats.TotalRecords)
	assert.Equal(t, 49, stats.LiveRecords)
	assert.Equal(t, 1, stats.Tombstones)
	assert.Equal(t, idx.MaxLevel(), stats.MaxLevel)
	require.Len(t, stats.Levels, idx.MaxLevel()+1)
	assert.Equal(t, 50, stats.Levels[0].Records)
}
