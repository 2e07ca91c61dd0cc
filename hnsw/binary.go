package hnsw

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/vecdb/distance"
)

// FormatVersion is the version tag written at the start of every encoded
// index.
const FormatVersion uint32 = 1

// Serialize encodes the complete index state into a little-endian binary
// buffer.
//
// Layout: version (u32), dimension (u64), metric length (u32) and UTF-8
// tag, M (u64), ef_construction (u64), entry point id (i64, -1 for none),
// max level (i32), record count (u64), then one block per record: id
// (i64), level (i32), vector (dimension f32), tombstone flag (u8) and per
// layer a neighbor count (u32) followed by neighbor ids (i64 each).
//
// The generator state is not part of the format; Deserialize re-seeds.
func (idx *Index) Serialize() []byte {
	size := 4 + 8 + 4 + len(idx.metric) + 8 + 8 + 8 + 4 + 8
	for _, rec := range idx.records {
		size += 8 + 4 + idx.dimension*4 + 1
		for _, conns := range rec.neighbors {
			size += 4 + len(conns)*8
		}
	}

	w := make([]byte, 0, size)
	w = binary.LittleEndian.AppendUint32(w, FormatVersion)
	w = binary.LittleEndian.AppendUint64(w, uint64(idx.dimension))
	w = binary.LittleEndian.AppendUint32(w, uint32(len(idx.metric)))
	w = append(w, idx.metric...)
	w = binary.LittleEndian.AppendUint64(w, uint64(idx.m))
	w = binary.LittleEndian.AppendUint64(w, uint64(idx.efConstruction))

	entryID := int64(noEntryPoint)
	if idx.entryPoint != noEntryPoint {
		entryID = idx.records[idx.entryPoint].id
	}
	w = binary.LittleEndian.AppendUint64(w, uint64(entryID))
	w = binary.LittleEndian.AppendUint32(w, uint32(int32(idx.maxLevel)))
	w = binary.LittleEndian.AppendUint64(w, uint64(len(idx.records)))

	for pos, rec := range idx.records {
		w = binary.LittleEndian.AppendUint64(w, uint64(rec.id))
		w = binary.LittleEndian.AppendUint32(w, uint32(int32(rec.level)))
		for _, f := range rec.vector {
			w = binary.LittleEndian.AppendUint32(w, math.Float32bits(f))
		}
		if idx.tombstones.Contains(uint32(pos)) {
			w = append(w, 1)
		} else {
			w = append(w, 0)
		}
		for _, conns := range rec.neighbors {
			w = binary.LittleEndian.AppendUint32(w, uint32(len(conns)))
			for _, n := range conns {
				w = binary.LittleEndian.AppendUint64(w, uint64(idx.records[n].id))
			}
		}
	}

	return w
}

// Deserialize reconstructs an index from a buffer produced by Serialize.
//
// The record order in the buffer is not significant. The level sampler is
// re-seeded, so inserts after a load are deterministic again.
func Deserialize(data []byte) (*Index, error) {
	r := &byteReader{data: data}

	version, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	dimension, err := r.uint64()
	if err != nil {
		return nil, err
	}
	metricLen, err := r.uint32()
	if err != nil {
		return nil, err
	}
	metricBytes, err := r.bytes(int(metricLen))
	if err != nil {
		return nil, err
	}
	m, err := r.uint64()
	if err != nil {
		return nil, err
	}
	efConstruction, err := r.uint64()
	if err != nil {
		return nil, err
	}
	entryID, err := r.int64()
	if err != nil {
		return nil, err
	}
	maxLevel, err := r.int32()
	if err != nil {
		return nil, err
	}
	numRecords, err := r.uint64()
	if err != nil {
		return nil, err
	}

	if dimension < 1 || dimension > math.MaxInt32 {
		return nil, fmt.Errorf("%w: dimension %d", ErrMalformed, dimension)
	}
	if maxLevel < 0 {
		return nil, fmt.Errorf("%w: max level %d", ErrMalformed, maxLevel)
	}

	idx, err := New(int(dimension), distance.Metric(metricBytes), func(o *Options) {
		o.M = int(m)
		o.EFConstruction = int(efConstruction)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	// First pass: records with neighbor ids staged; positions are not
	// known until every record is read.
	staged := make([][][]int64, numRecords)
	for i := uint64(0); i < numRecords; i++ {
		id, err := r.int64()
		if err != nil {
			return nil, err
		}
		level, err := r.int32()
		if err != nil {
			return nil, err
		}
		if level < 0 {
			return nil, fmt.Errorf("%w: record %d level %d", ErrMalformed, id, level)
		}
		vector, err := r.float32s(int(dimension))
		if err != nil {
			return nil, err
		}
		tombstone, err := r.byte()
		if err != nil {
			return nil, err
		}

		layers := make([][]int64, level+1)
		for l := int32(0); l <= level; l++ {
			count, err := r.uint32()
			if err != nil {
				return nil, err
			}
			neighbors, err := r.int64s(int(count))
			if err != nil {
				return nil, err
			}
			layers[l] = neighbors
		}

		if _, ok := idx.byID[id]; ok {
			return nil, fmt.Errorf("%w: duplicate record id %d", ErrMalformed, id)
		}

		pos := uint32(len(idx.records))
		idx.records = append(idx.records, &record{
			id:        id,
			level:     int(level),
			vector:    vector,
			neighbors: make([][]uint32, level+1),
		})
		idx.byID[id] = pos
		if tombstone != 0 {
			idx.tombstones.Add(pos)
		} else {
			idx.live++
		}
		staged[i] = layers
	}

	// Second pass: resolve neighbor ids to dense positions.
	for pos, layers := range staged {
		rec := idx.records[pos]
		for l, ids := range layers {
			conns := make([]uint32, len(ids))
			for i, nid := range ids {
				npos, ok := idx.byID[nid]
				if !ok {
					return nil, fmt.Errorf("%w: record %d references unknown id %d", ErrMalformed, rec.id, nid)
				}
				conns[i] = npos
			}
			rec.neighbors[l] = conns
		}
	}

	idx.maxLevel = int(maxLevel)
	if entryID != noEntryPoint {
		pos, ok := idx.byID[entryID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown entry point id %d", ErrMalformed, entryID)
		}
		idx.entryPoint = int32(pos)
	}

	return idx, nil
}

// byteReader reads little-endian fields from a buffer with explicit
// truncation checks.
type byteReader struct {
	data []byte
	off  int
}

func (r *byteReader) remaining() int { return len(r.data) - r.off }

func (r *byteReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, ErrTruncated
	}
	out := r.data[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *byteReader) byte() (byte, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) uint32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *byteReader) int32() (int32, error) {
	v, err := r.uint32()
	return int32(v), err
}

func (r *byteReader) uint64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *byteReader) int64() (int64, error) {
	v, err := r.uint64()
	return int64(v), err
}

func (r *byteReader) float32s(n int) ([]float32, error) {
	b, err := r.bytes(n * 4)
	if err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func (r *byteReader) int64s(n int) ([]int64, error) {
	b, err := r.bytes(n * 8)
	if err != nil {
		return nil, err
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out, nil
}
