package hnsw

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vecdb/distance"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("hnsw: k must be positive")

	// ErrUnsupportedVersion is returned when decoding data written with an
	// unknown format version.
	ErrUnsupportedVersion = errors.New("hnsw: unsupported format version")

	// ErrTruncated is returned when decoding runs out of input.
	ErrTruncated = errors.New("hnsw: truncated index data")

	// ErrMalformed is returned when decoded fields are inconsistent.
	ErrMalformed = errors.New("hnsw: malformed index data")
)

// DimensionMismatchError indicates a vector/query dimensionality mismatch.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("hnsw: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// DuplicateIDError indicates an insertion under an identifier that is
// already present.
type DuplicateIDError struct {
	ID int64
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("hnsw: id %d already exists", e.ID)
}

// InvalidDimensionError indicates an invalid configured dimension.
type InvalidDimensionError struct {
	Dimension int
}

func (e *InvalidDimensionError) Error() string {
	return fmt.Sprintf("hnsw: invalid dimension: %d", e.Dimension)
}

// InvalidMetricError indicates an unknown metric tag.
type InvalidMetricError struct {
	Metric distance.Metric
}

func (e *InvalidMetricError) Error() string {
	return fmt.Sprintf("hnsw: invalid metric: %q", e.Metric)
}
