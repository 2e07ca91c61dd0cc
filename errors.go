package vecdb

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vecdb/distance"
	"github.com/hupe1980/vecdb/hnsw"
	"github.com/hupe1980/vecdb/persistence"
)

var (
	// ErrNotFound is returned when an item is not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is the umbrella for argument validation
	// failures. All argument errors match it via errors.Is.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = fmt.Errorf("%w: k must be positive", ErrInvalidArgument)

	// ErrCollectionExists is returned when creating a collection whose
	// name is already taken.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrCollectionNotFound is returned when a named collection does not
	// exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCorrupted is returned when persisted data fails integrity or
	// format validation.
	ErrCorrupted = errors.New("corrupted data")

	// ErrClosed is returned when operations are attempted on a closed
	// database.
	ErrClosed = errors.New("database is closed")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrInvalidDimension indicates an invalid configured dimension.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidDimension struct {
	Dimension int
	cause     error
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

func (e *ErrInvalidDimension) Unwrap() error { return e.cause }

func (e *ErrInvalidDimension) Is(target error) bool { return target == ErrInvalidArgument }

// ErrInvalidMetric indicates an unsupported distance metric.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidMetric struct {
	Metric distance.Metric
	cause  error
}

func (e *ErrInvalidMetric) Error() string {
	return fmt.Sprintf("invalid metric: %q", e.Metric)
}

func (e *ErrInvalidMetric) Unwrap() error { return e.cause }

func (e *ErrInvalidMetric) Is(target error) bool { return target == ErrInvalidArgument }

// ErrDuplicateID indicates an insert with an id already present in the
// collection (live or tombstoned).
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDuplicateID struct {
	ID    int64
	cause error
}

func (e *ErrDuplicateID) Error() string {
	return fmt.Sprintf("duplicate id: %d", e.ID)
}

func (e *ErrDuplicateID) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dm *hnsw.DimensionMismatchError
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	var id *hnsw.InvalidDimensionError
	if errors.As(err, &id) {
		return &ErrInvalidDimension{Dimension: id.Dimension, cause: err}
	}
	var im *hnsw.InvalidMetricError
	if errors.As(err, &im) {
		return &ErrInvalidMetric{Metric: im.Metric, cause: err}
	}
	var dup *hnsw.DuplicateIDError
	if errors.As(err, &dup) {
		return &ErrDuplicateID{ID: dup.ID, cause: err}
	}
	if errors.Is(err, hnsw.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}

	// Persisted data integrity unification.
	if errors.Is(err, hnsw.ErrTruncated) ||
		errors.Is(err, hnsw.ErrMalformed) ||
		errors.Is(err, hnsw.ErrUnsupportedVersion) ||
		errors.Is(err, persistence.ErrInvalidMagic) ||
		errors.Is(err, persistence.ErrInvalidVersion) ||
		errors.Is(err, persistence.ErrInvalidCompression) ||
		errors.Is(err, persistence.ErrTruncated) {
		return fmt.Errorf("%w: %w", ErrCorrupted, err)
	}
	var mismatch *persistence.ChecksumMismatchError
	if errors.As(err, &mismatch) {
		return fmt.Errorf("%w: %w", ErrCorrupted, err)
	}

	return err
}
