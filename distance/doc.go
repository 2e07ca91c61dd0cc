// Package distance provides the distance metrics used by vecdb indexes.
//
// All metrics are normalized so that smaller values mean nearer vectors.
// The dot metric returns the negated dot product for that reason.
package distance
