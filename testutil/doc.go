// Package testutil provides seeded random vector generation and a
// brute-force search oracle for tests.
package testutil
