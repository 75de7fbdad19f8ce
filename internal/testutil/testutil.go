// Package testutil provides shared test helpers for geometry-heavy tests.
package testutil

import (
	"math"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertVecNear fails the test if got and want differ by more than tol in
// any component.
func AssertVecNear(t testing.TB, got, want r3.Vec, tol float64) {
	t.Helper()
	d := r3.Sub(got, want)
	if math.Abs(d.X) > tol || math.Abs(d.Y) > tol || math.Abs(d.Z) > tol || math.IsNaN(r3.Norm(d)) {
		t.Errorf("vector = %v, want %v (tol %g)", got, want, tol)
	}
}

// AssertUnitVectors fails the test for every vector whose length is not 1
// within tol.
func AssertUnitVectors(t testing.TB, vs []r3.Vec, tol float64) {
	t.Helper()
	for i, v := range vs {
		if n := r3.Norm(v); math.Abs(n-1) > tol {
			t.Errorf("vector %d = %v has length %g, want 1", i, v, n)
		}
	}
}

// TempPath returns a path named name inside a per-test temporary directory.
func TempPath(t testing.TB, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}
