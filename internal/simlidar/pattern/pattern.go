// Package pattern builds the fixed ray directions a simulated sensor samples
// every cycle.
//
// All angles at the package boundary are in degrees. Directions live in the
// emitter's local frame: y is up, z is forward, x is right, and the angle
// pair (h=0, v=0) is the forward axis.
package pattern

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrInvalidPattern wraps every configuration error a generator rejects.
	ErrInvalidPattern = errors.New("invalid ray pattern")
	// ErrNonContiguousIntervals reports intervals whose ends and starts do not meet.
	ErrNonContiguousIntervals = errors.New("intervals are not contiguous")
)

// IntervalTolerance is the largest gap, in degrees, tolerated between one
// interval's End and the next interval's Start.
const IntervalTolerance = 1e-9

// Angles is a (horizontal, vertical) angle pair in degrees.
type Angles struct {
	H float64
	V float64
}

// Interval is a vertical band sampled with Count rays from Start (inclusive)
// towards End (exclusive), in degrees.
type Interval struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
	Count int     `json:"count" yaml:"count"`
}

// Set is an ordered sequence of unit ray directions in the local frame.
// Index order identifies the ray across every stage of a cycle.
type Set []r3.Vec

// Len returns the number of rays.
func (s Set) Len() int { return len(s) }

// Clone returns a copy that shares no storage with s.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	copy(out, s)
	return out
}

// Fingerprint hashes the exact bits of every direction. Two sets with the
// same fingerprint sample the same rays in the same order.
func (s Set) Fingerprint() uint64 {
	d := xxhash.New()
	var buf [24]byte
	for _, v := range s {
		binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(v.X))
		binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(v.Y))
		binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(v.Z))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

// Direction converts an angle pair to a unit vector:
// (cos v·sin h, sin v, cos v·cos h).
func Direction(a Angles) r3.Vec {
	h := a.H * math.Pi / 180
	v := a.V * math.Pi / 180
	sinH, cosH := math.Sincos(h)
	sinV, cosV := math.Sincos(v)
	return r3.Vec{X: cosV * sinH, Y: sinV, Z: cosV * cosH}
}

// FromAngles converts angle pairs to a direction set, preserving order.
func FromAngles(angles []Angles) Set {
	out := make(Set, len(angles))
	for i, a := range angles {
		out[i] = Direction(a)
	}
	return out
}

// UniformGrid samples width×height rays spread symmetrically over hFov and
// vFov. Index order is row-major: index = row*width + column, row 0 at the
// lowest vertical angle. An axis with a single ray points at angle 0.
func UniformGrid(width, height int, hFov, vFov float64) (Set, error) {
	angles, err := UniformAngles(width, height, hFov, vFov)
	if err != nil {
		return nil, err
	}
	return FromAngles(angles), nil
}

// UniformAngles is UniformGrid returning angle pairs instead of vectors so
// callers can substitute per-row vertical angles before conversion.
func UniformAngles(width, height int, hFov, vFov float64) ([]Angles, error) {
	if err := checkCount("width", width); err != nil {
		return nil, err
	}
	if err := checkCount("height", height); err != nil {
		return nil, err
	}
	if err := checkFov("hFov", hFov); err != nil {
		return nil, err
	}
	if err := checkFov("vFov", vFov); err != nil {
		return nil, err
	}

	hs := symmetricSpan(width, hFov)
	vs := symmetricSpan(height, vFov)

	out := make([]Angles, 0, width*height)
	for _, v := range vs {
		for _, h := range hs {
			out = append(out, Angles{H: h, V: v})
		}
	}
	return out, nil
}

// CustomVerticalAngles crosses an explicit list of vertical angles (one row
// each, e.g. from a datasheet) with a horizontal sweep of width rays. The
// sweep starts at 0 and steps by hFov/width, so a full 360° sweep never
// duplicates its first column. Index order is row-major over the list.
func CustomVerticalAngles(vertical []float64, width int, hFov float64) (Set, error) {
	if len(vertical) == 0 {
		return nil, fmt.Errorf("%w: vertical angle list is empty", ErrInvalidPattern)
	}
	for i, v := range vertical {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: vertical angle %d is not finite", ErrInvalidPattern, i)
		}
	}
	if err := checkCount("width", width); err != nil {
		return nil, err
	}
	if err := checkFov("hFov", hFov); err != nil {
		return nil, err
	}

	step := hFov / float64(width)
	out := make(Set, 0, len(vertical)*width)
	for _, v := range vertical {
		for i := 0; i < width; i++ {
			out = append(out, Direction(Angles{H: float64(i) * step, V: v}))
		}
	}
	return out, nil
}

// FromIntervals expands contiguous vertical intervals into rows and crosses
// them with the horizontal sweep of CustomVerticalAngles.
func FromIntervals(intervals []Interval, width int, hFov float64) (Set, error) {
	vertical, err := IntervalAngles(intervals)
	if err != nil {
		return nil, err
	}
	return CustomVerticalAngles(vertical, width, hFov)
}

// IntervalAngles returns the vertical angles of the intervals in order:
// Count angles per interval at Start + k·(End−Start)/Count, k ∈ [0, Count).
// Interval k must end where interval k+1 starts.
func IntervalAngles(intervals []Interval) ([]float64, error) {
	if len(intervals) == 0 {
		return nil, fmt.Errorf("%w: interval list is empty", ErrInvalidPattern)
	}

	total := 0
	for i, iv := range intervals {
		if err := checkCount(fmt.Sprintf("interval %d count", i), iv.Count); err != nil {
			return nil, err
		}
		if !finite(iv.Start) || !finite(iv.End) {
			return nil, fmt.Errorf("%w: interval %d bounds are not finite", ErrInvalidPattern, i)
		}
		if i > 0 {
			prev := intervals[i-1]
			if math.Abs(prev.End-iv.Start) > IntervalTolerance {
				return nil, fmt.Errorf("%w: %w: interval %d ends at %g but interval %d starts at %g",
					ErrInvalidPattern, ErrNonContiguousIntervals, i-1, prev.End, i, iv.Start)
			}
		}
		total += iv.Count
	}

	out := make([]float64, 0, total)
	for _, iv := range intervals {
		step := (iv.End - iv.Start) / float64(iv.Count)
		for k := 0; k < iv.Count; k++ {
			out = append(out, iv.Start+float64(k)*step)
		}
	}
	return out, nil
}

// symmetricSpan returns n angles evenly spaced over [-fov/2, fov/2],
// or a single 0 when n == 1.
func symmetricSpan(n int, fov float64) []float64 {
	if n == 1 {
		return []float64{0}
	}
	return floats.Span(make([]float64, n), -fov/2, fov/2)
}

func checkCount(name string, n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidPattern, name, n)
	}
	return nil
}

func checkFov(name string, fov float64) error {
	if !finite(fov) || fov < 0 {
		return fmt.Errorf("%w: %s must be a finite non-negative angle, got %g", ErrInvalidPattern, name, fov)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
