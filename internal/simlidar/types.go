package simlidar

import (
	"context"

	"gonum.org/v1/gonum/spatial/r3"
)

// ColliderID is an opaque handle to the geometry a ray struck.
// The zero value means no collider.
type ColliderID uint32

// NoCollider is the handle carried by a miss.
const NoCollider ColliderID = 0

// RayCommand is one world-space ray submitted to the scene for a cycle.
type RayCommand struct {
	Origin      r3.Vec
	Direction   r3.Vec // unit length
	MaxDistance float64
}

// HitResult is the scene's answer for one RayCommand.
// A miss is the zero value; it is never reported as an error.
type HitResult struct {
	Hit      bool
	Point    r3.Vec // world frame
	Distance float64
	Collider ColliderID
	Normal   r3.Vec // world frame, unit length when Hit
}

// Intersector is the batched scene intersection primitive. Implementations
// fill hits[i] for cmds[i]; len(hits) == len(cmds). Intersect is called
// concurrently on disjoint sub-slices and must not retain either slice.
type Intersector interface {
	Intersect(ctx context.Context, cmds []RayCommand, hits []HitResult) error
}

// IntersectorFunc adapts a plain function to Intersector.
type IntersectorFunc func(ctx context.Context, cmds []RayCommand, hits []HitResult) error

// Intersect calls f.
func (f IntersectorFunc) Intersect(ctx context.Context, cmds []RayCommand, hits []HitResult) error {
	return f(ctx, cmds, hits)
}

// PoseSource reports the emitter's current world pose.
type PoseSource interface {
	Pose() Pose
}

// PoseFunc adapts a plain function to PoseSource.
type PoseFunc func() Pose

// Pose calls f.
func (f PoseFunc) Pose() Pose { return f() }

// StaticPose is a PoseSource that never moves.
type StaticPose Pose

// Pose returns the fixed pose.
func (s StaticPose) Pose() Pose { return Pose(s) }
