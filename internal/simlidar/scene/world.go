// Package scene is a reference collision backend for the sampling engine:
// analytic spheres, planes and boxes plus triangle meshes, answering
// batched ray queries with the nearest hit.
package scene

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/simlidar/internal/simlidar"
	"gonum.org/v1/gonum/spatial/r3"
)

// Material describes how a collider responds to a sensor.
type Material struct {
	Name         string
	Reflectivity float64 // [0, 1]
	Class        int     // semantic class id, 0 = unlabelled
}

// Collider is a shape placed in the world with its handle and material.
type Collider struct {
	ID       simlidar.ColliderID
	Shape    Shape
	Material Material
}

// World is a static set of colliders. Build it with Add before handing it to
// an engine; Intersect is safe for concurrent use as long as no Add runs.
type World struct {
	colliders []Collider
}

var _ simlidar.Intersector = (*World)(nil)

// NewWorld returns an empty world.
func NewWorld() *World {
	return &World{}
}

// Add places a shape in the world and returns its handle. Handles start at 1.
func (w *World) Add(shape Shape, mat Material) simlidar.ColliderID {
	id := simlidar.ColliderID(len(w.colliders) + 1)
	w.colliders = append(w.colliders, Collider{ID: id, Shape: shape, Material: mat})
	return id
}

// Len returns the number of colliders.
func (w *World) Len() int { return len(w.colliders) }

// Collider looks up a collider by handle.
func (w *World) Collider(id simlidar.ColliderID) (Collider, bool) {
	if id == simlidar.NoCollider || int(id) > len(w.colliders) {
		return Collider{}, false
	}
	return w.colliders[id-1], true
}

// Materials returns a lookup from collider handle to material, suitable for
// reading resolvers that must not touch the world itself.
func (w *World) Materials() map[simlidar.ColliderID]Material {
	out := make(map[simlidar.ColliderID]Material, len(w.colliders))
	for _, c := range w.colliders {
		out[c.ID] = c.Material
	}
	return out
}

// Intersect implements simlidar.Intersector. hits[i] receives the nearest
// hit of cmds[i] within its MaxDistance, or the zero HitResult.
func (w *World) Intersect(ctx context.Context, cmds []simlidar.RayCommand, hits []simlidar.HitResult) error {
	if len(hits) != len(cmds) {
		return fmt.Errorf("scene: %d hit slots for %d commands", len(hits), len(cmds))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := range cmds {
		hits[i] = w.Cast(cmds[i])
	}
	return nil
}

// Cast answers a single ray.
func (w *World) Cast(cmd simlidar.RayCommand) simlidar.HitResult {
	if cmd.MaxDistance <= 0 || math.IsNaN(cmd.MaxDistance) {
		return simlidar.HitResult{}
	}
	best := cmd.MaxDistance
	var res simlidar.HitResult
	for _, c := range w.colliders {
		t, n, ok := c.Shape.Hit(cmd.Origin, cmd.Direction, best)
		if !ok {
			continue
		}
		best = t
		if r3.Dot(n, cmd.Direction) > 0 {
			n = r3.Scale(-1, n)
		}
		res = simlidar.HitResult{
			Hit:      true,
			Point:    r3.Add(cmd.Origin, r3.Scale(t, cmd.Direction)),
			Distance: t,
			Collider: c.ID,
			Normal:   n,
		}
	}
	return res
}
