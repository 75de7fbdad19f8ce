// Package readings provides the resolvers that turn raw hits into sensor
// readings: range with intensity, and semantic class with range.
//
// A zero reading encodes "no return". Consumers tell returns apart by
// Distance > 0, which holds for every real hit beyond the engine's minimum
// distance.
package readings

import (
	"math"

	"github.com/banshee-data/simlidar/internal/simlidar"
	"github.com/banshee-data/simlidar/internal/simlidar/engine"
	"github.com/banshee-data/simlidar/internal/simlidar/scene"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultReflectivity is used for colliders without a material entry.
const DefaultReflectivity = 0.5

// Range is a time-of-flight return. The zero value is the no-return
// sentinel; a return at distance 0 is still a return.
type Range struct {
	Distance  float64 // metres
	Intensity uint8   // Lambertian return strength, 0..255
	Return    bool
}

// Valid reports whether r is a real return.
func (r Range) Valid() bool { return r.Return }

// Class is a semantic segmentation return.
type Class struct {
	ClassID  int // 0 = unlabelled
	Distance float64
	Return   bool
}

// Valid reports whether c is a real return.
func (c Class) Valid() bool { return c.Return }

// RangeResolver returns a resolver producing Range readings. Intensity
// follows Lambert's cosine law scaled by the struck collider's reflectivity.
// The materials map is read concurrently and must not change afterwards.
func RangeResolver(materials map[simlidar.ColliderID]scene.Material) engine.Resolver[Range] {
	return func(hit simlidar.HitResult, dir r3.Vec, _ int) Range {
		if !hit.Hit {
			return Range{}
		}
		reflectivity := DefaultReflectivity
		if m, ok := materials[hit.Collider]; ok {
			reflectivity = m.Reflectivity
		}
		return Range{
			Distance:  hit.Distance,
			Intensity: Lambertian(reflectivity, hit.Normal, dir),
			Return:    true,
		}
	}
}

// Lambertian returns the 8-bit return strength of a ray travelling along dir
// onto a surface with normal n.
func Lambertian(reflectivity float64, n, dir r3.Vec) uint8 {
	if r3.Norm(n) == 0 || r3.Norm(dir) == 0 {
		return 0
	}
	cos := math.Abs(r3.Cos(n, dir))
	v := math.Max(0, math.Min(1, reflectivity)) * cos * 255
	return uint8(math.Round(v))
}

// ClassResolver returns a resolver producing Class readings from a collider
// to class lookup. Unknown colliders map to class 0.
func ClassResolver(classes map[simlidar.ColliderID]int) engine.Resolver[Class] {
	return func(hit simlidar.HitResult, _ r3.Vec, _ int) Class {
		if !hit.Hit {
			return Class{}
		}
		return Class{ClassID: classes[hit.Collider], Distance: hit.Distance, Return: true}
	}
}

// ClassesOf extracts the collider to class lookup from world materials.
func ClassesOf(materials map[simlidar.ColliderID]scene.Material) map[simlidar.ColliderID]int {
	out := make(map[simlidar.ColliderID]int, len(materials))
	for id, m := range materials {
		out[id] = m.Class
	}
	return out
}

// RangeOf extracts the distance of a Range reading and whether it is a
// return.
func RangeOf(r Range) (float64, bool) { return r.Distance, r.Return }

// ClassRangeOf extracts the distance of a Class reading and whether it is a
// return.
func ClassRangeOf(c Class) (float64, bool) { return c.Distance, c.Return }
