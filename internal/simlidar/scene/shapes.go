package scene

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// hitEpsilon keeps a ray from re-hitting the surface it starts on.
const hitEpsilon = 1e-9

// Shape is collision geometry a ray can strike. Hit returns the distance t
// along the unit direction dir to the nearest intersection in
// (hitEpsilon, tMax] and the outward surface normal there.
type Shape interface {
	Hit(origin, dir r3.Vec, tMax float64) (t float64, normal r3.Vec, ok bool)
}

// Sphere is hit from outside and from inside.
type Sphere struct {
	Center r3.Vec
	Radius float64
}

// Hit implements Shape.
func (s Sphere) Hit(origin, dir r3.Vec, tMax float64) (float64, r3.Vec, bool) {
	oc := r3.Sub(origin, s.Center)
	b := r3.Dot(oc, dir)
	c := r3.Dot(oc, oc) - s.Radius*s.Radius
	disc := b*b - c
	if disc < 0 {
		return 0, r3.Vec{}, false
	}
	root := math.Sqrt(disc)
	t := -b - root
	if t <= hitEpsilon {
		t = -b + root
	}
	if t <= hitEpsilon || t > tMax {
		return 0, r3.Vec{}, false
	}
	p := r3.Add(origin, r3.Scale(t, dir))
	return t, r3.Scale(1/s.Radius, r3.Sub(p, s.Center)), true
}

// Plane is an infinite plane through Point with unit Normal.
type Plane struct {
	Point  r3.Vec
	Normal r3.Vec
}

// Hit implements Shape.
func (pl Plane) Hit(origin, dir r3.Vec, tMax float64) (float64, r3.Vec, bool) {
	n := r3.Unit(pl.Normal)
	denom := r3.Dot(n, dir)
	if math.Abs(denom) < 1e-12 {
		return 0, r3.Vec{}, false
	}
	t := r3.Dot(r3.Sub(pl.Point, origin), n) / denom
	if t <= hitEpsilon || t > tMax {
		return 0, r3.Vec{}, false
	}
	return t, n, true
}

// Box is an axis-aligned box. Rays starting inside hit the far wall.
type Box struct {
	r3.Box
}

// NewBox returns the axis-aligned box spanning the two corners.
func NewBox(lo, hi r3.Vec) Box {
	return Box{r3.NewBox(lo.X, lo.Y, lo.Z, hi.X, hi.Y, hi.Z)}
}

// Hit implements Shape using the slab method.
func (b Box) Hit(origin, dir r3.Vec, tMax float64) (float64, r3.Vec, bool) {
	tNear, tFar := math.Inf(-1), math.Inf(1)
	var nearAxis, farAxis int
	o := [3]float64{origin.X, origin.Y, origin.Z}
	d := [3]float64{dir.X, dir.Y, dir.Z}
	lo := [3]float64{b.Min.X, b.Min.Y, b.Min.Z}
	hi := [3]float64{b.Max.X, b.Max.Y, b.Max.Z}

	for axis := 0; axis < 3; axis++ {
		if math.Abs(d[axis]) < 1e-15 {
			if o[axis] < lo[axis] || o[axis] > hi[axis] {
				return 0, r3.Vec{}, false
			}
			continue
		}
		t0 := (lo[axis] - o[axis]) / d[axis]
		t1 := (hi[axis] - o[axis]) / d[axis]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > tNear {
			tNear, nearAxis = t0, axis
		}
		if t1 < tFar {
			tFar, farAxis = t1, axis
		}
		if tNear > tFar {
			return 0, r3.Vec{}, false
		}
	}

	t, axis := tNear, nearAxis
	if t <= hitEpsilon {
		t, axis = tFar, farAxis
	}
	if t <= hitEpsilon || t > tMax {
		return 0, r3.Vec{}, false
	}

	var n [3]float64
	p := [3]float64{o[0] + t*d[0], o[1] + t*d[1], o[2] + t*d[2]}
	if math.Abs(p[axis]-lo[axis]) < math.Abs(p[axis]-hi[axis]) {
		n[axis] = -1
	} else {
		n[axis] = 1
	}
	return t, r3.Vec{X: n[0], Y: n[1], Z: n[2]}, true
}

// Mesh is a triangle soup with a bounding box for early rejection.
type Mesh struct {
	Triangles []r3.Triangle
	bounds    Box
}

// NewMesh builds a mesh and its bounds.
func NewMesh(tris []r3.Triangle) *Mesh {
	m := &Mesh{Triangles: tris}
	if len(tris) == 0 {
		return m
	}
	lo, hi := tris[0][0], tris[0][0]
	for _, tri := range tris {
		for _, v := range tri {
			lo = r3.Vec{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
			hi = r3.Vec{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
		}
	}
	pad := r3.Vec{X: 1e-6, Y: 1e-6, Z: 1e-6}
	m.bounds = NewBox(r3.Sub(lo, pad), r3.Add(hi, pad))
	return m
}

// Bounds returns the mesh's axis-aligned bounding box.
func (m *Mesh) Bounds() r3.Box { return m.bounds.Box }

// Hit implements Shape with Möller–Trumbore per triangle.
func (m *Mesh) Hit(origin, dir r3.Vec, tMax float64) (float64, r3.Vec, bool) {
	if len(m.Triangles) == 0 {
		return 0, r3.Vec{}, false
	}
	if !m.bounds.contains(origin) {
		if _, _, ok := m.bounds.Hit(origin, dir, tMax); !ok {
			return 0, r3.Vec{}, false
		}
	}

	best := tMax
	var bestNormal r3.Vec
	found := false
	for _, tri := range m.Triangles {
		t, ok := hitTriangle(tri, origin, dir, best)
		if !ok {
			continue
		}
		best, found = t, true
		bestNormal = r3.Unit(tri.Normal())
	}
	return best, bestNormal, found
}

func (b Box) contains(p r3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

func hitTriangle(tri r3.Triangle, origin, dir r3.Vec, tMax float64) (float64, bool) {
	e1 := r3.Sub(tri[1], tri[0])
	e2 := r3.Sub(tri[2], tri[0])
	pv := r3.Cross(dir, e2)
	det := r3.Dot(e1, pv)
	if math.Abs(det) < 1e-12 {
		return 0, false
	}
	inv := 1 / det
	tv := r3.Sub(origin, tri[0])
	u := r3.Dot(tv, pv) * inv
	if u < 0 || u > 1 {
		return 0, false
	}
	qv := r3.Cross(tv, e1)
	v := r3.Dot(dir, qv) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := r3.Dot(e2, qv) * inv
	if t <= hitEpsilon || t > tMax {
		return 0, false
	}
	return t, true
}
