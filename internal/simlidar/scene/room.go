package scene

import "gonum.org/v1/gonum/spatial/r3"

// Semantic classes used by NewRoom.
const (
	ClassWall   = 1
	ClassPillar = 2
	ClassCrate  = 3
)

// NewRoom builds a furnished test room: a closed shell of the given width (X),
// depth (Z) and height (Y) centred on the origin with its floor at Y=0, two
// spherical pillars and a crate. Sensors placed inside it always see a return
// within the room's diagonal.
func NewRoom(width, depth, height float64) *World {
	w := NewWorld()
	hx, hz := width/2, depth/2
	w.Add(NewBox(r3.Vec{X: -hx, Y: 0, Z: -hz}, r3.Vec{X: hx, Y: height, Z: hz}),
		Material{Name: "wall", Reflectivity: 0.6, Class: ClassWall})

	r := min(width, depth) / 12
	w.Add(Sphere{Center: r3.Vec{X: -hx / 2, Y: r, Z: hz / 2}, Radius: r},
		Material{Name: "pillar", Reflectivity: 0.9, Class: ClassPillar})
	w.Add(Sphere{Center: r3.Vec{X: hx / 2, Y: r, Z: -hz / 2}, Radius: r},
		Material{Name: "pillar", Reflectivity: 0.9, Class: ClassPillar})

	c := r * 1.5
	w.Add(NewBox(r3.Vec{X: hx/2 - c, Y: 0, Z: hz/2 - c}, r3.Vec{X: hx / 2, Y: c, Z: hz / 2}),
		Material{Name: "crate", Reflectivity: 0.3, Class: ClassCrate})
	return w
}
