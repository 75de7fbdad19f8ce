package scene

import (
	"fmt"

	"github.com/banshee-data/simlidar/internal/simlidar"
	"github.com/fogleman/fauxgl"
	"gonum.org/v1/gonum/spatial/r3"
)

// LoadMesh reads an STL, OBJ or PLY file and places it in the world frame by
// scaling about the file origin and then applying pose.
func LoadMesh(path string, scale float64, pose simlidar.Pose) (*Mesh, error) {
	m, err := fauxgl.LoadMesh(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load mesh %q: %w", path, err)
	}
	if len(m.Triangles) == 0 {
		return nil, fmt.Errorf("mesh %q has no triangles", path)
	}
	return FromFauxgl(m, scale, pose), nil
}

// FromFauxgl converts a fauxgl mesh into a collision mesh.
func FromFauxgl(m *fauxgl.Mesh, scale float64, pose simlidar.Pose) *Mesh {
	if scale == 0 {
		scale = 1
	}
	place := func(v fauxgl.Vector) r3.Vec {
		return pose.Transform(r3.Scale(scale, r3.Vec{X: v.X, Y: v.Y, Z: v.Z}))
	}
	tris := make([]r3.Triangle, 0, len(m.Triangles))
	for _, t := range m.Triangles {
		tris = append(tris, r3.Triangle{
			place(t.V1.Position),
			place(t.V2.Position),
			place(t.V3.Position),
		})
	}
	return NewMesh(tris)
}
