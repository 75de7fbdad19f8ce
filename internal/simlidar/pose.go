package simlidar

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is an emitter's rigid placement in the world: a position plus a
// rotation from the local frame (y up, z forward) into the world frame.
// A zero Rotation is treated as the identity.
type Pose struct {
	Position r3.Vec
	Rotation r3.Rotation
}

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 0.01

// ErrInvalidPose reports a pose that is not a proper rigid transform.
var ErrInvalidPose = errors.New("invalid pose")

var (
	axisX = r3.Vec{X: 1}
	axisY = r3.Vec{Y: 1}
	axisZ = r3.Vec{Z: 1}
)

// IdentityRotation returns the rotation that leaves vectors unchanged.
func IdentityRotation() r3.Rotation {
	return r3.Rotation{Real: 1}
}

// RotationFromEuler builds a rotation from yaw (about y), pitch (about x)
// and roll (about z), all in degrees, applied roll first then pitch then yaw.
func RotationFromEuler(yawDeg, pitchDeg, rollDeg float64) r3.Rotation {
	yaw := r3.NewRotation(yawDeg*math.Pi/180, axisY)
	pitch := r3.NewRotation(pitchDeg*math.Pi/180, axisX)
	roll := r3.NewRotation(rollDeg*math.Pi/180, axisZ)
	return Compose(yaw, Compose(pitch, roll))
}

// Compose returns the rotation that applies b and then a.
func Compose(a, b r3.Rotation) r3.Rotation {
	return r3.Rotation(quat.Mul(quat.Number(normalize(a)), quat.Number(normalize(b))))
}

// NewPose builds a pose at position rotated by the given Euler angles (degrees).
func NewPose(position r3.Vec, yawDeg, pitchDeg, rollDeg float64) Pose {
	return Pose{Position: position, Rotation: RotationFromEuler(yawDeg, pitchDeg, rollDeg)}
}

func normalize(r r3.Rotation) r3.Rotation {
	if r == (r3.Rotation{}) {
		return IdentityRotation()
	}
	return r
}

func (p Pose) rotation() r3.Rotation { return normalize(p.Rotation) }

func (p Pose) inverseRotation() r3.Rotation {
	return r3.Rotation(quat.Conj(quat.Number(p.rotation())))
}

// Transform maps a local-frame point into the world frame.
func (p Pose) Transform(local r3.Vec) r3.Vec {
	return r3.Add(p.rotation().Rotate(local), p.Position)
}

// TransformDirection maps a local-frame direction into the world frame.
// Translation does not apply to directions.
func (p Pose) TransformDirection(local r3.Vec) r3.Vec {
	return p.rotation().Rotate(local)
}

// InverseTransform maps a world-frame point into the local frame.
func (p Pose) InverseTransform(world r3.Vec) r3.Vec {
	return p.inverseRotation().Rotate(r3.Sub(world, p.Position))
}

// Matrix returns the local-to-world transform as a 4x4 row-major matrix.
func (p Pose) Matrix() [16]float64 {
	q := quat.Number(p.rotation())
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return [16]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y), p.Position.X,
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x), p.Position.Y,
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y), p.Position.Z,
		0, 0, 0, 1,
	}
}

// ApplyPose applies a 4x4 row-major transform T to point (x,y,z).
func ApplyPose(x, y, z float64, T [16]float64) (wx, wy, wz float64) {
	wx = T[0]*x + T[1]*y + T[2]*z + T[3]
	wy = T[4]*x + T[5]*y + T[6]*z + T[7]
	wz = T[8]*x + T[9]*y + T[10]*z + T[11]
	return
}

// IsValidTransformMatrix checks if a 4x4 matrix is a valid rigid transform:
// det of the rotation block ≈ 1 and last row [0 0 0 1].
func IsValidTransformMatrix(T [16]float64) bool {
	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}

	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}

	return true
}

// Validate reports whether p is finite and its rotation is a unit quaternion.
func (p Pose) Validate() error {
	for _, v := range []float64{p.Position.X, p.Position.Y, p.Position.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite position %+v", ErrInvalidPose, p.Position)
		}
	}
	n := quat.Abs(quat.Number(p.rotation()))
	if math.IsNaN(n) || math.Abs(n-1) > MatrixValidationTolerance {
		return fmt.Errorf("%w: rotation norm %.4f, want 1", ErrInvalidPose, n)
	}
	if !IsValidTransformMatrix(p.Matrix()) {
		return fmt.Errorf("%w: not a proper rigid transform", ErrInvalidPose)
	}
	return nil
}
