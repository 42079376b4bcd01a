package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// PoseDim is the number of parameters in a pose vector: three rotation angles (α, β, γ) about the
// x, y and z axes followed by a translation (tx, ty, tz).
const PoseDim = 6

// Pose is an incremental rigid motion as produced by the linearized estimators.
type Pose [PoseDim]float64

// IdentityTransformation returns a new 4x4 identity matrix.
func IdentityTransformation() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// PoseToTransformation converts a pose to a 4x4 homogeneous transform. The rotation is
// R = Rz(γ)·Ry(β)·Rx(α), evaluated exactly; the small-angle approximation only applies when the
// pose was solved for.
func PoseToTransformation(pose Pose) *mat.Dense {
	sa, ca := math.Sincos(pose[0])
	sb, cb := math.Sincos(pose[1])
	sg, cg := math.Sincos(pose[2])
	return mat.NewDense(4, 4, []float64{
		cg * cb, -sg*ca + cg*sb*sa, sg*sa + cg*sb*ca, pose[3],
		sg * cb, cg*ca + sg*sb*sa, -cg*sa + sg*sb*ca, pose[4],
		-sb, cb * sa, cb * ca, pose[5],
		0, 0, 0, 1,
	})
}

// TransformationToPose is the inverse of PoseToTransformation. At the β = ±π/2 singularity γ is
// reported as zero.
func TransformationToPose(transform mat.Matrix) Pose {
	var pose Pose
	r00, r10, r20 := transform.At(0, 0), transform.At(1, 0), transform.At(2, 0)
	sy := math.Hypot(r00, r10)
	if sy >= 1e-6 {
		pose[0] = math.Atan2(transform.At(2, 1), transform.At(2, 2))
		pose[1] = math.Atan2(-r20, sy)
		pose[2] = math.Atan2(r10, r00)
	} else {
		pose[0] = math.Atan2(-transform.At(1, 2), transform.At(1, 1))
		pose[1] = math.Atan2(-r20, sy)
		pose[2] = 0
	}
	pose[3] = transform.At(0, 3)
	pose[4] = transform.At(1, 3)
	pose[5] = transform.At(2, 3)
	return pose
}

// RtToTransformation composes a 3x3 rotation and a translation into a 4x4 transform.
func RtToTransformation(rotation mat.Matrix, translation r3.Vector) (*mat.Dense, error) {
	if r, c := rotation.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("rotation must be 3x3, got %dx%d", r, c)
	}
	transform := IdentityTransformation()
	transform.Slice(0, 3, 0, 3).(*mat.Dense).Copy(rotation)
	transform.Set(0, 3, translation.X)
	transform.Set(1, 3, translation.Y)
	transform.Set(2, 3, translation.Z)
	return transform, nil
}

// TransformationToRt splits a 4x4 transform into its rotation block and translation.
func TransformationToRt(transform mat.Matrix) (*mat.Dense, r3.Vector) {
	rotation := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rotation.Set(i, j, transform.At(i, j))
		}
	}
	return rotation, r3.Vector{X: transform.At(0, 3), Y: transform.At(1, 3), Z: transform.At(2, 3)}
}

// TransformPoint applies a 4x4 rigid transform to a point.
func TransformPoint(transform mat.Matrix, p r3.Vector) r3.Vector {
	return RotateVector(transform, p).Add(r3.Vector{X: transform.At(0, 3), Y: transform.At(1, 3), Z: transform.At(2, 3)})
}

// RotateVector applies only the rotation block of a 4x4 (or 3x3) transform to a vector.
func RotateVector(transform mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: transform.At(0, 0)*v.X + transform.At(0, 1)*v.Y + transform.At(0, 2)*v.Z,
		Y: transform.At(1, 0)*v.X + transform.At(1, 1)*v.Y + transform.At(1, 2)*v.Z,
		Z: transform.At(2, 0)*v.X + transform.At(2, 1)*v.Y + transform.At(2, 2)*v.Z,
	}
}

// TransformPoints applies a 4x4 rigid transform to every point, returning a new slice.
func TransformPoints(transform mat.Matrix, points []r3.Vector) []r3.Vector {
	out := make([]r3.Vector, len(points))
	for i, p := range points {
		out[i] = TransformPoint(transform, p)
	}
	return out
}

// IsRigidTransformation reports whether transform is a 4x4 matrix whose rotation block is
// orthonormal with determinant +1 and whose bottom row is (0, 0, 0, 1), all within tol.
func IsRigidTransformation(transform mat.Matrix, tol float64) bool {
	if r, c := transform.Dims(); r != 4 || c != 4 {
		return false
	}
	for j, want := range []float64{0, 0, 0, 1} {
		if math.Abs(transform.At(3, j)-want) > tol {
			return false
		}
	}
	rotation, _ := TransformationToRt(transform)
	var rtr mat.Dense
	rtr.Mul(rotation.T(), rotation)
	if !mat.EqualApprox(&rtr, eye3(), tol) {
		return false
	}
	return math.Abs(mat.Det(rotation)-1) <= tol
}

// RotationAngle returns the angle in radians, in [0, π], of the rotation block of transform.
func RotationAngle(transform mat.Matrix) float64 {
	return OrientationFromTransformation(transform).AxisAngles().Theta
}

func eye3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}
