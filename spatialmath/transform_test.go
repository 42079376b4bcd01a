package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestPoseToTransformation(t *testing.T) {
	test.That(t, mat.Equal(PoseToTransformation(Pose{}), IdentityTransformation()), test.ShouldBeTrue)

	pose := Pose{0.1, -0.4, 2.2, 1, -2, 3}
	transform := PoseToTransformation(pose)
	test.That(t, IsRigidTransformation(transform, 1e-9), test.ShouldBeTrue)

	rotation, translation := TransformationToRt(transform)
	test.That(t, IsRigidTransformation(rotationOnly(rotation), 1e-9), test.ShouldBeTrue)
	test.That(t, translation, test.ShouldResemble, r3.Vector{X: 1, Y: -2, Z: 3})

	back := TransformationToPose(transform)
	for i := range pose {
		test.That(t, back[i], test.ShouldAlmostEqual, pose[i])
	}
}

func rotationOnly(rotation mat.Matrix) *mat.Dense {
	transform, _ := RtToTransformation(rotation, r3.Vector{})
	return transform
}

func TestRotationAngle(t *testing.T) {
	test.That(t, RotationAngle(IdentityTransformation()), test.ShouldEqual, 0)
	test.That(t, RotationAngle(rm45x), test.ShouldAlmostEqual, th)
	test.That(t, RotationAngle(PoseToTransformation(Pose{0, 0, -2})), test.ShouldAlmostEqual, 2)
	test.That(t, RotationAngle(PoseToTransformation(Pose{0.2, -0.1, 0.4})), test.ShouldBeBetween, 0.1, 0.7)
}

func TestPoseSingularity(t *testing.T) {
	transform := PoseToTransformation(Pose{0.3, math.Pi / 2, 0, 0, 0, 0})
	back := TransformationToPose(transform)
	test.That(t, back[2], test.ShouldEqual, 0)
	test.That(t, mat.EqualApprox(PoseToTransformation(back), transform, 1e-6), test.ShouldBeTrue)
}

func TestRtToTransformation(t *testing.T) {
	_, err := RtToTransformation(mat.NewDense(2, 2, nil), r3.Vector{})
	test.That(t, err, test.ShouldNotBeNil)

	translation := r3.Vector{X: 4, Y: 5, Z: 6}
	transform, err := RtToTransformation(rm45x, translation)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, IsRigidTransformation(transform, 1e-9), test.ShouldBeTrue)
	test.That(t, RotationAngle(transform), test.ShouldAlmostEqual, th)

	p := TransformPoint(transform, r3.Vector{X: 0, Y: 1, Z: 0})
	test.That(t, p.X, test.ShouldAlmostEqual, 4)
	test.That(t, p.Y, test.ShouldAlmostEqual, 5+math.Cos(th))
	test.That(t, p.Z, test.ShouldAlmostEqual, 6+math.Sin(th))

	pts := TransformPoints(transform, []r3.Vector{{}, {X: 1}})
	test.That(t, pts, test.ShouldHaveLength, 2)
	test.That(t, pts[0], test.ShouldResemble, translation)
	test.That(t, pts[1].X, test.ShouldAlmostEqual, 5)
}

func TestIsRigidTransformation(t *testing.T) {
	test.That(t, IsRigidTransformation(mat.NewDense(3, 3, nil), 1e-9), test.ShouldBeFalse)

	reflection := IdentityTransformation()
	reflection.Set(2, 2, -1)
	test.That(t, IsRigidTransformation(reflection, 1e-9), test.ShouldBeFalse)

	scaled := IdentityTransformation()
	scaled.Set(0, 0, 2)
	test.That(t, IsRigidTransformation(scaled, 1e-9), test.ShouldBeFalse)

	badRow := IdentityTransformation()
	badRow.Set(3, 0, 1)
	test.That(t, IsRigidTransformation(badRow, 1e-9), test.ShouldBeFalse)
}
