package registration

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"go.viam.com/registration/logging"
	"go.viam.com/registration/pointcloud"
	"go.viam.com/registration/spatialmath"
)

func sumSquaredDistances(t *testing.T, source, target *pointcloud.PointCloud, transform mat.Matrix, corr []int64) float64 {
	t.Helper()
	src, err := source.Vectors(pointcloud.PositionsAttr)
	test.That(t, err, test.ShouldBeNil)
	tgt, err := target.Vectors(pointcloud.PositionsAttr)
	test.That(t, err, test.ShouldBeNil)
	var sum float64
	for i, idx := range corr {
		if idx == NoCorrespondence {
			continue
		}
		sum += spatialmath.TransformPoint(transform, src[i]).Sub(tgt[idx]).Norm2()
	}
	return sum
}

func TestPointToPointRMSE(t *testing.T) {
	source, err := pointcloud.NewFromVectors([]r3.Vector{{}, {X: 1}, {Y: 5}}, tensor.Float64, pointcloud.DefaultDevice)
	test.That(t, err, test.ShouldBeNil)
	target, err := pointcloud.NewFromVectors([]r3.Vector{{X: 3}, {X: 1, Z: 4}}, tensor.Float64, pointcloud.DefaultDevice)
	test.That(t, err, test.ShouldBeNil)

	// pairs (0 -> 0) and (1 -> 1) have squared distances 9 and 16
	rmse, err := NewPointToPoint(logging.NewTestLogger(t)).ComputeRMSE(source, target, NewCorrespondences([]int64{0, 1, -1}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rmse, test.ShouldAlmostEqual, math.Sqrt(25./2))
}

func TestPointToPointRecoversKnownTransform(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	target := randomCloud(t, rng, 100)
	known := spatialmath.PoseToTransformation(spatialmath.Pose{0.4, -1.1, 2.5, 3, -7, 0.5})
	source := moved(t, target, known)

	est := NewPointToPoint(logging.NewTestLogger(t))
	transform, inliers, err := est.ComputeTransformation(source, target, identityCorrespondences(100))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inliers, test.ShouldEqual, 100)

	var inverse mat.Dense
	test.That(t, inverse.Inverse(known), test.ShouldBeNil)
	test.That(t, mat.EqualApprox(transform, &inverse, tolerance), test.ShouldBeTrue)

	// and the other way around
	transform, _, err = est.ComputeTransformation(target, source, identityCorrespondences(100))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.EqualApprox(transform, known, tolerance), test.ShouldBeTrue)

	rmse, err := est.ComputeRMSE(moved(t, source, transform), target, identityCorrespondences(100))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rmse, test.ShouldBeGreaterThan, 1)
	rmse, err = est.ComputeRMSE(moved(t, source, &inverse), target, identityCorrespondences(100))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rmse, test.ShouldAlmostEqual, 0, tolerance)
}

func TestPointToPointProperRotationAndImprovement(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	est := NewPointToPoint(logging.NewTestLogger(t))
	for trial := 0; trial < 25; trial++ {
		n := 3 + rng.Intn(40)
		source := randomCloud(t, rng, n)
		target := randomCloud(t, rng, 1+rng.Intn(40))
		corr := make([]int64, n)
		for i := range corr {
			corr[i] = int64(rng.Intn(target.Size()))
			if rng.Float64() < 0.2 {
				corr[i] = NoCorrespondence
			}
		}

		transform, _, err := est.ComputeTransformation(source, target, NewCorrespondences(corr))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, spatialmath.IsRigidTransformation(transform, 1e-9), test.ShouldBeTrue)

		before := sumSquaredDistances(t, source, target, spatialmath.IdentityTransformation(), corr)
		after := sumSquaredDistances(t, source, target, transform, corr)
		test.That(t, after, test.ShouldBeLessThanOrEqualTo, before+1e-9)
	}
}

func TestPointToPointReflection(t *testing.T) {
	// the best orthogonal fit of a mirrored cloud is a reflection; the result must still be a rotation
	rng := rand.New(rand.NewSource(3))
	source := randomCloud(t, rng, 30)
	points, err := source.Vectors(pointcloud.PositionsAttr)
	test.That(t, err, test.ShouldBeNil)
	for i := range points {
		points[i].Z = -points[i].Z
	}
	target, err := pointcloud.NewFromVectors(points, tensor.Float64, pointcloud.DefaultDevice)
	test.That(t, err, test.ShouldBeNil)

	transform, _, err := NewPointToPoint(logging.NewTestLogger(t)).ComputeTransformation(source, target, identityCorrespondences(30))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.IsRigidTransformation(transform, 1e-9), test.ShouldBeTrue)
}

func TestPointToPointDegenerateInputs(t *testing.T) {
	est := NewPointToPoint(logging.NewTestLogger(t))

	// a single pair only fixes the translation
	source, err := pointcloud.NewFromVectors([]r3.Vector{{X: 1, Y: 2, Z: 3}}, tensor.Float64, pointcloud.DefaultDevice)
	test.That(t, err, test.ShouldBeNil)
	target, err := pointcloud.NewFromVectors([]r3.Vector{{X: -1}}, tensor.Float64, pointcloud.DefaultDevice)
	test.That(t, err, test.ShouldBeNil)
	transform, inliers, err := est.ComputeTransformation(source, target, NewCorrespondences([]int64{0}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, inliers, test.ShouldEqual, 1)
	test.That(t, spatialmath.IsRigidTransformation(transform, 1e-9), test.ShouldBeTrue)
	got := spatialmath.TransformPoint(transform, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, got.Sub(r3.Vector{X: -1}).Norm(), test.ShouldAlmostEqual, 0, tolerance)

	// collinear points leave the rotation about the line free
	line := []r3.Vector{{X: 0}, {X: 1}, {X: 2}, {X: 3}}
	source, err = pointcloud.NewFromVectors(line, tensor.Float64, pointcloud.DefaultDevice)
	test.That(t, err, test.ShouldBeNil)
	transform, _, err = est.ComputeTransformation(source, source, identityCorrespondences(4))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.IsRigidTransformation(transform, 1e-9), test.ShouldBeTrue)
	for _, p := range line {
		test.That(t, spatialmath.TransformPoint(transform, p).Sub(p).Norm(), test.ShouldAlmostEqual, 0, tolerance)
	}
}

func TestPointToPointIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	source := randomCloud(t, rng, 500)
	target := moved(t, source, spatialmath.PoseToTransformation(spatialmath.Pose{0.1, 0.2, 0.3, 1, 2, 3}))
	corr := identityCorrespondences(500)
	est := NewPointToPoint(logging.NewTestLogger(t))

	first, _, err := est.ComputeTransformation(source, target, corr)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 5; i++ {
		again, _, err := est.ComputeTransformation(source, target, corr)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, mat.Equal(first, again), test.ShouldBeTrue)
	}
}
