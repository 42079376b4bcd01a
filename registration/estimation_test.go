package registration

import (
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"go.viam.com/registration/logging"
	"go.viam.com/registration/pointcloud"
	"go.viam.com/registration/spatialmath"
)

const tolerance = 1e-6

// cubeSurface returns grid points on the faces of an axis aligned cube with their outward normals.
func cubeSurface(center r3.Vector, halfSide float64, steps int) ([]r3.Vector, []r3.Vector) {
	var points, normals []r3.Vector
	for axis := 0; axis < 3; axis++ {
		for _, sign := range []float64{-1, 1} {
			for i := 0; i <= steps; i++ {
				for j := 0; j <= steps; j++ {
					u := -halfSide + 2*halfSide*float64(i)/float64(steps)
					v := -halfSide + 2*halfSide*float64(j)/float64(steps)
					var p, n [3]float64
					p[axis] = sign * halfSide
					p[(axis+1)%3] = u
					p[(axis+2)%3] = v
					n[axis] = sign
					points = append(points, r3.Vector{X: p[0], Y: p[1], Z: p[2]}.Add(center))
					normals = append(normals, r3.Vector{X: n[0], Y: n[1], Z: n[2]})
				}
			}
		}
	}
	return points, normals
}

// intensityAt is a linear intensity field in [0.2, 0.8] over the test cube.
func intensityAt(p r3.Vector) float64 {
	return 0.5 + 0.1*p.X + 0.05*p.Y - 0.05*p.Z
}

var intensityGradient = r3.Vector{X: 0.1, Y: 0.05, Z: -0.05}

// texturedCube is a cube with normals, gray colors from intensityAt and exact tangent plane gradients.
func texturedCube(t *testing.T, dtype tensor.Dtype) *pointcloud.PointCloud {
	t.Helper()
	points, normals := cubeSurface(r3.Vector{X: 0.3, Y: -0.2, Z: 0.1}, 1, 6)
	cloud, err := pointcloud.NewFromVectors(points, dtype, pointcloud.DefaultDevice)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.SetNormals(normals), test.ShouldBeNil)

	colors := make([]r3.Vector, len(points))
	gradients := make([]r3.Vector, len(points))
	for i, p := range points {
		v := intensityAt(p)
		colors[i] = r3.Vector{X: v, Y: v, Z: v}
		n := normals[i]
		gradients[i] = intensityGradient.Sub(n.Mul(intensityGradient.Dot(n)))
	}
	test.That(t, cloud.SetColors(colors), test.ShouldBeNil)
	test.That(t, cloud.SetVectorAttr(pointcloud.ColorGradientsAttr, gradients), test.ShouldBeNil)
	return cloud
}

// moved returns a copy of cloud with only its positions moved by transform; the other attributes
// keep describing the original points so the copy is a rigidly displaced source.
func moved(t *testing.T, cloud *pointcloud.PointCloud, transform mat.Matrix) *pointcloud.PointCloud {
	t.Helper()
	out, err := cloud.Transform(transform)
	test.That(t, err, test.ShouldBeNil)
	return out
}

func identityCorrespondences(n int) *tensor.Dense {
	indices := make([]int64, n)
	for i := range indices {
		indices[i] = int64(i)
	}
	return NewCorrespondences(indices)
}

func sentinelCorrespondences(n int) *tensor.Dense {
	indices := make([]int64, n)
	for i := range indices {
		indices[i] = NoCorrespondence
	}
	return NewCorrespondences(indices)
}

func randomCloud(t *testing.T, rng *rand.Rand, n int) *pointcloud.PointCloud {
	t.Helper()
	points := make([]r3.Vector, n)
	for i := range points {
		points[i] = r3.Vector{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
	}
	cloud, err := pointcloud.NewFromVectors(points, tensor.Float64, pointcloud.DefaultDevice)
	test.That(t, err, test.ShouldBeNil)
	return cloud
}

func allEstimators(t *testing.T) []TransformationEstimation {
	t.Helper()
	logger := logging.NewTestLogger(t)
	p2l, err := NewPointToPlane(DefaultRobustKernel(), logger)
	test.That(t, err, test.ShouldBeNil)
	colored, err := NewColoredICP(DefaultRobustKernel(), DefaultLambdaGeometric, logger)
	test.That(t, err, test.ShouldBeNil)
	return []TransformationEstimation{NewPointToPoint(logger), p2l, colored}
}

func TestEstimationTypes(t *testing.T) {
	estimators := allEstimators(t)
	test.That(t, estimators[0].Type(), test.ShouldEqual, PointToPointType)
	test.That(t, estimators[1].Type(), test.ShouldEqual, PointToPlaneType)
	test.That(t, estimators[2].Type(), test.ShouldEqual, ColoredICPType)
	test.That(t, PointToPlaneType.String(), test.ShouldEqual, "point_to_plane")
	test.That(t, UnspecifiedType.String(), test.ShouldEqual, "unspecified")
}

func TestIdenticalCloudsScenario(t *testing.T) {
	for _, dtype := range []tensor.Dtype{tensor.Float64, tensor.Float32} {
		cloud := texturedCube(t, dtype)
		corr := identityCorrespondences(cloud.Size())
		for _, est := range allEstimators(t) {
			t.Run(est.Type().String()+"/"+dtype.String(), func(t *testing.T) {
				rmse, err := est.ComputeRMSE(cloud, cloud, corr)
				test.That(t, err, test.ShouldBeNil)
				test.That(t, rmse, test.ShouldAlmostEqual, 0, tolerance)

				transform, inliers, err := est.ComputeTransformation(cloud, cloud, corr)
				test.That(t, err, test.ShouldBeNil)
				test.That(t, inliers, test.ShouldEqual, cloud.Size())
				test.That(t, mat.EqualApprox(transform, spatialmath.IdentityTransformation(), tolerance), test.ShouldBeTrue)
			})
		}
	}
}

func TestSentinelOnlyCorrespondences(t *testing.T) {
	cloud := texturedCube(t, tensor.Float64)
	corr := sentinelCorrespondences(cloud.Size())
	for _, est := range allEstimators(t) {
		rmse, err := est.ComputeRMSE(cloud, cloud, corr)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, rmse, test.ShouldEqual, 0.0)

		transform, inliers, err := est.ComputeTransformation(cloud, cloud, corr)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, inliers, test.ShouldEqual, 0)
		test.That(t, mat.Equal(transform, spatialmath.IdentityTransformation()), test.ShouldBeTrue)
	}
}

func TestSentinelsAreSkipped(t *testing.T) {
	cloud := texturedCube(t, tensor.Float64)
	indices := make([]int64, cloud.Size())
	for i := range indices {
		indices[i] = int64(i)
		if i%3 == 0 {
			indices[i] = NoCorrespondence
		}
	}
	corr := NewCorrespondences(indices)
	for _, est := range allEstimators(t) {
		_, inliers, err := est.ComputeTransformation(cloud, cloud, corr)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, inliers, test.ShouldEqual, cloud.Size()-(cloud.Size()+2)/3)
	}
}

func TestMismatchedInputs(t *testing.T) {
	source := texturedCube(t, tensor.Float64)
	other32 := texturedCube(t, tensor.Float32)

	positions, err := source.Vectors(pointcloud.PositionsAttr)
	test.That(t, err, test.ShouldBeNil)
	onCUDA, err := pointcloud.NewFromVectors(positions, tensor.Float64, pointcloud.Device{Type: pointcloud.CUDA})
	test.That(t, err, test.ShouldBeNil)
	bothWrong, err := pointcloud.NewFromVectors(positions, tensor.Float32, pointcloud.Device{Type: pointcloud.CUDA})
	test.That(t, err, test.ShouldBeNil)

	corr := identityCorrespondences(source.Size())
	for _, est := range allEstimators(t) {
		for _, tc := range []struct {
			target *pointcloud.PointCloud
			want   error
		}{
			{other32, ErrTypeMismatch},
			{onCUDA, ErrDeviceMismatch},
			{bothWrong, ErrTypeMismatch},
		} {
			rmse, err := est.ComputeRMSE(source, tc.target, corr)
			test.That(t, errors.Is(err, tc.want), test.ShouldBeTrue)
			test.That(t, rmse, test.ShouldEqual, 0.0)

			transform, inliers, err := est.ComputeTransformation(source, tc.target, corr)
			test.That(t, errors.Is(err, tc.want), test.ShouldBeTrue)
			test.That(t, transform, test.ShouldBeNil)
			test.That(t, inliers, test.ShouldEqual, 0)
		}
	}
}

func TestInvalidCorrespondences(t *testing.T) {
	cloud := texturedCube(t, tensor.Float64)
	n := cloud.Size()

	outOfRange := make([]int64, n)
	outOfRange[n-1] = int64(n)
	negative := make([]int64, n)
	negative[0] = -2

	for name, corr := range map[string]*tensor.Dense{
		"short":        NewCorrespondences(make([]int64, n-1)),
		"out of range": NewCorrespondences(outOfRange),
		"negative":     NewCorrespondences(negative),
		"float":        tensor.New(tensor.WithShape(n), tensor.WithBacking(make([]float64, n))),
		"matrix":       tensor.New(tensor.WithShape(n, 2), tensor.WithBacking(make([]int64, 2*n))),
		"nil":          nil,
	} {
		t.Run(name, func(t *testing.T) {
			for _, est := range allEstimators(t)[:2] {
				_, err := est.ComputeRMSE(cloud, cloud, corr)
				test.That(t, errors.Is(err, ErrInvalidCorrespondences), test.ShouldBeTrue)
			}
			for _, est := range allEstimators(t) {
				_, _, err := est.ComputeTransformation(cloud, cloud, corr)
				test.That(t, errors.Is(err, ErrInvalidCorrespondences), test.ShouldBeTrue)
			}
		})
	}
}

func TestCorrespondenceDtypes(t *testing.T) {
	cloud := texturedCube(t, tensor.Float64)
	n := cloud.Size()
	as32 := make([]int32, n)
	asInt := make([]int, n)
	for i := 0; i < n; i++ {
		as32[i] = int32(i)
		asInt[i] = i
	}
	est := NewPointToPoint(logging.NewTestLogger(t))
	for _, corr := range []*tensor.Dense{
		tensor.New(tensor.WithShape(n), tensor.WithBacking(as32)),
		tensor.New(tensor.WithShape(n, 1), tensor.WithBacking(asInt)),
	} {
		_, inliers, err := est.ComputeTransformation(cloud, cloud, corr)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, inliers, test.ShouldEqual, n)
	}
}

func TestCorrespondenceViews(t *testing.T) {
	cloud := texturedCube(t, tensor.Float64)
	n := cloud.Size()

	// column 0 is out of range for the target, column 1 is the identity matching
	backing := make([]int64, 2*n)
	for i := 0; i < n; i++ {
		backing[2*i] = int64(n + i)
		backing[2*i+1] = int64(i)
	}
	pairs := tensor.New(tensor.WithShape(n, 2), tensor.WithBacking(backing))
	column, err := pairs.Slice(nil, tensor.S(1))
	test.That(t, err, test.ShouldBeNil)
	keepDim, err := pairs.Slice(nil, tensor.S(1, 2))
	test.That(t, err, test.ShouldBeNil)

	for _, view := range []tensor.View{column, keepDim} {
		corr, ok := view.(*tensor.Dense)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, corr.IsView(), test.ShouldBeTrue)
		for _, est := range allEstimators(t) {
			rmse, err := est.ComputeRMSE(cloud, cloud, corr)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, rmse, test.ShouldAlmostEqual, 0, tolerance)

			transform, inliers, err := est.ComputeTransformation(cloud, cloud, corr)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, inliers, test.ShouldEqual, n)
			test.That(t, mat.EqualApprox(transform, spatialmath.IdentityTransformation(), tolerance), test.ShouldBeTrue)
		}
	}
}

func TestNewCorrespondencesCopies(t *testing.T) {
	indices := []int64{0, NoCorrespondence, 2}
	corr := NewCorrespondences(indices)
	indices[0] = 7
	test.That(t, corr.Shape(), test.ShouldResemble, tensor.Shape{3})
	test.That(t, corr.Data(), test.ShouldResemble, []int64{0, NoCorrespondence, 2})
}

func TestDegenerateSetIsLogged(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	cloud := texturedCube(t, tensor.Float64)
	_, _, err := NewPointToPoint(logger).ComputeTransformation(cloud, cloud, sentinelCorrespondences(cloud.Size()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessage("no valid correspondences, returning identity transformation").Len(), test.ShouldEqual, 1)
}
