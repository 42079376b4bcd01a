package registration

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"go.viam.com/registration/logging"
	"go.viam.com/registration/pointcloud"
	"go.viam.com/registration/spatialmath"
)

// PointToPoint minimizes the squared distances between matched points in closed form.
type PointToPoint struct {
	logger logging.Logger
}

// NewPointToPoint returns a point-to-point estimator.
func NewPointToPoint(logger logging.Logger) *PointToPoint {
	if logger == nil {
		logger = logging.Global()
	}
	return &PointToPoint{logger: logger}
}

// Type returns PointToPointType.
func (e *PointToPoint) Type() EstimationType {
	return PointToPointType
}

// ComputeRMSE returns sqrt(Σ|s - t|² / n) over the valid correspondences, or 0 when there are none.
func (e *PointToPoint) ComputeRMSE(
	source, target *pointcloud.PointCloud,
	correspondences *tensor.Dense,
) (float64, error) {
	if err := checkCompatible(source, target); err != nil {
		return 0, err
	}
	m, src, tgt, err := matchedPositions(source, target, correspondences)
	if err != nil {
		return 0, err
	}
	if m.Len() == 0 {
		e.logger.Warn("no valid correspondences, reporting zero rmse")
		return 0, nil
	}
	var sum float64
	for i := range src {
		sum += src[i].Sub(tgt[i]).Norm2()
	}
	return math.Sqrt(sum / float64(m.Len())), nil
}

// ComputeTransformation returns the Kabsch/Horn rigid fit of the matched points.
func (e *PointToPoint) ComputeTransformation(
	source, target *pointcloud.PointCloud,
	correspondences *tensor.Dense,
) (*mat.Dense, int, error) {
	if err := checkCompatible(source, target); err != nil {
		return nil, 0, err
	}
	m, src, tgt, err := matchedPositions(source, target, correspondences)
	if err != nil {
		return nil, 0, err
	}
	e.logger.Debugw("computing point to point transformation", "correspondences", m.Len(), "source_points", source.Size())
	if m.Len() == 0 {
		e.logger.Warn("no valid correspondences, returning identity transformation")
		return spatialmath.IdentityTransformation(), 0, nil
	}
	rotation, translation, err := kabsch(src, tgt)
	if err != nil {
		return nil, 0, err
	}
	transform, err := spatialmath.RtToTransformation(rotation, translation)
	if err != nil {
		return nil, 0, err
	}
	e.logger.Debugw("point to point transformation", "rotation_angle", spatialmath.RotationAngle(transform), "translation", translation)
	return transform, m.Len(), nil
}

// kabsch returns the proper rotation R and translation t minimizing Σ|R s + t - d|².
func kabsch(src, dst []r3.Vector) (*mat.Dense, r3.Vector, error) {
	muS, muD := mean(src), mean(dst)
	n := float64(len(src))

	// cross covariance Σ (d - μd)(s - μs)ᵀ / n
	sxy := mat.NewDense(3, 3, nil)
	for i := range src {
		s, d := src[i].Sub(muS), dst[i].Sub(muD)
		ds := [3]float64{d.X, d.Y, d.Z}
		ss := [3]float64{s.X, s.Y, s.Z}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				sxy.Set(r, c, sxy.At(r, c)+ds[r]*ss[c]/n)
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(sxy, mat.SVDFull); !ok {
		return nil, r3.Vector{}, errors.New("svd of cross covariance failed to converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// a reflection is turned into the closest proper rotation
	s := mat.NewDiagDense(3, []float64{1, 1, 1})
	if mat.Det(&u)*mat.Det(&v) < 0 {
		s.SetDiag(2, -1)
	}
	var us, rotation mat.Dense
	us.Mul(&u, s)
	rotation.Mul(&us, v.T())

	translation := muD.Sub(spatialmath.RotateVector(&rotation, muS))
	return &rotation, translation, nil
}

func mean(vs []r3.Vector) r3.Vector {
	var sum r3.Vector
	for _, v := range vs {
		sum = sum.Add(v)
	}
	return sum.Mul(1 / float64(len(vs)))
}

func gatherPositions(source, target *pointcloud.PointCloud, m matches) ([]r3.Vector, []r3.Vector, error) {
	src, err := source.GatherVectors(pointcloud.PositionsAttr, m.source)
	if err != nil {
		return nil, nil, err
	}
	tgt, err := target.GatherVectors(pointcloud.PositionsAttr, m.target)
	if err != nil {
		return nil, nil, err
	}
	return src, tgt, nil
}
