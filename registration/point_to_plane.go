package registration

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"go.viam.com/registration/logging"
	"go.viam.com/registration/pointcloud"
	"go.viam.com/registration/spatialmath"
)

// PointToPlane minimizes the squared distances from source points to the tangent planes of their
// matched target points, linearized around the identity.
type PointToPlane struct {
	kernel RobustKernel
	logger logging.Logger
}

// NewPointToPlane returns a point-to-plane estimator that weights residuals with kernel.
func NewPointToPlane(kernel RobustKernel, logger logging.Logger) (*PointToPlane, error) {
	if err := kernel.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &PointToPlane{kernel: kernel, logger: logger}, nil
}

// Type returns PointToPlaneType.
func (e *PointToPlane) Type() EstimationType {
	return PointToPlaneType
}

// Kernel returns the robust kernel applied during accumulation.
func (e *PointToPlane) Kernel() RobustKernel {
	return e.kernel
}

// ComputeRMSE returns sqrt(Σ((s - t)·n)² / n) over the valid correspondences. It returns 0 when
// the target has no normals or there are no valid correspondences.
func (e *PointToPlane) ComputeRMSE(
	source, target *pointcloud.PointCloud,
	correspondences *tensor.Dense,
) (float64, error) {
	if err := checkCompatible(source, target); err != nil {
		return 0, err
	}
	if !target.HasNormals() {
		return 0, nil
	}
	m, src, tgt, err := matchedPositions(source, target, correspondences)
	if err != nil {
		return 0, err
	}
	if m.Len() == 0 {
		e.logger.Warn("no valid correspondences, reporting zero rmse")
		return 0, nil
	}
	normals, err := target.GatherVectors(pointcloud.NormalsAttr, m.target)
	if err != nil {
		return 0, err
	}
	var sum float64
	for i := range src {
		r := src[i].Sub(tgt[i]).Dot(normals[i])
		sum += r * r
	}
	return math.Sqrt(sum / float64(m.Len())), nil
}

// ComputeTransformation solves one Gauss-Newton step of the point-to-plane objective.
func (e *PointToPlane) ComputeTransformation(
	source, target *pointcloud.PointCloud,
	correspondences *tensor.Dense,
) (*mat.Dense, int, error) {
	if err := checkCompatible(source, target); err != nil {
		return nil, 0, err
	}
	if err := requireAttrs(target, "target", pointcloud.NormalsAttr); err != nil {
		return nil, 0, err
	}
	m, src, tgt, err := matchedPositions(source, target, correspondences)
	if err != nil {
		return nil, 0, err
	}
	e.logger.Debugw("computing point to plane transformation",
		"correspondences", m.Len(), "source_points", source.Size(), "kernel", e.kernel.Method)
	if m.Len() == 0 {
		e.logger.Warn("no valid correspondences, returning identity transformation")
		return spatialmath.IdentityTransformation(), 0, nil
	}
	normals, err := target.GatherVectors(pointcloud.NormalsAttr, m.target)
	if err != nil {
		return nil, 0, err
	}

	ne, err := accumulate(m.Len(), func(i int, ne *normalEquations) {
		addPointToPlaneRow(ne, e.kernel, src[i], tgt[i], normals[i], 1)
	})
	if err != nil {
		return nil, 0, err
	}
	pose, err := ne.solve()
	if err != nil {
		return nil, 0, err
	}
	transform := spatialmath.PoseToTransformation(pose)
	e.logger.Debugw("point to plane transformation",
		"rotation_angle", spatialmath.RotationAngle(transform), "weighted_residual", ne.residual)
	return transform, m.Len(), nil
}

// addPointToPlaneRow adds the row for residual (s - t)·n scaled by scale, weighting it by the
// kernel applied to the scaled residual.
func addPointToPlaneRow(ne *normalEquations, kernel RobustKernel, s, t, n r3.Vector, scale float64) {
	r := scale * s.Sub(t).Dot(n)
	ne.add(rigidJacobian(s, n.Mul(scale)), r, kernel.Weight(r))
}
