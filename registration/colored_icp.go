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

// DefaultLambdaGeometric is the default weight of the geometric term in colored ICP.
const DefaultLambdaGeometric = 0.968

// ColoredICP jointly minimizes point-to-plane distance and the difference between each source
// point's intensity and the target's intensity field, linearized in the target's tangent plane.
type ColoredICP struct {
	kernel          RobustKernel
	lambdaGeometric float64
	logger          logging.Logger
}

// NewColoredICP returns a colored ICP estimator. lambdaGeometric in [0, 1] weights the geometric
// term and 1 - lambdaGeometric the photometric term.
func NewColoredICP(kernel RobustKernel, lambdaGeometric float64, logger logging.Logger) (*ColoredICP, error) {
	if err := kernel.Validate(); err != nil {
		return nil, err
	}
	if !(lambdaGeometric >= 0 && lambdaGeometric <= 1) {
		return nil, errors.Errorf("lambda_geometric must be in [0, 1], got %v", lambdaGeometric)
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &ColoredICP{kernel: kernel, lambdaGeometric: lambdaGeometric, logger: logger}, nil
}

// Type returns ColoredICPType.
func (e *ColoredICP) Type() EstimationType {
	return ColoredICPType
}

// Kernel returns the robust kernel applied during accumulation.
func (e *ColoredICP) Kernel() RobustKernel {
	return e.kernel
}

// LambdaGeometric returns the weight of the geometric term.
func (e *ColoredICP) LambdaGeometric() float64 {
	return e.lambdaGeometric
}

// ComputeRMSE always reports 0; colored ICP has no single residual to score. The inputs are still
// checked for compatibility.
func (e *ColoredICP) ComputeRMSE(
	source, target *pointcloud.PointCloud,
	correspondences *tensor.Dense,
) (float64, error) {
	return 0, checkCompatible(source, target)
}

// ComputeTransformation solves one Gauss-Newton step of the joint geometric and photometric
// objective. The target must carry normals, colors and color_gradients; the source must carry
// colors.
func (e *ColoredICP) ComputeTransformation(
	source, target *pointcloud.PointCloud,
	correspondences *tensor.Dense,
) (*mat.Dense, int, error) {
	if err := checkCompatible(source, target); err != nil {
		return nil, 0, err
	}
	if err := requireAttrs(source, "source", pointcloud.ColorsAttr); err != nil {
		return nil, 0, err
	}
	if err := requireAttrs(target, "target",
		pointcloud.NormalsAttr, pointcloud.ColorsAttr, pointcloud.ColorGradientsAttr); err != nil {
		return nil, 0, err
	}
	m, err := validMatches(source, target, correspondences)
	if err != nil {
		return nil, 0, err
	}
	e.logger.Debugw("computing colored icp transformation",
		"correspondences", m.Len(), "source_points", source.Size(),
		"kernel", e.kernel.Method, "lambda_geometric", e.lambdaGeometric)
	if m.Len() == 0 {
		e.logger.Warn("no valid correspondences, returning identity transformation")
		return spatialmath.IdentityTransformation(), 0, nil
	}

	// the derived intensities live on a per-call clone so the caller's target is untouched
	targetClone := target.Clone()
	if err := targetClone.SetIntensitiesFromColors(); err != nil {
		return nil, 0, err
	}

	src, tgt, err := gatherPositions(source, targetClone, m)
	if err != nil {
		return nil, 0, err
	}
	normals, err := targetClone.GatherVectors(pointcloud.NormalsAttr, m.target)
	if err != nil {
		return nil, 0, err
	}
	gradients, err := targetClone.GatherVectors(pointcloud.ColorGradientsAttr, m.target)
	if err != nil {
		return nil, 0, err
	}
	sourceIntensities, err := source.Intensities()
	if err != nil {
		return nil, 0, err
	}
	targetIntensities, err := targetClone.Scalars(pointcloud.IntensitiesAttr)
	if err != nil {
		return nil, 0, err
	}

	sqrtGeometric := math.Sqrt(e.lambdaGeometric)
	sqrtPhotometric := math.Sqrt(1 - e.lambdaGeometric)
	ne, err := accumulate(m.Len(), func(i int, ne *normalEquations) {
		s, t, n := src[i], tgt[i], normals[i]

		addPointToPlaneRow(ne, e.kernel, s, t, n, sqrtGeometric)

		rI, g := photometricResidual(
			s, t, n, gradients[i],
			sourceIntensities[m.source[i]], targetIntensities[m.target[i]],
		)
		rI *= sqrtPhotometric
		ne.add(rigidJacobian(s, g.Mul(sqrtPhotometric)), rI, e.kernel.Weight(rI))
	})
	if err != nil {
		return nil, 0, err
	}
	pose, err := ne.solve()
	if err != nil {
		return nil, 0, err
	}
	transform := spatialmath.PoseToTransformation(pose)
	e.logger.Debugw("colored icp transformation",
		"rotation_angle", spatialmath.RotationAngle(transform), "weighted_residual", ne.residual)
	return transform, m.Len(), nil
}

// photometricResidual compares the source intensity with the target's intensity field evaluated at
// the source point projected onto the target tangent plane. It returns the residual and g, the
// direction for which [s×g, g] is the residual's Jacobian.
func photometricResidual(s, t, n, gradient r3.Vector, sourceIntensity, targetIntensity float64) (float64, r3.Vector) {
	projected := s.Sub(n.Mul(s.Sub(t).Dot(n)))
	predicted := gradient.Dot(projected.Sub(t)) + targetIntensity
	// gradient restricted to the tangent plane, negated
	g := gradient.Sub(n.Mul(gradient.Dot(n))).Mul(-1)
	return sourceIntensity - predicted, g
}
