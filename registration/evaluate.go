package registration

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"go.viam.com/registration/pointcloud"
	"go.viam.com/registration/spatialmath"
	"go.viam.com/registration/utils"
)

// Result summarizes one estimation step.
type Result struct {
	// Transformation aligns the source onto the target.
	Transformation *mat.Dense
	// Inliers is the number of correspondences used.
	Inliers int
	// RMSE is the estimator's score of the alignment before Transformation is applied.
	RMSE float64
	// Fitness is Inliers divided by the number of source points.
	Fitness float64

	// Point-to-point distances of the matched pairs after Transformation is applied.
	ResidualMean   float64
	ResidualMedian float64
	ResidualP95    float64
}

// Evaluate scores the current alignment, computes the transform and reports how well it fits. It
// performs a single step and does not iterate.
func Evaluate(
	estimation TransformationEstimation,
	source, target *pointcloud.PointCloud,
	correspondences *tensor.Dense,
) (*Result, error) {
	rmse, err := estimation.ComputeRMSE(source, target, correspondences)
	if err != nil {
		return nil, err
	}
	transform, inliers, err := estimation.ComputeTransformation(source, target, correspondences)
	if err != nil {
		return nil, err
	}
	result := &Result{
		Transformation: transform,
		Inliers:        inliers,
		RMSE:           rmse,
		Fitness:        float64(inliers) / float64(source.Size()),
	}
	if inliers == 0 {
		return result, nil
	}

	_, src, tgt, err := matchedPositions(source, target, correspondences)
	if err != nil {
		return nil, err
	}
	distances := make(stats.Float64Data, len(src))
	for i, s := range spatialmath.TransformPoints(transform, src) {
		distances[i] = s.Sub(tgt[i]).Norm()
	}
	if result.ResidualMean, err = stats.Mean(distances); err != nil {
		return nil, err
	}
	if result.ResidualMedian, err = stats.Median(distances); err != nil {
		return nil, err
	}
	if result.ResidualP95, err = stats.Percentile(distances, 95); err != nil {
		return nil, err
	}
	return result, nil
}

// String prints a table of the fit metrics and of the transformation as a translation, the
// roll/pitch/yaw and axis angle of its rotation in degrees, and its unit quaternion.
func (r *Result) String() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"rmse", fmt.Sprintf("%.9g", r.RMSE)})
	t.AppendRow(table.Row{"inliers", r.Inliers})
	t.AppendRow(table.Row{"fitness", fmt.Sprintf("%.6f", r.Fitness)})
	if r.Inliers > 0 {
		t.AppendRow(table.Row{"residual mean", fmt.Sprintf("%.6g", r.ResidualMean)})
		t.AppendRow(table.Row{"residual median", fmt.Sprintf("%.6g", r.ResidualMedian)})
		t.AppendRow(table.Row{"residual p95", fmt.Sprintf("%.6g", r.ResidualP95)})
	}
	if r.Transformation != nil {
		pose := spatialmath.TransformationToPose(r.Transformation)
		o := spatialmath.OrientationFromTransformation(r.Transformation)
		ea, aa, q := o.EulerAngles(), o.AxisAngles(), o.Quaternion()
		t.AppendRow(table.Row{"translation", fmt.Sprintf("X:%.6g, Y:%.6g, Z:%.6g", pose[3], pose[4], pose[5])})
		t.AppendRow(table.Row{"orientation", fmt.Sprintf(
			"Roll:%.4f, Pitch:%.4f, Yaw:%.4f",
			utils.RadToDeg(ea.Roll),
			utils.RadToDeg(ea.Pitch),
			utils.RadToDeg(ea.Yaw),
		)})
		rv := aa.ToR3()
		t.AppendRow(table.Row{"axis angle", fmt.Sprintf(
			"Theta:%.4f, RX:%.4f, RY:%.4f, RZ:%.4f (rotation vector %.6g, %.6g, %.6g)",
			utils.RadToDeg(aa.Theta), aa.RX, aa.RY, aa.RZ, rv.X, rv.Y, rv.Z,
		)})
		t.AppendRow(table.Row{"quaternion", fmt.Sprintf("W:%.6f, X:%.6f, Y:%.6f, Z:%.6f", q.Real, q.Imag, q.Jmag, q.Kmag)})
	}
	return t.Render()
}
