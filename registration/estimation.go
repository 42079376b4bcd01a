// Package registration estimates the rigid transform aligning a source point cloud onto a target
// point cloud given tentative point correspondences. It is the per-iteration step of an ICP loop;
// correspondence search and convergence control belong to the caller.
package registration

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"go.viam.com/registration/pointcloud"
)

// NoCorrespondence marks a source point that has no matching target point.
const NoCorrespondence = -1

// EstimationType names an estimator variant.
type EstimationType int

// The estimator variants.
const (
	UnspecifiedType EstimationType = iota
	PointToPointType
	PointToPlaneType
	ColoredICPType
)

var estimationTypeNames = map[EstimationType]string{
	PointToPointType: "point_to_point",
	PointToPlaneType: "point_to_plane",
	ColoredICPType:   "colored_icp",
}

func (t EstimationType) String() string {
	if name, ok := estimationTypeNames[t]; ok {
		return name
	}
	return "unspecified"
}

// TransformationEstimation scores and computes the rigid transform that aligns source onto target
// over the given correspondences. Implementations hold only construction-time configuration and
// are safe for concurrent use; neither method mutates its inputs.
type TransformationEstimation interface {
	// Type returns the estimator variant.
	Type() EstimationType

	// ComputeRMSE returns the root mean square residual of the current alignment.
	ComputeRMSE(source, target *pointcloud.PointCloud, correspondences *tensor.Dense) (float64, error)

	// ComputeTransformation returns the 4x4 transform that best aligns source onto target and the
	// number of correspondences used to compute it.
	ComputeTransformation(source, target *pointcloud.PointCloud, correspondences *tensor.Dense) (*mat.Dense, int, error)
}

// NewCorrespondences returns a correspondence set holding a copy of indices. Use
// NoCorrespondence for source points without a match.
func NewCorrespondences(indices []int64) *tensor.Dense {
	backing := append([]int64(nil), indices...)
	return tensor.New(tensor.WithShape(len(backing)), tensor.WithBacking(backing))
}

// checkCompatible validates that source and target can be compared: dtype first, then device.
func checkCompatible(source, target *pointcloud.PointCloud) error {
	if source == nil || target == nil {
		return errors.New("source and target must not be nil")
	}
	if source.Dtype() != target.Dtype() {
		return errors.Wrapf(ErrTypeMismatch, "target dtype %v != source dtype %v", target.Dtype(), source.Dtype())
	}
	if source.Device() != target.Device() {
		return errors.Wrapf(ErrDeviceMismatch, "target device %v != source device %v", target.Device(), source.Device())
	}
	return nil
}

// matches holds the valid correspondences as parallel source and target index lists.
type matches struct {
	source []int
	target []int
}

func (m matches) Len() int {
	return len(m.source)
}

// validMatches filters out the NoCorrespondence entries. Any other index outside the target is an
// error.
func validMatches(source, target *pointcloud.PointCloud, correspondences *tensor.Dense) (matches, error) {
	indices, err := correspondenceIndices(correspondences)
	if err != nil {
		return matches{}, err
	}
	if len(indices) != source.Size() {
		return matches{}, errors.Wrapf(ErrInvalidCorrespondences,
			"got %d correspondences for %d source points", len(indices), source.Size())
	}
	for i, idx := range indices {
		if idx != NoCorrespondence && (idx < 0 || idx >= int64(target.Size())) {
			return matches{}, errors.Wrapf(ErrInvalidCorrespondences,
				"correspondence %d points at target %d, target has %d points", i, idx, target.Size())
		}
	}

	valid := lo.Filter(lo.Range(len(indices)), func(i, _ int) bool {
		return indices[i] != NoCorrespondence
	})
	return matches{
		source: valid,
		target: lo.Map(valid, func(i, _ int) int { return int(indices[i]) }),
	}, nil
}

// matchedPositions resolves the valid correspondences and gathers the positions of both sides of
// each pair.
func matchedPositions(
	source, target *pointcloud.PointCloud,
	correspondences *tensor.Dense,
) (matches, []r3.Vector, []r3.Vector, error) {
	m, err := validMatches(source, target, correspondences)
	if err != nil {
		return matches{}, nil, nil, err
	}
	src, tgt, err := gatherPositions(source, target, m)
	if err != nil {
		return matches{}, nil, nil, err
	}
	return m, src, tgt, nil
}

func correspondenceIndices(correspondences *tensor.Dense) ([]int64, error) {
	if correspondences == nil {
		return nil, errors.Wrap(ErrInvalidCorrespondences, "correspondences are nil")
	}
	shape := correspondences.Shape()
	if len(shape) > 2 || (len(shape) == 2 && shape[1] != 1) {
		return nil, errors.Wrapf(ErrInvalidCorrespondences, "expected shape (N) or (N, 1), got %v", shape)
	}
	switch data := pointcloud.Contiguous(correspondences).Data().(type) {
	case []int64:
		return data, nil
	case []int32:
		return lo.Map(data, func(v int32, _ int) int64 { return int64(v) }), nil
	case []int:
		return lo.Map(data, func(v int, _ int) int64 { return int64(v) }), nil
	default:
		return nil, errors.Wrapf(ErrInvalidCorrespondences, "correspondences must be integers, got %v", correspondences.Dtype())
	}
}

// requireAttrs returns ErrMissingAttribute naming the first attribute the cloud lacks.
func requireAttrs(cloud *pointcloud.PointCloud, role string, names ...string) error {
	for _, name := range names {
		if !cloud.HasAttr(name) {
			return errors.Wrapf(ErrMissingAttribute, "%s has no %q", role, name)
		}
	}
	return nil
}
