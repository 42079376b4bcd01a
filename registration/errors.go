package registration

import (
	"github.com/pkg/errors"

	"go.viam.com/registration/pointcloud"
)

var (
	// ErrTypeMismatch is returned when the source and target positions have different dtypes.
	ErrTypeMismatch = errors.New("source and target dtypes differ")
	// ErrDeviceMismatch is returned when the source and target are on different devices.
	ErrDeviceMismatch = errors.New("source and target are on different devices")
	// ErrMissingAttribute is returned when a cloud lacks an attribute the estimator needs.
	ErrMissingAttribute = pointcloud.ErrMissingAttribute
	// ErrSingularSystem is returned when the normal equations cannot be solved.
	ErrSingularSystem = errors.New("normal equations are singular")
	// ErrInvalidCorrespondences is returned for a malformed correspondence set.
	ErrInvalidCorrespondences = errors.New("invalid correspondences")
)
