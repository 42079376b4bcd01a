package registration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/registration/logging"
	"go.viam.com/registration/utils"
)

// defaultKernelParameter is the scale and shape used when a kernel config omits them.
const defaultKernelParameter = 1.0

// KernelConfig describes a robust kernel. Scale and Shape default to 1 when omitted.
type KernelConfig struct {
	Type  string   `json:"type"`
	Scale *float64 `json:"scale,omitempty"`
	Shape *float64 `json:"shape,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *KernelConfig) Validate(path string) error {
	if cfg.Type == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "type")
	}
	kernel, err := cfg.RobustKernel()
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if err := kernel.Validate(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// RobustKernel returns the kernel the config describes.
func (cfg *KernelConfig) RobustKernel() (RobustKernel, error) {
	method, err := RobustKernelMethodFromString(cfg.Type)
	if err != nil {
		return RobustKernel{}, err
	}
	kernel := RobustKernel{Method: method, Scale: defaultKernelParameter, Shape: defaultKernelParameter}
	if cfg.Scale != nil {
		kernel.Scale = *cfg.Scale
	}
	if cfg.Shape != nil {
		kernel.Shape = *cfg.Shape
	}
	return kernel, nil
}

// Config describes a transformation estimator.
type Config struct {
	Method          string        `json:"method"`
	Kernel          *KernelConfig `json:"kernel,omitempty"`
	LambdaGeometric *float64      `json:"lambda_geometric,omitempty"`
}

// EstimationTypeFromString parses an estimator name such as "point_to_plane".
func EstimationTypeFromString(name string) (EstimationType, error) {
	byName := lo.Invert(estimationTypeNames)
	if t, ok := byName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t, nil
	}
	names := lo.Values(estimationTypeNames)
	sort.Strings(names)
	return UnspecifiedType, errors.Errorf("unknown estimation method %q, expected one of %v", name, names)
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Method == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "method")
	}
	method, err := EstimationTypeFromString(cfg.Method)
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if cfg.Kernel != nil {
		if method == PointToPointType {
			return utils.NewConfigValidationError(path,
				errors.New("kernel is only supported by point_to_plane and colored_icp"))
		}
		if err := cfg.Kernel.Validate(fmt.Sprintf("%s.%s", path, "kernel")); err != nil {
			return err
		}
	}
	if cfg.LambdaGeometric != nil {
		if method != ColoredICPType {
			return utils.NewConfigValidationError(path,
				errors.New("lambda_geometric is only supported by colored_icp"))
		}
		if l := *cfg.LambdaGeometric; !(l >= 0 && l <= 1) {
			return utils.NewConfigValidationError(path,
				errors.Errorf("lambda_geometric must be in [0, 1], got %v", l))
		}
	}
	return nil
}

// DecodeConfig decodes a config from loosely typed attributes, such as parsed JSON. Unknown keys are
// an error.
func DecodeConfig(attrs map[string]interface{}) (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		Result:      &cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return nil, errors.Wrap(err, "decoding registration config")
	}
	return &cfg, nil
}

// NewFromConfig validates cfg and constructs the estimator it describes.
func NewFromConfig(cfg *Config, logger logging.Logger) (TransformationEstimation, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if err := cfg.Validate("registration"); err != nil {
		return nil, err
	}
	method, err := EstimationTypeFromString(cfg.Method)
	if err != nil {
		return nil, err
	}
	kernel := DefaultRobustKernel()
	if cfg.Kernel != nil {
		if kernel, err = cfg.Kernel.RobustKernel(); err != nil {
			return nil, err
		}
	}

	switch method {
	case PointToPointType:
		return NewPointToPoint(logger), nil
	case PointToPlaneType:
		estimation, err := NewPointToPlane(kernel, logger)
		if err != nil {
			return nil, err
		}
		return estimation, nil
	case ColoredICPType:
		lambda := DefaultLambdaGeometric
		if cfg.LambdaGeometric != nil {
			lambda = *cfg.LambdaGeometric
		}
		estimation, err := NewColoredICP(kernel, lambda, logger)
		if err != nil {
			return nil, err
		}
		return estimation, nil
	default:
		return nil, errors.Errorf("unsupported estimation method %v", method)
	}
}
