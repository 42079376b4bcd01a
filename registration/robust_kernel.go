package registration

import (
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/registration/utils"
)

// RobustKernelMethod is a residual down-weighting function.
type RobustKernelMethod int

// The supported robust kernels.
const (
	L2Loss RobustKernelMethod = iota
	L1Loss
	HuberLoss
	CauchyLoss
	GMLoss
	TukeyLoss
	GeneralizedLoss
)

var robustKernelNames = map[RobustKernelMethod]string{
	L2Loss:          "l2",
	L1Loss:          "l1",
	HuberLoss:       "huber",
	CauchyLoss:      "cauchy",
	GMLoss:          "gm",
	TukeyLoss:       "tukey",
	GeneralizedLoss: "generalized",
}

// minAbsResidual keeps the L1 weight finite for exact matches.
const minAbsResidual = 1e-12

func (m RobustKernelMethod) String() string {
	if name, ok := robustKernelNames[m]; ok {
		return name
	}
	return "unknown"
}

// RobustKernelMethodFromString parses a kernel name such as "huber". Case is ignored.
func RobustKernelMethodFromString(name string) (RobustKernelMethod, error) {
	byName := lo.Invert(robustKernelNames)
	if m, ok := byName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return m, nil
	}
	names := lo.Values(robustKernelNames)
	sort.Strings(names)
	return 0, errors.Errorf("unknown robust kernel %q, expected one of %v", name, names)
}

// RobustKernel down-weights residuals during normal equation accumulation. Scale is the residual
// magnitude beyond which a residual counts as an outlier; Shape is only used by GeneralizedLoss.
type RobustKernel struct {
	Method RobustKernelMethod
	Scale  float64
	Shape  float64
}

// DefaultRobustKernel is the unweighted least squares kernel.
func DefaultRobustKernel() RobustKernel {
	return RobustKernel{Method: L2Loss, Scale: 1, Shape: 1}
}

// Validate checks the kernel's parameters.
func (k RobustKernel) Validate() error {
	if _, ok := robustKernelNames[k.Method]; !ok {
		return errors.Errorf("unknown robust kernel method %d", int(k.Method))
	}
	switch k.Method {
	case L2Loss, L1Loss:
		return nil
	case HuberLoss, CauchyLoss, GMLoss, TukeyLoss, GeneralizedLoss:
		if !(k.Scale > 0) || math.IsInf(k.Scale, 1) {
			return errors.Errorf("%s kernel scale must be positive and finite, got %v", k.Method, k.Scale)
		}
	}
	if math.IsNaN(k.Shape) {
		return errors.Errorf("%s kernel shape must be a number", k.Method)
	}
	return nil
}

// Weight returns the weight applied to a residual.
func (k RobustKernel) Weight(residual float64) float64 {
	switch k.Method {
	case L1Loss:
		return 1 / math.Max(math.Abs(residual), minAbsResidual)
	case HuberLoss:
		return k.Scale / math.Max(math.Abs(residual), k.Scale)
	case CauchyLoss:
		return 1 / (1 + utils.Square(residual/k.Scale))
	case GMLoss:
		return k.Scale / utils.Square(k.Scale+utils.Square(residual))
	case TukeyLoss:
		return utils.Square(1 - utils.Square(math.Min(1, math.Abs(residual)/k.Scale)))
	case GeneralizedLoss:
		return k.generalizedWeight(residual)
	default:
		return 1
	}
}

// generalizedWeight is Barron's general and adaptive robust loss. Shape 2 is L2, 0 is Cauchy-like,
// very negative shapes approach Welsch.
func (k RobustKernel) generalizedWeight(residual float64) float64 {
	c2 := utils.Square(k.Scale)
	switch {
	case utils.Float64AlmostEqual(k.Shape, 2, 1e-3):
		return 1 / c2
	case utils.Float64AlmostEqual(k.Shape, 0, 1e-3):
		return 2 / (utils.Square(residual) + 2*c2)
	case k.Shape < -1e7:
		return math.Exp(utils.Square(residual/k.Scale)/-2) / c2
	default:
		return math.Pow(utils.Square(residual/k.Scale)/math.Abs(k.Shape-2)+1, k.Shape/2-1) / c2
	}
}
