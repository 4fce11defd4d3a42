package density

import (
	"math"
	"strings"

	"github.com/sells-group/hotspot-cli/internal/model"
)

// Kernel names a radially symmetric weighting function. Every profile is
// normalised to integrate to 1 over the plane when evaluated at u = d/h
// and divided by h².
type Kernel string

// Supported kernels.
const (
	Gaussian     Kernel = "gaussian"
	Epanechnikov Kernel = "epanechnikov"
	Uniform      Kernel = "uniform"
	Quartic      Kernel = "quartic"
	Triangular   Kernel = "triangular"
	Exponential  Kernel = "exponential"
)

// Kernels lists every supported kernel in documentation order.
var Kernels = []Kernel{Gaussian, Epanechnikov, Uniform, Quartic, Triangular, Exponential}

// ParseKernel resolves a kernel name. The empty string selects Gaussian.
// "tophat" and "linear" are accepted as aliases for Uniform and Triangular.
func ParseKernel(name string) (Kernel, error) {
	switch k := Kernel(strings.ToLower(strings.TrimSpace(name))); k {
	case "":
		return Gaussian, nil
	case "tophat":
		return Uniform, nil
	case "linear":
		return Triangular, nil
	case Gaussian, Epanechnikov, Uniform, Quartic, Triangular, Exponential:
		return k, nil
	}
	return "", model.NewInvalidParameter(model.StageDensity, "kernel", name, "unknown kernel")
}

// Support returns the normalised radius beyond which the kernel is zero,
// or +Inf for kernels with unbounded support.
func (k Kernel) Support() float64 {
	switch k {
	case Gaussian, Exponential:
		return math.Inf(1)
	default:
		return 1
	}
}

// Compact reports whether the kernel has bounded support.
func (k Kernel) Compact() bool { return !math.IsInf(k.Support(), 1) }

// Eval returns K(u) for a normalised distance u >= 0.
func (k Kernel) Eval(u float64) float64 {
	switch k {
	case Gaussian:
		return math.Exp(-0.5*u*u) / (2 * math.Pi)
	case Exponential:
		return math.Exp(-u) / (2 * math.Pi)
	case Uniform:
		if u <= 1 {
			return 1 / math.Pi
		}
	case Epanechnikov:
		if u < 1 {
			return 2 / math.Pi * (1 - u*u)
		}
	case Quartic:
		if u < 1 {
			t := 1 - u*u
			return 3 / math.Pi * t * t
		}
	case Triangular:
		if u < 1 {
			return 3 / math.Pi * (1 - u)
		}
	}
	return 0
}
