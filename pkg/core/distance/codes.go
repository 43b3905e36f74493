package distance

import (
	"math"

	"github.com/sanonone/kektorgraph/pkg/core/types"
)

// CodeFunction computes the distance between two quantized vectors directly
// on their integer codes. The result equals the float distance between the
// dequantized vectors (code * step), without materializing them.
type CodeFunction interface {
	Metric() Metric
	DistanceCodes(a, b []int32) float64
}

type codeFunc struct {
	metric Metric
	step   float64
}

// ForCodes returns the code-space function of a metric for codes produced with
// quantization step (max - min).
func ForCodes(m Metric, step float64) (CodeFunction, error) {
	if _, err := ForMetric(m); err != nil {
		return nil, err
	}
	if !(step > 0) || math.IsInf(step, 0) {
		return nil, types.NewConfigError("quantization", "step must be positive and finite, got %g", step)
	}
	return codeFunc{metric: m, step: step}, nil
}

func (f codeFunc) Metric() Metric { return f.metric }

func (f codeFunc) DistanceCodes(a, b []int32) float64 {
	switch f.metric {
	case InnerProduct:
		return 1.0 - float64(dotCodes(a, b))*f.step*f.step
	case Cosine:
		na := dotCodes(a, a)
		nb := dotCodes(b, b)
		if na == 0 || nb == 0 {
			return 1.0
		}
		similarity := float64(dotCodes(a, b)) / (math.Sqrt(float64(na)) * math.Sqrt(float64(nb)))
		if similarity > 1.0 {
			similarity = 1.0
		} else if similarity < -1.0 {
			similarity = -1.0
		}
		return 1.0 - similarity
	default:
		var sum int64
		for i := range a {
			d := int64(a[i]) - int64(b[i])
			sum += d * d
		}
		return math.Sqrt(float64(sum)) * f.step
	}
}

func dotCodes(a, b []int32) int64 {
	var sum int64
	for i := range a {
		sum += int64(a[i]) * int64(b[i])
	}
	return sum
}
