package vector

import (
	"cmp"
	"math"

	"github.com/sanonone/kektorgraph/pkg/core/types"
)

// Quantized is the integer-code form of a record: one code per dimension.
type Quantized[K cmp.Ordered] struct {
	Subject K
	Codes   []int32
}

// Quantize maps every component to floor(v_i / (max - min)).
// It fails with a *types.RangeError when max <= min.
func (r Record[K]) Quantize(min, max float32) (Quantized[K], error) {
	codes, err := QuantizeVector(r.vector, min, max)
	if err != nil {
		return Quantized[K]{}, err
	}
	return Quantized[K]{Subject: r.subject, Codes: codes}, nil
}

// Dequantize maps every code back to code * (max - min). The result is within
// one quantization step of the input component.
func (q Quantized[K]) Dequantize(min, max float32) ([]float32, error) {
	return DequantizeCodes(q.Codes, min, max)
}

// Step returns max - min, or a *types.RangeError when the range is empty,
// inverted or not finite.
func Step(min, max float32) (float64, error) {
	lo, hi := float64(min), float64(max)
	if !(hi > lo) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return 0, &types.RangeError{Min: min, Max: max}
	}
	return hi - lo, nil
}

// QuantizeVector is the record-independent form of Record.Quantize.
func QuantizeVector(v []float32, min, max float32) ([]int32, error) {
	step, err := Step(min, max)
	if err != nil {
		return nil, err
	}
	codes := make([]int32, len(v))
	for i, x := range v {
		q := math.Floor(float64(x) / step)
		// saturate instead of wrapping around
		if q > math.MaxInt32 {
			q = math.MaxInt32
		} else if q < math.MinInt32 {
			q = math.MinInt32
		}
		codes[i] = int32(q)
	}
	return codes, nil
}

// DequantizeCodes is the record-independent form of Quantized.Dequantize.
func DequantizeCodes(codes []int32, min, max float32) ([]float32, error) {
	step, err := Step(min, max)
	if err != nil {
		return nil, err
	}
	v := make([]float32, len(codes))
	for i, c := range codes {
		v[i] = float32(float64(c) * step)
	}
	return v, nil
}
