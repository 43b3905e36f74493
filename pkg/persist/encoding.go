package persist

import (
	"slices"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/core/vector"
	"github.com/sanonone/kektorgraph/pkg/store"
)

// payload is a vector in its stored form: []float32, []uint16 or []int32.
type payload any

func (c IndexConfig) encodeVector(v []float32) (payload, error) {
	switch c.Encoding() {
	case Float16:
		return vector.ToFloat16(v), nil
	case Quantized:
		return vector.QuantizeVector(v, *c.QuantizationMin, *c.QuantizationMax)
	default:
		return slices.Clone(v), nil
	}
}

// readPayload parses a stored property value back into its payload type.
func (c IndexConfig) readPayload(v any) (payload, error) {
	switch c.Encoding() {
	case Float16:
		return store.Uint16s(v)
	case Quantized:
		return store.Int32s(v)
	default:
		return store.Float32s(v)
	}
}

// decodeVector turns a stored property value into a float vector of the
// configured dimensionality.
func (c IndexConfig) decodeVector(v any) ([]float32, error) {
	p, err := c.readPayload(v)
	if err != nil {
		return nil, err
	}
	var out []float32
	switch p := p.(type) {
	case []uint16:
		out = vector.FromFloat16(p)
	case []int32:
		out, err = vector.DequantizeCodes(p, *c.QuantizationMin, *c.QuantizationMax)
		if err != nil {
			return nil, err
		}
	case []float32:
		out = p
	}
	if err := types.CheckDimension(c.Dimensionality, out); err != nil {
		return nil, err
	}
	return out, nil
}

func payloadEqual(a, b payload) bool {
	switch a := a.(type) {
	case []float32:
		b, ok := b.([]float32)
		return ok && slices.Equal(a, b)
	case []uint16:
		b, ok := b.([]uint16)
		return ok && slices.Equal(a, b)
	case []int32:
		b, ok := b.([]int32)
		return ok && slices.Equal(a, b)
	default:
		return false
	}
}
