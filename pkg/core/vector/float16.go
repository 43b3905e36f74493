package vector

import "github.com/x448/float16"

// ToFloat16 converts v to IEEE half precision bit patterns.
func ToFloat16(v []float32) []uint16 {
	out := make([]uint16, len(v))
	for i, x := range v {
		out[i] = float16.Fromfloat32(x).Bits()
	}
	return out
}

// FromFloat16 converts half precision bit patterns back to float32.
func FromFloat16(bits []uint16) []float32 {
	out := make([]float32, len(bits))
	for i, b := range bits {
		out[i] = float16.Frombits(b).Float32()
	}
	return out
}
