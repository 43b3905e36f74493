package store

import (
	"encoding/json"
	"fmt"
	"math"
)

// Int reads an integral property value.
func Int(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("value %v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("value of type %T is not a number", v)
	}
}

// Float reads a numeric property value.
func Float(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		i, err := Int(v)
		return float64(i), err
	}
}

// Float32s reads a vector property.
func Float32s(v any) ([]float32, error) {
	switch s := v.(type) {
	case []float32:
		return s, nil
	case []float64:
		out := make([]float32, len(s))
		for i, f := range s {
			out[i] = float32(f)
		}
		return out, nil
	case []any:
		out := make([]float32, len(s))
		for i, e := range s {
			f, err := Float(e)
			if err != nil {
				return nil, fmt.Errorf("component %d: %w", i, err)
			}
			out[i] = float32(f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value of type %T is not a vector", v)
	}
}

// Int32s reads a quantized code vector.
func Int32s(v any) ([]int32, error) {
	if s, ok := v.([]int32); ok {
		return s, nil
	}
	items, err := anySlice(v)
	if err != nil {
		return nil, err
	}
	out := make([]int32, len(items))
	for i, e := range items {
		n, err := Int(e)
		if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("component %d is not an int32 code", i)
		}
		out[i] = int32(n)
	}
	return out, nil
}

// Uint16s reads a float16 bit-pattern vector.
func Uint16s(v any) ([]uint16, error) {
	if s, ok := v.([]uint16); ok {
		return s, nil
	}
	items, err := anySlice(v)
	if err != nil {
		return nil, err
	}
	out := make([]uint16, len(items))
	for i, e := range items {
		n, err := Int(e)
		if err != nil || n < 0 || n > math.MaxUint16 {
			return nil, fmt.Errorf("component %d is not a float16 bit pattern", i)
		}
		out[i] = uint16(n)
	}
	return out, nil
}

func anySlice(v any) ([]any, error) {
	switch s := v.(type) {
	case []any:
		return s, nil
	case []int64:
		out := make([]any, len(s))
		for i, n := range s {
			out[i] = n
		}
		return out, nil
	case []float64:
		out := make([]any, len(s))
		for i, n := range s {
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value of type %T is not an array", v)
	}
}
