// Package vector defines the indexable record stored in the HNSW graph and the
// linear quantization scheme used to persist it compactly.
package vector

import (
	"cmp"
	"math"
	"slices"
)

// Record pairs a comparable subject with an immutable vector and its cached
// Euclidean norm. The record owns its vector: NewRecord copies the input.
type Record[K cmp.Ordered] struct {
	subject K
	vector  []float32
	norm    float64
}

// NewRecord builds a record from a subject and a copy of v.
func NewRecord[K cmp.Ordered](subject K, v []float32) Record[K] {
	owned := make([]float32, len(v))
	copy(owned, v)
	return Record[K]{subject: subject, vector: owned, norm: Norm(owned)}
}

// Subject returns the record key.
func (r Record[K]) Subject() K { return r.subject }

// Vector returns the record components. The slice must not be modified.
func (r Record[K]) Vector() []float32 { return r.vector }

// Norm returns the cached Euclidean norm.
func (r Record[K]) Norm() float64 { return r.norm }

// Dimension is the vector length.
func (r Record[K]) Dimension() int { return len(r.vector) }

// Compare orders records by subject only.
func (r Record[K]) Compare(o Record[K]) int {
	return cmp.Compare(r.subject, o.subject)
}

// SortBySubject sorts records in place by subject, keeping the relative order
// of equal subjects.
func SortBySubject[K cmp.Ordered](records []Record[K]) {
	slices.SortStableFunc(records, Record[K].Compare)
}

// Norm computes sqrt(sum(v_i^2)), accumulating in float64 with fused multiply-add.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		f := float64(x)
		sum = math.FMA(f, f, sum)
	}
	return math.Sqrt(sum)
}

// Normalize scales v in place to unit length. Zero vectors are left untouched.
func Normalize(v []float32) {
	n := Norm(v)
	if n == 0 {
		return
	}
	inv := 1.0 / n
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
