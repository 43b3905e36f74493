// Package distance provides the dissimilarity functions used by the HNSW graph.
//
// Three metrics are supported: inner product (1 - dot, for normalized vectors),
// cosine (1 - cosine similarity) and euclidean. Float32 kernels dispatch dot
// products to the Gonum BLAS implementation; a second family operates on the
// integer codes produced by linear quantization.
package distance

import (
	"math"
	"strings"
	"sync"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"gonum.org/v1/gonum/blas/gonum"
)

// Metric names a distance function. The string values are the ones used in
// the persisted index descriptor.
type Metric string

const (
	// InnerProduct is 1 - dot(a, b). Vectors are expected to be normalized.
	InnerProduct Metric = "inner_product"
	// Cosine is 1 - dot(a, b) / (|a| |b|).
	Cosine Metric = "cosine"
	// Euclidean is the L2 distance sqrt(sum((a_i - b_i)^2)).
	Euclidean Metric = "euclidean"
)

// Metrics lists every supported metric in descriptor order.
var Metrics = []Metric{InnerProduct, Cosine, Euclidean}

// ParseMetric resolves a metric name, case-insensitively.
func ParseMetric(name string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(name)))
	switch m {
	case InnerProduct, Cosine, Euclidean:
		return m, nil
	}
	return "", types.NewConfigError("distance_function", "unknown metric %q", name)
}

// Function is a pure, stateless dissimilarity over two vectors of equal length.
// Smaller is closer.
type Function interface {
	Metric() Metric
	Distance(a, b []float32) float64
}

// NormedFunction is implemented by functions that can reuse precomputed
// vector norms instead of recomputing them on every call.
type NormedFunction interface {
	Function
	DistanceWithNorms(a, b []float32, normA, normB float64) float64
}

// --- WORKSPACE POOL ---

// diffWorkspace lends scratch slices to the euclidean kernel so that the
// difference vector does not allocate on every call.
var diffWorkspace = sync.Pool{
	New: func() interface{} {
		s := make([]float32, 300)
		return &s
	},
}

var gonumEngine = gonum.Implementation{}

func dot(a, b []float32) float64 {
	return float64(gonumEngine.Sdot(len(a), a, 1, b, 1))
}

type innerProduct struct{}

func (innerProduct) Metric() Metric { return InnerProduct }

func (innerProduct) Distance(a, b []float32) float64 {
	return 1.0 - dot(a, b)
}

type cosine struct{}

func (cosine) Metric() Metric { return Cosine }

func (c cosine) Distance(a, b []float32) float64 {
	return c.DistanceWithNorms(a, b, norm(a), norm(b))
}

func (cosine) DistanceWithNorms(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 1.0
	}
	similarity := dot(a, b) / (normA * normB)
	// rounding can push |similarity| slightly above 1
	if similarity > 1.0 {
		similarity = 1.0
	} else if similarity < -1.0 {
		similarity = -1.0
	}
	return 1.0 - similarity
}

type euclidean struct{}

func (euclidean) Metric() Metric { return Euclidean }

func (euclidean) Distance(a, b []float32) float64 {
	n := len(a)
	diffPtr := diffWorkspace.Get().(*[]float32)
	defer diffWorkspace.Put(diffPtr)

	if cap(*diffPtr) < n {
		*diffPtr = make([]float32, n)
	}
	diff := (*diffPtr)[:n]

	copy(diff, a)
	gonumEngine.Saxpy(n, -1, b, 1, diff, 1)
	sq := gonumEngine.Sdot(n, diff, 1, diff, 1)
	return math.Sqrt(float64(sq))
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

// --- Function Catalog ---

var float32Funcs = map[Metric]Function{
	InnerProduct: innerProduct{},
	Cosine:       cosine{},
	Euclidean:    euclidean{},
}

// ForMetric returns the float32 function for a metric.
func ForMetric(m Metric) (Function, error) {
	fn, ok := float32Funcs[m]
	if !ok {
		return nil, types.NewConfigError("distance_function", "unknown metric %q", m)
	}
	return fn, nil
}

// DistanceNormed uses the cached norms when fn supports them.
func DistanceNormed(fn Function, a, b []float32, normA, normB float64) float64 {
	if nf, ok := fn.(NormedFunction); ok {
		return nf.DistanceWithNorms(a, b, normA, normB)
	}
	return fn.Distance(a, b)
}
