package distance

import (
	"math"
	"math/rand"
	"testing"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// normalizeTest is a test-only normalization helper.
func normalizeTest(v []float32) {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	if n > 0 {
		n = math.Sqrt(n)
		for i := range v {
			v[i] = float32(float64(v[i]) / n)
		}
	}
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func TestParseMetric(t *testing.T) {
	for _, m := range Metrics {
		got, err := ParseMetric(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	got, err := ParseMetric(" Cosine ")
	require.NoError(t, err)
	assert.Equal(t, Cosine, got)

	_, err = ParseMetric("manhattan")
	assert.ErrorIs(t, err, types.ErrConfiguration)

	_, err = ForMetric("manhattan")
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestImplementations(t *testing.T) {
	t.Run("Euclidean", func(t *testing.T) {
		fn, err := ForMetric(Euclidean)
		require.NoError(t, err)
		assert.InDelta(t, math.Sqrt(8), fn.Distance([]float32{1, 2}, []float32{3, 4}), 1e-6)
	})

	t.Run("InnerProduct", func(t *testing.T) {
		fn, err := ForMetric(InnerProduct)
		require.NoError(t, err)
		v := []float32{1, 2, 3}
		normalizeTest(v)
		assert.InDelta(t, 0.0, fn.Distance(v, v), 1e-6)
		assert.InDelta(t, 1.0, fn.Distance([]float32{1, 0}, []float32{0, 1}), 1e-9)
	})

	t.Run("Cosine", func(t *testing.T) {
		fn, err := ForMetric(Cosine)
		require.NoError(t, err)
		// scale invariant
		assert.InDelta(t, 0.0, fn.Distance([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-6)
		assert.InDelta(t, 2.0, fn.Distance([]float32{1, 0}, []float32{-1, 0}), 1e-9)
		assert.Equal(t, 1.0, fn.Distance([]float32{0, 0}, []float32{1, 0}), "zero norm")
	})
}

func TestProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, m := range Metrics {
		fn, err := ForMetric(m)
		require.NoError(t, err)
		t.Run(string(m), func(t *testing.T) {
			for i := 0; i < 200; i++ {
				a, b := randomVector(rng, 24), randomVector(rng, 24)
				if m == InnerProduct {
					normalizeTest(a)
					normalizeTest(b)
				}
				ab, ba := fn.Distance(a, b), fn.Distance(b, a)
				assert.InDelta(t, ab, ba, 1e-9, "symmetry")
				assert.GreaterOrEqual(t, ab, -1e-6, "non-negative")
				assert.InDelta(t, 0.0, fn.Distance(a, a), 1e-5, "identity")
			}
		})
	}
}

func TestDistanceNormed(t *testing.T) {
	fn, _ := ForMetric(Cosine)
	a, b := []float32{1, 2}, []float32{2, 1}
	na, nb := math.Sqrt(5), math.Sqrt(5)
	assert.InDelta(t, fn.Distance(a, b), DistanceNormed(fn, a, b, na, nb), 1e-9)

	eu, _ := ForMetric(Euclidean)
	assert.InDelta(t, eu.Distance(a, b), DistanceNormed(eu, a, b, na, nb), 1e-9)
}

func TestCodeFunctionsMatchDequantized(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	const step = 0.05
	for _, m := range Metrics {
		codeFn, err := ForCodes(m, step)
		require.NoError(t, err)
		floatFn, _ := ForMetric(m)

		for i := 0; i < 50; i++ {
			a := make([]int32, 12)
			b := make([]int32, 12)
			fa := make([]float32, 12)
			fb := make([]float32, 12)
			for j := range a {
				a[j] = int32(rng.Intn(41) - 20)
				b[j] = int32(rng.Intn(41) - 20)
				fa[j] = float32(float64(a[j]) * step)
				fb[j] = float32(float64(b[j]) * step)
			}
			assert.InDelta(t, floatFn.Distance(fa, fb), codeFn.DistanceCodes(a, b), 1e-4, "metric %s", m)
		}
	}

	_, err := ForCodes(Euclidean, 0)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func BenchmarkEuclidean300(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	v1, v2 := randomVector(rng, 300), randomVector(rng, 300)
	fn, _ := ForMetric(Euclidean)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fn.Distance(v1, v2)
	}
}
