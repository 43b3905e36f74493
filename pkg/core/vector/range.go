package vector

import (
	"log/slog"
	"slices"
)

// DefaultRangeQuantile keeps the central 99.8% of the component distribution
// when training a quantization range.
const DefaultRangeQuantile = 0.999

// TrainRange estimates quantization bounds from a sample of vectors. Instead of
// the absolute extremes it uses the (1-q) and q quantiles of all components,
// so that a few outliers do not stretch the step for everybody else.
// An empty sample, or a degenerate one, returns ok == false.
func TrainRange(vectors [][]float32, quantile float64) (min, max float32, ok bool) {
	if quantile <= 0.5 || quantile > 1 {
		quantile = DefaultRangeQuantile
	}

	numValues := 0
	for _, v := range vectors {
		numValues += len(v)
	}
	if numValues == 0 {
		return 0, 0, false
	}

	all := make([]float32, 0, numValues)
	for _, v := range vectors {
		all = append(all, v...)
	}
	// This is the most expensive step of training.
	slices.Sort(all)

	hiIdx := int(float64(len(all)-1) * quantile)
	loIdx := len(all) - 1 - hiIdx
	min, max = all[loIdx], all[hiIdx]
	if !(max > min) {
		min, max = all[0], all[len(all)-1]
	}
	if !(max > min) {
		return 0, 0, false
	}

	slog.Debug("quantization range trained", "min", min, "max", max, "quantile", quantile, "values", len(all))
	return min, max, true
}
