package hnsw

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"

	"github.com/sanonone/kektorgraph/pkg/core/distance"
	"github.com/sanonone/kektorgraph/pkg/core/types"
)

// Config holds the build parameters of a graph.
type Config struct {
	// Dimension is the length every vector must have. > 0.
	Dimension int
	// Metric selects the distance function.
	Metric distance.Metric
	// M is the max number of neighbors per node on layers > 0 [default = 16].
	// Layer 0 allows 2*M.
	M int
	// EfConstruction is the candidate list size during insertion [default = 200].
	EfConstruction int
	// EfSearch is the default candidate list size during queries [default = 200].
	EfSearch int
}

// DefaultConfig returns the parameters used to build word-vector indexes.
func DefaultConfig(dimension int) Config {
	return Config{
		Dimension:      dimension,
		Metric:         distance.InnerProduct,
		M:              16,
		EfConstruction: 200,
		EfSearch:       200,
	}
}

// Validate reports the first invalid parameter as a *types.ConfigError.
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return types.NewConfigError("dimensionality", "must be > 0, got %d", c.Dimension)
	}
	if _, err := distance.ForMetric(c.Metric); err != nil {
		return err
	}
	if c.M < 1 {
		return types.NewConfigError("M", "must be >= 1, got %d", c.M)
	}
	if c.EfConstruction < 1 {
		return types.NewConfigError("ef_construction", "must be >= 1, got %d", c.EfConstruction)
	}
	if c.EfSearch < 1 {
		return types.NewConfigError("ef_search", "must be >= 1, got %d", c.EfSearch)
	}
	return nil
}

// DuplicatePolicy decides what an insert does with a subject already in the graph.
type DuplicatePolicy int

const (
	// Reject fails the insert with a *types.DuplicateSubjectError.
	Reject DuplicatePolicy = iota
	// Skip keeps the existing node and ignores the new record.
	Skip
	// Overwrite replaces the stored vector and rebuilds the node's links.
	Overwrite
)

func (p DuplicatePolicy) String() string {
	switch p {
	case Reject:
		return "reject"
	case Skip:
		return "skip"
	case Overwrite:
		return "overwrite"
	}
	return fmt.Sprintf("DuplicatePolicy(%d)", int(p))
}

// ParseDuplicatePolicy resolves "reject", "skip" or "overwrite". Empty means Reject.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return Reject, nil
	case "skip":
		return Skip, nil
	case "overwrite":
		return Overwrite, nil
	}
	return Reject, types.NewConfigError("duplicate_policy", "unknown policy %q", s)
}

// Option customizes an Index.
type Option func(*options)

type options struct {
	source rand.Source
	logger *slog.Logger
	name   string
	policy DuplicatePolicy
}

// WithRandSource makes layer assignment reproducible.
func WithRandSource(src rand.Source) Option {
	return func(o *options) { o.source = src }
}

// WithLogger sets the logger used for build progress and recovered panics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithName labels the index in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDuplicatePolicy sets the policy used by Insert.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(o *options) { o.policy = p }
}
