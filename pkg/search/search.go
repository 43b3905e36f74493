// Package search answers "what is near this?" over either an in-memory graph
// or a persisted one, by subject key or by raw vector.
package search

import (
	"cmp"
	"context"
	"log/slog"
	"time"

	"github.com/sanonone/kektorgraph/pkg/core/types"
)

// Query selects the probe of a neighbor search: a known subject or a vector.
type Query[K cmp.Ordered] struct {
	key    K
	vector []float32
	byKey  bool
}

// ByKey probes with the vector stored for key. The key itself is left out of
// the results.
func ByKey[K cmp.Ordered](key K) Query[K] {
	return Query[K]{key: key, byKey: true}
}

// ByVector probes with v.
func ByVector[K cmp.Ordered](v []float32) Query[K] {
	return Query[K]{vector: v}
}

// Key returns the subject of a key query.
func (q Query[K]) Key() (K, bool) { return q.key, q.byKey }

// Match is one raw result of a backend search.
type Match[K cmp.Ordered] struct {
	Ordinal  uint32
	Subject  K
	Distance float64
}

// Backend is what a Finder searches. E is the item type callers get back.
type Backend[K cmp.Ordered, E any] interface {
	// Resolve returns the vector stored for key, or a *types.NotFoundError.
	Resolve(ctx context.Context, key K) ([]float32, error)
	// Search returns up to k matches closest first. ef <= 0 uses the
	// backend default.
	Search(ctx context.Context, vector []float32, k, ef int) ([]Match[K], error)
	Materialize(ctx context.Context, m Match[K]) (E, error)
}

// Neighbor is one result of FindNeighbors.
type Neighbor[K cmp.Ordered, E any] struct {
	Item     E
	Subject  K
	Distance float64
}

// Finder runs neighbor queries against a backend.
type Finder[K cmp.Ordered, E any] struct {
	backend Backend[K, E]
	ef      int
	logger  *slog.Logger
}

// Option configures a Finder.
type Option func(*settings)

type settings struct {
	ef     int
	logger *slog.Logger
}

// WithEf sets the search beam width. The default defers to the backend.
func WithEf(ef int) Option {
	return func(s *settings) { s.ef = ef }
}

// WithLogger sets the logger query timings go to.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewFinder builds a Finder over b.
func NewFinder[K cmp.Ordered, E any](b Backend[K, E], opts ...Option) *Finder[K, E] {
	s := settings{logger: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}
	return &Finder[K, E]{backend: b, ef: s.ef, logger: s.logger}
}

// FindNeighbors returns the k items closest to q, closest first. A key query
// never returns the key itself, so it may return fewer than k items only
// when the graph holds fewer than k other subjects.
func (f *Finder[K, E]) FindNeighbors(ctx context.Context, q Query[K], k int) ([]Neighbor[K, E], error) {
	if k <= 0 {
		return nil, types.ErrInvalidK
	}
	start := time.Now()

	probe, limit := q.vector, k
	if q.byKey {
		v, err := f.backend.Resolve(ctx, q.key)
		if err != nil {
			return nil, err
		}
		probe, limit = v, k+1
	}

	ef := f.ef
	if ef > 0 && ef < limit {
		ef = limit
	}
	matches, err := f.backend.Search(ctx, probe, limit, ef)
	if err != nil {
		return nil, err
	}

	out := make([]Neighbor[K, E], 0, k)
	for _, m := range matches {
		if q.byKey && m.Subject == q.key {
			continue
		}
		if len(out) == k {
			break
		}
		item, err := f.backend.Materialize(ctx, m)
		if err != nil {
			return nil, err
		}
		out = append(out, Neighbor[K, E]{Item: item, Subject: m.Subject, Distance: m.Distance})
	}

	f.logger.Debug("neighbors found",
		"by_key", q.byKey,
		"k", k,
		"found", len(out),
		"elapsed", time.Since(start))
	return out, nil
}
