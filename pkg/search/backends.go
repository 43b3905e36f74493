package search

import (
	"cmp"
	"context"
	"fmt"

	"github.com/sanonone/kektorgraph/pkg/core/hnsw"
	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/core/vector"
	"github.com/sanonone/kektorgraph/pkg/persist"
)

type memory[K cmp.Ordered] struct {
	idx *hnsw.Index[K]
}

// Memory searches an in-memory graph; items are the indexed records.
func Memory[K cmp.Ordered](idx *hnsw.Index[K]) Backend[K, vector.Record[K]] {
	return memory[K]{idx: idx}
}

func (m memory[K]) Resolve(_ context.Context, key K) ([]float32, error) {
	rec, ok := m.idx.Get(key)
	if !ok {
		return nil, &types.NotFoundError{Kind: "subject", Key: fmt.Sprint(key)}
	}
	return rec.Vector(), nil
}

func (m memory[K]) Search(ctx context.Context, v []float32, k, ef int) ([]Match[K], error) {
	res, err := m.idx.SearchContext(ctx, v, k, ef)
	if err != nil {
		return nil, err
	}
	out := make([]Match[K], len(res))
	for i, r := range res {
		out[i] = Match[K]{Ordinal: r.Ordinal, Subject: r.Subject(), Distance: r.Distance}
	}
	return out, nil
}

func (m memory[K]) Materialize(_ context.Context, match Match[K]) (vector.Record[K], error) {
	rec, ok := m.idx.Get(match.Subject)
	if !ok {
		return vector.Record[K]{}, &types.NotFoundError{Kind: "subject", Key: fmt.Sprint(match.Subject)}
	}
	return rec, nil
}

type persisted[K cmp.Ordered] struct {
	h *persist.Handle[K]
}

// Persisted searches a graph loaded from a store; items are the stored
// entities.
func Persisted[K cmp.Ordered](h *persist.Handle[K]) Backend[K, persist.Entity] {
	return persisted[K]{h: h}
}

func (p persisted[K]) Resolve(ctx context.Context, key K) ([]float32, error) {
	_, v, err := p.h.Lookup(ctx, key)
	return v, err
}

func (p persisted[K]) Search(ctx context.Context, v []float32, k, ef int) ([]Match[K], error) {
	hits, err := p.h.Search(ctx, v, k, ef)
	if err != nil {
		return nil, err
	}
	out := make([]Match[K], len(hits))
	for i, h := range hits {
		out[i] = Match[K]{Ordinal: h.Ordinal, Subject: h.Subject, Distance: h.Distance}
	}
	return out, nil
}

func (p persisted[K]) Materialize(ctx context.Context, m Match[K]) (persist.Entity, error) {
	return p.h.Entity(ctx, m.Ordinal)
}
