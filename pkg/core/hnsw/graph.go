package hnsw

import (
	"container/heap"
	"context"
	"slices"

	"github.com/sanonone/kektorgraph/pkg/core/distance"
	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/core/vector"
)

// Graph is the read capability the search algorithm needs. The in-memory
// Index implements it over its arena; the persistence layer implements it on
// top of an entity/relationship store, fetching nodes lazily.
type Graph interface {
	// EntryPoint returns the topmost node and its level. ok is false for an
	// empty graph.
	EntryPoint(ctx context.Context) (id uint32, level int, ok bool, err error)
	// Node returns the vector of a node and its Euclidean norm.
	Node(ctx context.Context, id uint32) (vec []float32, norm float64, err error)
	// Neighbors returns the links of a node at a layer. A node that does not
	// live on the layer has no links there.
	Neighbors(ctx context.Context, id uint32, layer int) ([]types.Link, error)
	// Count returns the number of nodes. Ordinals are dense: 0..Count-1.
	Count(ctx context.Context) (int, error)
}

// traversal carries the per-query state shared by every layer search.
type traversal struct {
	ctx   context.Context
	done  <-chan struct{}
	g     Graph
	fn    distance.Function
	query []float32
	qnorm float64
}

func newTraversal(ctx context.Context, g Graph, fn distance.Function, query []float32, qnorm float64) *traversal {
	return &traversal{ctx: ctx, done: ctx.Done(), g: g, fn: fn, query: query, qnorm: qnorm}
}

func (t *traversal) distanceTo(id uint32) (float64, error) {
	vec, norm, err := t.g.Node(t.ctx, id)
	if err != nil {
		return 0, err
	}
	return distance.DistanceNormed(t.fn, t.query, vec, t.qnorm, norm), nil
}

func (t *traversal) cancelled() error {
	if t.done == nil {
		return nil
	}
	select {
	case <-t.done:
		return t.ctx.Err()
	default:
		return nil
	}
}

// descend runs single-hop greedy search from layer `from` down to layer to+1
// and returns the closest node found on layer to+1.
func (t *traversal) descend(entry types.Candidate, from, to int) (types.Candidate, error) {
	for l := from; l > to; l-- {
		nearest, err := t.searchLayer([]types.Candidate{entry}, 1, l)
		if err != nil {
			return entry, err
		}
		if len(nearest) > 0 {
			entry = nearest[0]
		}
	}
	return entry, nil
}

// searchLayer is the beam search of one layer: it expands the nearest
// unexplored candidate until no candidate can improve the ef best results.
// The result is sorted closest first.
func (t *traversal) searchLayer(entries []types.Candidate, ef, layer int) ([]types.Candidate, error) {
	visited := getVisited()
	candidates := getMinHeap()
	results := getMaxHeap()
	defer func() {
		putVisited(visited)
		minHeapPool.Put(candidates)
		maxHeapPool.Put(results)
	}()

	for _, e := range entries {
		if !visited.Add(e.ID) {
			continue
		}
		heap.Push(candidates, e)
		heap.Push(results, e)
		if results.Len() > ef {
			heap.Pop(results)
		}
	}

	for candidates.Len() > 0 {
		if err := t.cancelled(); err != nil {
			return nil, err
		}
		c := heap.Pop(candidates).(types.Candidate)
		if results.Len() >= ef && results.peek().Less(c) {
			break
		}

		links, err := t.g.Neighbors(t.ctx, c.ID, layer)
		if err != nil {
			return nil, err
		}
		for _, link := range links {
			if !visited.Add(link.ID) {
				continue
			}
			d, err := t.distanceTo(link.ID)
			if err != nil {
				return nil, err
			}
			cand := types.Candidate{ID: link.ID, Distance: d}
			if results.Len() < ef || cand.Less(results.peek()) {
				heap.Push(candidates, cand)
				heap.Push(results, cand)
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]types.Candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(types.Candidate)
	}
	return out, nil
}

// rankAll scores every node. It is the answer a beam as wide as the graph
// converges to, without depending on every node being reachable.
func (t *traversal) rankAll(n int) ([]types.Candidate, error) {
	all := make([]types.Candidate, n)
	for id := range n {
		if id%256 == 0 {
			if err := t.cancelled(); err != nil {
				return nil, err
			}
		}
		d, err := t.distanceTo(uint32(id))
		if err != nil {
			return nil, err
		}
		all[id] = types.Candidate{ID: uint32(id), Distance: d}
	}
	slices.SortFunc(all, compareCandidates)
	return all, nil
}

// Search finds the k nodes of g closest to query: greedy descent through the
// upper layers, then a beam of max(ef, k) on layer 0. When the beam is at
// least as wide as the graph every node is ranked directly, so k >= Count
// always returns every node exactly once. Ties are broken by ordinal. The
// caller is responsible for checking the query dimensionality. An empty
// graph yields an empty result.
func Search(ctx context.Context, g Graph, fn distance.Function, query []float32, k, ef int) ([]types.Candidate, error) {
	if k <= 0 {
		return nil, types.ErrInvalidK
	}
	ep, top, ok, err := g.EntryPoint(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []types.Candidate{}, nil
	}
	if ef < k {
		ef = k
	}

	t := newTraversal(ctx, g, fn, query, vector.Norm(query))

	n, err := g.Count(ctx)
	if err != nil {
		return nil, err
	}
	if ef >= n {
		all, err := t.rankAll(n)
		if err != nil {
			return nil, err
		}
		return all[:min(k, len(all))], nil
	}

	d, err := t.distanceTo(ep)
	if err != nil {
		return nil, err
	}
	entry, err := t.descend(types.Candidate{ID: ep, Distance: d}, top, 0)
	if err != nil {
		return nil, err
	}
	found, err := t.searchLayer([]types.Candidate{entry}, ef, 0)
	if err != nil {
		return nil, err
	}
	if len(found) > k {
		found = found[:k]
	}
	return found, nil
}
