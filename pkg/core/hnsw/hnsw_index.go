// Package hnsw provides the implementation of the Hierarchical Navigable Small World
// (HNSW) graph algorithm for efficient approximate nearest neighbor search.
//
// This package contains the in-memory Index: a dense arena of nodes addressed
// by insertion ordinal, each holding per-layer neighbor lists with cached
// distances. The traversal itself is written against the Graph interface so
// the same code can search a graph persisted in an entity/relationship store.
package hnsw

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/sanonone/kektorgraph/pkg/core/distance"
	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/core/vector"
	"github.com/sanonone/kektorgraph/pkg/metrics"
)

// Index is an in-memory HNSW graph over records keyed by K.
//
// Searches hold the read lock. Inserts search for candidates under the read
// lock and take the write lock only to link the new node, so concurrent
// searches always see a consistent set of neighbor lists.
type Index[K cmp.Ordered] struct {
	mu sync.RWMutex

	cfg   Config
	fn    distance.Function
	mMax0 int // cap on layer 0 neighbors: 2*M
	// ml is the normalization factor of the level distribution.
	ml float64

	nodes     []*node[K]
	bySubject map[K]uint32

	// entryPoint is the topmost node; maxLevel is -1 while the graph is empty.
	entryPoint uint32
	maxLevel   int

	rngMu sync.Mutex
	rng   *rand.Rand

	logger *slog.Logger
	name   string
	policy DuplicatePolicy
}

// Result is one search hit.
type Result[K cmp.Ordered] struct {
	Ordinal  uint32
	Record   vector.Record[K]
	Distance float64
}

// Subject is a shorthand for r.Record.Subject().
func (r Result[K]) Subject() K { return r.Record.Subject() }

type outcome string

const (
	outcomeInserted outcome = "inserted"
	outcomeSkipped  outcome = "skipped"
	outcomeReplaced outcome = "replaced"
	outcomeFailed   outcome = "failed"
)

// New builds an empty graph. It fails with a *types.ConfigError on invalid parameters.
func New[K cmp.Ordered](cfg Config, opts ...Option) (*Index[K], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fn, err := distance.ForMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}

	o := options{logger: slog.Default(), name: "default"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.source == nil {
		o.source = rand.NewSource(time.Now().UnixNano())
	}

	// ln(1) == 0; fall back to the M=2 scale so levels stay finite.
	ml := 1.0 / math.Log(2)
	if cfg.M > 1 {
		ml = 1.0 / math.Log(float64(cfg.M))
	}

	return &Index[K]{
		cfg:       cfg,
		fn:        fn,
		mMax0:     cfg.M * 2,
		ml:        ml,
		nodes:     make([]*node[K], 0, 1024),
		bySubject: make(map[K]uint32),
		maxLevel:  -1,
		rng:       rand.New(o.source),
		logger:    o.logger.With("index", o.name),
		name:      o.name,
		policy:    o.policy,
	}, nil
}

// Config returns the build parameters.
func (h *Index[K]) Config() Config { return h.cfg }

// Name returns the label given with WithName.
func (h *Index[K]) Name() string { return h.name }

// Distance returns the distance function of the index.
func (h *Index[K]) Distance() distance.Function { return h.fn }

// Size returns the number of nodes.
func (h *Index[K]) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Get returns the record stored for subject.
func (h *Index[K]) Get(subject K) (vector.Record[K], bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ord, ok := h.bySubject[subject]
	if !ok {
		return vector.Record[K]{}, false
	}
	return h.nodes[ord].record, true
}

// Insert adds a record using the policy set with WithDuplicatePolicy.
func (h *Index[K]) Insert(rec vector.Record[K]) error {
	_, err := h.insert(rec, h.policy)
	return err
}

// Search returns the k records closest to query, closest first. efSearch <= 0
// uses the configured default.
func (h *Index[K]) Search(query []float32, k, efSearch int) ([]Result[K], error) {
	return h.SearchContext(context.Background(), query, k, efSearch)
}

// SearchContext is Search with cancellation.
func (h *Index[K]) SearchContext(ctx context.Context, query []float32, k, efSearch int) ([]Result[K], error) {
	if k <= 0 {
		return nil, types.ErrInvalidK
	}
	if err := types.CheckDimension(h.cfg.Dimension, query); err != nil {
		return nil, err
	}
	if efSearch <= 0 {
		efSearch = h.cfg.EfSearch
	}
	start := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues("memory").Observe(time.Since(start).Seconds())
	}()

	h.mu.RLock()
	defer h.mu.RUnlock()

	found, err := Search(ctx, arena[K]{h}, h.fn, query, k, efSearch)
	if err != nil {
		return nil, err
	}
	results := make([]Result[K], len(found))
	for i, c := range found {
		results[i] = Result[K]{Ordinal: c.ID, Record: h.nodes[c.ID].record, Distance: c.Distance}
	}
	return results, nil
}

// --- Graph implementation (locking, copying) ---

// EntryPoint implements Graph.
func (h *Index[K]) EntryPoint(ctx context.Context) (uint32, int, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return arena[K]{h}.EntryPoint(ctx)
}

// Node implements Graph. The returned vector must not be modified.
func (h *Index[K]) Node(ctx context.Context, id uint32) ([]float32, float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return arena[K]{h}.Node(ctx, id)
}

// Neighbors implements Graph and returns a copy of the layer list.
func (h *Index[K]) Neighbors(ctx context.Context, id uint32, layer int) ([]types.Link, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	links, err := arena[K]{h}.Neighbors(ctx, id, layer)
	return slices.Clone(links), err
}

// Count implements Graph.
func (h *Index[K]) Count(context.Context) (int, error) {
	return h.Size(), nil
}

// Nodes returns a consistent copy of every node, in ordinal order. It holds
// the read lock only while copying, so callers can do slow I/O with the result.
func (h *Index[K]) Nodes() []types.NodeData[K] {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]types.NodeData[K], len(h.nodes))
	for i, n := range h.nodes {
		layers := make([][]types.Link, len(n.neighbors))
		for l, links := range n.neighbors {
			layers[l] = slices.Clone(links)
		}
		out[i] = types.NodeData[K]{
			Ordinal:   uint32(i),
			Subject:   n.record.Subject(),
			Vector:    slices.Clone(n.record.Vector()),
			Norm:      n.record.Norm(),
			Level:     n.level,
			Neighbors: layers,
		}
	}
	return out
}

// arena is the lock-free Graph view of the index used while h.mu is held.
type arena[K cmp.Ordered] struct{ h *Index[K] }

func (a arena[K]) EntryPoint(context.Context) (uint32, int, bool, error) {
	if a.h.maxLevel < 0 {
		return 0, -1, false, nil
	}
	return a.h.entryPoint, a.h.maxLevel, true, nil
}

func (a arena[K]) Node(_ context.Context, id uint32) ([]float32, float64, error) {
	if int(id) >= len(a.h.nodes) {
		return nil, 0, &types.NotFoundError{Kind: "node", Key: fmt.Sprint(id)}
	}
	r := a.h.nodes[id].record
	return r.Vector(), r.Norm(), nil
}

func (a arena[K]) Count(context.Context) (int, error) { return len(a.h.nodes), nil }

func (a arena[K]) Neighbors(_ context.Context, id uint32, layer int) ([]types.Link, error) {
	if int(id) >= len(a.h.nodes) {
		return nil, &types.NotFoundError{Kind: "node", Key: fmt.Sprint(id)}
	}
	n := a.h.nodes[id]
	if layer > n.level {
		return nil, nil
	}
	return n.neighbors[layer], nil
}

// --- Insertion ---

// insertPlan holds the per-layer candidates found for a new vector and the
// graph state they were computed against.
// noExclude disables candidate filtering in plan.
const noExclude = math.MaxUint32

type insertPlan struct {
	entry    uint32
	maxLevel int
	layers   [][]types.Candidate
}

func (h *Index[K]) insert(rec vector.Record[K], policy DuplicatePolicy) (outcome, error) {
	out, err := h.insertRecord(rec, policy)
	metrics.IndexInsertsTotal.WithLabelValues(h.name, string(out)).Inc()
	return out, err
}

func (h *Index[K]) insertRecord(rec vector.Record[K], policy DuplicatePolicy) (outcome, error) {
	if err := types.CheckDimension(h.cfg.Dimension, rec.Vector()); err != nil {
		return outcomeFailed, err
	}

	h.mu.RLock()
	_, exists := h.bySubject[rec.Subject()]
	h.mu.RUnlock()
	if exists && policy != Overwrite {
		return h.duplicate(rec, policy)
	}

	level := h.randomLevel()

	// Phase 1: candidate search under the read lock.
	var plan insertPlan
	var err error
	if !exists {
		h.mu.RLock()
		plan, err = h.plan(rec, level, noExclude)
		h.mu.RUnlock()
		if err != nil {
			return outcomeFailed, err
		}
	}

	// Phase 2: linking under the write lock.
	h.mu.Lock()
	defer h.mu.Unlock()

	if ord, ok := h.bySubject[rec.Subject()]; ok {
		if policy != Overwrite {
			return h.duplicate(rec, policy)
		}
		if err := h.overwriteLocked(ord, rec); err != nil {
			return outcomeFailed, err
		}
		return outcomeReplaced, nil
	}

	// The graph changed shape since phase 1 (first node, new entry point or
	// deeper hierarchy): the candidates may miss layers, recompute them.
	if h.maxLevel >= 0 && (plan.entry != h.entryPoint || plan.maxLevel != h.maxLevel || len(plan.layers) == 0 || len(plan.layers[0]) == 0) {
		if plan, err = h.plan(rec, level, noExclude); err != nil {
			return outcomeFailed, err
		}
	}
	h.link(rec, level, plan)
	return outcomeInserted, nil
}

func (h *Index[K]) duplicate(rec vector.Record[K], policy DuplicatePolicy) (outcome, error) {
	if policy == Skip {
		return outcomeSkipped, nil
	}
	return outcomeFailed, &types.DuplicateSubjectError{Subject: fmt.Sprint(rec.Subject())}
}

// plan runs the search half of an insertion: greedy descent above level, then
// a beam of efConstruction on every layer from min(level, maxLevel) to 0.
// Candidates equal to exclude are dropped. Caller holds h.mu (read or write).
func (h *Index[K]) plan(rec vector.Record[K], level int, exclude uint32) (insertPlan, error) {
	p := insertPlan{entry: h.entryPoint, maxLevel: h.maxLevel}
	if h.maxLevel < 0 {
		return p, nil
	}

	t := newTraversal(context.Background(), arena[K]{h}, h.fn, rec.Vector(), rec.Norm())
	d, err := t.distanceTo(h.entryPoint)
	if err != nil {
		return p, err
	}
	entry, err := t.descend(types.Candidate{ID: h.entryPoint, Distance: d}, h.maxLevel, level)
	if err != nil {
		return p, err
	}

	top := min(level, h.maxLevel)
	p.layers = make([][]types.Candidate, top+1)
	entries := []types.Candidate{entry}
	for l := top; l >= 0; l-- {
		found, err := t.searchLayer(entries, h.cfg.EfConstruction, l)
		if err != nil {
			return p, err
		}
		if len(found) > 0 {
			entries = found
		}
		if exclude != noExclude {
			found = slices.DeleteFunc(slices.Clone(found), func(c types.Candidate) bool { return c.ID == exclude })
		}
		p.layers[l] = found
	}
	return p, nil
}

// link appends the node to the arena and wires it into every planned layer.
// Caller holds h.mu for writing.
func (h *Index[K]) link(rec vector.Record[K], level int, p insertPlan) {
	ord := uint32(len(h.nodes))
	n := newNode(rec, level)
	h.nodes = append(h.nodes, n)
	h.bySubject[rec.Subject()] = ord

	for l, candidates := range p.layers {
		selected := h.selectNeighbors(candidates, h.capacity(l))
		links := make([]types.Link, len(selected))
		for i, c := range selected {
			links[i] = types.Link{ID: c.ID, Distance: c.Distance}
		}
		n.neighbors[l] = links
		for _, c := range selected {
			h.addLink(c.ID, l, types.Link{ID: ord, Distance: c.Distance})
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entryPoint = ord
	}
	metrics.IndexNodes.WithLabelValues(h.name).Set(float64(len(h.nodes)))
}

// overwriteLocked replaces the record of an existing node, refreshes every
// cached distance that involves it and links it to the neighbors of its new
// position. The node keeps its ordinal and level.
func (h *Index[K]) overwriteLocked(ord uint32, rec vector.Record[K]) error {
	n := h.nodes[ord]
	n.record = rec

	for l := range n.neighbors {
		for i := range n.neighbors[l] {
			other := h.nodes[n.neighbors[l][i].ID]
			n.neighbors[l][i].Distance = h.distanceBetween(rec, other.record)
		}
	}
	// Incoming links are not always mirrored, so scan every list.
	for id, other := range h.nodes {
		if uint32(id) == ord {
			continue
		}
		for l := 0; l <= min(other.level, n.level); l++ {
			if i := other.indexOf(l, ord); i >= 0 {
				other.neighbors[l][i].Distance = h.distanceBetween(other.record, rec)
			}
		}
	}

	p, err := h.plan(rec, n.level, ord)
	if err != nil {
		return err
	}
	for l, candidates := range p.layers {
		merged := make([]types.Candidate, 0, len(candidates)+len(n.neighbors[l]))
		seen := make(map[uint32]struct{}, cap(merged))
		for _, link := range n.neighbors[l] {
			seen[link.ID] = struct{}{}
			merged = append(merged, types.Candidate{ID: link.ID, Distance: link.Distance})
		}
		for _, c := range candidates {
			if _, dup := seen[c.ID]; !dup {
				seen[c.ID] = struct{}{}
				merged = append(merged, c)
			}
		}
		slices.SortFunc(merged, compareCandidates)

		selected := h.selectNeighbors(merged, h.capacity(l))
		links := make([]types.Link, len(selected))
		for i, c := range selected {
			links[i] = types.Link{ID: c.ID, Distance: c.Distance}
		}
		n.neighbors[l] = links
		for _, c := range selected {
			h.addLink(c.ID, l, types.Link{ID: ord, Distance: c.Distance})
		}
	}
	return nil
}

// addLink adds link to the layer list of target. When the list exceeds its
// cap the farthest entry is evicted, and the evicted node drops its own link
// back to target unless that would leave it without neighbors on the layer.
func (h *Index[K]) addLink(target uint32, layer int, link types.Link) {
	t := h.nodes[target]
	if layer > t.level || t.indexOf(layer, link.ID) >= 0 {
		return
	}
	t.neighbors[layer] = append(t.neighbors[layer], link)

	links := t.neighbors[layer]
	if len(links) <= h.capacity(layer) {
		return
	}
	worst := 0
	for i, l := range links {
		w := links[worst]
		if l.Distance > w.Distance || (l.Distance == w.Distance && l.ID > w.ID) {
			worst = i
		}
	}
	evicted := links[worst].ID
	t.removeAt(layer, worst)

	e := h.nodes[evicted]
	if i := e.indexOf(layer, target); i >= 0 && len(e.neighbors[layer]) > 1 {
		e.removeAt(layer, i)
	}
}

// selectNeighbors implements the diversity heuristic of the HNSW paper: a
// candidate is discarded when it is closer to an already selected neighbor
// than to the node being linked. Candidates must be sorted closest first.
func (h *Index[K]) selectNeighbors(candidates []types.Candidate, m int) []types.Candidate {
	if len(candidates) <= m {
		return candidates
	}

	results := make([]types.Candidate, 0, m)
	discarded := make([]types.Candidate, 0, m)

	for _, e := range candidates {
		if len(results) >= m {
			break
		}
		ev := h.nodes[e.ID].record
		good := true
		for _, r := range results {
			if h.distanceBetween(ev, h.nodes[r.ID].record) < e.Distance {
				good = false
				break
			}
		}
		if good {
			results = append(results, e)
		} else {
			discarded = append(discarded, e)
		}
	}

	// If the heuristic was too aggressive, fill the remaining slots with the
	// best discarded candidates to avoid weakly connected nodes.
	for _, c := range discarded {
		if len(results) >= m {
			break
		}
		results = append(results, c)
	}
	slices.SortFunc(results, compareCandidates)
	return results
}

func compareCandidates(a, b types.Candidate) int {
	if a.Less(b) {
		return -1
	}
	if b.Less(a) {
		return 1
	}
	return 0
}

func (h *Index[K]) distanceBetween(a, b vector.Record[K]) float64 {
	return distance.DistanceNormed(h.fn, a.Vector(), b.Vector(), a.Norm(), b.Norm())
}

// capacity is M on upper layers and 2*M on layer 0.
func (h *Index[K]) capacity(layer int) int {
	if layer == 0 {
		return h.mMax0
	}
	return h.cfg.M
}

// randomLevel draws floor(-ln(U) * mL) with U uniform in (0, 1].
func (h *Index[K]) randomLevel() int {
	h.rngMu.Lock()
	u := 1.0 - h.rng.Float64()
	h.rngMu.Unlock()
	return int(math.Floor(-math.Log(u) * h.ml))
}
