package persist

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sanonone/kektorgraph/pkg/core/distance"
	"github.com/sanonone/kektorgraph/pkg/core/hnsw"
	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/core/vector"
	"github.com/sanonone/kektorgraph/pkg/metrics"
)

// Handle is a persisted graph opened for search. Nodes are read from the
// store on first use and kept in a bounded LRU cache; the graph is never
// hydrated as a whole. A Handle is safe for concurrent use as long as the
// stored graph is not re-exported underneath it.
type Handle[K cmp.Ordered] struct {
	s      Store
	cfg    IndexConfig
	codec  SubjectCodec[K]
	fn     distance.Function
	hdr    header
	cache  *lru.Cache[uint32, *cachedNode[K]]
	logger *slog.Logger
}

// Hit is one search result of a Handle.
type Hit[K cmp.Ordered] struct {
	Ordinal  uint32
	Subject  K
	Entity   Entity
	Distance float64
}

type cachedNode[K cmp.Ordered] struct {
	entity    Entity
	subject   K
	vec       []float32
	norm      float64
	neighbors [][]types.Link
}

// Load opens the graph described by cfg. It fails with a *types.NotFoundError
// when the graph was never exported and with a *types.ConfigError when the
// stored descriptor disagrees with cfg.
func Load[K cmp.Ordered](ctx context.Context, s Store, cfg IndexConfig, codec SubjectCodec[K], opts ...Option) (*Handle[K], error) {
	o := buildOptions(opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fn, err := distance.ForMetric(cfg.DistanceFunction)
	if err != nil {
		return nil, err
	}

	e, err := s.LookupEntity(ctx, HeaderEntityType, headerName, headerKey(cfg))
	metrics.PersistOperationsTotal.WithLabelValues("lookup_entity").Inc()
	if errors.Is(err, types.ErrNotFound) {
		return nil, &types.NotFoundError{Kind: "index", Key: headerKey(cfg)}
	}
	if err != nil {
		return nil, fmt.Errorf("load index header: %w", err)
	}
	hdr, err := parseHeader(e)
	if err != nil {
		return nil, err
	}
	if err := compatible(hdr.descriptor, cfg); err != nil {
		return nil, err
	}

	cache, err := lru.New[uint32, *cachedNode[K]](o.cacheSize)
	if err != nil {
		return nil, err
	}
	o.logger.Info("graph loaded",
		"entity_type", cfg.EntityTypeName,
		"relationship_type", cfg.RelationshipTypeName,
		"nodes", hdr.size,
		"max_layer", hdr.maxLayer,
		"cache_size", o.cacheSize)
	return &Handle[K]{
		s:      s,
		cfg:    cfg,
		codec:  codec,
		fn:     fn,
		hdr:    hdr,
		cache:  cache,
		logger: o.logger,
	}, nil
}

// Config returns the descriptor the handle was loaded with.
func (h *Handle[K]) Config() IndexConfig { return h.cfg }

// Size returns the number of nodes recorded at export time.
func (h *Handle[K]) Size() int { return h.hdr.size }

// Distance returns the distance function of the graph.
func (h *Handle[K]) Distance() distance.Function { return h.fn }

// EntryPoint implements hnsw.Graph.
func (h *Handle[K]) EntryPoint(context.Context) (uint32, int, bool, error) {
	if h.hdr.entryPoint < 0 {
		return 0, 0, false, nil
	}
	return uint32(h.hdr.entryPoint), h.hdr.maxLayer, true, nil
}

// Node implements hnsw.Graph.
func (h *Handle[K]) Node(ctx context.Context, id uint32) ([]float32, float64, error) {
	n, err := h.node(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return n.vec, n.norm, nil
}

// Neighbors implements hnsw.Graph.
func (h *Handle[K]) Neighbors(ctx context.Context, id uint32, layer int) ([]types.Link, error) {
	n, err := h.node(ctx, id)
	if err != nil {
		return nil, err
	}
	if layer >= len(n.neighbors) {
		return nil, nil
	}
	return n.neighbors[layer], nil
}

// Count implements hnsw.Graph.
func (h *Handle[K]) Count(context.Context) (int, error) { return h.hdr.size, nil }

var _ hnsw.Graph = (*Handle[string])(nil)

// Search returns up to k stored nodes closest to query. ef <= 0 uses the
// descriptor's ef_search.
func (h *Handle[K]) Search(ctx context.Context, query []float32, k, ef int) ([]Hit[K], error) {
	if err := types.CheckDimension(h.cfg.Dimensionality, query); err != nil {
		return nil, err
	}
	if ef <= 0 {
		ef = h.cfg.EfSearch
	}
	start := time.Now()
	found, err := hnsw.Search(ctx, h, h.fn, query, k, ef)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit[K], len(found))
	for i, c := range found {
		n, err := h.node(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		hits[i] = Hit[K]{Ordinal: c.ID, Subject: n.subject, Entity: n.entity, Distance: c.Distance}
	}
	metrics.SearchDuration.WithLabelValues("persisted").Observe(time.Since(start).Seconds())
	return hits, nil
}

// Lookup returns the entity stored for subject and its decoded vector.
func (h *Handle[K]) Lookup(ctx context.Context, subject K) (Entity, []float32, error) {
	e, err := h.s.LookupEntity(ctx, h.cfg.EntityTypeName, h.cfg.IDPropertyName, h.codec.Encode(subject))
	metrics.PersistOperationsTotal.WithLabelValues("lookup_entity").Inc()
	if errors.Is(err, types.ErrNotFound) {
		return Entity{}, nil, &types.NotFoundError{Kind: "subject", Key: fmt.Sprint(subject)}
	}
	if err != nil {
		return Entity{}, nil, err
	}
	ord, err := intProp(e, propNode)
	if err != nil {
		return Entity{}, nil, err
	}
	if ord < 0 || ord >= int64(h.hdr.size) {
		return Entity{}, nil, &types.NotFoundError{Kind: "subject", Key: fmt.Sprint(subject)}
	}
	if n, ok := h.cache.Get(uint32(ord)); ok {
		return n.entity, n.vec, nil
	}
	vec, err := h.cfg.decodeVector(e.Properties[h.cfg.VectorPropertyName])
	if err != nil {
		return Entity{}, nil, fmt.Errorf("entity %s: %w", e.ID, err)
	}
	return e, vec, nil
}

// Entity returns the stored entity of a node.
func (h *Handle[K]) Entity(ctx context.Context, ordinal uint32) (Entity, error) {
	n, err := h.node(ctx, ordinal)
	if err != nil {
		return Entity{}, err
	}
	return n.entity, nil
}

func (h *Handle[K]) node(ctx context.Context, id uint32) (*cachedNode[K], error) {
	if n, ok := h.cache.Get(id); ok {
		metrics.NodeCacheLookups.WithLabelValues("hit").Inc()
		return n, nil
	}
	metrics.NodeCacheLookups.WithLabelValues("miss").Inc()
	if int(id) >= h.hdr.size {
		return nil, &types.NotFoundError{Kind: "node", Key: fmt.Sprint(id)}
	}

	e, err := h.s.LookupEntity(ctx, h.cfg.EntityTypeName, propNode, id)
	metrics.PersistOperationsTotal.WithLabelValues("lookup_entity").Inc()
	if errors.Is(err, types.ErrNotFound) {
		return nil, &types.NotFoundError{Kind: "node", Key: fmt.Sprint(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("load node %d: %w", id, err)
	}
	n, err := h.decodeNode(e)
	if err != nil {
		return nil, fmt.Errorf("load node %d: %w", id, err)
	}

	rels, err := h.s.Relationships(ctx, e.ID, h.cfg.RelationshipTypeName)
	metrics.PersistOperationsTotal.WithLabelValues("list_relationships").Inc()
	if err != nil {
		return nil, fmt.Errorf("load neighbors of node %d: %w", id, err)
	}
	for _, rel := range rels {
		layer, err := intValue(rel.Props[propLayer])
		if err != nil || layer < 0 || int(layer) >= len(n.neighbors) {
			return nil, fmt.Errorf("node %d: relationship to %s has invalid layer %v", id, rel.To, rel.Props[propLayer])
		}
		to, err := intValue(rel.Props[propNode])
		if err != nil || to < 0 || int(to) >= h.hdr.size {
			return nil, fmt.Errorf("node %d: relationship to %s has invalid node %v", id, rel.To, rel.Props[propNode])
		}
		n.neighbors[layer] = append(n.neighbors[layer], types.Link{ID: uint32(to), Distance: rel.Weight})
	}

	h.cache.Add(id, n)
	return n, nil
}

func (h *Handle[K]) decodeNode(e Entity) (*cachedNode[K], error) {
	level, err := intProp(e, propLevel)
	if err != nil {
		return nil, err
	}
	if level < 0 || level > int64(h.hdr.maxLayer) {
		return nil, fmt.Errorf("entity %s: level %d above max layer %d", e.ID, level, h.hdr.maxLayer)
	}
	subject, err := h.codec.Decode(e.Properties[h.cfg.IDPropertyName])
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", e.ID, err)
	}
	vec, err := h.cfg.decodeVector(e.Properties[h.cfg.VectorPropertyName])
	if err != nil {
		return nil, fmt.Errorf("entity %s: %w", e.ID, err)
	}
	return &cachedNode[K]{
		entity:    e,
		subject:   subject,
		vec:       vec,
		norm:      vector.Norm(vec),
		neighbors: make([][]types.Link, level+1),
	}, nil
}
