package persist

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sanonone/kektorgraph/pkg/core/distance"
	"github.com/sanonone/kektorgraph/pkg/core/hnsw"
	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/metrics"
)

// Property names written next to the configured id and vector properties.
const (
	propNode  = "hnsw_node"
	propLevel = "hnsw_level"
	propLayer = "layer"
)

// Source is what Export reads from a graph; *hnsw.Index satisfies it.
type Source[K cmp.Ordered] interface {
	Config() hnsw.Config
	// Nodes returns a consistent deep copy of the graph, ordered by ordinal.
	Nodes() []types.NodeData[K]
}

// ExportStats summarizes what an export changed.
type ExportStats struct {
	Nodes                int
	EntitiesCreated      int
	EntitiesReused       int
	EntitiesDeleted      int
	RelationshipsCreated int
	RelationshipsKept    int
	Elapsed              time.Duration
}

// Export writes the graph into s as described by cfg. It copies the graph
// first and issues every store call without holding index locks.
//
// Export is idempotent: entities whose ordinal, level and encoded vector are
// unchanged are reused, and relationships are only rewritten for nodes whose
// neighbor lists changed, so re-exporting an unchanged graph writes nothing.
// Store errors are returned unmodified apart from wrapping.
func Export[K cmp.Ordered](ctx context.Context, src Source[K], s Store, cfg IndexConfig, codec SubjectCodec[K], opts ...Option) (ExportStats, error) {
	o := buildOptions(opts)
	start := time.Now()
	var stats ExportStats

	if err := cfg.Validate(); err != nil {
		return stats, err
	}
	if err := checkAgrees(cfg, src.Config()); err != nil {
		return stats, err
	}

	nodes := src.Nodes()
	stats.Nodes = len(nodes)
	e := &exporter[K]{
		ctx:   ctx,
		s:     s,
		cfg:   cfg,
		codec: codec,
		opts:  o,
		stats: &stats,
		ids:   make([]string, len(nodes)),
	}
	if cfg.Encoding() == Quantized {
		step, _ := cfg.step()
		cf, err := distance.ForCodes(cfg.DistanceFunction, step)
		if err != nil {
			return stats, err
		}
		e.codes = cf
		e.payloads = make([]payload, len(nodes))
	}

	// entities first: relationships need the ids of both ends
	for i := range nodes {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := e.writeNode(&nodes[i]); err != nil {
			return stats, err
		}
	}
	// ordinals past the end belong to a larger graph exported earlier
	for ord := uint32(len(nodes)); ; ord++ {
		n, err := e.deleteOrdinal(ord)
		if err != nil {
			return stats, err
		}
		if n == 0 {
			break
		}
	}
	for i := range nodes {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := e.writeLinks(&nodes[i]); err != nil {
			return stats, err
		}
		e.notify(i+1, len(nodes))
	}
	if err := e.writeHeader(nodes); err != nil {
		return stats, err
	}

	stats.Elapsed = time.Since(start)
	o.logger.Info("graph exported",
		"entity_type", cfg.EntityTypeName,
		"relationship_type", cfg.RelationshipTypeName,
		"nodes", stats.Nodes,
		"entities_created", stats.EntitiesCreated,
		"entities_reused", stats.EntitiesReused,
		"entities_deleted", stats.EntitiesDeleted,
		"relationships_created", stats.RelationshipsCreated,
		"relationships_kept", stats.RelationshipsKept,
		"elapsed", stats.Elapsed.Round(time.Millisecond))
	return stats, nil
}

// checkAgrees verifies the descriptor describes the graph being exported.
func checkAgrees(cfg IndexConfig, g hnsw.Config) error {
	switch {
	case cfg.Dimensionality != g.Dimension:
		return types.NewConfigError("dimensionality", "descriptor says %d, graph has %d", cfg.Dimensionality, g.Dimension)
	case cfg.DistanceFunction != g.Metric:
		return types.NewConfigError("distance_function", "descriptor says %s, graph uses %s", cfg.DistanceFunction, g.Metric)
	case cfg.M != g.M:
		return types.NewConfigError("M", "descriptor says %d, graph has %d", cfg.M, g.M)
	case cfg.EfConstruction != g.EfConstruction:
		return types.NewConfigError("ef_construction", "descriptor says %d, graph has %d", cfg.EfConstruction, g.EfConstruction)
	}
	return nil
}

type exporter[K cmp.Ordered] struct {
	ctx   context.Context
	s     Store
	cfg   IndexConfig
	codec SubjectCodec[K]
	opts  options
	stats *ExportStats

	// ids maps ordinals to entity ids.
	ids []string
	// codes and payloads are set for quantized encodings, whose link weights
	// are distances between the stored codes.
	codes    distance.CodeFunction
	payloads []payload
}

func (e *exporter[K]) writeNode(n *types.NodeData[K]) error {
	p, err := e.cfg.encodeVector(n.Vector)
	if err != nil {
		return fmt.Errorf("encode vector of %v: %w", n.Subject, err)
	}
	if e.payloads != nil {
		e.payloads[n.Ordinal] = p
	}
	subject := e.codec.Encode(n.Subject)

	existing, err := e.s.LookupEntity(e.ctx, e.cfg.EntityTypeName, e.cfg.IDPropertyName, subject)
	e.count("lookup_entity")
	switch {
	case err == nil:
		if e.matches(existing, n, p) {
			e.ids[n.Ordinal] = existing.ID
			e.stats.EntitiesReused++
			return nil
		}
		if err := e.delete(existing.ID); err != nil {
			return err
		}
	case !errors.Is(err, types.ErrNotFound):
		return fmt.Errorf("look up %v: %w", n.Subject, err)
	}

	// whatever still claims this ordinal is left over from another graph
	if _, err := e.deleteOrdinal(n.Ordinal); err != nil {
		return err
	}

	created, err := e.s.CreateEntity(e.ctx, e.cfg.EntityTypeName, Properties{
		e.cfg.IDPropertyName:     subject,
		e.cfg.VectorPropertyName: p,
		propNode:                 n.Ordinal,
		propLevel:                n.Level,
	})
	e.count("create_entity")
	if err != nil {
		return fmt.Errorf("create entity for %v: %w", n.Subject, err)
	}
	e.ids[n.Ordinal] = created.ID
	e.stats.EntitiesCreated++
	return nil
}

// deleteOrdinal removes every entity claiming ord and returns how many it found.
func (e *exporter[K]) deleteOrdinal(ord uint32) (int, error) {
	deleted := 0
	for {
		stale, err := e.s.LookupEntity(e.ctx, e.cfg.EntityTypeName, propNode, ord)
		e.count("lookup_entity")
		if errors.Is(err, types.ErrNotFound) {
			return deleted, nil
		}
		if err != nil {
			return deleted, fmt.Errorf("look up node %d: %w", ord, err)
		}
		if err := e.delete(stale.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
}

func (e *exporter[K]) delete(id string) error {
	err := e.s.DeleteEntity(e.ctx, id)
	e.count("delete_entity")
	if err != nil {
		return fmt.Errorf("delete entity %s: %w", id, err)
	}
	e.stats.EntitiesDeleted++
	return nil
}

func (e *exporter[K]) matches(existing Entity, n *types.NodeData[K], p payload) bool {
	ord, err := intProp(existing, propNode)
	if err != nil || ord != int64(n.Ordinal) {
		return false
	}
	level, err := intProp(existing, propLevel)
	if err != nil || level != int64(n.Level) {
		return false
	}
	stored, err := e.cfg.readPayload(existing.Properties[e.cfg.VectorPropertyName])
	return err == nil && payloadEqual(stored, p)
}

// writeLinks rewrites the outgoing relationships of a node unless the stored
// ones already match.
func (e *exporter[K]) writeLinks(n *types.NodeData[K]) error {
	from := e.ids[n.Ordinal]
	var want []Relationship
	for layer, links := range n.Neighbors {
		for _, link := range links {
			weight := link.Distance
			if e.codes != nil {
				weight = e.codes.DistanceCodes(e.payloads[n.Ordinal].([]int32), e.payloads[link.ID].([]int32))
			}
			want = append(want, Relationship{
				Type:   e.cfg.RelationshipTypeName,
				From:   from,
				To:     e.ids[link.ID],
				Weight: weight,
				Props:  Properties{propLayer: layer, propNode: link.ID},
			})
		}
	}

	have, err := e.s.Relationships(e.ctx, from, e.cfg.RelationshipTypeName)
	e.count("list_relationships")
	if err != nil {
		return fmt.Errorf("list relationships of node %d: %w", n.Ordinal, err)
	}
	if sameLinks(have, want) {
		e.stats.RelationshipsKept += len(have)
		return nil
	}

	if len(have) > 0 {
		err := e.s.DeleteRelationships(e.ctx, from, e.cfg.RelationshipTypeName)
		e.count("delete_relationships")
		if err != nil {
			return fmt.Errorf("delete relationships of node %d: %w", n.Ordinal, err)
		}
	}
	for _, rel := range want {
		err := e.s.CreateRelationship(e.ctx, rel)
		e.count("create_relationship")
		if err != nil {
			return fmt.Errorf("link node %d: %w", n.Ordinal, err)
		}
		e.stats.RelationshipsCreated++
	}
	return nil
}

func sameLinks(have, want []Relationship) bool {
	if len(have) != len(want) {
		return false
	}
	for i := range have {
		h, w := have[i], want[i]
		if h.To != w.To || h.Weight != w.Weight {
			return false
		}
		layer, err := intValue(h.Props[propLayer])
		if err != nil || layer != int64(w.Props[propLayer].(int)) {
			return false
		}
		node, err := intValue(h.Props[propNode])
		if err != nil || node != int64(w.Props[propNode].(uint32)) {
			return false
		}
	}
	return true
}

func (e *exporter[K]) notify(completed, total int) {
	if e.opts.progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.opts.logger.Warn("export progress callback panicked", "panic", r, "completed", completed)
		}
	}()
	e.opts.progress(completed, total)
}

func (e *exporter[K]) count(op string) {
	metrics.PersistOperationsTotal.WithLabelValues(op).Inc()
}
