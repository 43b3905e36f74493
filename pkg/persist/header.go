package persist

import (
	"errors"
	"fmt"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/store"
)

// HeaderEntityType is the entity type of the per-graph header.
const HeaderEntityType = "HnswIndex"

const (
	headerName       = "name"
	headerEntryPoint = "entry_point"
	headerMaxLayer   = "max_layer"
	headerSize       = "size"
	headerDescriptor = "descriptor"
)

// header is what a loaded graph needs before touching any node.
type header struct {
	id         string
	entryPoint int64 // -1 for an empty graph
	maxLayer   int
	size       int
	descriptor IndexConfig
}

func headerKey(cfg IndexConfig) string {
	return cfg.EntityTypeName + "/" + cfg.RelationshipTypeName
}

// entryPointOf returns the first node to reach the top level, the node the
// in-memory graph promotes to entry point.
func entryPointOf[K any](nodes []types.NodeData[K]) (int64, int) {
	ep, top := int64(-1), 0
	for _, n := range nodes {
		if ep < 0 || n.Level > top {
			ep, top = int64(n.Ordinal), n.Level
		}
	}
	return ep, top
}

func (e *exporter[K]) writeHeader(nodes []types.NodeData[K]) error {
	doc, err := e.cfg.ToDescriptor()
	if err != nil {
		return err
	}
	ep, top := entryPointOf(nodes)
	props := Properties{
		headerName:       headerKey(e.cfg),
		headerEntryPoint: ep,
		headerMaxLayer:   top,
		headerSize:       len(nodes),
		headerDescriptor: string(doc),
	}

	existing, err := e.s.LookupEntity(e.ctx, HeaderEntityType, headerName, headerKey(e.cfg))
	e.count("lookup_entity")
	switch {
	case err == nil:
		if sameHeader(existing.Properties, props) {
			e.stats.EntitiesReused++
			return nil
		}
		if err := e.delete(existing.ID); err != nil {
			return err
		}
	case !errors.Is(err, types.ErrNotFound):
		return fmt.Errorf("look up index header: %w", err)
	}

	_, err = e.s.CreateEntity(e.ctx, HeaderEntityType, props)
	e.count("create_entity")
	if err != nil {
		return fmt.Errorf("create index header: %w", err)
	}
	e.stats.EntitiesCreated++
	return nil
}

func sameHeader(stored, want Properties) bool {
	for _, k := range []string{headerEntryPoint, headerMaxLayer, headerSize} {
		a, errA := intValue(stored[k])
		b, errB := intValue(want[k])
		if errA != nil || errB != nil || a != b {
			return false
		}
	}
	return stored[headerDescriptor] == want[headerDescriptor]
}

func parseHeader(e Entity) (header, error) {
	h := header{id: e.ID}
	ep, err := intProp(e, headerEntryPoint)
	if err != nil {
		return h, err
	}
	top, err := intProp(e, headerMaxLayer)
	if err != nil {
		return h, err
	}
	size, err := intProp(e, headerSize)
	if err != nil {
		return h, err
	}
	doc, ok := e.Properties[headerDescriptor].(string)
	if !ok {
		return h, fmt.Errorf("index header %s: descriptor is %T, not a string", e.ID, e.Properties[headerDescriptor])
	}
	h.descriptor, err = FromDescriptor([]byte(doc))
	if err != nil {
		return h, fmt.Errorf("index header %s: %w", e.ID, err)
	}
	if size < 0 || ep >= size || (size > 0 && ep < 0) {
		return h, fmt.Errorf("index header %s: entry point %d out of range for %d nodes", e.ID, ep, size)
	}
	h.entryPoint, h.maxLayer, h.size = ep, int(top), int(size)
	return h, nil
}

// compatible reports whether a graph stored as stored can be read as cfg.
// ef_search is a query parameter and may differ.
func compatible(stored, cfg IndexConfig) error {
	checks := []struct {
		field string
		same  bool
	}{
		{"dimensionality", stored.Dimensionality == cfg.Dimensionality},
		{"distance_function", stored.DistanceFunction == cfg.DistanceFunction},
		{"M", stored.M == cfg.M},
		{"ef_construction", stored.EfConstruction == cfg.EfConstruction},
		{"vector_property_name", stored.VectorPropertyName == cfg.VectorPropertyName},
		{"id_property_name", stored.IDPropertyName == cfg.IDPropertyName},
		{"vector_encoding", stored.Encoding() == cfg.Encoding()},
		{"quantization_min", sameBound(stored.QuantizationMin, cfg.QuantizationMin)},
		{"quantization_max", sameBound(stored.QuantizationMax, cfg.QuantizationMax)},
	}
	for _, c := range checks {
		if !c.same {
			return types.NewConfigError(c.field, "does not match the stored graph")
		}
	}
	return nil
}

func sameBound(a, b *float32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intProp(e Entity, name string) (int64, error) {
	v, ok := e.Properties[name]
	if !ok {
		return 0, fmt.Errorf("entity %s has no %q property", e.ID, name)
	}
	n, err := intValue(v)
	if err != nil {
		return 0, fmt.Errorf("entity %s property %q: %w", e.ID, name, err)
	}
	return n, nil
}

func intValue(v any) (int64, error) { return store.Int(v) }
