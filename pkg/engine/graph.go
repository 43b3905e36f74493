package engine

import (
	"github.com/sanonone/kektorgraph/pkg/store"
	"github.com/tidwall/btree"
)

// graph is the in-memory state of the store: entities by id, an ordered
// index over scalar properties and the relationships ordered by source. It
// has no locking of its own; the Engine guards it.
type graph struct {
	entities     map[string]*entityRecord
	props        *btree.BTreeG[propEntry]
	edges        *btree.BTreeG[edgeEntry]
	entityCounts map[string]int
	edgeCounts   map[string]int
	seq          uint64
}

func newGraph() *graph {
	return &graph{
		entities:     make(map[string]*entityRecord),
		props:        btree.NewBTreeG[propEntry](propLess),
		edges:        btree.NewBTreeG[edgeEntry](edgeLess),
		entityCounts: make(map[string]int),
		edgeCounts:   make(map[string]int),
	}
}

// putEntity inserts or replaces an entity and reindexes its properties.
func (g *graph) putEntity(id, typ string, encoded []byte) error {
	props, err := store.UnmarshalProperties(encoded)
	if err != nil {
		return err
	}
	if old, ok := g.entities[id]; ok {
		g.unindex(id, old)
		g.entityCounts[old.typ]--
	}

	rec := &entityRecord{typ: typ, props: encoded, indexed: make(map[string]string, len(props))}
	for name, v := range props {
		key, ok := store.IndexKey(v)
		if !ok {
			continue
		}
		rec.indexed[name] = key
		g.props.Set(propEntry{Type: typ, Property: name, Value: key, ID: id})
	}
	g.entities[id] = rec
	g.entityCounts[typ]++
	return nil
}

func (g *graph) unindex(id string, rec *entityRecord) {
	for name, key := range rec.indexed {
		g.props.Delete(propEntry{Type: rec.typ, Property: name, Value: key, ID: id})
	}
}

// deleteEntity drops the entity and every relationship leaving it. It
// reports whether the entity existed.
func (g *graph) deleteEntity(id string) bool {
	rec, ok := g.entities[id]
	if !ok {
		return false
	}
	g.unindex(id, rec)
	delete(g.entities, id)
	g.entityCounts[rec.typ]--

	var doomed []edgeEntry
	g.edges.Ascend(edgeEntry{From: id}, func(e edgeEntry) bool {
		if e.From != id {
			return false
		}
		doomed = append(doomed, e)
		return true
	})
	g.dropEdges(doomed)
	return true
}

// lookup returns the id of the first entity of typ whose property has the
// given index key.
func (g *graph) lookup(typ, property, key string) (string, bool) {
	var id string
	g.props.Ascend(propEntry{Type: typ, Property: property, Value: key}, func(p propEntry) bool {
		if p.Type == typ && p.Property == property && p.Value == key {
			id = p.ID
		}
		return false
	})
	return id, id != ""
}

func (g *graph) putEdge(from string, doc edgeDoc) {
	g.seq++
	g.edges.Set(edgeEntry{
		From:   from,
		Type:   doc.Type,
		Seq:    g.seq,
		To:     doc.To,
		Weight: doc.Weight,
		Props:  doc.Props,
	})
	g.edgeCounts[doc.Type]++
}

func (g *graph) edgesFrom(from, typ string) []edgeEntry {
	var out []edgeEntry
	g.edges.Ascend(edgeEntry{From: from, Type: typ}, func(e edgeEntry) bool {
		if e.From != from || e.Type != typ {
			return false
		}
		out = append(out, e)
		return true
	})
	return out
}

func (g *graph) deleteEdges(from, typ string) {
	g.dropEdges(g.edgesFrom(from, typ))
}

func (g *graph) dropEdges(edges []edgeEntry) {
	for _, e := range edges {
		g.edges.Delete(e)
		g.edgeCounts[e.Type]--
	}
}
