package engine

import (
	"cmp"
	"encoding/json"
)

// entityDoc is the logged body of OpPutEntity.
type entityDoc struct {
	Type  string          `json:"type"`
	Props json.RawMessage `json:"props"`
}

// edgeDoc is the logged body of OpPutRelationship. The source id travels as
// the record key.
type edgeDoc struct {
	Type   string          `json:"type"`
	To     string          `json:"to"`
	Weight float64         `json:"w"`
	Props  json.RawMessage `json:"p,omitempty"`
}

// entityRecord is the in-memory form of an entity. Props stay encoded;
// indexed maps each searchable property to its index key so deletes can find
// the index entries again.
type entityRecord struct {
	typ     string
	props   []byte
	indexed map[string]string
}

// propEntry is one row of the property index, ordered by
// (type, property, value, id).
type propEntry struct {
	Type     string
	Property string
	Value    string
	ID       string
}

func propLess(a, b propEntry) bool {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c < 0
	}
	if c := cmp.Compare(a.Property, b.Property); c != 0 {
		return c < 0
	}
	if c := cmp.Compare(a.Value, b.Value); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

// edgeEntry is one relationship, ordered by (from, type, seq). seq is a
// store-wide counter, so a range scan over (from, type) yields creation
// order.
type edgeEntry struct {
	From   string
	Type   string
	Seq    uint64
	To     string
	Weight float64
	Props  []byte
}

func edgeLess(a, b edgeEntry) bool {
	if c := cmp.Compare(a.From, b.From); c != 0 {
		return c < 0
	}
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c < 0
	}
	return a.Seq < b.Seq
}
