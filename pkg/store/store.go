// Package store defines the entity/relationship store the persistence adapter
// writes HNSW graphs into, and helpers to read back the JSON-compatible
// property values its implementations return.
//
// Implementations live in pkg/engine (embedded, log-structured) and
// pkg/store/sqlstore (SQLite).
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sanonone/kektorgraph/pkg/core/types"
)

// Properties are the attributes of an entity or relationship. Values must be
// JSON-encodable; stores return them JSON-decoded, so numbers come back as
// float64 and arrays as []any. Use the conversion helpers in this package to
// read them.
type Properties map[string]any

// Entity is a typed node of the store.
type Entity struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Properties Properties `json:"properties"`
}

// Relationship is a directed, typed, weighted edge between two entities.
type Relationship struct {
	Type   string     `json:"type"`
	From   string     `json:"from"`
	To     string     `json:"to"`
	Weight float64    `json:"weight"`
	Props  Properties `json:"props,omitempty"`
}

// Store is the capability the persistence adapter needs. Every method is safe
// for concurrent use. Relationships are returned in creation order.
type Store interface {
	CreateEntity(ctx context.Context, typeName string, props Properties) (Entity, error)
	// GetEntity returns a *types.NotFoundError for an unknown id.
	GetEntity(ctx context.Context, id string) (Entity, error)
	// LookupEntity returns the first entity of typeName whose property equals
	// value, or a *types.NotFoundError. Only scalar properties are searchable.
	LookupEntity(ctx context.Context, typeName, property string, value any) (Entity, error)
	// DeleteEntity removes the entity and its outgoing relationships.
	DeleteEntity(ctx context.Context, id string) error
	CreateRelationship(ctx context.Context, rel Relationship) error
	Relationships(ctx context.Context, from, relType string) ([]Relationship, error)
	DeleteRelationships(ctx context.Context, from, relType string) error
	CountEntities(ctx context.Context, typeName string) (int, error)
	CountRelationships(ctx context.Context, relType string) (int, error)
}

// EntityNotFound builds the error stores return for a missing entity.
func EntityNotFound(key string) error {
	return &types.NotFoundError{Kind: "entity", Key: key}
}

// IndexKey canonicalizes a scalar property value for equality lookups, so
// that 7, int64(7) and the float64 7 a JSON decoder yields share one key. ok
// is false for values that are not indexable (arrays, objects, nil).
func IndexKey(value any) (key string, ok bool) {
	switch v := value.(type) {
	case nil, []any, map[string]any:
		return "", false
	case json.Number:
		if f, err := v.Float64(); err == nil {
			value = f
		}
	}
	switch value.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
	default:
		return "", false
	}
	b, err := json.Marshal(value)
	if err != nil {
		return "", false
	}
	var f float64
	if json.Unmarshal(b, &f) == nil {
		// numbers of any Go type collapse onto their float64 rendering
		b, _ = json.Marshal(f)
	}
	return string(b), true
}

// MarshalProperties encodes props for storage, rejecting values JSON cannot
// represent.
func MarshalProperties(props Properties) ([]byte, error) {
	if props == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("encode properties: %w", err)
	}
	return b, nil
}

// UnmarshalProperties is the inverse of MarshalProperties.
func UnmarshalProperties(data []byte) (Properties, error) {
	props := Properties{}
	if len(data) == 0 {
		return props, nil
	}
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return props, nil
}
