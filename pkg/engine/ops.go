// This file implements store.Store on the Engine. Every mutation is validated
// against the in-memory state, appended to the AOF and then applied, all under
// the write lock, so the log order is the apply order.

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sanonone/kektorgraph/pkg/persistence"
	"github.com/sanonone/kektorgraph/pkg/store"
)

var _ store.Store = (*Engine)(nil)

// CreateEntity stores a new entity under a random UUID.
func (e *Engine) CreateEntity(ctx context.Context, typeName string, props store.Properties) (store.Entity, error) {
	if err := ctx.Err(); err != nil {
		return store.Entity{}, err
	}
	if typeName == "" {
		return store.Entity{}, errors.New("create entity: type name is required")
	}
	encoded, err := store.MarshalProperties(props)
	if err != nil {
		return store.Entity{}, fmt.Errorf("create %s entity: %w", typeName, err)
	}
	body, err := json.Marshal(entityDoc{Type: typeName, Props: encoded})
	if err != nil {
		return store.Entity{}, err
	}
	id := uuid.NewString()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.commit(persistence.Record{Op: persistence.OpPutEntity, Key: []byte(id), Value: body}); err != nil {
		return store.Entity{}, err
	}
	return e.entityLocked(id)
}

// GetEntity returns the entity with the given id.
func (e *Engine) GetEntity(ctx context.Context, id string) (store.Entity, error) {
	if err := ctx.Err(); err != nil {
		return store.Entity{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.entityLocked(id)
}

func (e *Engine) entityLocked(id string) (store.Entity, error) {
	rec, ok := e.state.entities[id]
	if !ok {
		return store.Entity{}, store.EntityNotFound(id)
	}
	props, err := store.UnmarshalProperties(rec.props)
	if err != nil {
		return store.Entity{}, err
	}
	return store.Entity{ID: id, Type: rec.typ, Properties: props}, nil
}

// LookupEntity finds an entity by the value of a scalar property through the
// property index.
func (e *Engine) LookupEntity(ctx context.Context, typeName, property string, value any) (store.Entity, error) {
	if err := ctx.Err(); err != nil {
		return store.Entity{}, err
	}
	notFound := store.EntityNotFound(fmt.Sprintf("%s.%s=%v", typeName, property, value))
	key, ok := store.IndexKey(value)
	if !ok {
		return store.Entity{}, notFound
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	id, ok := e.state.lookup(typeName, property, key)
	if !ok {
		return store.Entity{}, notFound
	}
	return e.entityLocked(id)
}

// DeleteEntity removes an entity and its outgoing relationships.
func (e *Engine) DeleteEntity(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.state.entities[id]; !ok {
		return store.EntityNotFound(id)
	}
	return e.commit(persistence.Record{Op: persistence.OpDeleteEntity, Key: []byte(id)})
}

// CreateRelationship links two existing entities.
func (e *Engine) CreateRelationship(ctx context.Context, rel store.Relationship) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rel.Type == "" {
		return errors.New("create relationship: type is required")
	}
	doc := edgeDoc{Type: rel.Type, To: rel.To, Weight: rel.Weight}
	if len(rel.Props) > 0 {
		encoded, err := store.MarshalProperties(rel.Props)
		if err != nil {
			return fmt.Errorf("create %s relationship: %w", rel.Type, err)
		}
		doc.Props = encoded
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range []string{rel.From, rel.To} {
		if _, ok := e.state.entities[id]; !ok {
			return fmt.Errorf("create %s relationship: %w", rel.Type, store.EntityNotFound(id))
		}
	}
	return e.commit(persistence.Record{Op: persistence.OpPutRelationship, Key: []byte(rel.From), Value: body})
}

// Relationships lists the relationships of a type leaving from, in creation
// order.
func (e *Engine) Relationships(ctx context.Context, from, relType string) ([]store.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	edges := e.state.edgesFrom(from, relType)
	e.mu.RUnlock()

	out := make([]store.Relationship, len(edges))
	for i, edge := range edges {
		props, err := store.UnmarshalProperties(edge.Props)
		if err != nil {
			return nil, err
		}
		out[i] = store.Relationship{Type: edge.Type, From: edge.From, To: edge.To, Weight: edge.Weight, Props: props}
	}
	return out, nil
}

// DeleteRelationships removes every relationship of a type leaving from.
func (e *Engine) DeleteRelationships(ctx context.Context, from, relType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.state.edgesFrom(from, relType)) == 0 {
		return nil
	}
	return e.commit(persistence.Record{
		Op:    persistence.OpDeleteRelationships,
		Key:   []byte(from),
		Value: []byte(relType),
	})
}

// CountEntities counts the entities of a type.
func (e *Engine) CountEntities(ctx context.Context, typeName string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.entityCounts[typeName], nil
}

// CountRelationships counts the relationships of a type.
func (e *Engine) CountRelationships(ctx context.Context, relType string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.edgeCounts[relType], nil
}

// commit logs rec and applies it. The caller holds the write lock.
func (e *Engine) commit(rec persistence.Record) error {
	if err := e.aof.Append(rec); err != nil {
		return fmt.Errorf("persistence error (AOF write failed): %w", err)
	}
	if err := e.applyRecord(rec); err != nil {
		return err
	}
	atomic.AddInt64(&e.dirtyCounter, 1)
	return nil
}

// applyRecord is shared by live writes and replay.
func (e *Engine) applyRecord(rec persistence.Record) error {
	key := string(rec.Key)
	switch rec.Op {
	case persistence.OpPutEntity:
		var doc entityDoc
		if err := json.Unmarshal(rec.Value, &doc); err != nil {
			return fmt.Errorf("decode entity %s: %w", key, err)
		}
		return e.state.putEntity(key, doc.Type, doc.Props)
	case persistence.OpDeleteEntity:
		e.state.deleteEntity(key)
	case persistence.OpPutRelationship:
		var doc edgeDoc
		if err := json.Unmarshal(rec.Value, &doc); err != nil {
			return fmt.Errorf("decode relationship from %s: %w", key, err)
		}
		e.state.putEdge(key, doc)
	case persistence.OpDeleteRelationships:
		e.state.deleteEdges(key, string(rec.Value))
	default:
		return fmt.Errorf("unexpected %s record", rec.Op)
	}
	return nil
}
