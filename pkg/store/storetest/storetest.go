// Package storetest holds the behavior every store.Store implementation must
// share, run from each implementation's tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) store.Store

// Run exercises s against the store.Store contract.
func Run(t *testing.T, open Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, open(t)) })
	t.Run("Lookup", func(t *testing.T) { testLookup(t, open(t)) })
	t.Run("Relationships", func(t *testing.T) { testRelationships(t, open(t)) })
	t.Run("DeleteEntity", func(t *testing.T) { testDeleteEntity(t, open(t)) })
	t.Run("Counts", func(t *testing.T) { testCounts(t, open(t)) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, open(t)) })
	t.Run("Cancelled", func(t *testing.T) { testCancelled(t, open(t)) })
}

func testCreateAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	e, err := s.CreateEntity(ctx, "Word", store.Properties{
		"id":     "dog",
		"vector": []float32{0.5, -0.25, 1},
		"level":  2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, e.ID)
	assert.Equal(t, "Word", e.Type)

	got, err := s.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "Word", got.Type)
	assert.Equal(t, "dog", got.Properties["id"])

	vec, err := store.Float32s(got.Properties["vector"])
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.25, 1}, vec)
	level, err := store.Int(got.Properties["level"])
	require.NoError(t, err)
	assert.EqualValues(t, 2, level)

	other, err := s.CreateEntity(ctx, "Word", nil)
	require.NoError(t, err)
	assert.NotEqual(t, e.ID, other.ID)

	_, err = s.GetEntity(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = s.CreateEntity(ctx, "Word", store.Properties{"bad": make(chan int)})
	assert.Error(t, err)
}

func testLookup(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.CreateEntity(ctx, "Node", store.Properties{"ordinal": uint32(i), "name": fmt.Sprint("n", i)})
		require.NoError(t, err)
	}
	_, err := s.CreateEntity(ctx, "Other", store.Properties{"ordinal": 3})
	require.NoError(t, err)

	e, err := s.LookupEntity(ctx, "Node", "ordinal", 3)
	require.NoError(t, err)
	assert.Equal(t, "Node", e.Type)
	assert.Equal(t, "n3", e.Properties["name"])

	e, err = s.LookupEntity(ctx, "Node", "ordinal", float64(4))
	require.NoError(t, err, "numeric lookups ignore the Go type")
	assert.Equal(t, "n4", e.Properties["name"])

	e, err = s.LookupEntity(ctx, "Node", "name", "n0")
	require.NoError(t, err)
	ord, err := store.Int(e.Properties["ordinal"])
	require.NoError(t, err)
	assert.Zero(t, ord)

	_, err = s.LookupEntity(ctx, "Node", "ordinal", 99)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.LookupEntity(ctx, "Node", "name", "3")
	assert.ErrorIs(t, err, types.ErrNotFound, "strings and numbers never match")
	_, err = s.LookupEntity(ctx, "Missing", "ordinal", 3)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testRelationships(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, err := s.CreateEntity(ctx, "Node", nil)
	require.NoError(t, err)
	b, err := s.CreateEntity(ctx, "Node", nil)
	require.NoError(t, err)
	c, err := s.CreateEntity(ctx, "Node", nil)
	require.NoError(t, err)

	require.NoError(t, s.CreateRelationship(ctx, store.Relationship{
		Type: "NEAR", From: a.ID, To: c.ID, Weight: 0.75, Props: store.Properties{"layer": 1},
	}))
	require.NoError(t, s.CreateRelationship(ctx, store.Relationship{
		Type: "NEAR", From: a.ID, To: b.ID, Weight: 0.25, Props: store.Properties{"layer": 0},
	}))
	require.NoError(t, s.CreateRelationship(ctx, store.Relationship{Type: "OTHER", From: a.ID, To: b.ID}))
	require.NoError(t, s.CreateRelationship(ctx, store.Relationship{Type: "NEAR", From: b.ID, To: a.ID}))

	rels, err := s.Relationships(ctx, a.ID, "NEAR")
	require.NoError(t, err)
	require.Len(t, rels, 2)
	assert.Equal(t, c.ID, rels[0].To, "creation order")
	assert.Equal(t, a.ID, rels[0].From)
	assert.Equal(t, "NEAR", rels[0].Type)
	assert.InDelta(t, 0.75, rels[0].Weight, 1e-12)
	layer, err := store.Int(rels[0].Props["layer"])
	require.NoError(t, err)
	assert.EqualValues(t, 1, layer)
	assert.Equal(t, b.ID, rels[1].To)

	none, err := s.Relationships(ctx, c.ID, "NEAR")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, s.DeleteRelationships(ctx, a.ID, "NEAR"))
	rels, err = s.Relationships(ctx, a.ID, "NEAR")
	require.NoError(t, err)
	assert.Empty(t, rels)
	rels, err = s.Relationships(ctx, a.ID, "OTHER")
	require.NoError(t, err)
	assert.Len(t, rels, 1, "other types untouched")
	rels, err = s.Relationships(ctx, b.ID, "NEAR")
	require.NoError(t, err)
	assert.Len(t, rels, 1, "other sources untouched")

	err = s.CreateRelationship(ctx, store.Relationship{Type: "NEAR", From: a.ID, To: "missing"})
	assert.ErrorIs(t, err, types.ErrNotFound)
	err = s.CreateRelationship(ctx, store.Relationship{Type: "NEAR", From: "missing", To: a.ID})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testDeleteEntity(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, err := s.CreateEntity(ctx, "Node", store.Properties{"ordinal": 1})
	require.NoError(t, err)
	b, err := s.CreateEntity(ctx, "Node", store.Properties{"ordinal": 2})
	require.NoError(t, err)
	require.NoError(t, s.CreateRelationship(ctx, store.Relationship{Type: "NEAR", From: a.ID, To: b.ID}))
	require.NoError(t, s.CreateRelationship(ctx, store.Relationship{Type: "FAR", From: a.ID, To: b.ID}))

	require.NoError(t, s.DeleteEntity(ctx, a.ID))
	_, err = s.GetEntity(ctx, a.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.LookupEntity(ctx, "Node", "ordinal", 1)
	assert.ErrorIs(t, err, types.ErrNotFound, "property index follows deletes")

	for _, relType := range []string{"NEAR", "FAR"} {
		n, err := s.CountRelationships(ctx, relType)
		require.NoError(t, err)
		assert.Zero(t, n, relType)
	}

	assert.ErrorIs(t, s.DeleteEntity(ctx, a.ID), types.ErrNotFound)
	_, err = s.GetEntity(ctx, b.ID)
	assert.NoError(t, err)
}

func testCounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 4; i++ {
		e, err := s.CreateEntity(ctx, "A", nil)
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	_, err := s.CreateEntity(ctx, "B", nil)
	require.NoError(t, err)
	for i := 1; i < len(ids); i++ {
		require.NoError(t, s.CreateRelationship(ctx, store.Relationship{Type: "NEXT", From: ids[i-1], To: ids[i]}))
	}

	n, err := s.CountEntities(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = s.CountEntities(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.CountEntities(ctx, "C")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.CountRelationships(ctx, "NEXT")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func testConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	root, err := s.CreateEntity(ctx, "Root", nil)
	require.NoError(t, err)

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				e, err := s.CreateEntity(ctx, "Leaf", store.Properties{"key": fmt.Sprintf("%d-%d", w, i)})
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, s.CreateRelationship(ctx, store.Relationship{Type: "HAS", From: root.ID, To: e.ID}))
				_, err = s.LookupEntity(ctx, "Leaf", "key", fmt.Sprintf("%d-%d", w, i))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	n, err := s.CountEntities(ctx, "Leaf")
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, n)
	rels, err := s.Relationships(ctx, root.ID, "HAS")
	require.NoError(t, err)
	assert.Len(t, rels, workers*perWorker)
}

func testCancelled(t *testing.T, s store.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.CreateEntity(ctx, "Node", nil)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = s.CountEntities(ctx, "Node")
	assert.ErrorIs(t, err, context.Canceled)
}
