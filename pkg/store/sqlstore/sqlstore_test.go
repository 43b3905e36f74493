package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/store"
	"github.com/sanonone/kektorgraph/pkg/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openStore(t, filepath.Join(t.TempDir(), "graph.db"))
	})
}

func TestSQLStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	ctx := context.Background()

	s, err := Open(path, nil)
	require.NoError(t, err)
	a, err := s.CreateEntity(ctx, "Node", store.Properties{"ordinal": 0})
	require.NoError(t, err)
	b, err := s.CreateEntity(ctx, "Node", store.Properties{"ordinal": 1})
	require.NoError(t, err)
	require.NoError(t, s.CreateRelationship(ctx, store.Relationship{Type: "NEAR", From: a.ID, To: b.ID, Weight: 0.5}))
	require.NoError(t, s.Close())

	s = openStore(t, path)
	got, err := s.LookupEntity(ctx, "Node", "ordinal", 1)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	rels, err := s.Relationships(ctx, a.ID, "NEAR")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, b.ID, rels[0].To)
	assert.InDelta(t, 0.5, rels[0].Weight, 0)
}

func TestSQLStoreWithTx(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "graph.db"))
	ctx := context.Background()

	tx, err := s.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	bound := s.WithTx(tx)
	a, err := bound.CreateEntity(ctx, "Node", store.Properties{"name": "a"})
	require.NoError(t, err)
	b, err := bound.CreateEntity(ctx, "Node", store.Properties{"name": "b"})
	require.NoError(t, err)
	require.NoError(t, bound.CreateRelationship(ctx, store.Relationship{Type: "NEAR", From: a.ID, To: b.ID}))

	n, err := bound.CountEntities(ctx, "Node")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "visible inside the transaction")
	require.NoError(t, tx.Rollback())

	n, err = s.CountEntities(ctx, "Node")
	require.NoError(t, err)
	assert.Zero(t, n, "rolled back")

	tx, err = s.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	c, err := s.WithTx(tx).CreateEntity(ctx, "Node", store.Properties{"name": "c"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	got, err := s.LookupEntity(ctx, "Node", "name", "c")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
}

func TestSQLStoreDeleteCascades(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "graph.db"))
	ctx := context.Background()
	a, err := s.CreateEntity(ctx, "Node", store.Properties{"name": "a"})
	require.NoError(t, err)
	b, err := s.CreateEntity(ctx, "Node", store.Properties{"name": "b"})
	require.NoError(t, err)
	require.NoError(t, s.CreateRelationship(ctx, store.Relationship{Type: "NEAR", From: a.ID, To: b.ID}))
	require.NoError(t, s.CreateRelationship(ctx, store.Relationship{Type: "NEAR", From: b.ID, To: a.ID}))

	require.NoError(t, s.DeleteEntity(ctx, a.ID))
	_, err = s.LookupEntity(ctx, "Node", "name", "a")
	assert.ErrorIs(t, err, types.ErrNotFound)

	n, err := s.CountRelationships(ctx, "NEAR")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "incoming relationships are kept")
}
