package persist

import (
	"cmp"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/sanonone/kektorgraph/pkg/core/distance"
	"github.com/sanonone/kektorgraph/pkg/core/hnsw"
	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/core/vector"
	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/store/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	wordType = "Word"
	nearType = "NEAR"
)

type backend struct {
	name string
	open func(t *testing.T) Store
}

var backends = []backend{
	{"engine", func(t *testing.T) Store {
		opts := engine.DefaultOptions(t.TempDir())
		opts.AutoSaveInterval = 0
		eng, err := engine.Open(opts)
		require.NoError(t, err)
		t.Cleanup(func() { _ = eng.Close() })
		return eng
	}},
	{"sqlite", func(t *testing.T) Store {
		s, err := sqlstore.Open(filepath.Join(t.TempDir(), "graph.db"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) { fn(t, b.open(t)) })
	}
}

// gridRecords builds vectors whose components are multiples of 0.5, so that
// float16 and quantization over a 0.5 step represent them exactly.
func gridRecords(n, dim int, seed int64) []vector.Record[string] {
	rng := rand.New(rand.NewSource(seed))
	records := make([]vector.Record[string], n)
	for i := range records {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.Intn(9)-4) * 0.5
		}
		records[i] = vector.NewRecord(fmt.Sprintf("w%03d", i), v)
	}
	return records
}

func randomRecords(n, dim int, seed int64) []vector.Record[string] {
	rng := rand.New(rand.NewSource(seed))
	records := make([]vector.Record[string], n)
	for i := range records {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		vector.Normalize(v)
		records[i] = vector.NewRecord(fmt.Sprintf("w%03d", i), v)
	}
	return records
}

func buildIndex(t *testing.T, cfg hnsw.Config, records []vector.Record[string]) *hnsw.Index[string] {
	t.Helper()
	idx, err := hnsw.New[string](cfg, hnsw.WithRandSource(rand.NewSource(7)))
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, idx.Insert(r))
	}
	return idx
}

func smallConfig(dim int, m distance.Metric) hnsw.Config {
	return hnsw.Config{Dimension: dim, Metric: m, M: 4, EfConstruction: 32, EfSearch: 32}
}

func subjects[K cmp.Ordered](hits []Hit[K]) []K {
	out := make([]K, len(hits))
	for i, h := range hits {
		out[i] = h.Subject
	}
	return out
}

func memorySubjects(res []hnsw.Result[string]) []string {
	out := make([]string, len(res))
	for i, r := range res {
		out[i] = r.Subject()
	}
	return out
}

func TestDescriptorRoundTrip(t *testing.T) {
	cfg := NewIndexConfig(hnsw.DefaultConfig(300), wordType, nearType)
	doc, err := cfg.ToDescriptor()
	require.NoError(t, err)
	assert.Contains(t, string(doc), `"distance_function": "inner_product"`)

	back, err := FromDescriptor(doc)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)

	q := cfg.WithQuantization(-1, 1)
	doc, err = q.ToDescriptor()
	require.NoError(t, err)
	back, err = FromDescriptor(doc)
	require.NoError(t, err)
	assert.Equal(t, q, back)
}

func TestDescriptorRejectsInvalidDocuments(t *testing.T) {
	valid := `"dimensionality": 3, "distance_function": "cosine", "M": 4, "ef_construction": 8, "ef_search": 8,
		"entity_type_name": "Word", "relationship_type_name": "NEAR", "vector_property_name": "vector"`
	cases := map[string]string{
		"not json":          `{`,
		"missing key":       `{` + valid + `}`,
		"mistyped value":    `{` + valid + `, "id_property_name": 7}`,
		"zero M":            `{"dimensionality": 3, "distance_function": "cosine", "M": 0, "ef_construction": 8, "ef_search": 8, "entity_type_name": "Word", "relationship_type_name": "NEAR", "vector_property_name": "vector", "id_property_name": "id"}`,
		"unknown metric":    `{"dimensionality": 3, "distance_function": "manhattan", "M": 4, "ef_construction": 8, "ef_search": 8, "entity_type_name": "Word", "relationship_type_name": "NEAR", "vector_property_name": "vector", "id_property_name": "id"}`,
		"quantized, no max": `{` + valid + `, "id_property_name": "id", "vector_encoding": "quantized", "quantization_min": -1}`,
		"same properties":   `{` + valid + `, "id_property_name": "vector"}`,
		"reserved property": `{` + valid + `, "id_property_name": "hnsw_node"}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromDescriptor([]byte(doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrConfiguration)
		})
	}
}

func TestDescriptorFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "index.json")

	_, err := ReadDescriptorFile(path)
	var nf *types.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "descriptor", nf.Kind)

	cfg := NewIndexConfig(smallConfig(3, distance.Euclidean), wordType, nearType)
	require.NoError(t, WriteDescriptorFile(path, cfg))
	back, err := ReadDescriptorFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestExportLoadMatchesMemory(t *testing.T) {
	ctx := context.Background()
	records := randomRecords(40, 6, 1)
	hcfg := smallConfig(6, distance.Cosine)
	idx := buildIndex(t, hcfg, records)
	cfg := NewIndexConfig(hcfg, wordType, nearType)

	forEachBackend(t, func(t *testing.T, s Store) {
		stats, err := Export(ctx, idx, s, cfg, StringSubjects)
		require.NoError(t, err)
		assert.Equal(t, 40, stats.Nodes)
		assert.Equal(t, 41, stats.EntitiesCreated)

		n, err := s.CountEntities(ctx, wordType)
		require.NoError(t, err)
		assert.Equal(t, 40, n)

		h, err := Load(ctx, s, cfg, StringSubjects)
		require.NoError(t, err)
		assert.Equal(t, 40, h.Size())

		for _, r := range records[:10] {
			want, err := idx.Search(r.Vector(), 5, 8)
			require.NoError(t, err)
			got, err := h.Search(ctx, r.Vector(), 5, 8)
			require.NoError(t, err)
			assert.Equal(t, memorySubjects(want), subjects(got))
			for i := range got {
				assert.InDelta(t, want[i].Distance, got[i].Distance, 1e-9)
				assert.Equal(t, got[i].Subject, got[i].Entity.Properties["id"])
			}
		}
	})
}

func TestExportLoadExhaustive(t *testing.T) {
	ctx := context.Background()
	records := gridRecords(12, 3, 2)
	hcfg := smallConfig(3, distance.Euclidean)
	idx := buildIndex(t, hcfg, records)
	cfg := NewIndexConfig(hcfg, wordType, nearType)

	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := Export(ctx, idx, s, cfg, StringSubjects)
		require.NoError(t, err)
		h, err := Load(ctx, s, cfg, StringSubjects)
		require.NoError(t, err)

		// k beyond the graph size returns every node exactly once
		hits, err := h.Search(ctx, records[0].Vector(), 50, 0)
		require.NoError(t, err)
		require.Len(t, hits, len(records))
		seen := map[string]bool{}
		for i, hit := range hits {
			assert.False(t, seen[hit.Subject])
			seen[hit.Subject] = true
			if i > 0 {
				assert.LessOrEqual(t, hits[i-1].Distance, hit.Distance)
			}
		}
	})
}

func TestExportRecall(t *testing.T) {
	ctx := context.Background()
	records := randomRecords(400, 12, 3)
	hcfg := hnsw.Config{Dimension: 12, Metric: distance.Euclidean, M: 8, EfConstruction: 64, EfSearch: 64}
	idx := buildIndex(t, hcfg, records)
	cfg := NewIndexConfig(hcfg, wordType, nearType)
	fn, err := distance.ForMetric(distance.Euclidean)
	require.NoError(t, err)

	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := Export(ctx, idx, s, cfg, StringSubjects)
		require.NoError(t, err)
		h, err := Load(ctx, s, cfg, StringSubjects, WithCacheSize(64))
		require.NoError(t, err)

		rng := rand.New(rand.NewSource(99))
		var total float64
		const queries, k = 20, 10
		for q := 0; q < queries; q++ {
			query := make([]float32, 12)
			for i := range query {
				query[i] = rng.Float32()*2 - 1
			}
			sorted := append([]vector.Record[string](nil), records...)
			sort.SliceStable(sorted, func(i, j int) bool {
				return fn.Distance(query, sorted[i].Vector()) < fn.Distance(query, sorted[j].Vector())
			})
			truth := map[string]bool{}
			for _, r := range sorted[:k] {
				truth[r.Subject()] = true
			}
			hits, err := h.Search(ctx, query, k, 64)
			require.NoError(t, err)
			found := 0
			for _, hit := range hits {
				if truth[hit.Subject] {
					found++
				}
			}
			total += float64(found) / k
		}
		assert.GreaterOrEqual(t, total/queries, 0.9)
	})
}

func TestExportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	records := randomRecords(30, 4, 4)
	hcfg := smallConfig(4, distance.Euclidean)
	idx := buildIndex(t, hcfg, records)
	cfg := NewIndexConfig(hcfg, wordType, nearType)

	forEachBackend(t, func(t *testing.T, s Store) {
		first, err := Export(ctx, idx, s, cfg, StringSubjects)
		require.NoError(t, err)
		entities, err := s.CountEntities(ctx, wordType)
		require.NoError(t, err)
		rels, err := s.CountRelationships(ctx, nearType)
		require.NoError(t, err)
		assert.Equal(t, first.RelationshipsCreated, rels)

		second, err := Export(ctx, idx, s, cfg, StringSubjects)
		require.NoError(t, err)
		assert.Zero(t, second.EntitiesCreated)
		assert.Zero(t, second.EntitiesDeleted)
		assert.Zero(t, second.RelationshipsCreated)
		assert.Equal(t, 31, second.EntitiesReused)
		assert.Equal(t, rels, second.RelationshipsKept)

		n, err := s.CountEntities(ctx, wordType)
		require.NoError(t, err)
		assert.Equal(t, entities, n)
		n, err = s.CountRelationships(ctx, nearType)
		require.NoError(t, err)
		assert.Equal(t, rels, n)
		n, err = s.CountEntities(ctx, HeaderEntityType)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestExportAfterGrowth(t *testing.T) {
	ctx := context.Background()
	records := randomRecords(50, 4, 5)
	hcfg := smallConfig(4, distance.Euclidean)
	idx := buildIndex(t, hcfg, records[:30])
	cfg := NewIndexConfig(hcfg, wordType, nearType)

	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := Export(ctx, idx, s, cfg, StringSubjects)
		require.NoError(t, err)

		grown := buildIndex(t, hcfg, records)
		_, err = Export(ctx, grown, s, cfg, StringSubjects)
		require.NoError(t, err)

		n, err := s.CountEntities(ctx, wordType)
		require.NoError(t, err)
		assert.Equal(t, 50, n)

		h, err := Load(ctx, s, cfg, StringSubjects)
		require.NoError(t, err)
		assert.Equal(t, 50, h.Size())
		for _, r := range records[40:45] {
			want, err := grown.Search(r.Vector(), 3, 16)
			require.NoError(t, err)
			got, err := h.Search(ctx, r.Vector(), 3, 16)
			require.NoError(t, err)
			assert.Equal(t, memorySubjects(want), subjects(got))
		}
	})
}

func TestExportAfterShrink(t *testing.T) {
	ctx := context.Background()
	records := gridRecords(30, 3, 11)
	hcfg := smallConfig(3, distance.Euclidean)
	cfg := NewIndexConfig(hcfg, wordType, nearType)

	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := Export(ctx, buildIndex(t, hcfg, records), s, cfg, StringSubjects)
		require.NoError(t, err)

		shrunk := buildIndex(t, hcfg, records[:20])
		stats, err := Export(ctx, shrunk, s, cfg, StringSubjects)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, stats.EntitiesDeleted, 10)

		n, err := s.CountEntities(ctx, wordType)
		require.NoError(t, err)
		assert.Equal(t, 20, n)

		links := 0
		for _, node := range shrunk.Nodes() {
			for _, layer := range node.Neighbors {
				links += len(layer)
			}
		}
		rels, err := s.CountRelationships(ctx, nearType)
		require.NoError(t, err)
		assert.Equal(t, links, rels)

		h, err := Load(ctx, s, cfg, StringSubjects)
		require.NoError(t, err)
		assert.Equal(t, 20, h.Size())
		_, _, err = h.Lookup(ctx, "w025")
		var nf *types.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "subject", nf.Kind)

		_, vec, err := h.Lookup(ctx, "w005")
		require.NoError(t, err)
		assert.Equal(t, records[5].Vector(), vec)
	})
}

func TestEncodings(t *testing.T) {
	ctx := context.Background()
	records := gridRecords(25, 4, 6)
	hcfg := smallConfig(4, distance.Euclidean)
	idx := buildIndex(t, hcfg, records)

	base := NewIndexConfig(hcfg, wordType, nearType)
	half := base
	half.VectorEncoding = Float16
	configs := map[string]IndexConfig{
		"float16":   half,
		"quantized": base.WithQuantization(0, 0.5),
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			forEachBackend(t, func(t *testing.T, s Store) {
				_, err := Export(ctx, idx, s, cfg, StringSubjects)
				require.NoError(t, err)
				h, err := Load(ctx, s, cfg, StringSubjects)
				require.NoError(t, err)

				for _, r := range records[:5] {
					_, vec, err := h.Lookup(ctx, r.Subject())
					require.NoError(t, err)
					assert.Equal(t, r.Vector(), vec)

					want, err := idx.Search(r.Vector(), 4, 32)
					require.NoError(t, err)
					got, err := h.Search(ctx, r.Vector(), 4, 32)
					require.NoError(t, err)
					assert.Equal(t, memorySubjects(want), subjects(got))
				}
			})
		})
	}
}

func TestQuantizedWeightsAreCodeDistances(t *testing.T) {
	ctx := context.Background()
	records := gridRecords(10, 3, 8)
	hcfg := smallConfig(3, distance.Euclidean)
	idx := buildIndex(t, hcfg, records)
	cfg := NewIndexConfig(hcfg, wordType, nearType).WithQuantization(0, 0.5)

	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := Export(ctx, idx, s, cfg, StringSubjects)
		require.NoError(t, err)
		nodes := idx.Nodes()
		for _, n := range nodes {
			for _, links := range n.Neighbors {
				for _, l := range links {
					assert.InDelta(t, l.Distance, distanceOf(t, s, n.Subject, nodes[l.ID].Subject), 1e-5)
				}
			}
		}
	})
}

// distanceOf finds the stored weight of the relationship from a to b.
func distanceOf(t *testing.T, s Store, a, b string) float64 {
	t.Helper()
	ctx := context.Background()
	from, err := s.LookupEntity(ctx, wordType, "id", a)
	require.NoError(t, err)
	to, err := s.LookupEntity(ctx, wordType, "id", b)
	require.NoError(t, err)
	rels, err := s.Relationships(ctx, from.ID, nearType)
	require.NoError(t, err)
	for _, r := range rels {
		if r.To == to.ID {
			return r.Weight
		}
	}
	t.Fatalf("no relationship %s -> %s", a, b)
	return 0
}

func TestIntSubjects(t *testing.T) {
	ctx := context.Background()
	hcfg := smallConfig(2, distance.Euclidean)
	idx, err := hnsw.New[int64](hcfg, hnsw.WithRandSource(rand.NewSource(1)))
	require.NoError(t, err)
	for i := int64(0); i < 10; i++ {
		require.NoError(t, idx.Insert(vector.NewRecord(i*100, []float32{float32(i), 1})))
	}
	cfg := NewIndexConfig(hcfg, "Item", "CLOSE")

	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := Export(ctx, idx, s, cfg, IntSubjects)
		require.NoError(t, err)
		h, err := Load(ctx, s, cfg, IntSubjects)
		require.NoError(t, err)
		hits, err := h.Search(ctx, []float32{3.1, 1}, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{300, 400}, subjects(hits))
	})
}

func TestEmptyGraph(t *testing.T) {
	ctx := context.Background()
	hcfg := smallConfig(3, distance.Cosine)
	idx := buildIndex(t, hcfg, nil)
	cfg := NewIndexConfig(hcfg, wordType, nearType)

	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := Export(ctx, idx, s, cfg, StringSubjects)
		require.NoError(t, err)
		h, err := Load(ctx, s, cfg, StringSubjects)
		require.NoError(t, err)
		hits, err := h.Search(ctx, []float32{1, 0, 0}, 3, 0)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	records := randomRecords(10, 3, 9)
	hcfg := smallConfig(3, distance.Cosine)
	idx := buildIndex(t, hcfg, records)
	cfg := NewIndexConfig(hcfg, wordType, nearType)

	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := Load(ctx, s, cfg, StringSubjects)
		var nf *types.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "index", nf.Kind)

		_, err = Export(ctx, idx, s, cfg, StringSubjects)
		require.NoError(t, err)

		other := cfg
		other.M = 12
		_, err = Load(ctx, s, other, StringSubjects)
		assert.ErrorIs(t, err, types.ErrConfiguration)

		// ef_search is a query parameter
		other = cfg
		other.EfSearch = 5
		_, err = Load(ctx, s, other, StringSubjects)
		assert.NoError(t, err)

		h, err := Load(ctx, s, cfg, StringSubjects)
		require.NoError(t, err)
		_, err = h.Search(ctx, []float32{1, 2}, 3, 0)
		assert.ErrorIs(t, err, types.ErrDimensionMismatch)
		_, err = h.Search(ctx, []float32{1, 2, 3}, 0, 0)
		assert.ErrorIs(t, err, types.ErrInvalidK)
		_, _, err = h.Lookup(ctx, "missing")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestExportRejectsMismatchedDescriptor(t *testing.T) {
	ctx := context.Background()
	hcfg := smallConfig(3, distance.Cosine)
	idx := buildIndex(t, hcfg, randomRecords(5, 3, 10))

	forEachBackend(t, func(t *testing.T, s Store) {
		cfg := NewIndexConfig(hcfg, wordType, nearType)
		cfg.DistanceFunction = distance.Euclidean
		_, err := Export(ctx, idx, s, cfg, StringSubjects)
		var ce *types.ConfigError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "distance_function", ce.Field)

		n, err := s.CountEntities(ctx, wordType)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestExportProgress(t *testing.T) {
	ctx := context.Background()
	hcfg := smallConfig(3, distance.Cosine)
	idx := buildIndex(t, hcfg, randomRecords(8, 3, 11))
	cfg := NewIndexConfig(hcfg, wordType, nearType)

	forEachBackend(t, func(t *testing.T, s Store) {
		var calls []int
		_, err := Export(ctx, idx, s, cfg, StringSubjects, WithProgress(func(done, total int) {
			assert.Equal(t, 8, total)
			calls = append(calls, done)
			if done == 3 {
				panic("callback failure")
			}
		}))
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, calls)
	})
}

func TestExportCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hcfg := smallConfig(3, distance.Cosine)
	idx := buildIndex(t, hcfg, randomRecords(4, 3, 12))
	cfg := NewIndexConfig(hcfg, wordType, nearType)

	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := Export(ctx, idx, s, cfg, StringSubjects)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestEntryPointOf(t *testing.T) {
	nodes := []types.NodeData[string]{{Ordinal: 0, Level: 1}, {Ordinal: 1, Level: 3}, {Ordinal: 2, Level: 3}, {Ordinal: 3}}
	ep, top := entryPointOf(nodes)
	assert.Equal(t, int64(1), ep)
	assert.Equal(t, 3, top)

	ep, _ = entryPointOf[string](nil)
	assert.Equal(t, int64(-1), ep)
}
