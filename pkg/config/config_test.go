package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektorgraph/pkg/core/distance"
	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/persist"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kektorgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())

	cfg, err = LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
index:
  distance_function: cosine
  m: 8
  seed: 42
store:
  backend: sqlite
  data_dir: /tmp/graph
  vector_encoding: quantized
  quantization_min: -1
  quantization_max: 1
  auto_save_interval: 5m
build:
  workers: 4
  duplicate_policy: skip
log:
  level: debug
  format: json
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "cosine", cfg.Index.DistanceFunction)
	assert.Equal(t, 8, cfg.Index.M)
	assert.Equal(t, 200, cfg.Index.EfConstruction)
	assert.Equal(t, int64(42), cfg.Index.Seed)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Store.AutoSaveInterval)
	assert.Equal(t, "Word", cfg.Store.EntityType)
	assert.Equal(t, filepath.Join("/tmp/graph", "index.json"), cfg.DescriptorFile())
	assert.Equal(t, filepath.Join("/tmp/graph", "kektorgraph.db"), cfg.SQLitePath())

	h, err := cfg.HNSW(300)
	require.NoError(t, err)
	assert.Equal(t, 300, h.Dimension)
	assert.Equal(t, distance.Cosine, h.Metric)

	d, err := cfg.Descriptor(h)
	require.NoError(t, err)
	assert.Equal(t, persist.Quantized, d.Encoding())
	assert.Equal(t, float32(1), *d.QuantizationMax)
}

func TestLoadConfigRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":  "index:\n  dimensions: 3\n",
		"bad metric":     "index:\n  distance_function: manhattan\n",
		"bad backend":    "store:\n  backend: redis\n",
		"bad policy":     "build:\n  duplicate_policy: merge\n",
		"bad level":      "log:\n  level: loud\n",
		"empty data dir": "store:\n  data_dir: \"\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHNSWDimension(t *testing.T) {
	cfg := DefaultConfig()
	_, err := cfg.HNSW(0)
	assert.ErrorIs(t, err, types.ErrConfiguration)

	cfg.Index.Dimensionality = 50
	h, err := cfg.HNSW(0)
	require.NoError(t, err)
	assert.Equal(t, 50, h.Dimension)

	_, err = cfg.HNSW(300)
	var ce *types.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "index.dimensionality", ce.Field)
}

func TestDescriptorRequiresQuantizationRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.VectorEncoding = string(persist.Quantized)
	h, err := cfg.HNSW(4)
	require.NoError(t, err)
	_, err = cfg.Descriptor(h)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf).Info("hidden")
	assert.Empty(t, buf.String())

	LogConfig{Level: "debug", Format: "json"}.NewLogger(&buf).Debug("shown", "k", 1)
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}
