// Package config loads the YAML configuration of the kektorgraph CLI.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/kektorgraph/pkg/core/distance"
	"github.com/sanonone/kektorgraph/pkg/core/hnsw"
	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/persist"
)

// Store backends.
const (
	BackendEngine = "engine"
	BackendSQLite = "sqlite"
)

type Config struct {
	Index IndexConfig `yaml:"index"`
	Store StoreConfig `yaml:"store"`
	Build BuildConfig `yaml:"build"`
	Log   LogConfig   `yaml:"log"`
}

// IndexConfig holds the graph build parameters.
type IndexConfig struct {
	// Dimensionality 0 takes the dimension from the corpus header.
	Dimensionality   int    `yaml:"dimensionality"`
	DistanceFunction string `yaml:"distance_function"`
	M                int    `yaml:"m"`
	EfConstruction   int    `yaml:"ef_construction"`
	EfSearch         int    `yaml:"ef_search"`
	Seed             int64  `yaml:"seed"` // 0 = random
}

type StoreConfig struct {
	Backend          string `yaml:"backend"` // "engine" or "sqlite"
	DataDir          string `yaml:"data_dir"`
	DescriptorPath   string `yaml:"descriptor_path"` // default <data_dir>/index.json
	EntityType       string `yaml:"entity_type"`
	RelationshipType string `yaml:"relationship_type"`
	VectorProperty   string `yaml:"vector_property"`
	IDProperty       string `yaml:"id_property"`

	VectorEncoding  string   `yaml:"vector_encoding"` // float32, float16, quantized
	QuantizationMin *float32 `yaml:"quantization_min"`
	QuantizationMax *float32 `yaml:"quantization_max"`

	CacheSize        int           `yaml:"cache_size"`
	AutoSaveInterval time.Duration `yaml:"auto_save_interval"` // engine only
	SyncInterval     time.Duration `yaml:"sync_interval"`      // engine only
}

type BuildConfig struct {
	Workers         int    `yaml:"workers"`
	DuplicatePolicy string `yaml:"duplicate_policy"` // reject, skip, overwrite
	Normalize       bool   `yaml:"normalize"`
	Limit           int    `yaml:"limit"` // 0 = whole corpus
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// DefaultConfig returns the settings used to index a fastText corpus with
// inner product over normalized vectors.
func DefaultConfig() Config {
	h := hnsw.DefaultConfig(0)
	return Config{
		Index: IndexConfig{
			DistanceFunction: string(h.Metric),
			M:                h.M,
			EfConstruction:   h.EfConstruction,
			EfSearch:         h.EfSearch,
		},
		Store: StoreConfig{
			Backend:          BackendEngine,
			DataDir:          "kektorgraph_data",
			EntityType:       "Word",
			RelationshipType: "NEAR",
			VectorProperty:   "vector",
			IDProperty:       "id",
			VectorEncoding:   string(persist.Float32),
			CacheSize:        persist.DefaultCacheSize,
			AutoSaveInterval: 60 * time.Second,
			SyncInterval:     time.Second,
		},
		Build: BuildConfig{
			DuplicatePolicy: hnsw.Reject.String(),
			Normalize:       true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads the YAML file at path over DefaultConfig using strict
// parsing. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return cfg, fmt.Errorf("YAML syntax error in config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the settings that do not depend on the corpus.
func (c Config) Validate() error {
	if _, err := distance.ParseMetric(c.Index.DistanceFunction); err != nil {
		return err
	}
	if c.Index.Dimensionality < 0 {
		return types.NewConfigError("index.dimensionality", "must be >= 0, got %d", c.Index.Dimensionality)
	}
	switch c.Store.Backend {
	case BackendEngine, BackendSQLite:
	default:
		return types.NewConfigError("store.backend", "unknown backend %q", c.Store.Backend)
	}
	if c.Store.DataDir == "" {
		return types.NewConfigError("store.data_dir", "must not be empty")
	}
	if _, err := hnsw.ParseDuplicatePolicy(c.Build.DuplicatePolicy); err != nil {
		return types.NewConfigError("build.duplicate_policy", "%v", err)
	}
	if _, err := c.Log.level(); err != nil {
		return err
	}
	return nil
}

// HNSW returns the graph parameters for vectors of dimension dim, used when
// index.dimensionality is 0.
func (c Config) HNSW(dim int) (hnsw.Config, error) {
	if c.Index.Dimensionality > 0 {
		if dim > 0 && dim != c.Index.Dimensionality {
			return hnsw.Config{}, types.NewConfigError("index.dimensionality", "configured %d, corpus has %d", c.Index.Dimensionality, dim)
		}
		dim = c.Index.Dimensionality
	}
	metric, err := distance.ParseMetric(c.Index.DistanceFunction)
	if err != nil {
		return hnsw.Config{}, err
	}
	h := hnsw.Config{
		Dimension:      dim,
		Metric:         metric,
		M:              c.Index.M,
		EfConstruction: c.Index.EfConstruction,
		EfSearch:       c.Index.EfSearch,
	}
	return h, h.Validate()
}

// Descriptor returns the persisted-graph descriptor for h.
func (c Config) Descriptor(h hnsw.Config) (persist.IndexConfig, error) {
	d := persist.NewIndexConfig(h, c.Store.EntityType, c.Store.RelationshipType)
	d.VectorPropertyName = c.Store.VectorProperty
	d.IDPropertyName = c.Store.IDProperty
	d.VectorEncoding = persist.VectorEncoding(c.Store.VectorEncoding)
	if d.VectorEncoding == persist.Float32 {
		d.VectorEncoding = ""
	}
	d.QuantizationMin = c.Store.QuantizationMin
	d.QuantizationMax = c.Store.QuantizationMax
	return d, d.Validate()
}

// DescriptorFile returns where the descriptor is written.
func (c Config) DescriptorFile() string {
	if c.Store.DescriptorPath != "" {
		return c.Store.DescriptorPath
	}
	return filepath.Join(c.Store.DataDir, "index.json")
}

// EngineOptions returns the embedded store settings.
func (c Config) EngineOptions(logger *slog.Logger) engine.Options {
	opts := engine.DefaultOptions(c.Store.DataDir)
	opts.AutoSaveInterval = c.Store.AutoSaveInterval
	if c.Store.SyncInterval > 0 {
		opts.SyncInterval = c.Store.SyncInterval
	}
	opts.Logger = logger
	return opts
}

// SQLitePath returns the database file of the sqlite backend.
func (c Config) SQLitePath() string {
	return filepath.Join(c.Store.DataDir, "kektorgraph.db")
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return lvl, types.NewConfigError("log.level", "unknown level %q", l.Level)
	}
	return lvl, nil
}

// NewLogger builds the slog logger the settings describe, writing to w.
func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := l.level()
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
