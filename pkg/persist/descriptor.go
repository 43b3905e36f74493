package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/sanonone/kektorgraph/pkg/core/distance"
	"github.com/sanonone/kektorgraph/pkg/core/hnsw"
	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/core/vector"
)

// VectorEncoding selects how vectors are written to the vector property.
type VectorEncoding string

const (
	// Float32 stores the components as JSON numbers. Lossless.
	Float32 VectorEncoding = "float32"
	// Float16 stores IEEE half-precision bit patterns.
	Float16 VectorEncoding = "float16"
	// Quantized stores floor(v_i / (max - min)) codes.
	Quantized VectorEncoding = "quantized"
)

// IndexConfig is the descriptor of a persisted graph: its build parameters
// and where in the store it lives. It must be present and agree with the
// stored graph before the graph can be loaded.
type IndexConfig struct {
	Dimensionality       int             `json:"dimensionality"`
	DistanceFunction     distance.Metric `json:"distance_function"`
	M                    int             `json:"M"`
	EfConstruction       int             `json:"ef_construction"`
	EfSearch             int             `json:"ef_search"`
	EntityTypeName       string          `json:"entity_type_name"`
	RelationshipTypeName string          `json:"relationship_type_name"`
	VectorPropertyName   string          `json:"vector_property_name"`
	IDPropertyName       string          `json:"id_property_name"`

	VectorEncoding  VectorEncoding `json:"vector_encoding,omitempty"`
	QuantizationMin *float32       `json:"quantization_min,omitempty"`
	QuantizationMax *float32       `json:"quantization_max,omitempty"`
}

// NewIndexConfig describes a graph built with cfg, stored under the given
// entity and relationship types with the default property names "id" and
// "vector".
func NewIndexConfig(cfg hnsw.Config, entityType, relationshipType string) IndexConfig {
	return IndexConfig{
		Dimensionality:       cfg.Dimension,
		DistanceFunction:     cfg.Metric,
		M:                    cfg.M,
		EfConstruction:       cfg.EfConstruction,
		EfSearch:             cfg.EfSearch,
		EntityTypeName:       entityType,
		RelationshipTypeName: relationshipType,
		VectorPropertyName:   "vector",
		IDPropertyName:       "id",
	}
}

// WithQuantization switches the encoding to quantized codes over [min, max].
func (c IndexConfig) WithQuantization(min, max float32) IndexConfig {
	c.VectorEncoding = Quantized
	c.QuantizationMin = &min
	c.QuantizationMax = &max
	return c
}

// Encoding returns the vector encoding, Float32 when unset.
func (c IndexConfig) Encoding() VectorEncoding {
	if c.VectorEncoding == "" {
		return Float32
	}
	return c.VectorEncoding
}

// HNSW returns the build parameters the descriptor records.
func (c IndexConfig) HNSW() hnsw.Config {
	return hnsw.Config{
		Dimension:      c.Dimensionality,
		Metric:         c.DistanceFunction,
		M:              c.M,
		EfConstruction: c.EfConstruction,
		EfSearch:       c.EfSearch,
	}
}

// step returns the quantization step of a quantized descriptor.
func (c IndexConfig) step() (float64, error) {
	return vector.Step(*c.QuantizationMin, *c.QuantizationMax)
}

// Validate reports the first invalid field as a *types.ConfigError.
func (c IndexConfig) Validate() error {
	if err := c.HNSW().Validate(); err != nil {
		return err
	}
	names := []struct{ field, value string }{
		{"entity_type_name", c.EntityTypeName},
		{"relationship_type_name", c.RelationshipTypeName},
		{"vector_property_name", c.VectorPropertyName},
		{"id_property_name", c.IDPropertyName},
	}
	for _, n := range names {
		if n.value == "" {
			return types.NewConfigError(n.field, "must not be empty")
		}
	}
	if c.VectorPropertyName == c.IDPropertyName {
		return types.NewConfigError("vector_property_name", "must differ from id_property_name")
	}
	for _, reserved := range []string{propNode, propLevel} {
		if c.VectorPropertyName == reserved || c.IDPropertyName == reserved {
			return types.NewConfigError("id_property_name", "%q is reserved", reserved)
		}
	}

	switch c.Encoding() {
	case Float32, Float16:
	case Quantized:
		if c.QuantizationMin == nil || c.QuantizationMax == nil {
			return types.NewConfigError("quantization_min", "quantized encoding requires quantization_min and quantization_max")
		}
		if _, err := c.step(); err != nil {
			return types.NewConfigError("quantization_max", "%v", err)
		}
	default:
		return types.NewConfigError("vector_encoding", "unknown encoding %q", c.VectorEncoding)
	}
	return nil
}

// ToDescriptor renders the descriptor document.
func (c IndexConfig) ToDescriptor() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.MarshalIndent(c, "", "  ")
}

// FromDescriptor parses and validates a descriptor document. Missing required
// keys, mistyped values and out-of-range values fail with a
// *types.ConfigError.
func FromDescriptor(doc []byte) (IndexConfig, error) {
	var instance any
	if err := json.Unmarshal(doc, &instance); err != nil {
		return IndexConfig{}, types.NewConfigError("descriptor", "not a JSON document: %v", err)
	}
	schema, err := descriptorSchema()
	if err != nil {
		return IndexConfig{}, err
	}
	if err := schema.Validate(instance); err != nil {
		return IndexConfig{}, types.NewConfigError("descriptor", "%v", err)
	}

	var cfg IndexConfig
	dec := json.NewDecoder(bytes.NewReader(doc))
	if err := dec.Decode(&cfg); err != nil {
		return IndexConfig{}, types.NewConfigError("descriptor", "%v", err)
	}
	if err := cfg.Validate(); err != nil {
		return IndexConfig{}, err
	}
	return cfg, nil
}

// ReadDescriptorFile loads a descriptor from disk. A missing file is a
// *types.NotFoundError.
func ReadDescriptorFile(path string) (IndexConfig, error) {
	doc, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return IndexConfig{}, &types.NotFoundError{Kind: "descriptor", Key: path}
	}
	if err != nil {
		return IndexConfig{}, fmt.Errorf("read descriptor: %w", err)
	}
	return FromDescriptor(doc)
}

// WriteDescriptorFile writes the descriptor atomically.
func WriteDescriptorFile(path string, cfg IndexConfig) error {
	doc, err := cfg.ToDescriptor()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(doc, '\n'), 0o644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	return os.Rename(tmp, path)
}

var (
	schemaOnce     sync.Once
	schemaResolved *jsonschema.Resolved
	schemaErr      error
)

func descriptorSchema() (*jsonschema.Resolved, error) {
	schemaOnce.Do(func() {
		one := 1.0
		nonEmpty := 1
		positive := func() *jsonschema.Schema { return &jsonschema.Schema{Type: "integer", Minimum: &one} }
		name := func() *jsonschema.Schema { return &jsonschema.Schema{Type: "string", MinLength: &nonEmpty} }

		metrics := make([]any, len(distance.Metrics))
		for i, m := range distance.Metrics {
			metrics[i] = string(m)
		}
		s := &jsonschema.Schema{
			Type: "object",
			Required: []string{
				"dimensionality", "distance_function", "M", "ef_construction", "ef_search",
				"entity_type_name", "relationship_type_name", "vector_property_name", "id_property_name",
			},
			Properties: map[string]*jsonschema.Schema{
				"dimensionality":         positive(),
				"distance_function":      {Type: "string", Enum: metrics},
				"M":                      positive(),
				"ef_construction":        positive(),
				"ef_search":              positive(),
				"entity_type_name":       name(),
				"relationship_type_name": name(),
				"vector_property_name":   name(),
				"id_property_name":       name(),
				"vector_encoding":        {Type: "string", Enum: []any{string(Float32), string(Float16), string(Quantized)}},
				"quantization_min":       {Type: "number"},
				"quantization_max":       {Type: "number"},
			},
		}
		schemaResolved, schemaErr = s.Resolve(nil)
	})
	return schemaResolved, schemaErr
}
