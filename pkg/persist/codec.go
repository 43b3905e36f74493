// Package persist maps an in-memory HNSW graph onto an entity/relationship
// store and loads it back as a lazily materialized, searchable handle.
//
// Every graph node becomes one entity of the configured type carrying the
// subject, the encoded vector, its ordinal (hnsw_node) and level
// (hnsw_level). Every neighbor link on every layer becomes one relationship
// of the configured type, weighted by the link's distance and tagged with its
// layer and the neighbor's ordinal. A header entity records the entry point
// and the descriptor.
//
// Neither Export nor Load manage transactions; bind a transactional store
// (see sqlstore.Store.WithTx) to run them inside one.
package persist

import (
	"cmp"
	"fmt"

	"github.com/sanonone/kektorgraph/pkg/store"
)

// Aliases of the store contract, so callers of this package rarely need to
// import pkg/store.
type (
	Store        = store.Store
	Entity       = store.Entity
	Relationship = store.Relationship
	Properties   = store.Properties
)

// SubjectCodec converts subjects to and from property values. Decode receives
// JSON-decoded values.
type SubjectCodec[K cmp.Ordered] interface {
	Encode(K) any
	Decode(any) (K, error)
}

type stringCodec struct{}

func (stringCodec) Encode(s string) any { return s }

func (stringCodec) Decode(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("subject of type %T is not a string", v)
	}
	return s, nil
}

type intCodec struct{}

func (intCodec) Encode(n int64) any { return n }

func (intCodec) Decode(v any) (int64, error) { return store.Int(v) }

var (
	// StringSubjects stores string subjects as JSON strings.
	StringSubjects SubjectCodec[string] = stringCodec{}
	// IntSubjects stores int64 subjects as JSON numbers. Values beyond 2^53
	// lose precision in stores that decode numbers as float64.
	IntSubjects SubjectCodec[int64] = intCodec{}
)
