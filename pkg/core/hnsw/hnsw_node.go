// Package hnsw provides the implementation of the Hierarchical Navigable Small World
// graph algorithm for efficient approximate nearest neighbor search.
//
// This file defines the node struct, the building block of the in-memory arena.
// Each node owns a record and its neighbor lists across layers.
package hnsw

import (
	"cmp"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/sanonone/kektorgraph/pkg/core/vector"
)

// node is a single element of the arena. Its ordinal is its position in
// Index.nodes and never changes.
type node[K cmp.Ordered] struct {
	// record is replaced wholesale on overwrite, never mutated in place, so a
	// vector slice handed to a reader stays valid.
	record vector.Record[K]
	// level is the highest layer the node lives on.
	level int
	// neighbors[l] holds the links at layer l, each with its cached distance.
	// Protected by Index.mu.
	neighbors [][]types.Link
}

func newNode[K cmp.Ordered](rec vector.Record[K], level int) *node[K] {
	return &node[K]{
		record:    rec,
		level:     level,
		neighbors: make([][]types.Link, level+1),
	}
}

// indexOf returns the position of id in the layer list, or -1.
func (n *node[K]) indexOf(layer int, id uint32) int {
	for i, l := range n.neighbors[layer] {
		if l.ID == id {
			return i
		}
	}
	return -1
}

// removeAt drops the i-th link of a layer, preserving order.
func (n *node[K]) removeAt(layer, i int) {
	links := n.neighbors[layer]
	n.neighbors[layer] = append(links[:i], links[i+1:]...)
}
