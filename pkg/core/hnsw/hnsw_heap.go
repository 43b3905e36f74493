// Package hnsw provides the implementation of the Hierarchical Navigable Small World
// graph algorithm for efficient approximate nearest neighbor search.
//
// This file defines the min-heap and max-heap used during traversal. They are
// built on container/heap and hold candidates by value. Equal distances are
// ordered by ordinal so that traversal is deterministic.
package hnsw

import (
	"container/heap"
	"sync"

	"github.com/sanonone/kektorgraph/pkg/core/types"
)

// minHeap keeps the nearest unexplored candidate on top. It drives the
// expansion order of a layer search.
type minHeap []types.Candidate

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) { *h = append(*h, x.(types.Candidate)) }

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// maxHeap keeps the farthest of the current best results on top, so it can be
// replaced as soon as a closer candidate shows up.
type maxHeap []types.Candidate

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[j].Less(h[i]) }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxHeap) Push(x any) { *h = append(*h, x.(types.Candidate)) }

func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// peek returns the worst result without removing it. The heap must not be empty.
func (h maxHeap) peek() types.Candidate { return h[0] }

var (
	minHeapPool = sync.Pool{New: func() any { h := make(minHeap, 0, 256); return &h }}
	maxHeapPool = sync.Pool{New: func() any { h := make(maxHeap, 0, 256); return &h }}
)

func getMinHeap() *minHeap {
	h := minHeapPool.Get().(*minHeap)
	*h = (*h)[:0]
	heap.Init(h)
	return h
}

func getMaxHeap() *maxHeap {
	h := maxHeapPool.Get().(*maxHeap)
	*h = (*h)[:0]
	heap.Init(h)
	return h
}
