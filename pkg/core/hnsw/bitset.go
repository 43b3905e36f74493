package hnsw

import "sync"

// BitSet is the visited set of a traversal. It remembers which buckets were
// touched so that Reset costs O(visited) instead of O(capacity), which matters
// for store-backed graphs whose ordinals can be large and sparse.
type BitSet struct {
	buckets []uint64
	dirty   []uint32
}

// NewBitSet preallocates room for ordinals up to initialCapacity.
func NewBitSet(initialCapacity uint32) *BitSet {
	return &BitSet{buckets: make([]uint64, (initialCapacity>>6)+1)} // >> 6 == / 64
}

// Add marks n and reports whether it was newly added.
func (bs *BitSet) Add(n uint32) bool {
	b := n >> 6
	if b >= uint32(len(bs.buckets)) {
		grown := make([]uint64, b+1+b/2)
		copy(grown, bs.buckets)
		bs.buckets = grown
	}
	mask := uint64(1) << (n & 63) // n & 63 == n % 64
	word := bs.buckets[b]
	if word&mask != 0 {
		return false
	}
	if word == 0 {
		bs.dirty = append(bs.dirty, b)
	}
	bs.buckets[b] = word | mask
	return true
}

// Has reports whether n was added.
func (bs *BitSet) Has(n uint32) bool {
	b := n >> 6
	if b >= uint32(len(bs.buckets)) {
		return false
	}
	return bs.buckets[b]&(uint64(1)<<(n&63)) != 0
}

// Reset clears every bucket touched since the last reset.
func (bs *BitSet) Reset() {
	for _, b := range bs.dirty {
		bs.buckets[b] = 0
	}
	bs.dirty = bs.dirty[:0]
}

var visitedPool = sync.Pool{
	New: func() any { return NewBitSet(1024) },
}

func getVisited() *BitSet { return visitedPool.Get().(*BitSet) }

func putVisited(bs *BitSet) {
	bs.Reset()
	visitedPool.Put(bs)
}
