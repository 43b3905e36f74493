package hnsw

import (
	"container/heap"
	"testing"

	"github.com/sanonone/kektorgraph/pkg/core/types"
	"github.com/stretchr/testify/assert"
)

func TestMinHeapCorrectness(t *testing.T) {
	h := getMinHeap()
	for _, c := range []types.Candidate{
		{ID: 1, Distance: 5.0},
		{ID: 4, Distance: 2.0},
		{ID: 3, Distance: 8.0},
		{ID: 2, Distance: 2.0},
	} {
		heap.Push(h, c)
	}

	// nearest first, equal distances by ordinal
	var got []uint32
	for h.Len() > 0 {
		got = append(got, heap.Pop(h).(types.Candidate).ID)
	}
	assert.Equal(t, []uint32{2, 4, 1, 3}, got)
}

func TestMaxHeapCorrectness(t *testing.T) {
	h := getMaxHeap()
	for _, c := range []types.Candidate{
		{ID: 1, Distance: 5.0},
		{ID: 2, Distance: 8.0},
		{ID: 3, Distance: 2.0},
		{ID: 4, Distance: 8.0},
	} {
		heap.Push(h, c)
	}

	assert.Equal(t, uint32(4), h.peek().ID, "worst result is the farthest, then the latest inserted")
	var got []uint32
	for h.Len() > 0 {
		got = append(got, heap.Pop(h).(types.Candidate).ID)
	}
	assert.Equal(t, []uint32{4, 2, 1, 3}, got)
}

func TestBitSet(t *testing.T) {
	bs := NewBitSet(10)
	assert.True(t, bs.Add(3))
	assert.False(t, bs.Add(3))
	assert.True(t, bs.Add(100_000), "grows on demand")
	assert.True(t, bs.Has(3))
	assert.True(t, bs.Has(100_000))
	assert.False(t, bs.Has(4))
	assert.False(t, bs.Has(1<<30))

	bs.Reset()
	assert.False(t, bs.Has(3))
	assert.False(t, bs.Has(100_000))
	assert.True(t, bs.Add(3))
}
