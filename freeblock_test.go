package corvus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFreeBlockPoolFitSmallestFirst(t *testing.T) {
	p := newFreeBlockPool(4) // capacity 16
	p.Insert(freeBlock{Offset: 100, Size: 64})
	p.Insert(freeBlock{Offset: 200, Size: 16})
	p.Insert(freeBlock{Offset: 300, Size: 32})

	got, ok := p.Fit(20)
	require.True(t, ok)
	require.Equal(t, int64(32), got.Size)
	require.Equal(t, 2, p.Len())
}

func TestFreeBlockPoolFitNoneLargeEnough(t *testing.T) {
	p := newFreeBlockPool(4)
	p.Insert(freeBlock{Offset: 0, Size: 8})
	_, ok := p.Fit(100)
	require.False(t, ok)
	require.Equal(t, 1, p.Len())
}

func TestFreeBlockPoolEvictsSmallestWhenFull(t *testing.T) {
	p := newFreeBlockPool(1) // capacity 2
	p.Insert(freeBlock{Offset: 1, Size: 10})
	p.Insert(freeBlock{Offset: 2, Size: 20})
	// Pool is full; a larger block should evict the current minimum (10).
	p.Insert(freeBlock{Offset: 3, Size: 30})
	require.Equal(t, 2, p.Len())
	got, ok := p.Fit(10)
	require.True(t, ok)
	require.Equal(t, int64(20), got.Size, "the size-10 block should have been evicted, so the size-20 block is the best fit")
}

func TestFreeBlockPoolRejectsSmallerThanMinWhenFull(t *testing.T) {
	p := newFreeBlockPool(1) // capacity 2
	p.Insert(freeBlock{Offset: 1, Size: 10})
	p.Insert(freeBlock{Offset: 2, Size: 20})
	p.Insert(freeBlock{Offset: 3, Size: 5})
	require.Equal(t, 2, p.Len())
	_, ok := p.Fit(10)
	require.True(t, ok, "size-10 block should have survived since 5 < 10")
}

func TestFreeBlockPoolSerializeRoundTrip(t *testing.T) {
	p := newFreeBlockPool(4)
	p.Insert(freeBlock{Offset: 16, Size: 32})
	p.Insert(freeBlock{Offset: 48, Size: 64})

	data := p.Serialize()

	q := newFreeBlockPool(4)
	q.LoadSerialized(data)
	require.Equal(t, p.Len(), q.Len())

	got, ok := q.Fit(32)
	require.True(t, ok)
	require.Equal(t, int64(32), got.Size)
}

func TestFreeBlockPoolTailAndRestore(t *testing.T) {
	p := newFreeBlockPool(4)
	p.Insert(freeBlock{Offset: 1, Size: 10})
	p.Insert(freeBlock{Offset: 2, Size: 20})
	snap := p.Tail(16)

	p.Insert(freeBlock{Offset: 3, Size: 30})
	require.Equal(t, 3, p.Len())

	p.Restore(snap)
	require.Equal(t, 2, p.Len())
}
