// FreeBlockPool: an in-memory multiset of free extents ordered by
// (size, -offset), bounded in capacity (spec.md §3, §4.1).
//
// Ordering by size first lets allocation find "smallest block that fits"
// in O(log n); breaking ties by -offset (most recently created first)
// matches Kyoto Cabinet's own free-block pool eviction order, which the
// transaction side buffer (spec.md §4.3 begin_transaction) depends on when
// restoring eviction order on abort.
//
// Backed by github.com/google/btree (an erigon dependency) rather than a
// hand-rolled balanced tree — the exact "ordered multiset with fast
// smallest-fit lookup and bounded eviction of the tail" niche btree.BTreeG
// is built for.
package corvus

import (
	"github.com/google/btree"
)

// freeBlock is one extent available for reuse.
type freeBlock struct {
	Offset int64
	Size   int64
}

func freeBlockLess(a, b freeBlock) bool {
	if a.Size != b.Size {
		return a.Size < b.Size
	}
	// Tie-break by -offset: larger offset (more recent) sorts first.
	return a.Offset > b.Offset
}

// freeBlockPool is the ordered multiset, capacity-bounded at 1<<fpow
// entries (spec.md §3 FreeBlock, default fpow=10 i.e. 1024 entries).
type freeBlockPool struct {
	tree     *btree.BTreeG[freeBlock]
	capacity int
}

func newFreeBlockPool(fpow byte) *freeBlockPool {
	return &freeBlockPool{
		tree:     btree.NewG(32, freeBlockLess),
		capacity: 1 << fpow,
	}
}

// Insert adds a free extent, evicting the smallest entry if the pool is at
// capacity and the new block is not smaller than the current minimum
// (spec.md §3: "smaller entries evicted when full").
func (p *freeBlockPool) Insert(b freeBlock) {
	if b.Size <= 0 {
		return
	}
	if p.tree.Len() >= p.capacity {
		min, ok := p.tree.Min()
		if ok && freeBlockLess(min, b) {
			p.tree.DeleteMin()
		} else if ok {
			// New block is smaller than or equal to the current minimum:
			// drop it rather than evict something more useful.
			return
		}
	}
	p.tree.ReplaceOrInsert(b)
}

// Fit finds and removes the smallest free block with Size >= need,
// implementing the "smallest block that fits" allocation rule of
// spec.md §4.1 step 2. Returns ok=false if no block is large enough.
func (p *freeBlockPool) Fit(need int64) (freeBlock, bool) {
	var found freeBlock
	ok := false
	p.tree.AscendGreaterOrEqual(freeBlock{Size: need, Offset: 1 << 62}, func(b freeBlock) bool {
		found = b
		ok = true
		return false
	})
	if ok {
		p.tree.Delete(found)
	}
	return found, ok
}

// Len reports the number of tracked free blocks.
func (p *freeBlockPool) Len() int { return p.tree.Len() }

// Tail returns up to n entries from the large end of the pool's ordering,
// largest first.
func (p *freeBlockPool) Tail(n int) []freeBlock {
	out := make([]freeBlock, 0, n)
	p.tree.Descend(func(b freeBlock) bool {
		out = append(out, b)
		return len(out) < n
	})
	return out
}

// Snapshot returns every entry currently in the pool, used by
// begin_transaction (spec.md §4.3) to capture the whole pool rather than
// just its tail so Restore can undo a transaction's allocations without
// losing blocks that were already free before it started.
func (p *freeBlockPool) Snapshot() []freeBlock {
	out := make([]freeBlock, 0, p.tree.Len())
	p.tree.Ascend(func(b freeBlock) bool {
		out = append(out, b)
		return true
	})
	return out
}

// Restore replaces the pool's contents with a previously captured snapshot
// — used on abort to undo allocations made during the failed transaction,
// restoring the pool exactly as it stood when the transaction began.
func (p *freeBlockPool) Restore(snapshot []freeBlock) {
	p.tree.Clear(false)
	for _, b := range snapshot {
		p.tree.ReplaceOrInsert(b)
	}
}

// Serialize flattens the pool to a byte slice for the on-disk area that
// follows the bucket table (spec.md §4.1 step 5 loads it from there).
// Each entry is offset,size as big-endian u64 pairs.
func (p *freeBlockPool) Serialize() []byte {
	out := make([]byte, 0, p.tree.Len()*16)
	p.tree.Ascend(func(b freeBlock) bool {
		out = appendU64(out, uint64(b.Offset))
		out = appendU64(out, uint64(b.Size))
		return true
	})
	return out
}

// LoadSerialized rebuilds the pool from the byte form Serialize produced.
func (p *freeBlockPool) LoadSerialized(buf []byte) {
	p.tree.Clear(false)
	for i := 0; i+16 <= len(buf); i += 16 {
		off := int64(beU64(buf[i : i+8]))
		sz := int64(beU64(buf[i+8 : i+16]))
		p.Insert(freeBlock{Offset: off, Size: sz})
	}
}

func appendU64(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func beU64(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}
