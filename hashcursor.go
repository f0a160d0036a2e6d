// HashCursor: file-order traversal over a HashStore (spec.md §4.1 cursor
// operations jump/jump(key)/step/accept). File order, not key order — for
// key-ordered traversal use BPlusTree's own cursor (cursor.go).
//
// A cursor that lands on a record which is later deleted or moved becomes
// exhausted rather than erroring (spec.md §7 "cursors positioned on
// records that disappear silently become exhausted"); retargetReferences
// in defrag.go calls migrate to keep a live cursor's offset correct across
// a compaction shift instead of letting it go stale.
package corvus

import "sync"

// HashCursor walks a HashStore in on-disk record order.
type HashCursor struct {
	mu     sync.Mutex
	hs     *HashStore
	offset int64 // current record's file offset, 0 if unpositioned
	dead   bool
}

// NewCursor creates an unpositioned cursor registered with hs so it
// receives offset migrations during defrag and invalidation on
// transaction abort.
func (hs *HashStore) NewCursor() *HashCursor {
	c := &HashCursor{hs: hs}
	hs.cursorMu.Lock()
	hs.cursors[c] = struct{}{}
	hs.cursorMu.Unlock()
	return c
}

// Close deregisters the cursor.
func (c *HashCursor) Close() {
	c.hs.cursorMu.Lock()
	delete(c.hs.cursors, c)
	c.hs.cursorMu.Unlock()
}

func (c *HashCursor) invalidate() {
	c.mu.Lock()
	c.dead = true
	c.offset = 0
	c.mu.Unlock()
}

func (c *HashCursor) migrate(oldOff, newOff int64) {
	c.mu.Lock()
	if c.offset == oldOff {
		c.offset = newOff
	}
	c.mu.Unlock()
}

// Jump positions the cursor at the first live record in file order.
func (c *HashCursor) Jump() (key, value []byte, ok bool, err error) {
	hs := c.hs
	hs.methodMu.RLock()
	defer hs.methodMu.RUnlock()

	off := hs.header.recordRegionStart(hs.poolAreaSize)
	end := hs.header.LogicalSize
	w, linear := hs.chainWidth()
	for off < end {
		rec, n, rerr := hs.readAnyAt(off, w, linear)
		if rerr != nil {
			return nil, nil, false, newErr("HashCursor.Jump", KindBroken, rerr)
		}
		if n <= 0 {
			break
		}
		if rec != nil {
			c.mu.Lock()
			c.offset = off
			c.dead = false
			c.mu.Unlock()
			return rec.Key, rec.Value, true, nil
		}
		off += int64(n)
	}
	c.invalidate()
	return nil, nil, false, nil
}

// JumpKey positions the cursor on the record matching key via the normal
// bucket-chain lookup (spec.md's "jump(key)").
func (c *HashCursor) JumpKey(key []byte) (value []byte, ok bool, err error) {
	hs := c.hs
	hs.methodMu.RLock()
	defer hs.methodMu.RUnlock()

	idx := bucketIndex(bucketHash(key), hs.header.BucketNum)
	slot := hs.slotFor(idx)
	slot.RLock()
	node, found, ferr := hs.chain.Find(idx, key, hs.resolveComparator().Compare)
	slot.RUnlock()
	if ferr != nil {
		return nil, false, newErr("HashCursor.JumpKey", KindBroken, ferr)
	}
	if !found {
		c.invalidate()
		return nil, false, nil
	}
	c.mu.Lock()
	c.offset = node.Offset
	c.dead = false
	c.mu.Unlock()
	return node.Rec.Value, true, nil
}

// Step advances the cursor to the next live record in file order.
func (c *HashCursor) Step() (key, value []byte, ok bool, err error) {
	hs := c.hs
	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		return nil, nil, false, nil
	}
	cur := c.offset
	c.mu.Unlock()

	hs.methodMu.RLock()
	defer hs.methodMu.RUnlock()

	w, linear := hs.chainWidth()
	rec, n, rerr := hs.readAnyAt(cur, w, linear)
	if rerr != nil {
		return nil, nil, false, newErr("HashCursor.Step", KindBroken, rerr)
	}
	off := cur + int64(n)
	end := hs.header.LogicalSize
	for off < end {
		rec, n, rerr = hs.readAnyAt(off, w, linear)
		if rerr != nil {
			return nil, nil, false, newErr("HashCursor.Step", KindBroken, rerr)
		}
		if n <= 0 {
			break
		}
		if rec != nil {
			c.mu.Lock()
			c.offset = off
			c.mu.Unlock()
			return rec.Key, rec.Value, true, nil
		}
		off += int64(n)
	}
	c.invalidate()
	return nil, nil, false, nil
}

// Accept applies v to the record currently under the cursor, the cursor
// analogue of HashStore.accept for in-place mutation during a walk.
func (c *HashCursor) Accept(v Visitor, writable bool) error {
	hs := c.hs
	c.mu.Lock()
	dead := c.dead
	off := c.offset
	c.mu.Unlock()
	if dead {
		return newErr("HashCursor.Accept", KindLogic, ErrNotFound)
	}

	hs.methodMu.RLock()
	defer hs.methodMu.RUnlock()
	w, linear := hs.chainWidth()
	rec, _, err := hs.readAnyAt(off, w, linear)
	if err != nil {
		return newErr("HashCursor.Accept", KindBroken, err)
	}
	if rec == nil {
		c.invalidate()
		return nil
	}
	result := v.VisitFull(rec.Key, rec.Value)
	if !writable || result.Action == ActionNOP {
		return nil
	}
	idx := bucketIndex(bucketHash(rec.Key), hs.header.BucketNum)
	switch result.Action {
	case ActionRemove:
		if err := hs.removeRecord(idx, rec.Key, hs.resolveComparator().Compare); err != nil {
			return err
		}
		c.invalidate()
	case ActionReplace:
		if err := hs.rewriteInPlace(off, *rec, result.Value, w, linear); err != nil {
			return err
		}
	}
	return nil
}
