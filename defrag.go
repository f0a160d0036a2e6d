// Incremental defragmentation (spec.md §4.1 "Auto-defragmentation"): each
// step takes the smallest free block in the pool and slides the record
// right after it down to close the gap, relinking whatever bucket or
// parent-chain pointer referenced the old offset. The free block is not
// looked up from dfrgCur: dfrgCur only records where the last shift ended,
// and a pass counts as complete once it reaches the logical end.
package corvus

// Defrag runs up to step defrag steps, or the whole file if step is 0
// (spec.md S5), under the method write lock. The whole-file path repeats
// capped passes rather than lifting the per-call cap, since dfrgMax also
// bounds how long any single pass may hold the write lock.
func (hs *HashStore) Defrag(step int) error {
	hs.methodMu.Lock()
	defer hs.methodMu.Unlock()
	hs.metrics.DefragRuns.Inc()
	hs.log.Debug().Int("step", step).Msg("defrag starting")

	if step > 0 {
		err := hs.defragSteps(step)
		if err != nil {
			hs.log.Error().Err(err).Msg("defrag failed")
		}
		return err
	}

	start := hs.header.recordRegionStart(hs.poolAreaSize)
	for {
		before := hs.dfrgCur
		if err := hs.defragSteps(hs.dfrgMax); err != nil {
			hs.log.Error().Err(err).Msg("defrag failed")
			return err
		}
		if hs.dfrgCur == start {
			return nil // a full pass wrapped back to the start
		}
		if hs.dfrgCur == before {
			return nil // no further progress possible (pool exhausted)
		}
	}
}

// defragSteps performs up to `limit` shift operations, capped at dfrgmax
// per call (spec.md default 512) so an auto-triggered pass can't block a
// writer indefinitely.
func (hs *HashStore) defragSteps(limit int) error {
	if limit > hs.dfrgMax {
		limit = hs.dfrgMax
	}
	w, linear := hs.chainWidth()
	end := hs.header.LogicalSize

	for i := 0; i < limit; i++ {
		if hs.dfrgCur >= end {
			hs.dfrgCur = hs.header.recordRegionStart(hs.poolAreaSize)
			return nil // completed a full pass
		}

		hs.poolMu.Lock()
		fb, ok := hs.pool.Fit(1 << hs.header.Apow)
		hs.poolMu.Unlock()
		if !ok {
			return nil // nothing left to compact
		}

		// Find the live record immediately following the free block.
		nextOff := fb.Offset + fb.Size
		if nextOff >= end {
			// Trailing free block: just shrink logical size over it.
			hs.headerMu.Lock()
			hs.header.LogicalSize = fb.Offset
			hs.headerMu.Unlock()
			continue
		}

		rec, n, err := hs.readAnyAt(nextOff, w, linear)
		if err != nil {
			return err
		}
		if rec == nil {
			// Adjacent to another free block: merge and retry next
			// iteration rather than recursing (keeps this loop flat).
			hs.poolMu.Lock()
			hs.pool.tree.Delete(freeBlock{Offset: nextOff, Size: int64(n)})
			hs.pool.Insert(freeBlock{Offset: fb.Offset, Size: fb.Size + int64(n)})
			hs.poolMu.Unlock()
			continue
		}

		oldOff := nextOff
		newOff := fb.Offset
		moveSize := int64(alignUp(recordSize(len(rec.Key), len(rec.Value), rec.Pad, w, linear), hs.header.Apow))

		buf := encodeRecord(*rec, hs.header.Apow, w, linear)
		padded := make([]byte, moveSize)
		copy(padded, buf)
		if err := hs.fio.Write(newOff, padded); err != nil {
			return err
		}

		if err := hs.retargetReferences(oldOff, newOff, rec.Key); err != nil {
			return err
		}

		// The span vacated by the shift starts right after the moved record
		// and is as long as the free block it filled (free block plus old
		// slot, minus the moveSize bytes now used at newOff). It becomes the
		// new free block, so the next iteration continues forward.
		leftover := fb.Size
		if leftover > 0 {
			marker := encodeFreeBlockHeader(leftover, hs.header.Apow, w)
			leftoverOff := newOff + moveSize
			lb := make([]byte, leftover)
			copy(lb, marker)
			if err := hs.fio.Write(leftoverOff, lb); err != nil {
				return err
			}
			hs.poolMu.Lock()
			hs.pool.Insert(freeBlock{Offset: leftoverOff, Size: leftover})
			hs.poolMu.Unlock()
		}
		if moveSize < int64(n) {
			// The moved record was smaller than its old slot (padding
			// shrank); the remainder at the tail of the old slot becomes
			// free too.
			tailOff := oldOff + moveSize
			tailSize := int64(n) - moveSize
			marker := encodeFreeBlockHeader(tailSize, hs.header.Apow, w)
			tb := make([]byte, tailSize)
			copy(tb, marker)
			if err := hs.fio.Write(tailOff, tb); err != nil {
				return err
			}
			hs.poolMu.Lock()
			hs.pool.Insert(freeBlock{Offset: tailOff, Size: tailSize})
			hs.poolMu.Unlock()
		}

		hs.dfrgCur = newOff + moveSize
	}
	return nil
}

// retargetReferences fixes the one pointer (bucket head or parent chain
// link) that referenced oldOff, now that its record lives at newOff.
// Cursors holding oldOff are migrated as spec.md's "cursors are migrated
// before each shift" requires.
func (hs *HashStore) retargetReferences(oldOff, newOff int64, key []byte) error {
	idx := bucketIndex(bucketHash(key), hs.header.BucketNum)
	head, err := hs.table.Get(idx)
	if err != nil {
		return err
	}
	if head == oldOff {
		if err := hs.table.Set(idx, newOff); err != nil {
			return err
		}
	} else {
		cur := head
		for cur != 0 {
			rec, err := hs.chain.load(cur)
			if err != nil {
				return err
			}
			if rec.Left == oldOff {
				rec.Left = newOff
				if err := hs.chain.rewriteChildren(cur, rec.Left, rec.Right); err != nil {
					return err
				}
				break
			}
			if rec.Right == oldOff {
				rec.Right = newOff
				if err := hs.chain.rewriteChildren(cur, rec.Left, rec.Right); err != nil {
					return err
				}
				break
			}
			if hs.header.linearChain() {
				cur = rec.Left
			} else {
				pivot := pivotFold(bucketHash(key))
				if pivotFold(bucketHash(rec.Key)) > pivot {
					cur = rec.Left
				} else {
					cur = rec.Right
				}
			}
		}
	}

	hs.cursorMu.Lock()
	for c := range hs.cursors {
		c.migrate(oldOff, newOff)
	}
	hs.cursorMu.Unlock()
	return nil
}
