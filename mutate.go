// Record mutation: allocation, in-place overwrite, and chain relinking for
// HashStore.accept (spec.md §4.1 "Allocation policy").
package corvus

// chainWidth/linear are read from the header on every call rather than
// cached on HashStore, since they never change for the lifetime of an open
// store — this keeps removeRecord/upsertRecord free of extra state to keep
// in sync.
func (hs *HashStore) chainWidth() (int, bool) {
	return hs.header.addrWidth(), hs.header.linearChain()
}

// findWithParent walks idx's chain like bucketChain.Find but also returns
// the parent offset and which side the match hung from, needed by
// removeRecord to relink around it.
func (hs *HashStore) findWithParent(idx uint64, key []byte, cmp func(a, b []byte) int) (node chainNode, parentOff int64, isLeft bool, found bool, err error) {
	off, err := hs.table.Get(idx)
	if err != nil {
		return chainNode{}, 0, false, false, err
	}
	pivot := pivotFold(bucketHash(key))
	var parent int64
	left := true
	for off != 0 {
		rec, err := hs.chain.load(off)
		if err != nil {
			return chainNode{}, 0, false, false, err
		}
		if cmp(rec.Key, key) == 0 {
			return chainNode{Offset: off, Rec: rec}, parent, left, true, nil
		}
		parent = off
		if hs.header.linearChain() {
			left = true
			off = rec.Left
			continue
		}
		if pivotFold(bucketHash(rec.Key)) > pivot {
			left = true
			off = rec.Left
		} else {
			left = false
			off = rec.Right
		}
	}
	return chainNode{}, 0, false, false, nil
}

// removeRecord deletes the record for key from bucket idx's chain and
// returns its slot to the free-block pool.
func (hs *HashStore) removeRecord(idx uint64, key []byte, cmp func(a, b []byte) int) error {
	node, parentOff, isLeft, found, err := hs.findWithParent(idx, key, cmp)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	w, linear := hs.chainWidth()

	size := recordSize(len(node.Rec.Key), len(node.Rec.Value), node.Rec.Pad, w, linear)
	if err := hs.logBeforeWrite(node.Offset, size); err != nil {
		return err
	}
	if err := hs.chain.cutChain(idx, node.Offset, node.Rec, parentOff, isLeft); err != nil {
		return err
	}

	hs.poolMu.Lock()
	hs.pool.Insert(freeBlock{Offset: node.Offset, Size: int64(size)})
	hs.poolMu.Unlock()

	marker := encodeFreeBlockHeader(int64(size), hs.header.Apow, w)
	padded := make([]byte, size)
	copy(padded, marker)
	return hs.fio.Write(node.Offset, padded)
}

// upsertRecord writes value for key: in place if it already fits the
// existing slot (found) with room to spare, otherwise via allocate-and-
// relink (spec.md §4.1 allocation policy steps 1-4).
func (hs *HashStore) upsertRecord(idx uint64, key, value []byte, found bool, node chainNode, cmp func(a, b []byte) int) error {
	w, linear := hs.chainWidth()

	if found {
		oldSize := recordSize(len(node.Rec.Key), len(node.Rec.Value), node.Rec.Pad, w, linear)
		newBare := recordSize(len(key), len(value), 0, w, linear)
		if newBare <= oldSize {
			pad := oldSize - newBare
			rec := record{Left: node.Rec.Left, Right: node.Rec.Right, Key: key, Value: value, Pad: pad}
			buf := encodeRecord(rec, hs.header.Apow, w, linear)
			if err := hs.logBeforeWrite(node.Offset, len(buf)); err != nil {
				return err
			}
			return hs.fio.Write(node.Offset, buf)
		}
		// Doesn't fit: free the old slot (removeRecord also cuts it out of
		// the chain) and fall through to a fresh allocation; linkNew below
		// links the new record into the chain afresh.
		if err := hs.removeRecord(idx, key, cmp); err != nil {
			return err
		}
	}

	need := int64(alignUp(recordSize(len(key), len(value), 0, w, linear), hs.header.Apow))

	hs.poolMu.Lock()
	fb, ok := hs.pool.Fit(need)
	hs.poolMu.Unlock()

	var off int64
	var slotSize int64
	if ok {
		off = fb.Offset
		slotSize = fb.Size
	} else {
		hs.headerMu.Lock()
		off = hs.header.LogicalSize
		hs.header.LogicalSize += need
		hs.headerMu.Unlock()
		slotSize = need
	}

	pad := slotSize - int64(recordSize(len(key), len(value), 0, w, linear))
	align := int64(1 << hs.header.Apow)
	if pad >= align*2 {
		// Split off the leftover as its own free block rather than waste it
		// as padding (spec.md §4.1 allocation step 3).
		splitSize := pad - (pad % align)
		marker := encodeFreeBlockHeader(splitSize, hs.header.Apow, w)
		splitOff := off + (slotSize - splitSize)
		padded := make([]byte, splitSize)
		copy(padded, marker)
		if err := hs.fio.Write(splitOff, padded); err != nil {
			return err
		}
		hs.poolMu.Lock()
		hs.pool.Insert(freeBlock{Offset: splitOff, Size: splitSize})
		hs.poolMu.Unlock()
		pad -= splitSize
		slotSize -= splitSize // the record must not be padded over the split block
	}

	rec := record{Key: key, Value: value, Pad: int(pad)}
	buf := encodeRecord(rec, hs.header.Apow, w, linear)
	if int64(len(buf)) < slotSize {
		filler := make([]byte, slotSize-int64(len(buf)))
		buf = append(buf, filler...)
	}

	if !ok {
		if _, err := hs.fio.Append(buf); err != nil {
			return err
		}
	} else {
		if err := hs.logBeforeWrite(off, len(buf)); err != nil {
			return err
		}
		if err := hs.fio.Write(off, buf); err != nil {
			return err
		}
	}

	// Link the new record into the chain: if the bucket already has a
	// head and this is a tree-mode bucket, descend to find the correct
	// parent; linear mode and empty buckets both link at the head.
	return hs.linkNew(idx, off, key, linear)
}

func (hs *HashStore) linkNew(idx uint64, off int64, key []byte, linear bool) error {
	head, err := hs.table.Get(idx)
	if err != nil {
		return err
	}
	if head == 0 || linear {
		if !linear && head != 0 {
			rec, err := hs.chain.load(off)
			if err != nil {
				return err
			}
			rec.Left = head
			if err := hs.chain.rewriteChildren(off, rec.Left, rec.Right); err != nil {
				return err
			}
		} else if linear && head != 0 {
			rec, err := hs.chain.load(off)
			if err != nil {
				return err
			}
			rec.Left = head
			if err := hs.chain.rewriteChildren(off, rec.Left, rec.Right); err != nil {
				return err
			}
		}
		return hs.table.Set(idx, off)
	}

	pivot := pivotFold(bucketHash(key))
	cur := head
	for {
		rec, err := hs.chain.load(cur)
		if err != nil {
			return err
		}
		curPivot := pivotFold(bucketHash(rec.Key))
		var next int64
		isLeft := curPivot > pivot
		if isLeft {
			next = rec.Left
		} else {
			next = rec.Right
		}
		if next == 0 {
			if isLeft {
				rec.Left = off
			} else {
				rec.Right = off
			}
			return hs.chain.rewriteChildren(cur, rec.Left, rec.Right)
		}
		cur = next
	}
}

// maybeAutoDefrag increments the fragmentation counter and runs a bounded
// defrag pass once it reaches frgUnit (spec.md §4.1 "Auto-defragmentation").
func (hs *HashStore) maybeAutoDefrag() {
	hs.frgCnt++
	if hs.frgCnt < hs.frgUnit {
		return
	}
	hs.frgCnt = 0
	hs.defragSteps(hs.frgUnit * 2)
}
