// TreeCursor: key-ordered traversal over a BPlusTree (spec.md §4.2 cursor
// semantics jump/jump_back/step/step_back/jump(key)).
//
// Holds {current-key-copy, last-visited-leaf-id, direction} rather than a
// raw pointer into a node (spec.md §9 "Cursor back-references into
// nodes"), so a cache eviction of the leaf never leaves it dangling — it
// just re-resolves the leaf by ID on the next call, falling back to a
// fresh search if the leaf no longer hosts a matching position.
package corvus

import "sync"

type cursorDir int

const (
	dirForward cursorDir = iota
	dirBackward
)

// TreeCursor is an ordered-traversal cursor over a BPlusTree.
type TreeCursor struct {
	mu      sync.Mutex
	t       *BPlusTree
	key     []byte
	leafID  uint64
	dir     cursorDir
	dead    bool
	started bool
}

// NewCursor creates an unpositioned cursor over t.
func (t *BPlusTree) NewCursor() *TreeCursor {
	return &TreeCursor{t: t}
}

// Jump positions the cursor at the first key in the tree.
func (c *TreeCursor) Jump() (key, value []byte, ok bool, err error) {
	c.t.metaMu.Lock()
	first := c.t.meta.First
	c.t.metaMu.Unlock()
	return c.jumpToLeafHead(first, dirForward)
}

// JumpBack positions the cursor at the last key in the tree.
func (c *TreeCursor) JumpBack() (key, value []byte, ok bool, err error) {
	c.t.metaMu.Lock()
	last := c.t.meta.Last
	c.t.metaMu.Unlock()
	return c.jumpToLeafTail(last, dirBackward)
}

func (c *TreeCursor) jumpToLeafHead(leafID uint64, dir cursorDir) ([]byte, []byte, bool, error) {
	for leafID != 0 {
		leaf, err := c.t.getLeaf(leafID)
		if err != nil {
			return nil, nil, false, err
		}
		if len(leaf.Records) > 0 {
			c.setPos(leaf.Records[0].Key, leafID, dir)
			return leaf.Records[0].Key, leaf.Records[0].Value, true, nil
		}
		leafID = leaf.Next
	}
	c.invalidate()
	return nil, nil, false, nil
}

func (c *TreeCursor) jumpToLeafTail(leafID uint64, dir cursorDir) ([]byte, []byte, bool, error) {
	for leafID != 0 {
		leaf, err := c.t.getLeaf(leafID)
		if err != nil {
			return nil, nil, false, err
		}
		if len(leaf.Records) > 0 {
			last := leaf.Records[len(leaf.Records)-1]
			c.setPos(last.Key, leafID, dir)
			return last.Key, last.Value, true, nil
		}
		leafID = leaf.Prev
	}
	c.invalidate()
	return nil, nil, false, nil
}

// JumpKey positions the cursor on the first key >= key under the tree's
// comparator (spec.md's "jump(key)").
func (c *TreeCursor) JumpKey(key []byte) (value []byte, ok bool, err error) {
	leafID, _, err := c.t.findLeaf(key)
	if err != nil {
		return nil, false, err
	}
	leaf, err := c.t.getLeaf(leafID)
	if err != nil {
		return nil, false, err
	}
	idx := c.t.lowerBoundIndex(leaf, key)
	for idx >= len(leaf.Records) && leaf.Next != 0 {
		leafID = leaf.Next
		leaf, err = c.t.getLeaf(leafID)
		if err != nil {
			return nil, false, err
		}
		idx = 0
	}
	if idx >= len(leaf.Records) {
		c.invalidate()
		return nil, false, nil
	}
	rec := leaf.Records[idx]
	c.setPos(rec.Key, leafID, dirForward)
	return rec.Value, true, nil
}

func (c *TreeCursor) setPos(key []byte, leafID uint64, dir cursorDir) {
	c.mu.Lock()
	c.key = append([]byte(nil), key...)
	c.leafID = leafID
	c.dir = dir
	c.dead = false
	c.started = true
	c.mu.Unlock()
}

func (c *TreeCursor) invalidate() {
	c.mu.Lock()
	c.dead = true
	c.mu.Unlock()
}

// resolve re-finds the cursor's current (leafID, index) pair, falling
// back to a fresh search if the cached leaf no longer hosts a record
// matching the cursor's key (spec.md §4.2 "falls back to a re-search").
func (c *TreeCursor) resolve() (leafID uint64, idx int, leaf *LeafNode, err error) {
	c.mu.Lock()
	leafID = c.leafID
	key := append([]byte(nil), c.key...)
	dead := c.dead
	c.mu.Unlock()
	if dead {
		return 0, 0, nil, nil
	}

	leaf, err = c.t.getLeaf(leafID)
	if err != nil {
		return 0, 0, nil, err
	}
	idx = c.t.lowerBoundIndex(leaf, key)
	if idx < len(leaf.Records) && c.t.cmp.Compare(leaf.Records[idx].Key, key) == 0 {
		return leafID, idx, leaf, nil
	}

	// Stale: re-search from the root.
	newLeafID, _, err := c.t.findLeaf(key)
	if err != nil {
		return 0, 0, nil, err
	}
	newLeaf, err := c.t.getLeaf(newLeafID)
	if err != nil {
		return 0, 0, nil, err
	}
	return newLeafID, c.t.lowerBoundIndex(newLeaf, key), newLeaf, nil
}

// Step advances to the next key in comparator order.
func (c *TreeCursor) Step() (key, value []byte, ok bool, err error) {
	leafID, idx, leaf, err := c.resolve()
	if err != nil {
		return nil, nil, false, err
	}
	if leaf == nil {
		return nil, nil, false, nil
	}
	// After a stale re-search idx already points past the cursor's key, at
	// the next surviving record.
	c.mu.Lock()
	cur := append([]byte(nil), c.key...)
	c.mu.Unlock()
	if idx < len(leaf.Records) && c.t.cmp.Compare(leaf.Records[idx].Key, cur) > 0 {
		rec := leaf.Records[idx]
		c.setPos(rec.Key, leafID, dirForward)
		return rec.Key, rec.Value, true, nil
	}
	if idx+1 < len(leaf.Records) {
		rec := leaf.Records[idx+1]
		c.setPos(rec.Key, leafID, dirForward)
		return rec.Key, rec.Value, true, nil
	}
	return c.jumpToLeafHead(leaf.Next, dirForward)
}

// StepBack retreats to the previous key in comparator order.
func (c *TreeCursor) StepBack() (key, value []byte, ok bool, err error) {
	leafID, idx, leaf, err := c.resolve()
	if err != nil {
		return nil, nil, false, err
	}
	if leaf == nil {
		return nil, nil, false, nil
	}
	if idx-1 >= 0 {
		rec := leaf.Records[idx-1]
		c.setPos(rec.Key, leafID, dirBackward)
		return rec.Key, rec.Value, true, nil
	}
	return c.jumpToLeafTail(leaf.Prev, dirBackward)
}
