// NodeCache: the B+-tree's two-tier hot/warm LRU (spec.md §4.4), 16 slots
// selected by node-id mod 16 so concurrent access to different parts of
// the tree doesn't contend on one lock.
//
// Backed by hashicorp/golang-lru/v2's plain Cache[K,V] for each tier — it
// already gives the LRU-ordered eviction and O(1) promote-to-MRU the spec
// needs; the hot/warm promotion policy and budget eviction are corvus's
// own layer on top.
package corvus

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

const nodeCacheSlots = 16

// cachedNode is the unit the cache tracks: a node plus which kind it is
// (exactly one of Leaf/Inner is set) and its approximate byte footprint.
type cachedNode struct {
	Leaf  *LeafNode
	Inner *InnerNode
	Size  int
}

func (c *cachedNode) id() uint64 {
	if c.Leaf != nil {
		return c.Leaf.ID
	}
	return c.Inner.ID
}

func (c *cachedNode) dirty() bool {
	if c.Leaf != nil {
		return c.Leaf.Dirty
	}
	return c.Inner.Dirty
}

// cacheSlot is one of the 16 hot/warm pairs.
type cacheSlot struct {
	mu   sync.Mutex
	warm *lru.Cache[uint64, *cachedNode]
	hot  *lru.Cache[uint64, *cachedNode]
}

func newCacheSlot() *cacheSlot {
	// Unbounded logical capacity: eviction is driven by the NodeCache's
	// byte budget, not by golang-lru's own size cap, so slots are sized
	// generously and trimmed explicitly in evictLocked.
	warm, _ := lru.New[uint64, *cachedNode](1 << 16)
	hot, _ := lru.New[uint64, *cachedNode](1 << 16)
	return &cacheSlot{warm: warm, hot: hot}
}

// NodeCache holds every loaded B+-tree node, backed by a store for misses
// and writeback.
type NodeCache struct {
	slots   [nodeCacheSlots]*cacheSlot
	budget  int
	usedMu  sync.Mutex
	used    int
	loader  func(id uint64, isInner bool) (*cachedNode, error)
	writer  func(n *cachedNode) error
}

const defaultPccap = 64 << 20 // spec.md §4.4 default 64 MiB

func newNodeCache(budget int, loader func(id uint64, isInner bool) (*cachedNode, error), writer func(n *cachedNode) error) *NodeCache {
	if budget <= 0 {
		budget = defaultPccap
	}
	nc := &NodeCache{budget: budget, loader: loader, writer: writer}
	for i := range nc.slots {
		nc.slots[i] = newCacheSlot()
	}
	return nc
}

func slotIndex(id uint64) int { return int(id % nodeCacheSlots) }

// Get returns the node for id (a leaf id if isInner is false, else an
// inner id), loading it from the store on a miss, and applies the
// hit-twice promotion rule (spec.md §4.4).
func (nc *NodeCache) Get(id uint64, isInner bool) (*cachedNode, error) {
	slot := nc.slots[slotIndex(id)]
	slot.mu.Lock()
	if n, ok := slot.hot.Get(id); ok {
		slot.mu.Unlock()
		return n, nil
	}
	if n, ok := slot.warm.Get(id); ok {
		slot.warm.Remove(id)
		slot.hot.Add(id, n)
		slot.mu.Unlock()
		nc.rebalanceHot(slot)
		return n, nil
	}
	slot.mu.Unlock()

	n, err := nc.loader(id, isInner)
	if err != nil {
		return nil, err
	}
	slot.mu.Lock()
	slot.warm.Add(id, n)
	nc.usedMu.Lock()
	nc.used += n.Size
	nc.usedMu.Unlock()
	slot.mu.Unlock()

	if err := nc.Evict(); err != nil {
		return n, err
	}
	return n, nil
}

// Put installs or refreshes a node in the warm tier (used right after a
// node is created, before it's ever been "touched twice").
func (nc *NodeCache) Put(n *cachedNode) {
	slot := nc.slots[slotIndex(n.id())]
	slot.mu.Lock()
	if _, ok := slot.hot.Get(n.id()); ok {
		slot.hot.Add(n.id(), n)
		slot.mu.Unlock()
		return
	}
	slot.warm.Add(n.id(), n)
	slot.mu.Unlock()
	nc.usedMu.Lock()
	nc.used += n.Size
	nc.usedMu.Unlock()
}

// rebalanceHot demotes the slot's hot LRU entry to warm once hot exceeds
// warm*4+4 entries (spec.md §4.4's sizing rule).
func (nc *NodeCache) rebalanceHot(slot *cacheSlot) {
	slot.mu.Lock()
	defer slot.mu.Unlock()
	limit := slot.warm.Len()*4 + 4
	for slot.hot.Len() > limit {
		id, n, ok := slot.hot.RemoveOldest()
		if !ok {
			break
		}
		slot.warm.Add(id, n)
	}
}

// Evict writes back and drops warm (then hot) LRU entries until total
// usage is back under budget (spec.md §4.4 "Eviction").
func (nc *NodeCache) Evict() error {
	nc.usedMu.Lock()
	over := nc.used > nc.budget
	nc.usedMu.Unlock()
	if !over {
		return nil
	}

	for _, tier := range []func(*cacheSlot) (*cachedNode, bool){
		func(s *cacheSlot) (*cachedNode, bool) {
			s.mu.Lock()
			defer s.mu.Unlock()
			_, n, ok := s.warm.RemoveOldest()
			return n, ok
		},
		func(s *cacheSlot) (*cachedNode, bool) {
			s.mu.Lock()
			defer s.mu.Unlock()
			_, n, ok := s.hot.RemoveOldest()
			return n, ok
		},
	} {
		for {
			nc.usedMu.Lock()
			over := nc.used > nc.budget
			nc.usedMu.Unlock()
			if !over {
				return nil
			}
			evicted := false
			for _, slot := range nc.slots {
				n, ok := tier(slot)
				if !ok {
					continue
				}
				evicted = true
				if n.dirty() {
					if err := nc.writer(n); err != nil {
						return err
					}
				}
				nc.usedMu.Lock()
				nc.used -= n.Size
				nc.usedMu.Unlock()
			}
			if !evicted {
				break
			}
		}
	}
	return nil
}

// FlushAll writes back every dirty node across all slots, flushing the 16
// slots concurrently via an errgroup. corvus keeps leaves and inner nodes
// in the same tiered cache rather than separate caches per kind, so there
// is no separate inner/leaf flush.
func (nc *NodeCache) FlushAll() error {
	var g errgroup.Group
	for _, slot := range nc.slots {
		slot := slot
		g.Go(func() error {
			slot.mu.Lock()
			defer slot.mu.Unlock()
			for _, id := range slot.warm.Keys() {
				if n, ok := slot.warm.Peek(id); ok && n.dirty() {
					if err := nc.writer(n); err != nil {
						return err
					}
				}
			}
			for _, id := range slot.hot.Keys() {
				if n, ok := slot.hot.Peek(id); ok && n.dirty() {
					if err := nc.writer(n); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Invalidate drops id from whichever tier holds it without writing it
// back — used when a node is deleted outright (spec.md §4.2 merge/
// collapse).
func (nc *NodeCache) Invalidate(id uint64) {
	slot := nc.slots[slotIndex(id)]
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if n, ok := slot.warm.Peek(id); ok {
		nc.usedMu.Lock()
		nc.used -= n.Size
		nc.usedMu.Unlock()
		slot.warm.Remove(id)
	}
	if n, ok := slot.hot.Peek(id); ok {
		nc.usedMu.Lock()
		nc.used -= n.Size
		nc.usedMu.Unlock()
		slot.hot.Remove(id)
	}
}
