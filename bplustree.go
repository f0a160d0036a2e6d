// BPlusTree: the ordered index layer built atop HashStore (spec.md §4.2).
// Every leaf and inner node is itself a HashStore record, stored under a
// synthetic key (node.go); this file owns the tree shape — search, split,
// merge, and the public accept/iterate/scan_parallel surface.
package corvus

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// innerLinkMin is spec.md §4.2's INLINKMIN: an inner node only splits once
// its link count exceeds this, even if it's over psiz in bytes.
const innerLinkMin = 8

const defaultPsiz = 8192

// BPlusTree is an ordered key-value index over a HashStore.
type BPlusTree struct {
	hs         *HashStore
	cache      *NodeCache
	cmp        Comparator
	compressor Compressor
	useCompress bool

	metaMu sync.Mutex
	meta   treeMeta
}

// OpenBPlusTree opens (or initialises, if absent) the tree stored in hs.
// psiz is the target node byte size; tag selects the key comparator
// (comparator.go); a zero tag defaults to lexical.
func OpenBPlusTree(hs *HashStore, tag byte, psiz int, registry *comparatorRegistry, compressor Compressor, useCompress bool) (*BPlusTree, error) {
	if psiz <= 0 {
		psiz = defaultPsiz
	}
	if registry == nil {
		registry = hs.comparators
	}
	if tag == 0 {
		tag = CompareLexical
	}
	cmp, err := registry.resolve(tag)
	if err != nil {
		return nil, err
	}
	if compressor == nil {
		compressor = identityCompressor{}
	}

	t := &BPlusTree{hs: hs, cmp: cmp, compressor: compressor, useCompress: useCompress}
	t.cache = newNodeCache(defaultPccap, t.load, t.persist)

	if buf, err := hs.Get([]byte("@")); err == nil {
		m, derr := decodeTreeMeta(buf)
		if derr != nil {
			return nil, newErr("OpenBPlusTree", KindBroken, derr)
		}
		t.meta = *m
		if m.ComparatorTag != 0 && m.ComparatorTag != tag {
			stored, rerr := registry.resolve(m.ComparatorTag)
			if rerr != nil {
				return nil, rerr
			}
			t.cmp = stored
		}
		return t, nil
	}

	root := &LeafNode{ID: 1}
	t.meta = treeMeta{ComparatorTag: tag, Psiz: uint64(psiz), Root: 1, First: 1, Last: 1, Lcnt: 1, Icnt: innerIDBase}
	if err := t.persist(&cachedNode{Leaf: root, Size: root.byteSize()}); err != nil {
		return nil, err
	}
	if err := t.flushMeta(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *BPlusTree) flushMeta() error {
	t.metaMu.Lock()
	buf := t.meta.encode()
	t.metaMu.Unlock()
	return t.hs.Set([]byte("@"), buf)
}

func (t *BPlusTree) isInnerID(id uint64) bool { return id >= innerIDBase }

// load is the NodeCache's miss handler: fetch the node's record from the
// underlying HashStore and decode it, decompressing first if the store
// has TCOMPRESS enabled (spec.md §4.2 "Compressed leaves").
func (t *BPlusTree) load(id uint64, isInner bool) (*cachedNode, error) {
	var key []byte
	if isInner {
		key = innerKey(id)
	} else {
		key = leafKey(id)
	}
	buf, err := t.hs.Get(key)
	if err != nil {
		return nil, newErr("BPlusTree.load", KindBroken, err)
	}
	if t.useCompress {
		buf, err = t.compressor.Decompress(buf)
		if err != nil {
			return nil, newErr("BPlusTree.load", KindBroken, err)
		}
	}
	if isInner {
		n, err := decodeInnerNode(id, buf)
		if err != nil {
			return nil, newErr("BPlusTree.load", KindBroken, err)
		}
		return &cachedNode{Inner: n, Size: n.byteSize()}, nil
	}
	n, err := decodeLeafNode(id, buf)
	if err != nil {
		return nil, newErr("BPlusTree.load", KindBroken, err)
	}
	return &cachedNode{Leaf: n, Size: n.byteSize()}, nil
}

// persist is the NodeCache's writeback handler.
func (t *BPlusTree) persist(n *cachedNode) error {
	var key []byte
	var dead bool
	var buf []byte
	if n.Leaf != nil {
		key = leafKey(n.Leaf.ID)
		dead = n.Leaf.Dead
		buf = n.Leaf.encode()
		n.Leaf.Dirty = false
	} else {
		key = innerKey(n.Inner.ID)
		dead = n.Inner.Dead
		buf = n.Inner.encode()
		n.Inner.Dirty = false
	}
	if dead {
		err := t.hs.Remove(key)
		if err != nil && !errorsIsNoRec(err) {
			return err
		}
		return nil
	}
	if t.useCompress {
		buf = t.compressor.Compress(buf)
	}
	return t.hs.Set(key, buf)
}

func errorsIsNoRec(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindNoRec
}

func (t *BPlusTree) getLeaf(id uint64) (*LeafNode, error) {
	n, err := t.cache.Get(id, false)
	if err != nil {
		return nil, err
	}
	return n.Leaf, nil
}

func (t *BPlusTree) getInner(id uint64) (*InnerNode, error) {
	n, err := t.cache.Get(id, true)
	if err != nil {
		return nil, err
	}
	return n.Inner, nil
}

// findLeaf descends from the root to the leaf that should hold key,
// recording the path of inner-node IDs visited (spec.md §4.2 "Search").
func (t *BPlusTree) findLeaf(key []byte) (leafID uint64, path []uint64, err error) {
	t.metaMu.Lock()
	cur := t.meta.Root
	t.metaMu.Unlock()

	for t.isInnerID(cur) {
		path = append(path, cur)
		inner, err := t.getInner(cur)
		if err != nil {
			return 0, nil, err
		}
		cur = t.upperBoundChild(inner, key)
	}
	return cur, path, nil
}

// upperBoundChild implements spec.md §4.2's descent rule: find the first
// link whose key compares greater than the search key; if that's the
// first link, descend via heir, else via the previous link's child.
func (t *BPlusTree) upperBoundChild(inner *InnerNode, key []byte) uint64 {
	idx := sort.Search(len(inner.Links), func(i int) bool {
		return t.cmp.Compare(inner.Links[i].Key, key) > 0
	})
	if idx == 0 {
		return inner.Heir
	}
	return inner.Links[idx-1].Child
}

// lowerBoundIndex finds the first index in a sorted leaf whose key is >=
// key (spec.md §4.2's leaf-level lower_bound).
func (t *BPlusTree) lowerBoundIndex(leaf *LeafNode, key []byte) int {
	return sort.Search(len(leaf.Records), func(i int) bool {
		return t.cmp.Compare(leaf.Records[i].Key, key) >= 0
	})
}

// Accept is the B+-tree's entry point, mirroring HashStore.accept's
// contract (spec.md §4.2).
func (t *BPlusTree) Accept(key []byte, v Visitor, writable bool) error {
	leafID, path, err := t.findLeaf(key)
	if err != nil {
		return err
	}
	leaf, err := t.getLeaf(leafID)
	if err != nil {
		return err
	}

	idx := t.lowerBoundIndex(leaf, key)
	found := idx < len(leaf.Records) && t.cmp.Compare(leaf.Records[idx].Key, key) == 0

	var result VisitResult
	if found {
		result = v.VisitFull(leaf.Records[idx].Key, leaf.Records[idx].Value)
	} else {
		result = v.VisitEmpty(key)
	}
	if !writable || result.Action == ActionNOP {
		return nil
	}

	switch result.Action {
	case ActionRemove:
		if !found {
			return nil
		}
		leaf.Records = append(leaf.Records[:idx], leaf.Records[idx+1:]...)
		leaf.Dirty = true
		leaf.Size = leaf.byteSize()
		t.metaMu.Lock()
		t.meta.Count--
		t.metaMu.Unlock()
		if len(leaf.Records) == 0 {
			if err := t.collapseLeaf(leaf, path); err != nil {
				return err
			}
		}
	case ActionReplace:
		if found {
			leaf.Records[idx].Value = result.Value
		} else {
			rec := leafRecord{Key: append([]byte(nil), key...), Value: result.Value}
			leaf.Records = append(leaf.Records, leafRecord{})
			copy(leaf.Records[idx+1:], leaf.Records[idx:])
			leaf.Records[idx] = rec
			t.metaMu.Lock()
			t.meta.Count++
			t.metaMu.Unlock()
		}
		leaf.Dirty = true
		leaf.Size = leaf.byteSize()
		t.metaMu.Lock()
		psiz := t.meta.Psiz
		t.metaMu.Unlock()
		if leaf.Size > int(psiz) && len(leaf.Records) > 1 {
			if err := t.splitLeaf(leaf, path); err != nil {
				return err
			}
		}
	}

	t.cache.Put(&cachedNode{Leaf: leaf, Size: leaf.byteSize()})
	return t.flushMeta()
}

// splitLeaf implements spec.md §4.2 "Split".
func (t *BPlusTree) splitLeaf(leaf *LeafNode, path []uint64) error {
	mid := len(leaf.Records) / 2
	t.metaMu.Lock()
	newID := t.meta.Lcnt + 1
	t.meta.Lcnt = newID
	t.metaMu.Unlock()

	newLeaf := &LeafNode{
		ID:      newID,
		Records: append([]leafRecord(nil), leaf.Records[mid:]...),
		Prev:    leaf.ID,
		Next:    leaf.Next,
		Dirty:   true,
	}
	leaf.Records = leaf.Records[:mid]
	leaf.Next = newID
	leaf.Size = leaf.byteSize()
	newLeaf.Size = newLeaf.byteSize()

	t.metaMu.Lock()
	if leaf.ID == t.meta.Last {
		t.meta.Last = newID
	}
	t.metaMu.Unlock()

	if newLeaf.Next != 0 {
		nextLeaf, err := t.getLeaf(newLeaf.Next)
		if err != nil {
			return err
		}
		nextLeaf.Prev = newID
		nextLeaf.Dirty = true
		t.cache.Put(&cachedNode{Leaf: nextLeaf, Size: nextLeaf.byteSize()})
	}

	t.cache.Put(&cachedNode{Leaf: newLeaf, Size: newLeaf.Size})
	return t.insertIntoParent(path, leaf.ID, newLeaf.ID, newLeaf.Records[0].Key)
}

// insertIntoParent propagates a new child up the recorded path, creating a
// new root if the path is empty, and recursively splitting an inner node
// that overflows (spec.md §4.2).
func (t *BPlusTree) insertIntoParent(path []uint64, leftID, rightID uint64, sepKey []byte) error {
	if len(path) == 0 {
		t.metaMu.Lock()
		newID := t.meta.Icnt + 1
		t.meta.Icnt = newID
		t.meta.Root = newID
		t.metaMu.Unlock()
		root := &InnerNode{ID: newID, Heir: leftID, Links: []innerLink{{Child: rightID, Key: append([]byte(nil), sepKey...)}}, Dirty: true}
		root.Size = root.byteSize()
		t.cache.Put(&cachedNode{Inner: root, Size: root.Size})
		return nil
	}

	parentID := path[len(path)-1]
	parent, err := t.getInner(parentID)
	if err != nil {
		return err
	}
	pos := sort.Search(len(parent.Links), func(i int) bool {
		return t.cmp.Compare(parent.Links[i].Key, sepKey) >= 0
	})
	parent.Links = append(parent.Links, innerLink{})
	copy(parent.Links[pos+1:], parent.Links[pos:])
	parent.Links[pos] = innerLink{Child: rightID, Key: append([]byte(nil), sepKey...)}
	parent.Dirty = true
	parent.Size = parent.byteSize()

	t.metaMu.Lock()
	psiz := t.meta.Psiz
	t.metaMu.Unlock()

	if parent.Size > int(psiz) && len(parent.Links) > innerLinkMin {
		mid := len(parent.Links) / 2
		promoted := parent.Links[mid]
		t.metaMu.Lock()
		newID := t.meta.Icnt + 1
		t.meta.Icnt = newID
		t.metaMu.Unlock()
		newInner := &InnerNode{ID: newID, Heir: promoted.Child, Links: append([]innerLink(nil), parent.Links[mid+1:]...), Dirty: true}
		parent.Links = parent.Links[:mid]
		parent.Size = parent.byteSize()
		newInner.Size = newInner.byteSize()
		t.cache.Put(&cachedNode{Inner: newInner, Size: newInner.Size})
		t.cache.Put(&cachedNode{Inner: parent, Size: parent.Size})
		return t.insertIntoParent(path[:len(path)-1], parent.ID, newInner.ID, promoted.Key)
	}

	t.cache.Put(&cachedNode{Inner: parent, Size: parent.Size})
	return nil
}

// collapseLeaf handles an emptied leaf (spec.md §4.2 "Merge / collapse"):
// unless it's the sole leaf in the tree, unlink it from the leaf list and
// remove its reference from the parent, recursing upward as inner nodes
// empty in turn.
func (t *BPlusTree) collapseLeaf(leaf *LeafNode, path []uint64) error {
	t.metaMu.Lock()
	sole := t.meta.First == leaf.ID && t.meta.Last == leaf.ID
	t.metaMu.Unlock()
	if sole {
		t.cache.Put(&cachedNode{Leaf: leaf, Size: leaf.byteSize()})
		return nil
	}

	if leaf.Prev != 0 {
		prevLeaf, err := t.getLeaf(leaf.Prev)
		if err != nil {
			return err
		}
		prevLeaf.Next = leaf.Next
		prevLeaf.Dirty = true
		t.cache.Put(&cachedNode{Leaf: prevLeaf, Size: prevLeaf.byteSize()})
	}
	if leaf.Next != 0 {
		nextLeaf, err := t.getLeaf(leaf.Next)
		if err != nil {
			return err
		}
		nextLeaf.Prev = leaf.Prev
		nextLeaf.Dirty = true
		t.cache.Put(&cachedNode{Leaf: nextLeaf, Size: nextLeaf.byteSize()})
	}

	t.metaMu.Lock()
	if t.meta.First == leaf.ID {
		t.meta.First = leaf.Next
	}
	if t.meta.Last == leaf.ID {
		t.meta.Last = leaf.Prev
	}
	t.metaMu.Unlock()

	leaf.Dead = true
	t.cache.Invalidate(leaf.ID)
	if err := t.persist(&cachedNode{Leaf: leaf}); err != nil {
		return err
	}

	return t.removeLinkFromParent(path, leaf.ID)
}

// removeLinkFromParent removes the child reference to childID from the
// inner node at the tail of path, recursing upward if the parent itself
// becomes empty, and demoting the root when it ends up with a single
// child (spec.md §4.2).
func (t *BPlusTree) removeLinkFromParent(path []uint64, childID uint64) error {
	if len(path) == 0 {
		return nil
	}
	parentID := path[len(path)-1]
	parent, err := t.getInner(parentID)
	if err != nil {
		return err
	}

	if parent.Heir == childID {
		if len(parent.Links) == 0 {
			parent.Dead = true
			t.cache.Invalidate(parent.ID)
			if err := t.persist(&cachedNode{Inner: parent}); err != nil {
				return err
			}
			return t.removeLinkFromParent(path[:len(path)-1], parent.ID)
		}
		parent.Heir = parent.Links[0].Child
		parent.Links = parent.Links[1:]
	} else {
		for i, l := range parent.Links {
			if l.Child == childID {
				parent.Links = append(parent.Links[:i], parent.Links[i+1:]...)
				break
			}
		}
	}
	parent.Dirty = true
	parent.Size = parent.byteSize()
	t.cache.Put(&cachedNode{Inner: parent, Size: parent.Size})

	t.metaMu.Lock()
	isRoot := parent.ID == t.meta.Root
	t.metaMu.Unlock()
	if isRoot && len(parent.Links) == 0 {
		t.metaMu.Lock()
		t.meta.Root = parent.Heir
		t.metaMu.Unlock()
		parent.Dead = true
		t.cache.Invalidate(parent.ID)
		return t.persist(&cachedNode{Inner: parent})
	}
	return nil
}

// Iterate walks every leaf from First to Last, visiting each record in
// key order (spec.md §4.2 iterate).
func (t *BPlusTree) Iterate(v Visitor, writable bool) error {
	t.metaMu.Lock()
	cur := t.meta.First
	t.metaMu.Unlock()

	for cur != 0 {
		leaf, err := t.getLeaf(cur)
		if err != nil {
			return err
		}
		for i := 0; i < len(leaf.Records); i++ {
			r := leaf.Records[i]
			result := v.VisitFull(r.Key, r.Value)
			if writable && result.Action == ActionReplace {
				leaf.Records[i].Value = result.Value
				leaf.Dirty = true
			}
		}
		if leaf.Dirty {
			leaf.Size = leaf.byteSize()
			t.cache.Put(&cachedNode{Leaf: leaf, Size: leaf.Size})
		}
		cur = leaf.Next
	}
	return nil
}

// ScanParallel partitions the leaf list into thnum contiguous runs and
// scans each concurrently (spec.md §4.2 scan_parallel).
func (t *BPlusTree) ScanParallel(ctx context.Context, v Visitor, thnum int) error {
	if thnum <= 0 {
		thnum = 1
	}
	var leafIDs []uint64
	t.metaMu.Lock()
	cur := t.meta.First
	t.metaMu.Unlock()
	for cur != 0 {
		leaf, err := t.getLeaf(cur)
		if err != nil {
			return err
		}
		leafIDs = append(leafIDs, cur)
		cur = leaf.Next
	}
	if len(leafIDs) == 0 {
		return nil
	}
	if thnum > len(leafIDs) {
		thnum = len(leafIDs)
	}
	chunk := (len(leafIDs) + thnum - 1) / thnum

	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < thnum; i++ {
		start := i * chunk
		if start >= len(leafIDs) {
			break
		}
		end := start + chunk
		if end > len(leafIDs) {
			end = len(leafIDs)
		}
		ids := leafIDs[start:end]
		g.Go(func() error {
			for _, id := range ids {
				leaf, err := t.getLeaf(id)
				if err != nil {
					return err
				}
				for _, r := range leaf.Records {
					v.VisitFull(r.Key, r.Value)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Count returns the tree's live record count.
func (t *BPlusTree) Count() uint64 {
	t.metaMu.Lock()
	defer t.metaMu.Unlock()
	return t.meta.Count
}

// Close flushes every dirty node and the metadata record.
func (t *BPlusTree) Close() error {
	if err := t.cache.FlushAll(); err != nil {
		return err
	}
	return t.flushMeta()
}
