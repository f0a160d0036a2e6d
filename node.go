// LeafNode and InnerNode: the B+-tree's two node kinds, each stored as an
// ordinary HashStore record under a synthetic key (spec.md §3, on-disk
// serialisation §6.6).
package corvus

import (
	"encoding/hex"
	"fmt"
)

// innerIDBase is the first inner-node ID (spec.md §4.2: "Inner IDs start
// at 2^48 + 1"); leaf IDs start at 1 and never reach this value.
const innerIDBase = uint64(1) << 48

// leafKey returns the HashStore key a leaf node is stored under.
func leafKey(id uint64) []byte { return []byte("L" + hex.EncodeToString(beBytes(id))) }

// innerKey returns the HashStore key an inner node is stored under; the
// ID is re-based to start at zero so keys stay short regardless of
// innerIDBase's magnitude.
func innerKey(id uint64) []byte { return []byte("I" + hex.EncodeToString(beBytes(id-innerIDBase))) }

func beBytes(v uint64) []byte {
	return []byte{
		byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32),
		byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
	}
}

// leafRecord is one key/value pair held in a leaf's sorted array.
type leafRecord struct {
	Key   []byte
	Value []byte
}

// LeafNode holds a sorted run of records between two neighbouring leaves
// in the doubly linked leaf list (spec.md §3 LeafNode).
type LeafNode struct {
	ID      uint64
	Records []leafRecord
	Size    int // serialised byte size, refreshed from byteSize() after each change
	Prev    uint64
	Next    uint64
	Hot     bool
	Dirty   bool
	Dead    bool
}

// byteSize returns the node's serialised size, recomputed from its fields;
// callers use it to refresh Size after every mutation.
func (n *LeafNode) byteSize() int {
	size := varnumLen(n.Prev) + varnumLen(n.Next)
	for _, r := range n.Records {
		size += varnumLen(uint64(len(r.Key))) + varnumLen(uint64(len(r.Value))) + len(r.Key) + len(r.Value)
	}
	return size
}

// encode serialises the leaf to {prev varint, next varint, (ksiz, vsiz,
// key, value)*} (spec.md §3 LeafNode).
func (n *LeafNode) encode() []byte {
	buf := make([]byte, 0, n.byteSize())
	buf = putVarnum(buf, n.Prev)
	buf = putVarnum(buf, n.Next)
	for _, r := range n.Records {
		buf = putVarnum(buf, uint64(len(r.Key)))
		buf = putVarnum(buf, uint64(len(r.Value)))
		buf = append(buf, r.Key...)
		buf = append(buf, r.Value...)
	}
	return buf
}

func decodeLeafNode(id uint64, buf []byte) (*LeafNode, error) {
	n := &LeafNode{ID: id}
	prev, m := getVarnum(buf)
	if m == 0 {
		return nil, fmt.Errorf("decodeLeafNode: truncated prev")
	}
	buf = buf[m:]
	next, m := getVarnum(buf)
	if m == 0 {
		return nil, fmt.Errorf("decodeLeafNode: truncated next")
	}
	buf = buf[m:]
	n.Prev, n.Next = prev, next

	for len(buf) > 0 {
		ksiz, m := getVarnum(buf)
		if m == 0 {
			return nil, fmt.Errorf("decodeLeafNode: truncated ksiz")
		}
		buf = buf[m:]
		vsiz, m := getVarnum(buf)
		if m == 0 {
			return nil, fmt.Errorf("decodeLeafNode: truncated vsiz")
		}
		buf = buf[m:]
		if uint64(len(buf)) < ksiz+vsiz {
			return nil, fmt.Errorf("decodeLeafNode: truncated record body")
		}
		key := append([]byte(nil), buf[:ksiz]...)
		buf = buf[ksiz:]
		value := append([]byte(nil), buf[:vsiz]...)
		buf = buf[vsiz:]
		n.Records = append(n.Records, leafRecord{Key: key, Value: value})
	}
	n.Size = n.byteSize()
	return n, nil
}

// innerLink is one child pointer plus the separator key below it.
type innerLink struct {
	Child uint64
	Key   []byte
}

// InnerNode routes searches down to leaves via a sorted array of links
// plus a distinguished heir child preceding all of them (spec.md §3
// InnerNode, glossary "Heir").
type InnerNode struct {
	ID    uint64
	Heir  uint64
	Links []innerLink
	Size  int
	Dirty bool
	Dead  bool
}

func (n *InnerNode) byteSize() int {
	size := varnumLen(n.Heir)
	for _, l := range n.Links {
		size += varnumLen(l.Child) + varnumLen(uint64(len(l.Key))) + len(l.Key)
	}
	return size
}

// encode serialises to {heir varint, (child varint, ksiz varint, key)*}
// (spec.md §3 InnerNode).
func (n *InnerNode) encode() []byte {
	buf := make([]byte, 0, n.byteSize())
	buf = putVarnum(buf, n.Heir)
	for _, l := range n.Links {
		buf = putVarnum(buf, l.Child)
		buf = putVarnum(buf, uint64(len(l.Key)))
		buf = append(buf, l.Key...)
	}
	return buf
}

func decodeInnerNode(id uint64, buf []byte) (*InnerNode, error) {
	n := &InnerNode{ID: id}
	heir, m := getVarnum(buf)
	if m == 0 {
		return nil, fmt.Errorf("decodeInnerNode: truncated heir")
	}
	buf = buf[m:]
	n.Heir = heir

	for len(buf) > 0 {
		child, m := getVarnum(buf)
		if m == 0 {
			return nil, fmt.Errorf("decodeInnerNode: truncated child")
		}
		buf = buf[m:]
		ksiz, m := getVarnum(buf)
		if m == 0 {
			return nil, fmt.Errorf("decodeInnerNode: truncated ksiz")
		}
		buf = buf[m:]
		if uint64(len(buf)) < ksiz {
			return nil, fmt.Errorf("decodeInnerNode: truncated key")
		}
		key := append([]byte(nil), buf[:ksiz]...)
		buf = buf[ksiz:]
		n.Links = append(n.Links, innerLink{Child: child, Key: key})
	}
	n.Size = n.byteSize()
	return n, nil
}

// treeMeta is the B+-tree metadata record stored under key "@" (spec.md
// §6.6).
type treeMeta struct {
	ComparatorTag byte
	Psiz          uint64
	Root          uint64
	First         uint64
	Last          uint64
	Lcnt          uint64
	Icnt          uint64
	Count         uint64
	Bnum          uint64
}

var treeMetaSentinel = []byte("\n Boofy!\n")

func (m *treeMeta) encode() []byte {
	buf := make([]byte, 8+8*8+len(treeMetaSentinel))
	buf[0] = m.ComparatorTag
	fields := []uint64{m.Psiz, m.Root, m.First, m.Last, m.Lcnt, m.Icnt, m.Count, m.Bnum}
	for i, f := range fields {
		off := 8 + i*8
		buf[off] = byte(f >> 56)
		buf[off+1] = byte(f >> 48)
		buf[off+2] = byte(f >> 40)
		buf[off+3] = byte(f >> 32)
		buf[off+4] = byte(f >> 24)
		buf[off+5] = byte(f >> 16)
		buf[off+6] = byte(f >> 8)
		buf[off+7] = byte(f)
	}
	copy(buf[8+8*8:], treeMetaSentinel)
	return buf
}

func decodeTreeMeta(buf []byte) (*treeMeta, error) {
	if len(buf) < 8+8*8+len(treeMetaSentinel) {
		return nil, fmt.Errorf("decodeTreeMeta: truncated")
	}
	m := &treeMeta{ComparatorTag: buf[0]}
	read := func(i int) uint64 {
		off := 8 + i*8
		b := buf[off : off+8]
		return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
			uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
	}
	m.Psiz = read(0)
	m.Root = read(1)
	m.First = read(2)
	m.Last = read(3)
	m.Lcnt = read(4)
	m.Icnt = read(5)
	m.Count = read(6)
	m.Bnum = read(7)
	return m, nil
}
