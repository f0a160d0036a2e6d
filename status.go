// Status/diagnostics export (SPEC_FULL.md §C.2): a JSON-serialisable
// snapshot of a HashStore's header fields and a BPlusTree's metadata,
// meant for operational tooling (dumping state into a log line, a debug
// endpoint an embedder wires up themselves) rather than for the hot path.
//
// goccy/go-json is used here rather than encoding/json purely for the
// speed of repeatedly marshalling diagnostics snapshots under monitoring
// load — it's a drop-in Marshal/Unmarshal pair, nothing in the shape of
// the output depends on it.
package corvus

import json "github.com/goccy/go-json"

// HashStoreStatus is a JSON-serialisable snapshot of a HashStore.
type HashStoreStatus struct {
	Path      string `json:"path"`
	Count     uint64 `json:"count"`
	Size      int64  `json:"size"`
	BucketNum uint64 `json:"bucket_num"`
	Apow      byte   `json:"apow"`
	Fpow      byte   `json:"fpow"`
	Open      bool   `json:"open"`
	Fatal     bool   `json:"fatal"`
	PoolLen   int    `json:"free_block_pool_len"`
}

// StatusJSON returns hs's diagnostics snapshot as JSON.
func (hs *HashStore) StatusJSON() ([]byte, error) {
	hs.headerMu.Lock()
	h := hs.header
	hs.headerMu.Unlock()

	hs.poolMu.Lock()
	poolLen := hs.pool.Len()
	hs.poolMu.Unlock()

	s := HashStoreStatus{
		Path:      hs.path,
		Count:     h.Count,
		Size:      h.LogicalSize,
		BucketNum: h.BucketNum,
		Apow:      h.Apow,
		Fpow:      h.Fpow,
		Open:      h.Flags&FlagOpen != 0,
		Fatal:     h.Flags&FlagFatal != 0,
		PoolLen:   poolLen,
	}
	return json.Marshal(s)
}

// BPlusTreeStatus is a JSON-serialisable snapshot of a BPlusTree.
type BPlusTreeStatus struct {
	Root          uint64 `json:"root"`
	First         uint64 `json:"first_leaf"`
	Last          uint64 `json:"last_leaf"`
	LeafCount     uint64 `json:"leaf_count"`
	InnerCount    uint64 `json:"inner_count"`
	RecordCount   uint64 `json:"record_count"`
	Psiz          uint64 `json:"psiz"`
	ComparatorTag byte   `json:"comparator_tag"`
}

// StatusJSON returns t's diagnostics snapshot as JSON.
func (t *BPlusTree) StatusJSON() ([]byte, error) {
	t.metaMu.Lock()
	m := t.meta
	t.metaMu.Unlock()

	s := BPlusTreeStatus{
		Root:          m.Root,
		First:         m.First,
		Last:          m.Last,
		LeafCount:     m.Lcnt,
		InnerCount:    m.Icnt - innerIDBase,
		RecordCount:   m.Count,
		Psiz:          m.Psiz,
		ComparatorTag: m.ComparatorTag,
	}
	return json.Marshal(s)
}
