// Package corvus is an embedded, single-process, single-file key-value
// storage engine.
//
// The file format combines hash-bucketed record chains (HashStore) with an
// optional ordered B+-tree index (BPlusTree) layered on top of it, both
// backed by a shared write-ahead log for transactional rollback and crash
// recovery. A HashStore can be used directly for unordered access, or
// wrapped in a BPlusTree for ordered, range-scannable access — both share
// the same on-disk record format, free-block pool, and locking scheme.
//
// Typical use:
//
//	cfg, _ := corvus.LoadConfigFile("store.jwcc")
//	opts := cfg.ToHashStoreOptions()
//	opts.Writable, opts.Create = true, true
//	hs, err := corvus.OpenHashStore("data.kct", opts)
//	...
//	hs.Set([]byte("key"), []byte("value"))
//	v, err := hs.Get([]byte("key"))
//
// or, for ordered access, layered atop an already-open HashStore:
//
//	bt, err := corvus.OpenBPlusTree(hs, corvus.CompareLexical, 8192, nil, nil, false)
//	...
//	bt.Accept([]byte("key"), visitor, true)
//	cur := bt.NewCursor()
//	k, v, ok, _ := cur.Jump()
//	for ok {
//		k, v, ok, _ = cur.Step()
//	}
package corvus
