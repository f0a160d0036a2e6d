// HashStore: the file-backed hash-bucketed record store (spec.md §4.1).
//
// This is the engine's largest component (spec.md §2 gives it a 40% share):
// file header, bucket array, record chains, free-block allocation,
// transactions, and the public accept/iterate/scan API all meet here. The
// B+-tree (bplustree.go) is a client of this type, storing its leaf/inner
// nodes as ordinary records under synthetic keys.
package corvus

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultMmapSize   = 64 << 20 // msiz, spec.md §4.1 step 4
	defaultBucketNum  = 1 << 20
	defaultApow       = 3
	defaultFpow       = 10
	numLockSlots      = 1024
	defaultFrgUnit    = 8
	defaultDfrgMax    = 512
	poolEntryOnDisk   = 16 // bytes per serialized free-block entry
)

// Action is what a Visitor asks the store to do with the record it was
// shown (spec.md §4.1 accept).
type Action int

const (
	ActionNOP Action = iota
	ActionRemove
	ActionReplace
)

// VisitResult is the outcome a Visitor returns for one key.
type VisitResult struct {
	Action Action
	Value  []byte // used when Action == ActionReplace
}

// Visitor is the callback contract for accept/accept_bulk/iterate.
type Visitor interface {
	VisitFull(key, value []byte) VisitResult
	VisitEmpty(key []byte) VisitResult
}

// funcVisitor adapts two closures to the Visitor interface, the common case
// of a single get-or-mutate call.
type funcVisitor struct {
	full  func(key, value []byte) VisitResult
	empty func(key []byte) VisitResult
}

func (f funcVisitor) VisitFull(key, value []byte) VisitResult {
	if f.full == nil {
		return VisitResult{Action: ActionNOP}
	}
	return f.full(key, value)
}

func (f funcVisitor) VisitEmpty(key []byte) VisitResult {
	if f.empty == nil {
		return VisitResult{Action: ActionNOP}
	}
	return f.empty(key)
}

// HashStoreOptions configures OpenHashStore. Config.ToHashStoreOptions
// (config.go) produces this from a loaded tuning file.
type HashStoreOptions struct {
	BucketNum   uint64
	Apow        byte
	Fpow        byte
	Opts        byte // Opt32BitAddr | OptLinearChain | OptPerRecordCmp
	MmapSize    int64
	Writable    bool
	Create      bool
	NoLock      bool
	TryLock     bool
	AutoTxn     bool
	Compressor  Compressor
	FrgUnit     int
	DfrgMax     int
	Logger      zerolog.Logger
}

func (o HashStoreOptions) withDefaults() HashStoreOptions {
	if o.BucketNum == 0 {
		o.BucketNum = defaultBucketNum
	}
	if o.MmapSize == 0 {
		o.MmapSize = defaultMmapSize
	}
	if o.Compressor == nil {
		o.Compressor = identityCompressor{}
	}
	if o.FrgUnit == 0 {
		o.FrgUnit = defaultFrgUnit
	}
	if o.DfrgMax == 0 {
		o.DfrgMax = defaultDfrgMax
	}
	if reflect.DeepEqual(o.Logger, zerolog.Logger{}) {
		o.Logger = zerolog.Nop()
	}
	return o
}

// HashStore is the open handle to a single file database.
type HashStore struct {
	methodMu sync.RWMutex // database method lock (spec.md §5, outermost)

	path string
	fio  *fileIO
	lock *fileLock

	header     Header
	headerMu   sync.Mutex
	compressor Compressor
	comparators *comparatorRegistry

	table *bucketTable
	chain *bucketChain

	pool   *freeBlockPool
	poolMu sync.Mutex

	slots [numLockSlots]sync.RWMutex

	wal          *walLog
	txnMu        sync.Mutex // auto-transaction / explicit-transaction exclusivity
	inTxn        bool
	trmsiz       int64       // pre-transaction logical size watermark
	trcount      uint64      // pre-transaction record count watermark
	poolSnapshot []freeBlock // full pre-transaction pool capture (spec.md §4.3)

	autoTxn bool
	frgUnit int
	frgCnt  int
	dfrgMax int
	dfrgCur int64 // persistent defrag cursor

	cursorMu sync.Mutex
	cursors  map[*HashCursor]struct{}

	poolAreaSize int64
	metrics      *storeMetrics
	log          zerolog.Logger
}

// slotFor returns the rwlock guarding bucket idx, per spec.md §5's
// 1024-way slotting.
func (hs *HashStore) slotFor(idx uint64) *sync.RWMutex { return &hs.slots[idx%numLockSlots] }

// OpenHashStore opens or creates a hash store at path under opts.
func OpenHashStore(path string, opts HashStoreOptions) (*HashStore, error) {
	opts = opts.withDefaults()

	flags := ModeReader
	if opts.Writable {
		flags |= ModeWriter
	}
	if opts.Create {
		flags |= ModeCreate
	}

	fio, err := openFile(path, flags, opts.MmapSize)
	if err != nil {
		return nil, newErr("OpenHashStore", KindNoRepos, err)
	}

	hs := &HashStore{
		path:        path,
		fio:         fio,
		compressor:  opts.Compressor,
		comparators: newComparatorRegistry(),
		autoTxn:     opts.AutoTxn,
		frgUnit:     opts.FrgUnit,
		dfrgMax:     opts.DfrgMax,
		cursors:     make(map[*HashCursor]struct{}),
		metrics:     newStoreMetrics(),
		log:         opts.Logger.With().Str("component", "hashstore").Str("path", path).Logger(),
	}

	if !opts.NoLock {
		hs.lock = &fileLock{}
		hs.lock.setFile(fio.f)
		mode := LockShared
		if opts.Writable {
			mode = LockExclusive
		}
		if opts.TryLock {
			if err := hs.lock.TryLock(context.Background(), mode, 5*time.Second); err != nil {
				fio.Close()
				return nil, newErr("OpenHashStore", KindNoPerm, err)
			}
		} else if err := hs.lock.Lock(mode); err != nil {
			fio.Close()
			return nil, newErr("OpenHashStore", KindNoPerm, err)
		}
	}

	hs.wal = newWALLog(path+".wal", 1<<opts.Apow)

	// spec.md §4.1 open step 2 / SPEC_FULL.md §E.2: WAL replay is
	// authoritative and runs before anything else looks at the header.
	if walExists(hs.wal.path) {
		hs.log.Warn().Msg("found leftover WAL at open, replaying before header read")
		recoveryWAL := newWALLog(hs.wal.path, 1<<opts.Apow)
		f, ferr := osOpenForRecovery(hs.wal.path)
		if ferr == nil {
			recoveryWAL.f = f
			if err := recoveryWAL.Abort(fio); err != nil {
				hs.log.Error().Err(err).Msg("WAL replay failed")
				fio.Close()
				return nil, newErr("OpenHashStore.recover", KindBroken, err)
			}
			hs.log.Info().Msg("WAL replay complete")
			if err := fio.Refresh(); err != nil {
				fio.Close()
				return nil, err
			}
		}
	}

	fresh := fio.Size() == 0
	if fresh {
		if !opts.Create {
			fio.Close()
			return nil, newErr("OpenHashStore", KindNoRepos, ErrNotFound)
		}
		if err := hs.initFresh(opts); err != nil {
			fio.Close()
			return nil, err
		}
	} else {
		if err := hs.loadHeader(); err != nil {
			fio.Close()
			return nil, err
		}
		if hs.header.Flags&FlagFatal != 0 || hs.header.Flags&FlagOpen != 0 {
			// SPEC_FULL.md §E.2: reorganisation is the fallback once WAL
			// replay above has already run and the header still looks
			// unclean.
			hs.log.Warn().Bool("fatal", hs.header.Flags&FlagFatal != 0).Msg("store left in unclean state, reorganizing")
			if err := reorganize(hs); err != nil {
				hs.log.Error().Err(err).Msg("reorganize failed")
				fio.Close()
				return nil, err
			}
			hs.log.Info().Msg("reorganize complete")
		}
	}

	hs.bindAccessors()

	if err := hs.loadPool(); err != nil {
		fio.Close()
		return nil, err
	}

	if opts.Writable {
		hs.headerMu.Lock()
		hs.header.Flags |= FlagOpen
		hs.headerMu.Unlock()
		if err := hs.flushHeader(); err != nil {
			fio.Close()
			return nil, err
		}
	}

	return hs, nil
}

func (hs *HashStore) initFresh(opts HashStoreOptions) error {
	hs.header = Header{
		LibVer:    libVersion,
		LibRev:    libRevision,
		FmtVer:    fmtVersion,
		Checksum:  moduleChecksum(hs.compressor),
		DBType:    TypeHash,
		Apow:      opts.Apow,
		Fpow:      opts.Fpow,
		Opts:      opts.Opts,
		BucketNum: opts.BucketNum,
	}
	if hs.header.Apow == 0 {
		hs.header.Apow = defaultApow
	}
	if hs.header.Fpow == 0 {
		hs.header.Fpow = defaultFpow
	}
	hs.poolAreaSize = (1 << hs.header.Fpow) * poolEntryOnDisk
	hs.header.LogicalSize = hs.header.recordRegionStart(hs.poolAreaSize)

	buf := make([]byte, hs.header.LogicalSize)
	copy(buf, hs.header.encode())
	if _, err := hs.fio.Append(buf); err != nil {
		return err
	}
	return hs.fio.Refresh()
}

func (hs *HashStore) loadHeader() error {
	buf, err := hs.fio.Read(0, HeaderSize)
	if err != nil {
		return err
	}
	h, err := decodeHeader(buf, hs.compressor)
	if err != nil {
		return err
	}
	hs.header = *h
	hs.poolAreaSize = (1 << hs.header.Fpow) * poolEntryOnDisk
	return nil
}

func (hs *HashStore) bindAccessors() {
	w := hs.header.addrWidth()
	mode := chainTree
	if hs.header.linearChain() {
		mode = chainLinear
	}
	hs.table = newBucketTable(hs.fio, HeaderSize, hs.header.BucketNum, hs.header.Apow, w, hs.logBeforeWrite)
	hs.chain = newBucketChain(hs.fio, hs.table, mode, hs.header.Apow, w, hs.logBeforeWrite)
	hs.pool = newFreeBlockPool(hs.header.Fpow)
}

func (hs *HashStore) loadPool() error {
	poolOff := HeaderSize + hs.header.bucketTableSize()
	buf, err := hs.fio.Read(poolOff, int(hs.poolAreaSize))
	if err != nil {
		return err
	}
	hs.pool.LoadSerialized(buf)
	return nil
}

func (hs *HashStore) flushPool() error {
	poolOff := HeaderSize + hs.header.bucketTableSize()
	buf := hs.pool.Serialize()
	padded := make([]byte, hs.poolAreaSize)
	copy(padded, buf)
	return hs.fio.Write(poolOff, padded)
}

func (hs *HashStore) flushHeader() error {
	hs.headerMu.Lock()
	buf := hs.header.encode()
	hs.headerMu.Unlock()
	return hs.fio.Write(0, buf)
}

// markFatal implements spec.md §7: Broken/System errors flip FFATAL so the
// next open reorganises.
func (hs *HashStore) markFatal() {
	hs.headerMu.Lock()
	hs.header.Flags |= FlagFatal
	hs.headerMu.Unlock()
	hs.log.Error().Msg("store marked fatal")
	hs.flushHeader()
}

// Close invalidates live cursors, flushes the pool and header, unmaps, and
// releases the file lock (spec.md §4.1 close protocol).
func (hs *HashStore) Close() error {
	hs.methodMu.Lock()
	defer hs.methodMu.Unlock()

	hs.invalidateCursors()
	if err := hs.flushPool(); err != nil {
		return err
	}
	hs.headerMu.Lock()
	hs.header.Flags &^= FlagOpen
	hs.headerMu.Unlock()
	if err := hs.flushHeader(); err != nil {
		return err
	}
	if err := hs.fio.Synchronize(true); err != nil {
		return err
	}
	if hs.lock != nil {
		hs.lock.Unlock()
	}
	return hs.fio.Close()
}

func (hs *HashStore) resolveComparator() Comparator { return lexicalComparator{} }

// accept is the core single-key atomic operation (spec.md §4.1 accept).
func (hs *HashStore) accept(key []byte, v Visitor, writable bool) error {
	hs.methodMu.RLock()
	defer hs.methodMu.RUnlock()

	idx := bucketIndex(bucketHash(key), hs.header.BucketNum)
	slot := hs.slotFor(idx)
	if writable {
		slot.Lock()
		defer slot.Unlock()
	} else {
		slot.RLock()
		defer slot.RUnlock()
	}

	return hs.acceptLocked(idx, key, v, writable)
}

func (hs *HashStore) acceptLocked(idx uint64, key []byte, v Visitor, writable bool) error {
	cmp := hs.resolveComparator().Compare

	node, found, err := hs.chain.Find(idx, key, cmp)
	if err != nil {
		hs.markFatal()
		return newErr("accept", KindSystem, err)
	}

	var result VisitResult
	if found {
		result = v.VisitFull(node.Rec.Key, node.Rec.Value)
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
		if err := hs.removeRecord(idx, key, cmp); err != nil {
			hs.markFatal()
			return newErr("accept.remove", KindSystem, err)
		}
		hs.headerMu.Lock()
		hs.header.Count--
		hs.headerMu.Unlock()
	case ActionReplace:
		if err := hs.upsertRecord(idx, key, result.Value, found, node, cmp); err != nil {
			hs.markFatal()
			return newErr("accept.replace", KindSystem, err)
		}
		if !found {
			hs.headerMu.Lock()
			hs.header.Count++
			hs.headerMu.Unlock()
		}
	}
	hs.maybeAutoDefrag()
	return nil
}

// acceptBulk locks every distinct bucket touched by keys, in ascending slot
// order, before visiting any of them — spec.md §5's deadlock-avoidance
// rule for accept_bulk.
func (hs *HashStore) acceptBulk(keys [][]byte, v Visitor, writable bool) error {
	hs.methodMu.RLock()
	defer hs.methodMu.RUnlock()

	type touched struct {
		slotIdx uint64
		bucket  uint64
		key     []byte
	}
	items := make([]touched, len(keys))
	seen := make(map[uint64]bool)
	var order []uint64
	for i, k := range keys {
		b := bucketIndex(bucketHash(k), hs.header.BucketNum)
		s := b % numLockSlots
		items[i] = touched{slotIdx: s, bucket: b, key: k}
		if !seen[s] {
			seen[s] = true
			order = append(order, s)
		}
	}
	sortUint64(order)

	for _, s := range order {
		if writable {
			hs.slots[s].Lock()
			defer hs.slots[s].Unlock()
		} else {
			hs.slots[s].RLock()
			defer hs.slots[s].RUnlock()
		}
	}

	for _, it := range items {
		if err := hs.acceptLocked(it.bucket, it.key, v, writable); err != nil {
			return err
		}
	}
	return nil
}

func sortUint64(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Get is the common read-only convenience wrapping accept.
func (hs *HashStore) Get(key []byte) ([]byte, error) {
	var value []byte
	var miss bool
	err := hs.accept(key, funcVisitor{
		full: func(_, v []byte) VisitResult {
			value = append([]byte(nil), v...)
			return VisitResult{Action: ActionNOP}
		},
		empty: func(_ []byte) VisitResult {
			miss = true
			return VisitResult{Action: ActionNOP}
		},
	}, false)
	if err != nil {
		return nil, err
	}
	if miss {
		hs.metrics.Misses.Inc()
		return nil, newErr("Get", KindNoRec, ErrNotFound)
	}
	hs.metrics.Gets.Inc()
	return value, nil
}

// Set inserts or overwrites key with value.
func (hs *HashStore) Set(key, value []byte) error {
	err := hs.withAutoTxn(func() error {
		return hs.accept(key, funcVisitor{
			full:  func(_, _ []byte) VisitResult { return VisitResult{Action: ActionReplace, Value: value} },
			empty: func(_ []byte) VisitResult { return VisitResult{Action: ActionReplace, Value: value} },
		}, true)
	})
	if err == nil {
		hs.metrics.Sets.Inc()
	}
	return err
}

// Remove deletes key, returning KindNoRec if it was absent.
func (hs *HashStore) Remove(key []byte) error {
	var missing bool
	err := hs.withAutoTxn(func() error {
		return hs.accept(key, funcVisitor{
			full:  func(_, _ []byte) VisitResult { return VisitResult{Action: ActionRemove} },
			empty: func(_ []byte) VisitResult { missing = true; return VisitResult{Action: ActionNOP} },
		}, true)
	})
	if err != nil {
		return err
	}
	if missing {
		hs.metrics.Misses.Inc()
		return newErr("Remove", KindNoRec, ErrNotFound)
	}
	hs.metrics.Removes.Inc()
	return nil
}

// Occupy is a convenience read-modify-write over a single key without the
// full accept/Visitor ceremony (SPEC_FULL.md §C.1, kcdb.h's helper
// get/set/remove wrappers atop accept). fn receives the current value
// (nil, false if absent) and returns the new value plus an Action: NOP
// leaves the key untouched, Remove deletes it, Replace stores the
// returned value.
func (hs *HashStore) Occupy(key []byte, fn func(value []byte, found bool) ([]byte, Action)) error {
	return hs.withAutoTxn(func() error {
		return hs.accept(key, funcVisitor{
			full: func(_, v []byte) VisitResult {
				nv, action := fn(v, true)
				return VisitResult{Action: action, Value: nv}
			},
			empty: func(_ []byte) VisitResult {
				nv, action := fn(nil, false)
				return VisitResult{Action: action, Value: nv}
			},
		}, true)
	})
}

// withAutoTxn wraps fn in begin/end_transaction when AutoTxn is configured
// (spec.md §4.3 Auto-transaction), independent of any explicit transaction.
func (hs *HashStore) withAutoTxn(fn func() error) error {
	if !hs.autoTxn {
		return fn()
	}
	hs.txnMu.Lock()
	alreadyIn := hs.inTxn
	hs.txnMu.Unlock()
	if alreadyIn {
		return fn()
	}
	if err := hs.BeginTransaction(false); err != nil {
		return err
	}
	if err := fn(); err != nil {
		hs.EndTransaction(false)
		return err
	}
	return hs.EndTransaction(true)
}

// Count returns the live record count.
func (hs *HashStore) Count() uint64 {
	hs.headerMu.Lock()
	defer hs.headerMu.Unlock()
	return hs.header.Count
}

// Size returns the logical file size.
func (hs *HashStore) Size() int64 {
	hs.headerMu.Lock()
	defer hs.headerMu.Unlock()
	return hs.header.LogicalSize
}

// Synchronize flushes header, pool, and file (spec.md §4.1 synchronize).
// postproc, if non-nil, runs after the flush but before fsync returns to
// the caller, mirroring the source's hook for e.g. snapshotting.
func (hs *HashStore) Synchronize(hard bool, postproc func() error) error {
	hs.methodMu.Lock()
	defer hs.methodMu.Unlock()

	if err := hs.flushPool(); err != nil {
		return err
	}
	if err := hs.flushHeader(); err != nil {
		return err
	}
	if postproc != nil {
		if err := postproc(); err != nil {
			return newErr("Synchronize.postproc", KindLogic, err)
		}
	}
	return hs.fio.Synchronize(hard)
}

// Clear truncates the store back to an empty, freshly initialised file.
func (hs *HashStore) Clear() error {
	hs.methodMu.Lock()
	defer hs.methodMu.Unlock()

	hs.pool = newFreeBlockPool(hs.header.Fpow)
	hs.header.Count = 0
	hs.header.LogicalSize = hs.header.recordRegionStart(hs.poolAreaSize)
	if err := hs.fio.Truncate(hs.header.LogicalSize); err != nil {
		return err
	}
	zeroBuckets := make([]byte, hs.header.bucketTableSize())
	if err := hs.fio.Write(HeaderSize, zeroBuckets); err != nil {
		return err
	}
	return hs.flushHeader()
}

// Status returns a diagnostics snapshot (SPEC_FULL.md §C.2).
func (hs *HashStore) Status() map[string]string {
	hs.headerMu.Lock()
	h := hs.header
	hs.headerMu.Unlock()
	return map[string]string{
		"path":       hs.path,
		"count":      itoa(int64(h.Count)),
		"size":       itoa(h.LogicalSize),
		"bnum":       itoa(int64(h.BucketNum)),
		"apow":       itoa(int64(h.Apow)),
		"fpow":       itoa(int64(h.Fpow)),
		"flags_open": boolStr(h.Flags&FlagOpen != 0),
		"fatal":      boolStr(h.Flags&FlagFatal != 0),
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Iterate visits every live record once in file order under the method
// write lock (spec.md §4.1 iterate).
func (hs *HashStore) Iterate(v Visitor, writable bool) error {
	hs.methodMu.Lock()
	defer hs.methodMu.Unlock()

	off := hs.header.recordRegionStart(hs.poolAreaSize)
	end := hs.header.LogicalSize
	w := hs.header.addrWidth()
	linear := hs.header.linearChain()

	for off < end {
		rec, n, err := hs.readAnyAt(off, w, linear)
		if err != nil {
			return newErr("Iterate", KindBroken, err)
		}
		if n <= 0 {
			break
		}
		if rec != nil {
			result := v.VisitFull(rec.Key, rec.Value)
			if writable && result.Action == ActionReplace {
				if err := hs.rewriteInPlace(off, *rec, result.Value, w, linear); err != nil {
					return err
				}
			} else if writable && result.Action == ActionRemove {
				idx := bucketIndex(bucketHash(rec.Key), hs.header.BucketNum)
				if err := hs.removeRecord(idx, rec.Key, hs.resolveComparator().Compare); err != nil {
					return err
				}
			}
		}
		off += int64(n)
	}
	return nil
}

// readAnyAt reads whatever lives at off: a live record (returned
// non-nil) or a free block (rec == nil, n == its on-disk span).
func (hs *HashStore) readAnyAt(off int64, w int, linear bool) (*record, int, error) {
	const probe = 512
	buf, err := hs.fio.Read(off, probe)
	if err != nil {
		return nil, 0, err
	}
	if isFreeBlockAt(buf) {
		size, err := decodeFreeBlockSize(buf, hs.header.Apow, w)
		if err != nil {
			return nil, 0, err
		}
		return nil, int(size), nil
	}
	rec, n, err := decodeRecord(buf, hs.header.Apow, w, linear)
	if err != nil {
		grown := probe * 4
		for {
			buf, err = hs.fio.Read(off, grown)
			if err != nil {
				return nil, 0, err
			}
			rec, n, err = decodeRecord(buf, hs.header.Apow, w, linear)
			if err == nil {
				break
			}
			if grown > 1<<24 {
				return nil, 0, err
			}
			grown *= 4
		}
	}
	return &rec, n, nil
}

func (hs *HashStore) rewriteInPlace(off int64, old record, newValue []byte, w int, linear bool) error {
	old.Value = newValue
	buf := encodeRecord(old, hs.header.Apow, w, linear)
	return hs.fio.Write(off, buf)
}

// ScanParallel performs a read-only scan of the record region partitioned
// into thnum byte-range shards, run concurrently via an errgroup (spec.md
// §4.1 scan_parallel, §5: "starts its own threads only for scan_parallel").
func (hs *HashStore) ScanParallel(ctx context.Context, v Visitor, thnum int) error {
	hs.methodMu.RLock()
	defer hs.methodMu.RUnlock()

	if thnum <= 0 {
		thnum = 1
	}
	start := hs.header.recordRegionStart(hs.poolAreaSize)
	end := hs.header.LogicalSize
	total := end - start
	if total <= 0 {
		return nil
	}
	shard := total / int64(thnum)
	if shard == 0 {
		shard = total
		thnum = 1
	}

	w := hs.header.addrWidth()
	linear := hs.header.linearChain()

	g, _ := errgroup.WithContext(ctx)
	for t := 0; t < thnum; t++ {
		shardStart := start + int64(t)*shard
		shardEnd := shardStart + shard
		if t == thnum-1 {
			shardEnd = end
		}
		g.Go(func() error {
			return hs.scanRange(start, shardStart, shardEnd, w, linear, v)
		})
	}
	return g.Wait()
}

// scanRange walks the record region record by record from regionStart and
// visits every live record whose start offset lies in [from, to). Shard
// boundaries are raw byte offsets, so each shard walks the records before
// from only to find a record boundary; a record straddling a boundary
// belongs to the shard holding its start offset.
func (hs *HashStore) scanRange(regionStart, from, to int64, w int, linear bool, v Visitor) error {
	off := regionStart
	for off < to {
		rec, n, err := hs.readAnyAt(off, w, linear)
		if err != nil {
			return newErr("ScanParallel", KindBroken, err)
		}
		if n <= 0 {
			break
		}
		if rec != nil && off >= from {
			v.VisitFull(rec.Key, rec.Value)
		}
		off += int64(n)
	}
	return nil
}

// BeginTransaction starts the single allowed active transaction (spec.md
// §4.3). Nested transactions are rejected.
func (hs *HashStore) BeginTransaction(hard bool) error {
	hs.txnMu.Lock()
	defer hs.txnMu.Unlock()
	if hs.inTxn {
		return newErr("BeginTransaction", KindInvalid, ErrTxnActive)
	}
	hs.headerMu.Lock()
	hs.trmsiz = hs.header.LogicalSize
	hs.trcount = hs.header.Count
	hs.headerMu.Unlock()

	if err := hs.wal.Begin(hs.fio.Size()); err != nil {
		return newErr("BeginTransaction", KindSystem, err)
	}
	hs.poolSnapshot = hs.pool.Snapshot()
	hs.inTxn = true
	if hard {
		hs.fio.Synchronize(true)
	}
	hs.log.Debug().Bool("hard", hard).Msg("transaction begin")
	return nil
}

// EndTransaction commits or aborts the active transaction (spec.md §4.3).
func (hs *HashStore) EndTransaction(commit bool) error {
	hs.txnMu.Lock()
	defer hs.txnMu.Unlock()
	if !hs.inTxn {
		return newErr("EndTransaction", KindInvalid, ErrNoTxn)
	}
	hs.inTxn = false

	if commit {
		if err := hs.wal.Commit(); err != nil {
			return newErr("EndTransaction.commit", KindSystem, err)
		}
		hs.metrics.TxnCommits.Inc()
		hs.log.Debug().Msg("transaction commit")
		return hs.flushHeader()
	}

	if err := hs.wal.Abort(hs.fio); err != nil {
		return newErr("EndTransaction.abort", KindBroken, err)
	}
	hs.metrics.TxnAborts.Inc()
	hs.log.Warn().Msg("transaction abort")
	hs.headerMu.Lock()
	hs.header.LogicalSize = hs.trmsiz
	hs.header.Count = hs.trcount
	hs.headerMu.Unlock()
	hs.pool.Restore(hs.poolSnapshot)
	hs.invalidateCursors()
	return nil
}

// logBeforeWrite, called before any mutating write to the bucket array,
// a chain's child pointers, or a record slot, emits the WAL pre-image
// when a transaction is active, honouring the base-offset trim and
// trmsiz clamp of spec.md §4.3. The base is the bucket array's start,
// not the record region's, since bucket heads and chain pointers both
// need guarding too.
func (hs *HashStore) logBeforeWrite(off int64, size int) error {
	hs.txnMu.Lock()
	inTxn := hs.inTxn
	trmsiz := hs.trmsiz
	hs.txnMu.Unlock()
	if !inTxn {
		return nil
	}
	base := hs.header.bucketArrayStart()
	start := off
	if start < base {
		start = base
	}
	end := off + int64(size)
	if end > trmsiz {
		end = trmsiz
	}
	if end <= start {
		return nil
	}
	before, err := hs.fio.Read(start, int(end-start))
	if err != nil {
		return err
	}
	return hs.wal.LogBeforeImage(start, before)
}

func (hs *HashStore) invalidateCursors() {
	hs.cursorMu.Lock()
	defer hs.cursorMu.Unlock()
	for c := range hs.cursors {
		c.invalidate()
	}
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

