// Write-ahead log (spec.md §4.3, on-disk format §6.5): an undo log of
// pre-images, replayed backwards to roll a transaction back on abort or a
// process that died mid-transaction back to its last committed state.
//
// File layout: "KW\n" followed by the original file size (u64 BE) captured
// at begin_transaction, then a sequence of messages {0xEE, off u64 BE,
// size u64 BE, pre-image bytes}. commit truncates the WAL to zero length;
// abort (or recovery, which is abort-by-another-name) replays every
// message in reverse order, writing each pre-image back to its offset,
// then truncates the main file to the captured original size and removes
// the WAL.
package corvus

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/RoaringBitmap/roaring/v2"
)

const (
	walMagicLen = 3
	walMsgMark  = 0xEE
)

var walMagic = [3]byte{'K', 'W', '\n'}

// walEntry is one undo record: the pre-image of size bytes that lived at
// off before the transaction touched it.
type walEntry struct {
	Offset int64
	Before []byte
}

// walLog manages the transaction log file alongside a HashStore's main
// file. logged tracks which aligned blocks already have a pre-image
// recorded this transaction (spec.md §4.3: "a block already logged is not
// logged again") using a roaring bitmap keyed by block index — RoaringBitmap/roaring,
// pulled in from erigon, is built exactly for this "sparse set of integers,
// membership-tested constantly" shape.
type walLog struct {
	path      string
	f         *os.File
	origSize  int64
	active    bool
	logged    *roaring.Bitmap
	blockSize int64 // granularity for the logged-block dedup test
}

func newWALLog(path string, blockSize int64) *walLog {
	return &walLog{path: path, blockSize: blockSize, logged: roaring.New()}
}

// Begin opens (creating) the WAL file and records the file's current size
// as the rollback point.
func (w *walLog) Begin(origSize int64) error {
	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	hdr := make([]byte, walMagicLen+8)
	copy(hdr, walMagic[:])
	binary.BigEndian.PutUint64(hdr[walMagicLen:], uint64(origSize))
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return err
	}
	w.f = f
	w.origSize = origSize
	w.active = true
	w.logged.Clear()
	return nil
}

// blockIndex maps a byte offset to its dedup granule.
func (w *walLog) blockIndex(off int64) uint32 {
	if w.blockSize <= 0 {
		return uint32(off)
	}
	return uint32(off / w.blockSize)
}

// LogBeforeImage appends an undo record for the bytes currently at off,
// unless that block has already been logged this transaction.
func (w *walLog) LogBeforeImage(off int64, before []byte) error {
	if !w.active {
		return nil
	}
	blk := w.blockIndex(off)
	if w.logged.Contains(blk) {
		return nil
	}
	msg := make([]byte, 1+8+8+len(before))
	msg[0] = walMsgMark
	binary.BigEndian.PutUint64(msg[1:9], uint64(off))
	binary.BigEndian.PutUint64(msg[9:17], uint64(len(before)))
	copy(msg[17:], before)
	if _, err := w.f.Write(msg); err != nil {
		return err
	}
	w.logged.Add(blk)
	return nil
}

// Commit discards the log: truncate to empty and forget what was logged.
func (w *walLog) Commit() error {
	if !w.active {
		return nil
	}
	w.active = false
	w.logged.Clear()
	if err := w.f.Truncate(0); err != nil {
		return err
	}
	if err := w.f.Close(); err != nil {
		return err
	}
	return os.Remove(w.path)
}

// Abort replays every logged pre-image backwards onto fio, then truncates
// the main file back to the size captured at Begin. Used both for an
// explicit end_transaction(false) and, with a freshly reopened walLog, for
// crash recovery on Open.
func (w *walLog) Abort(fio *fileIO) error {
	if w.f == nil {
		return nil
	}
	defer func() {
		w.f.Close()
		os.Remove(w.path)
	}()

	entries, err := w.readAll()
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if err := fio.Write(entries[i].Offset, entries[i].Before); err != nil {
			return err
		}
	}
	if err := fio.Truncate(w.origSize); err != nil {
		return err
	}
	w.active = false
	return nil
}

// readAll parses every message in the WAL file in forward order.
func (w *walLog) readAll() ([]walEntry, error) {
	if _, err := w.f.Seek(0, 0); err != nil {
		return nil, err
	}
	hdr := make([]byte, walMagicLen+8)
	if _, err := readFull(w.f, hdr); err != nil {
		return nil, err
	}
	if hdr[0] != walMagic[0] || hdr[1] != walMagic[1] || hdr[2] != walMagic[2] {
		return nil, newErr("wal.readAll", KindBroken, ErrCorruptWAL)
	}
	w.origSize = int64(binary.BigEndian.Uint64(hdr[walMagicLen:]))

	var entries []walEntry
	for {
		mark := make([]byte, 1)
		n, err := w.f.Read(mark)
		if n == 0 || err != nil {
			break
		}
		if mark[0] != walMsgMark {
			return nil, newErr("wal.readAll", KindBroken, ErrCorruptWAL)
		}
		rest := make([]byte, 16)
		if _, err := readFull(w.f, rest); err != nil {
			return nil, newErr("wal.readAll", KindBroken, ErrCorruptWAL)
		}
		off := int64(binary.BigEndian.Uint64(rest[0:8]))
		size := int64(binary.BigEndian.Uint64(rest[8:16]))
		before := make([]byte, size)
		if _, err := readFull(w.f, before); err != nil {
			return nil, newErr("wal.readAll", KindBroken, ErrCorruptWAL)
		}
		entries = append(entries, walEntry{Offset: off, Before: before})
	}
	return entries, nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("unexpected eof")
		}
	}
	return total, nil
}

// osOpenForRecovery opens an existing WAL file read-write for replay; the
// caller owns closing it once Abort has consumed it.
func osOpenForRecovery(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR, 0644)
}

// walExists reports whether a WAL file is present at path, the signal
// Open uses to detect an unclean shutdown needing recovery (spec.md §4.1
// step 1, SPEC_FULL.md §E.2: WAL replay runs before any reorganisation
// fallback).
func walExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
