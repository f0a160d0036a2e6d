// Reorganisation: the crash-recovery fallback for a header that still
// looks unclean after WAL replay (spec.md §4.1 open step 3,
// SPEC_FULL.md §E.2). Salvages every record it can still decode by a
// linear scan and rewrites them into a fresh file, then swaps it in with
// an atomic rename so a reader never observes a half-written replacement.
package corvus

import (
	"os"

	"github.com/natefinch/atomic"
)

// reorganize rebuilds hs's file in place: scan the current file for live
// records (best-effort, tolerating corruption after a decode failure by
// skipping forward one alignment unit at a time), then write a fresh store with
// the same configuration and swap it in.
func reorganize(hs *HashStore) error {
	w, linear := hs.chainWidth()
	salvaged := salvageScan(hs.fio, hs.header.recordRegionStart(hs.poolAreaSize), hs.fio.Size(), hs.header.Apow, w, linear)

	tmpPath := hs.path + ".reorganize.tmp"
	freshOpts := HashStoreOptions{
		BucketNum: hs.header.BucketNum,
		Apow:      hs.header.Apow,
		Fpow:      hs.header.Fpow,
		Opts:      hs.header.Opts,
		MmapSize:  defaultMmapSize,
		Writable:  true,
		Create:    true,
		NoLock:    true,
	}
	os.Remove(tmpPath)
	fresh, err := OpenHashStore(tmpPath, freshOpts)
	if err != nil {
		return newErr("reorganize", KindSystem, err)
	}
	for _, rec := range salvaged {
		if err := fresh.Set(rec.Key, rec.Value); err != nil {
			fresh.Close()
			return newErr("reorganize", KindSystem, err)
		}
	}
	if err := fresh.Close(); err != nil {
		return newErr("reorganize", KindSystem, err)
	}

	if err := atomicReplace(tmpPath, hs.path); err != nil {
		return newErr("reorganize", KindSystem, err)
	}

	if err := hs.fio.Refresh(); err != nil {
		return err
	}
	return hs.loadHeader()
}

// atomicReplace swaps newPath into place at finalPath using an atomic
// rename so no reader ever sees a partially written file — the same
// pattern the retrieval pack's tmp-file-plus-rename repair pass uses,
// generalised here via natefinch/atomic instead of a hand-rolled
// rename-with-retry.
func atomicReplace(newPath, finalPath string) error {
	defer os.Remove(newPath)
	return atomic.ReplaceFile(newPath, finalPath)
}

// salvageScan walks [start, end) tolerating corruption: on a decode
// failure it advances one alignment unit at a time looking for the next
// plausible record or free-block magic, rather than aborting the whole
// pass.
func salvageScan(fio *fileIO, start, end int64, apow byte, w int, linear bool) []record {
	var out []record
	align := int64(1 << apow)
	off := start
	const probe = 512
	for off < end {
		buf, err := fio.Read(off, probe)
		if err != nil {
			break
		}
		if isFreeBlockAt(buf) {
			size, err := decodeFreeBlockSize(buf, apow, w)
			if err != nil || size <= 0 {
				off += align
				continue
			}
			off += size
			continue
		}
		rec, n, err := decodeRecord(buf, apow, w, linear)
		if err != nil {
			grown := probe * 4
			ok := false
			for grown <= 1<<24 {
				buf, err = fio.Read(off, grown)
				if err != nil {
					break
				}
				rec, n, err = decodeRecord(buf, apow, w, linear)
				if err == nil {
					ok = true
					break
				}
				grown *= 4
			}
			if !ok {
				off += align
				continue
			}
		}
		if len(rec.Key) > 0 {
			out = append(out, record{Key: append([]byte(nil), rec.Key...), Value: append([]byte(nil), rec.Value...)})
		}
		off += int64(alignUp(n, apow))
	}
	return out
}
