// FileIO abstraction (spec.md §6.1): a memory-mapped prefix window over the
// first MmapSize bytes of the file, falling through to positional pread/
// pwrite beyond the map, plus an append cursor guarded by its own mutex
// (the file-append mutex "alock" of spec.md §5).
//
// This is the one collaborator spec.md explicitly routes all low-level I/O
// through (open/read/write/pwrite/mmap/fsync/ftruncate are out of core
// scope per spec.md §1) — concretely backed here by edsrzf/mmap-go, the
// mmap library erigon depends on.
package corvus

import (
	"io"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// ModeFlags mirror spec.md §6.1's {Reader, Writer, Create, Truncate,
// NoLock, TryLock}.
type ModeFlags int

const (
	ModeReader ModeFlags = 1 << iota
	ModeWriter
	ModeCreate
	ModeTruncate
	ModeNoLock
	ModeTryLock
)

// fileIO is the concrete file abstraction used by HashStore. All reads and
// writes funnel through it so the mmap/pread boundary stays in one place.
type fileIO struct {
	path     string
	f        *os.File
	writable bool
	mmapSize int64

	mu   sync.RWMutex // guards region and size during remap
	alockMu sync.Mutex // file-append mutex ("alock")

	region mmap.MMap // mapped prefix, len(region) <= mmapSize
	size   int64     // current file size (== tail for append purposes)
}

// openFile opens path under the given mode flags and maps up to mmapSize
// bytes of its prefix.
func openFile(path string, flags ModeFlags, mmapSize int64) (*fileIO, error) {
	osFlags := os.O_RDONLY
	writable := flags&ModeWriter != 0
	if writable {
		osFlags = os.O_RDWR
	}
	if flags&ModeCreate != 0 {
		osFlags |= os.O_CREATE
	}
	if flags&ModeTruncate != 0 {
		osFlags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, osFlags, 0644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	fio := &fileIO{
		path:     path,
		f:        f,
		writable: writable,
		mmapSize: mmapSize,
		size:     info.Size(),
	}
	if err := fio.remap(); err != nil {
		f.Close()
		return nil, err
	}
	return fio, nil
}

// remap (re)maps min(size, mmapSize) bytes of the file's prefix. Called
// after Open and after any growth (Append, Truncate up, write_transaction
// extending the file) so the mapped window tracks the live prefix.
func (fio *fileIO) remap() error {
	fio.mu.Lock()
	defer fio.mu.Unlock()
	return fio.remapLocked()
}

func (fio *fileIO) remapLocked() error {
	if fio.region != nil {
		fio.region.Unmap()
		fio.region = nil
	}
	want := fio.mmapSize
	if fio.size < want {
		want = fio.size
	}
	if want <= 0 {
		return nil
	}
	prot := mmap.RDONLY
	if fio.writable {
		prot = mmap.RDWR
	}
	r, err := mmap.MapRegion(fio.f, int(want), prot, 0, 0)
	if err != nil {
		return err
	}
	fio.region = r
	return nil
}

// Size returns the current logical file size as tracked by the abstraction
// (not necessarily the allocated size on disk, which may be larger).
func (fio *fileIO) Size() int64 {
	fio.mu.RLock()
	defer fio.mu.RUnlock()
	return fio.size
}

func (fio *fileIO) Path() string { return fio.path }

// Read copies size bytes starting at off into a new slice, going through
// the mmap window where possible and falling through to pread otherwise.
func (fio *fileIO) Read(off int64, size int) ([]byte, error) {
	buf := make([]byte, size)
	fio.mu.RLock()
	mapped := int64(len(fio.region))
	fio.mu.RUnlock()

	if off >= 0 && off+int64(size) <= mapped {
		fio.mu.RLock()
		copy(buf, fio.region[off:off+int64(size)])
		fio.mu.RUnlock()
		return buf, nil
	}

	n, err := fio.f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// Write writes data at off, through the mmap window when the range lies
// entirely within it, else via pwrite.
func (fio *fileIO) Write(off int64, data []byte) error {
	fio.mu.RLock()
	mapped := int64(len(fio.region))
	end := off + int64(len(data))
	if off >= 0 && end <= mapped {
		copy(fio.region[off:end], data)
		fio.mu.RUnlock()
		return nil
	}
	fio.mu.RUnlock()

	_, err := fio.f.WriteAt(data, off)
	if err != nil {
		return err
	}
	fio.mu.Lock()
	if end > fio.size {
		fio.size = end
	}
	fio.mu.Unlock()
	return nil
}

// Append writes buf at the current end of file under the append mutex
// (spec.md §5's "alock"), returning the offset it was written at. Remaps
// the mmap window if the new tail now falls within MmapSize.
func (fio *fileIO) Append(buf []byte) (int64, error) {
	fio.alockMu.Lock()
	defer fio.alockMu.Unlock()

	fio.mu.Lock()
	off := fio.size
	fio.mu.Unlock()

	if _, err := fio.f.WriteAt(buf, off); err != nil {
		return 0, err
	}

	fio.mu.Lock()
	fio.size = off + int64(len(buf))
	needsRemap := fio.size <= fio.mmapSize && int64(len(fio.region)) < fio.size
	fio.mu.Unlock()

	if needsRemap {
		if err := fio.remap(); err != nil {
			return off, err
		}
	}
	return off, nil
}

// Truncate sets the file (and tracked logical size) to size, used by
// transaction abort to roll back appends beyond the pre-transaction tail.
func (fio *fileIO) Truncate(size int64) error {
	if err := fio.f.Truncate(size); err != nil {
		return err
	}
	fio.mu.Lock()
	fio.size = size
	fio.mu.Unlock()
	return fio.remap()
}

// Synchronize flushes the mapped region (if any) and, when hard is true,
// fsyncs the underlying file descriptor.
func (fio *fileIO) Synchronize(hard bool) error {
	fio.mu.RLock()
	if fio.region != nil {
		if err := fio.region.Flush(); err != nil {
			fio.mu.RUnlock()
			return err
		}
	}
	fio.mu.RUnlock()
	if hard {
		return fio.f.Sync()
	}
	return nil
}

// Refresh re-reads the file size from disk and remaps, used after another
// process or a recovery pass may have changed the file out from under this
// handle.
func (fio *fileIO) Refresh() error {
	info, err := fio.f.Stat()
	if err != nil {
		return err
	}
	fio.mu.Lock()
	fio.size = info.Size()
	fio.mu.Unlock()
	return fio.remap()
}

// Close unmaps and closes the underlying file.
func (fio *fileIO) Close() error {
	fio.mu.Lock()
	if fio.region != nil {
		fio.region.Unmap()
		fio.region = nil
	}
	fio.mu.Unlock()
	return fio.f.Close()
}
