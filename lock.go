// OS-level advisory file locking (spec.md §6.1 mode flags Reader/Writer/
// NoLock/TryLock).
//
// fileLock wraps flock(2) / LockFileEx with a mutex that guards the file
// handle's lifetime, the same shape as the teacher's lock.go: the mutex is
// held for the whole syscall so Fd() can't race a concurrent Close. setFile
// swaps or clears the underlying handle; a cleared handle turns Lock/Unlock
// into no-ops, used while a repair/reorganisation pass swaps file handles.
package corvus

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// LockMode selects shared (read) or exclusive (write) locking.
type LockMode int

const (
	LockShared LockMode = iota
	LockExclusive
)

// fileLock coordinates OS-level file locks with safe handle teardown.
type fileLock struct {
	mu sync.Mutex
	f  *os.File
}

// Lock acquires a shared or exclusive flock, blocking until it succeeds.
// Returns nil immediately if the handle has been cleared via setFile(nil).
func (l *fileLock) Lock(mode LockMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.lock(mode)
}

// TryLock attempts to acquire the lock non-blockingly, retrying with
// exponential backoff up to the given timeout (spec.md §6.1's TryLock mode
// flag). Used when NoLock is not set but the caller doesn't want to block
// indefinitely on contention.
func (l *fileLock) TryLock(ctx context.Context, mode LockMode, timeout time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = timeout
	bctx := backoff.WithContext(b, ctx)

	return backoff.Retry(func() error {
		err := l.tryLock(mode)
		if err != nil {
			return err
		}
		return nil
	}, bctx)
}

// Unlock releases the flock. Returns nil immediately if the handle has been
// cleared via setFile(nil).
func (l *fileLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.unlock()
}

// setFile swaps the underlying file handle. Passing nil drains any
// in-flight flock (blocks until the mutex is available) and disables
// further locking until the next setFile call with a non-nil handle.
func (l *fileLock) setFile(f *os.File) {
	l.mu.Lock()
	l.f = f
	l.mu.Unlock()
}
