package corvus

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLockFile(t *testing.T) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFileLockExclusiveThenUnlock(t *testing.T) {
	f := newTestLockFile(t)
	l := &fileLock{}
	l.setFile(f)

	require.NoError(t, l.Lock(LockExclusive))
	require.NoError(t, l.Unlock())
}

func TestFileLockNilHandleIsNoop(t *testing.T) {
	l := &fileLock{}
	require.NoError(t, l.Lock(LockExclusive))
	require.NoError(t, l.Unlock())
}

func TestFileLockTryLockFailsOnContentionThenSucceedsAfterRelease(t *testing.T) {
	f1 := newTestLockFile(t)
	// Same file, fresh descriptor, for the second lock's own fileLock.
	f2, err := os.OpenFile(f1.Name(), os.O_RDWR, 0644)
	require.NoError(t, err)
	defer f2.Close()

	l1 := &fileLock{}
	l1.setFile(f1)
	l2 := &fileLock{}
	l2.setFile(f2)

	require.NoError(t, l1.Lock(LockExclusive))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = l2.TryLock(ctx, LockExclusive, 150*time.Millisecond)
	require.Error(t, err, "exclusive lock held elsewhere should prevent a second exclusive TryLock")

	require.NoError(t, l1.Unlock())

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, l2.TryLock(ctx2, LockExclusive, time.Second))
	require.NoError(t, l2.Unlock())
}

func TestFileLockSetFileNilDisablesLocking(t *testing.T) {
	f := newTestLockFile(t)
	l := &fileLock{}
	l.setFile(f)
	require.NoError(t, l.Lock(LockExclusive))
	require.NoError(t, l.Unlock())

	l.setFile(nil)
	require.NoError(t, l.Lock(LockExclusive))
	require.NoError(t, l.Unlock())
}
