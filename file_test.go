package corvus

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileIOWriteReadWithinMmapWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.db")
	fio, err := openFile(path, ModeWriter|ModeCreate|ModeTruncate, 1<<16)
	require.NoError(t, err)
	defer fio.Close()

	_, err = fio.Append(make([]byte, 1024))
	require.NoError(t, err)
	require.NoError(t, fio.Write(10, []byte("hello")))

	got, err := fio.Read(10, 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestFileIOWriteBeyondMmapWindowFallsThroughToPwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.db")
	// A tiny mmap window forces writes past it onto the pwrite path.
	fio, err := openFile(path, ModeWriter|ModeCreate|ModeTruncate, 8)
	require.NoError(t, err)
	defer fio.Close()

	_, err = fio.Append(make([]byte, 4096))
	require.NoError(t, err)
	require.NoError(t, fio.Write(2000, []byte("beyond-window")))

	got, err := fio.Read(2000, len("beyond-window"))
	require.NoError(t, err)
	require.Equal(t, "beyond-window", string(got))
}

func TestFileIOAppendTracksSizeAndOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.db")
	fio, err := openFile(path, ModeWriter|ModeCreate|ModeTruncate, 1<<16)
	require.NoError(t, err)
	defer fio.Close()

	off1, err := fio.Append([]byte("aaaa"))
	require.NoError(t, err)
	require.EqualValues(t, 0, off1)

	off2, err := fio.Append([]byte("bbbb"))
	require.NoError(t, err)
	require.EqualValues(t, 4, off2)

	require.EqualValues(t, 8, fio.Size())
}

func TestFileIOTruncateShrinksAndRemaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.db")
	fio, err := openFile(path, ModeWriter|ModeCreate|ModeTruncate, 1<<16)
	require.NoError(t, err)
	defer fio.Close()

	_, err = fio.Append(make([]byte, 2048))
	require.NoError(t, err)
	require.NoError(t, fio.Truncate(512))
	require.EqualValues(t, 512, fio.Size())
}

func TestFileIORefreshPicksUpExternalGrowth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.db")
	fio, err := openFile(path, ModeWriter|ModeCreate|ModeTruncate, 1<<16)
	require.NoError(t, err)
	defer fio.Close()
	_, err = fio.Append(make([]byte, 100))
	require.NoError(t, err)

	// A second handle on the same path extends the file independently.
	fio2, err := openFile(path, ModeWriter, 1<<16)
	require.NoError(t, err)
	defer fio2.Close()
	_, err = fio2.Append(make([]byte, 50))
	require.NoError(t, err)

	require.NoError(t, fio.Refresh())
	require.EqualValues(t, 150, fio.Size())
}

func TestFileIOSynchronizeSoftAndHard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.db")
	fio, err := openFile(path, ModeWriter|ModeCreate|ModeTruncate, 1<<16)
	require.NoError(t, err)
	defer fio.Close()
	_, err = fio.Append([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, fio.Synchronize(false))
	require.NoError(t, fio.Synchronize(true))
}
