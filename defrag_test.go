package corvus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// Defrag(step) with a small step count makes partial forward progress
// rather than completing the whole pass in one call.
func TestDefragIncrementalStepsMakeProgress(t *testing.T) {
	hs := openTestStore(t, HashStoreOptions{BucketNum: 32})
	const n = 100
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%04d", i)
		v := make([]byte, 128)
		require.NoError(t, hs.Set([]byte(k), v))
	}
	for i := 0; i < n-10; i++ {
		require.NoError(t, hs.Remove([]byte(fmt.Sprintf("key-%04d", i))))
	}

	before := hs.Size()
	require.NoError(t, hs.Defrag(1))
	afterOneStep := hs.Size()
	require.LessOrEqual(t, afterOneStep, before)

	require.NoError(t, hs.Defrag(0)) // finish the rest
	afterFull := hs.Size()
	require.Less(t, afterFull, before)

	for i := n - 10; i < n; i++ {
		k := fmt.Sprintf("key-%04d", i)
		_, err := hs.Get([]byte(k))
		require.NoError(t, err, "surviving key %s must resolve after incremental defrag", k)
	}
}

// A HashCursor positioned on a record that defrag later slides down stays
// correctly positioned via retargetReferences' cursor migration.
func TestDefragMigratesLiveCursor(t *testing.T) {
	hs := openTestStore(t, HashStoreOptions{BucketNum: 16})
	for i := 0; i < 30; i++ {
		v := make([]byte, 64)
		require.NoError(t, hs.Set([]byte(fmt.Sprintf("key-%04d", i)), v))
	}
	// Remove the front so there's free space for later records to slide into.
	for i := 0; i < 20; i++ {
		require.NoError(t, hs.Remove([]byte(fmt.Sprintf("key-%04d", i))))
	}

	c := hs.NewCursor()
	defer c.Close()
	_, ok, err := c.JumpKey([]byte("key-0025"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, hs.Defrag(0))

	// The migrated cursor still reads the record at its position.
	err = c.Accept(funcVisitor{full: func(k, v []byte) VisitResult {
		require.Equal(t, "key-0025", string(k))
		return VisitResult{Action: ActionNOP}
	}}, false)
	require.NoError(t, err)

	v, ok, err := c.JumpKey([]byte("key-0025"))
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, v)
}
