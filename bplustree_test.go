package corvus

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestTree(t *testing.T, hs *HashStore, tag byte, psiz int) *BPlusTree {
	t.Helper()
	bt, err := OpenBPlusTree(hs, tag, psiz, nil, nil, false)
	require.NoError(t, err)
	return bt
}

func treeSet(t *testing.T, bt *BPlusTree, key, value []byte) {
	t.Helper()
	err := bt.Accept(key, funcVisitor{
		full:  func(_, _ []byte) VisitResult { return VisitResult{Action: ActionReplace, Value: value} },
		empty: func(_ []byte) VisitResult { return VisitResult{Action: ActionReplace, Value: value} },
	}, true)
	require.NoError(t, err)
}

func treeGet(t *testing.T, bt *BPlusTree, key []byte) (string, bool) {
	t.Helper()
	var got string
	var found bool
	err := bt.Accept(key, funcVisitor{
		full: func(_, v []byte) VisitResult {
			got = string(v)
			found = true
			return VisitResult{Action: ActionNOP}
		},
		empty: func(_ []byte) VisitResult { return VisitResult{Action: ActionNOP} },
	}, false)
	require.NoError(t, err)
	return got, found
}

func treeRemove(t *testing.T, bt *BPlusTree, key []byte) {
	t.Helper()
	err := bt.Accept(key, funcVisitor{
		full:  func(_, _ []byte) VisitResult { return VisitResult{Action: ActionRemove} },
		empty: func(_ []byte) VisitResult { return VisitResult{Action: ActionNOP} },
	}, true)
	require.NoError(t, err)
}

// S2: keys inserted out of order come back in comparator order under
// Iterate and under forward cursor traversal.
func TestBPlusTreeOrderedIteration(t *testing.T) {
	hs := openTestStore(t, HashStoreOptions{BucketNum: 32})
	bt := openTestTree(t, hs, CompareLexical, 0)

	order := []string{"pear", "apple", "mango", "banana", "kiwi", "fig"}
	for _, k := range order {
		treeSet(t, bt, []byte(k), []byte("v-"+k))
	}

	var got []string
	err := bt.Iterate(funcVisitor{full: func(k, v []byte) VisitResult {
		got = append(got, string(k))
		return VisitResult{Action: ActionNOP}
	}}, false)
	require.NoError(t, err)
	require.Equal(t, []string{"apple", "banana", "fig", "kiwi", "mango", "pear"}, got)

	c := bt.NewCursor()
	k, v, ok, err := c.Jump()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "apple", string(k))
	require.Equal(t, "v-apple", string(v))

	var fwd []string
	for ok {
		fwd = append(fwd, string(k))
		k, v, ok, err = c.Step()
		require.NoError(t, err)
		_ = v
	}
	require.Equal(t, got, fwd)
}

func TestBPlusTreeCursorBackward(t *testing.T) {
	hs := openTestStore(t, HashStoreOptions{BucketNum: 32})
	bt := openTestTree(t, hs, CompareLexical, 0)
	for _, k := range []string{"a", "b", "c", "d"} {
		treeSet(t, bt, []byte(k), []byte(k))
	}

	c := bt.NewCursor()
	k, _, ok, err := c.JumpBack()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "d", string(k))

	var back []string
	for ok {
		back = append(back, string(k))
		k, _, ok, err = c.StepBack()
		require.NoError(t, err)
	}
	require.Equal(t, []string{"d", "c", "b", "a"}, back)
}

func TestBPlusTreeCursorJumpKey(t *testing.T) {
	hs := openTestStore(t, HashStoreOptions{BucketNum: 32})
	bt := openTestTree(t, hs, CompareLexical, 0)
	for _, k := range []string{"b", "d", "f", "h"} {
		treeSet(t, bt, []byte(k), []byte(k))
	}

	c := bt.NewCursor()
	// "e" doesn't exist; JumpKey should land on the first key >= "e", i.e. "f".
	v, ok, err := c.JumpKey([]byte("e"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "f", string(v))

	nk, _, ok, err := c.Step()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "h", string(nk))
}

// Stale-leaf re-resolve: a cursor positioned on a key that's since been
// removed falls back to a fresh search (cursor.go's resolve()).
func TestBPlusTreeCursorResolvesAfterMutation(t *testing.T) {
	hs := openTestStore(t, HashStoreOptions{BucketNum: 32})
	bt := openTestTree(t, hs, CompareLexical, 0)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		treeSet(t, bt, []byte(k), []byte(k))
	}

	c := bt.NewCursor()
	v, ok, err := c.JumpKey([]byte("c"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c", string(v))

	treeRemove(t, bt, []byte("c"))

	// The cursor's cached position no longer holds "c"; Step must re-search
	// from the root and land on the next surviving key.
	nk, _, ok, err := c.Step()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "d", string(nk))
}

// S6: a large key set forces repeated leaf splits under one inner root
// with a small page size; all keys stay retrievable and ordered iteration
// survives.
func TestBPlusTreeSplitStability(t *testing.T) {
	hs := openTestStore(t, HashStoreOptions{BucketNum: 64})
	bt := openTestTree(t, hs, CompareLexical, 1024)

	const n = 1000
	perm := rand.New(rand.NewSource(42)).Perm(n)
	for _, i := range perm {
		k := fmt.Sprintf("key-%05d", i)
		treeSet(t, bt, []byte(k), []byte(fmt.Sprintf("value-%d", i)))
	}
	require.EqualValues(t, n, bt.Count())

	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%05d", i)
		v, found := treeGet(t, bt, []byte(k))
		require.True(t, found, "key %s missing after splits", k)
		require.Equal(t, fmt.Sprintf("value-%d", i), v)
	}

	var got []string
	err := bt.Iterate(funcVisitor{full: func(k, v []byte) VisitResult {
		got = append(got, string(k))
		return VisitResult{Action: ActionNOP}
	}}, false)
	require.NoError(t, err)
	require.Len(t, got, n)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i], "iteration order broken after splits")
	}
}

// S6 continued: deleting most keys empties most leaves and forces
// collapseLeaf merges; survivors stay retrievable and iteration stays
// ordered.
func TestBPlusTreeMergeStability(t *testing.T) {
	hs := openTestStore(t, HashStoreOptions{BucketNum: 64})
	bt := openTestTree(t, hs, CompareLexical, 1024)

	const n = 1000
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%05d", i)
		treeSet(t, bt, []byte(k), []byte(fmt.Sprintf("value-%d", i)))
	}

	// Remove 99% of keys, scattered rather than a contiguous run. Each leaf
	// holds a run of about 25 consecutive keys, so most leaves empty and
	// collapse.
	for i := 0; i < n; i++ {
		if i%100 != 0 {
			treeRemove(t, bt, []byte(fmt.Sprintf("key-%05d", i)))
		}
	}
	require.EqualValues(t, n/100, bt.Count())

	var got []string
	err := bt.Iterate(funcVisitor{full: func(k, v []byte) VisitResult {
		got = append(got, string(k))
		return VisitResult{Action: ActionNOP}
	}}, false)
	require.NoError(t, err)
	require.Len(t, got, n/100)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i], "iteration order broken after merges")
	}
	for i := 0; i < n; i += 100 {
		k := fmt.Sprintf("key-%05d", i)
		_, found := treeGet(t, bt, []byte(k))
		require.True(t, found, "surviving key %s lost during collapse", k)
	}
}

func TestBPlusTreeCloseFlushesAndReopens(t *testing.T) {
	hs := openTestStore(t, HashStoreOptions{BucketNum: 32})
	bt := openTestTree(t, hs, CompareLexical, 0)
	for _, k := range []string{"a", "b", "c"} {
		treeSet(t, bt, []byte(k), []byte(k))
	}
	require.NoError(t, bt.Close())

	bt2, err := OpenBPlusTree(hs, CompareLexical, 0, nil, nil, false)
	require.NoError(t, err)
	v, found := treeGet(t, bt2, []byte("b"))
	require.True(t, found)
	require.Equal(t, "b", v)
	require.EqualValues(t, 3, bt2.Count())
}

func TestBPlusTreeDecimalComparatorOrdersNumerically(t *testing.T) {
	hs := openTestStore(t, HashStoreOptions{BucketNum: 32})
	bt := openTestTree(t, hs, CompareDecimal, 0)

	for _, k := range []string{"10", "9", "100", "2"} {
		treeSet(t, bt, []byte(k), []byte(k))
	}

	var got []string
	err := bt.Iterate(funcVisitor{full: func(k, v []byte) VisitResult {
		got = append(got, string(k))
		return VisitResult{Action: ActionNOP}
	}}, false)
	require.NoError(t, err)
	require.Equal(t, []string{"2", "9", "10", "100"}, got)
}

// shortestFirstComparator orders keys by length, shortest first, falling
// back to lexical order for equal-length keys.
type shortestFirstComparator struct{}

func (shortestFirstComparator) Tag() byte { return CompareCustom }
func (shortestFirstComparator) Compare(a, b []byte) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

func TestBPlusTreeCustomComparatorVisibleAfterRegister(t *testing.T) {
	hs := openTestStore(t, HashStoreOptions{BucketNum: 32})
	hs.RegisterComparator(CompareCustom, shortestFirstComparator{})

	bt := openTestTree(t, hs, CompareCustom, 0)
	for _, k := range []string{"ccc", "a", "bb"} {
		treeSet(t, bt, []byte(k), []byte(k))
	}

	var got []string
	err := bt.Iterate(funcVisitor{full: func(k, v []byte) VisitResult {
		got = append(got, string(k))
		return VisitResult{Action: ActionNOP}
	}}, false)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "bb", "ccc"}, got)
}

func TestBPlusTreeScanParallelVisitsAllLeaves(t *testing.T) {
	hs := openTestStore(t, HashStoreOptions{BucketNum: 32})
	bt := openTestTree(t, hs, CompareLexical, 256)
	const n = 300
	for i := 0; i < n; i++ {
		treeSet(t, bt, []byte(fmt.Sprintf("key-%04d", i)), []byte("v"))
	}

	var cv countingVisitor
	err := bt.ScanParallel(context.Background(), &cv, 4)
	require.NoError(t, err)
	require.Equal(t, n, cv.count())
}
