package corvus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestLeafNodeEncodeDecodeRoundTrip(t *testing.T) {
	n := &LeafNode{
		ID:   1,
		Prev: 0,
		Next: 2,
		Records: []leafRecord{
			{Key: []byte("alpha"), Value: []byte("1")},
			{Key: []byte("beta"), Value: []byte("22")},
			{Key: []byte("gamma"), Value: []byte("333")},
		},
	}
	buf := n.encode()
	got, err := decodeLeafNode(n.ID, buf)
	require.NoError(t, err)

	if diff := cmp.Diff(n.Records, got.Records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, n.Prev, got.Prev)
	require.Equal(t, n.Next, got.Next)
}

func TestLeafNodeEncodeEmpty(t *testing.T) {
	n := &LeafNode{ID: 5}
	buf := n.encode()
	got, err := decodeLeafNode(5, buf)
	require.NoError(t, err)
	require.Empty(t, got.Records)
}

func TestDecodeLeafNodeTruncated(t *testing.T) {
	n := &LeafNode{ID: 1, Records: []leafRecord{{Key: []byte("k"), Value: []byte("value")}}}
	buf := n.encode()
	_, err := decodeLeafNode(1, buf[:len(buf)-2])
	require.Error(t, err)
}

func TestInnerNodeEncodeDecodeRoundTrip(t *testing.T) {
	n := &InnerNode{
		ID:   innerIDBase + 1,
		Heir: 1,
		Links: []innerLink{
			{Child: 2, Key: []byte("m")},
			{Child: 3, Key: []byte("z")},
		},
	}
	buf := n.encode()
	got, err := decodeInnerNode(n.ID, buf)
	require.NoError(t, err)
	require.Equal(t, n.Heir, got.Heir)
	if diff := cmp.Diff(n.Links, got.Links); diff != "" {
		t.Fatalf("links mismatch (-want +got):\n%s", diff)
	}
}

func TestLeafKeyAndInnerKeyDistinctPrefixes(t *testing.T) {
	lk := leafKey(1)
	ik := innerKey(innerIDBase + 1)
	require.Equal(t, byte('L'), lk[0])
	require.Equal(t, byte('I'), ik[0])
	require.NotEqual(t, string(lk), string(ik))
}

func TestTreeMetaEncodeDecodeRoundTrip(t *testing.T) {
	m := &treeMeta{
		ComparatorTag: CompareLexical,
		Psiz:          8192,
		Root:          1,
		First:         1,
		Last:          1,
		Lcnt:          1,
		Icnt:          innerIDBase,
		Count:         0,
		Bnum:          1 << 20,
	}
	buf := m.encode()
	got, err := decodeTreeMeta(buf)
	require.NoError(t, err)
	require.Equal(t, *m, *got)
}

func TestDecodeTreeMetaTruncated(t *testing.T) {
	m := &treeMeta{ComparatorTag: CompareLexical}
	buf := m.encode()
	_, err := decodeTreeMeta(buf[:len(buf)-1])
	require.Error(t, err)
}
