package corvus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	const apow = 3
	for _, linear := range []bool{true, false} {
		for _, w := range []int{4, 6} {
			rec := record{
				Left:  unscaleOffset(17, apow),
				Right: 0,
				Key:   []byte("widget-key"),
				Value: []byte("widget-value-payload"),
				Pad:   8,
			}
			if !linear {
				rec.Right = unscaleOffset(42, apow)
			}

			buf := encodeRecord(rec, apow, w, linear)
			require.Equal(t, recordSize(len(rec.Key), len(rec.Value), rec.Pad, w, linear), len(buf))

			got, n, err := decodeRecord(buf, apow, w, linear)
			require.NoError(t, err)
			require.Equal(t, len(buf), n)

			if diff := cmp.Diff(rec, got); diff != "" {
				t.Fatalf("record mismatch (-want +got):\n%s", diff)
			}
		}
	}
}

func TestDecodeRecordTruncatedHeader(t *testing.T) {
	_, _, err := decodeRecord([]byte{0xCC}, 3, 4, true)
	require.Error(t, err)
}

func TestDecodeRecordTruncatedBody(t *testing.T) {
	rec := record{Key: []byte("k"), Value: []byte("value-too-long")}
	buf := encodeRecord(rec, 3, 4, true)
	_, _, err := decodeRecord(buf[:len(buf)-3], 3, 4, true)
	require.Error(t, err)
}

func TestLargePadUsesWideMarker(t *testing.T) {
	rec := record{Key: []byte("k"), Value: []byte("v"), Pad: 300}
	buf := encodeRecord(rec, 3, 4, true)
	got, _, err := decodeRecord(buf, 3, 4, true)
	require.NoError(t, err)
	require.Equal(t, 300, got.Pad)
}

func TestFreeBlockHeaderRoundTrip(t *testing.T) {
	buf := encodeFreeBlockHeader(unscaleOffset(5, 3), 3, 4)
	require.True(t, isFreeBlockAt(buf))
	size, err := decodeFreeBlockSize(buf, 3, 4)
	require.NoError(t, err)
	require.Equal(t, unscaleOffset(5, 3), size)
}

func TestIsFreeBlockAtRejectsLiveRecord(t *testing.T) {
	rec := record{Key: []byte("k"), Value: []byte("v")}
	buf := encodeRecord(rec, 3, 4, true)
	require.False(t, isFreeBlockAt(buf))
}

func TestAlignUp(t *testing.T) {
	require.Equal(t, 8, alignUp(1, 3))
	require.Equal(t, 8, alignUp(8, 3))
	require.Equal(t, 16, alignUp(9, 3))
	require.Equal(t, 0, alignUp(0, 3))
}
