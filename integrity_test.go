package corvus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func seedFingerprintStore(t *testing.T) *HashStore {
	hs := openTestStore(t, HashStoreOptions{BucketNum: 16})
	require.NoError(t, hs.Set([]byte("a"), []byte("1")))
	require.NoError(t, hs.Set([]byte("b"), []byte("2")))
	require.NoError(t, hs.Set([]byte("c"), []byte("3")))
	return hs
}

func TestFingerprintStableAcrossAlgorithms(t *testing.T) {
	for _, alg := range []FingerprintAlg{AlgXXH3, AlgFNV1a, AlgBlake2b} {
		hs := seedFingerprintStore(t)
		a, err := Fingerprint(hs, alg)
		require.NoError(t, err)
		b, err := Fingerprint(hs, alg)
		require.NoError(t, err)
		require.Equal(t, a, b)
		require.NotEmpty(t, a)
	}
}

func TestFingerprintIndependentOfPhysicalLayout(t *testing.T) {
	hsA := openTestStore(t, HashStoreOptions{BucketNum: 8})
	require.NoError(t, hsA.Set([]byte("x"), []byte("1")))
	require.NoError(t, hsA.Set([]byte("y"), []byte("2")))

	hsB := openTestStore(t, HashStoreOptions{BucketNum: 64}) // different bucket count/layout
	require.NoError(t, hsB.Set([]byte("y"), []byte("2")))
	require.NoError(t, hsB.Set([]byte("x"), []byte("1")))

	fa, err := Fingerprint(hsA, AlgXXH3)
	require.NoError(t, err)
	fb, err := Fingerprint(hsB, AlgXXH3)
	require.NoError(t, err)
	require.Equal(t, fa, fb)
}

func TestVerifyDetectsMismatch(t *testing.T) {
	hs := seedFingerprintStore(t)
	want, err := Fingerprint(hs, AlgXXH3)
	require.NoError(t, err)

	ok, err := Verify(hs, AlgXXH3, want)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, hs.Set([]byte("a"), []byte("changed")))
	ok, err = Verify(hs, AlgXXH3, want)
	require.NoError(t, err)
	require.False(t, ok)
}
