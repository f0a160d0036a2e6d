package corvus

import (
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"
)

func TestIdentityCompressorRoundTrip(t *testing.T) {
	c := identityCompressor{}
	fuzzer := fuzz.New().NilChance(0).NumElements(0, 256)
	for i := 0; i < 100; i++ {
		var data []byte
		fuzzer.Fuzz(&data)
		got, err := c.Decompress(c.Compress(data))
		require.NoError(t, err)
		require.Equal(t, data, got)
	}
}

func TestZstdCompressorRoundTrip(t *testing.T) {
	c := newZstdCompressor()
	fuzzer := fuzz.New().NilChance(0).NumElements(0, 4096)
	for i := 0; i < 50; i++ {
		var data []byte
		fuzzer.Fuzz(&data)
		got, err := c.Decompress(c.Compress(data))
		require.NoError(t, err)
		require.Equal(t, data, got)
	}
}

func TestCompressorTagsDiffer(t *testing.T) {
	require.NotEqual(t, identityCompressor{}.Tag(), newZstdCompressor().Tag())
}

func TestModuleChecksumDiffersAcrossCompressors(t *testing.T) {
	a := moduleChecksum(identityCompressor{})
	b := moduleChecksum(newZstdCompressor())
	require.NotEqual(t, a, b)
}

func TestModuleChecksumStable(t *testing.T) {
	a := moduleChecksum(identityCompressor{})
	b := moduleChecksum(identityCompressor{})
	require.Equal(t, a, b)
}
