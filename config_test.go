package corvus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// JWCC: trailing commas and both comment styles are valid, unlike strict JSON.
const sampleConfigJWCC = `{
  // bucket sizing
  "bucket_num": 1024,
  "alignment_power": 4,
  "free_block_power": 12,
  "linear_chain": true,
  "mmap_size_bytes": 65536,
  "compressor": "zstd",
  "comparator": "decimal_desc", /* ordered index tuning */
  "fragment_unit": 8,
  "defrag_max_steps": 200,
}
`

func TestLoadConfigFileParsesJWCC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.jwcc")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfigJWCC), 0644))

	c, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.EqualValues(t, 1024, c.BucketNum)
	require.EqualValues(t, 4, c.AlignmentPower)
	require.True(t, c.LinearChain)
	require.Equal(t, "zstd", c.Compressor)
	require.Equal(t, "decimal_desc", c.Comparator)
	require.Equal(t, 200, c.DefragMaxSteps)
}

func TestLoadConfigFileMissingPath(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.jwcc"))
	require.Error(t, err)
}

func TestConfigToHashStoreOptionsAppliesOptsAndCompressor(t *testing.T) {
	c := &Config{LinearChain: true, PerRecordCompress: true, Compressor: "zstd", BucketNum: 512}
	opts := c.ToHashStoreOptions()
	require.EqualValues(t, 512, opts.BucketNum)
	require.NotZero(t, opts.Opts&OptLinearChain)
	require.NotZero(t, opts.Opts&OptPerRecordCmp)
	require.Equal(t, byte(zstdTag), opts.Compressor.Tag())
}

func TestConfigToHashStoreOptionsDefaultsToIdentityCompressor(t *testing.T) {
	c := &Config{}
	opts := c.ToHashStoreOptions()
	require.Equal(t, byte(identityTag), opts.Compressor.Tag())
}

func TestConfigComparatorTagMapping(t *testing.T) {
	require.Equal(t, byte(CompareLexical), (&Config{}).comparatorTag())
	require.Equal(t, byte(CompareDecimal), (&Config{Comparator: "decimal"}).comparatorTag())
	require.Equal(t, byte(CompareLexicalDesc), (&Config{Comparator: "lexical_desc"}).comparatorTag())
	require.Equal(t, byte(CompareDecimalDesc), (&Config{Comparator: "decimal_desc"}).comparatorTag())
}
