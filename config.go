// Config: the human-editable tuning surface for a store, loaded from a
// JWCC (JSON-with-comments) file via tailscale/hujson so an operator can
// annotate tuning knobs in place instead of hand-parsing a changelog
// (SPEC_FULL.md §A.3, pattern grounded on calvinalkan-agent-task's own
// config file loader).
package corvus

import (
	"os"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/tailscale/hujson"
)

// Config is the on-disk tuning file shape. Zero values pass through
// ToHashStoreOptions unchanged and are replaced with the engine's defaults
// when OpenHashStore opens the store.
type Config struct {
	BucketNum       uint64 `json:"bucket_num"`
	AlignmentPower  byte   `json:"alignment_power"`
	FreeBlockPower  byte   `json:"free_block_power"`
	LinearChain     bool   `json:"linear_chain"`
	PerRecordCompress bool `json:"per_record_compress"`
	MmapSizeBytes   int64  `json:"mmap_size_bytes"`
	AutoTransaction bool   `json:"auto_transaction"`
	NoFileLock      bool   `json:"no_file_lock"`
	Compressor      string `json:"compressor"` // "identity" | "zstd"
	FragmentUnit    int    `json:"fragment_unit"`
	DefragMaxSteps  int    `json:"defrag_max_steps"`

	// BPlusTree tuning, used only when a tree is opened on top.
	PageSize       int    `json:"page_size"`
	Comparator     string `json:"comparator"` // "lexical" | "decimal" | "lexical_desc" | "decimal_desc"
	CompressNodes  bool   `json:"compress_nodes"`

	// Logger receives lifecycle events (open, recovery, reorganize, defrag).
	// Not populated from the JWCC file itself; set it after LoadConfigFile
	// returns. The zero value logs nothing.
	Logger zerolog.Logger `json:"-"`
}

// LoadConfigFile reads and parses a JWCC tuning file at path, tolerating
// the trailing commas and `//`/`/* */` comments hujson accepts beyond
// strict JSON.
func LoadConfigFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, newErr("LoadConfigFile", KindNoRepos, err)
	}
	std, err := hujson.Standardize(raw)
	if err != nil {
		return nil, newErr("LoadConfigFile", KindInvalid, err)
	}
	var c Config
	if err := json.Unmarshal(std, &c); err != nil {
		return nil, newErr("LoadConfigFile", KindInvalid, err)
	}
	return &c, nil
}

// ToHashStoreOptions converts the loaded tuning file into HashStoreOptions.
// Fields are copied as they are, except that an unknown or empty
// compressor name selects the identity compressor; zero values are left
// for OpenHashStore to default. Writable and Create are not set.
func (c *Config) ToHashStoreOptions() HashStoreOptions {
	var opts byte
	if c.LinearChain {
		opts |= OptLinearChain
	}
	if c.PerRecordCompress {
		opts |= OptPerRecordCmp
	}

	var compressor Compressor
	switch c.Compressor {
	case "zstd":
		compressor = newZstdCompressor()
	default:
		compressor = identityCompressor{}
	}

	return HashStoreOptions{
		BucketNum:  c.BucketNum,
		Apow:       c.AlignmentPower,
		Fpow:       c.FreeBlockPower,
		Opts:       opts,
		MmapSize:   c.MmapSizeBytes,
		AutoTxn:    c.AutoTransaction,
		NoLock:     c.NoFileLock,
		Compressor: compressor,
		FrgUnit:    c.FragmentUnit,
		DfrgMax:    c.DefragMaxSteps,
		Logger:     c.Logger,
	}
}

// comparatorTag maps the config's human-readable comparator name to its
// on-disk tag (comparator.go).
func (c *Config) comparatorTag() byte {
	switch c.Comparator {
	case "decimal":
		return CompareDecimal
	case "lexical_desc":
		return CompareLexicalDesc
	case "decimal_desc":
		return CompareDecimalDesc
	default:
		return CompareLexical
	}
}
