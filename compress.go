// Compressor collaborator (spec.md §6.2).
//
// Concrete plug-in compressors (ZLIB/LZO/LZMA) and the Arcfour cipher are
// deliberately out of scope per spec.md §1 — they are consumed only through
// this interface. corvus ships two concrete implementations: identityCompressor
// (default, a 2-byte-tagged passthrough so the framing is still well formed)
// and a zstd-backed one for the "compressed leaves/inner nodes" option
// (spec.md §4.2 TCOMPRESS), reusing the teacher's exact approach to zstd
// encoder/decoder lifecycle (shared, concurrency-safe, constructed once).
package corvus

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compressor compresses and decompresses byte slices. Implementations must
// satisfy decompress(compress(x)) == x (spec.md §8 property 8).
type Compressor interface {
	Compress(data []byte) []byte
	Decompress(data []byte) ([]byte, error)
	// Tag identifies the compressor on disk so a mismatched Compressor at
	// open time can be detected via the module checksum (spec.md §4.1).
	Tag() byte
}

// identityCompressor is the default no-op compressor: a 2-byte tag prefix
// distinguishes it from compressed payloads so callers can't silently mix
// compressors within one process without the checksum guard catching it.
type identityCompressor struct{}

const identityTag = 0x00

func (identityCompressor) Tag() byte { return identityTag }

func (identityCompressor) Compress(data []byte) []byte {
	out := make([]byte, 0, len(data)+2)
	out = append(out, identityTag, 0x00)
	return append(out, data...)
}

func (identityCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("identity: truncated payload")
	}
	return data[2:], nil
}

// zstdCompressor compresses with zstd at the fastest encoder level: encoding
// runs on every write-path record (hot), decoding only on read (cold) — the
// same asymmetry the teacher's compress.go documents and tunes for.
type zstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

const zstdTag = 0x01

// newZstdCompressor constructs a shared, concurrency-safe zstd encoder and
// decoder pair. Both are documented by klauspost/compress as safe for
// concurrent use, so one instance serves the whole store.
func newZstdCompressor() *zstdCompressor {
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	dec, _ := zstd.NewReader(nil)
	return &zstdCompressor{enc: enc, dec: dec}
}

func (z *zstdCompressor) Tag() byte { return zstdTag }

func (z *zstdCompressor) Compress(data []byte) []byte {
	return z.enc.EncodeAll(data, make([]byte, 0, len(data)))
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	return z.dec.DecodeAll(data, nil)
}
