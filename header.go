// The fixed 64-byte file header (spec.md §4.1, on-disk layout §6.4).
//
//	0..4    "KC\n" magic
//	4       libver     5       librev     6       fmtver     7       chksum
//	8       type       9       apow      10       fpow      11       opts
//	16..24  bnum (big-endian u64)
//	24      flags
//	32..40  count (u64)
//	40..48  logical-size (u64)
//	48..64  opaque (16 bytes of caller-defined data)
package corvus

import (
	"bytes"
	"encoding/binary"
)

// HeaderSize is the fixed on-disk header size.
const HeaderSize = 64

var headerMagic = [4]byte{'K', 'C', '\n', 0}

// Option flags (byte 11), spec.md §3 Header.
const (
	Opt32BitAddr    = 1 << 0 // 4-byte bucket offsets instead of 6-byte
	OptLinearChain  = 1 << 1 // linear chain instead of pivot-ordered tree
	OptPerRecordCmp = 1 << 2 // per-record compression
)

// Status flags (byte 24), spec.md §3 Header.
const (
	FlagOpen  = 1 << 0 // FOPEN: set while writer handle is open
	FlagFatal = 1 << 1 // FFATAL: an I/O error left the store in an unknown state
)

// DB type tags (byte 8).
const (
	TypeHash = 0
	TypeTree = 1
)

const libVersion = 1
const libRevision = 0
const fmtVersion = 1

// Header is the decoded form of the file header, kept in memory and
// rewritten on every structural mutation (count/size changes, flag flips).
type Header struct {
	LibVer      byte
	LibRev      byte
	FmtVer      byte
	Checksum    byte
	DBType      byte
	Apow        byte // alignment power: records align to 1<<Apow bytes
	Fpow        byte // free-block-pool power: pool capacity is 1<<Fpow
	Opts        byte
	BucketNum   uint64
	Flags       byte
	Count       uint64 // live record count
	LogicalSize int64  // logical end of the record region
	Opaque      [16]byte
}

// addrWidth returns the on-disk width, in bytes, of a bucket/chain-link
// offset: 4 bytes under Opt32BitAddr, else 6 (spec.md §3 HashBucket).
func (h *Header) addrWidth() int {
	if h.Opts&Opt32BitAddr != 0 {
		return 4
	}
	return 6
}

func (h *Header) linearChain() bool { return h.Opts&OptLinearChain != 0 }

// encode serialises the header to exactly HeaderSize bytes.
func (h *Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], headerMagic[:])
	buf[4] = h.LibVer
	buf[5] = h.LibRev
	buf[6] = h.FmtVer
	buf[7] = h.Checksum
	buf[8] = h.DBType
	buf[9] = h.Apow
	buf[10] = h.Fpow
	buf[11] = h.Opts
	binary.BigEndian.PutUint64(buf[16:24], h.BucketNum)
	buf[24] = h.Flags
	binary.BigEndian.PutUint64(buf[32:40], h.Count)
	binary.BigEndian.PutUint64(buf[40:48], uint64(h.LogicalSize))
	copy(buf[48:64], h.Opaque[:])
	return buf
}

// decodeHeader parses a HeaderSize-byte buffer into a Header, validating
// the magic and that the module checksum matches the given Compressor.
func decodeHeader(buf []byte, c Compressor) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, newErr("decodeHeader", KindBroken, ErrCorruptHeader)
	}
	if !bytes.Equal(buf[0:3], headerMagic[0:3]) {
		return nil, newErr("decodeHeader", KindBroken, ErrCorruptHeader)
	}
	h := &Header{
		LibVer:   buf[4],
		LibRev:   buf[5],
		FmtVer:   buf[6],
		Checksum: buf[7],
		DBType:   buf[8],
		Apow:     buf[9],
		Fpow:     buf[10],
		Opts:     buf[11],
	}
	h.BucketNum = binary.BigEndian.Uint64(buf[16:24])
	h.Flags = buf[24]
	h.Count = binary.BigEndian.Uint64(buf[32:40])
	h.LogicalSize = int64(binary.BigEndian.Uint64(buf[40:48]))
	copy(h.Opaque[:], buf[48:64])

	if c != nil && h.Checksum != moduleChecksum(c) {
		return nil, newErr("decodeHeader", KindBroken, ErrChecksum)
	}
	return h, nil
}

// bucketTableSize returns the byte size of the bucket array that follows
// the header, given the configured bucket count and address width.
func (h *Header) bucketTableSize() int64 {
	return int64(h.BucketNum) * int64(h.addrWidth())
}

// recordRegionStart returns the file offset where the first record may
// live: header + bucket table + free-block pool serialisation area.
func (h *Header) recordRegionStart(poolAreaSize int64) int64 {
	return HeaderSize + h.bucketTableSize() + poolAreaSize
}

// bucketArrayStart returns the file offset of bucket[0], the start of the
// region a transaction must guard: bucket heads and chain child pointers
// both live at or after this offset, ahead of recordRegionStart.
func (h *Header) bucketArrayStart() int64 {
	return HeaderSize
}
