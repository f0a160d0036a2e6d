// Bucket hashing and the module checksum.
//
// spec.md §4.1 fixes a 64-bit hash as the bucket hash and requires a 32-bit
// "pivot" fold of the same hash to order intra-bucket chains. Both come from
// github.com/spaolacci/murmur3's MurmurHash3 64-bit variant (pulled in
// indirectly by erigon, the largest pack repo) rather than a hand-rolled
// port — the teacher's own hash.go pattern of "pick a well-known hash
// library per algorithm slot" is kept, just with the one algorithm the spec
// pins down instead of a selectable set (selectable hashing moves to
// integrity.go's fingerprint tool, where the spec leaves the choice open).
// Kyoto Cabinet's own hashdb used MurmurHash2; murmur3.Sum64 is MurmurHash3,
// a newer revision of the same family with better avalanche behaviour —
// bucket assignment only needs a well-distributed 64-bit hash, not bit-exact
// parity with the original, so the substitution is internally consistent.
package corvus

import (
	"github.com/spaolacci/murmur3"
)

// bucketHash returns the 64-bit MurmurHash3 of key, used for
// bucket = hash mod bnum.
func bucketHash(key []byte) uint64 {
	return murmur3.Sum64(key)
}

// pivotFold folds a 64-bit hash into the 32-bit pivot spec.md uses to order
// a bucket's chain as a binary search tree (tree-chain mode). Folding XORs
// the high and low halves, the same fold Kyoto Cabinet's hashdb applies to
// its own bucket hash.
func pivotFold(h uint64) uint32 {
	return uint32(h>>32) ^ uint32(h)
}

// moduleChecksum computes the header's module checksum (spec.md §4.1): the
// configured Compressor compresses a fixed seed string, the result is
// MurmurHashed, and the hash is folded into one byte. Opening a database
// with a different compressor produces a different checksum and is
// rejected — this doubles as a compressor-fingerprint guard.
func moduleChecksum(c Compressor) byte {
	const seed = "corvus-module-checksum-seed-v1"
	compressed := c.Compress([]byte(seed))
	h := murmur3.Sum64(compressed)
	b0 := byte(h)
	b1 := byte(h >> 8)
	b2 := byte(h >> 16)
	b3 := byte(h >> 24)
	return b0 ^ b1 ^ b2 ^ b3
}
