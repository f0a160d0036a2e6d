// Fingerprint/Verify: an out-of-band integrity tool for a closed or
// read-only-opened store, letting a caller detect silent corruption
// between backups without re-decoding every record (SPEC_FULL.md §C/§B).
//
// Mirrors jpl-au-folio's hash.go pattern of selecting among several
// well-known hash algorithms behind one small enum, repurposed here since
// spec.md fixes the bucket hash algorithm to MurmurHash2 and leaves no
// selectable-hash slot in the core engine itself.
package corvus

import (
	"encoding/hex"
	"hash/fnv"

	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// FingerprintAlg selects the hash algorithm Fingerprint uses.
type FingerprintAlg int

const (
	AlgXXH3 FingerprintAlg = iota
	AlgFNV1a
	AlgBlake2b
)

// Fingerprint computes a hex digest over every live key/value pair in hs,
// visited in file order, so two stores with identical contents produce
// identical fingerprints regardless of their physical layout (free-block
// placement, defrag history).
func Fingerprint(hs *HashStore, alg FingerprintAlg) (string, error) {
	switch alg {
	case AlgFNV1a:
		h := fnv.New128a()
		err := hs.Iterate(funcVisitor{full: func(k, v []byte) VisitResult {
			h.Write(k)
			h.Write([]byte{0})
			h.Write(v)
			h.Write([]byte{0})
			return VisitResult{Action: ActionNOP}
		}}, false)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	case AlgBlake2b:
		h, err := blake2b.New256(nil)
		if err != nil {
			return "", err
		}
		err = hs.Iterate(funcVisitor{full: func(k, v []byte) VisitResult {
			h.Write(k)
			h.Write([]byte{0})
			h.Write(v)
			h.Write([]byte{0})
			return VisitResult{Action: ActionNOP}
		}}, false)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	default:
		acc := xxh3.New()
		err := hs.Iterate(funcVisitor{full: func(k, v []byte) VisitResult {
			acc.Write(k)
			acc.Write([]byte{0})
			acc.Write(v)
			acc.Write([]byte{0})
			return VisitResult{Action: ActionNOP}
		}}, false)
		if err != nil {
			return "", err
		}
		sum := acc.Sum128().Bytes()
		return hex.EncodeToString(sum[:]), nil
	}
}

// Verify recomputes want's fingerprint algorithm against hs and reports
// whether the stores agree, without needing the other store open.
func Verify(hs *HashStore, alg FingerprintAlg, want string) (bool, error) {
	got, err := Fingerprint(hs, alg)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
