// Comparator collaborator (spec.md §6.3, §4.2), one of
// {lexical, decimal, lexical-desc, decimal-desc, custom}.
package corvus

import (
	"bytes"
	"strconv"
)

// Comparator orders two keys. Negative means a < b, zero a == b, positive
// a > b — the same three-way contract as bytes.Compare.
type Comparator interface {
	Compare(a, b []byte) int
	// Tag is the byte stored in the B+-tree metadata record (spec.md §6.6)
	// identifying this comparator so a reopened tree uses the same order.
	Tag() byte
}

// Comparator tags, spec.md §6.6.
const (
	CompareLexical     = 0x10
	CompareDecimal     = 0x11
	CompareLexicalDesc = 0x18
	CompareDecimalDesc = 0x19
	CompareCustom      = 0xFF
)

type lexicalComparator struct{}

func (lexicalComparator) Compare(a, b []byte) int { return bytes.Compare(a, b) }
func (lexicalComparator) Tag() byte               { return CompareLexical }

type lexicalDescComparator struct{}

func (lexicalDescComparator) Compare(a, b []byte) int { return bytes.Compare(b, a) }
func (lexicalDescComparator) Tag() byte               { return CompareLexicalDesc }

type decimalComparator struct{}

func (decimalComparator) Tag() byte { return CompareDecimal }

func (decimalComparator) Compare(a, b []byte) int {
	return decimalCompare(a, b)
}

type decimalDescComparator struct{}

func (decimalDescComparator) Tag() byte { return CompareDecimalDesc }

func (decimalDescComparator) Compare(a, b []byte) int {
	return decimalCompare(b, a)
}

// decimalCompare parses an optional leading sign, an integer part, and up
// to 16 fractional digits, comparing numerically and falling back to a
// lexical compare when the numeric values are equal (spec.md §4.2).
func decimalCompare(a, b []byte) int {
	av, aok := parseDecimal(a)
	bv, bok := parseDecimal(b)
	if aok && bok {
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return bytes.Compare(a, b)
		}
	}
	return bytes.Compare(a, b)
}

// parseDecimal parses a signed decimal number with up to 16 fractional
// digits into a float64. Returns ok=false if the input isn't a valid
// decimal, in which case callers fall back to lexical order.
func parseDecimal(b []byte) (float64, bool) {
	s := string(b)
	if s == "" {
		return 0, false
	}
	neg := false
	i := 0
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		i = 1
	}
	dot := -1
	for j := i; j < len(s); j++ {
		if s[j] == '.' {
			if dot >= 0 {
				return 0, false
			}
			dot = j
			continue
		}
		if s[j] < '0' || s[j] > '9' {
			return 0, false
		}
	}
	if i >= len(s) {
		return 0, false
	}

	var intPart, fracPart string
	if dot >= 0 {
		intPart = s[i:dot]
		fracPart = s[dot+1:]
		if len(fracPart) > 16 {
			fracPart = fracPart[:16]
		}
	} else {
		intPart = s[i:]
	}

	var iv int64
	if intPart != "" {
		v, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return 0, false
		}
		iv = v
	}
	fv := 0.0
	if fracPart != "" {
		v, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, false
		}
		fv = float64(v)
		for k := 0; k < len(fracPart); k++ {
			fv /= 10
		}
	}
	out := float64(iv) + fv
	if neg {
		out = -out
	}
	return out, true
}

// comparatorRegistry resolves a comparator Tag byte to an implementation,
// including custom comparators registered at runtime (SPEC_FULL.md §C.4).
type comparatorRegistry struct {
	custom map[byte]Comparator
}

func newComparatorRegistry() *comparatorRegistry {
	return &comparatorRegistry{custom: make(map[byte]Comparator)}
}

// Register installs a custom comparator under subtag. resolve answers the
// four built-in tags (0x10, 0x11, 0x18, 0x19) itself, so a comparator
// registered under one of them is never returned; any other byte,
// CompareCustom (0xFF) included, resolves to the comparator registered
// under that exact byte.
func (r *comparatorRegistry) Register(subtag byte, cmp Comparator) {
	r.custom[subtag] = cmp
}

// RegisterComparator installs a custom comparator under subtag, used by
// any BPlusTree subsequently opened on hs that's given that same subtag as
// its tag argument (SPEC_FULL.md §C.4, matching kcplantdb.h's pluggable
// Comparator base class).
func (hs *HashStore) RegisterComparator(subtag byte, cmp Comparator) {
	hs.comparators.Register(subtag, cmp)
}

func (r *comparatorRegistry) resolve(tag byte) (Comparator, error) {
	switch tag {
	case CompareLexical:
		return lexicalComparator{}, nil
	case CompareDecimal:
		return decimalComparator{}, nil
	case CompareLexicalDesc:
		return lexicalDescComparator{}, nil
	case CompareDecimalDesc:
		return decimalDescComparator{}, nil
	default:
		if c, ok := r.custom[tag]; ok {
			return c, nil
		}
		return nil, newErr("comparatorRegistry.resolve", KindInvalid, ErrUnknownCompare)
	}
}
