package corvus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexicalComparator(t *testing.T) {
	c := lexicalComparator{}
	assert.Equal(t, CompareLexical, int(c.Tag()))
	assert.Negative(t, c.Compare([]byte("a"), []byte("b")))
	assert.Zero(t, c.Compare([]byte("a"), []byte("a")))
	assert.Positive(t, c.Compare([]byte("b"), []byte("a")))
}

func TestLexicalDescComparatorInvertsOrder(t *testing.T) {
	c := lexicalDescComparator{}
	assert.Positive(t, c.Compare([]byte("a"), []byte("b")))
	assert.Negative(t, c.Compare([]byte("b"), []byte("a")))
}

func TestDecimalComparatorOrdersNumerically(t *testing.T) {
	c := decimalComparator{}
	// "9" < "10" numerically though "9" > "10" lexically.
	assert.Negative(t, c.Compare([]byte("9"), []byte("10")))
	assert.Negative(t, c.Compare([]byte("-5"), []byte("3")))
	assert.Equal(t, 1, c.Compare([]byte("1.50"), []byte("1.5")))
}

func TestDecimalComparatorFallsBackToLexicalOnNonNumeric(t *testing.T) {
	c := decimalComparator{}
	assert.Equal(t, lexicalComparator{}.Compare([]byte("abc"), []byte("abd")), c.Compare([]byte("abc"), []byte("abd")))
}

func TestComparatorRegistryResolvesBuiltins(t *testing.T) {
	r := newComparatorRegistry()
	for _, tag := range []byte{CompareLexical, CompareDecimal, CompareLexicalDesc, CompareDecimalDesc} {
		c, err := r.resolve(tag)
		require.NoError(t, err)
		require.Equal(t, tag, c.Tag())
	}
}

type reverseByLengthComparator struct{}

func (reverseByLengthComparator) Compare(a, b []byte) int { return len(b) - len(a) }
func (reverseByLengthComparator) Tag() byte               { return 0x40 }

func TestComparatorRegistryCustom(t *testing.T) {
	r := newComparatorRegistry()
	r.Register(0x40, reverseByLengthComparator{})
	c, err := r.resolve(0x40)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Compare([]byte("a"), []byte("bb")))
}

func TestComparatorRegistryUnknownTag(t *testing.T) {
	r := newComparatorRegistry()
	_, err := r.resolve(0x99)
	require.ErrorIs(t, err, ErrUnknownCompare)
}
