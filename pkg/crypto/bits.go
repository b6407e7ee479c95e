package crypto

import (
	"io"
	"strings"

	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
)

// BitString is an ordered bit sequence stored one bit per byte.
// Every element is 0 or 1.
type BitString []byte

// RandomBits returns n uniformly random bits drawn from r.
func RandomBits(r io.Reader, n int) (BitString, error) {
	if n < 0 {
		return nil, qerrors.NewCryptoError("RandomBits", qerrors.ErrInvalidKeySize)
	}
	raw := make([]byte, (n+7)/8)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, qerrors.NewCryptoError("RandomBits", err)
	}
	return Unpack(raw, n), nil
}

// ParseBits parses a string of '0' and '1' characters.
func ParseBits(s string) (BitString, error) {
	bits := make(BitString, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '0':
		case '1':
			bits[i] = 1
		default:
			return nil, qerrors.NewCryptoError("ParseBits", qerrors.ErrInvalidMessage)
		}
	}
	return bits, nil
}

// MustParseBits is like ParseBits but panics on malformed input.
// Intended for literals in tests and examples.
func MustParseBits(s string) BitString {
	b, err := ParseBits(s)
	if err != nil {
		panic("crypto: malformed bit string " + s)
	}
	return b
}

// String renders the bits as '0'/'1' characters.
func (b BitString) String() string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, v := range b {
		sb.WriteByte('0' + v&1)
	}
	return sb.String()
}

// Clone returns an independent copy.
func (b BitString) Clone() BitString {
	if b == nil {
		return nil
	}
	out := make(BitString, len(b))
	copy(out, b)
	return out
}

// Truncate returns at most the first n bits.
func (b BitString) Truncate(n int) BitString {
	if n < 0 || len(b) <= n {
		return b
	}
	return b[:n]
}

// Pack groups the bits into bytes, most significant bit first.
// An incomplete trailing group is dropped.
func (b BitString) Pack() []byte {
	out := make([]byte, len(b)/8)
	for i := range out {
		var v byte
		for _, bit := range b[i*8 : i*8+8] {
			v = v<<1 | bit&1
		}
		out[i] = v
	}
	return out
}

// PackPadded packs all bits, zero-filling the last byte.
// Used by the wire codec, which carries the exact bit count separately.
func (b BitString) PackPadded() []byte {
	out := make([]byte, (len(b)+7)/8)
	for i, bit := range b {
		if bit&1 == 1 {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}
	return out
}

// Unpack expands the first n bits of packed, most significant bit first.
func Unpack(packed []byte, n int) BitString {
	if n > len(packed)*8 {
		n = len(packed) * 8
	}
	out := make(BitString, n)
	for i := range out {
		out[i] = packed[i/8] >> (7 - i%8) & 1
	}
	return out
}

// XOR returns the bitwise XOR over the shorter of the two lengths.
func (b BitString) XOR(other BitString) BitString {
	n := min(len(b), len(other))
	out := make(BitString, n)
	for i := 0; i < n; i++ {
		out[i] = (b[i] ^ other[i]) & 1
	}
	return out
}

// HammingDistance counts differing positions over the shorter length.
func HammingDistance(a, b BitString) int {
	n := min(len(a), len(b))
	d := 0
	for i := 0; i < n; i++ {
		if a[i]&1 != b[i]&1 {
			d++
		}
	}
	return d
}

// Equal reports whether both strings hold the same bits.
func (b BitString) Equal(other BitString) bool {
	if len(b) != len(other) {
		return false
	}
	return HammingDistance(b, other) == 0
}

// Zeroize clears the bits in place.
func (b BitString) Zeroize() {
	Zeroize(b)
}
