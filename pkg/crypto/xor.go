package crypto

import (
	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
)

// XORCipher applies a repeating-key XOR. The key bytes cycle to cover the
// input, so encryption and decryption are the same operation and work for
// any input length.
type XORCipher struct {
	key []byte
}

// NewXORCipher creates a cipher over a copy of key. The key must hold at
// least one byte.
func NewXORCipher(key []byte) (*XORCipher, error) {
	if len(key) == 0 {
		return nil, qerrors.NewCryptoError("NewXORCipher", qerrors.ErrEmptyKey)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &XORCipher{key: k}, nil
}

// NewXORCipherFromBits packs a sifted key into bytes and builds a cipher
// over them. Fewer than eight bits yield ErrEmptyKey.
func NewXORCipherFromBits(bits BitString) (*XORCipher, error) {
	return NewXORCipher(bits.Pack())
}

// KeyStream returns the first n bytes of the repeating key stream.
func (c *XORCipher) KeyStream(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = c.key[i%len(c.key)]
	}
	return out
}

// Encrypt returns plaintext XOR key stream.
func (c *XORCipher) Encrypt(plaintext []byte) []byte {
	return c.apply(plaintext)
}

// Decrypt returns ciphertext XOR key stream.
func (c *XORCipher) Decrypt(ciphertext []byte) []byte {
	return c.apply(ciphertext)
}

// KeyLen returns the key length in bytes.
func (c *XORCipher) KeyLen() int {
	return len(c.key)
}

// Zeroize clears the key. The cipher must not be used afterwards.
func (c *XORCipher) Zeroize() {
	Zeroize(c.key)
}

func (c *XORCipher) apply(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ c.key[i%len(c.key)]
	}
	return out
}

// ComposeKeys returns the relay's composed key: the bitwise XOR of the keys
// shared with the previous and next hop, truncated to the shorter of the two.
// Surplus bits of the longer key are discarded.
func ComposeKeys(prev, next BitString) BitString {
	return prev.XOR(next)
}

// Recompose moves a ciphertext from the previous hop's key to the next
// hop's key without exposing the plaintext, and returns the composed key.
//
// When both keys pack to the same number of bytes the ciphertext is XORed
// with stream(composed), which is stream(prev) XOR stream(next). When they
// do not, the composed key no longer covers the same positions and the two
// streams are combined directly.
func Recompose(ciphertext []byte, prev, next BitString) ([]byte, BitString, error) {
	composed := ComposeKeys(prev, next)

	prevCipher, err := NewXORCipherFromBits(prev)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("Recompose", err)
	}
	nextCipher, err := NewXORCipherFromBits(next)
	if err != nil {
		return nil, nil, qerrors.NewCryptoError("Recompose", err)
	}
	defer prevCipher.Zeroize()
	defer nextCipher.Zeroize()

	var stream []byte
	if prevCipher.KeyLen() == nextCipher.KeyLen() {
		composedCipher, err := NewXORCipherFromBits(composed)
		if err != nil {
			return nil, nil, qerrors.NewCryptoError("Recompose", err)
		}
		defer composedCipher.Zeroize()
		stream = composedCipher.KeyStream(len(ciphertext))
	} else {
		// Combine the streams before touching the ciphertext so no
		// intermediate buffer holds plaintext.
		stream = prevCipher.KeyStream(len(ciphertext))
		for i, b := range nextCipher.KeyStream(len(ciphertext)) {
			stream[i] ^= b
		}
	}

	out := make([]byte, len(ciphertext))
	for i := range ciphertext {
		out[i] = ciphertext[i] ^ stream[i]
	}
	Zeroize(stream)
	return out, composed, nil
}
