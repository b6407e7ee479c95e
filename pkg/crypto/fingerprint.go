package crypto

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/sha3"

	"github.com/sara-star-quant/qkdnet/internal/constants"
)

// Fingerprint returns a short SHAKE-256 digest of a key, safe to log and to
// compare across the two ends of a link. The bit count is absorbed with the
// bits so keys that pack to the same bytes still differ.
//
//	fp = SHAKE-256(len(domain) || domain || len(bits) || pack(bits), 8)
func Fingerprint(bits BitString) string {
	h := sha3.NewShake256()

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(constants.DomainSeparatorFingerprint)))
	h.Write(lenBuf)
	h.Write([]byte(constants.DomainSeparatorFingerprint))

	binary.BigEndian.PutUint32(lenBuf, uint32(len(bits)))
	h.Write(lenBuf)
	h.Write(bits.PackPadded())

	out := make([]byte, constants.FingerprintSize)
	_, _ = h.Read(out)
	return hex.EncodeToString(out)
}
