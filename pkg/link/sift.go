package link

import (
	"math"

	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
	"github.com/sara-star-quant/qkdnet/pkg/crypto"
)

// BasisMask marks the positions where two basis strings agree. Only the
// common prefix is compared.
func BasisMask(local, peer crypto.BitString) crypto.BitString {
	n := min(len(local), len(peer))
	mask := make(crypto.BitString, n)
	for i := 0; i < n; i++ {
		if local[i] == peer[i] {
			mask[i] = 1
		}
	}
	return mask
}

// Sift keeps bits[i] wherever mask[i] is set, stopping after limit bits.
// A limit of zero or less keeps every marked bit.
func Sift(bits, mask crypto.BitString, limit int) crypto.BitString {
	n := min(len(bits), len(mask))
	out := make(crypto.BitString, 0, n)
	for i := 0; i < n; i++ {
		if limit > 0 && len(out) == limit {
			break
		}
		if mask[i] == 1 {
			out = append(out, bits[i])
		}
	}
	return out
}

// EstimateErrorRate returns the percentage of positions where disclosed
// differs from local, rounded to two decimals. Both keys must have the same
// non-zero length.
func EstimateErrorRate(local, disclosed crypto.BitString) (float64, error) {
	if len(disclosed) != len(local) {
		return 0, &qerrors.LengthMismatchError{Field: "key disclosure", Want: len(local), Got: len(disclosed)}
	}
	if len(local) == 0 {
		return 0, qerrors.ErrInsufficientKey
	}
	rate := float64(crypto.HammingDistance(local, disclosed)) / float64(len(local)) * 100
	return roundRate(rate), nil
}

func roundRate(r float64) float64 {
	return math.Round(r*100) / 100
}
