package link

import (
	"fmt"
	"io"
	"time"

	"github.com/sara-star-quant/qkdnet/internal/constants"
	qerrors "github.com/sara-star-quant/qkdnet/internal/errors"
)

// Config parameterizes a key exchange.
type Config struct {
	// KeySize is the number of raw qubits exchanged
	KeySize int

	// KeyLength caps the sifted key in bits
	KeyLength int

	// WaitTime bounds every channel wait. It must be positive.
	WaitTime time.Duration

	// Threshold is the error rate (percent) at or above which the link is
	// unsafe
	Threshold float64

	// AckMode makes the responder acknowledge its sifted key length
	AckMode bool

	Protocol constants.Protocol

	// Rand supplies basis and bit choices. Nil means crypto.Reader.
	Rand io.Reader
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		KeySize:   constants.DefaultKeySize,
		KeyLength: constants.DefaultKeyLength,
		WaitTime:  constants.DefaultWaitTime,
		Threshold: constants.DefaultErrorRateThreshold,
		AckMode:   constants.DefaultAckMode,
		Protocol:  constants.ProtocolBB84,
	}
}

// Validate checks the parameters.
func (c Config) Validate() error {
	if c.KeySize <= 0 || c.KeySize > constants.MaxKeySize {
		return fmt.Errorf("%w: key size %d out of range (1..%d)", qerrors.ErrInvalidConfig, c.KeySize, constants.MaxKeySize)
	}
	if c.KeyLength <= 0 {
		return fmt.Errorf("%w: key length %d must be positive", qerrors.ErrInvalidConfig, c.KeyLength)
	}
	if c.WaitTime <= 0 {
		return fmt.Errorf("%w: wait time %s must be positive", qerrors.ErrInvalidConfig, c.WaitTime)
	}
	if c.Threshold < 0 || c.Threshold > 100 {
		return fmt.Errorf("%w: threshold %v out of range (0..100)", qerrors.ErrInvalidConfig, c.Threshold)
	}
	if !c.Protocol.IsSupported() {
		return fmt.Errorf("%w: unsupported protocol %d", qerrors.ErrInvalidConfig, c.Protocol)
	}
	return nil
}
