// Package protocol defines the classical-channel message schema of a QKD link.
//
// Schema Version: 1.0
//
// Every frame carries its schema version so peers can reject frames they
// cannot parse instead of guessing. Key-material frames (bases, sift mask,
// acknowledgment, key disclosure, error rate) and payload frames use
// distinct message types.
package protocol

import (
	"fmt"

	"github.com/sara-star-quant/qkdnet/internal/constants"
)

// Version represents the message schema version.
type Version struct {
	Major uint8
	Minor uint8
}

// Current is the current schema version.
var Current = Version{Major: constants.SchemaVersionMajor, Minor: constants.SchemaVersionMinor}

// Bytes returns the version as a 2-byte value.
func (v Version) Bytes() []byte {
	return []byte{v.Major, v.Minor}
}

// ParseVersion parses a version from a 2-byte value.
func ParseVersion(data []byte) Version {
	if len(data) < 2 {
		return Version{}
	}
	return Version{Major: data[0], Minor: data[1]}
}

// IsCompatible returns true if this version is compatible with another version.
// Versions are compatible if they have the same major version.
func (v Version) IsCompatible(other Version) bool {
	return v.Major == other.Major
}

// String returns a string representation of the version.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
