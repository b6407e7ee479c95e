// Package version reports the qkdnet release and the message schema it
// speaks.
package version

import (
	"fmt"

	"github.com/sara-star-quant/qkdnet/internal/constants"
)

// Semantic version components.
const (
	Major = 0
	Minor = 1
	Patch = 0
	// Label is the optional pre-release label.
	Label = ""
)

// Commit is set at link time with -ldflags "-X .../pkg/version.Commit=...".
var Commit = ""

// String returns the version as "vMAJOR.MINOR.PATCH[-LABEL]".
func String() string {
	v := fmt.Sprintf("v%d.%d.%d", Major, Minor, Patch)
	if Label != "" {
		v += "-" + Label
	}
	return v
}

// Full returns the name, version, commit and schema version.
func Full() string {
	s := "qkdnet " + String()
	if Commit != "" {
		s += " (" + Commit + ")"
	}
	return fmt.Sprintf("%s, schema %d.%d", s, constants.SchemaVersionMajor, constants.SchemaVersionMinor)
}
