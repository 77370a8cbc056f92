// Package cert implements the certificate wire format: the self-describing
// JSON document in which an external producer claims that a portfolio
// transition occurred, and which the verifier consumes exactly once.
//
// Monetary fields travel as decimal strings, never as native JSON
// numbers, so binary floating point can never corrupt the integer
// mantissas on either side of the boundary. The document declares its own
// precision (precision_decimals) and every decimal in it is parsed at
// exactly that scale.
//
// Versioning is "major.minor". An unknown major version is a hard decode
// failure. A newer minor version decodes with defaults for the fields
// this build does not know; unknown top-level fields are ignored.
// Version 1.1 added the optional lineage/step_index pair for replay
// protection.
package cert

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/navproof/accounting-engine/internal/fixed"
	"github.com/navproof/accounting-engine/internal/model"
)

const (
	// CurrentVersion is the schema version this build encodes.
	CurrentVersion = "1.1"

	// SupportedMajor is the only major version this build decodes.
	SupportedMajor = 1
)

// versionRegex pins the surface form to exactly "major.minor"; semver
// alone would also admit patch numbers and prerelease tags.
var versionRegex = regexp.MustCompile(`^(\d+)\.(\d+)$`)

var (
	// ErrMalformedVersion is returned when the version field is not a
	// plain major.minor string.
	ErrMalformedVersion = errors.New("cert: malformed version")

	// ErrUnsupportedVersion is returned for a major version this build
	// does not decode.
	ErrUnsupportedVersion = errors.New("cert: unsupported major version")

	// ErrNegativeTolerance is returned when the declared tolerance is
	// below zero.
	ErrNegativeTolerance = errors.New("cert: tolerance must not be negative")
)

// ParseError is any decode failure: malformed document, schema violation,
// bad version, or a decimal field that does not fit the declared
// precision. Field names the offending location in the document.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cert: %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Certificate is one decoded claim: the state before, the trades applied,
// and the state and NAV the producer says resulted. SourceType tags where
// the inputs came from (historical, simulation, synthetic) and never
// affects verification.
type Certificate struct {
	Version           string
	SourceType        string
	PrecisionDecimals int32
	Tolerance         fixed.Amount

	PreState         model.Portfolio
	Trades           []model.Trade
	ClaimedPostState model.Portfolio
	ClaimedNAV       fixed.Amount

	// Lineage and StepIndex are the optional replay guard introduced in
	// schema 1.1. StepIndex is nil when the document carries none.
	Lineage   string
	StepIndex *int64
}

// parseVersion gates the version string: strict major.minor form, then a
// semver comparison for major compatibility. The parsed version is
// returned so the decoder can tell which optional fields are meaningful.
func parseVersion(s string) (*semver.Version, error) {
	if !versionRegex.MatchString(s) {
		return nil, fmt.Errorf("%w: %q (expected \"major.minor\")", ErrMalformedVersion, s)
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformedVersion, s)
	}
	if v.Major() != SupportedMajor {
		return nil, fmt.Errorf("%w: %q (this build decodes major %d)",
			ErrUnsupportedVersion, s, SupportedMajor)
	}
	return v, nil
}
