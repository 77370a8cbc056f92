// Package verify turns one certificate into one deterministic verdict:
// decode, recompute the post-state, compare it to the claim, then run the
// invariant battery and aggregate the failure codes.
//
// A Result carries no timestamps, IDs, or other nondeterminism. Verifying
// byte-identical input yields deeply equal Results, which makes any
// verdict replayable offline and makes digest-keyed caching sound.
package verify

import (
	"errors"

	"github.com/navproof/accounting-engine/internal/cert"
	"github.com/navproof/accounting-engine/internal/fixed"
	"github.com/navproof/accounting-engine/internal/invariant"
	"github.com/navproof/accounting-engine/internal/ledger"
	"github.com/navproof/accounting-engine/internal/model"
)

// Outcome is the top-level verdict for one certificate.
type Outcome string

const (
	// OutcomeAccepted: the recomputed post-state matches the claim and
	// every invariant check passed.
	OutcomeAccepted Outcome = "accepted"

	// OutcomeRejected: the certificate decoded but at least one
	// comparison or invariant check failed.
	OutcomeRejected Outcome = "rejected"

	// OutcomeMalformed: the document never decoded; nothing was verified.
	OutcomeMalformed Outcome = "malformed"

	// OutcomeTimeout: a batch entry whose verification never started
	// before the context ended. A service-level outcome, not a kernel
	// failure.
	OutcomeTimeout Outcome = "timeout"
)

// State-comparison failure codes. The recomputed post-state is compared
// to the claimed one field by field; these are distinct from the battery
// codes so a caller can tell "your arithmetic is wrong" apart from "your
// claim violates an invariant".
const (
	CodeCashMismatch          = "cash_mismatch"
	CodeAccruedMismatch       = "accrued_mismatch"
	CodePositionMismatch      = "position_mismatch"
	CodePositionCountMismatch = "position_count_mismatch"

	// CodeDeadlineExceeded accompanies OutcomeTimeout.
	CodeDeadlineExceeded = "deadline_exceeded"
)

// Options carries verification context the certificate itself cannot
// know. PrevStep is the last committed step index of the certificate's
// lineage; nil when no lineage state applies.
type Options struct {
	PrevStep *int64
}

// Result is the complete verdict for one certificate.
type Result struct {
	Outcome Outcome

	// Codes is the ordered, deduplicated failure code list:
	// state-comparison codes first, then battery codes in battery order.
	// Empty for an accepted certificate.
	Codes []string

	// Checks is the full invariant battery output, passes included.
	Checks []invariant.CheckResult

	// ComputedNAV is the verifier's own NAV of the recomputed post-state,
	// formatted at the certificate's precision. Empty when the post-state
	// could not be recomputed.
	ComputedNAV string

	// Digest is the canonical certificate digest, when the raw document
	// was available and was valid JSON.
	Digest string

	// Reason is the parse failure text for a malformed document.
	Reason string

	// Lineage and StepIndex are copied from the certificate so report
	// builders need not re-decode; empty for malformed documents.
	Lineage   string
	StepIndex *int64
}

// Verify runs the pipeline over an already-decoded certificate:
// recompute post = ApplyTrades(pre, trades), compare it to the claimed
// post-state, then run the full invariant battery with the certificate's
// tolerance. The battery always runs, even when recomputation fails, so
// every independent defect in the claim is reported at once.
func Verify(c *cert.Certificate, opts Options) Result {
	var codes []string

	computedNAV := ""
	recomputed, err := ledger.ApplyTrades(c.PreState, c.Trades)
	if err != nil {
		codes = append(codes, transitionCode(err))
	} else {
		codes = append(codes, comparePostState(recomputed, c.ClaimedPostState)...)
		if nav, navErr := model.CalcNAV(recomputed); navErr == nil {
			computedNAV = nav.String()
		}
	}

	checks := invariant.Run(invariant.Input{
		Pre:        c.PreState,
		Trades:     c.Trades,
		Post:       c.ClaimedPostState,
		ClaimedNAV: c.ClaimedNAV,
		Tolerance:  c.Tolerance,
		Step:       c.StepIndex,
		PrevStep:   opts.PrevStep,
	})
	codes = dedupe(append(codes, invariant.FailureCodes(checks)...))

	outcome := OutcomeAccepted
	if len(codes) > 0 {
		outcome = OutcomeRejected
	}
	return Result{
		Outcome:     outcome,
		Codes:       codes,
		Checks:      checks,
		ComputedNAV: computedNAV,
		Lineage:     c.Lineage,
		StepIndex:   c.StepIndex,
	}
}

// VerifyBytes decodes and verifies a raw certificate document. A document
// that fails to decode yields OutcomeMalformed and nothing else runs. The
// digest is attached whenever the bytes are valid JSON, so even a
// malformed-but-parseable document stays identifiable in logs and caches.
func VerifyBytes(raw []byte, opts Options) Result {
	digest, _ := cert.Digest(raw) // empty when the bytes are not JSON at all

	c, err := cert.Decode(raw)
	if err != nil {
		return Result{Outcome: OutcomeMalformed, Digest: digest, Reason: err.Error()}
	}
	r := Verify(c, opts)
	r.Digest = digest
	return r
}

// comparePostState compares the independently recomputed post-state to
// the claimed one. Cash, accrued interest, quantities, and mark prices
// compare exactly. Positions compare as an unordered multiset: a
// certificate that lists the same positions in a different order
// verifies identically, but an omitted, extra, or duplicated position
// does not.
func comparePostState(computed, claimed model.Portfolio) []string {
	var codes []string
	if !computed.Cash.Equal(claimed.Cash) {
		codes = append(codes, CodeCashMismatch)
	}
	if !computed.AccruedInterest.Equal(claimed.AccruedInterest) {
		codes = append(codes, CodeAccruedMismatch)
	}

	diff := make(map[model.Position]int, len(computed.Positions))
	for _, p := range computed.Positions {
		diff[p]++
	}
	for _, p := range claimed.Positions {
		diff[p]--
	}
	for _, n := range diff {
		if n != 0 {
			codes = append(codes, CodePositionMismatch)
			break
		}
	}
	if len(computed.Positions) != len(claimed.Positions) {
		codes = append(codes, CodePositionCountMismatch)
	}
	return codes
}

// transitionCode maps an ApplyTrades failure to its machine code.
func transitionCode(err error) string {
	var de *ledger.DomainError
	switch {
	case errors.As(err, &de):
		return de.Code
	case errors.Is(err, fixed.ErrOverflow):
		return invariant.CodeOverflow
	case errors.Is(err, fixed.ErrScaleMismatch):
		return invariant.CodeScaleMismatch
	default:
		return "transition_failed"
	}
}

// dedupe keeps the first occurrence of each code, preserving order.
func dedupe(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(codes))
	out := codes[:0]
	for _, c := range codes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
