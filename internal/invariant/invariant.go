// Package invariant runs the fixed battery of accounting checks against a
// claimed state transition.
//
// Every check always runs and every failure is reported; a tuple that
// violates three invariants produces three failed results, not one. Each
// result carries a stable machine-readable code, so callers halt or log
// on codes rather than message text. The checks are pure: all state they
// look at arrives in the Input value.
package invariant

import (
	"errors"
	"fmt"

	"github.com/navproof/accounting-engine/internal/fixed"
	"github.com/navproof/accounting-engine/internal/model"
)

// Input is one transition tuple to check: the state before, the trades
// applied, the state after, and the claim made about it.
type Input struct {
	Pre        model.Portfolio
	Trades     []model.Trade
	Post       model.Portfolio
	ClaimedNAV fixed.Amount

	// Tolerance bounds the approximate checks (claimed NAV,
	// self-financing). Exact checks ignore it.
	Tolerance fixed.Amount

	// Step and PrevStep carry the certificate's lineage step index and
	// the last accepted index for the same lineage. Either may be nil;
	// the monotonicity check only engages when both are present.
	Step     *int64
	PrevStep *int64
}

// CheckResult is one check's verdict. Code is empty on pass and holds the
// stable failure code otherwise.
type CheckResult struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Failure codes, stable across versions.
const (
	CodeToleranceExceeded = "tolerance_exceeded"
	CodeConservation      = "quantity_conservation"
	CodeCashExact         = "cash_exact"
	CodeFeeNegative       = "fee_non_negative"
	CodePriceNegative     = "price_non_negative"
	CodeSelfFinancing     = "self_financing"
	CodeStepMonotonic     = "step_monotonic"
	CodeOverflow          = "overflow"
	CodeScaleMismatch     = "scale_mismatch"
)

// Run executes the full battery in its fixed order and returns every
// result. It never stops early and never panics; arithmetic faults inside
// a check fail that check with an overflow or scale-mismatch code.
func Run(in Input) []CheckResult {
	return []CheckResult{
		checkNAVIdentity(in),
		checkConservation(in),
		checkCashCorrectness(in),
		checkFees(in),
		checkMarkPrices(in),
		checkSelfFinancing(in),
		checkStepMonotonicity(in),
	}
}

// FailureCodes returns the codes of failed checks in battery order.
func FailureCodes(results []CheckResult) []string {
	var codes []string
	for _, r := range results {
		if !r.Pass {
			codes = append(codes, r.Code)
		}
	}
	return codes
}

func pass(name string) CheckResult {
	return CheckResult{Name: name, Pass: true}
}

func passDetail(name, detail string) CheckResult {
	return CheckResult{Name: name, Pass: true, Detail: detail}
}

func fail(name, code, detail string) CheckResult {
	return CheckResult{Name: name, Pass: false, Code: code, Detail: detail}
}

func arithFail(name string, err error) CheckResult {
	code := "arithmetic_error"
	switch {
	case errors.Is(err, fixed.ErrOverflow):
		code = CodeOverflow
	case errors.Is(err, fixed.ErrScaleMismatch):
		code = CodeScaleMismatch
	}
	return fail(name, code, err.Error())
}

// checkNAVIdentity compares the claimed NAV against an independent
// CalcNAV of the post state, within tolerance. The claimed figure may
// originate from a floating-point pricer upstream, so this is the one
// bounded comparison in the battery.
func checkNAVIdentity(in Input) CheckResult {
	const name = "nav_identity"
	computed, err := model.CalcNAV(in.Post)
	if err != nil {
		return arithFail(name, err)
	}
	ok, err := fixed.Within(in.ClaimedNAV, computed, in.Tolerance)
	if err != nil {
		return arithFail(name, err)
	}
	if !ok {
		return fail(name, CodeToleranceExceeded, fmt.Sprintf(
			"claimed NAV %s vs computed %s exceeds tolerance %s",
			in.ClaimedNAV, computed, in.Tolerance))
	}
	return pass(name)
}

// checkConservation verifies, per traded asset, that the post quantity is
// the pre quantity plus the summed deltas.
func checkConservation(in Input) CheckResult {
	const name = "conservation"
	deltas := make(map[model.Asset]int64)
	order := make([]model.Asset, 0, len(in.Trades))
	for _, t := range in.Trades {
		if _, seen := deltas[t.Asset]; !seen {
			order = append(order, t.Asset)
		}
		deltas[t.Asset] += t.DeltaQuantity
	}
	for _, asset := range order {
		var preQty, postQty int64
		if p, ok := in.Pre.Position(asset); ok {
			preQty = p.Quantity
		}
		if p, ok := in.Post.Position(asset); ok {
			postQty = p.Quantity
		}
		if postQty != preQty+deltas[asset] {
			return fail(name, CodeConservation, fmt.Sprintf(
				"%s: post quantity %d, want %d + %d", asset, postQty, preQty, deltas[asset]))
		}
	}
	return pass(name)
}

// checkCashCorrectness verifies the cash identity exactly. Cash never
// passes through floating point, so there is no tolerance here: one
// mantissa unit off is a failure.
func checkCashCorrectness(in Input) CheckResult {
	const name = "cash_correctness"
	expected := in.Pre.Cash
	for _, t := range in.Trades {
		notional, err := t.ExecutionPrice.MulInt(t.DeltaQuantity)
		if err != nil {
			return arithFail(name, err)
		}
		expected, err = expected.Sub(notional)
		if err != nil {
			return arithFail(name, err)
		}
		expected, err = expected.Sub(t.Fee)
		if err != nil {
			return arithFail(name, err)
		}
	}
	if !in.Post.Cash.Equal(expected) {
		return fail(name, CodeCashExact, fmt.Sprintf(
			"post cash %s, want exactly %s", in.Post.Cash, expected))
	}
	return pass(name)
}

func checkFees(in Input) CheckResult {
	const name = "fee_non_negativity"
	for i, t := range in.Trades {
		if t.Fee.IsNegative() {
			return fail(name, CodeFeeNegative, fmt.Sprintf(
				"trade %d (%s): fee %s is negative", i, t.Asset, t.Fee))
		}
	}
	return pass(name)
}

func checkMarkPrices(in Input) CheckResult {
	const name = "mark_price_non_negative"
	for _, state := range []struct {
		label string
		pf    model.Portfolio
	}{{"pre", in.Pre}, {"post", in.Post}} {
		for _, p := range state.pf.Positions {
			if p.MarkPrice.IsNegative() {
				return fail(name, CodePriceNegative, fmt.Sprintf(
					"%s state: %s marked at %s", state.label, p.Asset, p.MarkPrice))
			}
		}
	}
	return pass(name)
}

// checkSelfFinancing engages when every trade executed at its asset's
// current mark (a trade opening a fresh position is at-mark by
// definition: the new position is marked at the execution price). At-mark
// trading moves NAV only by the fees charged, within tolerance.
//
// "Current" means the mark as of that trade, not the pre state: the
// sequence is replayed with the same open/update/prune rules as the
// transition itself, so a later trade on a position opened earlier in
// the same sequence compares against the opening execution price.
func checkSelfFinancing(in Input) CheckResult {
	const name = "self_financing"
	book := in.Pre.Clone().Positions
	for _, t := range in.Trades {
		idx := -1
		for i, p := range book {
			if p.Asset == t.Asset {
				idx = i
				break
			}
		}
		if idx < 0 {
			if t.DeltaQuantity != 0 {
				book = append(book, model.Position{
					Asset:     t.Asset,
					Quantity:  t.DeltaQuantity,
					MarkPrice: t.ExecutionPrice,
				})
			}
			continue
		}
		if !book[idx].MarkPrice.Equal(t.ExecutionPrice) {
			return passDetail(name, fmt.Sprintf(
				"not applicable: %s executed at %s, marked at %s",
				t.Asset, t.ExecutionPrice, book[idx].MarkPrice))
		}
		book[idx].Quantity += t.DeltaQuantity
		if book[idx].Quantity == 0 {
			book = append(book[:idx], book[idx+1:]...)
		}
	}

	preNAV, err := model.CalcNAV(in.Pre)
	if err != nil {
		return arithFail(name, err)
	}
	postNAV, err := model.CalcNAV(in.Post)
	if err != nil {
		return arithFail(name, err)
	}
	expected := preNAV
	for _, t := range in.Trades {
		expected, err = expected.Sub(t.Fee)
		if err != nil {
			return arithFail(name, err)
		}
	}
	ok, err := fixed.Within(postNAV, expected, in.Tolerance)
	if err != nil {
		return arithFail(name, err)
	}
	if !ok {
		return fail(name, CodeSelfFinancing, fmt.Sprintf(
			"at-mark trading moved NAV to %s, want %s within %s",
			postNAV, expected, in.Tolerance))
	}
	return pass(name)
}

// checkStepMonotonicity guards the verification pipeline against replayed
// or reordered certificates: within one lineage the step index never goes
// backwards.
func checkStepMonotonicity(in Input) CheckResult {
	const name = "step_monotonicity"
	if in.Step == nil || in.PrevStep == nil {
		return passDetail(name, "not applicable: no lineage step to compare")
	}
	if *in.Step < *in.PrevStep {
		return fail(name, CodeStepMonotonic, fmt.Sprintf(
			"step %d precedes already-accepted step %d", *in.Step, *in.PrevStep))
	}
	return pass(name)
}
