package invariant

import (
	"testing"

	"github.com/navproof/accounting-engine/internal/fixed"
	"github.com/navproof/accounting-engine/internal/ledger"
	"github.com/navproof/accounting-engine/internal/model"
)

// amt is a test helper for four-digit amounts.
func amt(s string) fixed.Amount {
	return fixed.MustParse(s, fixed.DefaultScale)
}

func step(n int64) *int64 { return &n }

func prePortfolio() model.Portfolio {
	return model.Portfolio{
		Cash:            amt("1000"),
		AccruedInterest: amt("0"),
		Positions: []model.Position{
			{Asset: "SPY", Quantity: 10, MarkPrice: amt("400")},
		},
	}
}

// cleanInput builds an input whose post state really is ApplyTrades of
// the pre state and whose claimed NAV really is CalcNAV of it.
func cleanInput(t *testing.T, trades []model.Trade) Input {
	t.Helper()
	pre := prePortfolio()
	post, err := ledger.ApplyTrades(pre, trades)
	if err != nil {
		t.Fatalf("building post state: %v", err)
	}
	nav, err := model.CalcNAV(post)
	if err != nil {
		t.Fatalf("computing NAV: %v", err)
	}
	return Input{
		Pre:        pre,
		Trades:     trades,
		Post:       post,
		ClaimedNAV: nav,
		Tolerance:  amt("0.0001"),
	}
}

func resultByName(t *testing.T, results []CheckResult, name string) CheckResult {
	t.Helper()
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no check named %q in %+v", name, results)
	return CheckResult{}
}

// --- Battery shape ---

func TestRun_AllChecksAlwaysRun(t *testing.T) {
	in := cleanInput(t, []model.Trade{
		{Asset: "SPY", DeltaQuantity: 5, ExecutionPrice: amt("401"), Fee: amt("1")},
	})
	results := Run(in)
	if len(results) != 7 {
		t.Fatalf("expected 7 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Pass {
			t.Errorf("%s failed on a clean transition: %s", r.Name, r.Detail)
		}
	}
}

func TestRun_MultipleFailuresAllReported(t *testing.T) {
	in := cleanInput(t, []model.Trade{
		{Asset: "SPY", DeltaQuantity: 5, ExecutionPrice: amt("401"), Fee: amt("1")},
	})
	// Three independent violations must yield three codes, not the
	// first one found.
	in.Trades[0].Fee = amt("-1")
	claimed, _ := in.ClaimedNAV.Add(amt("99"))
	in.ClaimedNAV = claimed

	codes := FailureCodes(Run(in))
	want := map[string]bool{
		CodeToleranceExceeded: false,
		CodeCashExact:         false,
		CodeFeeNegative:       false,
	}
	for _, c := range codes {
		if _, expected := want[c]; expected {
			want[c] = true
		}
	}
	for code, seen := range want {
		if !seen {
			t.Errorf("expected failure code %s in %v", code, codes)
		}
	}
}

// --- NAV identity ---

func TestNAVIdentity_WithinToleranceAccepted(t *testing.T) {
	in := cleanInput(t, nil)
	claimed, _ := in.ClaimedNAV.Add(amt("0.0001"))
	in.ClaimedNAV = claimed

	r := resultByName(t, Run(in), "nav_identity")
	if !r.Pass {
		t.Errorf("off-by-tolerance claim should pass: %s", r.Detail)
	}
}

func TestNAVIdentity_BeyondToleranceRejected(t *testing.T) {
	in := cleanInput(t, nil)
	claimed, _ := in.ClaimedNAV.Add(amt("0.0002"))
	in.ClaimedNAV = claimed

	r := resultByName(t, Run(in), "nav_identity")
	if r.Pass {
		t.Fatal("claim off by 0.0002 with tolerance 0.0001 should fail")
	}
	if r.Code != CodeToleranceExceeded {
		t.Errorf("code = %s, want %s", r.Code, CodeToleranceExceeded)
	}
}

// --- Conservation ---

func TestConservation_DetectsTamperedQuantity(t *testing.T) {
	in := cleanInput(t, []model.Trade{
		{Asset: "SPY", DeltaQuantity: 5, ExecutionPrice: amt("401"), Fee: amt("0")},
	})
	in.Post.Positions[0].Quantity = 16 // should be 15

	r := resultByName(t, Run(in), "conservation")
	if r.Pass || r.Code != CodeConservation {
		t.Errorf("expected conservation failure, got %+v", r)
	}
}

func TestConservation_SumsDeltasPerAsset(t *testing.T) {
	in := cleanInput(t, []model.Trade{
		{Asset: "SPY", DeltaQuantity: 5, ExecutionPrice: amt("401"), Fee: amt("0")},
		{Asset: "SPY", DeltaQuantity: -3, ExecutionPrice: amt("402"), Fee: amt("0")},
	})
	r := resultByName(t, Run(in), "conservation")
	if !r.Pass {
		t.Errorf("net delta +2 on 10 should conserve: %s", r.Detail)
	}
}

// --- Cash correctness ---

func TestCashCorrectness_OneMantissaUnitOffFails(t *testing.T) {
	in := cleanInput(t, []model.Trade{
		{Asset: "SPY", DeltaQuantity: 5, ExecutionPrice: amt("401"), Fee: amt("1")},
	})
	nudged, _ := in.Post.Cash.Add(amt("0.0001"))
	in.Post.Cash = nudged

	r := resultByName(t, Run(in), "cash_correctness")
	if r.Pass || r.Code != CodeCashExact {
		t.Errorf("cash is exact, one unit off must fail: %+v", r)
	}
}

// --- Fees and marks ---

func TestFees_NegativeFeeCode(t *testing.T) {
	in := cleanInput(t, nil)
	in.Trades = []model.Trade{
		{Asset: "SPY", DeltaQuantity: 1, ExecutionPrice: amt("400"), Fee: amt("-1")},
	}
	r := resultByName(t, Run(in), "fee_non_negativity")
	if r.Pass || r.Code != CodeFeeNegative {
		t.Errorf("expected fee_non_negative failure, got %+v", r)
	}
}

func TestMarkPrices_NegativeMarkInPostFails(t *testing.T) {
	in := cleanInput(t, nil)
	in.Post.Positions[0].MarkPrice = amt("-0.0001")

	r := resultByName(t, Run(in), "mark_price_non_negative")
	if r.Pass || r.Code != CodePriceNegative {
		t.Errorf("expected price_non_negative failure, got %+v", r)
	}
}

func TestMarkPrices_ZeroMarkPasses(t *testing.T) {
	in := cleanInput(t, nil)
	in.Post.Positions[0].MarkPrice = amt("0")
	in.Pre.Positions[0].MarkPrice = amt("0")
	// Re-derive the claim so the NAV check stays out of the way.
	nav, err := model.CalcNAV(in.Post)
	if err != nil {
		t.Fatal(err)
	}
	in.ClaimedNAV = nav

	r := resultByName(t, Run(in), "mark_price_non_negative")
	if !r.Pass {
		t.Errorf("zero mark is legal: %s", r.Detail)
	}
}

// --- Self-financing ---

func TestSelfFinancing_AtMarkHolds(t *testing.T) {
	in := cleanInput(t, []model.Trade{
		{Asset: "SPY", DeltaQuantity: 5, ExecutionPrice: amt("400"), Fee: amt("1")},
	})
	r := resultByName(t, Run(in), "self_financing")
	if !r.Pass {
		t.Errorf("at-mark trade should self-finance: %s", r.Detail)
	}
}

func TestSelfFinancing_OffMarkNotApplicable(t *testing.T) {
	in := cleanInput(t, []model.Trade{
		{Asset: "SPY", DeltaQuantity: 5, ExecutionPrice: amt("401"), Fee: amt("1")},
	})
	r := resultByName(t, Run(in), "self_financing")
	if !r.Pass || r.Detail == "" {
		t.Errorf("off-mark trade is out of scope for self-financing: %+v", r)
	}
}

func TestSelfFinancing_AtMarkViolationDetected(t *testing.T) {
	pre := prePortfolio()
	trades := []model.Trade{
		{Asset: "SPY", DeltaQuantity: 5, ExecutionPrice: amt("400"), Fee: amt("1")},
	}
	// A post state with conjured cash: NAV moved by far more than the fee.
	post := model.Portfolio{
		Cash:            amt("3000"),
		AccruedInterest: amt("0"),
		Positions: []model.Position{
			{Asset: "SPY", Quantity: 15, MarkPrice: amt("400")},
		},
	}
	nav, err := model.CalcNAV(post)
	if err != nil {
		t.Fatal(err)
	}
	in := Input{
		Pre: pre, Trades: trades, Post: post,
		ClaimedNAV: nav, Tolerance: amt("0.0001"),
	}

	r := resultByName(t, Run(in), "self_financing")
	if r.Pass || r.Code != CodeSelfFinancing {
		t.Errorf("expected self_financing failure, got %+v", r)
	}
}

func TestSelfFinancing_OpeningTradeIsAtMark(t *testing.T) {
	in := cleanInput(t, []model.Trade{
		{Asset: "GLD", DeltaQuantity: 2, ExecutionPrice: amt("180"), Fee: amt("0.5000")},
	})
	r := resultByName(t, Run(in), "self_financing")
	if !r.Pass {
		t.Errorf("opening a position is at-mark by definition: %s", r.Detail)
	}
	if r.Detail != "" {
		t.Errorf("should be applicable, got detail %q", r.Detail)
	}
}

func TestSelfFinancing_MarkMovesMidSequence(t *testing.T) {
	// The second trade executes away from the mark set by the first, so
	// the check must stand down rather than reject an honest transition.
	in := cleanInput(t, []model.Trade{
		{Asset: "GLD", DeltaQuantity: 2, ExecutionPrice: amt("180"), Fee: amt("0.5000")},
		{Asset: "GLD", DeltaQuantity: 1, ExecutionPrice: amt("181"), Fee: amt("0.5000")},
	})
	r := resultByName(t, Run(in), "self_financing")
	if !r.Pass {
		t.Errorf("off-mark continuation should not fail the check: %s", r.Detail)
	}
	if r.Detail == "" {
		t.Error("expected a not-applicable detail for an off-mark continuation")
	}
}

func TestSelfFinancing_FlattenThenReopenEngages(t *testing.T) {
	// Flattening prunes the position, so the reopen at a new price is an
	// opening trade: the whole sequence is at-mark and NAV moves by
	// exactly the fees.
	in := cleanInput(t, []model.Trade{
		{Asset: "SPY", DeltaQuantity: -10, ExecutionPrice: amt("400"), Fee: amt("1")},
		{Asset: "SPY", DeltaQuantity: 5, ExecutionPrice: amt("390"), Fee: amt("1")},
	})
	r := resultByName(t, Run(in), "self_financing")
	if !r.Pass {
		t.Errorf("flatten-then-reopen at mark should self-finance: %s", r.Detail)
	}
	if r.Detail != "" {
		t.Errorf("should be applicable, got detail %q", r.Detail)
	}
}

// --- Step monotonicity ---

func TestStepMonotonicity(t *testing.T) {
	tests := []struct {
		name     string
		step     *int64
		prev     *int64
		wantPass bool
	}{
		{"no lineage info", nil, nil, true},
		{"step without history", step(4), nil, true},
		{"history without step", nil, step(4), true},
		{"advancing", step(6), step(5), true},
		{"repeating", step(5), step(5), true},
		{"regressing", step(3), step(5), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := cleanInput(t, nil)
			in.Step = tt.step
			in.PrevStep = tt.prev
			r := resultByName(t, Run(in), "step_monotonicity")
			if r.Pass != tt.wantPass {
				t.Errorf("pass = %v, want %v (%+v)", r.Pass, tt.wantPass, r)
			}
			if !tt.wantPass && r.Code != CodeStepMonotonic {
				t.Errorf("code = %s, want %s", r.Code, CodeStepMonotonic)
			}
		})
	}
}
