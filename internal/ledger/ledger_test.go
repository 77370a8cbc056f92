package ledger

import (
	"errors"
	"math"
	"testing"

	"github.com/navproof/accounting-engine/internal/fixed"
	"github.com/navproof/accounting-engine/internal/model"
)

// amt is a test helper for four-digit amounts.
func amt(s string) fixed.Amount {
	return fixed.MustParse(s, fixed.DefaultScale)
}

func basePortfolio() model.Portfolio {
	return model.Portfolio{
		Cash:            amt("1000"),
		AccruedInterest: amt("0"),
		Positions: []model.Position{
			{Asset: "SPY", Quantity: 10, MarkPrice: amt("400")},
		},
	}
}

// --- ApplyTrade tests ---

func TestApplyTrade_BuyExtendsPositionAndDebitsCash(t *testing.T) {
	out, err := ApplyTrade(basePortfolio(), model.Trade{
		Asset:          "SPY",
		DeltaQuantity:  5,
		ExecutionPrice: amt("401"),
		Fee:            amt("1"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 1000 − 5×401 − 1 = −1006
	if out.Cash.String() != "-1006.0000" {
		t.Errorf("cash = %s, want -1006.0000", out.Cash)
	}

	p, ok := out.Position("SPY")
	if !ok {
		t.Fatal("SPY position missing after buy")
	}
	if p.Quantity != 15 {
		t.Errorf("quantity = %d, want 15", p.Quantity)
	}
	// The trade itself never moves the mark.
	if p.MarkPrice.String() != "400.0000" {
		t.Errorf("mark = %s, want 400.0000", p.MarkPrice)
	}
}

func TestApplyTrade_SellCreditsCash(t *testing.T) {
	out, err := ApplyTrade(basePortfolio(), model.Trade{
		Asset:          "SPY",
		DeltaQuantity:  -4,
		ExecutionPrice: amt("402.5000"),
		Fee:            amt("0.5000"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 1000 − (−4)×402.5 − 0.5 = 1000 + 1610 − 0.5 = 2609.5
	if out.Cash.String() != "2609.5000" {
		t.Errorf("cash = %s, want 2609.5000", out.Cash)
	}
	p, _ := out.Position("SPY")
	if p.Quantity != 6 {
		t.Errorf("quantity = %d, want 6", p.Quantity)
	}
}

func TestApplyTrade_OpensPositionMarkedAtExecutionPrice(t *testing.T) {
	out, err := ApplyTrade(basePortfolio(), model.Trade{
		Asset:          "TLT",
		DeltaQuantity:  3,
		ExecutionPrice: amt("95.2500"),
		Fee:            amt("0"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, ok := out.Position("TLT")
	if !ok {
		t.Fatal("TLT position missing after opening trade")
	}
	if p.Quantity != 3 || p.MarkPrice.String() != "95.2500" {
		t.Errorf("opened position = %+v, want qty 3 marked 95.2500", p)
	}
}

func TestApplyTrade_FlattenedPositionIsRemoved(t *testing.T) {
	out, err := ApplyTrade(basePortfolio(), model.Trade{
		Asset:          "SPY",
		DeltaQuantity:  -10,
		ExecutionPrice: amt("400"),
		Fee:            amt("0"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := out.Position("SPY"); ok {
		t.Error("zero-quantity position should be pruned")
	}
	if len(out.Positions) != 0 {
		t.Errorf("positions left: %+v", out.Positions)
	}
}

func TestApplyTrade_CrossingZeroToShort(t *testing.T) {
	out, err := ApplyTrade(basePortfolio(), model.Trade{
		Asset:          "SPY",
		DeltaQuantity:  -25,
		ExecutionPrice: amt("400"),
		Fee:            amt("0"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, ok := out.Position("SPY")
	if !ok || p.Quantity != -15 {
		t.Errorf("expected short 15, got %+v ok=%v", p, ok)
	}
}

func TestApplyTrade_ZeroDeltaOnAbsentAssetAddsNothing(t *testing.T) {
	out, err := ApplyTrade(basePortfolio(), model.Trade{
		Asset:          "GLD",
		DeltaQuantity:  0,
		ExecutionPrice: amt("180"),
		Fee:            amt("2"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := out.Position("GLD"); ok {
		t.Error("zero-delta trade must not open a position")
	}
	// Fee is still charged.
	if out.Cash.String() != "998.0000" {
		t.Errorf("cash = %s, want 998.0000", out.Cash)
	}
}

func TestApplyTrade_RejectsNegativeFee(t *testing.T) {
	_, err := ApplyTrade(basePortfolio(), model.Trade{
		Asset:          "SPY",
		DeltaQuantity:  1,
		ExecutionPrice: amt("400"),
		Fee:            amt("-1"),
	})
	if !errors.Is(err, ErrNegativeFee) {
		t.Fatalf("expected ErrNegativeFee, got %v", err)
	}

	var de *DomainError
	if !errors.As(err, &de) || de.Code != "fee_non_negative" {
		t.Errorf("expected code fee_non_negative, got %+v", de)
	}
}

func TestApplyTrade_RejectsNegativePrice(t *testing.T) {
	_, err := ApplyTrade(basePortfolio(), model.Trade{
		Asset:          "SPY",
		DeltaQuantity:  1,
		ExecutionPrice: amt("-0.0001"),
		Fee:            amt("0"),
	})
	if !errors.Is(err, ErrNegativePrice) {
		t.Fatalf("expected ErrNegativePrice, got %v", err)
	}
	var de *DomainError
	if !errors.As(err, &de) || de.Code != "price_non_negative" {
		t.Errorf("expected code price_non_negative, got %+v", de)
	}
}

func TestApplyTrade_RejectionLeavesInputUntouched(t *testing.T) {
	pf := basePortfolio()
	_, err := ApplyTrade(pf, model.Trade{
		Asset:          "SPY",
		DeltaQuantity:  5,
		ExecutionPrice: amt("400"),
		Fee:            amt("-1"),
	})
	if err == nil {
		t.Fatal("expected rejection")
	}
	if pf.Cash.String() != "1000.0000" || pf.Positions[0].Quantity != 10 {
		t.Errorf("input portfolio mutated: %+v", pf)
	}
}

func TestApplyTrade_QuantityOverflow(t *testing.T) {
	pf := model.Portfolio{
		Cash:      amt("0"),
		Positions: []model.Position{{Asset: "X", Quantity: math.MaxInt64, MarkPrice: amt("0")}},
	}
	_, err := ApplyTrade(pf, model.Trade{
		Asset:          "X",
		DeltaQuantity:  1,
		ExecutionPrice: amt("0"),
		Fee:            amt("0"),
	})
	if !errors.Is(err, fixed.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

// --- ApplyTrades tests ---

func TestApplyTrades_FoldsInOrder(t *testing.T) {
	trades := []model.Trade{
		{Asset: "SPY", DeltaQuantity: 5, ExecutionPrice: amt("401"), Fee: amt("1")},
		{Asset: "SPY", DeltaQuantity: -15, ExecutionPrice: amt("402"), Fee: amt("1")},
		{Asset: "TLT", DeltaQuantity: 2, ExecutionPrice: amt("95"), Fee: amt("0.5000")},
	}
	out, err := ApplyTrades(basePortfolio(), trades)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 1000 − 5×401 − 1 + 15×402 − 1 − 2×95 − 0.5 = 4832.5
	if out.Cash.String() != "4832.5000" {
		t.Errorf("cash = %s, want 4832.5000", out.Cash)
	}
	if _, ok := out.Position("SPY"); ok {
		t.Error("SPY should be flat after +5 then −15 on 10")
	}
	p, ok := out.Position("TLT")
	if !ok || p.Quantity != 2 {
		t.Errorf("expected TLT quantity 2, got %+v ok=%v", p, ok)
	}
}

func TestApplyTrades_AbortsOnFirstRejection(t *testing.T) {
	trades := []model.Trade{
		{Asset: "SPY", DeltaQuantity: 1, ExecutionPrice: amt("400"), Fee: amt("0")},
		{Asset: "SPY", DeltaQuantity: 1, ExecutionPrice: amt("400"), Fee: amt("-1")},
	}
	_, err := ApplyTrades(basePortfolio(), trades)
	if !errors.Is(err, ErrNegativeFee) {
		t.Fatalf("expected ErrNegativeFee, got %v", err)
	}
}

func TestApplyTrades_EmptySequenceIsIdentity(t *testing.T) {
	pf := basePortfolio()
	out, err := ApplyTrades(pf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Cash.Equal(pf.Cash) || len(out.Positions) != len(pf.Positions) {
		t.Errorf("identity fold changed portfolio: %+v", out)
	}
}

// --- AccrueInterest tests ---

func TestAccrueInterest_BooksIntoAccruedOnly(t *testing.T) {
	pf := basePortfolio()
	// One basis point on 1000.0000 cash = 0.1000.
	out, err := AccrueInterest(pf, amt("0.0001"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.AccruedInterest.String() != "0.1000" {
		t.Errorf("accrued = %s, want 0.1000", out.AccruedInterest)
	}
	if !out.Cash.Equal(pf.Cash) {
		t.Errorf("cash must not move on accrual: %s", out.Cash)
	}
}

func TestAccrueInterest_TruncatesTowardZero(t *testing.T) {
	pf := model.Portfolio{Cash: amt("0.9999"), AccruedInterest: amt("0")}
	// 0.9999 × 0.0001 = 0.00009999 → truncates to 0.0000.
	out, err := AccrueInterest(pf, amt("0.0001"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.AccruedInterest.IsZero() {
		t.Errorf("accrued = %s, want 0.0000", out.AccruedInterest)
	}
}

func TestAccrueInterest_Accumulates(t *testing.T) {
	out, err := AccrueInterest(basePortfolio(), amt("0.0002"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err = AccrueInterest(out, amt("0.0002"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.AccruedInterest.String() != "0.4000" {
		t.Errorf("accrued = %s, want 0.4000", out.AccruedInterest)
	}
}

func TestAccrueInterest_RejectsNegativeRate(t *testing.T) {
	_, err := AccrueInterest(basePortfolio(), amt("-0.0001"))
	if !errors.Is(err, ErrNegativeRate) {
		t.Fatalf("expected ErrNegativeRate, got %v", err)
	}
}

// --- MarkToMarket tests ---

func TestMarkToMarket_UpdatesListedAssetsOnly(t *testing.T) {
	pf := model.Portfolio{
		Cash: amt("1000"),
		Positions: []model.Position{
			{Asset: "SPY", Quantity: 10, MarkPrice: amt("400")},
			{Asset: "TLT", Quantity: 5, MarkPrice: amt("95")},
		},
	}
	out, err := MarkToMarket(pf, map[model.Asset]fixed.Amount{
		"SPY": amt("405.5000"),
		"GLD": amt("181"), // no such position: ignored
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spy, _ := out.Position("SPY")
	if spy.MarkPrice.String() != "405.5000" {
		t.Errorf("SPY mark = %s, want 405.5000", spy.MarkPrice)
	}
	tlt, _ := out.Position("TLT")
	if tlt.MarkPrice.String() != "95.0000" {
		t.Errorf("TLT mark = %s, want 95.0000 (unlisted assets keep their mark)", tlt.MarkPrice)
	}
	if spy.Quantity != 10 || !out.Cash.Equal(pf.Cash) {
		t.Error("marking must not move quantity or cash")
	}
}

func TestMarkToMarket_ZeroMarkAllowed(t *testing.T) {
	pf := model.Portfolio{
		Cash:      amt("0"),
		Positions: []model.Position{{Asset: "OPT", Quantity: 1, MarkPrice: amt("2.5000")}},
	}
	out, err := MarkToMarket(pf, map[model.Asset]fixed.Amount{"OPT": amt("0")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ := out.Position("OPT")
	if !p.MarkPrice.IsZero() {
		t.Errorf("mark = %s, want 0.0000", p.MarkPrice)
	}
}

func TestMarkToMarket_RejectsNegativeMark(t *testing.T) {
	_, err := MarkToMarket(basePortfolio(), map[model.Asset]fixed.Amount{"SPY": amt("-1")})
	if !errors.Is(err, ErrNegativePrice) {
		t.Fatalf("expected ErrNegativePrice, got %v", err)
	}
}
