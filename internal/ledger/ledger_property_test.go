package ledger

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/navproof/accounting-engine/internal/fixed"
	"github.com/navproof/accounting-engine/internal/model"
)

// Ranges keep every product and sum comfortably inside int64 so the
// properties exercise accounting logic, not overflow reporting.
func portfolioWith(cashRaw, qty int64) model.Portfolio {
	cash, _ := fixed.FromRaw(cashRaw, fixed.DefaultScale)
	pf := model.Portfolio{Cash: cash, AccruedInterest: fixed.Zero(fixed.DefaultScale)}
	if qty != 0 {
		mark, _ := fixed.FromRaw(4_000_000, fixed.DefaultScale)
		pf.Positions = append(pf.Positions, model.Position{Asset: "SPY", Quantity: qty, MarkPrice: mark})
	}
	return pf
}

func TestApplyTradeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("quantity is conserved", prop.ForAll(
		func(cashRaw, oldQty, delta, priceRaw, feeRaw int64) bool {
			pf := portfolioWith(cashRaw, oldQty)
			price, _ := fixed.FromRaw(priceRaw, fixed.DefaultScale)
			fee, _ := fixed.FromRaw(feeRaw, fixed.DefaultScale)

			out, err := ApplyTrade(pf, model.Trade{
				Asset: "SPY", DeltaQuantity: delta, ExecutionPrice: price, Fee: fee,
			})
			if err != nil {
				return false
			}
			want := oldQty + delta
			got, ok := out.Position("SPY")
			if want == 0 {
				return !ok
			}
			return ok && got.Quantity == want
		},
		gen.Int64Range(-1_000_000_000_000, 1_000_000_000_000),
		gen.Int64Range(-1_000_000, 1_000_000),
		gen.Int64Range(-1_000, 1_000),
		gen.Int64Range(0, 1_000_000_000),
		gen.Int64Range(0, 10_000_000),
	))

	properties.Property("cash follows the fill formula exactly", prop.ForAll(
		func(cashRaw, oldQty, delta, priceRaw, feeRaw int64) bool {
			pf := portfolioWith(cashRaw, oldQty)
			price, _ := fixed.FromRaw(priceRaw, fixed.DefaultScale)
			fee, _ := fixed.FromRaw(feeRaw, fixed.DefaultScale)

			out, err := ApplyTrade(pf, model.Trade{
				Asset: "SPY", DeltaQuantity: delta, ExecutionPrice: price, Fee: fee,
			})
			if err != nil {
				return false
			}
			// Independent integer-mantissa recomputation.
			want := cashRaw - delta*priceRaw - feeRaw
			return out.Cash.Raw() == want
		},
		gen.Int64Range(-1_000_000_000_000, 1_000_000_000_000),
		gen.Int64Range(-1_000_000, 1_000_000),
		gen.Int64Range(-1_000, 1_000),
		gen.Int64Range(0, 1_000_000_000),
		gen.Int64Range(0, 10_000_000),
	))

	properties.Property("negative fee is always rejected", prop.ForAll(
		func(cashRaw, oldQty, delta, priceRaw, feeRaw int64) bool {
			pf := portfolioWith(cashRaw, oldQty)
			price, _ := fixed.FromRaw(priceRaw, fixed.DefaultScale)
			fee, _ := fixed.FromRaw(-feeRaw, fixed.DefaultScale)

			_, err := ApplyTrade(pf, model.Trade{
				Asset: "SPY", DeltaQuantity: delta, ExecutionPrice: price, Fee: fee,
			})
			return errors.Is(err, ErrNegativeFee)
		},
		gen.Int64Range(-1_000_000_000_000, 1_000_000_000_000),
		gen.Int64Range(-1_000_000, 1_000_000),
		gen.Int64Range(-1_000, 1_000),
		gen.Int64Range(0, 1_000_000_000),
		gen.Int64Range(1, 10_000_000),
	))

	properties.TestingRun(t)
}
