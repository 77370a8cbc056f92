// Package ledger implements the accounting state transitions: applying
// trades, accruing interest, and marking positions to market.
//
// Every transition is a total pure function from a portfolio value to a
// new portfolio value. Bad inputs come back as a *DomainError carrying a
// stable machine-readable code; no transition ever panics, and because
// portfolios are values, a rejected transition leaves nothing half
// applied.
//
// Trades move quantity and cash only. Mark prices move only through
// MarkToMarket, which takes an explicit price map; a trade against an
// asset with no open position marks the new position at its own
// execution price.
package ledger

import (
	"fmt"

	"github.com/navproof/accounting-engine/internal/fixed"
	"github.com/navproof/accounting-engine/internal/model"
)

// DomainError is a rejected input: the transition did not run because a
// domain constraint would be violated. Code values are stable and appear
// verbatim in verification reports.
type DomainError struct {
	Code   string
	Detail string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("ledger: %s: %s", e.Code, e.Detail)
}

var (
	// ErrNegativePrice rejects a trade or mark with a price below zero.
	// Zero is legal (worthless expiry); negative is not.
	ErrNegativePrice = &DomainError{Code: "price_non_negative", Detail: "price must not be negative"}

	// ErrNegativeFee rejects a trade whose fee is below zero; a negative
	// fee would mean the venue pays the trader.
	ErrNegativeFee = &DomainError{Code: "fee_non_negative", Detail: "fee must not be negative"}

	// ErrNegativeRate rejects an interest accrual with a negative rate.
	ErrNegativeRate = &DomainError{Code: "rate_non_negative", Detail: "interest rate must not be negative"}
)

// ApplyTrade applies one trade and returns the successor portfolio:
//
//	newQuantity = oldQuantity + deltaQuantity   (position removed if 0)
//	newCash     = oldCash − deltaQuantity×executionPrice − fee
//
// A trade against an absent position opens one marked at the execution
// price; an existing position keeps its mark. A position driven to
// exactly zero quantity is removed so stale entries never linger.
func ApplyTrade(pf model.Portfolio, t model.Trade) (model.Portfolio, error) {
	if t.ExecutionPrice.IsNegative() {
		return model.Portfolio{}, fmt.Errorf("%w (asset %s)", ErrNegativePrice, t.Asset)
	}
	if t.Fee.IsNegative() {
		return model.Portfolio{}, fmt.Errorf("%w (asset %s)", ErrNegativeFee, t.Asset)
	}

	out := pf.Clone()

	idx := -1
	oldQty := int64(0)
	for i, p := range out.Positions {
		if p.Asset == t.Asset {
			idx = i
			oldQty = p.Quantity
			break
		}
	}

	newQty := oldQty + t.DeltaQuantity
	if (t.DeltaQuantity > 0 && newQty < oldQty) || (t.DeltaQuantity < 0 && newQty > oldQty) {
		return model.Portfolio{}, fmt.Errorf("ledger: quantity of %s: %w", t.Asset, fixed.ErrOverflow)
	}

	switch {
	case idx >= 0 && newQty == 0:
		out.Positions = append(out.Positions[:idx], out.Positions[idx+1:]...)
	case idx >= 0:
		out.Positions[idx].Quantity = newQty
	case newQty != 0:
		out.Positions = append(out.Positions, model.Position{
			Asset:     t.Asset,
			Quantity:  newQty,
			MarkPrice: t.ExecutionPrice,
		})
	}

	notional, err := t.ExecutionPrice.MulInt(t.DeltaQuantity)
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("ledger: notional of %s: %w", t.Asset, err)
	}
	cash, err := pf.Cash.Sub(notional)
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("ledger: cash update: %w", err)
	}
	cash, err = cash.Sub(t.Fee)
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("ledger: cash update: %w", err)
	}
	out.Cash = cash

	return out, nil
}

// ApplyTrades folds ApplyTrade over the trades strictly left to right.
// Sequence order matters: cash and quantity updates are sequential, and
// execution prices may differ trade to trade for the same asset. The
// first rejection aborts the fold and nothing is applied.
func ApplyTrades(pf model.Portfolio, trades []model.Trade) (model.Portfolio, error) {
	out := pf
	for i, t := range trades {
		next, err := ApplyTrade(out, t)
		if err != nil {
			return model.Portfolio{}, fmt.Errorf("trade %d: %w", i, err)
		}
		out = next
	}
	return out, nil
}

// AccrueInterest books one period of interest on cash into the accrued
// bucket:
//
//	newAccrued = accruedInterest + cash × rate
//
// Cash itself is untouched; accrued interest sits in its own bucket until
// realized, mirroring settlement lag. The rate is a scaled fraction at
// the book's scale (0.0001 = one basis point).
func AccrueInterest(pf model.Portfolio, rate fixed.Amount) (model.Portfolio, error) {
	if rate.IsNegative() {
		return model.Portfolio{}, fmt.Errorf("%w (rate %s)", ErrNegativeRate, rate)
	}
	interest, err := pf.Cash.Mul(rate)
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("ledger: interest: %w", err)
	}
	accrued, err := pf.AccruedInterest.Add(interest)
	if err != nil {
		return model.Portfolio{}, fmt.Errorf("ledger: accrued interest: %w", err)
	}
	out := pf.Clone()
	out.AccruedInterest = accrued
	return out, nil
}

// MarkToMarket re-marks every position that has an entry in prices and
// leaves the rest alone. This is the only transition that moves mark
// prices. Quantities and cash are untouched.
func MarkToMarket(pf model.Portfolio, prices map[model.Asset]fixed.Amount) (model.Portfolio, error) {
	out := pf.Clone()
	for i, p := range out.Positions {
		price, ok := prices[p.Asset]
		if !ok {
			continue
		}
		if price.IsNegative() {
			return model.Portfolio{}, fmt.Errorf("%w (asset %s, mark %s)", ErrNegativePrice, p.Asset, price)
		}
		out.Positions[i].MarkPrice = price
	}
	return out, nil
}
