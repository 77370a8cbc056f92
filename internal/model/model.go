// Package model defines the portfolio accounting domain types.
// All monetary values are fixed.Amount — never float64 for money.
//
// The types are value-oriented: nothing here mutates in place. State moves
// forward only through the transition functions in the ledger package,
// which take a Portfolio and return a new one, so two snapshots can always
// be compared field-by-field.
package model

import (
	"github.com/navproof/accounting-engine/internal/fixed"
)

// Asset identifies an instrument by symbol. Opaque, compared by value.
type Asset string

// Position is a holding of one asset: a signed share count (positive long,
// negative short) and the price the book currently marks it at. Mark
// prices are never negative; zero is legal for expired worthless
// instruments. Zero-quantity positions may exist transiently but the
// transition layer prunes them.
type Position struct {
	Asset     Asset
	Quantity  int64
	MarkPrice fixed.Amount
}

// Value returns quantity × mark price. Quantity is an unscaled integer,
// so this goes through MulInt; routing it through the scaled multiply
// would divide the product by the scale factor a second time.
func (p Position) Value() (fixed.Amount, error) {
	return p.MarkPrice.MulInt(p.Quantity)
}

// Trade is one execution to apply against a portfolio: a signed quantity
// delta at an execution price, plus the fee charged. Execution price and
// fee must be non-negative; the transition layer rejects violations.
type Trade struct {
	Asset          Asset
	DeltaQuantity  int64
	ExecutionPrice fixed.Amount
	Fee            fixed.Amount
}

// Portfolio is one account state: cash, interest accrued but not yet
// settled into cash, and the open positions. The position slice is
// ordered but order is never meaningful; the transition layer keeps at
// most one position per asset.
type Portfolio struct {
	Cash            fixed.Amount
	AccruedInterest fixed.Amount
	Positions       []Position
}

// Scale returns the fractional-digit scale the portfolio's book is kept
// at. Cash defines it; every amount in a well-formed portfolio shares it.
func (pf Portfolio) Scale() int32 {
	return pf.Cash.Scale()
}

// Position returns the holding for the given asset, if any.
func (pf Portfolio) Position(asset Asset) (Position, bool) {
	for _, p := range pf.Positions {
		if p.Asset == asset {
			return p, true
		}
	}
	return Position{}, false
}

// Clone returns a copy whose position slice is independent of the
// receiver's.
func (pf Portfolio) Clone() Portfolio {
	out := pf
	if pf.Positions != nil {
		out.Positions = make([]Position, len(pf.Positions))
		copy(out.Positions, pf.Positions)
	}
	return out
}

// SumPositionValues folds position market values into a single amount at
// the given scale. Addition on the integer mantissa is associative and
// commutative, so any ordering of the same positions produces the same
// sum bit-for-bit.
func SumPositionValues(positions []Position, scale int32) (fixed.Amount, error) {
	sum := fixed.Zero(scale)
	for _, p := range positions {
		v, err := p.Value()
		if err != nil {
			return fixed.Amount{}, err
		}
		sum, err = sum.Add(v)
		if err != nil {
			return fixed.Amount{}, err
		}
	}
	return sum, nil
}

// CalcNAV returns the net asset value:
//
//	NAV = cash + accruedInterest + Σ quantity × markPrice
//
// A pure fold with no branches on position content. Portfolios that
// differ only in position order produce identical NAVs.
func CalcNAV(pf Portfolio) (fixed.Amount, error) {
	nav, err := pf.Cash.Add(pf.AccruedInterest)
	if err != nil {
		return fixed.Amount{}, err
	}
	positionValue, err := SumPositionValues(pf.Positions, pf.Scale())
	if err != nil {
		return fixed.Amount{}, err
	}
	return nav.Add(positionValue)
}
