package cert

import (
	"encoding/json"
	"fmt"

	"github.com/navproof/accounting-engine/internal/fixed"
	"github.com/navproof/accounting-engine/internal/model"
)

// Wire-level DTOs. Decimal fields are strings on purpose; see the
// package comment.

type wirePosition struct {
	Asset     string `json:"asset"`
	Quantity  int64  `json:"quantity"`
	MarkPrice string `json:"mark_price"`
}

type wireState struct {
	Cash            string         `json:"cash"`
	AccruedInterest *string        `json:"accrued_interest,omitempty"`
	Positions       []wirePosition `json:"positions"`
}

type wireTrade struct {
	Asset          string `json:"asset"`
	DeltaQuantity  int64  `json:"delta_quantity"`
	ExecutionPrice string `json:"execution_price"`
	Fee            string `json:"fee"`
}

type wireCertificate struct {
	Version           string      `json:"version"`
	SourceType        string      `json:"source_type,omitempty"`
	PrecisionDecimals int32       `json:"precision_decimals"`
	Tolerance         string      `json:"tolerance"`
	PreState          wireState   `json:"pre_state"`
	Trade             *wireTrade  `json:"trade,omitempty"`
	Trades            []wireTrade `json:"trades,omitempty"`
	ClaimedPostState  wireState   `json:"claimed_post_state"`
	ClaimedNAV        string      `json:"claimed_nav"`
	Lineage           string      `json:"lineage,omitempty"`
	StepIndex         *int64      `json:"step_index,omitempty"`
}

// Decode parses and validates a certificate document. The pipeline is
// schema validation, version gate, then exact decimal reconstruction at
// the declared precision. Any failure is a *ParseError and no partial
// certificate escapes.
func Decode(raw []byte) (*Certificate, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ParseError{Field: "document", Err: err}
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, &ParseError{Field: "document", Err: err}
	}

	var w wireCertificate
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &ParseError{Field: "document", Err: err}
	}

	version, err := parseVersion(w.Version)
	if err != nil {
		return nil, &ParseError{Field: "version", Err: err}
	}
	// The lineage pair arrived in 1.1. In a 1.0 document those keys are
	// unknown fields and unknown fields are ignored, not honored.
	if version.Minor() < 1 {
		w.Lineage = ""
		w.StepIndex = nil
	}

	scale := w.PrecisionDecimals

	tolerance, err := parseAmount("tolerance", w.Tolerance, scale)
	if err != nil {
		return nil, err
	}
	if tolerance.IsNegative() {
		return nil, &ParseError{Field: "tolerance", Err: ErrNegativeTolerance}
	}

	preState, err := decodeState("pre_state", w.PreState, scale)
	if err != nil {
		return nil, err
	}
	claimedPost, err := decodeState("claimed_post_state", w.ClaimedPostState, scale)
	if err != nil {
		return nil, err
	}

	var trades []model.Trade
	switch {
	case w.Trade != nil:
		t, err := decodeTrade("trade", *w.Trade, scale)
		if err != nil {
			return nil, err
		}
		trades = []model.Trade{t}
	default:
		trades = make([]model.Trade, 0, len(w.Trades))
		for i, wt := range w.Trades {
			t, err := decodeTrade(fmt.Sprintf("trades[%d]", i), wt, scale)
			if err != nil {
				return nil, err
			}
			trades = append(trades, t)
		}
	}

	claimedNAV, err := parseAmount("claimed_nav", w.ClaimedNAV, scale)
	if err != nil {
		return nil, err
	}

	return &Certificate{
		Version:           w.Version,
		SourceType:        w.SourceType,
		PrecisionDecimals: scale,
		Tolerance:         tolerance,
		PreState:          preState,
		Trades:            trades,
		ClaimedPostState:  claimedPost,
		ClaimedNAV:        claimedNAV,
		Lineage:           w.Lineage,
		StepIndex:         w.StepIndex,
	}, nil
}

// Encode serializes a certificate. Every decimal is emitted with exactly
// the declared number of fractional digits, and every amount must already
// carry the declared scale. A certificate with one trade emits the
// singular "trade" key; more emit "trades".
func Encode(c *Certificate) ([]byte, error) {
	w := wireCertificate{
		Version:           c.Version,
		SourceType:        c.SourceType,
		PrecisionDecimals: c.PrecisionDecimals,
		Lineage:           c.Lineage,
		StepIndex:         c.StepIndex,
	}
	if w.Version == "" {
		w.Version = CurrentVersion
	}

	var err error
	if w.Tolerance, err = formatAmount("tolerance", c.Tolerance, c.PrecisionDecimals); err != nil {
		return nil, err
	}
	if w.PreState, err = encodeState("pre_state", c.PreState, c.PrecisionDecimals); err != nil {
		return nil, err
	}
	if w.ClaimedPostState, err = encodeState("claimed_post_state", c.ClaimedPostState, c.PrecisionDecimals); err != nil {
		return nil, err
	}
	if w.ClaimedNAV, err = formatAmount("claimed_nav", c.ClaimedNAV, c.PrecisionDecimals); err != nil {
		return nil, err
	}

	if len(c.Trades) == 0 {
		return nil, fmt.Errorf("cert: encode: certificate carries no trades")
	}
	wireTrades := make([]wireTrade, 0, len(c.Trades))
	for i, t := range c.Trades {
		wt, err := encodeTrade(fmt.Sprintf("trades[%d]", i), t, c.PrecisionDecimals)
		if err != nil {
			return nil, err
		}
		wireTrades = append(wireTrades, wt)
	}
	if len(wireTrades) == 1 {
		w.Trade = &wireTrades[0]
	} else {
		w.Trades = wireTrades
	}

	return json.Marshal(w)
}

func parseAmount(field, s string, scale int32) (fixed.Amount, error) {
	a, err := fixed.Parse(s, scale)
	if err != nil {
		return fixed.Amount{}, &ParseError{Field: field, Err: err}
	}
	return a, nil
}

func decodeState(field string, w wireState, scale int32) (model.Portfolio, error) {
	cash, err := parseAmount(field+".cash", w.Cash, scale)
	if err != nil {
		return model.Portfolio{}, err
	}
	accrued := fixed.Zero(scale)
	if w.AccruedInterest != nil {
		if accrued, err = parseAmount(field+".accrued_interest", *w.AccruedInterest, scale); err != nil {
			return model.Portfolio{}, err
		}
	}
	pf := model.Portfolio{Cash: cash, AccruedInterest: accrued}
	for i, wp := range w.Positions {
		mark, err := parseAmount(fmt.Sprintf("%s.positions[%d].mark_price", field, i), wp.MarkPrice, scale)
		if err != nil {
			return model.Portfolio{}, err
		}
		pf.Positions = append(pf.Positions, model.Position{
			Asset:     model.Asset(wp.Asset),
			Quantity:  wp.Quantity,
			MarkPrice: mark,
		})
	}
	return pf, nil
}

func decodeTrade(field string, w wireTrade, scale int32) (model.Trade, error) {
	price, err := parseAmount(field+".execution_price", w.ExecutionPrice, scale)
	if err != nil {
		return model.Trade{}, err
	}
	fee, err := parseAmount(field+".fee", w.Fee, scale)
	if err != nil {
		return model.Trade{}, err
	}
	return model.Trade{
		Asset:          model.Asset(w.Asset),
		DeltaQuantity:  w.DeltaQuantity,
		ExecutionPrice: price,
		Fee:            fee,
	}, nil
}

func formatAmount(field string, a fixed.Amount, scale int32) (string, error) {
	if a.Scale() != scale {
		return "", fmt.Errorf("cert: encode %s: scale %d, declared %d: %w",
			field, a.Scale(), scale, fixed.ErrScaleMismatch)
	}
	return a.String(), nil
}

func encodeState(field string, pf model.Portfolio, scale int32) (wireState, error) {
	cash, err := formatAmount(field+".cash", pf.Cash, scale)
	if err != nil {
		return wireState{}, err
	}
	accrued, err := formatAmount(field+".accrued_interest", pf.AccruedInterest, scale)
	if err != nil {
		return wireState{}, err
	}
	w := wireState{Cash: cash, AccruedInterest: &accrued, Positions: []wirePosition{}}
	for i, p := range pf.Positions {
		mark, err := formatAmount(fmt.Sprintf("%s.positions[%d].mark_price", field, i), p.MarkPrice, scale)
		if err != nil {
			return wireState{}, err
		}
		w.Positions = append(w.Positions, wirePosition{
			Asset:     string(p.Asset),
			Quantity:  p.Quantity,
			MarkPrice: mark,
		})
	}
	return w, nil
}

func encodeTrade(field string, t model.Trade, scale int32) (wireTrade, error) {
	price, err := formatAmount(field+".execution_price", t.ExecutionPrice, scale)
	if err != nil {
		return wireTrade{}, err
	}
	fee, err := formatAmount(field+".fee", t.Fee, scale)
	if err != nil {
		return wireTrade{}, err
	}
	return wireTrade{
		Asset:          string(t.Asset),
		DeltaQuantity:  t.DeltaQuantity,
		ExecutionPrice: price,
		Fee:            fee,
	}, nil
}
