package cn

import (
	"strings"

	"github.com/shopspring/decimal"
)

// limitPct returns the daily price-limit percentage for a symbol. ok is
// false for an unrecognised board.
func limitPct(code, name string) (decimal.Decimal, bool) {
	switch BoardOf(code) {
	case BoardMain:
		if IsST(name) {
			return decimal.New(5, -2), true
		}
		return decimal.New(10, -2), true
	case BoardSTAR, BoardChiNext:
		return decimal.New(20, -2), true
	case BoardBSE:
		return decimal.New(30, -2), true
	default:
		return decimal.Zero, false
	}
}

// IsST reports whether a display name carries the ST or *ST risk marker.
func IsST(name string) bool {
	return strings.Contains(name, "ST")
}

// LimitUp returns the upper price limit for the day: preClose × (1 + pct)
// rounded to two decimals. It returns nil when preClose is not positive,
// when the name is unknown, or when the board is not recognised.
func LimitUp(code string, preClose float64, name *string) *float64 {
	return limitPrice(code, preClose, name, true)
}

// LimitDown returns the lower price limit: preClose × (1 − pct), with the
// same nil cases as LimitUp.
func LimitDown(code string, preClose float64, name *string) *float64 {
	return limitPrice(code, preClose, name, false)
}

func limitPrice(code string, preClose float64, name *string, up bool) *float64 {
	if !(preClose > 0) || name == nil {
		return nil
	}
	pct, ok := limitPct(code, *name)
	if !ok {
		return nil
	}

	factor := decimal.NewFromInt(1).Add(pct)
	if !up {
		factor = decimal.NewFromInt(1).Sub(pct)
	}
	price, _ := decimal.NewFromFloat(preClose).Mul(factor).Round(2).Float64()
	return &price
}
