package hedge

import (
	"math"

	"fx_hedger/internal/core"

	"github.com/shopspring/decimal"
)

// RoundOrder applies the per-pair sizing policy to a raw order amount:
// amounts below the minimum ticket size are zeroed, lot-multiple pairs are
// rounded toward zero to the nearest lot, and the result is rounded to the
// base currency's minor units.
func RoundOrder(amount float64, sizing core.OrderSizing, minorUnits int) float64 {
	if amount == 0 {
		return 0
	}
	if math.Abs(amount) < sizing.MinOrderSize {
		return 0
	}

	d := decimal.NewFromFloat(amount)
	if sizing.UseLotMultiples && sizing.MinOrderSize > 0 {
		lot := decimal.NewFromFloat(sizing.MinOrderSize)
		lots := d.Div(lot).Truncate(0)
		d = lots.Mul(lot)
	}

	return d.Round(int32(minorUnits)).InexactFloat64()
}
