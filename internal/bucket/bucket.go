// Package bucket aggregates one account's exposure for one settlement month:
// cashflows paying in the month, forwards delivering in it, and any spot FX
// attributed to it. A computed bucket knows its NPV, net exposure per pair,
// forward PnL split and annualized volatility.
package bucket

import (
	"fmt"
	"math"
	"sort"

	"fx_hedger/internal/core"
	apperrors "fx_hedger/pkg/errors"
)

// Bucket is the exposure aggregation for one (account, settlement month).
// Derived values are memoized by Compute and discarded at the end of the
// cycle; only the HedgeRecord snapshot survives.
type Bucket struct {
	Account core.Account
	Key     core.BucketKey

	Cashflows []*core.Cashflow
	Forwards  []*core.ForwardContract

	spot map[core.CurrencyPair]float64

	computed      bool
	exposure      map[core.CurrencyPair]float64
	cashflowExp   map[core.CurrencyPair]float64
	forwardAmount map[core.CurrencyPair]float64
	npv           float64
	realizedPnL   float64
	unrealizedPnL float64
	volatility    float64
}

// New creates an empty bucket for an account and settlement month
func New(account core.Account, key core.BucketKey) *Bucket {
	return &Bucket{
		Account: account,
		Key:     key,
		spot:    make(map[core.CurrencyPair]float64),
	}
}

// AddCashflow assigns a cashflow to the bucket
func (b *Bucket) AddCashflow(cf *core.Cashflow) {
	b.Cashflows = append(b.Cashflows, cf)
	b.computed = false
}

// AddForward assigns a forward contract to the bucket
func (b *Bucket) AddForward(f *core.ForwardContract) {
	b.Forwards = append(b.Forwards, f)
	b.computed = false
}

// AddFxSpot attributes a spot FX amount to the bucket. Spot contributes to
// net exposure unreduced.
func (b *Bucket) AddFxSpot(pair core.CurrencyPair, amount float64) {
	b.spot[pair] += amount
	b.computed = false
}

// SpotAmount returns the spot FX currently attributed for a pair
func (b *Bucket) SpotAmount(pair core.CurrencyPair) float64 {
	return b.spot[pair]
}

// Compute values the bucket against the universe. It fails fast on missing
// or NaN market data; a failed bucket must not be persisted.
func (b *Bucket) Compute(u core.Universe) error {
	b.exposure = make(map[core.CurrencyPair]float64)
	b.cashflowExp = make(map[core.CurrencyPair]float64)
	b.forwardAmount = make(map[core.CurrencyPair]float64)
	b.npv = 0
	b.realizedPnL = 0
	b.unrealizedPnL = 0
	b.volatility = 0
	b.computed = false

	domestic := b.Account.Domestic
	refDate := u.RefDate()

	for _, cf := range b.Cashflows {
		if cf.Settled || !cf.PayDate.After(refDate) {
			// Settled flows contribute value but no hedgeable risk.
			b.npv += cf.FinalValue
			continue
		}

		value, err := u.ValueCashflow(cf, domestic)
		if err != nil {
			return fmt.Errorf("value cashflow %s: %w", cf.ID, err)
		}
		if math.IsNaN(value) {
			return fmt.Errorf("cashflow %s (%s): %w", cf.ID, cf.Currency, apperrors.ErrNaNMarketData)
		}
		b.npv += value

		if cf.Currency != domestic {
			pair := core.Pair(cf.Currency, domestic)
			b.exposure[pair] += cf.Amount
			b.cashflowExp[pair] += cf.Amount
		}
	}

	for _, f := range b.Forwards {
		rate := f.UnwindRate
		if !f.Unwound {
			var err error
			rate, err = u.Forward(f.Pair, f.DeliveryDate)
			if err != nil {
				return fmt.Errorf("forward rate %s %s: %w", f.Pair, f.DeliveryDate.Format("2006-01-02"), err)
			}
			if math.IsNaN(rate) {
				return fmt.Errorf("forward %s: %w", f.ID, apperrors.ErrNaNMarketData)
			}
		}

		pnlQuote := f.Amount * (rate - f.Rate)
		pnl, err := u.Convert(pnlQuote, f.Pair.Quote, domestic)
		if err != nil {
			return fmt.Errorf("convert forward pnl %s: %w", f.ID, err)
		}
		b.npv += pnl
		if f.Unwound {
			b.realizedPnL += pnl
		} else {
			b.unrealizedPnL += pnl
			b.exposure[f.Pair] += f.Amount
			b.forwardAmount[f.Pair] += f.Amount
		}
	}

	for pair, amount := range b.spot {
		b.exposure[pair] += amount
	}

	vol, err := b.computeVolatility(u)
	if err != nil {
		return err
	}
	b.volatility = vol

	b.computed = true
	return nil
}

// computeVolatility combines per-pair spot volatilities through the pairwise
// instantaneous correlation matrix: variance = w'·Sigma·w over the bucket's
// net exposure vector.
func (b *Bucket) computeVolatility(u core.Universe) (float64, error) {
	pairs := b.exposurePairs()
	if len(pairs) == 0 {
		return 0, nil
	}

	surface := u.Surface()
	corr, err := surface.InstantFxSpotCorrMatrix(pairs)
	if err != nil {
		return 0, fmt.Errorf("correlation matrix: %w", err)
	}
	spots, err := surface.FxSpots(pairs)
	if err != nil {
		return 0, fmt.Errorf("surface spots: %w", err)
	}
	vols, err := surface.VolsSpots(pairs)
	if err != nil {
		return 0, fmt.Errorf("surface vols: %w", err)
	}

	// Absolute annualized vol per pair, in the bucket's value terms
	sigma := make([]float64, len(pairs))
	for i, pair := range pairs {
		if math.IsNaN(spots[i]) || math.IsNaN(vols[i]) {
			return 0, fmt.Errorf("pair %s: %w", pair, apperrors.ErrNaNMarketData)
		}
		if spots[i] == 0 {
			return 0, fmt.Errorf("pair %s: %w", pair, apperrors.ErrZeroSpotRate)
		}
		sigma[i] = vols[i] * spots[i]
	}

	variance := 0.0
	for i := range pairs {
		wi := b.exposure[pairs[i]]
		for j := range pairs {
			c := corr[i][j]
			if math.IsNaN(c) {
				return 0, fmt.Errorf("correlation %s/%s: %w", pairs[i], pairs[j], apperrors.ErrNaNMarketData)
			}
			variance += wi * b.exposure[pairs[j]] * c * sigma[i] * sigma[j]
		}
	}

	// Guard tiny negative values from floating-point cancellation
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance), nil
}

func (b *Bucket) exposurePairs() []core.CurrencyPair {
	pairs := make([]core.CurrencyPair, 0, len(b.exposure))
	for pair, amount := range b.exposure {
		if amount != 0 {
			pairs = append(pairs, pair)
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
	return pairs
}

// Computed reports whether the bucket holds valid derived values
func (b *Bucket) Computed() bool { return b.computed }

// NPV is the bucket's aggregate value in the account's domestic currency
func (b *Bucket) NPV() float64 { return b.npv }

// RealizedPnL is the PnL locked in by unwound forwards
func (b *Bucket) RealizedPnL() float64 { return b.realizedPnL }

// UnrealizedPnL is the mark-to-market PnL of live forwards
func (b *Bucket) UnrealizedPnL() float64 { return b.unrealizedPnL }

// Volatility is the bucket's annualized volatility in domestic value terms
func (b *Bucket) Volatility() float64 { return b.volatility }

// CashflowExposure is the cashflow-driven exposure for one pair, valid after
// Compute. Spot and forward contributions are excluded.
func (b *Bucket) CashflowExposure(pair core.CurrencyPair) float64 {
	return b.cashflowExp[pair]
}

// Exposure returns a copy of the net exposure per pair, in base units
func (b *Bucket) Exposure() map[core.CurrencyPair]float64 {
	out := make(map[core.CurrencyPair]float64, len(b.exposure))
	for pair, amount := range b.exposure {
		out[pair] = amount
	}
	return out
}

// FractionalHedge returns the per-pair exposure amounts a hedge fraction
// targets. The fraction is clamped to [-1, 1]; negative fractions represent
// partial unwind of existing forwards.
//
// With unwinding disabled the target is capped so the resulting forward
// position never exceeds, in magnitude, the opposing cashflow exposure, and
// never reverses sign relative to the unhedged residual.
func (b *Bucket) FractionalHedge(fraction float64, allowUnwind bool) map[core.CurrencyPair]float64 {
	fraction = clamp(fraction, -1, 1)
	if !allowUnwind && fraction < 0 {
		fraction = 0
	}

	targets := make(map[core.CurrencyPair]float64)
	if fraction == 0 {
		return targets
	}

	for _, pair := range b.exposurePairs() {
		residual := b.exposure[pair]
		target := fraction * residual

		if !allowUnwind {
			cashflowExp := b.cashflowExp[pair] + b.spot[pair]
			forward := b.forwardAmount[pair]
			newForward := forward - target
			if math.Abs(newForward) > math.Abs(cashflowExp) {
				// Cap the forward at fully offsetting the cashflow side
				target = forward + cashflowExp
				if target*residual < 0 {
					// Honoring the cap would mean unwinding
					target = 0
				}
			}
		}

		if target != 0 {
			targets[pair] = target
		}
	}
	return targets
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
