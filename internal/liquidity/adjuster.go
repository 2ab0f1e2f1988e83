// Package liquidity redistributes liquidity-pool position changes across
// accounts. When offsetting account exposures are netted internally instead
// of sent to market, the absorbed amount has to be pushed back into the
// accounts' desired hedge positions so that the company books stay balanced.
package liquidity

import (
	"fx_hedger/internal/core"
)

// PairAccountAmounts maps pair -> account -> signed amount in base units
type PairAccountAmounts map[core.CurrencyPair]map[core.AccountID]float64

// Adjust redistributes each pair's liquidity change across the accounts whose
// remaining exposure (exposure + desired position; the two carry opposite
// signs by convention) has the same sign as the change. Each eligible account
// absorbs the change proportionally to its remaining exposure, which grows
// its hedge in the direction that cancels the absorption. Pairs with no
// liquidity change, and accounts with opposite-signed remainders, pass
// through unchanged.
//
// Pure function: inputs are never mutated, the adjusted desired positions are
// returned as a fresh map.
func Adjust(
	accountExposures PairAccountAmounts,
	desiredPositions PairAccountAmounts,
	liquidityChanges map[core.CurrencyPair]float64,
) PairAccountAmounts {
	adjusted := make(PairAccountAmounts, len(desiredPositions))
	for pair, positions := range desiredPositions {
		byAccount := make(map[core.AccountID]float64, len(positions))
		for account, amount := range positions {
			byAccount[account] = amount
		}
		adjusted[pair] = byAccount
	}

	for pair, change := range liquidityChanges {
		if change == 0 {
			continue
		}

		positions := adjusted[pair]
		if positions == nil {
			continue
		}
		exposures := accountExposures[pair]

		accounts := make(map[core.AccountID]struct{}, len(positions)+len(exposures))
		for account := range positions {
			accounts[account] = struct{}{}
		}
		for account := range exposures {
			accounts[account] = struct{}{}
		}

		remaining := make(map[core.AccountID]float64, len(accounts))
		totalRemaining := 0.0
		for account := range accounts {
			rem := exposures[account] + positions[account]
			if !sameSign(rem, change) {
				continue
			}
			remaining[account] = rem
			totalRemaining += rem
		}

		if totalRemaining == 0 {
			continue
		}

		fraction := change / totalRemaining
		for account, rem := range remaining {
			positions[account] -= fraction * rem
		}
	}

	return adjusted
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
