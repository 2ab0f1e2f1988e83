// Package hedge sizes the parachute strategy's forward hedges: it decides,
// per settlement bucket, what fraction of the remaining exposure to hedge so
// that the probability of breaching the loss limit stays above target, and
// turns that fraction into rounded forward orders.
package hedge

import (
	"fx_hedger/internal/stat"
)

// FractionEngine computes the hedge fraction for one bucket from its value,
// loss limit and volatility under a one-period normal model.
type FractionEngine struct {
	// ThresholdP is the no-breach probability below which hedging starts
	ThresholdP float64
	// UpperP is the no-breach probability a triggered hedge restores
	UpperP float64
}

// NewFractionEngine creates an engine with the given probability bounds.
// ThresholdP < UpperP is assumed; both are validated at config load.
func NewFractionEngine(thresholdP, upperP float64) *FractionEngine {
	return &FractionEngine{ThresholdP: thresholdP, UpperP: upperP}
}

// CalculateReduction returns the fraction of exposure to hedge and the
// probability of not breaching the limit over the next period.
//
// A bucket already at or below its limit hedges fully. Otherwise the
// distance to the limit in volatility units gives the no-breach probability;
// when it falls below ThresholdP, the fraction is chosen so the post-hedge
// volatility puts the probability back at UpperP.
//
// Precondition: volatility > 0. A zero or undefined volatility means the
// bucket carries no hedgeable risk and must be handled by the caller.
func (e *FractionEngine) CalculateReduction(bucketValue, lowerLimit, volatility float64) (float64, float64) {
	distance := bucketValue - lowerLimit
	if distance <= 0 {
		return 1.0, 0.0
	}

	numSigmas := distance / volatility
	probability := stat.NormCDF(numSigmas)
	if probability >= e.ThresholdP {
		return 0, probability
	}

	targetVolatility := distance / stat.NormInvCDF(e.UpperP)
	fraction := 1 - targetVolatility/volatility
	return fraction, probability
}
