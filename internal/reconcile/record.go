package reconcile

import "fx_hedger/internal/core"

// ReconciliationRecord is the per-pair audit output of one reconciliation
// cycle. Write-once: the reconciler fills it while processing the pair and
// never touches it again.
type ReconciliationRecord struct {
	Pair core.CurrencyPair

	// Company aggregate amounts before and after the trading cycle
	InitialAmount float64
	FinalAmount   float64

	// Sum and absolute sum of the per-account desired positions
	DesiredFinalAmount float64
	AbsDesiredSum      float64

	// Sum and absolute sum of the per-account hedge requests
	TotalRequestedChange float64
	AbsRequestSum        float64

	// Amount filled at market; zero when no fill summary exists
	FilledAmount float64

	// Fill is nil when no market trade occurred for the pair this cycle
	Fill *core.FillSummary
}

// ExcessAmount is the company balance left over after satisfying every
// account's desired position
func (r *ReconciliationRecord) ExcessAmount() float64 {
	return r.FinalAmount - r.DesiredFinalAmount
}

// ChangeInPosition is the company-level move over the cycle
func (r *ReconciliationRecord) ChangeInPosition() float64 {
	return r.FinalAmount - r.InitialAmount
}

// UnexplainedChange is the part of the company move not covered by market
// fills. Nonzero values are expected occasionally (interest and roll accruals
// happen outside this model) and are logged, not raised.
func (r *ReconciliationRecord) UnexplainedChange() float64 {
	return r.ChangeInPosition() - r.FilledAmount
}

// ExcessChange is the part of the company move not requested by any account
func (r *ReconciliationRecord) ExcessChange() float64 {
	return r.ChangeInPosition() - r.TotalRequestedChange
}
