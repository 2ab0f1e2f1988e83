// Package reconcile splits a company's aggregate realized FX position back
// out to the individual accounts that contributed to it, producing final
// per-account positions, realized PnL and commission attribution, and a
// per-pair audit record. The split is conservative: account amounts always
// sum to the company amount, whatever edge case the input data is in.
package reconcile

import (
	"context"
	"math"
	"sort"

	"fx_hedger/internal/core"
	"fx_hedger/pkg/telemetry"
)

const (
	// Amounts below this are treated as exactly zero
	zeroTolerance = 1e-6

	// A net prior holding smaller than one unit of currency is treated as
	// near-zero and split by gross holdings instead. Literal threshold kept
	// from the original allocation policy.
	netPriorThreshold = 1.0
)

// Input carries everything one reconciliation cycle consumes. All maps are
// read-only to the reconciler.
type Input struct {
	// Company aggregate positions before and after the trading cycle
	CompanyBefore map[core.CurrencyPair]float64
	CompanyAfter  map[core.CurrencyPair]float64

	// Per-account desired positions, possibly pre-adjusted by the
	// liquidity adjuster
	Desired map[core.CurrencyPair]map[core.AccountID]float64

	// Prior-cycle per-account positions
	InitialPositions map[core.CurrencyPair]map[core.AccountID]core.Position

	// Per-account requested position changes for this cycle
	Requests map[core.CurrencyPair]map[core.AccountID]float64

	// Market fill summaries, at most one per pair
	Fills map[core.CurrencyPair]core.FillSummary
}

// Output is the result of one reconciliation cycle
type Output struct {
	Positions map[core.CurrencyPair]map[core.AccountID]*core.BasicFxPosition
	Records   []*ReconciliationRecord
	Results   []core.HedgeResult
}

// Reconciler consumes company-level before/after positions and produces a
// consistent per-account split. Pure computation: the only collaborator is a
// SpotSource for reference prices and domestic conversion.
type Reconciler struct {
	spots    core.SpotSource
	accounts map[core.AccountID]core.Account
	logger   core.ILogger
}

// NewReconciler creates a reconciler. The accounts slice supplies each
// account's domestic currency for PnL conversion.
func NewReconciler(spots core.SpotSource, accounts []core.Account, logger core.ILogger) *Reconciler {
	byID := make(map[core.AccountID]core.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	return &Reconciler{
		spots:    spots,
		accounts: byID,
		logger:   logger.WithField("component", "reconciler"),
	}
}

// Reconcile performs one reconciliation cycle. Pairs are processed
// independently in sorted order; identical inputs always yield identical
// outputs.
func (r *Reconciler) Reconcile(in Input) Output {
	out := Output{
		Positions: make(map[core.CurrencyPair]map[core.AccountID]*core.BasicFxPosition),
	}

	participants := allParticipants(in)

	for _, pair := range unionPairs(in) {
		positions, rec, results := r.reconcilePair(pair, in, participants)
		out.Positions[pair] = positions
		out.Records = append(out.Records, rec)
		out.Results = append(out.Results, results...)
	}

	return out
}

func (r *Reconciler) reconcilePair(
	pair core.CurrencyPair,
	in Input,
	participants []core.AccountID,
) (map[core.AccountID]*core.BasicFxPosition, *ReconciliationRecord, []core.HedgeResult) {
	rec := &ReconciliationRecord{
		Pair:          pair,
		InitialAmount: in.CompanyBefore[pair],
		FinalAmount:   in.CompanyAfter[pair],
	}

	desired := in.Desired[pair]
	for _, d := range desired {
		rec.DesiredFinalAmount += d
		rec.AbsDesiredSum += math.Abs(d)
	}

	requests := in.Requests[pair]
	for _, req := range requests {
		rec.TotalRequestedChange += req
		rec.AbsRequestSum += math.Abs(req)
	}

	if fill, ok := in.Fills[pair]; ok {
		f := fill
		rec.Fill = &f
		rec.FilledAmount = f.AmountFilled
	}

	if len(requests) == 0 && rec.Fill != nil && rec.FilledAmount != 0 {
		// Upstream inconsistency: a trade happened that nobody asked for.
		r.logger.Warn("fill with zero hedge requests",
			"pair", pair.String(),
			"filled", rec.FilledAmount)
		telemetry.GetGlobalMetrics().AddReconcileAnomaly(context.Background(), "fill_without_requests")
	}

	initialPositions := in.InitialPositions[pair]

	var positions map[core.AccountID]*core.BasicFxPosition
	var results []core.HedgeResult

	if rec.AbsDesiredSum < zeroTolerance && math.Abs(rec.FinalAmount) > zeroTolerance {
		positions = r.allocateUnwanted(pair, rec, initialPositions, participants)
	} else {
		positions, results = r.allocateDesired(pair, rec, desired, initialPositions, requests)
	}

	if math.Abs(rec.UnexplainedChange()) > zeroTolerance {
		r.logger.Warn("unexplained position change",
			"pair", pair.String(),
			"change", rec.ChangeInPosition(),
			"filled", rec.FilledAmount)
		telemetry.GetGlobalMetrics().AddReconcileAnomaly(context.Background(), "unexplained_change")
	}

	return positions, rec, results
}

// allocateUnwanted handles the pair nobody wants: total desired demand is
// zero, yet the company still holds a balance. The balance goes back to the
// accounts that held the pair last cycle, or failing that is split evenly
// across every participating account.
func (r *Reconciler) allocateUnwanted(
	pair core.CurrencyPair,
	rec *ReconciliationRecord,
	priors map[core.AccountID]core.Position,
	participants []core.AccountID,
) map[core.AccountID]*core.BasicFxPosition {
	positions := make(map[core.AccountID]*core.BasicFxPosition)

	holders := make([]core.AccountID, 0, len(priors))
	totalNet := 0.0
	totalGross := 0.0
	for account, p := range priors {
		if p == nil || p.GetAmount() == 0 {
			continue
		}
		holders = append(holders, account)
		totalNet += p.GetAmount()
		totalGross += math.Abs(p.GetAmount())
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i] < holders[j] })

	switch {
	case len(holders) == 0:
		// No history at all: split the balance evenly across every
		// account that desires or held anything, in any pair.
		if len(participants) == 0 {
			r.logger.Warn("unwanted balance with no accounts to assign it to",
				"pair", pair.String(),
				"amount", rec.FinalAmount)
			return positions
		}
		share := rec.FinalAmount / float64(len(participants))
		price, ok := r.referencePrice(pair)
		if !ok {
			r.logger.Warn("no reference price for even split cost basis",
				"pair", pair.String())
		}
		for _, account := range participants {
			positions[account] = &core.BasicFxPosition{
				Account:    account,
				Pair:       pair,
				Amount:     share,
				TotalPrice: math.Abs(share * price),
			}
		}

	case math.Abs(totalNet) >= netPriorThreshold:
		// Scale every holder toward the new company total by the overall
		// contraction/expansion ratio.
		gamma := 1 - rec.FinalAmount/totalNet
		for _, account := range holders {
			p := priors[account]
			amount := p.GetAmount() * (1 - gamma)
			positions[account] = &core.BasicFxPosition{
				Account:    account,
				Pair:       pair,
				Amount:     amount,
				TotalPrice: p.GetTotalPrice() * math.Abs(1-gamma),
			}
		}

	default:
		// Net prior holding is near zero but gross holdings exist:
		// allocate by absolute prior size.
		for _, account := range holders {
			p := priors[account]
			amount := rec.FinalAmount * math.Abs(p.GetAmount()) / totalGross
			avg := averagePrice(p)
			positions[account] = &core.BasicFxPosition{
				Account:    account,
				Pair:       pair,
				Amount:     amount,
				TotalPrice: avg * math.Abs(amount),
			}
		}
	}

	return positions
}

// allocateDesired handles the normal case: some desired demand exists, and
// any excess over it is distributed proportionally to |desired|.
func (r *Reconciler) allocateDesired(
	pair core.CurrencyPair,
	rec *ReconciliationRecord,
	desired map[core.AccountID]float64,
	priors map[core.AccountID]core.Position,
	requests map[core.AccountID]float64,
) (map[core.AccountID]*core.BasicFxPosition, []core.HedgeResult) {
	positions := make(map[core.AccountID]*core.BasicFxPosition)
	var results []core.HedgeResult

	accounts := unionAccounts(desired, priors)
	if len(accounts) == 0 {
		return positions, results
	}

	excess := rec.ExcessAmount()
	tradePrice, priceOK := r.tradePrice(pair, rec)

	for _, account := range accounts {
		d := desired[account]

		var weight float64
		if rec.AbsDesiredSum > 0 {
			weight = math.Abs(d) / rec.AbsDesiredSum
		} else {
			weight = 1 / float64(len(accounts))
		}

		final := d + excess*weight
		if math.Abs(final) < zeroTolerance {
			final = 0
		}

		var initAmount, initTotalPrice float64
		if p := priors[account]; p != nil {
			initAmount = p.GetAmount()
			initTotalPrice = p.GetTotalPrice()
		}

		filled := final - initAmount
		if math.Abs(filled) < zeroTolerance {
			filled = 0
		}

		totalPrice := initTotalPrice
		if filled != 0 {
			totalPrice = math.Abs(sign(initAmount)*initTotalPrice + tradePrice*filled)
		}

		if req, hasRequest := requests[account]; hasRequest {
			if !priceOK {
				r.logger.Error("no trade or reference price for hedge request",
					"pair", pair.String(),
					"account", string(account))
			}

			oldAvg := 0.0
			if initAmount != 0 {
				oldAvg = initTotalPrice / math.Abs(initAmount)
			}
			realized := realizedPnL(initAmount, oldAvg, final, tradePrice)
			domestic := r.toDomestic(account, pair, realized)

			var commission, counterCommission float64
			if rec.Fill != nil && rec.AbsRequestSum > 0 {
				share := math.Abs(req) / rec.AbsRequestSum
				commission = rec.Fill.Commission * share
				counterCommission = rec.Fill.CounterCommission * share
			}

			results = append(results, core.HedgeResult{
				Account:             account,
				Pair:                pair,
				FilledAmount:        filled,
				AveragePrice:        tradePrice,
				RealizedPnL:         realized,
				RealizedPnLDomestic: domestic,
				Commission:          commission,
				CounterCommission:   counterCommission,
			})
		}

		positions[account] = &core.BasicFxPosition{
			Account:    account,
			Pair:       pair,
			Amount:     final,
			TotalPrice: totalPrice,
		}
	}

	return positions, results
}

// tradePrice resolves the price trades are booked at this cycle: the fill's
// average price when a market trade occurred, else the reference spot.
func (r *Reconciler) tradePrice(pair core.CurrencyPair, rec *ReconciliationRecord) (float64, bool) {
	if rec.Fill != nil && rec.Fill.AmountFilled != 0 {
		return rec.Fill.AveragePrice, true
	}
	return r.referencePrice(pair)
}

func (r *Reconciler) referencePrice(pair core.CurrencyPair) (float64, bool) {
	spot, err := r.spots.Spot(pair)
	if err != nil {
		return 0, false
	}
	return spot, true
}

func (r *Reconciler) toDomestic(account core.AccountID, pair core.CurrencyPair, value float64) float64 {
	info, ok := r.accounts[account]
	if !ok || info.Domestic == pair.Quote || value == 0 {
		return value
	}
	converted, err := r.spots.Convert(value, pair.Quote, info.Domestic)
	if err != nil {
		r.logger.Warn("cannot convert realized PnL to domestic currency",
			"pair", pair.String(),
			"account", string(account),
			"domestic", string(info.Domestic))
		return value
	}
	return converted
}

// realizedPnL applies weighted-average-cost accounting to the move from
// oldAmt to newAmt booked at price: increases realize nothing, reductions
// realize on the closed quantity, crossings realize on the full old amount.
func realizedPnL(oldAmt, oldAvg, newAmt, price float64) float64 {
	if oldAmt == 0 {
		return 0
	}
	sameDirection := newAmt != 0 && (oldAmt > 0) == (newAmt > 0)
	if sameDirection && math.Abs(newAmt) >= math.Abs(oldAmt) {
		return 0
	}
	closed := oldAmt
	if sameDirection {
		closed = oldAmt - newAmt
	}
	return closed * (price - oldAvg)
}

func averagePrice(p core.Position) float64 {
	if p.GetAmount() == 0 {
		return 0
	}
	return p.GetTotalPrice() / math.Abs(p.GetAmount())
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

// unionPairs collects every pair appearing in any input map, sorted
func unionPairs(in Input) []core.CurrencyPair {
	seen := make(map[core.CurrencyPair]struct{})
	for pair := range in.CompanyBefore {
		seen[pair] = struct{}{}
	}
	for pair := range in.CompanyAfter {
		seen[pair] = struct{}{}
	}
	for pair := range in.Desired {
		seen[pair] = struct{}{}
	}
	for pair := range in.InitialPositions {
		seen[pair] = struct{}{}
	}
	for pair := range in.Requests {
		seen[pair] = struct{}{}
	}
	for pair := range in.Fills {
		seen[pair] = struct{}{}
	}

	pairs := make([]core.CurrencyPair, 0, len(seen))
	for pair := range seen {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
	return pairs
}

// allParticipants is the union of accounts that desire a position in any
// pair or held one previously, sorted
func allParticipants(in Input) []core.AccountID {
	seen := make(map[core.AccountID]struct{})
	for _, byAccount := range in.Desired {
		for account := range byAccount {
			seen[account] = struct{}{}
		}
	}
	for _, byAccount := range in.InitialPositions {
		for account, p := range byAccount {
			if p != nil && p.GetAmount() != 0 {
				seen[account] = struct{}{}
			}
		}
	}

	accounts := make([]core.AccountID, 0, len(seen))
	for account := range seen {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	return accounts
}

func unionAccounts(desired map[core.AccountID]float64, priors map[core.AccountID]core.Position) []core.AccountID {
	seen := make(map[core.AccountID]struct{}, len(desired))
	for account := range desired {
		seen[account] = struct{}{}
	}
	for account, p := range priors {
		if p != nil && p.GetAmount() != 0 {
			seen[account] = struct{}{}
		}
	}

	accounts := make([]core.AccountID, 0, len(seen))
	for account := range seen {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	return accounts
}
