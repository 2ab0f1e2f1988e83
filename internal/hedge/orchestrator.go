package hedge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"fx_hedger/internal/bucket"
	"fx_hedger/internal/core"
	"fx_hedger/pkg/concurrency"
	"fx_hedger/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/google/uuid"
)

// OrchestratorConfig controls one orchestrator instance
type OrchestratorConfig struct {
	// ThresholdP and UpperP bound the no-breach probability band
	ThresholdP float64
	UpperP     float64

	// MaxPnLCapture is the share of the best-ever PnL folded into the
	// adjusted loss limit, ratcheting it upward as a bucket performs.
	MaxPnLCapture float64

	// AttributeSpot assigns externally held spot FX positions to buckets
	AttributeSpot bool

	// AllowUnwind permits negative hedge fractions (forward unwinds)
	AllowUnwind bool

	// Workers sizes the per-account fan-out pool
	Workers int
}

// AccountData is one account's inputs for a hedging cycle
type AccountData struct {
	Account       core.Account
	Cashflows     []*core.Cashflow
	Forwards      []*core.ForwardContract
	SpotPositions []*core.SpotPositionRecord
}

// CycleReport summarizes one completed hedging cycle
type CycleReport struct {
	CycleID          string
	Accounts         int
	BucketsComputed  int
	BucketsFailed    int
	OrdersEmitted    int
	RecordsPersisted int
	Duration         time.Duration
}

// Orchestrator runs the per-account hedging cycle: bucket assembly, valuation,
// fraction sizing, order emission and record persistence. Accounts are
// processed concurrently; buckets within an account sequentially.
type Orchestrator struct {
	cfg        OrchestratorConfig
	engine     *FractionEngine
	store      core.RecordStore
	sink       core.OrderSink
	sizer      core.OrderSizer
	currencies *core.CurrencyTable
	logger     core.ILogger
	persist    failsafe.Executor[any]
}

// NewOrchestrator wires an orchestrator from its collaborators
func NewOrchestrator(
	cfg OrchestratorConfig,
	store core.RecordStore,
	sink core.OrderSink,
	sizer core.OrderSizer,
	currencies *core.CurrencyTable,
	logger core.ILogger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	retryPolicy := retrypolicy.NewBuilder[any]().
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	return &Orchestrator{
		cfg:        cfg,
		engine:     NewFractionEngine(cfg.ThresholdP, cfg.UpperP),
		store:      store,
		sink:       sink,
		sizer:      sizer,
		currencies: currencies,
		logger:     logger.WithField("component", "orchestrator"),
		persist:    failsafe.With[any](retryPolicy),
	}
}

// RunCycle runs one hedging cycle over the given accounts against the
// universe. Account failures are isolated: one account's bad market data
// never blocks the others.
func (o *Orchestrator) RunCycle(ctx context.Context, u core.Universe, accounts []AccountData) (*CycleReport, error) {
	start := time.Now()
	cycleID := uuid.NewString()
	logger := o.logger.WithField("cycle_id", cycleID)
	logger.Info("Starting hedging cycle", "accounts", len(accounts))

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "hedge_cycle",
		MaxWorkers:  o.cfg.Workers,
		MaxCapacity: len(accounts) + 1,
	}, logger)
	defer pool.Stop()

	var computed, failed, orders, persisted int64
	var wg sync.WaitGroup
	for i := range accounts {
		data := accounts[i]
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			res := o.runAccount(ctx, u, cycleID, data)
			atomic.AddInt64(&computed, res.computed)
			atomic.AddInt64(&failed, res.failed)
			atomic.AddInt64(&orders, res.orders)
			atomic.AddInt64(&persisted, res.persisted)
		})
	}
	wg.Wait()

	report := &CycleReport{
		CycleID:          cycleID,
		Accounts:         len(accounts),
		BucketsComputed:  int(computed),
		BucketsFailed:    int(failed),
		OrdersEmitted:    int(orders),
		RecordsPersisted: int(persisted),
		Duration:         time.Since(start),
	}

	metrics := telemetry.GetGlobalMetrics()
	metrics.RecordCycleDuration(ctx, float64(report.Duration.Milliseconds()))

	logger.Info("Hedging cycle complete",
		"buckets_computed", report.BucketsComputed,
		"buckets_failed", report.BucketsFailed,
		"orders_emitted", report.OrdersEmitted,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

type accountResult struct {
	computed  int64
	failed    int64
	orders    int64
	persisted int64
}

func (o *Orchestrator) runAccount(ctx context.Context, u core.Universe, cycleID string, data AccountData) accountResult {
	var res accountResult
	logger := o.logger.WithFields(map[string]interface{}{
		"cycle_id": cycleID,
		"account":  string(data.Account.ID),
	})
	metrics := telemetry.GetGlobalMetrics()

	buckets, spotByBucket := o.buildBuckets(data, logger)

	keys := make([]core.BucketKey, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })

	// Valuation happens for every bucket before anything is persisted: a
	// compute failure aborts the whole account cycle with no partial writes.
	for _, key := range keys {
		if err := buckets[key].Compute(u); err != nil {
			logger.Error("Bucket valuation failed, aborting account cycle",
				"bucket", key.String(), "error", err)
			metrics.AddAccountCycleFailure(ctx, string(data.Account.ID))
			res.failed = int64(len(keys))
			return res
		}
	}
	metrics.AddBucketsComputed(ctx, int64(len(keys)))
	res.computed = int64(len(keys))

	for _, key := range keys {
		o.checkSpotAttribution(ctx, buckets[key], spotByBucket[key], logger)
	}

	for _, key := range keys {
		nOrders, nRecords, err := o.processBucket(ctx, cycleID, buckets[key], spotByBucket[key], logger)
		if err != nil {
			logger.Error("Bucket processing failed", "bucket", key.String(), "error", err)
			metrics.AddAccountCycleFailure(ctx, string(data.Account.ID))
			res.failed++
			continue
		}
		res.orders += nOrders
		res.persisted += nRecords
	}
	return res
}

// buildBuckets groups the account's cashflows and forwards by settlement
// month, then attributes spot positions when enabled. A spot position whose
// bucket has no cashflow or forward is an attribution anomaly: it is skipped
// and flagged rather than given a bucket of its own.
func (o *Orchestrator) buildBuckets(data AccountData, logger core.ILogger) (map[core.BucketKey]*bucket.Bucket, map[core.BucketKey][]*core.SpotPositionRecord) {
	buckets := make(map[core.BucketKey]*bucket.Bucket)
	get := func(key core.BucketKey) *bucket.Bucket {
		b, ok := buckets[key]
		if !ok {
			b = bucket.New(data.Account, key)
			buckets[key] = b
		}
		return b
	}

	for _, cf := range data.Cashflows {
		get(core.BucketOf(cf.PayDate)).AddCashflow(cf)
	}
	for _, f := range data.Forwards {
		get(core.BucketOf(f.DeliveryDate)).AddForward(f)
	}

	spotByBucket := make(map[core.BucketKey][]*core.SpotPositionRecord)
	if !o.cfg.AttributeSpot {
		return buckets, spotByBucket
	}

	metrics := telemetry.GetGlobalMetrics()
	for _, rec := range data.SpotPositions {
		b, ok := buckets[rec.Bucket]
		if !ok {
			logger.Warn("Spot position attributed to empty bucket, skipping",
				"bucket", rec.Bucket.String(), "pair", rec.Pair.String(), "amount", rec.Amount)
			metrics.AddReconcileAnomaly(context.Background(), "orphan_spot_attribution")
			continue
		}
		b.AddFxSpot(rec.Pair, rec.Amount)
		spotByBucket[rec.Bucket] = append(spotByBucket[rec.Bucket], rec)
	}
	return buckets, spotByBucket
}

// checkSpotAttribution flags suspicious spot attributions on a computed
// bucket: a spot that shares a sign with the cashflow exposure it is meant to
// offset, or one whose magnitude exceeds that exposure. Both are warn-and-
// continue consistency checks, never failures.
func (o *Orchestrator) checkSpotAttribution(ctx context.Context, b *bucket.Bucket, spots []*core.SpotPositionRecord, logger core.ILogger) {
	if len(spots) == 0 {
		return
	}
	metrics := telemetry.GetGlobalMetrics()

	seen := make(map[core.CurrencyPair]struct{}, len(spots))
	pairs := make([]core.CurrencyPair, 0, len(spots))
	for _, rec := range spots {
		if _, ok := seen[rec.Pair]; ok {
			continue
		}
		seen[rec.Pair] = struct{}{}
		pairs = append(pairs, rec.Pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })

	for _, pair := range pairs {
		spotAmt := b.SpotAmount(pair)
		cashflowExp := b.CashflowExposure(pair)

		if spotAmt*cashflowExp > 0 {
			logger.Warn("Spot position and cashflow exposure share a sign",
				"bucket", b.Key.String(), "pair", pair.String(),
				"spot", spotAmt, "cashflow_exposure", cashflowExp)
			metrics.AddReconcileAnomaly(ctx, "spot_same_sign")
		}
		if math.Abs(spotAmt) > math.Abs(cashflowExp) {
			logger.Warn("Spot position exceeds the cashflow exposure it offsets",
				"bucket", b.Key.String(), "pair", pair.String(),
				"spot", spotAmt, "cashflow_exposure", cashflowExp)
			metrics.AddReconcileAnomaly(ctx, "spot_exceeds_exposure")
		}
	}
}

func (o *Orchestrator) processBucket(ctx context.Context, cycleID string, b *bucket.Bucket, spots []*core.SpotPositionRecord, logger core.ILogger) (int64, int64, error) {
	account := b.Account
	key := b.Key
	metrics := telemetry.GetGlobalMetrics()

	prior, err := o.store.LatestHedgeRecord(ctx, account.ID, key)
	if err != nil {
		return 0, 0, fmt.Errorf("load prior record: %w", err)
	}

	npv := b.NPV()
	initialNPV := npv
	if prior != nil {
		initialNPV = prior.InitialNPV
	}

	// MaxPnL ratchets: it only ever grows across cycles
	pnl := npv - initialNPV
	maxPnL := pnl
	if prior != nil && prior.MaxPnL > maxPnL {
		maxPnL = prior.MaxPnL
	}

	lossLimit := initialNPV - account.MaxLoss
	adjustedLimit := lossLimit + o.cfg.MaxPnLCapture*math.Max(0, maxPnL)

	vol := b.Volatility()
	var fraction, probability float64
	switch {
	case vol > 0:
		fraction, probability = o.engine.CalculateReduction(npv, adjustedLimit, vol)
	case npv-adjustedLimit <= 0:
		// Riskless bucket already at or under its limit: lock it in
		fraction, probability = 1.0, 0.0
	default:
		fraction, probability = 0, 1.0
	}

	if account.LockLowerLimit && fraction > 0 {
		fraction = 1.0
	}

	nOrders, err := o.emitOrders(ctx, cycleID, b, fraction, logger)
	if err != nil {
		return nOrders, 0, err
	}

	rec := &core.HedgeRecord{
		ID:                uuid.NewString(),
		CycleID:           cycleID,
		Account:           account.ID,
		Bucket:            key,
		NPV:               npv,
		InitialNPV:        initialNPV,
		LossLimit:         lossLimit,
		AdjustedLossLimit: adjustedLimit,
		RealizedPnL:       b.RealizedPnL(),
		UnrealizedPnL:     b.UnrealizedPnL(),
		Volatility:        vol,
		BreachProbability: 1 - probability,
		FractionHedged:    fraction,
		MaxPnL:            maxPnL,
		MinClientCash:     math.Max(0, -adjustedLimit),
		CreatedAt:         time.Now().UTC(),
	}

	err = o.persist.WithContext(ctx).Run(func() error {
		return o.store.SaveHedgeRecord(ctx, rec)
	})
	if err != nil {
		return nOrders, 0, fmt.Errorf("persist hedge record: %w", err)
	}
	nRecords := int64(1)

	for _, spot := range spots {
		snapshot := *spot
		snapshot.ID = uuid.NewString()
		snapshot.CycleID = cycleID
		snapshot.CreatedAt = rec.CreatedAt
		err = o.persist.WithContext(ctx).Run(func() error {
			return o.store.SaveSpotPosition(ctx, &snapshot)
		})
		if err != nil {
			return nOrders, nRecords, fmt.Errorf("persist spot position: %w", err)
		}
		nRecords++
	}
	metrics.AddRecordsPersisted(ctx, nRecords)
	metrics.SetBreachProbability(string(account.ID), rec.BreachProbability)
	metrics.SetFractionHedged(string(account.ID), fraction)

	logger.Debug("Bucket processed",
		"bucket", key.String(),
		"npv", npv,
		"adjusted_limit", adjustedLimit,
		"fraction", fraction,
		"breach_probability", rec.BreachProbability,
	)
	return nOrders, nRecords, nil
}

// emitOrders turns a hedge fraction into rounded forward orders and submits
// them. A pair with no sizing entry is not tradeable and is skipped.
func (o *Orchestrator) emitOrders(ctx context.Context, cycleID string, b *bucket.Bucket, fraction float64, logger core.ILogger) (int64, error) {
	targets := b.FractionalHedge(fraction, o.cfg.AllowUnwind)
	if len(targets) == 0 {
		return 0, nil
	}

	pairs := make([]core.CurrencyPair, 0, len(targets))
	for pair := range targets {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })

	var emitted int64
	for _, pair := range pairs {
		sizing, ok := o.sizer.Sizing(b.Account.Company, pair)
		if !ok {
			logger.Warn("No sizing entry for pair, not tradeable",
				"company", string(b.Account.Company), "pair", pair.String())
			continue
		}

		// The order offsets the targeted exposure
		amount := RoundOrder(-targets[pair], sizing, o.currencies.MinorUnits(pair.Base))
		if amount == 0 {
			continue
		}

		order := &core.ForwardOrder{
			Account: b.Account.ID,
			Company: b.Account.Company,
			Pair:    pair,
			Amount:  amount,
			Bucket:  b.Key,
			CycleID: cycleID,
		}
		if err := o.sink.SubmitForward(ctx, order); err != nil {
			return emitted, fmt.Errorf("submit forward %s: %w", pair, err)
		}
		emitted++
		telemetry.GetGlobalMetrics().AddOrdersEmitted(ctx, 1)

		logger.Info("Forward order emitted",
			"bucket", b.Key.String(), "pair", pair.String(), "amount", amount)
	}
	return emitted, nil
}
