package hedge

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"fx_hedger/internal/core"
	"fx_hedger/internal/mock"
	"fx_hedger/internal/stat"
	"fx_hedger/internal/store"
	"fx_hedger/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	eurusd = core.Pair("EUR", "USD")
	gbpusd = core.Pair("GBP", "USD")
)

func hedgeUniverse() *mock.StaticUniverse {
	u := mock.NewStaticUniverse()
	u.SetRefDate(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	u.SetSpot(eurusd, 1.10)
	u.SetForward(eurusd, 1.12)
	u.SetVol(eurusd, 0.08)
	return u
}

func testOrchestrator(t *testing.T, cfg OrchestratorConfig) (*Orchestrator, *store.MemoryStore, *mock.CollectingSink) {
	t.Helper()
	if cfg.ThresholdP == 0 {
		cfg.ThresholdP = 0.95
	}
	if cfg.UpperP == 0 {
		cfg.UpperP = 0.99
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}

	st := store.NewMemoryStore()
	sink := &mock.CollectingSink{}
	sizer := mock.NewStaticSizer("acme", map[core.CurrencyPair]core.OrderSizing{
		eurusd: {MinOrderSize: 1000},
	})
	o := NewOrchestrator(cfg, st, sink, sizer, core.DefaultCurrencyTable(), logging.NewNopLogger())
	return o, st, sink
}

func novCashflow(account core.AccountID, amount float64) *core.Cashflow {
	return &core.Cashflow{
		ID:       "cf-" + string(account),
		Account:  account,
		Currency: "EUR",
		Amount:   amount,
		PayDate:  time.Date(2026, 11, 15, 0, 0, 0, 0, time.UTC),
	}
}

func novKey() core.BucketKey {
	return core.BucketKey{Year: 2026, Month: time.November}
}

func TestRunCycle_ComfortableBucketDoesNotHedge(t *testing.T) {
	o, st, sink := testOrchestrator(t, OrchestratorConfig{})
	u := hedgeUniverse()
	ctx := context.Background()

	account := core.Account{ID: "A1", Company: "acme", Domestic: "USD", MaxLoss: 50000}
	report, err := o.RunCycle(ctx, u, []AccountData{
		{Account: account, Cashflows: []*core.Cashflow{novCashflow("A1", 100000)}},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.BucketsComputed)
	assert.Zero(t, report.BucketsFailed)
	assert.Zero(t, report.OrdersEmitted)
	assert.Empty(t, sink.Submitted())

	rec, err := st.LatestHedgeRecord(ctx, "A1", novKey())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, report.CycleID, rec.CycleID)
	assert.InDelta(t, 110000, rec.NPV, 1e-6)
	assert.InDelta(t, 110000, rec.InitialNPV, 1e-6)
	assert.InDelta(t, 60000, rec.LossLimit, 1e-6)
	assert.InDelta(t, 60000, rec.AdjustedLossLimit, 1e-6)
	assert.Zero(t, rec.FractionHedged)
	// 50000 of buffer against 8800 of vol is several sigmas of room
	assert.Less(t, rec.BreachProbability, 1e-6)
	assert.Zero(t, rec.MinClientCash)
}

func TestRunCycle_TightLimitTriggersPartialHedge(t *testing.T) {
	o, st, sink := testOrchestrator(t, OrchestratorConfig{})
	u := hedgeUniverse()
	ctx := context.Background()

	account := core.Account{ID: "A1", Company: "acme", Domestic: "USD", MaxLoss: 5000}
	report, err := o.RunCycle(ctx, u, []AccountData{
		{Account: account, Cashflows: []*core.Cashflow{novCashflow("A1", 100000)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.OrdersEmitted)

	// distance 5000, vol 8800: the fraction restores a 99% no-breach level
	vol := 100000 * 0.08 * 1.10
	wantFraction := 1 - (5000/stat.NormInvCDF(0.99))/vol

	rec, err := st.LatestHedgeRecord(ctx, "A1", novKey())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.InDelta(t, wantFraction, rec.FractionHedged, 1e-9)

	orders := sink.Submitted()
	require.Len(t, orders, 1)
	assert.Equal(t, core.AccountID("A1"), orders[0].Account)
	assert.Equal(t, eurusd, orders[0].Pair)
	// Order offsets the targeted exposure, rounded to cents
	assert.InDelta(t, -wantFraction*100000, orders[0].Amount, 0.005)
	assert.Equal(t, report.CycleID, orders[0].CycleID)
}

func TestRunCycle_LockLowerLimitForcesFullHedge(t *testing.T) {
	o, st, sink := testOrchestrator(t, OrchestratorConfig{})
	u := hedgeUniverse()
	ctx := context.Background()

	account := core.Account{ID: "A1", Company: "acme", Domestic: "USD", MaxLoss: 5000, LockLowerLimit: true}
	_, err := o.RunCycle(ctx, u, []AccountData{
		{Account: account, Cashflows: []*core.Cashflow{novCashflow("A1", 100000)}},
	})
	require.NoError(t, err)

	rec, err := st.LatestHedgeRecord(ctx, "A1", novKey())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.InDelta(t, 1.0, rec.FractionHedged, 1e-12)

	orders := sink.Submitted()
	require.Len(t, orders, 1)
	assert.InDelta(t, -100000, orders[0].Amount, 1e-9)
}

func TestRunCycle_MaxPnLRatchet(t *testing.T) {
	o, st, _ := testOrchestrator(t, OrchestratorConfig{MaxPnLCapture: 0.5})
	u := hedgeUniverse()
	ctx := context.Background()

	account := core.Account{ID: "A1", Company: "acme", Domestic: "USD", MaxLoss: 50000}
	data := []AccountData{{Account: account, Cashflows: []*core.Cashflow{novCashflow("A1", 100000)}}}

	_, err := o.RunCycle(ctx, u, data)
	require.NoError(t, err)

	// Spot rallies: bucket gains 10000 over its initial NPV
	u.SetSpot(eurusd, 1.20)
	_, err = o.RunCycle(ctx, u, data)
	require.NoError(t, err)

	rec, err := st.LatestHedgeRecord(ctx, "A1", novKey())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.InDelta(t, 110000, rec.InitialNPV, 1e-6)
	assert.InDelta(t, 10000, rec.MaxPnL, 1e-6)
	assert.InDelta(t, 65000, rec.AdjustedLossLimit, 1e-6)

	// Spot falls back: MaxPnL must not give back its high-water mark
	u.SetSpot(eurusd, 1.10)
	_, err = o.RunCycle(ctx, u, data)
	require.NoError(t, err)

	rec, err = st.LatestHedgeRecord(ctx, "A1", novKey())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.InDelta(t, 10000, rec.MaxPnL, 1e-6)
	assert.InDelta(t, 65000, rec.AdjustedLossLimit, 1e-6)
}

func TestRunCycle_AccountFailureIsIsolated(t *testing.T) {
	o, st, _ := testOrchestrator(t, OrchestratorConfig{})
	u := hedgeUniverse()
	// No vol for GBP/USD: B1's bucket cannot be valued
	u.SetSpot(gbpusd, 1.25)
	u.SetForward(gbpusd, 1.27)
	ctx := context.Background()

	good := core.Account{ID: "A1", Company: "acme", Domestic: "USD", MaxLoss: 50000}
	bad := core.Account{ID: "B1", Company: "acme", Domestic: "USD", MaxLoss: 50000}
	badFlow := &core.Cashflow{
		ID: "cf-B1", Account: "B1", Currency: "GBP", Amount: 40000,
		PayDate: time.Date(2026, 11, 15, 0, 0, 0, 0, time.UTC),
	}

	report, err := o.RunCycle(ctx, u, []AccountData{
		{Account: good, Cashflows: []*core.Cashflow{novCashflow("A1", 100000)}},
		{Account: bad, Cashflows: []*core.Cashflow{badFlow}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.BucketsComputed)
	assert.Equal(t, 1, report.BucketsFailed)

	rec, err := st.LatestHedgeRecord(ctx, "A1", novKey())
	require.NoError(t, err)
	assert.NotNil(t, rec)

	rec, err = st.LatestHedgeRecord(ctx, "B1", novKey())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRunCycle_UnsizedPairEmitsNoOrder(t *testing.T) {
	o, st, sink := testOrchestrator(t, OrchestratorConfig{})
	u := hedgeUniverse()
	u.SetSpot(gbpusd, 1.25)
	u.SetForward(gbpusd, 1.27)
	u.SetVol(gbpusd, 0.10)
	ctx := context.Background()

	account := core.Account{ID: "A1", Company: "acme", Domestic: "USD", MaxLoss: 2000, LockLowerLimit: true}
	gbpFlow := &core.Cashflow{
		ID: "cf-gbp", Account: "A1", Currency: "GBP", Amount: 40000,
		PayDate: time.Date(2026, 11, 15, 0, 0, 0, 0, time.UTC),
	}
	report, err := o.RunCycle(ctx, u, []AccountData{
		{Account: account, Cashflows: []*core.Cashflow{gbpFlow}},
	})
	require.NoError(t, err)

	// GBP/USD has no sizing entry, so the full hedge cannot trade
	assert.Zero(t, report.OrdersEmitted)
	assert.Empty(t, sink.Submitted())

	// The record is still written: sizing gaps do not lose state
	rec, err := st.LatestHedgeRecord(ctx, "A1", novKey())
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestRunCycle_SpotAttribution(t *testing.T) {
	o, st, _ := testOrchestrator(t, OrchestratorConfig{AttributeSpot: true})
	u := hedgeUniverse()
	ctx := context.Background()

	account := core.Account{ID: "A1", Company: "acme", Domestic: "USD", MaxLoss: 50000}
	spotRec := &core.SpotPositionRecord{
		ID: "sp1", Account: "A1", Pair: eurusd, Bucket: novKey(),
		Amount: -30000, TotalPrice: 33000,
	}
	orphan := &core.SpotPositionRecord{
		ID: "sp2", Account: "A1", Pair: eurusd,
		Bucket: core.BucketKey{Year: 2027, Month: time.March},
		Amount: 5000,
	}

	report, err := o.RunCycle(ctx, u, []AccountData{{
		Account:       account,
		Cashflows:     []*core.Cashflow{novCashflow("A1", 100000)},
		SpotPositions: []*core.SpotPositionRecord{spotRec, orphan},
	}})
	require.NoError(t, err)
	// Hedge record plus the attributed spot snapshot; the orphan is dropped
	assert.Equal(t, 2, report.RecordsPersisted)

	snap, err := st.LatestSpotPosition(ctx, "A1", eurusd, novKey())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, report.CycleID, snap.CycleID)
	assert.NotEqual(t, "sp1", snap.ID)
	assert.InDelta(t, -30000, snap.Amount, 1e-9)

	orphanSnap, err := st.LatestSpotPosition(ctx, "A1", eurusd, orphan.Bucket)
	require.NoError(t, err)
	assert.Nil(t, orphanSnap)
}

// warnLogger records Warn messages and discards everything else
type warnLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *warnLogger) Debug(msg string, fields ...interface{}) {}
func (l *warnLogger) Info(msg string, fields ...interface{})  {}
func (l *warnLogger) Warn(msg string, fields ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}
func (l *warnLogger) Error(msg string, fields ...interface{})               {}
func (l *warnLogger) Fatal(msg string, fields ...interface{})               {}
func (l *warnLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *warnLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func (l *warnLogger) warned(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, msg := range l.warns {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func TestRunCycle_ComputeFailureAbortsAccountWithoutPartialWrites(t *testing.T) {
	o, st, _ := testOrchestrator(t, OrchestratorConfig{})
	u := hedgeUniverse()
	// GBP/USD has spot and forward but no vol: the December bucket cannot
	// be valued while the November one can.
	u.SetSpot(gbpusd, 1.25)
	u.SetForward(gbpusd, 1.27)
	ctx := context.Background()

	account := core.Account{ID: "A1", Company: "acme", Domestic: "USD", MaxLoss: 50000}
	decFlow := &core.Cashflow{
		ID: "cf-dec", Account: "A1", Currency: "GBP", Amount: 40000,
		PayDate: time.Date(2026, 12, 10, 0, 0, 0, 0, time.UTC),
	}
	report, err := o.RunCycle(ctx, u, []AccountData{{
		Account:   account,
		Cashflows: []*core.Cashflow{novCashflow("A1", 100000), decFlow},
	}})
	require.NoError(t, err)

	assert.Zero(t, report.BucketsComputed)
	assert.Equal(t, 2, report.BucketsFailed)
	assert.Zero(t, report.RecordsPersisted)

	// The November bucket was valuable on its own but must not have been
	// persisted once its sibling failed.
	rec, err := st.LatestHedgeRecord(ctx, "A1", novKey())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRunCycle_SpotAttributionAnomaliesWarned(t *testing.T) {
	logger := &warnLogger{}
	st := store.NewMemoryStore()
	sizer := mock.NewStaticSizer("acme", map[core.CurrencyPair]core.OrderSizing{
		eurusd: {MinOrderSize: 1000},
	})
	o := NewOrchestrator(OrchestratorConfig{
		ThresholdP:    0.95,
		UpperP:        0.99,
		AttributeSpot: true,
		Workers:       2,
	}, st, &mock.CollectingSink{}, sizer, core.DefaultCurrencyTable(), logger)
	u := hedgeUniverse()
	ctx := context.Background()

	account := core.Account{ID: "A1", Company: "acme", Domestic: "USD", MaxLoss: 500000}
	sameSign := &core.SpotPositionRecord{
		ID: "sp1", Account: "A1", Pair: eurusd, Bucket: novKey(), Amount: 30000,
	}
	report, err := o.RunCycle(ctx, u, []AccountData{{
		Account:       account,
		Cashflows:     []*core.Cashflow{novCashflow("A1", 100000)},
		SpotPositions: []*core.SpotPositionRecord{sameSign},
	}})
	require.NoError(t, err)

	// Warn-and-continue: the cycle still completes and persists.
	assert.Equal(t, 1, report.BucketsComputed)
	assert.True(t, logger.warned("share a sign"))
	rec, err := st.LatestHedgeRecord(ctx, "A1", novKey())
	require.NoError(t, err)
	require.NotNil(t, rec)

	// An opposite-signed spot larger than the cashflow exposure trips the
	// magnitude check instead.
	logger2 := &warnLogger{}
	o2 := NewOrchestrator(OrchestratorConfig{
		ThresholdP:    0.95,
		UpperP:        0.99,
		AttributeSpot: true,
		Workers:       2,
	}, store.NewMemoryStore(), &mock.CollectingSink{}, sizer, core.DefaultCurrencyTable(), logger2)
	oversized := &core.SpotPositionRecord{
		ID: "sp2", Account: "A1", Pair: eurusd, Bucket: novKey(), Amount: -150000,
	}
	_, err = o2.RunCycle(ctx, u, []AccountData{{
		Account:       account,
		Cashflows:     []*core.Cashflow{novCashflow("A1", 100000)},
		SpotPositions: []*core.SpotPositionRecord{oversized},
	}})
	require.NoError(t, err)
	assert.True(t, logger2.warned("exceeds the cashflow exposure"))
	assert.False(t, logger2.warned("share a sign"))
}

func TestRunCycle_RisklessBucketUnderLimitLocksIn(t *testing.T) {
	o, st, _ := testOrchestrator(t, OrchestratorConfig{})
	u := hedgeUniverse()
	ctx := context.Background()

	// Domestic-only cashflow: no exposure, zero volatility
	account := core.Account{ID: "A1", Company: "acme", Domestic: "USD", MaxLoss: 50000}
	usdFlow := &core.Cashflow{
		ID: "cf-usd", Account: "A1", Currency: "USD", Amount: 80000,
		PayDate: time.Date(2026, 11, 15, 0, 0, 0, 0, time.UTC),
	}
	report, err := o.RunCycle(ctx, u, []AccountData{
		{Account: account, Cashflows: []*core.Cashflow{usdFlow}},
	})
	require.NoError(t, err)
	assert.Zero(t, report.OrdersEmitted)

	rec, err := st.LatestHedgeRecord(ctx, "A1", novKey())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Zero(t, rec.Volatility)
	assert.Zero(t, rec.FractionHedged)
	assert.Zero(t, rec.BreachProbability)
}
