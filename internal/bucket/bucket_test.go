package bucket

import (
	"math"
	"testing"
	"time"

	"fx_hedger/internal/core"
	"fx_hedger/internal/mock"
	apperrors "fx_hedger/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	eurusd = core.Pair("EUR", "USD")
	gbpusd = core.Pair("GBP", "USD")
)

func usdAccount() core.Account {
	return core.Account{ID: "A1", Company: "acme", Domestic: "USD", MaxLoss: 50000}
}

func testUniverse() *mock.StaticUniverse {
	u := mock.NewStaticUniverse()
	u.SetRefDate(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	u.SetSpot(eurusd, 1.10)
	u.SetSpot(gbpusd, 1.25)
	u.SetForward(eurusd, 1.12)
	u.SetForward(gbpusd, 1.27)
	u.SetVol(eurusd, 0.08)
	u.SetVol(gbpusd, 0.10)
	u.SetCorrelation(eurusd, gbpusd, 0.6)
	return u
}

func novKey() core.BucketKey {
	return core.BucketKey{Year: 2026, Month: time.November}
}

func payDate() time.Time {
	return time.Date(2026, 11, 15, 0, 0, 0, 0, time.UTC)
}

func TestCompute_FutureCashflowContributesExposureAndNPV(t *testing.T) {
	u := testUniverse()
	b := New(usdAccount(), novKey())
	b.AddCashflow(&core.Cashflow{ID: "cf1", Account: "A1", Currency: "EUR", Amount: 100000, PayDate: payDate()})

	require.NoError(t, b.Compute(u))

	assert.InDelta(t, 100000, b.Exposure()[eurusd], 1e-9)
	// Static universe values cashflows at spot with unit discounting
	assert.InDelta(t, 110000, b.NPV(), 1e-6)
	assert.True(t, b.Computed())
}

func TestCompute_SettledCashflowHasNoExposure(t *testing.T) {
	u := testUniverse()
	b := New(usdAccount(), novKey())
	b.AddCashflow(&core.Cashflow{
		ID: "cf1", Account: "A1", Currency: "EUR", Amount: 100000,
		PayDate: payDate(), Settled: true, FinalValue: 108000,
	})

	require.NoError(t, b.Compute(u))

	assert.Empty(t, b.Exposure())
	assert.InDelta(t, 108000, b.NPV(), 1e-9)
	assert.Zero(t, b.Volatility())
}

func TestCompute_ForwardMarkToMarket(t *testing.T) {
	u := testUniverse()
	b := New(usdAccount(), novKey())
	b.AddForward(&core.ForwardContract{
		ID: "f1", Account: "A1", Pair: eurusd, Amount: -50000, Rate: 1.15,
		DeliveryDate: payDate(),
	})

	require.NoError(t, b.Compute(u))

	// Short 50000 entered at 1.15, now 1.12: pnl = -50000 * (1.12 - 1.15)
	assert.InDelta(t, 1500, b.UnrealizedPnL(), 1e-9)
	assert.InDelta(t, 1500, b.NPV(), 1e-9)
	assert.InDelta(t, -50000, b.Exposure()[eurusd], 1e-9)
	assert.Zero(t, b.RealizedPnL())
}

func TestCompute_UnwoundForwardRealizesAtUnwindRate(t *testing.T) {
	u := testUniverse()
	b := New(usdAccount(), novKey())
	b.AddForward(&core.ForwardContract{
		ID: "f1", Account: "A1", Pair: eurusd, Amount: -50000, Rate: 1.15,
		DeliveryDate: payDate(), Unwound: true, UnwindRate: 1.10,
	})

	require.NoError(t, b.Compute(u))

	assert.InDelta(t, 2500, b.RealizedPnL(), 1e-9)
	assert.Zero(t, b.UnrealizedPnL())
	// Unwound forwards carry no live risk
	assert.Empty(t, b.Exposure())
}

func TestCompute_SpotAttributionAddsExposureUnreduced(t *testing.T) {
	u := testUniverse()
	b := New(usdAccount(), novKey())
	b.AddCashflow(&core.Cashflow{ID: "cf1", Account: "A1", Currency: "EUR", Amount: 100000, PayDate: payDate()})
	b.AddFxSpot(eurusd, -30000)

	require.NoError(t, b.Compute(u))

	assert.InDelta(t, 70000, b.Exposure()[eurusd], 1e-9)
}

func TestCompute_Volatility(t *testing.T) {
	u := testUniverse()
	b := New(usdAccount(), novKey())
	b.AddCashflow(&core.Cashflow{ID: "cf1", Account: "A1", Currency: "EUR", Amount: 100000, PayDate: payDate()})
	b.AddCashflow(&core.Cashflow{ID: "cf2", Account: "A1", Currency: "GBP", Amount: 40000, PayDate: payDate()})

	require.NoError(t, b.Compute(u))

	// variance = sum_ij w_i w_j corr_ij (vol_i spot_i)(vol_j spot_j)
	s1 := 0.08 * 1.10
	s2 := 0.10 * 1.25
	w1, w2 := 100000.0, 40000.0
	want := math.Sqrt(w1*w1*s1*s1 + w2*w2*s2*s2 + 2*w1*w2*0.6*s1*s2)
	assert.InDelta(t, want, b.Volatility(), 1e-6)
}

func TestCompute_NaNVolFailsFast(t *testing.T) {
	u := testUniverse()
	u.SetVol(eurusd, math.NaN())
	b := New(usdAccount(), novKey())
	b.AddCashflow(&core.Cashflow{ID: "cf1", Account: "A1", Currency: "EUR", Amount: 100000, PayDate: payDate()})

	err := b.Compute(u)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNaNMarketData)
	assert.False(t, b.Computed())
}

func TestCompute_MissingForwardRateFailsFast(t *testing.T) {
	u := testUniverse()
	b := New(usdAccount(), novKey())
	b.AddForward(&core.ForwardContract{
		ID: "f1", Account: "A1", Pair: core.Pair("NOK", "USD"), Amount: 1000, Rate: 0.09,
		DeliveryDate: payDate(),
	})

	assert.Error(t, b.Compute(u))
}

func TestFractionalHedge_Clamped(t *testing.T) {
	u := testUniverse()
	b := New(usdAccount(), novKey())
	b.AddCashflow(&core.Cashflow{ID: "cf1", Account: "A1", Currency: "EUR", Amount: 100000, PayDate: payDate()})
	require.NoError(t, b.Compute(u))

	targets := b.FractionalHedge(2.5, true)
	assert.InDelta(t, 100000, targets[eurusd], 1e-9)

	targets = b.FractionalHedge(-3, true)
	assert.InDelta(t, -100000, targets[eurusd], 1e-9)
}

func TestFractionalHedge_HalfExposure(t *testing.T) {
	u := testUniverse()
	b := New(usdAccount(), novKey())
	b.AddCashflow(&core.Cashflow{ID: "cf1", Account: "A1", Currency: "EUR", Amount: 100000, PayDate: payDate()})
	b.AddForward(&core.ForwardContract{
		ID: "f1", Account: "A1", Pair: eurusd, Amount: -40000, Rate: 1.12,
		DeliveryDate: payDate(),
	})
	require.NoError(t, b.Compute(u))

	targets := b.FractionalHedge(0.5, true)
	// Residual exposure is 60000; half of it is targeted
	assert.InDelta(t, 30000, targets[eurusd], 1e-9)
}

func TestFractionalHedge_NoUnwindBlocksNegativeFraction(t *testing.T) {
	u := testUniverse()
	b := New(usdAccount(), novKey())
	b.AddCashflow(&core.Cashflow{ID: "cf1", Account: "A1", Currency: "EUR", Amount: 100000, PayDate: payDate()})
	require.NoError(t, b.Compute(u))

	targets := b.FractionalHedge(-0.5, false)
	assert.Empty(t, targets)
}

func TestFractionalHedge_NoUnwindCapsAtCashflowExposure(t *testing.T) {
	u := testUniverse()
	b := New(usdAccount(), novKey())
	b.AddCashflow(&core.Cashflow{ID: "cf1", Account: "A1", Currency: "EUR", Amount: 100000, PayDate: payDate()})
	b.AddForward(&core.ForwardContract{
		ID: "f1", Account: "A1", Pair: eurusd, Amount: -90000, Rate: 1.12,
		DeliveryDate: payDate(),
	})
	require.NoError(t, b.Compute(u))

	// Residual is 10000; a full hedge would push the forward to -100000,
	// exactly offsetting the cashflow side, which the cap allows.
	targets := b.FractionalHedge(1, false)
	assert.InDelta(t, 10000, targets[eurusd], 1e-9)
}
