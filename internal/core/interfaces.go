package core

import (
	"context"
	"time"
)

// MarketSurface exposes the pairwise correlation/volatility surface as
// aligned vectors and matrices over one pair ordering. All three methods must
// be called with the same pair slice for the results to line up.
type MarketSurface interface {
	InstantFxSpotCorrMatrix(pairs []CurrencyPair) ([][]float64, error)
	FxSpots(pairs []CurrencyPair) ([]float64, error)
	VolsSpots(pairs []CurrencyPair) ([]float64, error)
}

// Universe is the valuation/market context collaborator. It owns spot rates,
// forward curves, discount factors and the correlation/volatility surface.
type Universe interface {
	RefDate() time.Time
	ValueCashflow(cf *Cashflow, quote Currency) (float64, error)
	Spot(pair CurrencyPair) (float64, error)
	Forward(pair CurrencyPair, date time.Time) (float64, error)
	Discount(ccy Currency, date time.Time) (float64, error)
	Convert(value float64, from, to Currency) (float64, error)
	Surface() MarketSurface
}

// SpotSource is the subset of Universe the reconciler needs: reference spot
// rates and currency conversion for domestic PnL.
type SpotSource interface {
	Spot(pair CurrencyPair) (float64, error)
	Convert(value float64, from, to Currency) (float64, error)
}

// RecordStore is the append-only persistence sink for computed records.
// Latest* return (nil, nil) when no prior record exists; a missing prior is
// an expected branch, not an error.
type RecordStore interface {
	SaveHedgeRecord(ctx context.Context, rec *HedgeRecord) error
	LatestHedgeRecord(ctx context.Context, account AccountID, bucket BucketKey) (*HedgeRecord, error)
	SaveSpotPosition(ctx context.Context, rec *SpotPositionRecord) error
	LatestSpotPosition(ctx context.Context, account AccountID, pair CurrencyPair, bucket BucketKey) (*SpotPositionRecord, error)
}

// OrderSink receives sized forward orders. Execution and routing live behind
// it, outside this core.
type OrderSink interface {
	SubmitForward(ctx context.Context, order *ForwardOrder) error
}

// OrderSizer resolves the order sizing configuration for a (company, pair).
// The second return is false when no entry exists, meaning the pair is not
// tradeable for that company.
type OrderSizer interface {
	Sizing(company CompanyID, pair CurrencyPair) (OrderSizing, bool)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
