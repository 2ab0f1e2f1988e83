package apperrors

import "errors"

// Standardized domain errors
var (
	ErrMissingMarketData = errors.New("missing market data")
	ErrNaNMarketData     = errors.New("market data is NaN")
	ErrZeroSpotRate      = errors.New("spot rate is zero")
	ErrNoReferencePrice  = errors.New("no reference price available")
	ErrNoConversionRate  = errors.New("no conversion rate available")
	ErrBucketNotComputed = errors.New("bucket has not been computed")
	ErrStoreClosed       = errors.New("record store is closed")
)
