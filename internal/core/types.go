// Package core defines the shared types and collaborator interfaces for the
// FX hedge allocation system
package core

import (
	"fmt"
	"math"
	"time"
)

// Currency is an ISO-4217 style currency code, e.g. "USD"
type Currency string

// CurrencyPair is an ordered (base, quote) pair. It is a value type and is
// used as a map key throughout.
type CurrencyPair struct {
	Base  Currency
	Quote Currency
}

// Pair builds a CurrencyPair
func Pair(base, quote Currency) CurrencyPair {
	return CurrencyPair{Base: base, Quote: quote}
}

func (p CurrencyPair) String() string {
	return string(p.Base) + "/" + string(p.Quote)
}

// Inverse returns the pair with base and quote swapped
func (p CurrencyPair) Inverse() CurrencyPair {
	return CurrencyPair{Base: p.Quote, Quote: p.Base}
}

// AccountID identifies a sub-account owned by a company
type AccountID string

// CompanyID identifies the company that owns a set of accounts
type CompanyID string

// Account references an externally-owned account. Only the fields this core
// needs are carried here.
type Account struct {
	ID       AccountID
	Company  CompanyID
	Domestic Currency

	// MaxLoss is the parachute depth: the largest loss, in domestic
	// currency, the account tolerates per settlement bucket.
	MaxLoss float64

	// LockLowerLimit forces a full hedge the first time any reduction is
	// triggered, instead of a partial step.
	LockLowerLimit bool
}

// Position is the closed set of position variants unified behind one
// interface. Concrete implementations: BasicFxPosition here and any
// store-backed position a caller materializes.
type Position interface {
	GetAmount() float64
	GetTotalPrice() float64
	GetAccount() AccountID
}

// BasicFxPosition is an in-memory FX position. Amount is signed units of the
// base currency; TotalPrice is the non-negative magnitude of the cost basis.
type BasicFxPosition struct {
	Account    AccountID
	Pair       CurrencyPair
	Amount     float64
	TotalPrice float64
}

func (p *BasicFxPosition) GetAmount() float64     { return p.Amount }
func (p *BasicFxPosition) GetTotalPrice() float64 { return p.TotalPrice }
func (p *BasicFxPosition) GetAccount() AccountID  { return p.Account }

// AveragePrice is TotalPrice / |Amount|, or 0 for a flat position
func (p *BasicFxPosition) AveragePrice() float64 {
	if p.Amount == 0 {
		return 0
	}
	return p.TotalPrice / math.Abs(p.Amount)
}

// HedgeRequest is the amount an account's risk logic asked to trade this
// cycle. Ephemeral: produced upstream, consumed once by the reconciler.
type HedgeRequest struct {
	Account         AccountID
	Pair            CurrencyPair
	RequestedAmount float64
}

// FillSummary describes the aggregate market fill for one pair in one
// reconciliation cycle. At most one exists per pair per cycle; absence means
// no market trade occurred.
type FillSummary struct {
	Pair              CurrencyPair
	AmountFilled      float64
	AveragePrice      float64
	Commission        float64
	CounterCommission float64
}

// HedgeResult is the per-request outcome of a reconciliation: what actually
// filled for the account, at what price, and the PnL and commission
// attributed to it.
type HedgeResult struct {
	Account             AccountID
	Pair                CurrencyPair
	FilledAmount        float64
	AveragePrice        float64
	RealizedPnL         float64 // quote currency
	RealizedPnLDomestic float64
	Commission          float64
	CounterCommission   float64
}

// Cashflow is a future or settled cash obligation of an account
type Cashflow struct {
	ID       string
	Account  AccountID
	Currency Currency
	Amount   float64
	PayDate  time.Time

	// Settled cashflows no longer carry hedgeable risk; FinalValue is
	// their realized value in the account's domestic currency.
	Settled    bool
	FinalValue float64
}

// ForwardContract is an open or unwound FX forward held by an account.
// Amount is signed units of the base currency, Rate the entry rate.
type ForwardContract struct {
	ID           string
	Account      AccountID
	Pair         CurrencyPair
	Amount       float64
	Rate         float64
	DeliveryDate time.Time

	Unwound    bool
	UnwindRate float64
}

// BucketKey identifies one settlement month for one account
type BucketKey struct {
	Year  int
	Month time.Month
}

// BucketOf returns the settlement bucket a date falls into
func BucketOf(t time.Time) BucketKey {
	return BucketKey{Year: t.Year(), Month: t.Month()}
}

func (k BucketKey) String() string {
	return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month))
}

// Before reports whether k settles earlier than other
func (k BucketKey) Before(other BucketKey) bool {
	if k.Year != other.Year {
		return k.Year < other.Year
	}
	return k.Month < other.Month
}

// HedgeRecord is the persisted per-bucket snapshot written once per hedging
// cycle. It is immutable once written; the next cycle reads the latest one
// back as its recurrence state (MaxPnL, InitialNPV, RealizedPnL).
type HedgeRecord struct {
	ID      string
	CycleID string
	Account AccountID
	Bucket  BucketKey

	NPV               float64
	InitialNPV        float64
	LossLimit         float64
	AdjustedLossLimit float64
	RealizedPnL       float64
	UnrealizedPnL     float64
	Volatility        float64
	BreachProbability float64
	FractionHedged    float64

	// MaxPnL is the largest cumulative PnL ever observed for the bucket.
	// Monotonic non-decreasing across cycles.
	MaxPnL float64

	MinClientCash float64
	CreatedAt     time.Time
}

// SpotPositionRecord is the persisted per-pair spot attribution snapshot,
// one per account per pair per bucket per cycle
type SpotPositionRecord struct {
	ID      string
	CycleID string
	Account AccountID
	Pair    CurrencyPair
	Bucket  BucketKey

	Amount        float64
	TotalPrice    float64
	RealizedPnL   float64
	UnrealizedPnL float64
	CreatedAt     time.Time
}

// ForwardOrder is a sized, rounded forward order emitted by the orchestrator.
// Amount is signed units of the base currency.
type ForwardOrder struct {
	Account AccountID
	Company CompanyID
	Pair    CurrencyPair
	Amount  float64
	Bucket  BucketKey
	CycleID string
}

// OrderSizing is the per-(company, pair) order sizing configuration. A pair
// with no sizing entry must not be traded.
type OrderSizing struct {
	MinOrderSize    float64
	UseLotMultiples bool
}
