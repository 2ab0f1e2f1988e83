// Package mock provides in-memory test doubles for the market and order
// collaborators
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fx_hedger/internal/core"
	apperrors "fx_hedger/pkg/errors"
)

// StaticUniverse is a fixed-rate core.Universe for tests. Cashflows are
// valued at spot with unit discounting; forward rates are flat per pair.
type StaticUniverse struct {
	refDate      time.Time
	spots        map[core.CurrencyPair]float64
	forwards     map[core.CurrencyPair]float64
	vols         map[core.CurrencyPair]float64
	correlations map[[2]core.CurrencyPair]float64
}

// NewStaticUniverse returns an empty universe with refDate set to now
func NewStaticUniverse() *StaticUniverse {
	return &StaticUniverse{
		refDate:      time.Now().UTC(),
		spots:        make(map[core.CurrencyPair]float64),
		forwards:     make(map[core.CurrencyPair]float64),
		vols:         make(map[core.CurrencyPair]float64),
		correlations: make(map[[2]core.CurrencyPair]float64),
	}
}

func (u *StaticUniverse) SetRefDate(t time.Time) { u.refDate = t }

func (u *StaticUniverse) SetSpot(pair core.CurrencyPair, r float64) { u.spots[pair] = r }

func (u *StaticUniverse) SetForward(pair core.CurrencyPair, r float64) { u.forwards[pair] = r }

func (u *StaticUniverse) SetVol(pair core.CurrencyPair, v float64) { u.vols[pair] = v }

// SetCorrelation records a symmetric pairwise correlation
func (u *StaticUniverse) SetCorrelation(a, b core.CurrencyPair, c float64) {
	u.correlations[[2]core.CurrencyPair{a, b}] = c
	u.correlations[[2]core.CurrencyPair{b, a}] = c
}

func (u *StaticUniverse) RefDate() time.Time { return u.refDate }

func (u *StaticUniverse) Spot(pair core.CurrencyPair) (float64, error) {
	if pair.Base == pair.Quote {
		return 1, nil
	}
	if r, ok := u.spots[pair]; ok {
		return r, nil
	}
	if r, ok := u.spots[pair.Inverse()]; ok && r != 0 {
		return 1 / r, nil
	}
	return 0, fmt.Errorf("spot %s: %w", pair, apperrors.ErrMissingMarketData)
}

func (u *StaticUniverse) Forward(pair core.CurrencyPair, _ time.Time) (float64, error) {
	if r, ok := u.forwards[pair]; ok {
		return r, nil
	}
	return 0, fmt.Errorf("forward %s: %w", pair, apperrors.ErrMissingMarketData)
}

func (u *StaticUniverse) Discount(core.Currency, time.Time) (float64, error) {
	return 1, nil
}

func (u *StaticUniverse) ValueCashflow(cf *core.Cashflow, quote core.Currency) (float64, error) {
	return u.Convert(cf.Amount, cf.Currency, quote)
}

func (u *StaticUniverse) Convert(value float64, from, to core.Currency) (float64, error) {
	if from == to {
		return value, nil
	}
	rate, err := u.Spot(core.Pair(from, to))
	if err != nil {
		return 0, fmt.Errorf("convert %s->%s: %w", from, to, apperrors.ErrNoConversionRate)
	}
	return value * rate, nil
}

func (u *StaticUniverse) Surface() core.MarketSurface { return u }

func (u *StaticUniverse) InstantFxSpotCorrMatrix(pairs []core.CurrencyPair) ([][]float64, error) {
	m := make([][]float64, len(pairs))
	for i := range pairs {
		m[i] = make([]float64, len(pairs))
		for j := range pairs {
			if i == j {
				m[i][j] = 1
				continue
			}
			m[i][j] = u.correlations[[2]core.CurrencyPair{pairs[i], pairs[j]}]
		}
	}
	return m, nil
}

func (u *StaticUniverse) FxSpots(pairs []core.CurrencyPair) ([]float64, error) {
	out := make([]float64, len(pairs))
	for i, p := range pairs {
		r, err := u.Spot(p)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func (u *StaticUniverse) VolsSpots(pairs []core.CurrencyPair) ([]float64, error) {
	out := make([]float64, len(pairs))
	for i, p := range pairs {
		v, ok := u.vols[p]
		if !ok {
			return nil, fmt.Errorf("vol %s: %w", p, apperrors.ErrMissingMarketData)
		}
		out[i] = v
	}
	return out, nil
}

// CollectingSink is a core.OrderSink that records submitted orders
type CollectingSink struct {
	mu     sync.Mutex
	Orders []*core.ForwardOrder

	// Err, when set, is returned by every SubmitForward call
	Err error
}

func (s *CollectingSink) SubmitForward(_ context.Context, order *core.ForwardOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Orders = append(s.Orders, order)
	return nil
}

// Submitted returns a snapshot of the orders received so far
func (s *CollectingSink) Submitted() []*core.ForwardOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.ForwardOrder, len(s.Orders))
	copy(out, s.Orders)
	return out
}

// StaticSizer is a core.OrderSizer backed by a fixed table
type StaticSizer struct {
	Entries map[core.CompanyID]map[core.CurrencyPair]core.OrderSizing
}

// NewStaticSizer builds a sizer with one company's entries
func NewStaticSizer(company core.CompanyID, entries map[core.CurrencyPair]core.OrderSizing) *StaticSizer {
	return &StaticSizer{Entries: map[core.CompanyID]map[core.CurrencyPair]core.OrderSizing{company: entries}}
}

func (s *StaticSizer) Sizing(company core.CompanyID, pair core.CurrencyPair) (core.OrderSizing, bool) {
	byPair, ok := s.Entries[company]
	if !ok {
		return core.OrderSizing{}, false
	}
	sz, ok := byPair[pair]
	return sz, ok
}
