package main

import (
	"fmt"
	"os"
	"time"

	"fx_hedger/internal/config"
	"fx_hedger/internal/core"
	"fx_hedger/internal/hedge"
	"fx_hedger/internal/mock"

	"gopkg.in/yaml.v3"
)

// Scenario is the market and portfolio snapshot one batch run operates on.
// Rates are flat: the file carries one spot, forward and vol per pair.
type Scenario struct {
	RefDate      string                  `yaml:"ref_date"`
	Spots        map[string]float64      `yaml:"spots"`
	Forwards     map[string]float64      `yaml:"forwards"`
	Vols         map[string]float64      `yaml:"vols"`
	Correlations []CorrelationEntry      `yaml:"correlations"`
	Portfolio    map[string]AccountInput `yaml:"portfolio"`
}

// CorrelationEntry is one symmetric pairwise correlation
type CorrelationEntry struct {
	A     string  `yaml:"a"`
	B     string  `yaml:"b"`
	Value float64 `yaml:"value"`
}

// AccountInput is one account's holdings in the scenario file
type AccountInput struct {
	Cashflows     []CashflowInput     `yaml:"cashflows"`
	Forwards      []ForwardInput      `yaml:"forwards"`
	SpotPositions []SpotPositionInput `yaml:"spot_positions"`
}

type CashflowInput struct {
	ID         string  `yaml:"id"`
	Currency   string  `yaml:"currency"`
	Amount     float64 `yaml:"amount"`
	PayDate    string  `yaml:"pay_date"`
	Settled    bool    `yaml:"settled"`
	FinalValue float64 `yaml:"final_value"`
}

type ForwardInput struct {
	ID           string  `yaml:"id"`
	Pair         string  `yaml:"pair"`
	Amount       float64 `yaml:"amount"`
	Rate         float64 `yaml:"rate"`
	DeliveryDate string  `yaml:"delivery_date"`
	Unwound      bool    `yaml:"unwound"`
	UnwindRate   float64 `yaml:"unwind_rate"`
}

type SpotPositionInput struct {
	Pair       string  `yaml:"pair"`
	Bucket     string  `yaml:"bucket"`
	Amount     float64 `yaml:"amount"`
	TotalPrice float64 `yaml:"total_price"`
}

// LoadScenario reads and parses a scenario file
func LoadScenario(filename string) (*Scenario, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario file: %w", err)
	}
	return &s, nil
}

// Universe builds the static market context the scenario describes
func (s *Scenario) Universe() (core.Universe, error) {
	u := mock.NewStaticUniverse()

	if s.RefDate != "" {
		refDate, err := time.Parse("2006-01-02", s.RefDate)
		if err != nil {
			return nil, fmt.Errorf("invalid ref_date %q: %w", s.RefDate, err)
		}
		u.SetRefDate(refDate)
	}

	for pairStr, rate := range s.Spots {
		pair, err := config.ParsePair(pairStr)
		if err != nil {
			return nil, fmt.Errorf("spots: %w", err)
		}
		u.SetSpot(pair, rate)
	}
	for pairStr, rate := range s.Forwards {
		pair, err := config.ParsePair(pairStr)
		if err != nil {
			return nil, fmt.Errorf("forwards: %w", err)
		}
		u.SetForward(pair, rate)
	}
	for pairStr, vol := range s.Vols {
		pair, err := config.ParsePair(pairStr)
		if err != nil {
			return nil, fmt.Errorf("vols: %w", err)
		}
		u.SetVol(pair, vol)
	}
	for _, entry := range s.Correlations {
		a, err := config.ParsePair(entry.A)
		if err != nil {
			return nil, fmt.Errorf("correlations: %w", err)
		}
		b, err := config.ParsePair(entry.B)
		if err != nil {
			return nil, fmt.Errorf("correlations: %w", err)
		}
		u.SetCorrelation(a, b, entry.Value)
	}
	return u, nil
}

// AccountData joins the configured accounts with the scenario's portfolio.
// Accounts without portfolio entries get empty data and are skipped upstream.
func (s *Scenario) AccountData(accounts []core.Account) ([]hedge.AccountData, error) {
	out := make([]hedge.AccountData, 0, len(accounts))
	for _, account := range accounts {
		input, ok := s.Portfolio[string(account.ID)]
		if !ok {
			continue
		}

		data := hedge.AccountData{Account: account}
		for _, cf := range input.Cashflows {
			payDate, err := time.Parse("2006-01-02", cf.PayDate)
			if err != nil {
				return nil, fmt.Errorf("account %s cashflow %s: %w", account.ID, cf.ID, err)
			}
			data.Cashflows = append(data.Cashflows, &core.Cashflow{
				ID:         cf.ID,
				Account:    account.ID,
				Currency:   core.Currency(cf.Currency),
				Amount:     cf.Amount,
				PayDate:    payDate,
				Settled:    cf.Settled,
				FinalValue: cf.FinalValue,
			})
		}
		for _, f := range input.Forwards {
			pair, err := config.ParsePair(f.Pair)
			if err != nil {
				return nil, fmt.Errorf("account %s forward %s: %w", account.ID, f.ID, err)
			}
			deliveryDate, err := time.Parse("2006-01-02", f.DeliveryDate)
			if err != nil {
				return nil, fmt.Errorf("account %s forward %s: %w", account.ID, f.ID, err)
			}
			data.Forwards = append(data.Forwards, &core.ForwardContract{
				ID:           f.ID,
				Account:      account.ID,
				Pair:         pair,
				Amount:       f.Amount,
				Rate:         f.Rate,
				DeliveryDate: deliveryDate,
				Unwound:      f.Unwound,
				UnwindRate:   f.UnwindRate,
			})
		}
		for _, sp := range input.SpotPositions {
			pair, err := config.ParsePair(sp.Pair)
			if err != nil {
				return nil, fmt.Errorf("account %s spot position: %w", account.ID, err)
			}
			bucket, err := parseBucket(sp.Bucket)
			if err != nil {
				return nil, fmt.Errorf("account %s spot position: %w", account.ID, err)
			}
			data.SpotPositions = append(data.SpotPositions, &core.SpotPositionRecord{
				Account:    account.ID,
				Pair:       pair,
				Bucket:     bucket,
				Amount:     sp.Amount,
				TotalPrice: sp.TotalPrice,
			})
		}
		out = append(out, data)
	}
	return out, nil
}

func parseBucket(s string) (core.BucketKey, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return core.BucketKey{}, fmt.Errorf("bucket must be formatted as YYYY-MM, got %q", s)
	}
	return core.BucketOf(t), nil
}
