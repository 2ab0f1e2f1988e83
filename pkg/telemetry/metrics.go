package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricBucketsComputed      = "fx_hedger_buckets_computed_total"
	MetricAccountCycleFailures = "fx_hedger_account_cycle_failures_total"
	MetricOrdersEmitted        = "fx_hedger_forward_orders_emitted_total"
	MetricRecordsPersisted     = "fx_hedger_records_persisted_total"
	MetricReconcileAnomalies   = "fx_hedger_reconcile_anomalies_total"
	MetricBreachProbability    = "fx_hedger_breach_probability"
	MetricFractionHedged       = "fx_hedger_fraction_hedged"
	MetricCycleDuration        = "fx_hedger_cycle_duration_ms"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	BucketsComputed      metric.Int64Counter
	AccountCycleFailures metric.Int64Counter
	OrdersEmitted        metric.Int64Counter
	RecordsPersisted     metric.Int64Counter
	ReconcileAnomalies   metric.Int64Counter
	BreachProbability    metric.Float64ObservableGauge
	FractionHedged       metric.Float64ObservableGauge
	CycleDuration        metric.Float64Histogram

	// State for observable gauges, keyed by account id
	mu              sync.RWMutex
	breachProbMap   map[string]float64
	fractionHedgMap map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			breachProbMap:   make(map[string]float64),
			fractionHedgMap: make(map[string]float64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.BucketsComputed, err = meter.Int64Counter(MetricBucketsComputed, metric.WithDescription("Exposure buckets computed"))
	if err != nil {
		return err
	}

	m.AccountCycleFailures, err = meter.Int64Counter(MetricAccountCycleFailures, metric.WithDescription("Account hedging cycles aborted"))
	if err != nil {
		return err
	}

	m.OrdersEmitted, err = meter.Int64Counter(MetricOrdersEmitted, metric.WithDescription("Forward orders emitted after rounding"))
	if err != nil {
		return err
	}

	m.RecordsPersisted, err = meter.Int64Counter(MetricRecordsPersisted, metric.WithDescription("Hedge and spot position records persisted"))
	if err != nil {
		return err
	}

	m.ReconcileAnomalies, err = meter.Int64Counter(MetricReconcileAnomalies, metric.WithDescription("Reconciliation consistency anomalies observed"))
	if err != nil {
		return err
	}

	m.CycleDuration, err = meter.Float64Histogram(MetricCycleDuration, metric.WithDescription("Duration of a full hedging cycle"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.BreachProbability, err = meter.Float64ObservableGauge(MetricBreachProbability, metric.WithDescription("Latest breach probability per account"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for account, val := range m.breachProbMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("account", account)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.FractionHedged, err = meter.Float64ObservableGauge(MetricFractionHedged, metric.WithDescription("Latest hedged fraction per account"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for account, val := range m.fractionHedgMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("account", account)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Counter helpers. All are safe to call before InitMetrics; uninitialized
// instruments are skipped so pure-computation tests need no OTel setup.

func (m *MetricsHolder) AddBucketsComputed(ctx context.Context, n int64) {
	if m.BucketsComputed != nil {
		m.BucketsComputed.Add(ctx, n)
	}
}

func (m *MetricsHolder) AddAccountCycleFailure(ctx context.Context, account string) {
	if m.AccountCycleFailures != nil {
		m.AccountCycleFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("account", account)))
	}
}

func (m *MetricsHolder) AddOrdersEmitted(ctx context.Context, n int64) {
	if m.OrdersEmitted != nil {
		m.OrdersEmitted.Add(ctx, n)
	}
}

func (m *MetricsHolder) AddRecordsPersisted(ctx context.Context, n int64) {
	if m.RecordsPersisted != nil {
		m.RecordsPersisted.Add(ctx, n)
	}
}

func (m *MetricsHolder) AddReconcileAnomaly(ctx context.Context, kind string) {
	if m.ReconcileAnomalies != nil {
		m.ReconcileAnomalies.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (m *MetricsHolder) RecordCycleDuration(ctx context.Context, ms float64) {
	if m.CycleDuration != nil {
		m.CycleDuration.Record(ctx, ms)
	}
}

// Helpers to update observable state

func (m *MetricsHolder) SetBreachProbability(account string, p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breachProbMap[account] = p
}

func (m *MetricsHolder) SetFractionHedged(account string, f float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fractionHedgMap[account] = f
}

func (m *MetricsHolder) GetBreachProbabilities() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.breachProbMap {
		res[k] = v
	}
	return res
}
