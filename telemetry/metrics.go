package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricInstruments caches metric instruments by name so hot paths never
// re-create them.
type MetricInstruments struct {
	meter         metric.Meter
	counters      map[string]metric.Int64Counter
	floatCounters map[string]metric.Float64Counter
	histograms    map[string]metric.Float64Histogram
	mu            sync.RWMutex
}

// NewMetricInstruments creates a new metrics instrument cache on meter.
func NewMetricInstruments(meter metric.Meter) *MetricInstruments {
	return &MetricInstruments{
		meter:         meter,
		counters:      make(map[string]metric.Int64Counter),
		floatCounters: make(map[string]metric.Float64Counter),
		histograms:    make(map[string]metric.Float64Histogram),
	}
}

// cached returns the instrument for name, creating it under the write lock
// on first use.
func cached[T any](mu *sync.RWMutex, cache map[string]T, name string, create func(string) (T, error)) (T, error) {
	mu.RLock()
	inst, ok := cache[name]
	mu.RUnlock()
	if ok {
		return inst, nil
	}

	mu.Lock()
	defer mu.Unlock()
	if inst, ok = cache[name]; ok {
		return inst, nil
	}
	inst, err := create(name)
	if err != nil {
		return inst, err
	}
	cache[name] = inst
	return inst, nil
}

// RecordCounter increments an integer counter.
func (m *MetricInstruments) RecordCounter(ctx context.Context, name string, value int64, opts ...metric.AddOption) error {
	counter, err := cached(&m.mu, m.counters, name, func(n string) (metric.Int64Counter, error) {
		return m.meter.Int64Counter(n)
	})
	if err != nil {
		return fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	counter.Add(ctx, value, opts...)
	return nil
}

// RecordFloatCounter increments a float counter.
func (m *MetricInstruments) RecordFloatCounter(ctx context.Context, name string, value float64, opts ...metric.AddOption) error {
	counter, err := cached(&m.mu, m.floatCounters, name, func(n string) (metric.Float64Counter, error) {
		return m.meter.Float64Counter(n)
	})
	if err != nil {
		return fmt.Errorf("failed to create float counter %s: %w", name, err)
	}
	counter.Add(ctx, value, opts...)
	return nil
}

// RecordHistogram records a value distribution (latencies, batch sizes).
func (m *MetricInstruments) RecordHistogram(ctx context.Context, name string, value float64, opts ...metric.RecordOption) error {
	histogram, err := cached(&m.mu, m.histograms, name, func(n string) (metric.Float64Histogram, error) {
		return m.meter.Float64Histogram(n)
	})
	if err != nil {
		return fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	histogram.Record(ctx, value, opts...)
	return nil
}

// RecordError increments an error counter with error type
func (m *MetricInstruments) RecordError(ctx context.Context, name string, errorType string) error {
	return m.RecordCounter(ctx, name, 1,
		metric.WithAttributes(attribute.String("error.type", errorType)))
}

// Metric names emitted by betpilot components.
const (
	// Executor
	MetricActionAttempts  = "executor.attempts"
	MetricActionHealing   = "executor.healing_cycles"
	MetricActionExhausted = "executor.exhausted"

	// Discovery
	MetricDiscoveryDuration = "discovery.duration_ms"
	MetricDiscoveryFailures = "discovery.failures"

	// Reconciliation
	MetricReconcilePushed   = "reconcile.pushed"
	MetricReconcilePulled   = "reconcile.pulled"
	MetricReconcileDropped  = "reconcile.dropped"
	MetricReconcileFailures = "reconcile.failures"
	MetricReconcileDuration = "reconcile.duration_ms"

	// Circuit breaker
	MetricCircuitBreakerRejected = "circuit_breaker.rejected"
	MetricCircuitBreakerState    = "circuit_breaker.state_changes"
)
