package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

var (
	matcherMetrics     *MatcherMetrics
	matcherMetricsOnce sync.Once
)

// MatcherMetrics holds the instruments updated by the matcher loop.
// All recording happens on the matcher goroutine.
type MatcherMetrics struct {
	ordersSubmitted metric.Int64Counter
	ordersCanceled  metric.Int64Counter
	tradesExecuted  metric.Int64Counter
	decodeErrors    metric.Int64Counter
	restingOrders   metric.Int64Gauge
}

// GetMatcherMetrics returns the MatcherMetrics singleton.
func GetMatcherMetrics() (*MatcherMetrics, error) {
	var err error
	matcherMetricsOnce.Do(func() {
		matcherMetrics, err = newMatcherMetrics()
	})
	if err != nil {
		return nil, err
	}
	return matcherMetrics, nil
}

func newMatcherMetrics() (*MatcherMetrics, error) {
	meter := GetMeterProvider().Meter(instrumentationName)

	ordersSubmitted, err := meter.Int64Counter(
		"matcher.orders.submitted",
		metric.WithDescription("Total number of submit records consumed"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	ordersCanceled, err := meter.Int64Counter(
		"matcher.orders.canceled",
		metric.WithDescription("Total number of cancel records consumed"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	tradesExecuted, err := meter.Int64Counter(
		"matcher.trades.executed",
		metric.WithDescription("Total number of trades executed"),
		metric.WithUnit("{trade}"),
	)
	if err != nil {
		return nil, err
	}

	decodeErrors, err := meter.Int64Counter(
		"matcher.records.decode_errors",
		metric.WithDescription("Total number of journal records skipped as undecodable"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	restingOrders, err := meter.Int64Gauge(
		"matcher.book.resting_orders",
		metric.WithDescription("Number of live orders resting in the book"),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	return &MatcherMetrics{
		ordersSubmitted: ordersSubmitted,
		ordersCanceled:  ordersCanceled,
		tradesExecuted:  tradesExecuted,
		decodeErrors:    decodeErrors,
		restingOrders:   restingOrders,
	}, nil
}

// RecordSubmitted counts one consumed submit record.
func (m *MatcherMetrics) RecordSubmitted(ctx context.Context) {
	m.ordersSubmitted.Add(ctx, 1)
}

// RecordCanceled counts one consumed cancel record.
func (m *MatcherMetrics) RecordCanceled(ctx context.Context) {
	m.ordersCanceled.Add(ctx, 1)
}

// RecordTrades counts trades produced by one submission.
func (m *MatcherMetrics) RecordTrades(ctx context.Context, n int) {
	m.tradesExecuted.Add(ctx, int64(n))
}

// RecordDecodeError counts one skipped record.
func (m *MatcherMetrics) RecordDecodeError(ctx context.Context) {
	m.decodeErrors.Add(ctx, 1)
}

// RecordBook publishes the resting order count across both sides.
func (m *MatcherMetrics) RecordBook(ctx context.Context, bidOrders, askOrders int) {
	m.restingOrders.Record(ctx, int64(bidOrders+askOrders))
}
