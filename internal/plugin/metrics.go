package plugin

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/dshills/modgate/internal/plugin"

// Lifecycle operations reported in metrics and events.
const (
	opLoad   = "load"
	opUnload = "unload"
)

// Outcomes recorded per operation.
const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeRefused  = "refused"
	outcomeFailed   = "failed"
)

// Metrics records lifecycle outcomes.
//
// Instruments:
//   - modgate.unit.operations         (Int64Counter; op, kind, outcome)
//   - modgate.unit.operation.duration (Float64Histogram, unit "s")
//   - modgate.unit.active             (Int64ObservableGauge)
type Metrics struct {
	operations metric.Int64Counter
	duration   metric.Float64Histogram
	active     metric.Int64ObservableGauge
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	if m.operations, err = meter.Int64Counter(
		"modgate.unit.operations",
		metric.WithDescription("Load and unload operations by outcome"),
	); err != nil {
		return nil, err
	}

	if m.duration, err = meter.Float64Histogram(
		"modgate.unit.operation.duration",
		metric.WithDescription("Duration of load and unload operations"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.active, err = meter.Int64ObservableGauge(
		"modgate.unit.active",
		metric.WithDescription("Number of active units"),
	); err != nil {
		return nil, err
	}

	return &m, nil
}

// defaultMetrics uses the global meter provider.
func defaultMetrics() *Metrics {
	m, err := NewMetrics(otel.Meter(instrumentationName))
	if err != nil {
		return nil
	}
	return m
}

// observe reports the registry size through the active gauge.
func (m *Metrics) observe(meter metric.Meter, r *Registry) (metric.Registration, error) {
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.active, int64(r.Len()))
		return nil
	}, m.active)
}

func (m *Metrics) record(ctx context.Context, op string, kind Kind, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("kind", kind.String()),
		attribute.String("outcome", outcome(err)),
	)
	m.operations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
}

// outcome classifies an operation error.
func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrSecurityRejected), errors.Is(err, ErrParse):
		return outcomeRejected
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrInvalidManifest), errors.Is(err, ErrProtected),
		errors.Is(err, ErrAlreadyActive), errors.Is(err, ErrNotActive):
		return outcomeRefused
	default:
		return outcomeFailed
	}
}
