package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/embedded"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, outcomeOK},
		{&SecurityError{Name: "x", Items: []string{"exec"}}, outcomeRejected},
		{fmt.Errorf("unit: %w", ErrParse), outcomeRejected},
		{ErrNotFound, outcomeRefused},
		{ErrInvalidName, outcomeRefused},
		{ErrInvalidManifest, outcomeRefused},
		{&ProtectedError{Name: "core"}, outcomeRefused},
		{ErrAlreadyActive, outcomeRefused},
		{ErrNotActive, outcomeRefused},
		{ErrActivation, outcomeFailed},
		{ErrRegistration, outcomeFailed},
		{errors.New("disk"), outcomeFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outcome(tt.err), "%v", tt.err)
	}
}

// recordingMeter counts operations by outcome and keeps gauge callbacks.
type recordingMeter struct {
	noop.Meter

	mu        sync.Mutex
	counts    map[string]int64
	callbacks []metric.Callback
}

func newRecordingMeter() *recordingMeter {
	return &recordingMeter{counts: make(map[string]int64)}
}

func (m *recordingMeter) Int64Counter(string, ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return &recordingCounter{meter: m}, nil
}

func (m *recordingMeter) RegisterCallback(cb metric.Callback, _ ...metric.Observable) (metric.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
	return noop.Registration{}, nil
}

func (m *recordingMeter) count(op, outcome string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[op+"/"+outcome]
}

// active runs the registered callbacks and returns the last gauge value.
func (m *recordingMeter) active(t *testing.T) int64 {
	m.mu.Lock()
	cbs := append([]metric.Callback(nil), m.callbacks...)
	m.mu.Unlock()

	obs := &gaugeObserver{}
	for _, cb := range cbs {
		require.NoError(t, cb(context.Background(), obs))
	}
	return obs.last
}

type recordingCounter struct {
	noop.Int64Counter
	meter *recordingMeter
}

func (c *recordingCounter) Add(_ context.Context, incr int64, opts ...metric.AddOption) {
	attrs := metric.NewAddConfig(opts).Attributes()
	op, _ := attrs.Value("op")
	out, _ := attrs.Value("outcome")

	c.meter.mu.Lock()
	defer c.meter.mu.Unlock()
	c.meter.counts[op.AsString()+"/"+out.AsString()] += incr
}

type gaugeObserver struct {
	embedded.Observer
	last int64
}

func (o *gaugeObserver) ObserveInt64(_ metric.Int64Observable, v int64, _ ...metric.ObserveOption) {
	o.last = v
}

func (o *gaugeObserver) ObserveFloat64(metric.Float64Observable, float64, ...metric.ObserveOption) {}

func TestLoaderRecordsMetrics(t *testing.T) {
	meter := newRecordingMeter()
	f := newFixture(t, WithMeter(meter))
	f.standard("greeter", fmt.Sprintf(defaultManifest, "greeter"), greeterMain)
	f.standard("bad", fmt.Sprintf(defaultManifest, "bad"), `exec()`)
	ctx := context.Background()

	require.NoError(t, f.loader.Load(ctx, "greeter"))
	assert.Equal(t, int64(1), meter.active(t))

	assert.Error(t, f.loader.Load(ctx, "bad"))
	assert.Error(t, f.loader.Load(ctx, "greeter"))
	assert.Error(t, f.loader.Unload(ctx, "core", false))
	require.NoError(t, f.loader.Unload(ctx, "greeter", false))

	assert.Equal(t, int64(1), meter.count(opLoad, outcomeOK))
	assert.Equal(t, int64(1), meter.count(opLoad, outcomeRejected))
	assert.Equal(t, int64(1), meter.count(opLoad, outcomeRefused))
	assert.Equal(t, int64(1), meter.count(opUnload, outcomeRefused))
	assert.Equal(t, int64(1), meter.count(opUnload, outcomeOK))
	assert.Equal(t, int64(0), meter.active(t))
}

func TestNilMetricsRecordIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.record(context.Background(), opLoad, KindStandard, nil, 0)
	})
}
