// Package observe provides application-wide observability primitives for
// samplechan: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all samplechan metrics.
const meterName = "github.com/MrWong99/samplechan"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Channel lifecycle ---

	// ChannelPlays counts voices started. Use with attribute:
	//   attribute.String("channel", ...)
	ChannelPlays metric.Int64Counter

	// ChannelStops counts explicit stops. Use with attribute:
	//   attribute.String("channel", ...)
	ChannelStops metric.Int64Counter

	// ActiveChannels tracks the number of channels owned by the manager.
	ActiveChannels metric.Int64UpDownCounter

	// DeviceSwitches counts output device migrations. Use with attributes:
	//   attribute.Int("device", ...), attribute.String("status", ...)
	DeviceSwitches metric.Int64Counter

	// --- Control thread ---

	// QueueDrainDuration tracks how long a non-empty command drain took.
	QueueDrainDuration metric.Float64Histogram

	// QueueActions counts deferred commands executed on the control thread.
	QueueActions metric.Int64Counter

	// --- Samples ---

	// SampleLoadDuration tracks decode time per sample. Use with attributes:
	//   attribute.String("sample", ...), attribute.String("status", ...)
	SampleLoadDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// drainBuckets are histogram boundaries (in seconds) sized for control
// thread drains, which should stay well below one tick.
var drainBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05,
}

// loadBuckets are histogram boundaries (in seconds) for sample decoding.
var loadBuckets = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.ChannelPlays, err = m.Int64Counter("samplechan.channel.plays",
		metric.WithDescription("Total voices started by channel."),
	); err != nil {
		return nil, err
	}
	if met.ChannelStops, err = m.Int64Counter("samplechan.channel.stops",
		metric.WithDescription("Total explicit channel stops by channel."),
	); err != nil {
		return nil, err
	}
	if met.DeviceSwitches, err = m.Int64Counter("samplechan.device.switches",
		metric.WithDescription("Total output device switches by device index and status."),
	); err != nil {
		return nil, err
	}
	if met.QueueActions, err = m.Int64Counter("samplechan.queue.actions",
		metric.WithDescription("Total deferred commands executed on the control thread."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveChannels, err = m.Int64UpDownCounter("samplechan.active_channels",
		metric.WithDescription("Number of sample channels currently managed."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.QueueDrainDuration, err = m.Float64Histogram("samplechan.queue.drain.duration",
		metric.WithDescription("Time spent draining the deferred command queue."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(drainBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SampleLoadDuration, err = m.Float64Histogram("samplechan.samples.load.duration",
		metric.WithDescription("Latency of decoding a sample into memory."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(loadBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("samplechan.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ChannelPlayed implements channel.Recorder.
func (m *Metrics) ChannelPlayed(name string) {
	m.ChannelPlays.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("channel", name)),
	)
}

// ChannelStopped implements channel.Recorder.
func (m *Metrics) ChannelStopped(name string) {
	m.ChannelStops.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("channel", name)),
	)
}

// ChannelsActive implements channel.Recorder.
func (m *Metrics) ChannelsActive(delta int) {
	m.ActiveChannels.Add(context.Background(), int64(delta))
}

// DeviceSwitched implements channel.Recorder.
func (m *Metrics) DeviceSwitched(index int, err error) {
	m.DeviceSwitches.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.Int("device", index),
			attribute.String("status", status(err)),
		),
	)
}

// RecordDrain matches the control thread's drain hook signature.
func (m *Metrics) RecordDrain(actions int, took time.Duration) {
	ctx := context.Background()
	m.QueueActions.Add(ctx, int64(actions))
	m.QueueDrainDuration.Record(ctx, took.Seconds())
}

// RecordSampleLoad records how long decoding the named sample took.
func (m *Metrics) RecordSampleLoad(ctx context.Context, sample string, took time.Duration, err error) {
	m.SampleLoadDuration.Record(ctx, took.Seconds(),
		metric.WithAttributes(
			attribute.String("sample", sample),
			attribute.String("status", status(err)),
		),
	)
}
