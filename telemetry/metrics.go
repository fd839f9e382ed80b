package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/teranos/warden/errors"
)

// MeterName is the instrumentation scope of every warden instrument.
const MeterName = "github.com/teranos/warden"

// Shutdown flushes and stops a meter provider.
type Shutdown func(ctx context.Context) error

// InitMetrics configures the global meter provider.
// With an empty endpoint, a no-op provider is installed and instruments cost nothing.
func InitMetrics(ctx context.Context, endpoint, serviceVersion string, insecure bool) (metric.MeterProvider, Shutdown, error) {
	if endpoint == "" {
		mp := noop.NewMeterProvider()
		otel.SetMeterProvider(mp)
		return mp, func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String("warden"),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create resource")
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create metric exporter")
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return mp, mp.Shutdown, nil
}

// MetricsEmitter turns events into OpenTelemetry measurements.
// Attributes use function_type rather than function_id to keep cardinality bounded.
type MetricsEmitter struct {
	executions          metric.Int64Counter
	transitions         metric.Int64Counter
	duration            metric.Float64Histogram
	persistenceFailures metric.Int64Counter
	registered          metric.Int64UpDownCounter
}

// NewMetricsEmitter creates the instruments on meter.
func NewMetricsEmitter(meter metric.Meter) (*MetricsEmitter, error) {
	m := &MetricsEmitter{}
	var err error

	if m.executions, err = meter.Int64Counter("warden.function.executions",
		metric.WithDescription("Completed function executions by outcome"),
		metric.WithUnit("{execution}"),
	); err != nil {
		return nil, errors.Wrap(err, "failed to create executions counter")
	}
	if m.transitions, err = meter.Int64Counter("warden.function.transitions",
		metric.WithDescription("Lifecycle state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, errors.Wrap(err, "failed to create transitions counter")
	}
	if m.duration, err = meter.Float64Histogram("warden.function.execution.duration",
		metric.WithDescription("Handler execution duration"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, errors.Wrap(err, "failed to create duration histogram")
	}
	if m.persistenceFailures, err = meter.Int64Counter("warden.registry.persistence_failures",
		metric.WithDescription("Failed registry saves"),
	); err != nil {
		return nil, errors.Wrap(err, "failed to create persistence failure counter")
	}
	if m.registered, err = meter.Int64UpDownCounter("warden.function.registered",
		metric.WithDescription("Currently registered functions"),
		metric.WithUnit("{function}"),
	); err != nil {
		return nil, errors.Wrap(err, "failed to create registered counter")
	}
	return m, nil
}

// Emit records e.
func (m *MetricsEmitter) Emit(ctx context.Context, e Event) {
	typ := attribute.String("function_type", e.FunctionType)

	switch e.EventType {
	case EventExecution:
		outcome := "success"
		if e.Failed() {
			outcome = e.ErrorKind
		}
		attrs := metric.WithAttributes(typ, attribute.String("outcome", outcome))
		m.executions.Add(ctx, 1, attrs)
		if e.Duration > 0 {
			m.duration.Record(ctx, float64(e.Duration)/float64(time.Millisecond), attrs)
		}
	case EventTransition:
		m.transitions.Add(ctx, 1, metric.WithAttributes(
			typ,
			attribute.String("from", string(e.PrevStatus)),
			attribute.String("to", string(e.Status)),
			attribute.String("trigger", e.Trigger),
		))
	case EventRegistered:
		m.registered.Add(ctx, 1, metric.WithAttributes(typ))
	case EventUnregistered:
		m.registered.Add(ctx, -1, metric.WithAttributes(typ))
	case EventPersistenceFailure:
		m.persistenceFailures.Add(ctx, 1)
	}
}

// GaugeSource supplies point-in-time values for observable gauges.
type GaugeSource interface {
	InFlight() int64
	StatusCounts() map[string]int
}

// RegisterGauges registers observable gauges for in-flight executions and functions per status.
func RegisterGauges(meter metric.Meter, src GaugeSource) error {
	if _, err := meter.Int64ObservableGauge("warden.dispatch.in_flight",
		metric.WithDescription("Executions currently holding a concurrency slot"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(src.InFlight())
			return nil
		}),
	); err != nil {
		return errors.Wrap(err, "failed to create in-flight gauge")
	}

	if _, err := meter.Int64ObservableGauge("warden.function.by_status",
		metric.WithDescription("Registered functions per lifecycle status"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			for status, n := range src.StatusCounts() {
				o.Observe(int64(n), metric.WithAttributes(attribute.String("status", status)))
			}
			return nil
		}),
	); err != nil {
		return errors.Wrap(err, "failed to create status gauge")
	}
	return nil
}
