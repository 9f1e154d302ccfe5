package intercept

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rocketbitz/colloffload-go/offload"
)

// OTelMetricsOptions configures NewOTelMetrics.
type OTelMetricsOptions struct {
	MeterProvider          metric.MeterProvider
	Meter                  metric.Meter
	InstrumentationName    string
	InstrumentationVersion string
}

var _ MetricHook = (*OTelMetrics)(nil)

// OTelMetrics implements MetricHook using OpenTelemetry counters.
type OTelMetrics struct {
	meter            metric.Meter
	installed        metric.Int64Counter
	missingBase      metric.Int64Counter
	offloaded        metric.Int64Counter
	fallback         metric.Int64Counter
	completionFailed metric.Int64Counter
	requestFreed     metric.Int64Counter
}

// NewOTelMetrics constructs a MetricHook that emits OpenTelemetry counter measurements.
func NewOTelMetrics(opts OTelMetricsOptions) (*OTelMetrics, error) {
	meter := opts.Meter
	if meter == nil {
		provider := opts.MeterProvider
		if provider == nil {
			provider = otel.GetMeterProvider()
		}
		name := opts.InstrumentationName
		if name == "" {
			name = "github.com/rocketbitz/colloffload-go/intercept"
		}
		meter = provider.Meter(name, metric.WithInstrumentationVersion(opts.InstrumentationVersion))
	}

	o := &OTelMetrics{meter: meter}
	for _, c := range []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&o.installed, "coll.offload.installed"},
		{&o.missingBase, "coll.offload.missing_base"},
		{&o.offloaded, "coll.offload.offloaded"},
		{&o.fallback, "coll.offload.fallback"},
		{&o.completionFailed, "coll.offload.completion_failed"},
		{&o.requestFreed, "coll.offload.requests_freed"},
	} {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return o, nil
}

// Installed records an overridden table slot.
func (o *OTelMetrics) Installed(attrs map[string]string) {
	o.installed.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

// MissingBase records an operation skipped for lack of a base implementation.
func (o *OTelMetrics) MissingBase(attrs map[string]string) {
	o.missingBase.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

// Offloaded records a collective submitted to the library.
func (o *OTelMetrics) Offloaded(attrs map[string]string) {
	o.offloaded.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

// Fallback records a collective served by the saved implementation.
func (o *OTelMetrics) Fallback(reason string, attrs map[string]string) {
	attributes := append(otelAttrs(attrs), attribute.String(labelReason, reason))
	o.fallback.Add(context.Background(), 1, metric.WithAttributes(attributes...))
}

// CompletionFailed records an offloaded collective that completed with an error.
func (o *OTelMetrics) CompletionFailed(err error, attrs map[string]string) {
	attributes := append(otelAttrs(attrs), attribute.String(labelStatus, offload.StatusOf(err).String()))
	o.completionFailed.Add(context.Background(), 1, metric.WithAttributes(attributes...))
}

// RequestFreed records a freed offload request.
func (o *OTelMetrics) RequestFreed(attrs map[string]string) {
	o.requestFreed.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

func otelAttrs(attrs map[string]string) []attribute.KeyValue {
	kvs := []attribute.KeyValue{
		attribute.String(labelComponent, attrs[labelComponent]),
		attribute.String(labelOperation, attrs[labelOperation]),
	}
	if v := attrs[labelGroup]; v != "" {
		kvs = append(kvs, attribute.String(labelGroup, v))
	}
	if v := attrs[labelMode]; v != "" {
		kvs = append(kvs, attribute.String(labelMode, v))
	}
	return kvs
}
