package intercept

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Logger provides debug logging hooks for the component.
type Logger interface {
	Debugf(format string, args ...any)
}

// StructuredLogger emits key/value pairs for structured logging backends.
// A *zap.SugaredLogger satisfies it.
type StructuredLogger interface {
	Debugw(msg string, keyvals ...any)
	Warnw(msg string, keyvals ...any)
}

// TraceAttribute is a key/value attached to spans and span events.
type TraceAttribute struct {
	Key   string
	Value any
}

// Tracer starts spans around dispatched collectives.
type Tracer interface {
	StartSpan(name string, attrs ...TraceAttribute) Span
}

// Span records the outcome of one dispatched collective.
type Span interface {
	End(err error)
	AddEvent(name string, attrs ...TraceAttribute)
	RecordError(err error)
}

// MetricHook captures lifecycle and dispatch telemetry.
type MetricHook interface {
	Installed(attrs map[string]string)
	MissingBase(attrs map[string]string)
	Offloaded(attrs map[string]string)
	Fallback(reason string, attrs map[string]string)
	CompletionFailed(err error, attrs map[string]string)
	RequestFreed(attrs map[string]string)
}

const (
	labelComponent = "component"
	labelGroup     = "group"
	labelOperation = "operation"
	labelMode      = "mode"
	labelReason    = "reason"
	labelStatus    = "status"
)

const (
	modeBlocking    = "blocking"
	modeNonblocking = "nonblocking"
)

// Stats contains counters for the component across all of its modules.
type Stats struct {
	Installed          uint64
	MissingBase        uint64
	Offloaded          uint64
	Fallbacks          uint64
	CompletionFailures uint64
	RequestsFreed      uint64
}

type componentStats struct {
	installed          atomic.Uint64
	missingBase        atomic.Uint64
	offloaded          atomic.Uint64
	fallbacks          atomic.Uint64
	completionFailures atomic.Uint64
	requestsFreed      atomic.Uint64
}

type logField struct {
	key   string
	value any
}

func logKV(key string, value any) logField {
	return logField{key: key, value: value}
}

func (c *Component) metricAttrs(fields ...logField) map[string]string {
	attrs := make(map[string]string, len(fields)+1)
	attrs[labelComponent] = c.Name()
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		attrs[field.key] = fmt.Sprint(field.value)
	}
	return attrs
}

func (c *Component) logEvent(event string, fields ...logField) {
	if c.structuredLogger != nil {
		c.structuredLogger.Debugw("collective offload", keyvals(event, fields)...)
		return
	}
	c.logf(event, fields...)
}

func (c *Component) warnEvent(event string, fields ...logField) {
	if c.structuredLogger != nil {
		c.structuredLogger.Warnw("collective offload", keyvals(event, fields)...)
		return
	}
	c.logf(event, fields...)
}

// logVerbose logs only when the configured verbosity reaches level.
func (c *Component) logVerbose(level int, event string, fields ...logField) {
	if c.cfg.Verbose < level {
		return
	}
	c.logEvent(event, fields...)
}

func (c *Component) logf(event string, fields ...logField) {
	if c.logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString(event)
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(field.key)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(field.value))
	}
	c.logger.Debugf("collective offload %s", b.String())
}

func keyvals(event string, fields []logField) []any {
	kv := make([]any, 0, len(fields)*2+2)
	kv = append(kv, "event", event)
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		kv = append(kv, field.key, field.value)
	}
	return kv
}

func (c *Component) startSpan(name string, fields ...logField) Span {
	if c.tracer == nil {
		return nil
	}
	attrs := append([]TraceAttribute{{Key: labelComponent, Value: c.Name()}}, attributesFromFields(fields...)...)
	return c.tracer.StartSpan(name, attrs...)
}

func finishSpan(span Span, err error) {
	if span == nil {
		return
	}
	span.End(err)
}

func spanAddEvent(span Span, name string, fields ...logField) {
	if span == nil {
		return
	}
	span.AddEvent(name, attributesFromFields(fields...)...)
}

func spanRecordError(span Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
}

func attributesFromFields(fields ...logField) []TraceAttribute {
	if len(fields) == 0 {
		return nil
	}
	attrs := make([]TraceAttribute, 0, len(fields))
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		attrs = append(attrs, TraceAttribute{Key: field.key, Value: field.value})
	}
	return attrs
}

func (c *Component) metricInstalled(fields ...logField) {
	c.stats.installed.Add(1)
	if c.metrics != nil {
		c.metrics.Installed(c.metricAttrs(fields...))
	}
}

func (c *Component) metricMissingBase(fields ...logField) {
	c.stats.missingBase.Add(1)
	if c.metrics != nil {
		c.metrics.MissingBase(c.metricAttrs(fields...))
	}
}

func (c *Component) metricOffloaded(fields ...logField) {
	c.stats.offloaded.Add(1)
	if c.metrics != nil {
		c.metrics.Offloaded(c.metricAttrs(fields...))
	}
}

func (c *Component) metricFallback(reason string, fields ...logField) {
	c.stats.fallbacks.Add(1)
	if c.metrics != nil {
		c.metrics.Fallback(reason, c.metricAttrs(fields...))
	}
}

func (c *Component) metricCompletionFailed(err error, fields ...logField) {
	c.stats.completionFailures.Add(1)
	if c.metrics != nil {
		c.metrics.CompletionFailed(err, c.metricAttrs(fields...))
	}
}

func (c *Component) metricRequestFreed(fields ...logField) {
	c.stats.requestsFreed.Add(1)
	if c.metrics != nil {
		c.metrics.RequestFreed(c.metricAttrs(fields...))
	}
}
