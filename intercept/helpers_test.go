package intercept

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/rocketbitz/colloffload-go/coll"
	"github.com/rocketbitz/colloffload-go/coll/basic"
	"github.com/rocketbitz/colloffload-go/offload/inproc"
)

type fixture struct {
	groups  []*coll.Group
	lib     *inproc.Library
	comp    *Component
	diag    *coll.DiagnosticRecorder
	atts    []*coll.Attachment
	modules []*Module
}

type fixtureOptions struct {
	size     int
	pair     bool
	lib      inproc.Config
	cfg      Config
	withBase bool
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	diag := &coll.DiagnosticRecorder{}
	w := coll.NewWorld(coll.WorldConfig{Host: "node0", Diagnostics: diag})
	var (
		groups []*coll.Group
		err    error
	)
	if opts.pair {
		groups, err = w.NewPairGroup("pair")
	} else {
		groups, err = w.NewGroup("offload", opts.size)
	}
	require.NoError(t, err)

	lib := inproc.New(opts.lib)
	comp, err := NewComponent(lib, opts.cfg)
	require.NoError(t, err)

	components := []coll.Component{comp}
	if opts.withBase {
		components = append([]coll.Component{basic.New()}, components...)
	}
	fw := &coll.Framework{Components: components}

	f := &fixture{groups: groups, lib: lib, comp: comp, diag: diag}
	for _, g := range groups {
		att, err := fw.Attach(g)
		require.NoError(t, err)
		f.atts = append(f.atts, att)
		var mod *Module
		for _, s := range att.Modules() {
			if m, ok := s.Module.(*Module); ok {
				mod = m
			}
		}
		f.modules = append(f.modules, mod)
	}
	t.Cleanup(func() {
		f.detach(t)
		require.NoError(t, lib.Close())
	})
	return f
}

func newOffloadFixture(t *testing.T, size int) *fixture {
	return newFixture(t, fixtureOptions{size: size, withBase: true})
}

func (f *fixture) detach(t *testing.T) {
	t.Helper()
	for _, att := range f.atts {
		require.NoError(t, att.Detach())
	}
	f.atts = nil
}

func (f *fixture) each(t *testing.T, fn func(rank int, g *coll.Group) error) {
	t.Helper()
	var eg errgroup.Group
	for rank, g := range f.groups {
		eg.Go(func() error {
			if err := fn(rank, g); err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
}

func int32s(vals ...int32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	return buf
}

func newObservedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	return logger.Sugar(), logs
}

func newTestTracerProvider() (*tracesdk.TracerProvider, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	return tp, recorder
}

func waitForLogEvent(logs *observer.ObservedLogs, event string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		for _, entry := range logs.All() {
			if evt, ok := entry.ContextMap()["event"].(string); ok && evt == event {
				return true
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func spanHasEvent(recorder *tracetest.SpanRecorder, spanName, event string) bool {
	for _, span := range recorder.Ended() {
		if span.Name() != spanName {
			continue
		}
		for _, evt := range span.Events() {
			if evt.Name == event {
				return true
			}
		}
	}
	return false
}

type otelTracerAdapter struct {
	tracer trace.Tracer
}

func (o *otelTracerAdapter) StartSpan(name string, attrs ...TraceAttribute) Span {
	if o == nil || o.tracer == nil {
		return nil
	}
	attributes := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		attributes = append(attributes, toAttribute(attr))
	}
	_, span := o.tracer.Start(context.Background(), name, trace.WithAttributes(attributes...))
	return &otelSpanAdapter{span: span}
}

type otelSpanAdapter struct {
	span trace.Span
}

func (s *otelSpanAdapter) End(err error) {
	if s == nil || s.span == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
	}
	s.span.End()
}

func (s *otelSpanAdapter) AddEvent(name string, attrs ...TraceAttribute) {
	if s == nil || s.span == nil {
		return
	}
	attributes := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		attributes = append(attributes, toAttribute(attr))
	}
	s.span.AddEvent(name, trace.WithAttributes(attributes...))
}

func (s *otelSpanAdapter) RecordError(err error) {
	if s == nil || s.span == nil || err == nil {
		return
	}
	s.span.RecordError(err)
}

func toAttribute(attr TraceAttribute) attribute.KeyValue {
	if attr.Key == "" {
		return attribute.String("undefined", fmt.Sprint(attr.Value))
	}
	switch v := attr.Value.(type) {
	case nil:
		return attribute.String(attr.Key, "")
	case string:
		return attribute.String(attr.Key, v)
	case fmt.Stringer:
		return attribute.String(attr.Key, v.String())
	case bool:
		return attribute.Bool(attr.Key, v)
	case int:
		return attribute.Int(attr.Key, v)
	case int64:
		return attribute.Int64(attr.Key, v)
	case uint64:
		return attribute.Int64(attr.Key, int64(v))
	case float64:
		return attribute.Float64(attr.Key, v)
	case error:
		return attribute.String(attr.Key, v.Error())
	default:
		return attribute.String(attr.Key, fmt.Sprint(attr.Value))
	}
}

type metricRecorder struct {
	mu               sync.Mutex
	installed        int
	missingBase      int
	offloaded        int
	fallbacks        []string
	completionFailed int
	requestFreed     int
}

func newMetricRecorder() *metricRecorder {
	return &metricRecorder{}
}

func (m *metricRecorder) Installed(_ map[string]string) {
	m.mu.Lock()
	m.installed++
	m.mu.Unlock()
}

func (m *metricRecorder) MissingBase(_ map[string]string) {
	m.mu.Lock()
	m.missingBase++
	m.mu.Unlock()
}

func (m *metricRecorder) Offloaded(_ map[string]string) {
	m.mu.Lock()
	m.offloaded++
	m.mu.Unlock()
}

func (m *metricRecorder) Fallback(reason string, _ map[string]string) {
	m.mu.Lock()
	m.fallbacks = append(m.fallbacks, reason)
	m.mu.Unlock()
}

func (m *metricRecorder) CompletionFailed(_ error, _ map[string]string) {
	m.mu.Lock()
	m.completionFailed++
	m.mu.Unlock()
}

func (m *metricRecorder) RequestFreed(_ map[string]string) {
	m.mu.Lock()
	m.requestFreed++
	m.mu.Unlock()
}

type metricSnapshot struct {
	installed        int
	missingBase      int
	offloaded        int
	fallbacks        []string
	completionFailed int
	requestFreed     int
}

func (m *metricRecorder) Snapshot() metricSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return metricSnapshot{
		installed:        m.installed,
		missingBase:      m.missingBase,
		offloaded:        m.offloaded,
		fallbacks:        append([]string(nil), m.fallbacks...),
		completionFailed: m.completionFailed,
		requestFreed:     m.requestFreed,
	}
}
