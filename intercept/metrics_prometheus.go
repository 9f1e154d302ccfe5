package intercept

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rocketbitz/colloffload-go/offload"
)

// PrometheusMetricsOptions configures NewPrometheusMetrics.
type PrometheusMetricsOptions struct {
	Registerer  prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

var _ MetricHook = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements MetricHook using Prometheus counters.
type PrometheusMetrics struct {
	installed        *prometheus.CounterVec
	missingBase      *prometheus.CounterVec
	offloaded        *prometheus.CounterVec
	fallback         *prometheus.CounterVec
	completionFailed *prometheus.CounterVec
	requestFreed     *prometheus.CounterVec
}

// NewPrometheusMetrics constructs a MetricHook backed by Prometheus counters.
func NewPrometheusMetrics(opts PrometheusMetricsOptions) (*PrometheusMetrics, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string, keys []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: opts.ConstLabels,
		}, keys)
	}

	p := &PrometheusMetrics{
		installed:        counter("coll_offload_installed_total", "Number of operation table slots overridden by the offload component", lifecycleLabelKeys),
		missingBase:      counter("coll_offload_missing_base_total", "Number of operations skipped because no base implementation was installed", lifecycleLabelKeys),
		offloaded:        counter("coll_offload_offloaded_total", "Number of collectives submitted to the offload library", dispatchLabelKeys),
		fallback:         counter("coll_offload_fallback_total", "Number of collectives served by the saved implementation", fallbackLabelKeys),
		completionFailed: counter("coll_offload_completion_failed_total", "Number of offloaded collectives that completed with an error", failureLabelKeys),
		requestFreed:     counter("coll_offload_requests_freed_total", "Number of offload requests freed", dispatchLabelKeys),
	}

	for _, vec := range []**prometheus.CounterVec{&p.installed, &p.missingBase, &p.offloaded, &p.fallback, &p.completionFailed, &p.requestFreed} {
		registered, err := registerCounterVec(reg, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}
	return p, nil
}

var (
	lifecycleLabelKeys = []string{labelComponent, labelGroup, labelOperation}
	dispatchLabelKeys  = []string{labelComponent, labelGroup, labelOperation, labelMode}
	fallbackLabelKeys  = []string{labelComponent, labelGroup, labelOperation, labelMode, labelReason}
	failureLabelKeys   = []string{labelComponent, labelGroup, labelOperation, labelMode, labelStatus}
)

func (p *PrometheusMetrics) Installed(attrs map[string]string) {
	p.installed.With(labels(attrs, lifecycleLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) MissingBase(attrs map[string]string) {
	p.missingBase.With(labels(attrs, lifecycleLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) Offloaded(attrs map[string]string) {
	p.offloaded.With(labels(attrs, dispatchLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) Fallback(reason string, attrs map[string]string) {
	labs := labels(attrs, fallbackLabelKeys...)
	labs[labelReason] = reason
	p.fallback.With(labs).Inc()
}

func (p *PrometheusMetrics) CompletionFailed(err error, attrs map[string]string) {
	labs := labels(attrs, failureLabelKeys...)
	labs[labelStatus] = offload.StatusOf(err).String()
	p.completionFailed.With(labs).Inc()
}

func (p *PrometheusMetrics) RequestFreed(attrs map[string]string) {
	p.requestFreed.With(labels(attrs, dispatchLabelKeys...)).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}

func labels(attrs map[string]string, keys ...string) prometheus.Labels {
	labs := make(prometheus.Labels, len(keys))
	for _, key := range keys {
		labs[key] = attrs[key]
	}
	return labs
}
