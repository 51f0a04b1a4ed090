package metrics

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-query-cache/types"
	"github.com/saiset-co/sai-query-cache/utils"
)

// help describes the series the cache, persistence, storage and cron layers
// emit. Unknown names still register, with a generic description.
var help = map[string]string{
	"cache_operations_total":             "Query cache operations by operation and result.",
	"cache_operation_duration_seconds":   "Query cache operation latency.",
	"query_fetch_total":                  "Completed query fetches by category and result.",
	"query_retry_total":                  "Query fetch retries by category.",
	"query_cache_entries":                "Entries held by the query cache after the last sweep.",
	"persist_runs_total":                 "Snapshot persist runs by trigger and result.",
	"persist_snapshot_bytes":             "Encoded size of the last snapshot.",
	"hydrate_total":                      "Snapshot hydrations by result.",
	"storage_operations_total":           "Snapshot storage operations by backend, operation and result.",
	"storage_operation_duration_seconds": "Snapshot storage operation latency.",
	"cron_job_executions_total":          "Scheduled job runs by job and result.",
	"cron_job_duration_seconds":          "Scheduled job duration.",
	"cron_active_jobs":                   "Scheduled jobs currently running.",
	"cron_scheduler_running":             "1 while the scheduler is running.",
}

type PrometheusConfig struct {
	Namespace       string            `yaml:"namespace" json:"namespace"`
	Subsystem       string            `yaml:"subsystem" json:"subsystem"`
	Labels          map[string]string `yaml:"labels" json:"labels"`
	EnableGoMetrics bool              `yaml:"enable_go_metrics" json:"enable_go_metrics"`
}

// PrometheusMetrics registers one vector per series name on a private
// registry. Asking for an existing name with another kind or label set logs
// the mismatch and hands out an instrument that drops its samples.
type PrometheusMetrics struct {
	logger   types.Logger
	config   *PrometheusConfig
	registry *prometheus.Registry
	vectors  map[string]prometheus.Collector
	mu       sync.Mutex
	running  atomic.Bool
}

func NewPrometheusMetrics(_ context.Context, logger types.Logger, config *types.MetricsConfig) (*PrometheusMetrics, error) {
	promConfig := &PrometheusConfig{
		Namespace: "query_cache",
		Labels:    make(map[string]string),
	}

	if config.Prefix != "" {
		promConfig.Namespace = config.Prefix
	}

	if config.Config != nil {
		if err := utils.UnmarshalConfig(config.Config, promConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal prometheus config")
		}
	}
	if promConfig.Labels == nil {
		promConfig.Labels = make(map[string]string)
	}
	for name, value := range config.Labels {
		promConfig.Labels[name] = value
	}

	registry := prometheus.NewRegistry()
	if promConfig.EnableGoMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	logger.Debug("Prometheus metrics initialized",
		zap.String("namespace", promConfig.Namespace),
		zap.String("subsystem", promConfig.Subsystem),
		zap.Bool("go_metrics", promConfig.EnableGoMetrics))

	return &PrometheusMetrics{
		logger:   logger,
		config:   promConfig,
		registry: registry,
		vectors:  make(map[string]prometheus.Collector),
	}, nil
}

func (p *PrometheusMetrics) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !p.running.CompareAndSwap(true, false) {
		return types.ErrServerNotRunning
	}
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return p.running.Load()
}

func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	vec, ok := vector(p, name, labels, func(opts prometheus.Opts, names []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts(opts), names)
	})
	if !ok {
		return &emptyCounter{}
	}

	counter, err := vec.GetMetricWith(labels)
	if err != nil {
		p.labelMismatch(name, err)
		return &emptyCounter{}
	}
	return &promCounter{logger: p.logger, counter: counter}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	vec, ok := vector(p, name, labels, func(opts prometheus.Opts, names []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts(opts), names)
	})
	if !ok {
		return &emptyGauge{}
	}

	gauge, err := vec.GetMetricWith(labels)
	if err != nil {
		p.labelMismatch(name, err)
		return &emptyGauge{}
	}
	return &promGauge{logger: p.logger, gauge: gauge}
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	vec, ok := vector(p, name, labels, func(opts prometheus.Opts, names []string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        opts.Name,
			Help:        opts.Help,
			ConstLabels: opts.ConstLabels,
			Buckets:     buckets,
		}, names)
	})
	if !ok {
		return &emptyHistogram{}
	}

	observer, err := vec.GetMetricWith(labels)
	if err != nil {
		p.labelMismatch(name, err)
		return &emptyHistogram{}
	}
	return &promHistogram{observer: observer}
}

// vector returns the registered vector for name, creating it on first use.
func vector[V prometheus.Collector](p *PrometheusMetrics, name string, labels map[string]string, build func(prometheus.Opts, []string) V) (V, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, exists := p.vectors[name]; exists {
		vec, ok := existing.(V)
		if !ok {
			p.logger.Error("Metric registered with another kind", zap.String("metric", name))
		}
		return vec, ok
	}

	description, known := help[name]
	if !known {
		description = "Query cache metric " + name + "."
	}

	vec := build(prometheus.Opts{
		Namespace:   p.config.Namespace,
		Subsystem:   p.config.Subsystem,
		Name:        name,
		Help:        description,
		ConstLabels: p.config.Labels,
	}, labelNames(labels))

	if err := p.registry.Register(vec); err != nil {
		p.logger.Error("Failed to register metric", zap.String("metric", name), zap.Error(err))
		var zero V
		return zero, false
	}

	p.vectors[name] = vec
	return vec, true
}

func (p *PrometheusMetrics) labelMismatch(name string, err error) {
	p.logger.Error("Metric labels do not match registration", zap.String("metric", name), zap.Error(err))
}

func (p *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// GetMetrics flattens the registry into MetricValue records sorted by name.
// Histograms report their sample count.
func (p *PrometheusMetrics) GetMetrics() ([]byte, error) {
	families, err := p.registry.Gather()
	if err != nil {
		p.logger.Error("Failed to gather prometheus metrics", zap.Error(err))
		return nil, err
	}

	now := time.Now()
	values := make([]types.MetricValue, 0, len(families))
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := make(map[string]string, len(metric.GetLabel()))
			for _, label := range metric.GetLabel() {
				labels[label.GetName()] = label.GetValue()
			}

			values = append(values, types.MetricValue{
				Name:      family.GetName(),
				Type:      family.GetType().String(),
				Value:     sampleValue(metric),
				Labels:    labels,
				Timestamp: now,
				Help:      family.GetHelp(),
			})
		}
	}

	sort.SliceStable(values, func(i, j int) bool {
		return values[i].Name < values[j].Name
	})

	return utils.Marshal(values)
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sampleValue(metric *dto.Metric) float64 {
	switch {
	case metric.GetCounter() != nil:
		return metric.GetCounter().GetValue()
	case metric.GetGauge() != nil:
		return metric.GetGauge().GetValue()
	case metric.GetHistogram() != nil:
		return float64(metric.GetHistogram().GetSampleCount())
	default:
		return 0
	}
}

// readBack snapshots a single series without scraping the registry.
func readBack(logger types.Logger, metric prometheus.Metric) *dto.Metric {
	out := &dto.Metric{}
	if err := metric.Write(out); err != nil {
		logger.Error("Failed to read metric", zap.Error(err))
	}
	return out
}

type promCounter struct {
	logger  types.Logger
	counter prometheus.Counter
}

func (c *promCounter) Inc()              { c.counter.Inc() }
func (c *promCounter) Add(value float64) { c.counter.Add(value) }
func (c *promCounter) Get() float64      { return readBack(c.logger, c.counter).GetCounter().GetValue() }

type promGauge struct {
	logger types.Logger
	gauge  prometheus.Gauge
}

func (g *promGauge) Set(value float64) { g.gauge.Set(value) }
func (g *promGauge) Inc()              { g.gauge.Inc() }
func (g *promGauge) Dec()              { g.gauge.Dec() }
func (g *promGauge) Add(value float64) { g.gauge.Add(value) }
func (g *promGauge) Sub(value float64) { g.gauge.Sub(value) }
func (g *promGauge) Get() float64      { return readBack(g.logger, g.gauge).GetGauge().GetValue() }

type promHistogram struct {
	observer prometheus.Observer
}

func (h *promHistogram) Observe(value float64) {
	h.observer.Observe(value)
}

func (h *promHistogram) ObserveDuration(start time.Time) {
	h.observer.Observe(time.Since(start).Seconds())
}

func (h *promHistogram) GetCount() uint64 {
	return h.read().GetSampleCount()
}

func (h *promHistogram) GetSum() float64 {
	return h.read().GetSampleSum()
}

func (h *promHistogram) read() *dto.Histogram {
	metric, ok := h.observer.(prometheus.Metric)
	if !ok {
		return nil
	}
	out := &dto.Metric{}
	if err := metric.Write(out); err != nil {
		return nil
	}
	return out.GetHistogram()
}
