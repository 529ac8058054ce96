package odataview

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "odataview"

// Metrics 视图侧的请求指标；nil 时所有记录操作为空操作
type Metrics struct {
	// Labels: method, result (success, error)
	RequestsTotal *prometheus.CounterVec
	// Labels: method
	RequestDuration *prometheus.HistogramVec
	ItemsLoaded     prometheus.Counter
	// Labels: result (detected, default, cached)
	ProbesTotal *prometheus.CounterVec
	RetriesTotal prometheus.Counter
}

// NewMetrics registers the collectors on reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "OData requests by method and result",
		}, []string{"method", "result"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "OData request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"method"}),
		ItemsLoaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "items_loaded_total",
			Help:      "Items merged into views",
		}),
		ProbesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "version_probes_total",
			Help:      "Version probes by result",
		}, []string{"result"}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retries_total",
			Help:      "Retried OData requests",
		}),
	}
}

func (m *Metrics) recordRequest(method string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	m.RequestsTotal.WithLabelValues(method, result).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) recordItems(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsLoaded.Add(float64(n))
}

func (m *Metrics) recordProbe(result string) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) recordRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}
