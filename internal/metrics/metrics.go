// Package metrics exposes the prometheus collectors shared by the cache proxy,
// the order syncer and the connectivity monitor. All methods are safe on a nil
// *Metrics so components can run without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 使用独立 Registry，避免与默认全局注册表互相污染。
type Metrics struct {
	registry           *prometheus.Registry
	cacheLookups       *prometheus.CounterVec
	fallbacks          *prometheus.CounterVec
	cacheStoreFailures prometheus.Counter
	orderSubmissions   *prometheus.CounterVec
	online             prometheus.Gauge
}

// New 创建并注册全部指标。
func New() *Metrics {
	registry := prometheus.NewRegistry()

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_hub_cache_lookups_total",
		Help: "Total cache lookups by result",
	}, []string{"result"})

	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_hub_fallbacks_total",
		Help: "Total fallback substitutions after network failures",
	}, []string{"kind"})

	cacheStoreFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offline_hub_cache_store_failures_total",
		Help: "Total best-effort cache writes that failed",
	})

	orderSubmissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_hub_order_submissions_total",
		Help: "Total queued order resubmissions by result",
	}, []string{"result"})

	online := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "offline_hub_online",
		Help: "1 when the storefront is reachable",
	})

	registry.MustRegister(cacheLookups, fallbacks, cacheStoreFailures, orderSubmissions, online)

	return &Metrics{
		registry:           registry,
		cacheLookups:       cacheLookups,
		fallbacks:          fallbacks,
		cacheStoreFailures: cacheStoreFailures,
		orderSubmissions:   orderSubmissions,
		online:             online,
	}
}

// Registry 返回底层注册表，便于测试直接 Gather。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler 返回 promhttp 处理器。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Fallback(kind string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(kind).Inc()
}

func (m *Metrics) CacheStoreFailed() {
	if m == nil {
		return
	}
	m.cacheStoreFailures.Inc()
}

func (m *Metrics) OrderSubmission(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "ok"
	}
	m.orderSubmissions.WithLabelValues(result).Inc()
}

func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
		return
	}
	m.online.Set(0)
}
