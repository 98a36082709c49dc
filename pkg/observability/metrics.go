package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/factcore/pkg/plugins"
)

const namespace = "factcore"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Configuration metrics
	ConfigLoadsTotal   *prometheus.CounterVec
	ConfigLoadDuration prometheus.Histogram
	ConfigLastLoadTime prometheus.Gauge

	// Plugin metrics
	PluginLoadsTotal   *prometheus.CounterVec
	PluginLoadDuration *prometheus.HistogramVec
	PluginsLoaded      *prometheus.GaugeVec
	PluginsFailed      *prometheus.GaugeVec
	DiscoveryDuration  *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		ConfigLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_loads_total",
				Help:      "Total number of configuration loads",
			},
			[]string{"status"},
		),
		ConfigLoadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "config_load_duration_seconds",
				Help:      "Configuration load duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5},
			},
		),
		ConfigLastLoadTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_successful_load_timestamp_seconds",
				Help:      "Unix time of the last successful configuration load",
			},
		),

		PluginLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_loads_total",
				Help:      "Total number of plugin module loads",
			},
			[]string{"category", "status"},
		),
		PluginLoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plugin_load_duration_seconds",
				Help:      "Plugin module load duration in seconds",
				Buckets:   []float64{.001, .01, .1, .5, 1, 5, 30},
			},
			[]string{"category"},
		),
		PluginsLoaded: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "plugins_loaded",
				Help:      "Number of plugins loaded by the last discovery",
			},
			[]string{"category"},
		),
		PluginsFailed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "plugins_failed",
				Help:      "Number of plugins that failed in the last discovery",
			},
			[]string{"category"},
		),
		DiscoveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plugin_discovery_duration_seconds",
				Help:      "Plugin discovery duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"category"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ConfigLoadsTotal,
		m.ConfigLoadDuration,
		m.ConfigLastLoadTime,
		m.PluginLoadsTotal,
		m.PluginLoadDuration,
		m.PluginsLoaded,
		m.PluginsFailed,
		m.DiscoveryDuration,
	)

	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveConfigLoad implements config.LoadObserver
func (m *Metrics) ObserveConfigLoad(_ string, err error, elapsed time.Duration) {
	m.ConfigLoadsTotal.WithLabelValues(status(err)).Inc()
	m.ConfigLoadDuration.Observe(elapsed.Seconds())
	if err == nil {
		m.ConfigLastLoadTime.SetToCurrentTime()
	}
}

// ObservePluginLoad implements plugins.LoadObserver
func (m *Metrics) ObservePluginLoad(category plugins.Category, _ string, err error, elapsed time.Duration) {
	m.PluginLoadsTotal.WithLabelValues(string(category), status(err)).Inc()
	m.PluginLoadDuration.WithLabelValues(string(category)).Observe(elapsed.Seconds())
}

// ObserveDiscovery implements plugins.LoadObserver
func (m *Metrics) ObserveDiscovery(category plugins.Category, loaded, failed int, elapsed time.Duration) {
	m.PluginsLoaded.WithLabelValues(string(category)).Set(float64(loaded))
	m.PluginsFailed.WithLabelValues(string(category)).Set(float64(failed))
	m.DiscoveryDuration.WithLabelValues(string(category)).Observe(elapsed.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled with the matched route template, not the raw path.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tmpl, err := cur.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
