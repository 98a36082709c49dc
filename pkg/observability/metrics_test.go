package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/factcore/pkg/config"
	"github.com/platinummonkey/factcore/pkg/plugins"
)

var (
	_ config.LoadObserver  = (*Metrics)(nil)
	_ plugins.LoadObserver = (*Metrics)(nil)
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	assert.Panics(t, func() { NewMetrics(registry) }, "duplicate registration must panic")
}

func TestObserveConfigLoad(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveConfigLoad("/etc/fact/main.cfg", nil, 2*time.Millisecond)
	m.ObserveConfigLoad("/etc/fact/main.cfg", errors.New("bad"), time.Millisecond)
	m.ObserveConfigLoad("/etc/fact/main.cfg", nil, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConfigLoadsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConfigLoadsTotal.WithLabelValues("error")))
	assert.Greater(t, testutil.ToFloat64(m.ConfigLastLoadTime), 0.0)
}

func TestObservePluginLoads(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObservePluginLoad(plugins.CategoryAnalysis, "plugins.analysis.a.code.a", nil, time.Millisecond)
	m.ObservePluginLoad(plugins.CategoryAnalysis, "plugins.analysis.b.code.b", errors.New("boom"), time.Millisecond)
	m.ObserveDiscovery(plugins.CategoryAnalysis, 1, 1, 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PluginLoadsTotal.WithLabelValues("analysis", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PluginLoadsTotal.WithLabelValues("analysis", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PluginsLoaded.WithLabelValues("analysis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PluginsFailed.WithLabelValues("analysis")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/plugins/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	RegisterMetricsEndpoint(router, registry)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/plugins/kernel_config", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/plugins/{name}", "404")))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "factcore_http_requests_total"))
}
