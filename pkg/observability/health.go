package observability

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/factcore/pkg/config"
	"github.com/platinummonkey/factcore/pkg/httputil"
	"github.com/platinummonkey/factcore/pkg/plugins"
)

// HealthChecker reports the state of the configuration, the loaded plugins
// and the database and redis servers named in the configuration.
type HealthChecker struct {
	state    *config.State
	registry *plugins.Registry
	db       *sql.DB
	redis    *redis.Client
	version  string
}

// NewHealthChecker creates a new health checker. db and redis may be nil
// when the corresponding section is not configured.
func NewHealthChecker(state *config.State, registry *plugins.Registry, db *sql.DB, redis *redis.Client) *HealthChecker {
	return &HealthChecker{
		state:    state,
		registry: registry,
		db:       db,
		redis:    redis,
	}
}

// SetVersion sets the version reported by Check
func (h *HealthChecker) SetVersion(v string) {
	h.version = v
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness always returns 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness returns 503 when any mandatory dependency is unhealthy
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	_ = httputil.WriteJSON(w, code, status)
}

// Check performs a comprehensive health check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	// configuration and database are mandatory, redis and plugins are not
	status.add("configuration", h.checkConfig(), true)
	if h.registry != nil {
		status.add("plugins", h.checkPlugins(), false)
	}
	if h.db != nil {
		status.add("database", h.checkDatabase(ctx), true)
	}
	if h.redis != nil {
		status.add("redis", h.checkRedis(ctx), false)
	}

	return status
}

func (s *HealthStatus) add(name string, dep DependencyStatus, mandatory bool) {
	s.Dependencies[name] = dep
	switch {
	case dep.Status == StatusUnhealthy && mandatory:
		s.Status = StatusUnhealthy
	case dep.Status != StatusHealthy && s.Status == StatusHealthy:
		s.Status = StatusDegraded
	}
}

func (h *HealthChecker) checkConfig() DependencyStatus {
	status := DependencyStatus{Status: StatusHealthy, Timestamp: time.Now()}
	cfg := h.state.Current()
	if cfg == nil {
		status.Status = StatusUnhealthy
		status.Message = "no configuration loaded"
		return status
	}
	status.Message = cfg.Source
	return status
}

func (h *HealthChecker) checkPlugins() DependencyStatus {
	status := DependencyStatus{Status: StatusHealthy, Timestamp: time.Now()}
	if len(h.registry.ListByCategory(plugins.CategoryAnalysis)) == 0 {
		status.Status = StatusDegraded
		status.Message = "no analysis plugins loaded"
	}
	return status
}

// checkDatabase checks PostgreSQL health
func (h *HealthChecker) checkDatabase(ctx context.Context) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}

	err := h.db.PingContext(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
		return status
	}

	var one int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		status.Status = StatusUnhealthy
		status.Message = "query failed: " + err.Error()
		return status
	}

	stats := h.db.Stats()
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		status.Status = StatusDegraded
		status.Message = "connection pool exhausted"
	}

	return status
}

// checkRedis checks Redis health
func (h *HealthChecker) checkRedis(ctx context.Context) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}

	err := h.redis.Ping(ctx).Err()
	status.Latency = time.Since(start)
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	return status
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(router *mux.Router, checker *HealthChecker) {
	router.HandleFunc("/health", checker.Readiness).Methods(http.MethodGet)
	router.HandleFunc("/health/live", checker.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", checker.Readiness).Methods(http.MethodGet)
}
