// Package observability provides logging, Prometheus metrics, health checks
// and OpenTelemetry tracing for the fact-core services.
//
// # Logging
//
// The logging section of the configuration selects level and file:
//
//	logger, closer, err := observability.NewLogger(cfg.Common.Logging)
//	defer closer.Close()
//
// # Metrics
//
// Metrics implements both config.LoadObserver and plugins.LoadObserver:
//
//	metrics := observability.NewMetrics(registry)
//	loader := config.NewLoader(logger, config.WithObserver(metrics))
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(state, registry, db, redisClient)
//	observability.RegisterHealthRoutes(router, checker)
package observability
