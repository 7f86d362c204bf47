package api

import (
	"net/http"

	"coordinator/internal/coordinator"
	"coordinator/internal/health"
	"coordinator/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Coordinator   *coordinator.Coordinator
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Coordinator, cfg.Metrics, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Trigger API - auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/trigger", authMiddleware(http.HandlerFunc(handler.Trigger)))
	mux.Handle("GET /v1/executions/lookup", authMiddleware(http.HandlerFunc(handler.LookupExecution)))
	mux.Handle("GET /v1/executions/{executionId}", authMiddleware(http.HandlerFunc(handler.GetExecution)))
	mux.Handle("POST /v1/executions/{executionId}/stop", authMiddleware(http.HandlerFunc(handler.StopExecution)))

	// Apply middleware chain (order matters: innermost first, Recovery ends up outermost)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
