package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/fencevirt-go/internal/backend"
	"github.com/yndnr/fencevirt-go/internal/server/httpserver/handler"
	"github.com/yndnr/fencevirt-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Backend answers readiness checks and host lists.
	Backend backend.Backend

	// Listener names the running listener in /health.
	Listener string

	Metrics *metric.Registry
	Logger  *slog.Logger

	// AllowList is the client IP/CIDR allowlist. Empty allows everyone.
	AllowList []string

	// RateLimit is requests per second per client. Zero disables limiting.
	RateLimit float64
	Burst     int
}

// NewRouter creates the status handler with its middleware chain.
func NewRouter(cfg *RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.Global()
	}

	h := handler.New(cfg.Backend, cfg.Listener, cfg.Logger)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", cfg.Metrics.Handler())
	mux.Handle("/", h)

	return Chain(mux,
		Recover(cfg.Logger),
		RequestID(),
		NetworkACL(&NetworkACLConfig{AllowList: cfg.AllowList, Logger: cfg.Logger}),
		RateLimit(cfg.RateLimit, cfg.Burst),
		Audit(cfg.Logger),
	)
}
