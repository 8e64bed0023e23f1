package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iho/splitledger/internal/adapter/http/handler"
	"github.com/iho/splitledger/internal/adapter/http/middleware"
	"github.com/iho/splitledger/internal/infrastructure/metrics"
	"github.com/iho/splitledger/internal/usecase"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	LedgerHandler         *handler.LedgerHandler
	DirectoryHandler      *handler.DirectoryHandler
	BalanceHandler        *handler.BalanceHandler
	SpendingHandler       *handler.SpendingHandler
	ReconciliationHandler *handler.ReconciliationHandler
	HealthHandler         *handler.HealthHandler

	// Optional
	IdempotencyStore usecase.IdempotencyStore
	IdempotencyTTL   time.Duration
	TokenVerifier    middleware.TokenVerifier
	RateLimiter      *middleware.RateLimiter
	Metrics          *metrics.Metrics
	Gatherer         prometheus.Gatherer
	Logger           zerolog.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Recovery(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Limit)
	}

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.TokenVerifier != nil {
			r.Use(middleware.AuthMiddleware(cfg.TokenVerifier, cfg.Metrics))
		}

		// Idempotency middleware for mutating requests
		if cfg.IdempotencyStore != nil {
			r.Use(middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore, cfg.IdempotencyTTL, cfg.Logger).Wrap)
		}

		r.Post("/expenses", cfg.LedgerHandler.RecordExpense)
		r.Post("/settlements", cfg.LedgerHandler.RecordSettlement)

		r.Route("/entries", func(r chi.Router) {
			r.Get("/", cfg.LedgerHandler.ListEntries)
			r.Get("/{seq}", cfg.LedgerHandler.GetEntry)
			r.Post("/{seq}/void", cfg.LedgerHandler.VoidEntry)
		})

		r.Route("/users", func(r chi.Router) {
			r.Post("/", cfg.DirectoryHandler.CreateUser)
			r.Get("/{id}", cfg.DirectoryHandler.GetUser)
			r.Get("/{id}/groups", cfg.DirectoryHandler.ListUserGroups)
			r.Get("/{id}/balances", cfg.BalanceHandler.UserBalances)
			r.Get("/{id}/suggestions", cfg.BalanceHandler.UserSuggestions)
			r.Get("/{id}/spending/monthly", cfg.SpendingHandler.Monthly)
			r.Get("/{id}/spending/total", cfg.SpendingHandler.Total)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", cfg.DirectoryHandler.CreateGroup)
			r.Get("/{id}", cfg.DirectoryHandler.GetGroup)
			r.Post("/{id}/members", cfg.DirectoryHandler.AddMember)
			r.Delete("/{id}/members/{userID}", cfg.DirectoryHandler.RemoveMember)
			r.Get("/{id}/balances", cfg.BalanceHandler.GroupBalances)
			r.Get("/{id}/suggestions", cfg.BalanceHandler.GroupSuggestions)
		})

		r.Get("/ledger/consistency", cfg.ReconciliationHandler.CheckConsistency)
	})

	return r
}
