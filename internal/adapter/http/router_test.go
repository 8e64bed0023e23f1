package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/iho/splitledger/internal/adapter/http/handler"
	apimiddleware "github.com/iho/splitledger/internal/adapter/http/middleware"
	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/auth"
	"github.com/iho/splitledger/internal/infrastructure/metrics"
	"github.com/iho/splitledger/internal/usecase"
)

func TestNewRouter_HealthEndpointAvailable(t *testing.T) {
	router := NewRouter(newRouterConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected /health to return 200, got %d", rec.Code)
	}
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	router := NewRouter(newRouterConfig(func(cfg *RouterConfig) {
		cfg.Metrics = metrics.NewWithRegisterer(reg)
		cfg.Gatherer = reg
	}))

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/users/ana", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected /metrics to return 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`splitledger_http_requests_total{method="GET",path="/api/v1/users/{id}",status="200"} 1`)) {
		t.Fatalf("expected request counter in exposition, got:\n%s", rec.Body)
	}
}

func TestNewRouter_RateLimiterBlocksExcessRequests(t *testing.T) {
	rl := apimiddleware.NewRateLimiter(1, 1, nil)
	router := NewRouter(newRouterConfig(func(cfg *RouterConfig) {
		cfg.RateLimiter = rl
	}))

	req1 := httptest.NewRequest(http.MethodGet, "/health", nil)
	req1.RemoteAddr = "1.2.3.4:1234"
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/health", nil)
	req2.RemoteAddr = "1.2.3.4:1234"
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec2.Code)
	}
}

func TestNewRouter_IdempotencyMiddlewareInvokesStore(t *testing.T) {
	store := &stubIdempotencyStore{}
	router := NewRouter(newRouterConfig(func(cfg *RouterConfig) {
		cfg.IdempotencyStore = store
	}))

	body := `{"payer_id":"ben","payee_id":"ana","amount":"5","idempotency_key":"k"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements", bytes.NewBufferString(body))
	req.Header.Set(apimiddleware.IdempotencyKeyHeader, "key-123")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if !store.checkCalled {
		t.Fatalf("expected idempotency store to be used")
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	if !store.updateCalled {
		t.Fatalf("expected successful response to be stored")
	}
}

func TestNewRouter_AuthRequiredWhenVerifierSet(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", time.Hour)
	router := NewRouter(newRouterConfig(func(cfg *RouterConfig) {
		cfg.TokenVerifier = jwtManager
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/ana", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	token, err := jwtManager.Generate(&domain.User{ID: "ana"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/ana", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected health to stay public, got %d", rec.Code)
	}
}

func TestNewRouter_RegistersKeyRoutes(t *testing.T) {
	router := NewRouter(newRouterConfig())

	chiRoutes, ok := router.(chi.Routes)
	if !ok {
		t.Fatal("router does not implement chi.Routes")
	}

	seen := map[string]bool{}
	if err := chi.Walk(chiRoutes, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		seen[method+" "+route] = true
		return nil
	}); err != nil {
		t.Fatalf("walk failed: %v", err)
	}

	expected := []string{
		"GET /health",
		"GET /ready",
		"POST /api/v1/expenses",
		"POST /api/v1/settlements",
		"GET /api/v1/entries/",
		"GET /api/v1/entries/{seq}",
		"POST /api/v1/entries/{seq}/void",
		"POST /api/v1/users/",
		"GET /api/v1/users/{id}/balances",
		"GET /api/v1/users/{id}/suggestions",
		"GET /api/v1/users/{id}/spending/monthly",
		"GET /api/v1/users/{id}/spending/total",
		"GET /api/v1/users/{id}/groups",
		"POST /api/v1/groups/",
		"POST /api/v1/groups/{id}/members",
		"DELETE /api/v1/groups/{id}/members/{userID}",
		"GET /api/v1/groups/{id}/balances",
		"GET /api/v1/groups/{id}/suggestions",
		"GET /api/v1/ledger/consistency",
	}

	for _, route := range expected {
		if !seen[route] {
			t.Fatalf("expected route %s to be registered", route)
		}
	}
}

func newRouterConfig(opts ...func(*RouterConfig)) RouterConfig {
	cfg := RouterConfig{
		LedgerHandler:         handler.NewLedgerHandler(stubLedgerService{}, 2, zerolog.Nop()),
		DirectoryHandler:      handler.NewDirectoryHandler(stubDirectoryService{}, 2),
		BalanceHandler:        handler.NewBalanceHandler(nil, 2),
		SpendingHandler:       handler.NewSpendingHandler(nil, 2),
		ReconciliationHandler: handler.NewReconciliationHandler(nil),
		HealthHandler:         handler.NewHealthHandler(nil),
		Gatherer:              prometheus.NewRegistry(),
		Logger:                zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

type stubLedgerService struct{}

func (stubLedgerService) RecordExpense(ctx context.Context, input usecase.RecordExpenseInput) (*domain.LedgerEntry, error) {
	return &domain.LedgerEntry{Sequence: 1, Kind: domain.EntryKindExpense, Expense: &domain.Expense{Amount: input.Amount}}, nil
}

func (stubLedgerService) RecordSettlement(ctx context.Context, input usecase.RecordSettlementInput) (*domain.LedgerEntry, error) {
	return &domain.LedgerEntry{Sequence: 1, Kind: domain.EntryKindSettlement, Settlement: &domain.Settlement{Amount: input.Amount}}, nil
}

func (stubLedgerService) ReverseEntry(ctx context.Context, seq int64, createdBy string) (*domain.LedgerEntry, error) {
	return nil, domain.ErrEntryNotFound
}

func (stubLedgerService) GetEntry(ctx context.Context, seq int64) (*domain.LedgerEntry, error) {
	return nil, domain.ErrEntryNotFound
}

func (stubLedgerService) ListEntries(ctx context.Context, afterSeq int64, limit int) ([]*domain.LedgerEntry, error) {
	return nil, nil
}

type stubDirectoryService struct{}

func (stubDirectoryService) CreateUser(ctx context.Context, input usecase.CreateUserInput) (*domain.User, error) {
	return &domain.User{ID: input.ID}, nil
}

func (stubDirectoryService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return &domain.User{ID: id}, nil
}

func (stubDirectoryService) CreateGroup(ctx context.Context, input usecase.CreateGroupInput) (*domain.Group, error) {
	return &domain.Group{ID: "g"}, nil
}

func (stubDirectoryService) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	return &domain.Group{ID: id}, nil
}

func (stubDirectoryService) AddMember(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	return &domain.Group{ID: groupID}, nil
}

func (stubDirectoryService) RemoveMember(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	return &domain.Group{ID: groupID}, nil
}

func (stubDirectoryService) ListUserGroups(ctx context.Context, userID string) ([]usecase.UserGroup, error) {
	return nil, nil
}

type stubIdempotencyStore struct {
	checkCalled  bool
	updateCalled bool
}

func (s *stubIdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	s.checkCalled = true
	return false, nil, nil
}

func (s *stubIdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	s.updateCalled = true
	return nil
}

func (s *stubIdempotencyStore) Delete(ctx context.Context, key string) error {
	return nil
}
