package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/infrastructure/auth"
	"github.com/iho/splitledger/internal/infrastructure/metrics"
)

func TestAuthMiddleware(t *testing.T) {
	jwtManager := auth.NewJWTManager("secret", time.Hour)
	token, err := jwtManager.Generate(&domain.User{ID: "ana", Name: "Ana"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
		reason     string
	}{
		{name: "valid token", header: "Bearer " + token, wantStatus: http.StatusOK, wantUser: "ana"},
		{name: "lowercase scheme", header: "bearer " + token, wantStatus: http.StatusOK, wantUser: "ana"},
		{name: "missing header", wantStatus: http.StatusUnauthorized, reason: "missing"},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized, reason: "malformed"},
		{name: "garbage token", header: "Bearer nope", wantStatus: http.StatusUnauthorized, reason: "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.NewWithRegisterer(prometheus.NewRegistry())

			var gotUser string
			h := AuthMiddleware(jwtManager, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser, _ = UserIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/users/ana", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
			if gotUser != tt.wantUser {
				t.Fatalf("expected user %q, got %q", tt.wantUser, gotUser)
			}
			if tt.reason != "" {
				if got := testutil.ToFloat64(m.AuthFailures.WithLabelValues(tt.reason)); got != 1 {
					t.Fatalf("expected one %s failure, got %v", tt.reason, got)
				}
			}
		})
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := UserIDFromContext(req.Context()); ok {
		t.Fatalf("expected no user id on a bare context")
	}
	if _, ok := UserIDFromContext(WithUserID(req.Context(), "")); ok {
		t.Fatalf("expected empty user id to be treated as absent")
	}
}
