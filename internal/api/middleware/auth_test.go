package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"tradebot/pkg/crypto"
)

func TestAuthAllowsValidToken(t *testing.T) {
	hash, err := crypto.HashToken("admin-secret")
	if err != nil {
		t.Fatalf("failed to hash token: %v", err)
	}

	called := false
	handler := Auth(hash)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/engine/pause", nil)
	req.Header.Set("Authorization", "Bearer admin-secret")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !called {
		t.Error("handler should be called with a valid token")
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestAuthRejectsInvalidRequests(t *testing.T) {
	hash, err := crypto.HashToken("admin-secret")
	if err != nil {
		t.Fatalf("failed to hash token: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong token", "Bearer not-the-token"},
		{"wrong scheme", "Basic admin-secret"},
		{"empty bearer", "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := Auth(hash)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/engine/pause", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if called {
				t.Error("handler should not be called")
			}
			if w.Code != http.StatusUnauthorized {
				t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
			}
			if got := w.Header().Get("WWW-Authenticate"); got != "Bearer" {
				t.Errorf("expected WWW-Authenticate Bearer, got %q", got)
			}
		})
	}
}

// Пустой хеш означает выключенную авторизацию
func TestAuthDisabledWithEmptyHash(t *testing.T) {
	called := false
	handler := Auth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/engine/pause", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !called {
		t.Error("handler should be called when auth is disabled")
	}
}
