package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func authEcho(masterKey string) *echo.Echo {
	e := echo.New()
	e.Use(AuthMiddleware(masterKey, []string{"/health"}))
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/health", ok)
	e.GET("/v1/models", ok)
	return e
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		authHeader string
		wantStatus int
	}{
		{"skip path without auth", "/health", "", http.StatusOK},
		{"missing header", "/v1/models", "", http.StatusUnauthorized},
		{"wrong scheme", "/v1/models", "Basic c2VjcmV0", http.StatusUnauthorized},
		{"wrong key", "/v1/models", "Bearer wrong", http.StatusUnauthorized},
		{"valid key", "/v1/models", "Bearer secret", http.StatusOK},
	}

	e := authEcho("secret")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}
