package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"guardian/native/secureop"
	"guardian/storage"
)

func newTestEngine(t *testing.T) *secureop.Engine {
	t.Helper()
	engine, err := secureop.NewEngine(secureop.Config{
		ChainID:        187101,
		TimelockPeriod: time.Hour,
	}, storage.NewMemDB())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	var owner, broadcaster, recovery [20]byte
	owner[0], broadcaster[0], recovery[0] = 1, 2, 3
	if err := engine.Initialize(owner, broadcaster, recovery); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return engine
}

func get(t *testing.T, handler http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestStatusEndpoint(t *testing.T) {
	server := NewServer(newTestEngine(t), nil, ServerConfig{})
	rr := get(t, server.Handler(), "/v1/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d", rr.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["chainId"] != float64(187101) {
		t.Fatalf("chainId = %v", payload["chainId"])
	}
}

func TestTransactionNotFound(t *testing.T) {
	server := NewServer(newTestEngine(t), nil, ServerConfig{})
	rr := get(t, server.Handler(), "/v1/transactions/99", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want 404", rr.Code)
	}
}

func TestRoleEndpoints(t *testing.T) {
	server := NewServer(newTestEngine(t), nil, ServerConfig{})
	rr := get(t, server.Handler(), "/v1/roles/OWNER_ROLE", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d", rr.Code)
	}
	var view roleView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !view.Protected || len(view.Members) != 1 {
		t.Fatalf("unexpected role view: %+v", view)
	}
	if rr := get(t, server.Handler(), "/v1/roles/NO_SUCH_ROLE", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want 404", rr.Code)
	}
}

func TestWorkflowPathsEndpoint(t *testing.T) {
	server := NewServer(newTestEngine(t), nil, ServerConfig{})
	rr := get(t, server.Handler(), "/v1/operations/OWNERSHIP_TRANSFER/paths", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d", rr.Code)
	}
	var paths []workflowPathView
	if err := json.Unmarshal(rr.Body.Bytes(), &paths); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(paths) != 4 {
		t.Fatalf("path count = %d, want 4", len(paths))
	}
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	server := NewServer(newTestEngine(t), nil, ServerConfig{
		Auth: AuthConfig{
			Enabled:    true,
			HMACSecret: secret,
			Issuer:     "guardian-test",
		},
	})

	// The status endpoint stays open.
	if rr := get(t, server.Handler(), "/v1/status", nil); rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want open status endpoint", rr.Code)
	}
	if rr := get(t, server.Handler(), "/v1/roles", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("status code = %d, want 401 without token", rr.Code)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "guardian-test",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	rr := get(t, server.Handler(), "/v1/roles", map[string]string{"Authorization": "Bearer " + token})
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d with valid token, body %s", rr.Code, rr.Body.String())
	}

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "guardian-test",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if rr := get(t, server.Handler(), "/v1/roles", map[string]string{"Authorization": "Bearer " + expired}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("status code = %d, want 401 for expired token", rr.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	server := NewServer(newTestEngine(t), nil, ServerConfig{
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 1,
			Burst:             1,
		},
	})
	headers := map[string]string{"X-Forwarded-For": "203.0.113.9"}
	if rr := get(t, server.Handler(), "/v1/status", headers); rr.Code != http.StatusOK {
		t.Fatalf("first request code = %d", rr.Code)
	}
	if rr := get(t, server.Handler(), "/v1/status", headers); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request code = %d, want 429", rr.Code)
	}

	// A different client has its own budget.
	other := map[string]string{"X-Forwarded-For": "203.0.113.10"}
	if rr := get(t, server.Handler(), "/v1/status", other); rr.Code != http.StatusOK {
		t.Fatalf("other client code = %d", rr.Code)
	}
}
