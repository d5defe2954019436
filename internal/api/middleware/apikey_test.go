package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuth_DisabledAllowsAll(t *testing.T) {
	auth := &APIKeyAuth{keys: map[string]bool{}}
	handler := auth.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 with auth disabled", rec.Code)
	}
}

func TestAPIKeyAuth_EnforcesKey(t *testing.T) {
	auth := &APIKeyAuth{keys: map[string]bool{}}
	auth.AddKey("valid-key")
	handler := auth.Middleware(okHandler())

	// No key
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d without key, want 401", rec.Code)
	}

	// Wrong key
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d with wrong key, want 401", rec.Code)
	}

	// Bearer key
	req = httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("Authorization", "Bearer valid-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d with bearer key, want 200", rec.Code)
	}

	// X-API-Key header
	req = httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("X-API-Key", "valid-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d with header key, want 200", rec.Code)
	}
}

func TestAPIKeyAuth_ProbesStayPublic(t *testing.T) {
	auth := &APIKeyAuth{keys: map[string]bool{}}
	auth.AddKey("valid-key")
	handler := auth.Middleware(okHandler())

	for _, path := range []string{"/healthz", "/readyz", "/version"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200 without key", path, rec.Code)
		}
	}
}

func TestAPIKeyAuth_RemoveKeyDisables(t *testing.T) {
	auth := &APIKeyAuth{keys: map[string]bool{}}
	auth.AddKey("only-key")
	auth.RemoveKey("only-key")
	if auth.Enabled() {
		t.Error("Enabled() = true after removing the last key")
	}
}
