package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimiterBlocksBursts(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	req.RemoteAddr = "198.51.100.7:4321"

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("first request: got %d, want %d", w.Code, http.StatusNoContent)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want %q", got, "1")
	}
}

func TestRateLimiterIsPerIP(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	first.RemoteAddr = "198.51.100.7:4321"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, first)
	if w.Code != http.StatusNoContent {
		t.Fatalf("first ip: got %d, want %d", w.Code, http.StatusNoContent)
	}

	// A different client still has its own bucket.
	second := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	second.RemoteAddr = "203.0.113.5:9"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, second)
	if w.Code != http.StatusNoContent {
		t.Fatalf("second ip: got %d, want %d", w.Code, http.StatusNoContent)
	}
}
