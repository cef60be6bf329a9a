package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Dxstvn/realestatecrypto-sub008/internal/identity"
	"github.com/Dxstvn/realestatecrypto-sub008/internal/limiter"
	"github.com/Dxstvn/realestatecrypto-sub008/internal/storage/memory"
)

type mockStoreError struct{}

func (m *mockStoreError) Increment(context.Context, string, time.Duration) (int64, time.Time, error) {
	return 0, time.Time{}, errors.New("storage error")
}

func (m *mockStoreError) Get(context.Context, string) (int64, error) {
	return 0, errors.New("storage error")
}

func (m *mockStoreError) Delete(context.Context, string) error {
	return errors.New("storage error")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLimiter() *limiter.Limiter {
	resolver := identity.NewResolver(identity.Options{Production: true})
	return limiter.NewLimiter(memory.NewMemoryStore(0), resolver, testLogger())
}

func testRequest(ip string) *http.Request {
	req := httptest.NewRequest("GET", "http://example.com/api/thing", nil)
	req.RemoteAddr = ip + ":4312"
	return req
}

func TestNewThrottle(t *testing.T) {
	l := testLimiter()
	logger := testLogger()

	mw := NewThrottle(l, logger)

	if mw == nil {
		t.Fatal("expected middleware to be created")
	}
	if mw.limiter != l {
		t.Fatal("expected limiter to be set")
	}
	if mw.logger != logger {
		t.Fatal("expected logger to be set")
	}
}

func TestThrottle_Success(t *testing.T) {
	mw := NewThrottle(testLimiter(), testLogger())
	p := &limiter.Policy{Name: "search", Window: time.Minute, MaxRequests: 5, EmitHeaders: true}

	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	})

	rec := httptest.NewRecorder()
	mw.Limit(p)(handler).ServeHTTP(rec, testRequest("203.0.113.5"))

	if !handlerCalled {
		t.Fatal("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	if got := rec.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("expected limit header '5', got '%s'", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("expected remaining header '4', got '%s'", got)
	}
	if got := rec.Header().Get("X-RateLimit-Policy"); got != "5;w=60000" {
		t.Errorf("expected policy header '5;w=60000', got '%s'", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("expected reset header to be set")
	}
}

func TestThrottle_RateLimitExceeded(t *testing.T) {
	mw := NewThrottle(testLimiter(), testLogger())
	p := &limiter.Policy{
		Name:             "auth",
		Window:           time.Minute,
		MaxRequests:      2,
		RejectionMessage: "Too many authentication attempts, please try again in 15 minutes.",
		EmitHeaders:      true,
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := mw.Limit(p)(handler)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, testRequest("203.0.113.5"))
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: expected status 200, got %d", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, testRequest("203.0.113.5"))

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected remaining '0', got '%s'", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("expected application/json, got '%s'", got)
	}

	var response map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["error"] != p.RejectionMessage {
		t.Errorf("expected the policy's message, got %q", response["error"])
	}
	if len(response) != 1 {
		t.Errorf("denial body carries only the error field, got %v", response)
	}
}

func TestThrottle_CustomRejectionStatus(t *testing.T) {
	mw := NewThrottle(testLimiter(), testLogger())
	p := &limiter.Policy{
		Name:            "upload",
		Window:          time.Minute,
		MaxRequests:     1,
		RejectionStatus: http.StatusServiceUnavailable,
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	wrapped := mw.Limit(p)(handler)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, testRequest("203.0.113.5"))

	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, testRequest("203.0.113.5"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response["error"] != limiter.DefaultRejectionMessage {
		t.Errorf("expected the default message, got %q", response["error"])
	}
}

func TestThrottle_HeadersOffByDefault(t *testing.T) {
	mw := NewThrottle(testLimiter(), testLogger())
	p := &limiter.Policy{Name: "api", Window: time.Minute, MaxRequests: 1}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := mw.Limit(p)(handler)

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, testRequest("203.0.113.5"))
	if rec.Header().Get("X-RateLimit-Limit") != "" {
		t.Error("expected no disclosure headers on success")
	}

	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, testRequest("203.0.113.5"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "" || rec.Header().Get("X-RateLimit-Reset") != "" {
		t.Error("expected no disclosure headers on denial either")
	}
}

func TestThrottle_AdmitsOnStorageError(t *testing.T) {
	resolver := identity.NewResolver(identity.Options{Production: true})
	l := limiter.NewLimiter(&mockStoreError{}, resolver, testLogger())
	mw := NewThrottle(l, testLogger())
	p := &limiter.Policy{Name: "api", Window: time.Minute, MaxRequests: 1}

	handlerCalled := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	mw.Limit(p)(handler).ServeHTTP(rec, testRequest("203.0.113.5"))

	if !handlerCalled {
		t.Fatal("storage trouble must not block requests")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestThrottle_PanicsOnInvalidPolicy(t *testing.T) {
	mw := NewThrottle(testLimiter(), testLogger())

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for a policy with no budget")
		}
	}()
	mw.Limit(&limiter.Policy{Name: "broken", Window: time.Minute})
}

func TestThrottle_Concurrent(t *testing.T) {
	mw := NewThrottle(testLimiter(), testLogger())
	p := &limiter.Policy{Name: "api", Window: time.Minute, MaxRequests: 100}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := mw.Limit(p)(handler)

	N := 50
	results := make(chan int, N)

	for i := 0; i < N; i++ {
		go func() {
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, testRequest("203.0.113.5"))
			results <- rec.Code
		}()
	}

	successCount := 0
	for i := 0; i < N; i++ {
		if <-results == http.StatusOK {
			successCount++
		}
	}
	if successCount != N {
		t.Errorf("expected %d successful requests, got %d", N, successCount)
	}
}
