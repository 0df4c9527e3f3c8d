package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/fencevirt-go/internal/telemetry/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRequestID(t *testing.T) {
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestIDFromContext(r.Context()) == "" {
			t.Error("expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("generates request ID when not provided", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

		requestID := rec.Header().Get("X-Request-ID")
		if !strings.HasPrefix(requestID, "req-") || len(requestID) != len("req-")+26 {
			t.Errorf("expected req-<ulid>, got %q", requestID)
		}
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set("X-Request-ID", "existing-id-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("X-Request-ID"); got != "existing-id-123" {
			t.Errorf("expected 'existing-id-123', got %s", got)
		}
	})
}

func TestChain(t *testing.T) {
	var order []int
	mark := func(n int) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, n)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, 0) }),
		mark(1), mark(2), mark(3))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	want := []int{1, 2, 3, 0}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}
}

func TestNetworkACL(t *testing.T) {
	tests := []struct {
		name   string
		allow  []string
		remote string
		want   int
	}{
		{"empty allowlist", nil, "192.168.1.100:12345", http.StatusOK},
		{"single IP", []string{"192.168.1.100"}, "192.168.1.100:12345", http.StatusOK},
		{"CIDR", []string{"10.0.0.0/8"}, "10.20.30.40:1", http.StatusOK},
		{"IPv6 loopback", []string{"::1"}, "[::1]:8080", http.StatusOK},
		{"mapped IPv4", []string{"127.0.0.0/8"}, "[::ffff:127.0.0.1]:80", http.StatusOK},
		{"outside", []string{"10.0.0.0/8"}, "192.168.1.1:1", http.StatusForbidden},
		{"only invalid entries", []string{"not-an-ip"}, "192.168.1.1:1", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NetworkACL(&NetworkACLConfig{AllowList: tt.allow, Logger: quietLogger()})(okHandler())
			req := httptest.NewRequest("GET", "/v1/hosts", nil)
			req.RemoteAddr = tt.remote
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestNetworkACL_IgnoresForwardedFor(t *testing.T) {
	h := NetworkACL(&NetworkACLConfig{AllowList: []string{"10.0.0.1"}})(okHandler())
	req := httptest.NewRequest("GET", "/v1/hosts", nil)
	req.RemoteAddr = "192.168.1.1:1"
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h := RateLimit(0, 0)(okHandler())
		for i := 0; i < 50; i++ {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("request %d: status = %d", i+1, rec.Code)
			}
		}
	})

	t.Run("limits requests from same IP", func(t *testing.T) {
		h := RateLimit(0.001, 2)(okHandler())
		send := func(remote string) int {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = remote
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			return rec.Code
		}

		for i := 0; i < 2; i++ {
			if code := send("10.0.0.99:12345"); code != http.StatusOK {
				t.Errorf("request %d: expected status 200, got %d", i+1, code)
			}
		}
		if code := send("10.0.0.99:12346"); code != http.StatusTooManyRequests {
			t.Errorf("expected status 429, got %d", code)
		}
		if code := send("10.0.0.100:1"); code != http.StatusOK {
			t.Errorf("other client: expected status 200, got %d", code)
		}
	})

	t.Run("concurrent clients", func(t *testing.T) {
		h := RateLimit(1000, 1000)(okHandler())
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
			}()
		}
		wg.Wait()
	})
}

func TestRecover(t *testing.T) {
	h := Recover(quietLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if got := rec.Header().Get("X-Error-Code"); got != "FV-SYS-5000" {
		t.Errorf("X-Error-Code = %q", got)
	}
}

func TestAudit(t *testing.T) {
	var logBuffer strings.Builder
	log := slog.New(slog.NewTextHandler(&logBuffer, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tests := []struct {
		status int
		want   string
	}{
		{http.StatusOK, "request completed"},
		{http.StatusForbidden, "client error"},
		{http.StatusBadGateway, "completed with error"},
	}
	for _, tt := range tests {
		logBuffer.Reset()
		h := Audit(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))
		req := httptest.NewRequest("GET", "/v1/hosts", nil)
		req = req.WithContext(logger.WithRequestID(req.Context(), "test-req-123"))
		req = req.WithContext(context.WithValue(req.Context(), ContextKeyStartTime, time.Now()))
		h.ServeHTTP(httptest.NewRecorder(), req)

		out := logBuffer.String()
		if !strings.Contains(out, tt.want) || !strings.Contains(out, "test-req-123") {
			t.Errorf("status %d: log = %q, want %q", tt.status, out, tt.want)
		}
	}
}
