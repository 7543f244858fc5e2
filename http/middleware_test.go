package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"passpredict/inference"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSMiddleware(t *testing.T) {
	h := CORSMiddleware([]string{"http://localhost:5173"})(okHandler())

	tests := []struct {
		name        string
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantAllowed bool
	}{
		{"allowed origin", http.MethodPost, "http://localhost:5173", false, http.StatusOK, true},
		{"other origin", http.MethodPost, "http://evil.test", false, http.StatusOK, false},
		{"no origin", http.MethodGet, "", false, http.StatusOK, false},
		{"allowed preflight", http.MethodOptions, "http://localhost:5173", true, http.StatusNoContent, true},
		{"rejected preflight", http.MethodOptions, "http://evil.test", true, http.StatusForbidden, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/predict", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d want %d", w.Code, tt.wantStatus)
			}
			got := w.Header().Get("Access-Control-Allow-Origin")
			if tt.wantAllowed && got != tt.origin {
				t.Errorf("allow origin = %q want %q", got, tt.origin)
			}
			if !tt.wantAllowed && got != "" {
				t.Errorf("unexpected allow origin %q", got)
			}
			if tt.wantAllowed && w.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("credentials not allowed")
			}
		})
	}
}

func TestCORSPreflightEchoesRequestedHeaders(t *testing.T) {
	h := CORSMiddleware([]string{"http://localhost:5173"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	req.Header.Set("Access-Control-Request-Headers", "content-type, x-client-version")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); got != "content-type, x-client-version" {
		t.Errorf("allow headers = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != http.MethodPut {
		t.Errorf("allow methods = %q", got)
	}
}

func TestLoggerMiddlewareAssignsRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = inference.RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})
	h := LoggerMiddleware(zap.NewNop())(inner)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	header := w.Header().Get(RequestIDHeader)
	if header == "" || header != seen {
		t.Fatalf("header %q, context %q", header, seen)
	}
	if _, err := uuid.Parse(header); err != nil {
		t.Errorf("request id is not a uuid: %v", err)
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("status not passed through: %d", w.Code)
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeadersMiddleware(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	Chain(mark("a"), mark("b"), mark("c"))(okHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if len(order) != 3 || order[0] != "a" || order[2] != "c" {
		t.Fatalf("unexpected order %v", order)
	}
}
