package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// =============================================================================
// Request Logging Tests
// =============================================================================

func TestLoggingMiddleware_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	mw := NewRequestLoggingMiddleware(logger)

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest("POST", "/api/v1/widgets", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	out := buf.String()
	if !strings.Contains(out, "method=POST") {
		t.Errorf("log missing method: %s", out)
	}
	if !strings.Contains(out, "path=/api/v1/widgets") {
		t.Errorf("log missing path: %s", out)
	}
	if !strings.Contains(out, "status=201") {
		t.Errorf("log missing captured status: %s", out)
	}
	if !strings.Contains(out, "level=INFO") {
		t.Errorf("expected INFO level for 2xx: %s", out)
	}
}

func TestLoggingMiddleware_ServerErrorsLogAtWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	mw := NewRequestLoggingMiddleware(logger)

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest("GET", "/api/v1/organization", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !strings.Contains(buf.String(), "level=WARN") {
		t.Errorf("expected WARN level for 5xx: %s", buf.String())
	}
}

func TestLoggingMiddleware_SkipsNoisyPaths(t *testing.T) {
	paths := []string{"/health", "/metrics", "/files/avatars/a.png"}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			mw := NewRequestLoggingMiddleware(logger)

			handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("GET", path, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if buf.Len() != 0 {
				t.Errorf("expected no log output for %s, got: %s", path, buf.String())
			}
		})
	}
}

func TestLoggingMiddleware_DefaultStatusIs200(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	mw := NewRequestLoggingMiddleware(logger)

	// Handler writes a body without calling WriteHeader.
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/api/v1/usage", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !strings.Contains(buf.String(), "status=200") {
		t.Errorf("expected implicit 200, got: %s", buf.String())
	}
}

// =============================================================================
// Path Sanitization Tests
// =============================================================================

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		rawQuery string
		want     string
	}{
		{
			name:     "no query",
			path:     "/api/v1/widgets",
			rawQuery: "",
			want:     "/api/v1/widgets",
		},
		{
			name:     "benign params pass through",
			path:     "/api/v1/widgets",
			rawQuery: "limit=10&offset=20",
			want:     "/api/v1/widgets?limit=10&offset=20",
		},
		{
			name:     "token redacted",
			path:     "/api/v1/auth/verify-email",
			rawQuery: "token=abc123",
			want:     "/api/v1/auth/verify-email?token=[REDACTED]",
		},
		{
			name:     "mixed params redact only sensitive",
			path:     "/cb",
			rawQuery: "state=xyz&code=secret&access_token=tok",
			want:     "/cb?state=xyz&code=[REDACTED]&access_token=[REDACTED]",
		},
		{
			name:     "case insensitive keys",
			path:     "/cb",
			rawQuery: "API_KEY=abc",
			want:     "/cb?API_KEY=[REDACTED]",
		},
		{
			name:     "valueless param dropped",
			path:     "/cb",
			rawQuery: "flag",
			want:     "/cb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizePath(tt.path, tt.rawQuery); got != tt.want {
				t.Errorf("sanitizePath(%q, %q) = %q, want %q", tt.path, tt.rawQuery, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Client IP Tests
// =============================================================================

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "203.0.113.7:54321",
			want:       "203.0.113.7",
		},
		{
			name:       "x-forwarded-for wins",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.4, 10.0.0.1"},
			want:       "198.51.100.4",
		},
		{
			name:       "x-real-ip when no xff",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Real-IP": "198.51.100.9"},
			want:       "198.51.100.9",
		},
		{
			name:       "unparseable remote addr returned as-is",
			remoteAddr: "not-an-addr",
			want:       "not-an-addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
