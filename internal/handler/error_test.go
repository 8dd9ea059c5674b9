package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parlor-chat/parlor/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Status Mapping Tests
// =============================================================================

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{domain.EINVALID, http.StatusBadRequest},
		{domain.EUNAUTHORIZED, http.StatusUnauthorized},
		{domain.EQUOTA, http.StatusPaymentRequired},
		{domain.EFORBIDDEN, http.StatusForbidden},
		{domain.ETRIAL, http.StatusForbidden},
		{domain.ENOTFOUND, http.StatusNotFound},
		{domain.ECONFLICT, http.StatusConflict},
		{domain.ETOOLARGE, http.StatusRequestEntityTooLarge},
		{domain.ERATELIMIT, http.StatusTooManyRequests},
		{domain.EINTERNAL, http.StatusInternalServerError},
		{domain.ENOTIMPL, http.StatusNotImplemented},
		{"something_else", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := ErrorCodeToHTTPStatus(tt.code); got != tt.want {
				t.Errorf("ErrorCodeToHTTPStatus(%q) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Error Response Tests - Security Focus
// =============================================================================

func TestErrorResponse_DoesNotExposeOperationName(t *testing.T) {
	err := domain.NotFound("organization.get", "organization", "abc-123")

	req := httptest.NewRequest("GET", "/api/v1/organization", nil)
	rec := httptest.NewRecorder()

	ErrorResponse(rec, req, discardLogger(), err)

	body := rec.Body.String()
	if strings.Contains(body, "organization.get") {
		t.Errorf("response exposes internal operation name: %s", body)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestErrorResponse_InternalErrorHidesDetails(t *testing.T) {
	err := domain.Internal(io.ErrUnexpectedEOF, "usage.increment", "failed to increment usage")

	req := httptest.NewRequest("POST", "/api/v1/chat/conversations", nil)
	rec := httptest.NewRecorder()

	ErrorResponse(rec, req, discardLogger(), err)

	body := rec.Body.String()
	if strings.Contains(body, "unexpected EOF") {
		t.Errorf("response exposes wrapped error detail: %s", body)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestErrorResponse_JSONShape(t *testing.T) {
	err := domain.Invalid("conversation.send_message", "Message is required")

	req := httptest.NewRequest("POST", "/api/v1/chat/conversations", nil)
	rec := httptest.NewRecorder()

	ErrorResponse(rec, req, discardLogger(), err)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if resp.Error.Code != domain.EINVALID {
		t.Errorf("expected code %q, got %q", domain.EINVALID, resp.Error.Code)
	}
	if resp.Error.Message != "Message is required" {
		t.Errorf("unexpected message: %q", resp.Error.Message)
	}
}

func TestErrorResponse_PlainErrorBecomesInternal(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/v1/widgets", nil)
	rec := httptest.NewRecorder()

	ErrorResponse(rec, req, discardLogger(), io.ErrClosedPipe)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for a non-domain error, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "closed pipe") {
		t.Errorf("response exposes raw error text: %s", rec.Body.String())
	}
}
