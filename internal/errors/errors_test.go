package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew(t *testing.T) {
	e := New(400, "REQ001", "bad request")
	if e.Status != 400 {
		t.Errorf("Status = %d, want 400", e.Status)
	}
	if e.Code != "REQ001" {
		t.Errorf("Code = %q, want %q", e.Code, "REQ001")
	}
	if e.Error() != "REQ001 bad request" {
		t.Errorf("Error() = %q, want %q", e.Error(), "REQ001 bad request")
	}
}

func TestWrap(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	e := Wrap(inner, 502, "GTW006", "upstream error")

	if e.Status != 502 {
		t.Errorf("Status = %d, want 502", e.Status)
	}

	want := "GTW006 upstream error: connection refused"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestUnwrap(t *testing.T) {
	inner := fmt.Errorf("root cause")
	e := Wrap(inner, 500, "GTW999", "wrapped")

	if e.Unwrap() != inner {
		t.Error("Unwrap should return the underlying error")
	}

	// errors.Is should work through the chain
	if !errors.Is(e, inner) {
		t.Error("errors.Is should find the underlying error")
	}
}

func TestUnwrapNil(t *testing.T) {
	e := New(404, "GTW003", "not found")
	if e.Unwrap() != nil {
		t.Error("Unwrap on a non-wrapped error should return nil")
	}
}

func TestWithDetails(t *testing.T) {
	e := ErrValidationFailed.WithDetails("field 'name' is required")

	if e.Details != "field 'name' is required" {
		t.Errorf("Details = %q, want %q", e.Details, "field 'name' is required")
	}
	if e.Code != "VAL001" {
		t.Errorf("Code = %q, want VAL001", e.Code)
	}
	// Singleton must not be mutated
	if ErrValidationFailed.Details != "" {
		t.Error("WithDetails mutated the singleton")
	}
}

func TestWithRequestID(t *testing.T) {
	e := ErrUnexpected.WithRequestID("req-123")

	if e.RequestID != "req-123" {
		t.Errorf("RequestID = %q, want %q", e.RequestID, "req-123")
	}
	if ErrUnexpected.RequestID != "" {
		t.Error("WithRequestID mutated the singleton")
	}
}

func TestWithDetailsPreservesUnderlying(t *testing.T) {
	inner := fmt.Errorf("root cause")
	e := Wrap(inner, 500, "GTW999", "wrapped").WithDetails("extra info")

	if e.Unwrap() != inner {
		t.Error("WithDetails should preserve underlying error")
	}
}

func TestIsGatewayError(t *testing.T) {
	t.Run("GatewayError", func(t *testing.T) {
		e := New(404, "GTW003", "not found")
		ge, ok := IsGatewayError(e)
		if !ok {
			t.Fatal("IsGatewayError should return true for GatewayError")
		}
		if ge.Status != 404 {
			t.Errorf("Status = %d, want 404", ge.Status)
		}
	})

	t.Run("regular error", func(t *testing.T) {
		_, ok := IsGatewayError(fmt.Errorf("regular error"))
		if ok {
			t.Error("IsGatewayError should return false for regular error")
		}
	})

	t.Run("nil", func(t *testing.T) {
		_, ok := IsGatewayError(nil)
		if ok {
			t.Error("IsGatewayError should return false for nil")
		}
	})
}

func TestWriteJSON_Envelope(t *testing.T) {
	singletons := []*GatewayError{
		ErrEndpointNotFound, ErrNotSubscribed, ErrAPINotFound,
		ErrUpstreamExhausted, ErrRateLimited, ErrUnexpected,
		ErrInvalidToken, ErrPermissionDenied, ErrWrongFileType,
		ErrMissingVersionHeader, ErrNoCredits,
	}

	for _, e := range singletons {
		t.Run(e.Code, func(t *testing.T) {
			w := httptest.NewRecorder()
			e.WriteJSON(w)

			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want %q", ct, "application/json")
			}
			if w.Code != e.Status {
				t.Errorf("status = %d, want %d", w.Code, e.Status)
			}

			var body map[string]interface{}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if int(body["status_code"].(float64)) != e.Status {
				t.Errorf("status_code = %v, want %d", body["status_code"], e.Status)
			}
			if body["error_code"] != e.Code {
				t.Errorf("error_code = %v, want %q", body["error_code"], e.Code)
			}
			if body["error_message"] != e.Message {
				t.Errorf("error_message = %v, want %q", body["error_message"], e.Message)
			}
			if _, ok := body["response_headers"]; !ok {
				t.Error("envelope missing response_headers")
			}
		})
	}
}

func TestWriteJSON_WithRequestID(t *testing.T) {
	e := ErrAPINotFound.WithDetails("nope/v1").WithRequestID("req-abc")

	w := httptest.NewRecorder()
	e.WriteJSON(w)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	headers, ok := body["response_headers"].(map[string]interface{})
	if !ok {
		t.Fatal("response_headers missing")
	}
	if headers["request_id"] != "req-abc" {
		t.Errorf("request_id = %v, want %q", headers["request_id"], "req-abc")
	}
	if body["error_message"] != "API does not exist: nope/v1" {
		t.Errorf("error_message = %v", body["error_message"])
	}
}

func TestSingletonCodes(t *testing.T) {
	tests := []struct {
		err        *GatewayError
		wantStatus int
		wantCode   string
	}{
		{ErrEndpointNotFound, 404, "GTW001"},
		{ErrNotSubscribed, 403, "GTW002"},
		{ErrAPINotFound, 404, "GTW003"},
		{ErrResourceNotFound, 404, "GTW004"},
		{ErrResourceExists, 409, "GTW005"},
		{ErrUpstreamExhausted, 502, "GTW006"},
		{ErrRateLimited, 429, "GTW008"},
		{ErrHTTP, 500, "GTW998"},
		{ErrUnexpected, 500, "GTW999"},
		{ErrInvalidToken, 401, "AUTH001"},
		{ErrInvalidCredentials, 401, "AUTH002"},
		{ErrCSRFMismatch, 401, "AUTH003"},
		{ErrWeakPassword, 400, "AUTH004"},
		{ErrPermissionDenied, 403, "API007"},
		{ErrAdminRoleProtected, 403, "API008"},
		{ErrMalformedBody, 400, "REQ001"},
		{ErrBodyTooLarge, 413, "REQ002"},
		{ErrWrongFileType, 400, "REQ003"},
		{ErrMissingVersionHeader, 400, "REQ004"},
		{ErrValidationFailed, 400, "VAL001"},
		{ErrNoCredits, 402, "CRD001"},
		{ErrNoCreditRecord, 402, "CRD002"},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			if tt.err.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.wantStatus)
			}
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
		})
	}
}

func TestFromUpstreamStatus(t *testing.T) {
	if e := FromUpstreamStatus(504); e.Status != 504 || e.Code != "GTW006" {
		t.Errorf("504 mapped to %d %s", e.Status, e.Code)
	}
	if e := FromUpstreamStatus(500); e != ErrUpstreamExhausted {
		t.Error("500 should map to ErrUpstreamExhausted")
	}
	if e := FromUpstreamStatus(418); e.Code != "GTW998" {
		t.Errorf("418 mapped to %s, want GTW998", e.Code)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	withDetails := ErrWeakPassword.WithDetails("too short")
	if !errors.Is(withDetails, ErrWeakPassword) {
		t.Error("detail copy should match its base singleton")
	}
	if errors.Is(withDetails, ErrInvalidToken) {
		t.Error("different codes must not match")
	}

	wrapped := ErrUnexpected.Wrap(fmt.Errorf("boom"))
	if !errors.Is(wrapped, ErrUnexpected) {
		t.Error("wrapped copy should match its base singleton")
	}
	if errors.Is(fmt.Errorf("plain"), ErrUnexpected) {
		t.Error("plain error must not match")
	}
}

func TestErrorInterface(t *testing.T) {
	var _ error = New(500, "GTW999", "test")
	var _ error = Wrap(fmt.Errorf("inner"), 500, "GTW999", "test")
}
