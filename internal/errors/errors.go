package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/apidoorman/doorman-sub003/internal/envelope"
)

// GatewayError represents an error that can be returned to clients. Status is
// the HTTP status line; Code is the stable error code clients and tests match
// on (GTW/API/AUTH/REQ/VAL/CRD namespaces).
type GatewayError struct {
	Status     int    `json:"status_code"`
	Code       string `json:"error_code"`
	Message    string `json:"error_message"`
	Details    string `json:"details,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	underlying error
}

func (e *GatewayError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s %s: %v", e.Code, e.Message, e.underlying)
	}
	return fmt.Sprintf("%s %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.underlying
}

// Envelope converts the error into the uniform response envelope.
func (e *GatewayError) Envelope() *envelope.Envelope {
	msg := e.Message
	if e.Details != "" {
		msg = e.Message + ": " + e.Details
	}
	return &envelope.Envelope{
		StatusCode:      e.Status,
		ResponseHeaders: envelope.Headers(e.RequestID),
		ErrorCode:       e.Code,
		ErrorMessage:    msg,
	}
}

// WriteJSON writes the error envelope to the response. Base errors with no
// details or request id serve pre-serialized JSON to avoid allocations.
func (e *GatewayError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	if pre, ok := preSerialized[e]; ok {
		w.Write(pre)
		return
	}
	json.NewEncoder(w).Encode(e.Envelope())
}

// Common errors
var (
	ErrEndpointNotFound = &GatewayError{
		Status:  http.StatusNotFound,
		Code:    "GTW001",
		Message: "Endpoint does not exist for the requested API",
	}

	ErrNotSubscribed = &GatewayError{
		Status:  http.StatusForbidden,
		Code:    "GTW002",
		Message: "You are not subscribed to this API",
	}

	ErrAPINotFound = &GatewayError{
		Status:  http.StatusNotFound,
		Code:    "GTW003",
		Message: "API does not exist",
	}

	ErrResourceNotFound = &GatewayError{
		Status:  http.StatusNotFound,
		Code:    "GTW004",
		Message: "Resource not found",
	}

	ErrResourceExists = &GatewayError{
		Status:  http.StatusConflict,
		Code:    "GTW005",
		Message: "Resource already exists",
	}

	ErrUpstreamExhausted = &GatewayError{
		Status:  http.StatusBadGateway,
		Code:    "GTW006",
		Message: "Upstream server error",
	}

	ErrIPForbidden = &GatewayError{
		Status:  http.StatusForbidden,
		Code:    "GTW007",
		Message: "Access from this IP address is denied",
	}

	ErrRateLimited = &GatewayError{
		Status:  http.StatusTooManyRequests,
		Code:    "GTW008",
		Message: "Rate limit exceeded",
	}

	ErrHTTP = &GatewayError{
		Status:  http.StatusInternalServerError,
		Code:    "GTW998",
		Message: "HTTP error",
	}

	ErrUnexpected = &GatewayError{
		Status:  http.StatusInternalServerError,
		Code:    "GTW999",
		Message: "An unexpected error occurred",
	}

	ErrInvalidToken = &GatewayError{
		Status:  http.StatusUnauthorized,
		Code:    "AUTH001",
		Message: "Invalid or expired token",
	}

	ErrInvalidCredentials = &GatewayError{
		Status:  http.StatusUnauthorized,
		Code:    "AUTH002",
		Message: "Invalid email or password",
	}

	ErrCSRFMismatch = &GatewayError{
		Status:  http.StatusUnauthorized,
		Code:    "AUTH003",
		Message: "CSRF token missing or invalid",
	}

	ErrWeakPassword = &GatewayError{
		Status:  http.StatusBadRequest,
		Code:    "AUTH004",
		Message: "Password does not meet strength requirements",
	}

	ErrPermissionDenied = &GatewayError{
		Status:  http.StatusForbidden,
		Code:    "API007",
		Message: "You do not have permission to perform this action",
	}

	ErrAdminRoleProtected = &GatewayError{
		Status:  http.StatusForbidden,
		Code:    "API008",
		Message: "The admin role cannot be modified",
	}

	ErrMalformedBody = &GatewayError{
		Status:  http.StatusBadRequest,
		Code:    "REQ001",
		Message: "Malformed request body",
	}

	ErrBodyTooLarge = &GatewayError{
		Status:  http.StatusRequestEntityTooLarge,
		Code:    "REQ002",
		Message: "Request body too large",
	}

	ErrWrongFileType = &GatewayError{
		Status:  http.StatusBadRequest,
		Code:    "REQ003",
		Message: "Unsupported file type",
	}

	ErrMissingVersionHeader = &GatewayError{
		Status:  http.StatusBadRequest,
		Code:    "REQ004",
		Message: "X-API-Version header is required",
	}

	ErrValidationFailed = &GatewayError{
		Status:  http.StatusBadRequest,
		Code:    "VAL001",
		Message: "Request validation failed",
	}

	ErrNoCredits = &GatewayError{
		Status:  http.StatusPaymentRequired,
		Code:    "CRD001",
		Message: "No API credits available",
	}

	ErrNoCreditRecord = &GatewayError{
		Status:  http.StatusPaymentRequired,
		Code:    "CRD002",
		Message: "No credit record for this API credit group",
	}
)

// preSerialized holds envelope JSON for base error singletons.
var preSerialized map[*GatewayError][]byte

func init() {
	bases := []*GatewayError{
		ErrEndpointNotFound, ErrNotSubscribed, ErrAPINotFound,
		ErrResourceNotFound, ErrResourceExists,
		ErrUpstreamExhausted, ErrIPForbidden, ErrRateLimited, ErrHTTP, ErrUnexpected,
		ErrInvalidToken, ErrInvalidCredentials, ErrCSRFMismatch,
		ErrWeakPassword, ErrPermissionDenied, ErrAdminRoleProtected,
		ErrMalformedBody, ErrBodyTooLarge, ErrWrongFileType,
		ErrMissingVersionHeader, ErrValidationFailed,
		ErrNoCredits, ErrNoCreditRecord,
	}
	preSerialized = make(map[*GatewayError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e.Envelope())
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// New creates a new GatewayError.
func New(status int, code, message string) *GatewayError {
	return &GatewayError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with gateway status and code.
func Wrap(err error, status int, code, message string) *GatewayError {
	return &GatewayError{
		Status:     status,
		Code:       code,
		Message:    message,
		underlying: err,
	}
}

// Wrap returns a copy with the underlying cause attached.
func (e *GatewayError) Wrap(err error) *GatewayError {
	return &GatewayError{
		Status:     e.Status,
		Code:       e.Code,
		Message:    e.Message,
		Details:    e.Details,
		RequestID:  e.RequestID,
		underlying: err,
	}
}

// WithDetails returns a copy with details attached.
func (e *GatewayError) WithDetails(details string) *GatewayError {
	return &GatewayError{
		Status:     e.Status,
		Code:       e.Code,
		Message:    e.Message,
		Details:    details,
		RequestID:  e.RequestID,
		underlying: e.underlying,
	}
}

// WithRequestID returns a copy with the request id attached.
func (e *GatewayError) WithRequestID(requestID string) *GatewayError {
	return &GatewayError{
		Status:     e.Status,
		Code:       e.Code,
		Message:    e.Message,
		Details:    e.Details,
		RequestID:  requestID,
		underlying: e.underlying,
	}
}

// Is matches GatewayErrors by code, so copies carrying details or request
// ids compare equal to their base singleton under errors.Is.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// IsGatewayError checks if an error is a GatewayError.
func IsGatewayError(err error) (*GatewayError, bool) {
	if ge, ok := err.(*GatewayError); ok {
		return ge, true
	}
	return nil, false
}

// FromUpstreamStatus maps a failed upstream status to a gateway error.
func FromUpstreamStatus(status int) *GatewayError {
	switch {
	case status == http.StatusGatewayTimeout:
		return &GatewayError{Status: http.StatusGatewayTimeout, Code: "GTW006", Message: "Upstream timeout"}
	case status >= 500:
		return ErrUpstreamExhausted
	default:
		return ErrHTTP.WithDetails(http.StatusText(status))
	}
}
