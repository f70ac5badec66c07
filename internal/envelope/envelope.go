package envelope

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform JSON wrapper for every gateway-originated response.
// Successful dispatches carry Response/Message; failures carry ErrorCode and
// ErrorMessage. StatusCode always mirrors the HTTP status line.
type Envelope struct {
	StatusCode      int               `json:"status_code"`
	ResponseHeaders map[string]string `json:"response_headers"`
	Response        interface{}       `json:"response,omitempty"`
	Message         string            `json:"message,omitempty"`
	ErrorCode       string            `json:"error_code,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
}

// Headers builds a response_headers map carrying the request id.
func Headers(requestID string) map[string]string {
	if requestID == "" {
		return map[string]string{}
	}
	return map[string]string{"request_id": requestID}
}

// Write serializes the envelope to w. The HTTP status line follows
// env.StatusCode and Content-Type is always application/json.
func Write(w http.ResponseWriter, env *Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(env.StatusCode)
	json.NewEncoder(w).Encode(env)
}

// OK writes a 200 envelope wrapping payload.
func OK(w http.ResponseWriter, requestID string, payload interface{}) {
	Write(w, &Envelope{
		StatusCode:      http.StatusOK,
		ResponseHeaders: Headers(requestID),
		Response:        payload,
	})
}

// Status writes an envelope with the given status wrapping payload.
func Status(w http.ResponseWriter, status int, requestID string, payload interface{}) {
	Write(w, &Envelope{
		StatusCode:      status,
		ResponseHeaders: Headers(requestID),
		Response:        payload,
	})
}

// Message writes an envelope carrying only a human-readable message.
func Message(w http.ResponseWriter, status int, requestID, msg string) {
	Write(w, &Envelope{
		StatusCode:      status,
		ResponseHeaders: Headers(requestID),
		Message:         msg,
	})
}
