package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/apidoorman/doorman-sub003/internal/envelope"
	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/logging"
	"github.com/apidoorman/doorman-sub003/internal/middleware"
)

func requestID(r *http.Request) string {
	return middleware.GetRequestID(r)
}

func param(r *http.Request, name string) string {
	return httprouter.ParamsFromContext(r.Context()).ByName(name)
}

// writeError renders any error as a gateway envelope. Gateway errors keep
// their status and code; body-cap violations map to the 413 code; anything
// else is logged and masked as GTW999.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	id := requestID(r)

	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		apierrors.ErrBodyTooLarge.WithRequestID(id).WriteJSON(w)
		return
	}

	var gwErr *apierrors.GatewayError
	if errors.As(err, &gwErr) {
		gwErr.WithRequestID(id).WriteJSON(w)
		return
	}

	logging.Error("unhandled error",
		zap.String("request_id", id),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	apierrors.ErrUnexpected.WithRequestID(id).WriteJSON(w)
}

func writeOK(w http.ResponseWriter, r *http.Request, payload interface{}) {
	envelope.OK(w, requestID(r), payload)
}

func writeStatus(w http.ResponseWriter, r *http.Request, status int, payload interface{}) {
	envelope.Status(w, status, requestID(r), payload)
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	envelope.Message(w, status, requestID(r), msg)
}

// readJSON decodes the request body into dst. The outer BodyLimit
// middleware caps the reader, so an oversized body surfaces here as
// MaxBytesError rather than in the handler.
func readJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return apierrors.ErrBodyTooLarge
		}
		if errors.Is(err, io.EOF) {
			return apierrors.ErrMalformedBody.WithDetails("request body is empty")
		}
		return apierrors.ErrMalformedBody.Wrap(err)
	}
	return nil
}
