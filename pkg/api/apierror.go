// Package api exposes the signer over HTTP and provides the middleware shared
// by every endpoint the binary serves.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
)

// MsgProcessFailed is the error text of every 500 response.
const MsgProcessFailed = "Failed to process request"

// ErrorBody is the error document of every non-2xx response.
type ErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an ErrorBody.
func WriteError(w http.ResponseWriter, status int, msg, details string) {
	WriteJSON(w, status, ErrorBody{Error: msg, Details: details})
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, msg, details string) {
	WriteError(w, http.StatusBadRequest, msg, details)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusNotFound, msg, "")
}

// WriteTooManyRequests writes a 429 error response with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too many requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 response. Only the taxonomy message of err is
// exposed; the full cause is logged.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	details := "Unknown error"
	var ae *attesterr.Error
	if errors.As(err, &ae) {
		details = ae.Message
	}
	WriteError(w, http.StatusInternalServerError, MsgProcessFailed, details)
}

// WriteAttestError maps a taxonomy error onto an HTTP response. Validation
// errors are the caller's fault; everything else is a 500.
func WriteAttestError(w http.ResponseWriter, err error) {
	var ae *attesterr.Error
	if errors.As(err, &ae) && ae.Kind == attesterr.KindValidation {
		WriteBadRequest(w, ae.Message, ae.Detail)
		return
	}
	WriteInternal(w, err)
}
