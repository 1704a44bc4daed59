package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/ignite/funnel-studio/internal/pkg/logger"
)

// MaxBodyBytes caps request bodies read by Decode. Funnel documents are the
// largest payload.
const MaxBodyBytes = 8 << 20

// ErrorResponse is the standard error envelope for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSON writes a JSON response with the given status code. The data is
// serialized and Content-Type is set automatically.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("httputil: JSON encode failed", "error", err)
	}
}

// OK writes a 200 response with the given data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 response with the given data.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// NoContent writes a 204 response with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes a JSON error response. Use for client errors (4xx).
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// ErrorWithDetails writes a JSON error with a machine-readable code and a
// details payload, e.g. a list of validation issues.
func ErrorWithDetails(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// BadRequest writes a 400 error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// NotFound writes a 404 error.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message)
}

// Conflict writes a 409 error.
func Conflict(w http.ResponseWriter, message string) {
	ErrorWithDetails(w, http.StatusConflict, "conflict", message, nil)
}

// Unprocessable writes a 422 carrying the issues that made the input
// unacceptable.
func Unprocessable(w http.ResponseWriter, code, message string, issues any) {
	ErrorWithDetails(w, http.StatusUnprocessableEntity, code, message, issues)
}

// BadGatewayMessage is the public text of every 502.
const BadGatewayMessage = "remote store write failed"

// BadGateway writes a 502 for failures of a downstream store. Like
// InternalError it logs the real error; details must hold only values safe
// to show a client.
func BadGateway(w http.ResponseWriter, code string, err error, details any) {
	logger.Warn("httputil: upstream failure", "code", code, "error", err)
	ErrorWithDetails(w, http.StatusBadGateway, code, BadGatewayMessage, details)
}

// InternalError writes a 500 error. Logs the real error but returns a
// generic message to the client (never leak internals).
func InternalError(w http.ResponseWriter, err error) {
	logger.Error("httputil: internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal server error")
}

// Decode reads JSON from the request body into dst.
// Returns false and writes a 400 response if parsing fails.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
