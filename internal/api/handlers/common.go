package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cortexmem/cortex/internal/api/middleware"
	"github.com/cortexmem/cortex/internal/service"
)

// Error codes surfaced in the envelope.
const (
	codeValidation    = "VALIDATION_ERROR"
	codeNotFound      = "NOT_FOUND"
	codeJobInProgress = "JOB_IN_PROGRESS"
	codeLoadThreshold = "LOAD_THRESHOLD_EXCEEDED"
	codeMaxRetries    = "MAX_RETRIES_EXCEEDED"
	codeLLM           = "LLM_ERROR"
	codeInternal      = "INTERNAL_ERROR"
)

type responseMeta struct {
	RequestID  string `json:"requestId,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

type successEnvelope struct {
	Success bool         `json:"success"`
	Data    any          `json:"data"`
	Meta    responseMeta `json:"meta"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

// writeData wraps the payload in the success envelope with request metadata.
func writeData(w http.ResponseWriter, r *http.Request, status int, data any, start time.Time) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(successEnvelope{
		Success: true,
		Data:    data,
		Meta: responseMeta{
			RequestID:  middleware.RequestIDFromContext(r.Context()),
			DurationMs: time.Since(start).Milliseconds(),
		},
	})
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeAPIErrorDetails(w, status, code, message, nil)
}

func writeAPIErrorDetails(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorBody{Code: code, Message: message, Details: details},
	})
}

// writeServiceError maps service sentinels to HTTP status and error code.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrNotFoundInArchive):
		writeAPIError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidArgument),
		errors.Is(err, service.ErrInvalidConfig),
		errors.Is(err, service.ErrUnknownSector):
		writeAPIError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, service.ErrJobInProgress):
		writeAPIError(w, http.StatusConflict, codeJobInProgress, err.Error())
	case errors.Is(err, service.ErrLoadThreshold):
		writeAPIError(w, http.StatusServiceUnavailable, codeLoadThreshold, err.Error())
	case errors.Is(err, service.ErrMaxRetries):
		writeAPIError(w, http.StatusServiceUnavailable, codeMaxRetries, err.Error())
	case errors.Is(err, service.ErrLLMNotConfigured), errors.Is(err, service.ErrLLMGeneration):
		writeAPIError(w, http.StatusBadGateway, codeLLM, err.Error())
	default:
		writeAPIError(w, http.StatusInternalServerError, codeInternal, fallback)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeAPIError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return false
	}
	return true
}
