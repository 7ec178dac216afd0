package server

import (
	"encoding/json"
	"errors"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/allocation"
	"strategyexecutor/internal/broker"
	"strategyexecutor/internal/rms"
)

// ErrorBody is the error envelope's inner object.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse is the full error envelope: {error: {code, message, details?}}.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("encode response failed")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message, Details: details}})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, "VALIDATION", message, nil)
}

func notFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", message, nil)
}

func unauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
}

func internalError(w http.ResponseWriter, log *logger.Entry, context string, err error) {
	log.WithError(err).Error(context)
	writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
}

// writeDomainError maps a domain error (RMS violation, allocation
// failure) onto its wire error code, falling back to 500 for anything
// unrecognized.
func writeDomainError(w http.ResponseWriter, log *logger.Entry, context string, err error) {
	var violation *rms.ViolationError
	if errors.As(err, &violation) {
		writeError(w, http.StatusUnprocessableEntity, violation.Code, violation.Message, nil)
		return
	}
	if errors.Is(err, allocation.ErrNoEligibleAccounts) {
		writeError(w, http.StatusUnprocessableEntity, "NO_ELIGIBLE_ACCOUNTS", err.Error(), nil)
		return
	}
	if errors.Is(err, broker.ErrSessionExpired) {
		writeError(w, http.StatusConflict, "BROKER_SESSION_EXPIRED", err.Error(), nil)
		return
	}
	if errors.Is(err, broker.ErrTimeout) {
		writeError(w, http.StatusGatewayTimeout, "ADAPTER_TIMEOUT", err.Error(), nil)
		return
	}
	if errors.Is(err, broker.ErrRejected) {
		writeError(w, http.StatusUnprocessableEntity, "BROKER_REJECTED", err.Error(), nil)
		return
	}
	if errors.Is(err, broker.ErrUnsupported) {
		writeError(w, http.StatusNotImplemented, "BROKER_UNSUPPORTED", err.Error(), nil)
		return
	}
	internalError(w, log, context, err)
}
