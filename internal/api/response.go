// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

// Package api exposes the HTTP surface: search, ingest, previews, health.
package api

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/curioproject/curio/internal/logging"
	"github.com/curioproject/curio/internal/middleware"
	"github.com/curioproject/curio/internal/models"
)

// Stable error codes. Raw upstream payloads never appear in responses.
const (
	codeValidationError = "VALIDATION_ERROR"
	codeUnauthorized    = "UNAUTHORIZED"
	codeForbidden       = "FORBIDDEN"
	codeNotFound        = "NOT_FOUND"
	codeQuotaExceeded   = "QUOTA_EXCEEDED"
	codeCircuitOpen     = "CIRCUIT_OPEN"
	codeConnectorError  = "CONNECTOR_ERROR"
	codeInternalError   = "INTERNAL_ERROR"
)

// respondJSON writes the uniform success envelope.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}, meta models.Metadata) {
	meta.Timestamp = time.Now().UTC()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(models.APIResponse{
		Status:   "ok",
		Data:     data,
		Metadata: meta,
	}); err != nil {
		logging.Error().Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Msg("encode response failed")
	}
}

// respondError writes the uniform error envelope with a stable code.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error: &models.APIError{
			Code:    code,
			Message: message,
		},
	}); err != nil {
		logging.Error().Err(err).
			Str("request_id", middleware.GetRequestID(r.Context())).
			Msg("encode error response failed")
	}
}
