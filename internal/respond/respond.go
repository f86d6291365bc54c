// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

// Package respond writes the JSON response envelope shared by every handler.
package respond

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinel/internal/apperrors"
	"github.com/tomtom215/sentinel/internal/logging"
	"github.com/tomtom215/sentinel/internal/models"
)

// JSON sends env with status.
func JSON(w http.ResponseWriter, status int, env *models.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	data, err := json.Marshal(env)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// OK sends a success envelope around data.
func OK(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, &models.Envelope{Success: true, Data: data})
}

// Error sends the envelope for a code and message.
func Error(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	JSON(w, status, &models.Envelope{
		Error: &models.APIError{Code: code, Message: message, Details: details},
	})
}

// Err maps err through apperrors and sends it. Rate limit errors also set
// Retry-After. Internal errors are logged and their message is not exposed.
func Err(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	code := apperrors.Code(err)
	message := err.Error()
	var details map[string]interface{}

	var ve *apperrors.ValidationError
	var re *apperrors.RateLimitError
	switch {
	case errors.As(err, &ve):
		details = map[string]interface{}{"index": ve.Index}
		if ve.Field != "" {
			details["field"] = ve.Field
		}
	case errors.As(err, &re):
		seconds := int(math.Ceil(re.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		details = map[string]interface{}{"retryAfter": seconds}
	case code == apperrors.CodeInternal:
		logging.CtxErr(r.Context(), err).Str("path", sanitize(r.URL.Path)).Msg("Internal error")
		message = "internal server error"
	}

	Error(w, status, code, message, details)
}

// MethodNotAllowed sends 405 with an Allow header.
func MethodNotAllowed(w http.ResponseWriter, allow ...string) {
	w.Header().Set("Allow", strings.Join(allow, ", "))
	Error(w, http.StatusMethodNotAllowed, apperrors.CodeMethod, "method not allowed", nil)
}

// sanitize removes control characters before a value reaches the log.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
