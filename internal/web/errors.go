// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/holomush/blackfortress/internal/account"
	"github.com/holomush/blackfortress/pkg/errutil"
)

// Transport-level error codes. Service errors keep their account.Code* code.
const (
	CodeBadRequest       = "REQUEST_INVALID"
	CodeBodyTooLarge     = "REQUEST_TOO_LARGE"
	CodeRateLimited      = "RATE_LIMITED"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInternal         = "INTERNAL_ERROR"
)

const (
	badRequestMessage  = "Invalid request body."
	tooLargeMessage    = "Request body is too large."
	rateLimitedMessage = "Too many requests, please try again later."
	internalMessage    = "Internal server error."
)

type errorBody struct {
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	Fields      map[string]string `json:"fields,omitempty"`
	LockedUntil *time.Time        `json:"lockedUntil,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may have disconnected
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, errorResponse{Error: body})
}

func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, errorBody{Code: CodeInternal, Message: internalMessage})
}

// writeServiceError maps an account service error to a response. Internal
// failures never expose their cause.
func writeServiceError(w http.ResponseWriter, err error, now time.Time) {
	code := errutil.Code(err)
	switch code {
	case account.CodeValidation:
		body := errorBody{Code: code, Message: err.Error()}
		if v, ok := errutil.ContextValue(err, "fields"); ok {
			if fields, ok := v.(map[string]string); ok && len(fields) > 0 {
				body.Fields = fields
			}
		}
		writeError(w, http.StatusBadRequest, body)
	case account.CodeConflict:
		writeError(w, http.StatusConflict, errorBody{Code: code, Message: account.ConflictMessage})
	case account.CodeInvalidCredentials:
		writeError(w, http.StatusUnauthorized, errorBody{Code: code, Message: account.InvalidCredentialsMessage})
	case account.CodeAccountLocked:
		body := errorBody{Code: code, Message: account.AccountLockedMessage}
		if v, ok := errutil.ContextValue(err, "locked_until"); ok {
			if until, ok := v.(time.Time); ok {
				body.LockedUntil = &until
				w.Header().Set("Retry-After", retryAfter(until.Sub(now)))
			}
		}
		writeError(w, http.StatusLocked, body)
	default:
		writeInternalError(w)
	}
}

// retryAfter renders d as whole seconds, rounded up, at least 1.
func retryAfter(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
