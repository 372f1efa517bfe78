// Package handlers implements the HTTP resource endpoints. Every response
// body is the success envelope; typed domain errors map onto their status
// code and wire code, anything else becomes an opaque INTERNAL.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/domain"
)

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *wireError  `json:"error,omitempty"`
}

type wireError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// OK writes a success envelope with the given status.
func OK(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// Fail writes the error envelope for err. Untyped errors are logged through
// the request-scoped logger and surface as 500 INTERNAL without detail.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusGatewayTimeout)
		_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: &wireError{
			Code:    "TIMEOUT",
			Message: "request deadline exceeded",
		}})
		return
	}
	e, ok := domain.AsError(err)
	if !ok {
		zerolog.Ctx(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		e = &domain.Error{Kind: domain.KindUnknown, Code: domain.CodeInternal, Message: "internal error"}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.HTTPStatus())
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: &wireError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}})
}

// decode parses a JSON request body into dst.
func decode(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.Invalid(domain.CodeValidation, "request body is not valid JSON")
	}
	return nil
}
