package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/clawbuds/backend/internal/auth"
	"github.com/clawbuds/backend/internal/domain"
)

// caller returns the authenticated claw id. The auth middleware guarantees
// it is present on every route that reaches a handler method.
func caller(r *http.Request) string {
	if c := auth.ClawFrom(r.Context()); c != nil {
		return c.ClawID
	}
	return ""
}

// IdentifyClaw is the websocket gateway's identity hook: it reads the claw
// the auth middleware placed on the request context.
func IdentifyClaw(r *http.Request) string {
	return caller(r)
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

// queryInt parses an integer query parameter, falling back to def when the
// parameter is absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func queryInt64(r *http.Request, name string, def int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

// queryTime parses a millisecond-epoch query parameter.
func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, domain.Invalid(domain.CodeValidation, name+" must be a millisecond timestamp")
	}
	return time.UnixMilli(ms).UTC(), nil
}
