// Package middleware carries the HTTP cross-cutting layers: signature
// authentication, per-claw rate limiting, and request logging with metrics.
package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/auth"
	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/handlers"
	"github.com/clawbuds/backend/internal/storage"
)

// Authenticator verifies the X-Claw-* signature scheme, loads the calling
// claw into the request context, and refuses suspended or deactivated claws.
// The body is read in full here so the signature covers exactly what the
// handler will see.
type Authenticator struct {
	store   *storage.Store
	skew    time.Duration
	maxBody int64
	log     zerolog.Logger
}

func NewAuthenticator(store *storage.Store, skew time.Duration, maxBody int64, log zerolog.Logger) *Authenticator {
	if skew <= 0 {
		skew = auth.DefaultSkew
	}
	return &Authenticator{
		store:   store,
		skew:    skew,
		maxBody: maxBody,
		log:     log.With().Str("component", "auth").Logger(),
	}
}

// Middleware is the mux middleware form of the authenticator.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clawID := r.Header.Get(auth.HeaderClawID)
		timestamp := r.Header.Get(auth.HeaderTimestamp)
		signature := r.Header.Get(auth.HeaderSignature)
		if clawID == "" || timestamp == "" || signature == "" {
			handlers.Fail(w, r, domain.Unauthenticated(domain.CodeBadSignature, "missing signature headers"))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, a.maxBody)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			handlers.Fail(w, r, domain.Invalid(domain.CodeValidation, "request body too large"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if _, err := auth.CheckTimestamp(timestamp, time.Now(), a.skew); err != nil {
			handlers.Fail(w, r, err)
			return
		}

		claw, err := a.store.GetClaw(r.Context(), clawID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				handlers.Fail(w, r, domain.Unauthenticated(domain.CodeUnknownClaw, "no claw with that id"))
				return
			}
			handlers.Fail(w, r, err)
			return
		}

		pub, err := auth.ParsePublicKey(claw.PublicKey)
		if err != nil {
			// A stored key that fails to parse is corruption, not client error.
			handlers.Fail(w, r, errors.New("stored public key unreadable"))
			return
		}
		if err := auth.Verify(pub, r.Method, r.URL.Path, timestamp, body, signature); err != nil {
			handlers.Fail(w, r, err)
			return
		}

		switch claw.Status {
		case domain.ClawSuspended:
			handlers.Fail(w, r, domain.Forbidden(domain.CodeInsufficient, "claw is suspended"))
			return
		case domain.ClawDeactivated:
			handlers.Fail(w, r, domain.Forbidden(domain.CodeInsufficient, "claw is deactivated"))
			return
		}

		if err := a.store.TouchClawSeen(r.Context(), clawID, time.Now().UTC()); err != nil {
			a.log.Debug().Err(err).Str("claw", clawID).Msg("touch last seen")
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaw(r.Context(), claw)))
	})
}
