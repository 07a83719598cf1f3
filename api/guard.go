package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"net/http"

	"github.com/emfabro/steelgate/login"
)

type contextKey int

const sessionKey contextKey = iota

type session struct {
	Header login.Header
	Token  string
}

// SessionGuard enforces the double-submit check on every private route: the
// sealed cookie must open, and the CSRF header must carry base64 of exactly
// the header bytes sealed inside it. Any failure is a bare 403.
func (a *API) SessionGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, reason := a.authorize(r)
		if reason != "" {
			a.audit.logFailure(AuditGuardDenied, r, reason)
			writeForbidden(w)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize returns the session or the reason it was refused. The reason is
// only ever logged.
func (a *API) authorize(r *http.Request) (session, string) {
	cookie, err := r.Cookie(login.CookieName)
	if err != nil || cookie.Value == "" {
		return session{}, "token not found"
	}
	sealed, err := a.login.OpenToken(cookie.Value)
	if err != nil {
		return session{}, "token rejected"
	}

	raw := r.Header.Get(login.CSRFHeader)
	if raw == "" {
		return session{}, "csrf header missing"
	}
	presented, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return session{}, "csrf header malformed"
	}
	if subtle.ConstantTimeCompare(sealed, presented) != 1 {
		return session{}, "csrf mismatch"
	}

	h, err := login.ParseHeader(sealed)
	if err != nil {
		return session{}, "session header malformed"
	}
	return session{Header: h, Token: cookie.Value}, ""
}

func sessionFromContext(ctx context.Context) (session, bool) {
	s, ok := ctx.Value(sessionKey).(session)
	return s, ok
}
