package api

import (
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"

	"github.com/emfabro/steelgate/login"
)

// Version handles GET /pub/version.
func (a *API) Version(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, a.version)
}

// Steel handles GET /pub/steel?account=. The body is the base64 DER public
// key the client encrypts its secret with.
func (a *API) Steel(w http.ResponseWriter, r *http.Request) {
	clientIP := a.extractClientIP(r)
	if ok, retryAfter := a.steelLimiter.allow(clientIP); !ok {
		a.audit.logFailure(AuditSteelRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter)
		return
	}

	der, err := a.login.PublicKey(r.Context(), r.URL.Query().Get("account"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, base64.StdEncoding.EncodeToString(der))
}

// Login handles POST /pub/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	clientIP := a.extractClientIP(r)
	if blocked, retryAfter := a.loginLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter)
		return
	}

	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	h, err := a.login.Verify(r.Context(), req.Account, req.Armour)
	if err != nil {
		if kind := login.KindOf(err); kind != login.KindInternal {
			a.loginLimiter.recordFailure(clientIP)
			a.audit.logFailure(AuditLoginFailure, r, kind.String(),
				slog.String("account_id", req.Account),
				slog.String("client_ip", clientIP))
		}
		a.mapError(w, r, err)
		return
	}
	a.loginLimiter.recordSuccess(clientIP)

	if !a.writeSession(w, r, h) {
		return
	}
	a.audit.logEvent(AuditLoginSuccess, r, h.Account)
}

// writeSession sets fresh cookies for h and writes the session payload.
func (a *API) writeSession(w http.ResponseWriter, r *http.Request, h login.Header) bool {
	pair, err := a.login.IssueSessionCookies(h)
	if err != nil {
		a.mapError(w, r, err)
		return false
	}
	return a.writePayload(w, r, h, pair)
}

// writePayload answers with {userInfo, permission} and the CSRF value the
// client must echo on private routes.
func (a *API) writePayload(w http.ResponseWriter, r *http.Request, h login.Header, cookies ...login.CookiePair) bool {
	payload, err := a.login.Payload(r.Context(), h)
	if err != nil {
		a.mapError(w, r, err)
		return false
	}
	csrf, err := h.CSRFValue()
	if err != nil {
		a.writeInternalError(w, r, err)
		return false
	}
	for _, pair := range cookies {
		setCookies(w, pair)
	}
	w.Header().Set(login.CSRFHeader, csrf)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, payload)
	return true
}

// Knock handles GET /pub/token/knock. A live session gets its payload back;
// anything else has its cookies cleared.
func (a *API) Knock(w http.ResponseWriter, r *http.Request) {
	h, ok := a.login.WhoAmI(r.Context(), sessionToken(r))
	if !ok {
		a.audit.logFailure(AuditKnockRejected, r, "session not valid")
		setCookies(w, a.login.ExpireCookies())
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.writePayload(w, r, h)
}

// CountAccounts handles GET /pub/account/count.
func (a *API) CountAccounts(w http.ResponseWriter, r *http.Request) {
	n, err := a.login.CountMembers(r.Context())
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: n})
}

// InitAccount handles POST /pub/account/init, which creates the first
// member of an empty directory.
func (a *API) InitAccount(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[InitRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if err := a.login.Bootstrap(r.Context(), req.Account, req.Name, req.Armour); err != nil {
		if kind := login.KindOf(err); kind != login.KindInternal {
			a.audit.logFailure(AuditBootstrapFailure, r, kind.String(),
				slog.String("account_id", req.Account))
		}
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditBootstrap, r, req.Account)
	w.WriteHeader(http.StatusCreated)
}

// Logout handles GET /priv/logout.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	s, _ := sessionFromContext(r.Context())
	setCookies(w, a.login.ExpireCookies())
	a.audit.logEvent(AuditLogout, r, s.Header.Account)
	w.WriteHeader(http.StatusNoContent)
}

// KeepHeartBeat handles GET /priv/keepHeartBeat by re-issuing the current
// token with a fixed lifetime.
func (a *API) KeepHeartBeat(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromContext(r.Context())
	if !ok {
		writeForbidden(w)
		return
	}
	pair, err := a.login.Renew(s.Token)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	setCookies(w, pair)
	a.audit.logEvent(AuditHeartbeat, r, s.Header.Account)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /priv/me.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	s, ok := sessionFromContext(r.Context())
	if !ok {
		writeForbidden(w)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, s.Header)
}
