package api

import (
	"net/http"
	"strings"

	"github.com/emfabro/steelgate/login"
)

func setCookies(w http.ResponseWriter, pair login.CookiePair) {
	for _, c := range pair.Cookies() {
		http.SetCookie(w, c)
	}
}

func sessionToken(r *http.Request) string {
	c, err := r.Cookie(login.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
