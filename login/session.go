package login

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/emfabro/steelgate/member"
)

const (
	// CookieName carries the sealed session token.
	CookieName = "x-steelgate-sig"
	// CSRFHeader carries base64 of the session header JSON.
	CSRFHeader = "x-steelgate-csrf"

	PublicPath  = "/pub"
	PrivatePath = "/priv"
)

// Header identifies a signed-in member. Seed is fresh for every login so two
// sessions of one member never share a token.
type Header struct {
	Seed    uuid.UUID `json:"seed"`
	ID      int64     `json:"id"`
	Account string    `json:"account"`
	Name    string    `json:"name"`
}

func newHeader(a *member.Account) Header {
	return Header{Seed: uuid.New(), ID: a.ID, Account: a.Account, Name: a.Name}
}

// MarshalCompact returns the JSON form embedded in tokens. HTML escaping is
// off so the bytes match what a browser's JSON.stringify produces.
func (h Header) MarshalCompact() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(h); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CSRFValue is the value a client sends in CSRFHeader for this header.
func (h Header) CSRFValue() (string, error) {
	js, err := h.MarshalCompact()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(js), nil
}

// ParseHeader decodes the JSON produced by MarshalCompact.
func ParseHeader(js []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(js, &h); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Payload is returned to the client after login or a successful knock.
type Payload struct {
	UserInfo   Header            `json:"userInfo"`
	Permission member.Permission `json:"permission"`
}

// CookiePair is the same token scoped to the public and private prefixes.
type CookiePair struct {
	Public  *http.Cookie
	Private *http.Cookie
}

// Cookies returns both cookies for http.SetCookie.
func (p CookiePair) Cookies() []*http.Cookie {
	return []*http.Cookie{p.Public, p.Private}
}
