package api_test

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/emfabro/steelgate/api"
	"github.com/emfabro/steelgate/crypto"
	"github.com/emfabro/steelgate/internal/util"
	"github.com/emfabro/steelgate/keyvault"
	"github.com/emfabro/steelgate/lockout"
	"github.com/emfabro/steelgate/login"
	"github.com/emfabro/steelgate/member"
	"github.com/emfabro/steelgate/storage/memory"
)

var (
	keyPoolOnce sync.Once
	keyPool     []*rsa.PrivateKey
	keyPoolNext atomic.Int32
)

func pooledKey(int) (*rsa.PrivateKey, error) {
	keyPoolOnce.Do(func() {
		for i := 0; i < 3; i++ {
			k, err := crypto.GenerateKeyPair(crypto.DefaultKeyBits)
			if err != nil {
				panic(err)
			}
			keyPool = append(keyPool, k)
		}
	})
	n := keyPoolNext.Add(1)
	return keyPool[int(n)%len(keyPool)], nil
}

type testEnv struct {
	srv     *httptest.Server
	members *member.Store
	secrets crypto.Keys
	svc     *login.Service
}

func setupServer(t *testing.T, opts ...api.Option) *testEnv {
	t.Helper()
	master, err := util.RandomBytes(crypto.MinMasterSecretLen)
	require.NoError(t, err)
	secrets, err := crypto.DeriveKeys(master)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	members, err := member.NewStore(memory.NewRepository(), secrets.StoreKey)
	require.NoError(t, err)
	vault := keyvault.New(keyvault.NewMemoryStore(), keyvault.WithGenerator(pooledKey), keyvault.WithLogger(logger))
	locks := lockout.New(lockout.NewMemoryStore())
	svc, err := login.New(vault, locks, members, members, secrets,
		login.WithSecureCookies(false), login.WithLogger(logger))
	require.NoError(t, err)

	a := api.New(svc, append([]api.Option{api.WithLogger(logger)}, opts...)...)
	t.Cleanup(a.Close)
	r := chi.NewRouter()
	r.Use(api.SecurityHeaders)
	a.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, members: members, secrets: secrets, svc: svc}
}

func (e *testEnv) addMember(t *testing.T, account, secret string, status member.Status) {
	t.Helper()
	_, err := e.members.Create(context.Background(), member.Account{
		Account: account,
		Name:    "Name of " + account,
		Whisper: crypto.Resign(e.secrets.Pepper, []byte(secret)),
		Status:  status,
	}, member.DefaultPermission())
	require.NoError(t, err)
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers ...string) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// armour fetches the account's public key and encrypts secret the way the
// browser does.
func armour(t *testing.T, client *http.Client, baseURL, account, secret string) string {
	t.Helper()
	resp := doJSON(t, client, http.MethodGet, baseURL+"/pub/steel?account="+account, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	der, err := base64.StdEncoding.DecodeString(string(body))
	require.NoError(t, err)
	pub, err := crypto.ParsePublicKey(der)
	require.NoError(t, err)
	ct, err := crypto.EncryptOAEP(pub, []byte(secret))
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(ct)
}

func loginAs(t *testing.T, client *http.Client, baseURL, account, secret string) (login.Payload, string) {
	t.Helper()
	resp := doJSON(t, client, http.MethodPost, baseURL+"/pub/login", api.LoginRequest{
		Account: account,
		Armour:  armour(t, client, baseURL, account, secret),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload login.Payload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	csrf := resp.Header.Get(login.CSRFHeader)
	require.NotEmpty(t, csrf)
	return payload, csrf
}

func findCookie(resp *http.Response, path string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == login.CookieName && c.Path == path {
			return c
		}
	}
	return nil
}

func decodeLoginError(t *testing.T, resp *http.Response) api.LoginErrorResponse {
	t.Helper()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e api.LoginErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

func TestSteelReturnsStableKey(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	get := func() string {
		resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/pub/steel?account=alice", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
		assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body)
	}
	first := get()
	assert.Equal(t, first, get())

	der, err := base64.StdEncoding.DecodeString(first)
	require.NoError(t, err)
	_, err = crypto.ParsePublicKey(der)
	require.NoError(t, err)
}

func TestSteelRequiresAccount(t *testing.T) {
	env := setupServer(t)
	resp := doJSON(t, newClient(t), http.MethodGet, env.srv.URL+"/pub/steel", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVersion(t *testing.T) {
	env := setupServer(t, api.WithVersion("v1.4.2"))
	resp := doJSON(t, newClient(t), http.MethodGet, env.srv.URL+"/pub/version", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "v1.4.2", string(body))
}

func TestSteelThrottledPerClient(t *testing.T) {
	env := setupServer(t, api.WithSteelRate(rate.Limit(0.001), 2))
	client := newClient(t)

	for i := 0; i < 2; i++ {
		resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/pub/steel?account=alice", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/pub/steel?account=alice", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestLoginSessionLifecycle(t *testing.T) {
	env := setupServer(t)
	env.addMember(t, "alice", "p@ssw0rd", member.StatusEnabled)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/pub/login", api.LoginRequest{
		Account: "alice",
		Armour:  armour(t, client, env.srv.URL, "alice", "p@ssw0rd"),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	pub, priv := findCookie(resp, "/pub"), findCookie(resp, "/priv")
	require.NotNil(t, pub)
	require.NotNil(t, priv)
	assert.Equal(t, pub.Value, priv.Value)
	assert.True(t, pub.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, pub.SameSite)
	assert.Zero(t, pub.MaxAge, "login cookies are session scoped")

	var payload login.Payload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "alice", payload.UserInfo.Account)
	assert.Equal(t, "Name of alice", payload.UserInfo.Name)
	assert.Len(t, payload.Permission.Page, 4)

	csrf := resp.Header.Get(login.CSRFHeader)
	want, err := payload.UserInfo.CSRFValue()
	require.NoError(t, err)
	assert.Equal(t, want, csrf)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/priv/me", nil, login.CSRFHeader, csrf)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me login.Header
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, payload.UserInfo, me)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/priv/keepHeartBeat", nil, login.CSRFHeader, csrf)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	renewed := findCookie(resp, "/priv")
	require.NotNil(t, renewed)
	assert.Equal(t, 1800, renewed.MaxAge)
	assert.Equal(t, priv.Value, renewed.Value)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/priv/logout", nil, login.CSRFHeader, csrf)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	expired := findCookie(resp, "/pub")
	require.NotNil(t, expired)
	assert.Empty(t, expired.Value)
	assert.Negative(t, expired.MaxAge)

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/priv/me", nil, login.CSRFHeader, csrf)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLoginFailureCodes(t *testing.T) {
	env := setupServer(t)
	env.addMember(t, "carol", "right", member.StatusEnabled)
	env.addMember(t, "dave", "right", member.StatusDisabled)
	env.addMember(t, "erin", "right", member.StatusInvalid)
	client := newClient(t)

	attempt := func(account, secret string) api.LoginErrorResponse {
		resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/pub/login", api.LoginRequest{
			Account: account,
			Armour:  armour(t, client, env.srv.URL, account, secret),
		})
		assert.Nil(t, findCookie(resp, "/pub"))
		return decodeLoginError(t, resp)
	}

	e := attempt("mallory", "anything")
	assert.Equal(t, 1, e.Code)
	assert.Equal(t, "account or password is incorrect", e.Error)

	e = attempt("carol", "wrong")
	assert.Equal(t, 1, e.Code)
	assert.Equal(t, "account carol entered a wrong password 1 time(s)", e.Error)
	e = attempt("carol", "wrong")
	assert.Equal(t, 1, e.Code)
	e = attempt("carol", "wrong")
	assert.Equal(t, 2, e.Code)

	e = attempt("carol", "right")
	assert.Equal(t, 2, e.Code, "locked accounts refuse the correct secret")
	assert.Equal(t, "account carol has too many recent attempts, try again in 15 minutes", e.Error)

	e = attempt("dave", "right")
	assert.Equal(t, 3, e.Code)
	e = attempt("erin", "right")
	assert.Equal(t, 4, e.Code)
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/pub/login", map[string]string{"account": "a", "extra": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/pub/login", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/pub/login", api.LoginRequest{
		Account: "a",
		Armour:  string(bytes.Repeat([]byte("A"), 20<<10)),
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestGuardRejections(t *testing.T) {
	env := setupServer(t)
	env.addMember(t, "alice", "pw", member.StatusEnabled)
	client := newClient(t)
	_, csrf := loginAs(t, client, env.srv.URL, "alice", "pw")

	other, err := login.Header{Account: "alice", Name: "forged"}.CSRFValue()
	require.NoError(t, err)

	tests := []struct {
		name    string
		client  *http.Client
		headers []string
	}{
		{name: "no cookie", client: newClient(t), headers: []string{login.CSRFHeader, csrf}},
		{name: "no csrf header", client: client},
		{name: "csrf not base64", client: client, headers: []string{login.CSRFHeader, "%%%"}},
		{name: "csrf for another header", client: client, headers: []string{login.CSRFHeader, other}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, tt.client, http.MethodGet, env.srv.URL+"/priv/me", nil, tt.headers...)
			require.Equal(t, http.StatusForbidden, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.JSONEq(t, `{"error":"permission denied"}`, string(body))
		})
	}
}

func TestGuardRejectsTamperedToken(t *testing.T) {
	env := setupServer(t)
	env.addMember(t, "alice", "pw", member.StatusEnabled)
	client := newClient(t)
	_, csrf := loginAs(t, client, env.srv.URL, "alice", "pw")

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, env.srv.URL+"/priv/keepHeartBeat", nil)
	require.NoError(t, err)
	req.Header.Set(login.CSRFHeader, csrf)
	req.AddCookie(&http.Cookie{Name: login.CookieName, Value: "AAAADAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Nil(t, findCookie(resp, "/priv"))
}

func TestKnock(t *testing.T) {
	env := setupServer(t)
	env.addMember(t, "alice", "pw", member.StatusEnabled)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/pub/token/knock", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	expired := findCookie(resp, "/pub")
	require.NotNil(t, expired)
	assert.Negative(t, expired.MaxAge)

	payload, csrf := loginAs(t, client, env.srv.URL, "alice", "pw")
	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/pub/token/knock", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, csrf, resp.Header.Get(login.CSRFHeader))
	var knocked login.Payload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&knocked))
	assert.Equal(t, payload, knocked)
}

func TestKnockRejectsForeignToken(t *testing.T) {
	env := setupServer(t)

	// A token sealed by another deployment never opens here.
	other := setupServer(t)
	other.addMember(t, "alice", "pw", member.StatusEnabled)
	foreign := newClient(t)
	loginAs(t, foreign, other.srv.URL, "alice", "pw")
	u, err := url.Parse(other.srv.URL + "/pub")
	require.NoError(t, err)
	cookies := foreign.Jar.Cookies(u)
	require.NotEmpty(t, cookies)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, env.srv.URL+"/pub/token/knock", nil)
	require.NoError(t, err)
	req.AddCookie(cookies[0])
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.NotNil(t, findCookie(resp, "/pub"))
}

func TestAccountInitAndCount(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	count := func() int {
		resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/pub/account/count", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var c api.CountResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
		return c.Count
	}
	require.Zero(t, count())

	resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/pub/account/init", api.InitRequest{
		Account: "root",
		Name:    "Administrator",
		Armour:  armour(t, client, env.srv.URL, "root", "first-secret"),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 1, count())

	payload, _ := loginAs(t, client, env.srv.URL, "root", "first-secret")
	assert.Equal(t, "Administrator", payload.UserInfo.Name)
	assert.Equal(t, member.DefaultPermission(), payload.Permission)

	resp = doJSON(t, client, http.MethodPost, env.srv.URL+"/pub/account/init", api.InitRequest{
		Account: "second",
		Armour:  armour(t, client, env.srv.URL, "second", "x"),
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 1, count())
}

func TestLoginFailureSpikeRaisesAlert(t *testing.T) {
	var alerts atomic.Int32
	proxies, err := api.WithTrustedProxies([]string{"127.0.0.0/8", "::1/128"})
	require.NoError(t, err)
	env := setupServer(t, proxies, api.WithAlertFunc(func(e api.AlertEvent) {
		if e.Type == api.AlertLoginFailureSpike {
			alerts.Add(1)
		}
	}))
	client := newClient(t)

	// Each attempt comes from its own forwarded client so the per-IP
	// backoff never engages; unknown accounts never lock.
	for i := 0; i < 50; i++ {
		resp := doJSON(t, client, http.MethodPost, env.srv.URL+"/pub/login", api.LoginRequest{
			Account: "ghost",
			Armour:  base64.StdEncoding.EncodeToString([]byte("garbage")),
		}, "X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	assert.Equal(t, int32(1), alerts.Load())
}

func TestLoginBackoffPerClientIP(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	var last *http.Response
	for i := 0; i < 21; i++ {
		last = doJSON(t, client, http.MethodPost, env.srv.URL+"/pub/login", api.LoginRequest{
			Account: fmt.Sprintf("ghost-%d", i),
			Armour:  base64.StdEncoding.EncodeToString([]byte("garbage")),
		})
	}
	assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.NotEmpty(t, last.Header.Get("Retry-After"))
}

func TestSecurityHeadersAndDocs(t *testing.T) {
	env := setupServer(t)
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, env.srv.URL+"/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "default-src 'self'")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/pub/steel")

	resp = doJSON(t, client, http.MethodGet, env.srv.URL+"/docs", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "unpkg.com")
}
