// Package login verifies challenge/response logins and issues the sealed
// session cookies that authorise later requests.
//
// A login decrypts the client's armour with the account's ephemeral private
// key, re-signs the secret into a whisper and looks the account up by it.
// Every failure on that path is counted by the lockout tracker before it is
// reported, and the client only ever learns one of five coded messages.
package login

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/emfabro/steelgate/crypto"
	"github.com/emfabro/steelgate/internal/util"
	"github.com/emfabro/steelgate/keyvault"
	"github.com/emfabro/steelgate/lockout"
	"github.com/emfabro/steelgate/member"
)

// DefaultRenewMaxAge is the cookie lifetime set by Renew.
const DefaultRenewMaxAge = 30 * time.Minute

// Service composes the keypair vault, lockout tracker and member directory.
type Service struct {
	keys    *keyvault.Vault
	locks   *lockout.Tracker
	dir     member.Directory
	perms   member.PermissionSource
	secrets crypto.Keys

	secureCookies bool
	renewMaxAge   time.Duration
	logger        *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithSecureCookies controls the Secure attribute. It is on by default and
// turned off for the dev profile.
func WithSecureCookies(secure bool) Option {
	return func(s *Service) { s.secureCookies = secure }
}

// WithRenewMaxAge sets the lifetime of renewed cookies.
func WithRenewMaxAge(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.renewMaxAge = d
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New returns a Service. secrets must pass crypto.Keys.Validate.
func New(keys *keyvault.Vault, locks *lockout.Tracker, dir member.Directory, perms member.PermissionSource, secrets crypto.Keys, opts ...Option) (*Service, error) {
	if err := secrets.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		keys:          keys,
		locks:         locks,
		dir:           dir,
		perms:         perms,
		secrets:       secrets,
		secureCookies: true,
		renewMaxAge:   DefaultRenewMaxAge,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "login")
	return s, nil
}

// PublicKey returns the DER public key a client uses to encrypt its secret
// for accountID.
func (s *Service) PublicKey(ctx context.Context, accountID string) ([]byte, error) {
	account, err := member.NormalizeAccount(accountID)
	if err != nil {
		return nil, &Error{Kind: KindInvalidRequest, Message: "invalid account", Err: err}
	}
	der, err := s.keys.RequestPublicKey(ctx, account)
	if err != nil {
		return nil, internalError(err)
	}
	return der, nil
}

// whisper decrypts armour with the account's live keypair and re-signs it.
// ok is false when the attempt should count as a credential failure.
func (s *Service) whisper(ctx context.Context, account, armour string) (w string, ok bool, err error) {
	ct, err := base64.StdEncoding.DecodeString(armour)
	if err != nil || len(ct) == 0 {
		return "", false, nil
	}
	plain, err := s.keys.WithPrivateKey(ctx, account, func(priv *rsa.PrivateKey) ([]byte, error) {
		return crypto.DecryptOAEP(priv, ct)
	})
	switch {
	case err == nil:
	case errors.Is(err, keyvault.ErrKeyNotFound),
		errors.Is(err, keyvault.ErrKeyExpired),
		errors.Is(err, crypto.ErrCrypto):
		return "", false, nil
	default:
		return "", false, err
	}
	defer util.WipeBytes(plain)
	return crypto.Resign(s.secrets.Pepper, plain), true, nil
}

// Verify checks a login attempt and returns the header for a new session.
func (s *Service) Verify(ctx context.Context, accountID, armour string) (Header, error) {
	account, err := member.NormalizeAccount(accountID)
	if err != nil {
		return Header{}, &Error{Kind: KindCredentialMismatch, Code: CodeMismatch, Message: msgMismatch, Err: err}
	}

	if err := s.locks.CheckNotLocked(ctx, account); err != nil {
		if errors.Is(err, lockout.ErrAccountLocked) {
			return Header{}, &Error{
				Kind:    KindAccountLocked,
				Code:    CodeLocked,
				Message: fmt.Sprintf(msgLocked, account, int(s.locks.LockDuration().Minutes())),
				Err:     err,
			}
		}
		return Header{}, internalError(err)
	}

	w, ok, err := s.whisper(ctx, account, armour)
	if err != nil {
		return Header{}, internalError(err)
	}
	if !ok {
		return Header{}, s.failure(ctx, account)
	}

	a, err := s.dir.FindByCredential(ctx, account, w)
	if errors.Is(err, member.ErrNotFound) {
		return Header{}, s.failure(ctx, account)
	}
	if err != nil {
		return Header{}, internalError(err)
	}

	switch a.Status {
	case member.StatusDisabled:
		return Header{}, &Error{Kind: KindAccountDisabled, Code: CodeDisabled, Message: fmt.Sprintf(msgDisabled, a.Account)}
	case member.StatusInvalid:
		return Header{}, &Error{Kind: KindAccountNotActivated, Code: CodeNotActivated, Message: fmt.Sprintf(msgNotActivated, a.Account)}
	}

	if err := s.locks.RecordSuccess(ctx, account); err != nil {
		return Header{}, internalError(err)
	}
	if err := s.keys.Invalidate(ctx, account); err != nil {
		s.logger.Warn("failed to invalidate used keypair", "account_id", account, "error", err)
	}
	return newHeader(a), nil
}

// failure routes a failed attempt through the lockout tracker and builds the
// outward error from its signal.
func (s *Service) failure(ctx context.Context, account string) error {
	known, err := s.dir.Exists(ctx, account)
	if err != nil {
		return internalError(err)
	}
	out, err := s.locks.RecordFailure(ctx, account, known)
	if err != nil {
		return internalError(err)
	}
	switch out.Signal {
	case lockout.SignalLocked:
		s.logger.Warn("account locked", "account_id", account, "until", out.LockedUntil)
		return &Error{Kind: KindAccountLocked, Code: CodeLocked, Message: fmt.Sprintf(msgJustLocked, account)}
	case lockout.SignalWarning:
		return &Error{Kind: KindCredentialMismatch, Code: CodeMismatch, Message: fmt.Sprintf(msgWarning, account, out.Failures)}
	default:
		return &Error{Kind: KindCredentialMismatch, Code: CodeMismatch, Message: msgMismatch}
	}
}

func (s *Service) cookie(value, path string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     path,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Service) pair(value string, maxAge int) CookiePair {
	return CookiePair{
		Public:  s.cookie(value, PublicPath, maxAge),
		Private: s.cookie(value, PrivatePath, maxAge),
	}
}

// IssueSessionCookies seals h into a session-scoped cookie pair.
func (s *Service) IssueSessionCookies(h Header) (CookiePair, error) {
	csrf, err := h.CSRFValue()
	if err != nil {
		return CookiePair{}, internalError(err)
	}
	token, err := crypto.Seal([]byte(csrf), s.secrets.TokenKey)
	if err != nil {
		return CookiePair{}, internalError(err)
	}
	return s.pair(token, 0), nil
}

// ExpireCookies returns an empty cookie pair that deletes the session.
func (s *Service) ExpireCookies() CookiePair {
	return s.pair("", -1)
}

// OpenToken opens a sealed session token and returns the header JSON it
// carries.
func (s *Service) OpenToken(token string) ([]byte, error) {
	if token == "" {
		return nil, forbidden(KindTokenNotFound, nil)
	}
	opened, err := crypto.Open(token, s.secrets.TokenKey)
	if err != nil {
		return nil, forbidden(KindForbidden, err)
	}
	js, err := base64.StdEncoding.DecodeString(string(opened))
	if err != nil {
		return nil, forbidden(KindForbidden, err)
	}
	return js, nil
}

// Renew re-emits a valid token with a fixed lifetime.
func (s *Service) Renew(token string) (CookiePair, error) {
	if _, err := s.OpenToken(token); err != nil {
		return CookiePair{}, err
	}
	return s.pair(token, int(s.renewMaxAge.Seconds())), nil
}

// WhoAmI returns the session header when token opens and its account still
// exists.
func (s *Service) WhoAmI(ctx context.Context, token string) (Header, bool) {
	js, err := s.OpenToken(token)
	if err != nil {
		return Header{}, false
	}
	h, err := ParseHeader(js)
	if err != nil {
		return Header{}, false
	}
	ok, err := s.dir.Exists(ctx, h.Account)
	if err != nil {
		s.logger.Warn("member lookup failed", "account_id", h.Account, "error", err)
		return Header{}, false
	}
	return h, ok
}

// Payload assembles the client view of a session.
func (s *Service) Payload(ctx context.Context, h Header) (Payload, error) {
	perm, err := s.perms.PermissionsFor(ctx, h.Account)
	if err != nil {
		return Payload{}, internalError(err)
	}
	return Payload{UserInfo: h, Permission: perm}, nil
}

// CountMembers reports how many members exist.
func (s *Service) CountMembers(ctx context.Context) (int, error) {
	n, err := s.dir.Count(ctx)
	if err != nil {
		return 0, internalError(err)
	}
	return n, nil
}

// Bootstrap creates the first member while the directory is empty. The
// secret arrives as armour under the account's ephemeral key, like a login.
func (s *Service) Bootstrap(ctx context.Context, accountID, name, armour string) error {
	n, err := s.dir.Count(ctx)
	if err != nil {
		return internalError(err)
	}
	if n > 0 {
		return forbidden(KindForbidden, errors.New("directory already initialised"))
	}

	account, err := member.NormalizeAccount(accountID)
	if err != nil {
		return &Error{Kind: KindInvalidRequest, Message: "invalid account", Err: err}
	}
	w, ok, err := s.whisper(ctx, account, armour)
	if err != nil {
		return internalError(err)
	}
	if !ok {
		return &Error{Kind: KindInvalidRequest, Message: "invalid armour"}
	}

	_, err = s.dir.Create(ctx, member.Account{
		Account:   account,
		Name:      name,
		Whisper:   w,
		Status:    member.StatusEnabled,
		CreatedBy: "system",
	}, member.DefaultPermission())
	if errors.Is(err, member.ErrExists) {
		return forbidden(KindForbidden, err)
	}
	if err != nil {
		return internalError(err)
	}
	if err := s.keys.Invalidate(ctx, account); err != nil {
		s.logger.Warn("failed to invalidate used keypair", "account_id", account, "error", err)
	}
	s.logger.Info("bootstrap member created", "account_id", account)
	return nil
}
