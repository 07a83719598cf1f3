package keyvault

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/emfabro/steelgate/crypto"
	"github.com/emfabro/steelgate/internal/util"
)

const (
	DefaultTTL           = 3 * time.Minute
	DefaultSweepInterval = 5 * time.Second
)

// Vault issues and resolves per-account ephemeral keypairs.
type Vault struct {
	store    Store
	ttl      time.Duration
	bits     int
	now      func() time.Time
	generate func(bits int) (*rsa.PrivateKey, error)
	logger   *slog.Logger
	issuing  singleflight.Group
}

// Option configures a Vault.
type Option func(*Vault)

// WithTTL sets the keypair lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(v *Vault) { v.ttl = ttl }
}

// WithKeyBits sets the RSA modulus size.
func WithKeyBits(bits int) Option {
	return func(v *Vault) { v.bits = bits }
}

// WithClock overrides the time source used for issuance and expiry.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// WithGenerator overrides RSA key generation.
func WithGenerator(gen func(bits int) (*rsa.PrivateKey, error)) Option {
	return func(v *Vault) { v.generate = gen }
}

// WithLogger sets the logger used by the sweep loop.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) { v.logger = logger }
}

// New returns a Vault backed by store.
func New(store Store, opts ...Option) *Vault {
	v := &Vault{
		store:    store,
		ttl:      DefaultTTL,
		bits:     crypto.DefaultKeyBits,
		now:      time.Now,
		generate: crypto.GenerateKeyPair,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With("component", "keyvault")
	return v
}

// RequestPublicKey returns the DER (SPKI) public key of the account's live
// keypair, issuing a new one if none is live. Concurrent callers for the
// same account share one generation.
func (v *Vault) RequestPublicKey(ctx context.Context, accountID string) ([]byte, error) {
	// The generation is shared, so one caller going away must not fail the
	// others waiting on it.
	shared := context.WithoutCancel(ctx)
	res, err, _ := v.issuing.Do(accountID, func() (any, error) {
		return v.issue(shared, accountID)
	})
	if err != nil {
		return nil, err
	}
	return util.CopyBytes(res.([]byte)), nil
}

func (v *Vault) issue(ctx context.Context, accountID string) ([]byte, error) {
	now := v.now()
	existing, err := v.store.Get(ctx, accountID)
	switch {
	case err == nil:
		util.WipeBytes(existing.PrivateKey)
		if !existing.Expired(now) {
			return existing.PublicKey, nil
		}
		if _, err := v.store.DeleteIfExpired(ctx, accountID, now); err != nil {
			return nil, err
		}
	case !errors.Is(err, ErrKeyNotFound):
		return nil, err
	}

	priv, err := v.generate(v.bits)
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}
	pub, err := crypto.MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	der, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}

	stored, err := v.store.PutIfAbsent(ctx, accountID, &Entry{
		PublicKey:  pub,
		PrivateKey: der,
		IssuedAt:   now,
		ExpiresAt:  now.Add(v.ttl),
	})
	util.WipeBytes(der)
	if err != nil {
		return nil, err
	}
	return stored.PublicKey, nil
}

// WithPrivateKey runs fn with the account's private key. An expired keypair
// is removed and reported as ErrKeyExpired.
func (v *Vault) WithPrivateKey(ctx context.Context, accountID string, fn func(*rsa.PrivateKey) ([]byte, error)) ([]byte, error) {
	e, err := v.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(e.PrivateKey)

	if now := v.now(); e.Expired(now) {
		if _, err := v.store.DeleteIfExpired(ctx, accountID, now); err != nil {
			v.logger.Warn("failed to delete expired keypair", "account_id", accountID, "error", err)
		}
		return nil, fmt.Errorf("%s: %w", accountID, ErrKeyExpired)
	}

	priv, err := crypto.ParsePrivateKey(e.PrivateKey)
	if err != nil {
		return nil, err
	}
	return fn(priv)
}

// Invalidate discards the account's keypair, if any.
func (v *Vault) Invalidate(ctx context.Context, accountID string) error {
	return v.store.Delete(ctx, accountID)
}

// SweepExpired removes every keypair whose lifetime has ended.
func (v *Vault) SweepExpired(ctx context.Context) (int, error) {
	return v.store.Sweep(ctx, v.now())
}

// Run sweeps every interval until ctx is cancelled.
func (v *Vault) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := v.SweepExpired(ctx)
			if err != nil {
				v.logger.Warn("keypair sweep failed", "error", err)
				continue
			}
			if n > 0 {
				v.logger.Debug("swept expired keypairs", "count", n)
			}
		}
	}
}
