package keyvault

import (
	"context"
	"errors"
	"time"
)

var (
	ErrKeyNotFound = errors.New("keypair not found")
	ErrKeyExpired  = errors.New("keypair expired")
)

// Entry is one issued keypair. PrivateKey is PKCS#8 DER and is only
// populated on entries returned by Store.Get.
type Entry struct {
	PublicKey  []byte
	PrivateKey []byte
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the entry is unusable at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store persists keypairs keyed by account. Implementations must make
// PutIfAbsent atomic per account.
type Store interface {
	// Get returns the entry or ErrKeyNotFound. The caller owns and wipes
	// the returned PrivateKey.
	Get(ctx context.Context, accountID string) (*Entry, error)
	// PutIfAbsent stores e unless an entry already exists, and returns the
	// entry that is now authoritative, without its private key.
	PutIfAbsent(ctx context.Context, accountID string, e *Entry) (*Entry, error)
	Delete(ctx context.Context, accountID string) error
	// DeleteIfExpired removes the entry only if the one stored now is
	// expired at now. A keypair issued after the caller's read survives.
	DeleteIfExpired(ctx context.Context, accountID string, now time.Time) (bool, error)
	// Sweep removes entries with ExpiresAt <= now and reports how many.
	Sweep(ctx context.Context, now time.Time) (int, error)
}
