package keyvault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emfabro/steelgate/internal/util"
	"github.com/emfabro/steelgate/storage"
)

// ErrStoreUnavailable indicates the shared keypair backend is unreachable.
var ErrStoreUnavailable = errors.New("keypair store unavailable")

type redisEntry struct {
	PublicKey []byte            `json:"pub"`
	Private   *storage.Envelope `json:"priv"`
	IssuedAt  time.Time         `json:"iat"`
	ExpiresAt time.Time         `json:"exp"`
}

// RedisStore shares keypairs between instances. Private keys are sealed with
// sealKey before they leave the process; Redis expiry does the sweeping.
type RedisStore struct {
	redis   redis.UniversalClient
	sealKey []byte
	prefix  string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store writing keys under prefix (default "kp:").
func NewRedisStore(client redis.UniversalClient, sealKey []byte, prefix string) (*RedisStore, error) {
	if len(sealKey) != util.AESKeySize {
		return nil, fmt.Errorf("seal key must be %d bytes, got %d", util.AESKeySize, len(sealKey))
	}
	if prefix == "" {
		prefix = "kp:"
	}
	return &RedisStore{redis: client, sealKey: util.CopyBytes(sealKey), prefix: prefix}, nil
}

func (s *RedisStore) key(accountID string) string {
	return s.prefix + accountID
}

func (s *RedisStore) aad(accountID string) []byte {
	return []byte("keyvault:" + accountID)
}

func (s *RedisStore) Get(ctx context.Context, accountID string) (*Entry, error) {
	raw, err := s.redis.Get(ctx, s.key(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var re redisEntry
	if err := json.Unmarshal(raw, &re); err != nil {
		return nil, fmt.Errorf("decoding keypair for %s: %w", accountID, err)
	}
	priv, err := storage.OpenRecord(s.sealKey, re.Private, s.aad(accountID))
	if err != nil {
		return nil, fmt.Errorf("opening keypair for %s: %w", accountID, err)
	}
	return &Entry{
		PublicKey:  re.PublicKey,
		PrivateKey: priv,
		IssuedAt:   re.IssuedAt,
		ExpiresAt:  re.ExpiresAt,
	}, nil
}

// PutIfAbsent uses SET NX so the first writer across all instances wins.
func (s *RedisStore) PutIfAbsent(ctx context.Context, accountID string, e *Entry) (*Entry, error) {
	env, err := storage.SealRecord(s.sealKey, e.PrivateKey, s.aad(accountID))
	if err != nil {
		return nil, err
	}
	util.WipeBytes(e.PrivateKey)

	raw, err := json.Marshal(redisEntry{
		PublicKey: e.PublicKey,
		Private:   env,
		IssuedAt:  e.IssuedAt,
		ExpiresAt: e.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}

	ttl := e.ExpiresAt.Sub(e.IssuedAt)
	err = s.redis.SetArgs(ctx, s.key(accountID), raw, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	switch {
	case err == nil:
		return &Entry{PublicKey: util.CopyBytes(e.PublicKey), IssuedAt: e.IssuedAt, ExpiresAt: e.ExpiresAt}, nil
	case errors.Is(err, redis.Nil):
		winner, err := s.Get(ctx, accountID)
		if err != nil {
			return nil, err
		}
		util.WipeBytes(winner.PrivateKey)
		winner.PrivateKey = nil
		return winner, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (s *RedisStore) Delete(ctx context.Context, accountID string) error {
	if err := s.redis.Del(ctx, s.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

const maxTxRetries = 8

// DeleteIfExpired checks and deletes inside one WATCH transaction, so a
// concurrent PutIfAbsent on the key aborts and retries it.
func (s *RedisStore) DeleteIfExpired(ctx context.Context, accountID string, now time.Time) (bool, error) {
	key := s.key(accountID)
	var removed bool

	txf := func(tx *redis.Tx) error {
		removed = false
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var re redisEntry
		if err := json.Unmarshal(raw, &re); err != nil {
			return fmt.Errorf("decoding keypair for %s: %w", accountID, err)
		}
		if now.Before(re.ExpiresAt) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err != nil {
			return err
		}
		removed = true
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == nil {
			return removed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return false, fmt.Errorf("%w: too much contention on %s", ErrStoreUnavailable, accountID)
}

// Sweep is a no-op: entries carry a Redis TTL equal to their lifetime.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
