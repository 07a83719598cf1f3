package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldFailures    = "failures"
	fieldLockedUntil = "locked_until"

	maxTxRetries = 64
)

// ErrStoreUnavailable indicates the shared lockout backend is unreachable.
var ErrStoreUnavailable = errors.New("lockout store unavailable")

// RedisStore shares lockout state between instances. Each account is a hash
// updated with an optimistic WATCH/MULTI transaction.
type RedisStore struct {
	redis   redis.UniversalClient
	prefix  string
	idleTTL time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store keyed under prefix (default "lockout:").
// Entries without an active lock expire after idleTTL (default 24h).
func NewRedisStore(client redis.UniversalClient, prefix string, idleTTL time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "lockout:"
	}
	if idleTTL <= 0 {
		idleTTL = 24 * time.Hour
	}
	return &RedisStore{redis: client, prefix: prefix, idleTTL: idleTTL}
}

func (s *RedisStore) key(accountID string) string {
	return s.prefix + accountID
}

func decodeState(m map[string]string) (State, bool, error) {
	if len(m) == 0 {
		return State{}, false, nil
	}
	var st State
	if v, ok := m[fieldFailures]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return State{}, false, fmt.Errorf("decoding failures: %w", err)
		}
		st.Failures = n
	}
	if v, ok := m[fieldLockedUntil]; ok && v != "0" {
		ns, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return State{}, false, fmt.Errorf("decoding lock: %w", err)
		}
		st.LockedUntil = time.Unix(0, ns).UTC()
	}
	return st, true, nil
}

func (s *RedisStore) Load(ctx context.Context, accountID string) (State, bool, error) {
	m, err := s.redis.HGetAll(ctx, s.key(accountID)).Result()
	if err != nil {
		return State{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return decodeState(m)
}

func (s *RedisStore) ttlFor(st State) time.Duration {
	ttl := s.idleTTL
	if !st.LockedUntil.IsZero() {
		if d := time.Until(st.LockedUntil); d > ttl {
			ttl = d
		}
	}
	return ttl
}

func (s *RedisStore) Update(ctx context.Context, accountID string, fn func(*State) bool) (State, error) {
	key := s.key(accountID)
	var result State

	txf := func(tx *redis.Tx) error {
		m, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		st, _, err := decodeState(m)
		if err != nil {
			return err
		}
		keep := fn(&st)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if !keep {
				pipe.Del(ctx, key)
				return nil
			}
			var until int64
			if !st.LockedUntil.IsZero() {
				until = st.LockedUntil.UnixNano()
			}
			pipe.HSet(ctx, key, fieldFailures, st.Failures, fieldLockedUntil, until)
			pipe.Expire(ctx, key, s.ttlFor(st))
			return nil
		})
		if err != nil {
			return err
		}
		if keep {
			result = st
		} else {
			result = State{}
		}
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return State{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return State{}, fmt.Errorf("%w: too much contention on %s", ErrStoreUnavailable, accountID)
}

func (s *RedisStore) Delete(ctx context.Context, accountID string) error {
	if err := s.redis.Del(ctx, s.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
