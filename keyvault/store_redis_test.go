package keyvault

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emfabro/steelgate/internal/util"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func newRedisStore(t *testing.T, client *redis.Client, key []byte) *RedisStore {
	t.Helper()
	s, err := NewRedisStore(client, key, "")
	require.NoError(t, err)
	return s
}

func TestVaultRedisStore(t *testing.T) {
	runVaultSuite(t, func(t *testing.T) Store {
		_, client := newTestRedis(t)
		key, err := util.NewAESKey()
		require.NoError(t, err)
		return newRedisStore(t, client, key)
	})
}

func TestRedisStoreSharedBetweenInstances(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	key, _ := util.NewAESKey()

	a, _, _ := newTestVault(newRedisStore(t, client, key))
	b, _, genB := newTestVault(newRedisStore(t, client, key))

	pub, err := a.RequestPublicKey(ctx, "alice")
	require.NoError(t, err)
	pubB, err := b.RequestPublicKey(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, pub, pubB)
	assert.Equal(t, int32(0), genB.calls.Load())

	plain, err := b.WithPrivateKey(ctx, "alice", decryptWith(encryptFor(t, pub, "shared")))
	require.NoError(t, err)
	assert.Equal(t, "shared", string(plain))
}

func TestRedisStoreFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	key, _ := util.NewAESKey()
	s := newRedisStore(t, client, key)
	now := time.Now()

	_, err := s.PutIfAbsent(ctx, "alice", &Entry{PublicKey: []byte("pub1"), PrivateKey: []byte("priv1"), IssuedAt: now, ExpiresAt: now.Add(time.Minute)})
	require.NoError(t, err)
	got, err := s.PutIfAbsent(ctx, "alice", &Entry{PublicKey: []byte("pub2"), PrivateKey: []byte("priv2"), IssuedAt: now, ExpiresAt: now.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []byte("pub1"), got.PublicKey)
	assert.Nil(t, got.PrivateKey)

	e, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []byte("priv1"), e.PrivateKey)
}

func TestRedisStoreSealsPrivateKey(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	key, _ := util.NewAESKey()
	s := newRedisStore(t, client, key)
	now := time.Now()

	marker := []byte("PRIVATE-KEY-MATERIAL")
	_, err := s.PutIfAbsent(ctx, "alice", &Entry{PublicKey: []byte("pub"), PrivateKey: util.CopyBytes(marker), IssuedAt: now, ExpiresAt: now.Add(time.Minute)})
	require.NoError(t, err)

	raw, err := mr.Get("kp:alice")
	require.NoError(t, err)
	assert.False(t, bytes.Contains([]byte(raw), marker))

	otherKey, _ := util.NewAESKey()
	_, err = newRedisStore(t, client, otherKey).Get(ctx, "alice")
	assert.Error(t, err)
}

func TestRedisStoreExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	key, _ := util.NewAESKey()
	s := newRedisStore(t, client, key)
	now := time.Now()

	_, err := s.PutIfAbsent(ctx, "alice", &Entry{PublicKey: []byte("pub"), PrivateKey: []byte("priv"), IssuedAt: now, ExpiresAt: now.Add(3 * time.Minute)})
	require.NoError(t, err)

	mr.FastForward(3*time.Minute + time.Second)
	_, err = s.Get(ctx, "alice")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	n, err := s.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	key, _ := util.NewAESKey()
	s := newRedisStore(t, client, key)
	mr.Close()

	_, err = s.Get(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestNewRedisStoreRejectsBadKey(t *testing.T) {
	_, client := newTestRedis(t)
	_, err := NewRedisStore(client, []byte("short"), "")
	assert.Error(t, err)
}
