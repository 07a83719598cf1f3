package config

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emfabro/steelgate/crypto"
)

var testMaster = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))

func validConfig() *Config {
	c := Default()
	c.MasterSecret = testMaster
	return c
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs), "expected ValidateErrors, got %v", err)
	fields := make([]string, len(verrs))
	for i, e := range verrs {
		fields[i] = e.Field
	}
	return fields
}

func TestDefaultsMatchLoginParameters(t *testing.T) {
	c := Default()
	assert.Equal(t, 3*time.Minute, c.KeypairTTL.Duration)
	assert.Equal(t, 5*time.Second, c.SweepInterval.Duration)
	assert.Equal(t, 3, c.LockThreshold)
	assert.Equal(t, 15*time.Minute, c.LockDuration.Duration)
	assert.Equal(t, 30*time.Minute, c.RenewMaxAge.Duration)
	assert.Equal(t, StorageBolt, c.Storage)
	assert.False(t, c.IsDev())
}

func TestValidateRequiresMasterSecret(t *testing.T) {
	err := Default().Validate()
	require.Error(t, err)
	assert.Equal(t, []string{"master_secret"}, fieldsOf(t, err))

	require.NoError(t, validConfig().Validate())
}

func TestValidateCollectsErrors(t *testing.T) {
	c := validConfig()
	c.Profile = "staging"
	c.Storage = "postgres"
	c.KeypairBits = 1024
	c.SweepInterval = Duration{10 * time.Minute}
	c.LockThreshold = 0
	c.TrustedProxies = []string{"10.0.0.0/8", "nope"}
	c.TLSCert = "cert.pem"
	c.SteelBurst = 0
	c.AuditWebhookHeader = "no-colon"

	assert.ElementsMatch(t, []string{
		"profile", "postgres_dsn", "keypair_bits", "sweep_interval", "lock_threshold",
		"trusted_proxies", "tls_cert", "steel_burst", "audit_webhook_header",
	}, fieldsOf(t, c.Validate()))
}

func TestValidateRejectsShortMasterSecret(t *testing.T) {
	c := Default()
	c.MasterSecret = base64.StdEncoding.EncodeToString([]byte("short"))
	assert.Equal(t, []string{"master_secret"}, fieldsOf(t, c.Validate()))

	c.MasterSecret = "%%%"
	assert.Equal(t, []string{"master_secret"}, fieldsOf(t, c.Validate()))
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steelgate.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen = "127.0.0.1:9000"
profile = "dev"
storage = "memory"
keypair_ttl = "90s"
lock_duration = "5m"
trusted_proxies = ["10.0.0.0/8"]
steel_rate = 0.5
`), 0o600))

	c := Default()
	require.NoError(t, c.LoadFile(path))
	assert.Equal(t, "127.0.0.1:9000", c.Listen)
	assert.True(t, c.IsDev())
	assert.Equal(t, StorageMemory, c.Storage)
	assert.Equal(t, 90*time.Second, c.KeypairTTL.Duration)
	assert.Equal(t, 5*time.Minute, c.LockDuration.Duration)
	assert.Equal(t, []string{"10.0.0.0/8"}, c.TrustedProxies)
	assert.Equal(t, 0.5, c.SteelRate)
	assert.Equal(t, 3, c.LockThreshold, "unset keys keep their default")
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steelgate.toml")
	require.NoError(t, os.WriteFile(path, []byte("lock_treshold = 5\n"), 0o600))

	err := Default().LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock_treshold")
}

func TestLoadFileRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steelgate.toml")
	require.NoError(t, os.WriteFile(path, []byte(`keypair_ttl = "soon"`), 0o600))
	assert.Error(t, Default().LoadFile(path))
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	require.NoError(t, c.ApplyEnv(envMap(map[string]string{
		"STEELGATE_MASTER_SECRET":  testMaster,
		"STEELGATE_REDIS_ADDR":     "redis:6379",
		"STEELGATE_REDIS_PASSWORD": "hunter2",
		"STEELGATE_REDIS_DB":       "2",
		"STEELGATE_PROFILE":        "dev",
		"UNRELATED":                "x",
	})))
	assert.Equal(t, testMaster, c.MasterSecret)
	assert.Equal(t, "redis:6379", c.RedisAddr)
	assert.Equal(t, "hunter2", c.RedisPassword)
	assert.Equal(t, 2, c.RedisDB)
	assert.True(t, c.IsDev())

	assert.Error(t, c.ApplyEnv(envMap(map[string]string{"STEELGATE_REDIS_DB": "two"})))
}

func TestKeysOverrides(t *testing.T) {
	c := validConfig()
	derived, err := c.Keys()
	require.NoError(t, err)

	master, err := base64.StdEncoding.DecodeString(testMaster)
	require.NoError(t, err)
	want, err := crypto.DeriveKeys(master)
	require.NoError(t, err)
	assert.Equal(t, want, derived)

	token := bytes.Repeat([]byte{1}, 32)
	c.TokenKey = base64.StdEncoding.EncodeToString(token)
	c.Pepper = base64.StdEncoding.EncodeToString([]byte("legacy-pepper"))
	keys, err := c.Keys()
	require.NoError(t, err)
	assert.Equal(t, token, keys.TokenKey)
	assert.Equal(t, []byte("legacy-pepper"), keys.Pepper)
	assert.Equal(t, derived.StoreKey, keys.StoreKey)

	c.TokenKey = base64.StdEncoding.EncodeToString([]byte("too short"))
	_, err = c.Keys()
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	c := validConfig()
	c.PostgresDSN = "postgres://u:p@db/steelgate"
	c.RedisPassword = "hunter2"

	r := c.Redacted()
	assert.Equal(t, "[redacted]", r.MasterSecret)
	assert.Equal(t, "[redacted]", r.PostgresDSN)
	assert.Equal(t, "[redacted]", r.RedisPassword)
	assert.Empty(t, r.Pepper)
	assert.Equal(t, testMaster, c.MasterSecret, "original is untouched")
}
