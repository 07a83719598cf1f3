// Package config loads steelgate server settings: built-in defaults, then an
// optional TOML file, then command-line flags, then STEELGATE_* environment
// variables for secrets.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/emfabro/steelgate/crypto"
	"github.com/emfabro/steelgate/keyvault"
	"github.com/emfabro/steelgate/lockout"
	"github.com/emfabro/steelgate/login"
)

const (
	ProfileDev  = "dev"
	ProfileProd = "prod"

	StorageMemory   = "memory"
	StorageBolt     = "bbolt"
	StoragePostgres = "postgres"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STEELGATE_"

// Duration is a time.Duration written as "3m" or "15m" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full server configuration.
type Config struct {
	Listen  string `toml:"listen"`
	Profile string `toml:"profile"`
	DataDir string `toml:"data_dir"`

	Storage     string `toml:"storage"`
	PostgresDSN string `toml:"postgres_dsn"`

	// RedisAddr enables the shared keypair and lockout stores. Empty keeps
	// both in process.
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`

	// MasterSecret is base64 of at least 32 random bytes. TokenKey and Pepper
	// replace the derived keys when set.
	MasterSecret string `toml:"master_secret"`
	TokenKey     string `toml:"token_key"`
	Pepper       string `toml:"pepper"`

	KeypairTTL    Duration `toml:"keypair_ttl"`
	KeypairBits   int      `toml:"keypair_bits"`
	SweepInterval Duration `toml:"sweep_interval"`
	LockThreshold int      `toml:"lock_threshold"`
	LockDuration  Duration `toml:"lock_duration"`
	RenewMaxAge   Duration `toml:"renew_max_age"`

	TrustedProxies []string `toml:"trusted_proxies"`
	TLSCert        string   `toml:"tls_cert"`
	TLSKey         string   `toml:"tls_key"`

	SteelRate  float64 `toml:"steel_rate"`
	SteelBurst int     `toml:"steel_burst"`

	AuditWebhookURL    string `toml:"audit_webhook_url"`
	AuditWebhookHeader string `toml:"audit_webhook_header"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:        ":8443",
		Profile:       ProfileProd,
		DataDir:       "./data",
		Storage:       StorageBolt,
		KeypairTTL:    Duration{keyvault.DefaultTTL},
		KeypairBits:   crypto.DefaultKeyBits,
		SweepInterval: Duration{keyvault.DefaultSweepInterval},
		LockThreshold: lockout.DefaultThreshold,
		LockDuration:  Duration{lockout.DefaultLockDuration},
		RenewMaxAge:   Duration{login.DefaultRenewMaxAge},
		SteelRate:     2,
		SteelBurst:    10,
	}
}

// LoadFile overlays the TOML file at path onto c. Unknown keys are an error
// so typos do not silently fall back to defaults.
func (c *Config) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overlays STEELGATE_* variables. lookup is os.LookupEnv outside
// tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := map[string]*string{
		"MASTER_SECRET":        &c.MasterSecret,
		"TOKEN_KEY":            &c.TokenKey,
		"PEPPER":               &c.Pepper,
		"POSTGRES_DSN":         &c.PostgresDSN,
		"REDIS_ADDR":           &c.RedisAddr,
		"REDIS_PASSWORD":       &c.RedisPassword,
		"AUDIT_WEBHOOK_URL":    &c.AuditWebhookURL,
		"AUDIT_WEBHOOK_HEADER": &c.AuditWebhookHeader,
		"PROFILE":              &c.Profile,
	}
	for name, dst := range str {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	if v, ok := lookup(EnvPrefix + "REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREDIS_DB: %w", EnvPrefix, err)
		}
		c.RedisDB = n
	}
	return nil
}

// IsDev reports whether the development profile is active. Dev drops the
// Secure cookie attribute and logs as text.
func (c *Config) IsDev() bool {
	return c.Profile == ProfileDev
}

// ValidationError names one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every invalid setting found by Validate.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Listen == "" {
		add("listen", "must not be empty")
	}
	if c.Profile != ProfileDev && c.Profile != ProfileProd {
		add("profile", "invalid profile %q, must be one of: dev, prod", c.Profile)
	}
	switch c.Storage {
	case StorageMemory:
	case StorageBolt:
		if c.DataDir == "" {
			add("data_dir", "required for bbolt storage")
		}
	case StoragePostgres:
		if c.PostgresDSN == "" {
			add("postgres_dsn", "required for postgres storage")
		}
	default:
		add("storage", "invalid storage %q, must be one of: memory, bbolt, postgres", c.Storage)
	}
	if c.RedisDB < 0 {
		add("redis_db", "must not be negative")
	}

	if _, err := c.Keys(); err != nil {
		add("master_secret", "%v", err)
	}

	if c.KeypairTTL.Duration <= 0 {
		add("keypair_ttl", "must be positive")
	}
	if c.KeypairBits < crypto.MinKeyBits {
		add("keypair_bits", "must be at least %d", crypto.MinKeyBits)
	}
	if c.SweepInterval.Duration <= 0 {
		add("sweep_interval", "must be positive")
	} else if c.SweepInterval.Duration > c.KeypairTTL.Duration && c.KeypairTTL.Duration > 0 {
		add("sweep_interval", "must not exceed keypair_ttl")
	}
	if c.LockThreshold < 1 {
		add("lock_threshold", "must be at least 1")
	}
	if c.LockDuration.Duration <= 0 {
		add("lock_duration", "must be positive")
	}
	if c.RenewMaxAge.Duration < time.Second {
		add("renew_max_age", "must be at least 1s")
	}

	for _, p := range c.TrustedProxies {
		if _, err := netip.ParsePrefix(p); err != nil {
			add("trusted_proxies", "invalid CIDR %q", p)
		}
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		add("tls_cert", "tls_cert and tls_key must be set together")
	}
	if c.SteelRate <= 0 {
		add("steel_rate", "must be positive")
	}
	if c.SteelBurst < 1 {
		add("steel_burst", "must be at least 1")
	}
	if c.AuditWebhookHeader != "" && !strings.Contains(c.AuditWebhookHeader, ":") {
		add("audit_webhook_header", `must look like "Name: value"`)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Keys derives the server keys from MasterSecret and applies the explicit
// TokenKey and Pepper overrides.
func (c *Config) Keys() (crypto.Keys, error) {
	if c.MasterSecret == "" {
		return crypto.Keys{}, errors.New("master secret is required (set " + EnvPrefix + "MASTER_SECRET)")
	}
	master, err := base64.StdEncoding.DecodeString(c.MasterSecret)
	if err != nil {
		return crypto.Keys{}, fmt.Errorf("master secret is not valid base64: %w", err)
	}
	keys, err := crypto.DeriveKeys(master)
	if err != nil {
		return crypto.Keys{}, err
	}
	if c.TokenKey != "" {
		if keys.TokenKey, err = base64.StdEncoding.DecodeString(c.TokenKey); err != nil {
			return crypto.Keys{}, fmt.Errorf("token key is not valid base64: %w", err)
		}
	}
	if c.Pepper != "" {
		if keys.Pepper, err = base64.StdEncoding.DecodeString(c.Pepper); err != nil {
			return crypto.Keys{}, fmt.Errorf("pepper is not valid base64: %w", err)
		}
	}
	if err := keys.Validate(); err != nil {
		return crypto.Keys{}, err
	}
	return keys, nil
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	out := *c
	for _, s := range []*string{&out.MasterSecret, &out.TokenKey, &out.Pepper, &out.RedisPassword, &out.AuditWebhookHeader} {
		if *s != "" {
			*s = "[redacted]"
		}
	}
	if out.PostgresDSN != "" {
		out.PostgresDSN = "[redacted]"
	}
	return out
}
