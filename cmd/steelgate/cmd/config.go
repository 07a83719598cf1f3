package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/emfabro/steelgate/config"
)

// flags holds raw flag values; only flags the user set override the config.
var flags struct {
	configPath  string
	profile     string
	dataDir     string
	storage     string
	postgresDSN string
	redisAddr   string

	listen         string
	tlsCert        string
	tlsKey         string
	trustedProxies []string
}

// loadConfig resolves defaults, the config file, set flags and STEELGATE_*
// environment variables, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		if err := cfg.LoadFile(flags.configPath); err != nil {
			return nil, err
		}
	}

	f := cmd.Flags()
	str := []struct {
		name string
		dst  *string
		val  string
	}{
		{"profile", &cfg.Profile, flags.profile},
		{"data-dir", &cfg.DataDir, flags.dataDir},
		{"storage", &cfg.Storage, flags.storage},
		{"postgres-dsn", &cfg.PostgresDSN, flags.postgresDSN},
		{"redis-addr", &cfg.RedisAddr, flags.redisAddr},
		{"listen", &cfg.Listen, flags.listen},
		{"tls-cert", &cfg.TLSCert, flags.tlsCert},
		{"tls-key", &cfg.TLSKey, flags.tlsKey},
	}
	for _, s := range str {
		if fl := f.Lookup(s.name); fl != nil && fl.Changed {
			*s.dst = s.val
		}
	}
	if fl := f.Lookup("trusted-proxy"); fl != nil && fl.Changed {
		cfg.TrustedProxies = flags.trustedProxies
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	if cfg.IsDev() {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}
