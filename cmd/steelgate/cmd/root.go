package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=v1.2.3".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "steelgate",
	Short: "steelgate is a challenge/response login service",
	Long: `Session-less login for browser clients. Secrets travel encrypted under
short-lived per-account RSA keys and sessions live in sealed cookies.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&flags.configPath, "config", "c", "", "Path to a TOML config file")
	f.StringVar(&flags.profile, "profile", "", "Runtime profile (dev|prod)")
	f.StringVar(&flags.dataDir, "data-dir", "", "Directory for persistent data")
	f.StringVar(&flags.storage, "storage", "", "Member storage backend (memory|bbolt|postgres)")
	f.StringVar(&flags.postgresDSN, "postgres-dsn", "", "PostgreSQL DSN for postgres storage")
	f.StringVar(&flags.redisAddr, "redis-addr", "", "Redis address for shared keypair and lockout state")
}
