package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emfabro/steelgate/crypto"
	"github.com/emfabro/steelgate/internal/util"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Print a fresh base64 master secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := util.RandomBytes(crypto.MinMasterSecretLen)
		if err != nil {
			return err
		}
		defer clear(b)
		fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(b))
		return nil
	},
}

var whisperCmd = &cobra.Command{
	Use:   "whisper",
	Short: "Print the stored form of a secret read from the terminal or stdin",
	Long: `Computes the whisper the directory stores for a secret under the
configured pepper. Useful when seeding an external member table.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		keys, err := cfg.Keys()
		if err != nil {
			return err
		}
		defer keys.Wipe()
		secret, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer clear(secret)
		fmt.Fprintln(cmd.OutOrStdout(), crypto.Resign(keys.Pepper, secret))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

func init() {
	rootCmd.AddCommand(secretCmd, whisperCmd, versionCmd)
}
