package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/emfabro/steelgate/crypto"
	"github.com/emfabro/steelgate/member"
)

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Manage the member directory offline",
}

var (
	memberName   string
	memberAdmin  bool
	memberStatus string

	grantPages    []string
	grantFeatures []string
)

var memberAddCmd = &cobra.Command{
	Use:   "add <account>",
	Short: "Add a member; the secret is read from stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		status, err := member.ParseStatus(memberStatus)
		if err != nil {
			return err
		}
		secret, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer clear(secret)

		s, err := openMembers(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		perm := member.Permission{Page: []member.Item{}, Feature: []member.Item{}}
		if memberAdmin {
			perm = member.DefaultPermission()
		}
		a, err := s.members.Create(cmd.Context(), member.Account{
			Account:   args[0],
			Name:      memberName,
			Whisper:   crypto.Resign(s.keys.Pepper, secret),
			Status:    status,
			CreatedBy: "cli",
		}, perm)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s (id %d, %s)\n", a.Account, a.ID, a.Status)
		return nil
	},
}

var memberListCmd = &cobra.Command{
	Use:   "list",
	Short: "List members",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := openMembers(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		accounts, err := s.members.List(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tACCOUNT\tNAME\tSTATUS\tCREATED")
		for _, a := range accounts {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", a.ID, a.Account, a.Name, a.Status, a.CreatedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	},
}

var memberStatusCmd = &cobra.Command{
	Use:   "status <account> <enabled|disabled|inactive>",
	Short: "Change a member's activation state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := member.ParseStatus(args[1])
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := openMembers(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		a, err := s.members.SetStatus(cmd.Context(), args[0], status)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", a.Account, a.Status)
		return nil
	},
}

var memberGrantCmd = &cobra.Command{
	Use:   "grant <account>",
	Short: "Replace a member's pages and features",
	Example: `  steelgate member grant alice --page "Members::/members" --feature export`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := openMembers(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		perm := member.Permission{Page: items(grantPages), Feature: items(grantFeatures)}
		if err := s.members.SetPermissions(cmd.Context(), args[0], perm); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d pages, %d features\n", args[0], len(perm.Page), len(perm.Feature))
		return nil
	},
}

func items(names []string) []member.Item {
	out := make([]member.Item, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, member.Item{Name: n})
		}
	}
	return out
}

// Terminal seams, replaced in tests.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// readSecret reads the secret without echo when in is a terminal, prompting
// on prompt. Piped input contributes its first line.
func readSecret(in io.Reader, prompt io.Writer) ([]byte, error) {
	if f, ok := in.(*os.File); ok && isTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Secret: ")
		pw, err := readPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return nil, fmt.Errorf("failed to read secret: %w", err)
		}
		if len(pw) == 0 {
			return nil, errors.New("empty secret")
		}
		return pw, nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, errors.New("empty secret on stdin")
	}
	return []byte(line), nil
}

func init() {
	rootCmd.AddCommand(memberCmd)
	memberCmd.AddCommand(memberAddCmd, memberListCmd, memberStatusCmd, memberGrantCmd)

	memberAddCmd.Flags().StringVarP(&memberName, "name", "n", "", "Display name")
	memberAddCmd.Flags().BoolVar(&memberAdmin, "admin", false, "Grant the default administrator pages")
	memberAddCmd.Flags().StringVar(&memberStatus, "status", "enabled", "Initial status (enabled|disabled|inactive)")

	memberGrantCmd.Flags().StringArrayVar(&grantPages, "page", nil, `Page grant "Label::/route" (repeatable)`)
	memberGrantCmd.Flags().StringArrayVar(&grantFeatures, "feature", nil, "Feature grant (repeatable)")
}
