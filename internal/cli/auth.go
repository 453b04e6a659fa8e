package cli

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/groceries/internal/auth"
	"github.com/idilsaglam/groceries/internal/ui"
)

func newAuthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Token authentication",
		Args:  noArgs("groceries auth <login|logout|status|whoami>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newAuthLoginCmd(app))
	cmd.AddCommand(newAuthLogoutCmd(app))
	cmd.AddCommand(newAuthStatusCmd(app))
	cmd.AddCommand(newAuthWhoAmICmd(app))
	return cmd
}

func newAuthLoginCmd(app *App) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an access token (read from stdin unless --token)",
		Args:  noArgs("groceries auth login [--token T]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Paste your token: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && strings.TrimSpace(line) == "" {
					return fmt.Errorf("read token: %w", err)
				}
				token = line
			}
			ti, err := auth.SetToken(token)
			if err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			app.log.Info("token saved", "expires", ti.ExpiresAt)
			msg := "logged in"
			if id := auth.MemberID(ti); id != "" {
				msg += " as " + id
			}
			ui.OK(cmd.OutOrStdout(), msg)
			if ti.Expired(time.Now()) {
				ui.Hint(cmd.ErrOrStderr(), "this token has already expired")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Access token (JWT or opaque)")
	return cmd
}

func newAuthLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the stored token",
		Args:  noArgs("groceries auth logout"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ti, _ := auth.GetToken()
			if ti != nil && ti.Source == "env" {
				ui.OK(cmd.OutOrStdout(), "token is provided by GROCERIES_TOKEN env var (nothing to delete)")
				return nil
			}
			if err := auth.DeleteToken(); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			ui.OK(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newAuthStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where the token comes from and when it expires",
		Args:  noArgs("groceries auth status"),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ti, err := auth.GetToken()
			if err != nil {
				return err
			}
			if ti == nil {
				fmt.Fprintln(out, ui.C(ui.Current().Muted, "not logged in"))
				fmt.Fprintln(out, "Run: groceries auth login")
				return nil
			}
			fmt.Fprintf(out, "source: %s\n", ti.Source)
			switch {
			case ti.ExpiresAt == nil:
				fmt.Fprintln(out, "expires: (unknown)")
			case ti.Expired(time.Now()):
				fmt.Fprintf(out, "expires: %s %s\n", ti.ExpiresAt.UTC().Format(time.RFC3339), ui.C(ui.Current().Error, "(expired)"))
			default:
				fmt.Fprintf(out, "expires: %s\n", ti.ExpiresAt.UTC().Format(time.RFC3339))
			}
			fmt.Fprintln(out, "env override: GROCERIES_TOKEN")
			return nil
		},
	}
}

// whoami reads the JWT claims locally without verifying them; opaque tokens
// print basic info.
func newAuthWhoAmICmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity carried by the token",
		Args:  noArgs("groceries auth whoami"),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			ti, err := auth.GetToken()
			if err != nil {
				return err
			}
			if ti == nil {
				return fmt.Errorf("not logged in. Run: groceries auth login")
			}
			c, err := auth.ParseClaims(ti.Token)
			if err != nil {
				fmt.Fprintln(out, "Opaque token (cannot introspect locally).")
				fmt.Fprintln(out, "source:", ti.Source)
				return nil
			}
			fmt.Fprintln(out, "subject:", c.Subject)
			if c.Email != "" {
				fmt.Fprintln(out, "email:", c.Email)
			}
			if c.Role != "" {
				fmt.Fprintln(out, "role:", c.Role)
			}
			if c.ExpiresAt != nil {
				fmt.Fprintln(out, "expires:", c.ExpiresAt.UTC().Format(time.RFC3339))
			}
			fmt.Fprintln(out, "source:", ti.Source)
			return nil
		},
	}
}
