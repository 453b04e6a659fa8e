package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/groceries/internal/config"
	"github.com/idilsaglam/groceries/internal/ui"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change ~/.groceries/config.yaml",
		Args:  noArgs("groceries config <show|set|path>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective settings (environment included)",
		Args:  noArgs("groceries config show"),
		RunE: func(cmd *cobra.Command, args []string) error {
			var lines []string
			for _, kv := range app.cfg.Fields() {
				v := kv[1]
				if v == "" {
					v = ui.C(ui.Current().Muted, "(unset)")
				}
				lines = append(lines, fmt.Sprintf("%-16s %s", kv[0], v))
			}
			ui.Panel(cmd.OutOrStdout(), lines)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one key (" + strings.Join(config.Keys(), ", ") + ")",
		Args:  exactArgs(2, "groceries config set <key> <value>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Path()
			if err != nil {
				return err
			}
			// Edit the file itself so env overrides are not persisted.
			c, err := config.LoadFile(p)
			if err != nil {
				return err
			}
			if err := c.Set(args[0], args[1]); err != nil {
				return usageError{msg: err.Error(), usage: "groceries config set <key> <value>"}
			}
			if err := c.SaveFile(p); err != nil {
				return err
			}
			app.log.Info("config updated", "key", args[0])
			ui.OK(cmd.OutOrStdout(), "set "+strings.ToLower(args[0]))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  noArgs("groceries config path"),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Path()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	})
	return cmd
}
