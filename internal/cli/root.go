package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/groceries/internal/config"
	"github.com/idilsaglam/groceries/internal/listsync"
	"github.com/idilsaglam/groceries/internal/logging"
	"github.com/idilsaglam/groceries/internal/tui"
	"github.com/idilsaglam/groceries/internal/ui"
)

type App struct {
	ListID   string
	Theme    string
	LogFile  string
	LogLevel string
	Color    string

	cfg      config.Config
	log      *slog.Logger
	closeLog func() error
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "groceries",
		Short:        "Shared household grocery list (TUI + scriptable commands)",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Open the live list
  groceries

  # Scriptable commands
  groceries add Milk -q 2 -c Dairy
  groceries ls --plain
  groceries done 2

  # Local backend for development
  groceries dev-server --addr localhost:54321
`),
		Args: noArgs("groceries [command]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(app)
		},
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return app.setup(cmd)
	}
	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if app.closeLog == nil {
			return nil
		}
		return app.closeLog()
	}

	cmd.PersistentFlags().StringVar(&app.ListID, "list", "", "List id (overrides list_id in config.yaml)")
	cmd.PersistentFlags().StringVar(&app.Theme, "theme", "", "Theme: "+strings.Join(ui.ThemeNames(), "|"))
	cmd.PersistentFlags().StringVar(&app.LogFile, "log-file", envOr("GROCERIES_LOG_FILE", ""), "Log file path, or - for stderr (default ~/.groceries/groceries.log)")
	cmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", envOr("GROCERIES_LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&app.Color, "color", "auto", "Color output (auto|always|never)")

	cmd.AddCommand(newListCmd(app))
	cmd.AddCommand(newAddCmd(app))
	cmd.AddCommand(newDoneCmd(app))
	cmd.AddCommand(newRemoveCmd(app))
	cmd.AddCommand(newClearCmd(app))
	cmd.AddCommand(newRefreshCmd(app))
	cmd.AddCommand(newAuthCmd(app))
	cmd.AddCommand(newConfigCmd(app))
	cmd.AddCommand(newDevServerCmd(app))

	return cmd
}

// setup loads config and opens the log before any command runs.
func (app *App) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	app.cfg = cfg

	theme := app.Theme
	if theme == "" {
		theme = cfg.Theme
	}
	ui.SetTheme(theme)
	switch strings.ToLower(app.Color) {
	case "always":
		ui.SetColorForcing(true, false)
	case "never":
		ui.SetColorForcing(false, true)
	case "", "auto":
	default:
		return fmt.Errorf("--color must be auto, always or never")
	}

	level, err := logging.ParseLevel(app.LogLevel)
	if err != nil {
		return err
	}
	path := app.LogFile
	if path == "" {
		dir, err := config.Dir()
		if err != nil {
			return err
		}
		path = filepath.Join(dir, "groceries.log")
	}
	log, closeFn, err := logging.New(path, level)
	if err != nil {
		// Logging is not worth failing a command over.
		fmt.Fprintln(cmd.ErrOrStderr(), ui.C(ui.Current().Muted, "logging disabled: "+err.Error()))
		log, closeFn = logging.Discard(), nil
	}
	app.log, app.closeLog = log.With("cmd", cmd.CommandPath()), closeFn
	return nil
}

func runTUI(app *App) error {
	listID, err := app.listID()
	if err != nil {
		return err
	}
	src, err := app.backend()
	if err != nil {
		return err
	}
	opts := app.sessionOptions(src)
	title := "Groceries"
	if app.cfg.HouseholdID != "" {
		title += " · " + app.cfg.HouseholdID
	}
	var source listsync.Source
	if src != nil {
		source = src
	}
	return tui.Run(source, opts, listID, title)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
