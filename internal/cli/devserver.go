package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/idilsaglam/groceries/internal/config"
	"github.com/idilsaglam/groceries/internal/devserver"
	"github.com/idilsaglam/groceries/internal/ui"
)

func newDevServerCmd(app *App) *cobra.Command {
	var addr, dbPath, key string
	cmd := &cobra.Command{
		Use:   "dev-server",
		Short: "Run a local sqlite-backed stand-in for the hosted backend",
		Args:  noArgs("groceries dev-server [--addr A] [--db PATH] [--key K]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dir, err := config.Dir()
				if err != nil {
					return err
				}
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return fmt.Errorf("mkdir: %w", err)
				}
				dbPath = filepath.Join(dir, "devserver.sqlite")
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := app.log.With("component", "devserver")
			log.Info("opening database", "path", dbPath)
			store, err := devserver.Open(ctx, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			srv := devserver.New(store, key, log)
			httpServer := &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

			url := "http://" + ln.Addr().String()
			ui.OK(cmd.OutOrStdout(), "dev backend listening on "+url)
			fmt.Fprintf(cmd.OutOrStdout(), "  groceries config set url %s\n  groceries config set anon_key %s\n", url, key)

			errc := make(chan error, 1)
			go func() {
				if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				if err == nil {
					return nil
				}
				return fmt.Errorf("serve: %w", err)
			case <-ctx.Done():
			}
			log.Info("shutting down")
			// Realtime sockets are hijacked and ignored by Shutdown.
			srv.Kick()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:54321", "Address to listen on")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path, or :memory: (default ~/.groceries/devserver.sqlite)")
	cmd.Flags().StringVar(&key, "key", envOr("GROCERIES_DEV_KEY", "dev-anon-key"), "API key clients must send")
	return cmd
}
