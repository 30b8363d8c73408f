package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/shelf/core/api"
	"github.com/adalundhe/shelf/core/config"
	"github.com/adalundhe/shelf/core/integrity"
	"github.com/adalundhe/shelf/core/library"
)

const shutdownTimeout = 5 * time.Second

var (
	serveAddr          string
	serveWatch         bool
	serveCheckInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the library over HTTP",
	Long: `Serve the library's JSON API until interrupted.

With --watch (the default) the config file is watched and ranker weight
changes are applied without a restart. The catalog database and the content
store are integrity-checked every --check-interval and whenever a request
fails in a way that suggests damage; 0 disables both. Read-only commands such
as show, search and status keep working while serve holds the library.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "127.0.0.1:7340", "Listen address")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Hot-reload ranker weights from the config file")
	serveCmd.Flags().DurationVar(&serveCheckInterval, "check-interval", integrity.DefaultInterval, "Period between integrity sweeps")
}

func runServe(cmd *cobra.Command, args []string) error {
	return withLibrary(cmd, func(ctx context.Context, e *env, lib *library.Library) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		if serveWatch {
			watchWeights(ctx, e, lib)
		}
		var opts []api.Option
		if serveCheckInterval > 0 {
			monitor := newMonitor(e, lib, serveCheckInterval)
			if err := monitor.Start(ctx); err != nil {
				return err
			}
			defer monitor.Stop()
			opts = append(opts, api.WithIntegrity(monitor))
		}

		srv := api.New(lib, e.logger.With("component", "api"), opts...).NewHTTPServer(serveAddr)

		errCh := make(chan error, 1)
		go func() {
			e.logger.Info("serving", "addr", serveAddr, "root", lib.Root())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		e.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	})
}

// watchWeights applies ranker weight changes from config reloads. A missing
// config file only disables the watch.
func watchWeights(ctx context.Context, e *env, lib *library.Library) {
	e.manager.OnChange(func(cfg *config.Config) {
		weights := library.WeightsFromConfig(cfg.Ranker.Weights)
		if weights == lib.Weights() {
			return
		}
		if err := lib.SetWeights(weights); err != nil {
			e.logger.Warn("ignoring ranker weights from config", "error", err)
		}
	})

	if err := e.manager.Watch(ctx); err != nil {
		e.logger.Warn("config watch disabled", "error", err)
	}
}

// newMonitor sweeps the catalog database and content store in the background.
func newMonitor(e *env, lib *library.Library, interval time.Duration) *integrity.Monitor {
	logger := e.logger.With("component", "integrity")
	monitor := integrity.NewMonitor(integrity.Options{Interval: interval, Logger: logger})
	monitor.Register("catalog", lib.CheckCatalog)
	monitor.Register("content", lib.CheckContent)
	monitor.OnCorruption(func(scope string, err error) {
		logger.Error("library damage detected; run shelf verify", "scope", scope, "error", err)
	})
	return monitor
}
