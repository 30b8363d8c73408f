// Package cmd provides the shelf command line.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/adalundhe/shelf/core/config"
	"github.com/adalundhe/shelf/core/library"
	"github.com/adalundhe/shelf/core/storage"
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// =============================================================================
// Global Flags
// =============================================================================

var (
	rootPath   string
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "shelf",
	Short: "Shelf - a personal research library",
	Long: `Shelf catalogs the resources you read, stores their captured content,
records who cites whom, and ranks them by relevance, citation centrality,
recency and importance.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootPath, "root", "", "Library directory (default: $XDG_DATA_HOME/shelf/library)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file layered over the user config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

func Execute() error {
	return rootCmd.Execute()
}

// =============================================================================
// Environment
// =============================================================================

// env is what every command needs: the loaded config and a logger.
type env struct {
	manager *config.Manager
	config  *config.Config
	logger  *slog.Logger
}

// newLogger installs a charmbracelet/log handler behind slog.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	handler := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           lvl,
	})
	return slog.New(handler), nil
}

// loadEnv layers config from defaults, files, environment and flags, then
// builds the logger from the resulting level.
func loadEnv(cmd *cobra.Command) (*env, error) {
	dirs, err := storage.ResolveDirs()
	if err != nil {
		return nil, err
	}

	bootstrap, err := newLogger(cmd.ErrOrStderr(), "warn")
	if err != nil {
		return nil, err
	}

	manager := config.NewManager(dirs, configPath, bootstrap)
	if err := manager.Override(&config.Config{
		Store: config.StoreConfig{Root: rootPath},
		Log:   config.LogConfig{Level: logLevel},
	}); err != nil {
		return nil, err
	}

	cfg := manager.Get()
	if cfg.Store.Root == "" {
		cfg.Store.Root = dirs.DefaultLibraryRoot()
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	return &env{manager: manager, config: cfg, logger: logger}, nil
}

// withLibrary opens the library for writing for the duration of fn. It
// fails with a conflict while another writer, such as serve, holds the root.
func withLibrary(cmd *cobra.Command, fn func(ctx context.Context, e *env, lib *library.Library) error) error {
	return openLibrary(cmd, false, fn)
}

// withReader opens the library read-only, so queries run alongside a writer.
func withReader(cmd *cobra.Command, fn func(ctx context.Context, e *env, lib *library.Library) error) error {
	return openLibrary(cmd, true, fn)
}

func openLibrary(cmd *cobra.Command, readOnly bool, fn func(ctx context.Context, e *env, lib *library.Library) error) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	lib, err := library.Open(ctx, e.config, library.Options{Logger: e.logger, ReadOnly: readOnly})
	if err != nil {
		return err
	}
	defer lib.Close()

	return fn(ctx, e, lib)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// isTerminal returns true if the given writer is a terminal.
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		fi, err := f.Stat()
		if err != nil {
			return false
		}
		return (fi.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// paint wraps s in color when w is a terminal.
func paint(w io.Writer, color, s string) string {
	if !isTerminal(w) {
		return s
	}
	return color + s + colorReset
}
