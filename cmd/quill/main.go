package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/quillsync/quill/internal/config"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		verbose bool
		quiet   bool
	)

	rootCmd := &cobra.Command{
		Use:           "quill",
		Short:         "Peer-to-peer directory sync for your notes",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(verbose, quiet)
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "warnings and errors only")

	rootCmd.AddCommand(
		newInitCmd(),
		newServeCmd(),
		newSyncCmd(),
		newGetCmd(),
		newStatusCmd(),
		newPeersCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "quill: %v\n", err)
		return 1
	}
	return 0
}

// setupLogging installs the process-wide slog handler: colorized when stderr
// is a terminal, plain text otherwise.
func setupLogging(verbose, quiet bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	} else if quiet {
		level = slog.LevelWarn
	}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// loadConfig builds the effective configuration: file settings overlaid with
// command flags.
func loadConfig(root, token string) (config.Config, error) {
	cfg, err := config.Ensure()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if root != "" {
		cfg.Sync.Root = root
	}
	if token != "" {
		cfg.Sync.AuthToken = token
	}
	if cfg.Sync.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return config.Config{}, err
		}
		cfg.Sync.Root = wd
	}
	return cfg, nil
}
