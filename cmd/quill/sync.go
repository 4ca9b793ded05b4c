package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quillsync/quill/internal/index"
	"github.com/quillsync/quill/internal/session"
)

func newSyncCmd() *cobra.Command {
	var (
		root     string
		token    string
		compress bool
	)

	cmd := &cobra.Command{
		Use:   "sync <peer-addr>",
		Short: "Run one sync exchange against a peer and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, token)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("compress") {
				cfg.Sync.Compress = compress
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ix := index.NewIndexer(cfg.Device.DeviceID, cfg.Sync.Root)
			c, err := session.Dial(ctx, args[0], cfg.Device.DeviceName, ix, session.Options{
				AuthToken:   cfg.Sync.AuthToken,
				Compress:    cfg.Sync.Compress,
				SyncTimeout: cfg.Sync.Timeout(),
				Logger:      slog.Default(),
			})
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.SyncOnce(ctx); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "synced %s with %s: %s\n",
				cfg.Sync.Root, c.PeerDevice(), c.Stats().Snapshot())
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "sync root directory (default from config, else cwd)")
	cmd.Flags().StringVar(&token, "token", "", "shared auth token")
	cmd.Flags().BoolVar(&compress, "compress", false, "zstd-compress the session")
	return cmd
}

func newGetCmd() *cobra.Command {
	var (
		root   string
		token  string
		output string
	)

	cmd := &cobra.Command{
		Use:   "get <peer-addr> <path>",
		Short: "Fetch a single file from a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, token)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ix := index.NewIndexer(cfg.Device.DeviceID, cfg.Sync.Root)
			c, err := session.Dial(ctx, args[0], cfg.Device.DeviceName, ix, session.Options{
				AuthToken: cfg.Sync.AuthToken,
				Logger:    slog.Default(),
			})
			if err != nil {
				return err
			}
			defer c.Close()

			content, rec, err := c.FetchFile(args[1])
			if err != nil {
				return err
			}

			if output == "-" || output == "" {
				_, err = os.Stdout.Write(content)
				return err
			}
			if err := os.WriteFile(output, content, 0o644); err != nil {
				return err
			}
			if rec != nil {
				slog.Info("fetched", "path", rec.Path, "digest", rec.Digest, "size", rec.Size)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "sync root directory (default from config, else cwd)")
	cmd.Flags().StringVar(&token, "token", "", "shared auth token")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}
