package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quillsync/quill/internal/config"
	"github.com/quillsync/quill/internal/discover"
	"github.com/quillsync/quill/internal/index"
	"github.com/quillsync/quill/internal/session"
	"github.com/quillsync/quill/internal/watch"
)

const defaultListenAddr = ":7450"

func newServeCmd() *cobra.Command {
	var (
		root       string
		token      string
		listenAddr string
		compress   bool
		announce   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch the sync root, accept peers, and keep configured peers in sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, token)
			if err != nil {
				return err
			}
			if listenAddr == "" {
				listenAddr = cfg.Sync.ListenAddr
			}
			if listenAddr == "" {
				listenAddr = defaultListenAddr
			}
			if cmd.Flags().Changed("compress") {
				cfg.Sync.Compress = compress
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, listenAddr, announce)
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "sync root directory (default from config, else cwd)")
	cmd.Flags().StringVar(&token, "token", "", "shared auth token")
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "listen address")
	cmd.Flags().BoolVar(&compress, "compress", false, "zstd-compress sessions")
	cmd.Flags().BoolVar(&announce, "announce", true, "answer local discovery probes")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, listenAddr string, announce bool) error {
	// One daemon per root; a second serve on the same root would race
	// walks and commits.
	lock := flock.New(filepath.Join(cfg.Sync.Root, ".quill.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock sync root: %w", err)
	}
	if !locked {
		return fmt.Errorf("sync root %s is already being served", cfg.Sync.Root)
	}
	defer lock.Unlock()

	ix := index.NewIndexer(cfg.Device.DeviceID, cfg.Sync.Root)
	opts := session.Options{
		AuthToken:   cfg.Sync.AuthToken,
		Compress:    cfg.Sync.Compress,
		SyncTimeout: cfg.Sync.Timeout(),
		Logger:      slog.Default(),
	}
	srv := session.NewServer(ix, session.NewPeerRegistry(), opts)

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx, ln)
	})

	if announce {
		g.Go(func() error {
			return discover.Respond(ctx, cfg.Device.DeviceID, discover.DefaultPort, slog.Default())
		})
	}

	watcher := watch.New(cfg.Sync.Root, slog.Default())
	g.Go(func() error {
		return watcher.Start(ctx)
	})

	// Fan watcher events out to one trigger channel per configured peer.
	triggers := make([]chan struct{}, len(cfg.Peers))
	for i := range cfg.Peers {
		triggers[i] = make(chan struct{}, 1)
	}
	g.Go(func() error {
		for ev := range watcher.Events() {
			slog.Debug("local change", "path", ev.Path, "kind", ev.Kind.String())
			for _, tr := range triggers {
				select {
				case tr <- struct{}{}:
				default:
				}
			}
		}
		return nil
	})

	for i, peer := range cfg.Peers {
		i, peer := i, peer
		g.Go(func() error {
			c, err := session.Dial(ctx, peer.Addr, cfg.Device.DeviceName, ix, opts)
			if err != nil {
				slog.Warn("peer unreachable", "peer", peer.Name, "addr", peer.Addr, "error", err)
				return nil
			}
			defer c.Close()
			if err := c.Run(ctx, triggers[i], cfg.Sync.Interval()); err != nil {
				slog.Warn("peer session ended", "peer", peer.Name, "error", err)
			}
			return nil
		})
	}

	slog.Info("serving", "root", cfg.Sync.Root, "addr", listenAddr, "peers", len(cfg.Peers))
	err = g.Wait()
	slog.Info("session totals", "received", srv.Stats().Snapshot().String())
	if ctx.Err() != nil {
		slog.Info("shutting down")
		return nil
	}
	return err
}
