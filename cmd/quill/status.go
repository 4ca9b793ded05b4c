package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/quillsync/quill/internal/config"
	"github.com/quillsync/quill/internal/discover"
	"github.com/quillsync/quill/internal/index"
)

func newInitCmd() *cobra.Command {
	var (
		root  string
		token string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the device identity and configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Ensure()
			if err != nil {
				return err
			}
			changed := false
			if root != "" {
				abs, err := absPath(root)
				if err != nil {
					return err
				}
				cfg.Sync.Root = abs
				changed = true
			}
			if token != "" {
				cfg.Sync.AuthToken = token
				changed = true
			}
			if changed {
				if err := config.Save(cfg); err != nil {
					return err
				}
			}
			fmt.Fprintf(os.Stdout, "device %s (%s)\nconfig %s\n",
				cfg.Device.DeviceID, cfg.Device.DeviceName, config.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "sync root directory to record in the config")
	cmd.Flags().StringVar(&token, "token", "", "shared auth token to record in the config")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize the tracked files under the sync root",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, "")
			if err != nil {
				return err
			}

			ix := index.NewIndexer(cfg.Device.DeviceID, cfg.Sync.Root)
			snap, err := ix.Index()
			if err != nil {
				return err
			}

			var total int64
			for _, rec := range snap.Files {
				total += rec.Size
			}

			fmt.Fprintf(os.Stdout, "root    %s\ndevice  %s\nfiles   %d\nsize    %s\ndigest  %x\n",
				cfg.Sync.Root, cfg.Device.DeviceID, len(snap.Files),
				humanize.Bytes(uint64(total)), snap.RootDigest())
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "sync root directory (default from config, else cwd)")
	return cmd
}

func newPeersCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List configured peers and probe the local network for more",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Ensure()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()

			fmt.Fprintln(w, "NAME\tADDR\tSOURCE")
			for _, p := range cfg.Peers {
				fmt.Fprintf(w, "%s\t%s\tconfig\n", p.Name, p.Addr)
			}

			found, err := discover.Probe(cfg.Device.DeviceID, discover.DefaultPort, wait)
			if err != nil {
				return err
			}
			for _, f := range found {
				fmt.Fprintf(w, "%s\t%s\tdiscovered\n", f.DeviceID, f.Addr)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to wait for discovery responses")
	return cmd
}

func absPath(p string) (string, error) {
	return filepath.Abs(p)
}
