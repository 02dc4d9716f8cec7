package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cardvault/filestore/internal/filestore"
)

func newSweepCmd(v *viper.Viper) *cobra.Command {
	var daemon bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Prune expired files and orphaned blobs",
		Long: `Prune expired files from the registry and backend, then reclaim
blobs that exist on the backend without a registry record.

Orphan reclamation needs a backend with native listing (s3, badger);
on others only expiry pruning runs.

Runs one round by default; --daemon sweeps on sweep.interval until
interrupted, serving metrics on observability.metrics_addr.

Examples:
  filestore sweep
  filestore sweep --daemon`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, cfg, obs, err := openStore(ctx, cmd, v)
			if err != nil {
				return err
			}
			defer store.Close()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = obs.Close(shutdownCtx)
			}()

			sweeper := filestore.NewSweeper(store, filestore.SweepOptions{
				Interval:    cfg.Sweep.Interval,
				BatchSize:   cfg.Sweep.BatchSize,
				OrphanGrace: cfg.Sweep.OrphanGrace,
			})

			if daemon {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				// Serve the same registry the store records into.
				if cfg.Observability.MetricsAddr != "" {
					obs.ServeMetrics(ctx, cfg.Observability.MetricsAddr)
				}

				sweeper.Run(ctx)
				return nil
			}

			report, err := sweeper.SweepOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("expired pruned:   %d\n", report.Expired)
			fmt.Printf("orphans removed:  %d\n", report.Orphans)
			fmt.Printf("failures:         %d\n", report.Failed)
			if report.OrphanScanSkip {
				fmt.Println("orphan scan skipped: backend has no native listing")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&daemon, "daemon", false, "sweep continuously on sweep.interval")
	return cmd
}
