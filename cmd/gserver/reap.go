package main

import (
	"context"

	"github.com/cbodonnell/gserver/pkg/config"
	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/workers"
	"github.com/spf13/cobra"
)

func newReapCmd(envFile *string) *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Delete orphaned save blobs once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			ctx := context.Background()
			b, err := openBackends(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close(ctx)

			reaper := workers.NewOrphanReaperWorker(workers.NewOrphanReaperWorkerOptions{
				Orphans:   b.repository,
				Blobs:     b.blobs,
				BatchSize: batchSize,
			})
			reaped := reaper.Reap(ctx)
			log.Info("Reaped %d orphaned blobs", reaped)
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", workers.DefaultOrphanBatchSize, "Maximum number of blobs to reap")
	return cmd
}
