package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-scrape-beauty/annotation"
	"github.com/aluiziolira/go-scrape-beauty/config"
	"github.com/aluiziolira/go-scrape-beauty/store/postgres"
)

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Export stored products that are not yet in Label Studio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, opts, dryRun)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be uploaded without importing")
	cmd.Flags().Int("batch-size", defaults.LabelStudio.BatchSize, "tasks per import request")
	bindFlags(opts.v, cmd, map[string]string{
		"batch-size": "labelstudio.batch_size",
	})
	return cmd
}

func runSync(cmd *cobra.Command, opts *rootOptions, dryRun bool) error {
	ctx := cmd.Context()

	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	if err := cfg.ValidateSync(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	products, err := postgres.NewProductStore(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open product store: %w", err)
	}
	defer products.Close()

	client, err := annotation.NewClient(cfg.LabelStudio, nil)
	if err != nil {
		return err
	}

	result, err := annotation.NewExporter(products, client, cfg.LabelStudio.BatchSize, logger).Sync(ctx, dryRun)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if result.FailedBatches > 0 {
		logger.Warn("some batches failed", zap.Int("failed_batches", result.FailedBatches))
	}
	printSyncSummary(cmd.OutOrStdout(), result, dryRun)
	return nil
}
