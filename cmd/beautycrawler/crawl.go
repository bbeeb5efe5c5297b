package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aluiziolira/go-scrape-beauty/config"
	"github.com/aluiziolira/go-scrape-beauty/pipeline"
	"github.com/aluiziolira/go-scrape-beauty/scraper"
	"github.com/aluiziolira/go-scrape-beauty/store"
	"github.com/aluiziolira/go-scrape-beauty/store/memory"
	"github.com/aluiziolira/go-scrape-beauty/store/postgres"
)

func newCrawlCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl every configured category and upsert products",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts, dryRun)
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&dryRun, "dry-run", false, "keep records in memory instead of Postgres")
	flags.StringSlice("categories", defaults.Crawler.Categories, "category slugs to crawl")
	flags.Int("pages", defaults.Crawler.MaxPages, "maximum listing pages per category")
	flags.Int("parallel", defaults.Crawler.Parallelism, "number of concurrent requests")
	flags.String("snapshot", "", "also write every persisted record to this file")
	flags.String("snapshot-format", defaults.Snapshot.Format, "snapshot format: json or csv")
	flags.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	bindFlags(opts.v, cmd, map[string]string{
		"categories":      "crawler.categories",
		"pages":           "crawler.max_pages",
		"parallel":        "crawler.parallelism",
		"snapshot":        "snapshot.file",
		"snapshot-format": "snapshot.format",
		"metrics-addr":    "metrics.addr",
	})
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *rootOptions, dryRun bool) error {
	ctx := cmd.Context()

	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	if err := cfg.ValidateCrawl(dryRun); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger = logger.With(zap.String("run_id", uuid.NewString()))

	products, err := openProductStore(ctx, cfg, dryRun, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := products.Close(); err != nil {
			logger.Error("close store", zap.Error(err))
		}
	}()

	var sink pipeline.Sink = products
	var snapshot pipeline.Sink
	if cfg.Snapshot.File != "" {
		snapshot, err = pipeline.NewSnapshotWriter(cfg.Snapshot)
		if err != nil {
			return fmt.Errorf("open snapshot: %w", err)
		}
		defer func() {
			if err := snapshot.Close(); err != nil {
				logger.Error("close snapshot", zap.Error(err))
			}
		}()
		sink = pipeline.NewFanoutSink(products, snapshot)
	}

	s, err := scraper.NewScraper(cfg.Crawler, logger)
	if err != nil {
		return fmt.Errorf("initialise scraper: %w", err)
	}
	p := pipeline.NewPipeline(sink, cfg.Pipeline, logger)
	s.Metrics.Registry.MustRegister(p.Collectors()...)

	metricsServer := startMetricsServer(cfg.Metrics.Addr, s.Metrics.Registry, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	logger.Info("starting crawl",
		zap.Strings("categories", cfg.Crawler.Categories),
		zap.Int("pages", cfg.Crawler.MaxPages),
		zap.Int("parallel", cfg.Crawler.Parallelism),
		zap.Bool("dry_run", dryRun),
	)

	p.Start(ctx)
	if opts.verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	result, err := s.Run(ctx, p, cfg.Crawler.Categories)
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	if err := p.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown: %w", err)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", zap.Error(err))
		}
		cancel()
	}

	stored, err := products.Count(context.WithoutCancel(ctx))
	if err != nil {
		logger.Warn("count stored products", zap.Error(err))
		stored = -1
	}
	printCrawlSummary(cmd.OutOrStdout(), result, p.Stats(), stored, cfg.Snapshot.File)
	return nil
}

func openProductStore(ctx context.Context, cfg *config.Config, dryRun bool, logger *zap.Logger) (store.ProductStore, error) {
	if dryRun {
		logger.Info("dry run: records are kept in memory")
		return memory.NewProductStore(), nil
	}
	ps, err := postgres.NewProductStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open product store: %w", err)
	}
	return ps, nil
}

func startMetricsServer(addr string, registry *prometheus.Registry, logger *zap.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("metrics server enabled", zap.String("addr", addr))
	return server
}
