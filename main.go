package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"listingsync/cache"
	"listingsync/config"
	"listingsync/etsyapi"
	"listingsync/events"
	"listingsync/extractor"
	"listingsync/httputil"
	"listingsync/logging"
	"listingsync/metrics"
	"listingsync/provider"
	"listingsync/scheduler"
	"listingsync/scraper"
	"listingsync/services"
	"listingsync/storage"
	"listingsync/workers"
)

var (
	acquireURL = flag.String("acquire", "", "Acquire one listing URL, print it as JSON and exit")
	extractURL = flag.String("extract", "", "Extract one product URL from any supported marketplace and exit")
	syncNow    = flag.Bool("sync", false, "Sync all marketplace accounts once and exit")
	accountID  = flag.String("account", "", "Sync one marketplace account once and exit")
	fullSync   = flag.Bool("full", false, "Walk every listing instead of only those modified since the last sync")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:    cfg.Log.Level,
		Encoding: cfg.Log.Encoding,
		File:     cfg.Log.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting listingsync", zap.String("mode", string(cfg.Mode)), zap.Int("marketplaces", len(cfg.Marketplaces)))

	m := metrics.New()
	clients, err := httputil.NewClients(cfg.Scraper)
	if err != nil {
		logger.Fatal("invalid scraper transport", zap.Error(err))
	}

	var archiver scraper.Archiver
	if cfg.S3.Enabled() {
		a, err := storage.NewS3Archiver(ctx, cfg.S3)
		if err != nil {
			logger.Fatal("failed to set up raw page archive", zap.Error(err))
		}
		archiver = a
		logger.Info("raw page archive enabled", zap.String("bucket", cfg.S3.Bucket))
	}

	acqProvider, err := provider.New(cfg, provider.Dependencies{
		APIClient: clients.API,
		Archiver:  archiver,
		Logger:    logger,
		Metrics:   m,
	})
	if err != nil {
		logger.Fatal("failed to build acquisition provider", zap.Error(err))
	}
	if c, ok := acqProvider.(io.Closer); ok {
		defer c.Close()
	}

	listingCache := cache.New(cfg.Cache.TTL)
	registry := extractor.Default(httputil.NewPageFetcher(clients.Scraping, cfg.Scraper.UserAgent), logger, m)
	acquisition := services.NewAcquisitionService(acqProvider, registry, listingCache, cfg.Marketplace("etsy"), logger, m)

	switch {
	case *acquireURL != "":
		listing, err := acquisition.AcquireListing(ctx, *acquireURL)
		if err != nil {
			logger.Fatal("acquisition failed", zap.String("url", *acquireURL), zap.Error(err))
		}
		printJSON(listing)
		return
	case *extractURL != "":
		product, err := acquisition.ExtractProduct(ctx, *extractURL)
		if err != nil {
			logger.Fatal("extraction failed", zap.String("url", *extractURL), zap.Error(err))
		}
		printJSON(product)
		return
	}

	store, err := storage.Open(ctx, cfg.Catalog)
	if err != nil {
		logger.Fatal("failed to open catalog store", zap.String("driver", cfg.Catalog.Driver), zap.Error(err))
	}
	defer store.Close()
	if cfg.Catalog.Driver == "postgres" {
		logger.Info("connected to catalog", zap.String("database", maskConnectionString(cfg.Catalog.DatabaseURL)))
	} else {
		logger.Info("catalog database", zap.String("path", cfg.Catalog.DBPath))
	}

	opts := services.SyncOptions{
		Incremental: cfg.Sync.Incremental && !*fullSync,
		PageSize:    cfg.Sync.PageSize,
	}
	syncSvc, closeEvents, syncErr := newSyncService(cfg, store, clients, logger, m)
	defer closeEvents()

	if *syncNow || *accountID != "" {
		if syncErr != nil {
			logger.Fatal("sync unavailable", zap.Error(syncErr))
		}
		if *accountID != "" {
			result, err := syncSvc.SyncAccount(ctx, *accountID, opts)
			if result != nil {
				printJSON(result)
			}
			if err != nil {
				logger.Fatal("account sync failed", zap.String("account", *accountID), zap.Error(err))
			}
			return
		}
		results, err := syncSvc.SyncAll(ctx, opts)
		if err != nil {
			logger.Fatal("sync failed", zap.Error(err))
		}
		printJSON(results)
		return
	}

	// Daemon mode
	sweeper := workers.NewCacheSweeper(listingCache, cfg.Cache.SweepInterval, logger)
	go sweeper.Run(ctx)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, m.Registry, logger); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	var sched *scheduler.Scheduler
	if syncErr != nil {
		logger.Warn("account sync disabled", zap.Error(syncErr))
	} else {
		sched = scheduler.New(cfg.Scheduler, syncSvc, opts, logger)
		sched.SetWorkers(sweeper)
		if err := sched.Start(ctx); err != nil {
			logger.Fatal("failed to start scheduler", zap.Error(err))
		}
	}

	logger.Info("daemon running")
	<-ctx.Done()

	logger.Info("shutting down")
	if sched != nil {
		sched.Stop()
	}
}

// newSyncService needs API credentials even in scrape mode; seller catalogs
// are only reachable through the official API.
func newSyncService(cfg *config.Config, store storage.CatalogStore, clients *httputil.Clients, logger *zap.Logger, m *metrics.Metrics) (*services.SyncService, func(), error) {
	noop := func() {}
	client, err := etsyapi.NewClient(cfg.Etsy, clients.API, logger)
	if err != nil {
		return nil, noop, err
	}

	syncOpts := []services.SyncServiceOption{
		services.WithInterval(cfg.Scheduler.Interval),
		services.WithConcurrency(cfg.Sync.Concurrency),
	}
	closer := noop
	if cfg.NATSURL != "" {
		pub, err := events.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Warn("sync events disabled", zap.Error(err))
		} else {
			syncOpts = append(syncOpts, services.WithPublisher(pub))
			closer = pub.Close
		}
	}
	return services.NewSyncService(store, client, logger, m, syncOpts...), closer, nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// maskConnectionString hides the password in a database URL for logging.
func maskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	return u.Redacted()
}
