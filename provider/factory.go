package provider

import (
	"net/http"

	"go.uber.org/zap"

	"listingsync/acqerr"
	"listingsync/config"
	"listingsync/etsyapi"
	"listingsync/httputil"
	"listingsync/metrics"
	"listingsync/scraper"
)

// Dependencies are the shared collaborators a provider is built from.
type Dependencies struct {
	APIClient *http.Client
	Archiver  scraper.Archiver
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Select is the strategy choice on its own: the bare scraper in scrape mode,
// Fallback(API, scrape) in api mode.
func Select(mode config.AcquisitionMode, api, scrape Provider, logger *zap.Logger, m *metrics.Metrics) (Provider, error) {
	switch mode {
	case config.ModeScrape, "":
		return scrape, nil
	case config.ModeAPI:
		return NewFallback(api, scrape, logger, m), nil
	default:
		return nil, acqerr.Configuration("provider", "unknown acquisition mode "+string(mode))
	}
}

// New builds the provider the rest of the system depends on. Configuration
// errors from the API client are returned to the operator rather than
// silently downgraded to scrape-only.
func New(cfg *config.Config, deps Dependencies) (Provider, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mc := cfg.Marketplace("etsy")

	transport, err := httputil.NewScrapingTransport(cfg.Scraper.ProxyURL)
	if err != nil {
		return nil, acqerr.Configuration("provider", "invalid PROXY_URL: "+err.Error())
	}

	var renderer scraper.PageRenderer
	if cfg.Scraper.BrowserFallback {
		renderer = scraper.NewBrowserRenderer(cfg.Scraper.UserAgent, cfg.Scraper.Timeout, logger)
	}

	engine, err := scraper.NewEngine(scraper.Options{
		Marketplace: mc,
		MinInterval: cfg.Scraper.MinInterval,
		Timeout:     cfg.Scraper.Timeout,
		UserAgent:   cfg.Scraper.UserAgent,
		Transport:   transport,
		Renderer:    renderer,
		Archiver:    deps.Archiver,
		Logger:      logger,
		Metrics:     deps.Metrics,
	})
	if err != nil {
		return nil, err
	}

	var api Provider
	if cfg.Mode == config.ModeAPI {
		client, err := etsyapi.NewClient(cfg.Etsy, deps.APIClient, logger)
		if err != nil {
			engine.Close()
			return nil, err
		}
		api = NewAPIProvider(client, mc, logger, deps.Metrics)
	}

	p, err := Select(cfg.Mode, api, engine, logger, deps.Metrics)
	if err != nil {
		engine.Close()
		return nil, err
	}
	logger.Info("acquisition provider ready", zap.String("mode", string(cfg.Mode)), zap.String("provider", p.Name()))
	return p, nil
}
