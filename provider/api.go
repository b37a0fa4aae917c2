package provider

import (
	"context"
	"time"

	"go.uber.org/zap"

	"listingsync/acqerr"
	"listingsync/config"
	"listingsync/etsyapi"
	"listingsync/logging"
	"listingsync/metrics"
	"listingsync/models"
	"listingsync/scraper"
)

// ListingAPI is the part of the official API client the provider reads through.
type ListingAPI interface {
	GetListing(ctx context.Context, listingID string) (*etsyapi.Listing, error)
	FindShop(ctx context.Context, name string) (*etsyapi.Shop, error)
	FindActiveListings(ctx context.Context, keywords string, limit int) ([]*etsyapi.Listing, error)
}

// APIProvider serves acquisitions from the marketplace's official API.
type APIProvider struct {
	api     ListingAPI
	mc      *config.MarketplaceConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewAPIProvider(api ListingAPI, mc *config.MarketplaceConfig, logger *zap.Logger, m *metrics.Metrics) *APIProvider {
	if mc == nil {
		mc = config.DefaultEtsy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIProvider{
		api:     api,
		mc:      mc,
		logger:  logger.With(zap.String("provider", "api"), zap.String("marketplace", mc.ID)),
		metrics: m,
		now:     time.Now,
	}
}

func (p *APIProvider) Name() string {
	return "api"
}

func (p *APIProvider) GetListingByURL(ctx context.Context, rawURL string) (listing *models.NormalizedListing, err error) {
	started := time.Now()
	target := rawURL
	defer func() {
		fields := 0
		if listing != nil {
			fields = listing.PopulatedFieldCount()
		}
		p.observe("get_listing", target, started, fields, err)
	}()

	canonical, err := scraper.Canonicalize(rawURL, p.mc.AllowedHosts)
	if err != nil {
		return nil, err
	}
	target = canonical
	lc := scraper.ExtractListingContext(target)
	if lc.ID == nil {
		return nil, acqerr.InvalidURL("get_listing", target, "not a listing url")
	}

	l, err := p.api.GetListing(ctx, *lc.ID)
	if err != nil {
		return nil, err
	}
	listing = l.Normalize(p.now())
	if listing.URL == "" {
		listing.URL = target
	}
	return listing, nil
}

func (p *APIProvider) GetShopByURL(ctx context.Context, rawURL string) (shop *models.ShopProfile, err error) {
	started := time.Now()
	target := rawURL
	defer func() {
		fields := 0
		if shop != nil {
			fields = shop.PopulatedFieldCount()
		}
		p.observe("get_shop", target, started, fields, err)
	}()

	canonical, err := scraper.Canonicalize(rawURL, p.mc.AllowedHosts)
	if err != nil {
		return nil, err
	}
	target = canonical
	name := scraper.ShopNameFromURL(target)
	if name == "" {
		return nil, acqerr.InvalidURL("get_shop", target, "not a shop url")
	}

	s, err := p.api.FindShop(ctx, name)
	if err != nil {
		return nil, err
	}
	shop = s.Profile(p.now())
	if shop.URL == "" {
		shop.URL = target
	}
	return shop, nil
}

// Search ranks active listings by relevance. Best-sellers has no API
// equivalent, so it is served as an unfiltered relevance query.
func (p *APIProvider) Search(ctx context.Context, q models.SearchQuery) (results []*models.NormalizedListing, err error) {
	q = q.Normalized()
	started := time.Now()
	defer func() {
		p.observe("search", string(q.Strategy), started, len(results), err)
	}()

	keywords := ""
	switch q.Strategy {
	case models.StrategyBestSellers:
	case models.StrategyKeyword:
		if q.Keywords == "" {
			return nil, acqerr.InvalidURL("search", "", "keyword search needs keywords")
		}
		keywords = q.Keywords
	default:
		return nil, acqerr.InvalidURL("search", "", "unknown strategy "+string(q.Strategy))
	}

	listings, err := p.api.FindActiveListings(ctx, keywords, q.Limit)
	if err != nil {
		return nil, err
	}
	now := p.now()
	results = make([]*models.NormalizedListing, 0, len(listings))
	for _, l := range listings {
		results = append(results, l.Normalize(now))
	}
	return results, nil
}

func (p *APIProvider) observe(method, target string, started time.Time, populated int, err error) {
	d := time.Since(started)
	status := acqerr.AttemptStatus(err)

	var fields []zap.Field
	if err == nil {
		fields = append(fields, zap.Int("fields_populated", populated), zap.String("source", string(models.SourceAPI)))
	} else {
		fields = append(fields, zap.String("error_kind", acqerr.KindOf(err).String()), zap.Error(err))
	}
	logging.Attempt(p.logger, method, target, d, status, fields...)
	p.metrics.ObserveAcquisition(method, status, d)
}
