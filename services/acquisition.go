// Package services wires providers, extractors, the cache and the catalog
// store into the operations callers use: listing acquisition, product
// extraction and account sync.
package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"listingsync/cache"
	"listingsync/config"
	"listingsync/metrics"
	"listingsync/models"
	"listingsync/provider"
	"listingsync/scraper"
)

// ProductExtractor resolves any supported product URL.
type ProductExtractor interface {
	Extract(ctx context.Context, rawURL string) (*models.NormalizedProduct, error)
}

// AcquisitionService answers listing lookups from the cache before going to
// the provider. Cached entries are replaced wholesale, never merged.
type AcquisitionService struct {
	provider  provider.Provider
	extractor ProductExtractor
	cache     *cache.ListingCache
	mc        *config.MarketplaceConfig
	ttl       time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewAcquisitionService(p provider.Provider, x ProductExtractor, c *cache.ListingCache, mc *config.MarketplaceConfig, logger *zap.Logger, m *metrics.Metrics) *AcquisitionService {
	if mc == nil {
		mc = config.DefaultEtsy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AcquisitionService{
		provider:  p,
		extractor: x,
		cache:     c,
		mc:        mc,
		logger:    logger,
		metrics:   m,
	}
}

// WithTTL overrides the cache's default TTL for acquired listings.
func (s *AcquisitionService) WithTTL(ttl time.Duration) *AcquisitionService {
	s.ttl = ttl
	return s
}

func (s *AcquisitionService) AcquireListing(ctx context.Context, rawURL string) (*models.NormalizedListing, error) {
	canonical, err := scraper.Canonicalize(rawURL, s.mc.AllowedHosts)
	if err != nil {
		return nil, err
	}

	if hit := s.lookup(canonical); hit != nil {
		s.metrics.CacheLookup(true)
		s.logger.Debug("listing cache hit", zap.String("url", canonical))
		return hit, nil
	}
	s.metrics.CacheLookup(false)

	listing, err := s.provider.GetListingByURL(ctx, canonical)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(listing, s.ttl)
	}
	return listing, nil
}

func (s *AcquisitionService) lookup(canonical string) *models.NormalizedListing {
	if s.cache == nil {
		return nil
	}
	if hit := s.cache.Get(canonical); hit != nil {
		return hit
	}
	if lc := scraper.ExtractListingContext(canonical); lc.ID != nil {
		return s.cache.Get(*lc.ID)
	}
	return nil
}

func (s *AcquisitionService) GetShop(ctx context.Context, rawURL string) (*models.ShopProfile, error) {
	return s.provider.GetShopByURL(ctx, rawURL)
}

// Search runs a discovery query and caches every listing it returns.
func (s *AcquisitionService) Search(ctx context.Context, q models.SearchQuery) ([]*models.NormalizedListing, error) {
	listings, err := s.provider.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		for _, l := range listings {
			s.cache.Set(l, s.ttl)
		}
	}
	return listings, nil
}

func (s *AcquisitionService) ExtractProduct(ctx context.Context, rawURL string) (*models.NormalizedProduct, error) {
	return s.extractor.Extract(ctx, rawURL)
}
