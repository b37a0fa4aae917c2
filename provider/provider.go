// Package provider defines the listing acquisition contract and the
// strategies behind it: the scraping engine, the official API and a fallback
// chain composing the two.
package provider

import (
	"context"

	"listingsync/models"
	"listingsync/scraper"
)

// Provider retrieves listings, shops and search results for one marketplace.
type Provider interface {
	Name() string
	GetListingByURL(ctx context.Context, rawURL string) (*models.NormalizedListing, error)
	GetShopByURL(ctx context.Context, rawURL string) (*models.ShopProfile, error)
	Search(ctx context.Context, q models.SearchQuery) ([]*models.NormalizedListing, error)
}

var (
	_ Provider = (*scraper.Engine)(nil)
	_ Provider = (*APIProvider)(nil)
	_ Provider = (*FallbackProvider)(nil)
)
