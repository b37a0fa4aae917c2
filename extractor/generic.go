package extractor

import (
	"context"
	"net/url"

	"listingsync/acqerr"
	"listingsync/models"
)

// Generic reads schema.org Product blocks and og/meta tags from any page.
type Generic struct {
	fetcher Fetcher
}

func NewGeneric(f Fetcher) *Generic {
	return &Generic{fetcher: f}
}

func (g *Generic) Name() string {
	return "generic"
}

func (g *Generic) CanHandle(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}

func (g *Generic) Extract(ctx context.Context, u *url.URL) (*models.NormalizedProduct, error) {
	page, base, err := fetchPage(ctx, g.fetcher, u)
	if err != nil {
		return nil, err
	}
	p := newProduct(u.Hostname(), u)
	applyStructured(page, base, p)
	if p.IsEmpty() {
		return nil, acqerr.InsufficientData("generic.Extract", u.String())
	}
	return p, nil
}
