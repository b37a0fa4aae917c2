package extractor

import (
	"context"
	"net/url"

	"listingsync/htmlparse"
	"listingsync/models"
	"listingsync/scraper"
)

type Etsy struct {
	fetcher Fetcher
}

func NewEtsy(f Fetcher) *Etsy {
	return &Etsy{fetcher: f}
}

func (e *Etsy) Name() string {
	return "etsy"
}

func (e *Etsy) CanHandle(u *url.URL) bool {
	return hostIs(u.Hostname(), "etsy.com") && scraper.ExtractListingContext(u.String()).ID != nil
}

func (e *Etsy) Extract(ctx context.Context, u *url.URL) (*models.NormalizedProduct, error) {
	page, base, err := fetchPage(ctx, e.fetcher, u)
	if err != nil {
		return nil, err
	}

	p := newProduct(e.Name(), u)
	p.ExternalID = scraper.ExtractListingContext(u.String()).ID

	applyStructured(page, base, p)

	setText(&p.Title, firstText(page, `h1[data-buy-box-listing-title]`, `h1.wt-text-body-01`, "h1"))
	if p.Price.Amount == nil {
		p.Price.Amount, p.Price.Currency = firstPrice(page,
			`[data-buy-box-region="price"] p.wt-text-title-larger`,
			`[data-selector="price-only"]`,
			`p.wt-text-title-03`,
		)
	}
	setText(&p.Seller, firstText(page, `[data-shop-name]`, `a[href*="/shop/"] span`))
	if len(p.Images) == 0 {
		p.Images = htmlparse.AbsoluteURLs(base, attrs(page, `img[data-src-zoom-image]`, "data-src-zoom-image"))
	}
	if len(p.CategoryPath) == 0 {
		p.CategoryPath = htmlparse.Dedupe(page.Texts(`#wt-content-toggle-tags-read-more a, nav[aria-label="breadcrumb"] a`))
	}
	return p, nil
}

func attrs(page *htmlparse.Page, selector, attr string) []string {
	var out []string
	for _, n := range page.Document().Find(selector).Nodes {
		for _, a := range n.Attr {
			if a.Key == attr && a.Val != "" {
				out = append(out, a.Val)
			}
		}
	}
	return out
}
