package extractor

import (
	"context"
	"net/url"
	"regexp"

	"listingsync/htmlparse"
	"listingsync/models"
)

var ebayItemRegex = regexp.MustCompile(`^/itm/(?:[^/]+/)?(\d{9,15})`)

type Ebay struct {
	fetcher Fetcher
}

func NewEbay(f Fetcher) *Ebay {
	return &Ebay{fetcher: f}
}

func (e *Ebay) Name() string {
	return "ebay"
}

func (e *Ebay) CanHandle(u *url.URL) bool {
	return hostIs(u.Hostname(), "ebay.com", "ebay.co.uk", "ebay.de", "ebay.ca", "ebay.com.au", "ebay.fr", "ebay.it", "ebay.es") &&
		ebayItemRegex.MatchString(u.Path)
}

func (e *Ebay) Extract(ctx context.Context, u *url.URL) (*models.NormalizedProduct, error) {
	page, base, err := fetchPage(ctx, e.fetcher, u)
	if err != nil {
		return nil, err
	}

	p := newProduct(e.Name(), u)
	if m := ebayItemRegex.FindStringSubmatch(u.Path); m != nil {
		id := m[1]
		p.ExternalID = &id
	}

	setText(&p.Title, firstText(page, "h1.x-item-title__mainTitle span", "h1.x-item-title__mainTitle", "#itemTitle"))

	if amount, currency := htmlparse.ParsePrice(page.Attr(`[itemprop="price"]`, "content")); amount != nil {
		p.Price.Amount = amount
		p.Price.Currency = currency
		setText(&p.Price.Currency, page.Attr(`[itemprop="priceCurrency"]`, "content"))
	} else {
		p.Price.Amount, p.Price.Currency = firstPrice(page,
			".x-price-primary span.ux-textspans",
			".x-price-primary",
			"#prcIsum",
			"#mm-saleDscPrc",
		)
	}

	p.Images = htmlparse.AbsoluteURLs(base, append(
		attrs(page, ".ux-image-carousel-item img", "data-zoom-src"),
		attrs(page, ".ux-image-carousel-item img", "src")...,
	))
	p.CategoryPath = htmlparse.Dedupe(page.Texts("nav.breadcrumbs li a span, .seo-breadcrumb-text span"))
	setText(&p.Seller, firstText(page, ".x-sellercard-atf__info__about-seller a span", ".ux-seller-section__item--seller a span"))
	setText(&p.Brand, page.Text(`.ux-labels-values--brand .ux-labels-values__values span`))
	if p.Availability == models.AvailabilityUnknown {
		if page.Text(".d-quantity__availability") != "" || page.Text("#qtySubTxt") != "" {
			p.Availability = models.AvailabilityInStock
		}
		if page.Text(".d-statusmessage") != "" {
			p.Availability = models.AvailabilityOutOfStock
		}
	}

	applyStructured(page, base, p)
	return p, nil
}
