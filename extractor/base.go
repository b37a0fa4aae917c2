package extractor

import (
	"context"
	"net/url"
	"strings"
	"time"

	"listingsync/htmlparse"
	"listingsync/models"
)

// fetchPage fetches u and parses the body. The returned URL is the final one
// after redirects and is the base for relative links.
func fetchPage(ctx context.Context, f Fetcher, u *url.URL) (*htmlparse.Page, *url.URL, error) {
	fetched, err := f.Fetch(ctx, u.String())
	if err != nil {
		return nil, nil, err
	}
	page, err := htmlparse.Parse(fetched.Body)
	if err != nil {
		return nil, nil, err
	}
	base := u
	if fetched.FinalURL != "" {
		if fu, err := url.Parse(fetched.FinalURL); err == nil {
			base = fu
		}
	}
	return page, base, nil
}

// canonicalURL drops the query string; tracking parameters never identify a
// product on the marketplaces handled here.
func canonicalURL(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.Fragment = ""
	c.Path = strings.TrimRight(c.Path, "/")
	if c.Path == "" {
		c.Path = "/"
	}
	return c.String()
}

// applyStructured fills p from the page's schema.org Product block and then
// from og/meta tags. Fields already set are left alone.
func applyStructured(page *htmlparse.Page, base *url.URL, p *models.NormalizedProduct) {
	if pd := page.Product(); pd != nil {
		setPtr(&p.ExternalID, pd.SKU)
		setPtr(&p.Title, pd.Name)
		setPtr(&p.Description, pd.Description)
		setPtr(&p.Brand, pd.Brand)
		setPtr(&p.Seller, pd.SellerName)
		if p.Price.Amount == nil {
			p.Price.Amount = pd.Price
		}
		setPtr(&p.Price.Currency, pd.Currency)
		if p.Rating == nil {
			p.Rating = pd.RatingValue
		}
		if p.ReviewCount == nil {
			p.ReviewCount = pd.ReviewCount
		}
		if len(p.Images) == 0 {
			p.Images = htmlparse.AbsoluteURLs(base, pd.Images)
		}
		if len(p.CategoryPath) == 0 && len(pd.Category) > 0 {
			p.CategoryPath = pd.Category
		}
		if p.Availability == models.AvailabilityUnknown && pd.Availability != nil {
			p.Availability = availabilityOf(*pd.Availability)
		}
		if p.Raw == nil {
			p.Raw = pd.Raw
		}
	}

	setText(&p.Title, page.MetaValue("og:title", "twitter:title"))
	if p.Description == nil {
		if d := htmlparse.StripHTML(page.MetaValue("og:description", "description", "twitter:description")); d != "" {
			p.Description = &d
		}
	}
	if p.Price.Amount == nil {
		amount, currency := htmlparse.ParsePrice(page.MetaValue("product:price:amount", "og:price:amount", "price"))
		p.Price.Amount = amount
		setPtr(&p.Price.Currency, currency)
	}
	setText(&p.Price.Currency, strings.ToUpper(page.MetaValue("product:price:currency", "og:price:currency", "pricecurrency")))
	setText(&p.Brand, page.MetaValue("product:brand", "og:brand"))
	if len(p.Images) == 0 {
		p.Images = htmlparse.AbsoluteURLs(base, []string{page.MetaValue("og:image", "og:image:secure_url", "twitter:image")})
	}
	if len(p.CategoryPath) == 0 {
		p.CategoryPath = page.Breadcrumbs()
	}
	if p.Availability == models.AvailabilityUnknown {
		p.Availability = availabilityOf(page.MetaValue("product:availability", "og:availability"))
	}
}

// firstPrice tries selectors in order and parses the first text that yields
// an amount.
func firstPrice(page *htmlparse.Page, selectors ...string) (*float64, *string) {
	for _, sel := range selectors {
		text := page.Text(sel)
		if text == "" {
			text = page.Attr(sel, "content")
		}
		if amount, currency := htmlparse.ParsePrice(text); amount != nil {
			return amount, currency
		}
	}
	return nil, nil
}

func firstText(page *htmlparse.Page, selectors ...string) string {
	for _, sel := range selectors {
		if t := page.Text(sel); t != "" {
			return t
		}
	}
	return ""
}

func availabilityOf(s string) models.Availability {
	s = strings.ToLower(strings.ReplaceAll(s, " ", ""))
	s = s[strings.LastIndex(s, "/")+1:]
	switch {
	case s == "":
		return models.AvailabilityUnknown
	case strings.Contains(s, "outofstock"), strings.Contains(s, "out_of_stock"),
		strings.Contains(s, "soldout"), strings.Contains(s, "unavailable"),
		strings.Contains(s, "discontinued"):
		return models.AvailabilityOutOfStock
	case strings.Contains(s, "instock"), strings.Contains(s, "in_stock"),
		strings.Contains(s, "available"), strings.Contains(s, "limitedavailability"):
		return models.AvailabilityInStock
	}
	return models.AvailabilityUnknown
}

func setPtr(dst **string, v *string) {
	if *dst == nil && v != nil && *v != "" {
		*dst = v
	}
}

func setText(dst **string, v string) {
	v = strings.TrimSpace(v)
	if *dst == nil && v != "" {
		*dst = &v
	}
}

func newProduct(marketplace string, u *url.URL) *models.NormalizedProduct {
	return models.NewProduct(marketplace, canonicalURL(u), time.Now())
}
