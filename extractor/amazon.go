package extractor

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"listingsync/htmlparse"
	"listingsync/models"
)

var (
	amazonHostRegex   = regexp.MustCompile(`(^|\.)amazon\.[a-z]{2,3}(\.[a-z]{2})?$`)
	amazonASINRegex   = regexp.MustCompile(`/(?:dp|gp/product|gp/aw/d)/([A-Z0-9]{10})(?:[/?]|$)`)
	amazonRatingRegex = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s+out of\s+5`)
	amazonCountRegex  = regexp.MustCompile(`[\d.,]+`)
)

// Amazon reads product detail pages (/dp/<ASIN>) on any Amazon storefront.
type Amazon struct {
	fetcher Fetcher
}

func NewAmazon(f Fetcher) *Amazon {
	return &Amazon{fetcher: f}
}

func (a *Amazon) Name() string {
	return "amazon"
}

func (a *Amazon) CanHandle(u *url.URL) bool {
	return amazonHostRegex.MatchString(strings.ToLower(u.Hostname())) && amazonASINRegex.MatchString(u.Path)
}

func (a *Amazon) Extract(ctx context.Context, u *url.URL) (*models.NormalizedProduct, error) {
	page, base, err := fetchPage(ctx, a.fetcher, u)
	if err != nil {
		return nil, err
	}

	p := newProduct(a.Name(), u)
	if m := amazonASINRegex.FindStringSubmatch(u.Path); m != nil {
		asin := m[1]
		p.ExternalID = &asin
	}

	setText(&p.Title, page.Text("#productTitle"))
	p.Price.Amount, p.Price.Currency = firstPrice(page,
		".priceToPay .a-offscreen",
		"#corePriceDisplay_desktop_feature_div .a-price .a-offscreen",
		"#corePrice_feature_div .a-price .a-offscreen",
		"#priceblock_dealprice",
		"#priceblock_ourprice",
		".a-price .a-offscreen",
	)

	if bullets := page.Texts("#feature-bullets li span.a-list-item"); len(bullets) > 0 {
		d := strings.Join(bullets, "\n")
		p.Description = &d
	} else {
		setText(&p.Description, htmlparse.StripHTML(page.Text("#productDescription")))
	}

	if brand := page.Text("#bylineInfo"); brand != "" {
		brand = strings.TrimPrefix(brand, "Visit the ")
		brand = strings.TrimSuffix(brand, " Store")
		brand = strings.TrimPrefix(brand, "Brand: ")
		setText(&p.Brand, brand)
	}
	setText(&p.Seller, firstText(page, "#sellerProfileTriggerId", "#merchant-info a"))

	p.Images = htmlparse.AbsoluteURLs(base, amazonImages(page))
	p.CategoryPath = htmlparse.Dedupe(page.Texts("#wayfinding-breadcrumbs_feature_div ul li a"))

	if m := amazonRatingRegex.FindStringSubmatch(page.Attr("#acrPopover", "title")); m != nil {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64); err == nil {
			p.Rating = &v
		}
	}
	if m := amazonCountRegex.FindString(page.Text("#acrCustomerReviewText")); m != "" {
		if n, err := strconv.Atoi(strings.NewReplacer(",", "", ".", "").Replace(m)); err == nil {
			p.ReviewCount = &n
		}
	}
	p.Availability = availabilityOf(page.Text("#availability"))

	applyStructured(page, base, p)
	return p, nil
}

// amazonImages prefers the hi-res landing image, then the keys of the
// dynamic-image map, then the thumbnail strip.
func amazonImages(page *htmlparse.Page) []string {
	var out []string
	if hires := page.Attr("#landingImage", "data-old-hires"); hires != "" {
		out = append(out, hires)
	}
	if dyn := page.Attr("#landingImage", "data-a-dynamic-image"); dyn != "" {
		var m map[string]json.RawMessage
		if json.Unmarshal([]byte(dyn), &m) == nil {
			srcs := make([]string, 0, len(m))
			for src := range m {
				srcs = append(srcs, src)
			}
			sort.Strings(srcs)
			out = append(out, srcs...)
		}
	}
	if len(out) == 0 {
		if src := page.Attr("#landingImage", "src"); src != "" {
			out = append(out, src)
		}
	}
	out = append(out, attrs(page, "#altImages img", "src")...)
	return out
}
