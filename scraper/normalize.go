package scraper

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"listingsync/config"
	"listingsync/htmlparse"
	"listingsync/models"
)

var (
	shopPathRegex  = regexp.MustCompile(`^/shop/([A-Za-z0-9_-]+)`)
	shopSalesRegex = regexp.MustCompile(`(?i)([\d,.]+)\s*(k)?\s+sales`)
)

// normalizeListing maps structured data first and meta tags second onto a
// listing. Missing fields stay nil.
func normalizeListing(doc *document, canonicalURL string, lc ListingContext, mc *config.MarketplaceConfig, now time.Time) *models.NormalizedListing {
	l := models.NewListing(canonicalURL, models.SourceScrape, now)
	base, _ := url.Parse(doc.finalURL)
	page := doc.Page

	product := page.Product()
	if product == nil {
		product = &htmlparse.ProductData{}
	}

	l.ID = lc.ID
	if l.ID == nil {
		l.ID = product.SKU
	}

	l.Title = product.Name
	if l.Title == nil {
		l.Title = models.StringPtr(htmlparse.CollapseSpace(page.MetaValue("og:title", "twitter:title")))
	}
	if l.Title == nil && page.Title != "" {
		l.Title = models.StringPtr(strings.TrimSuffix(page.Title, " - "+mc.Name))
	}

	l.Description = product.Description
	if l.Description == nil {
		l.Description = models.StringPtr(htmlparse.StripHTML(page.MetaValue("og:description", "description", "twitter:description")))
	}

	l.Price.Amount, l.Price.Currency = product.Price, product.Currency
	if l.Price.Amount == nil {
		amount, currency := htmlparse.ParsePrice(page.MetaValue("product:price:amount", "og:price:amount"))
		l.Price.Amount = amount
		if l.Price.Currency == nil {
			l.Price.Currency = currency
		}
	}
	if l.Price.Currency == nil {
		l.Price.Currency = models.StringPtr(strings.ToUpper(page.MetaValue("product:price:currency", "og:price:currency")))
	}

	images := append([]string{}, product.Images...)
	images = append(images, page.MetaValue("og:image"))
	l.Images = htmlparse.AbsoluteURLs(base, images)

	tags := append([]string{}, product.Keywords...)
	if kw := page.MetaValue("keywords"); kw != "" {
		tags = append(tags, strings.Split(kw, ",")...)
	}
	l.Tags = htmlparse.NormalizeTags(tags)

	l.Materials = htmlparse.Dedupe(product.Materials)
	l.CategoryPath = product.Category
	if len(l.CategoryPath) == 0 {
		l.CategoryPath = page.Breadcrumbs()
	}

	l.Shop.Name = product.SellerName
	if l.Shop.Name == nil {
		l.Shop.Name = product.Brand
	}
	if product.SellerURL != nil {
		if shopURL := htmlparse.AbsoluteURL(base, *product.SellerURL); shopURL != "" {
			l.Shop.URL = &shopURL
		}
	}
	if l.Shop.URL == nil && l.Shop.Name != nil {
		shopURL := strings.TrimRight(mc.RootURL, "/") + "/shop/" + url.PathEscape(*l.Shop.Name)
		l.Shop.URL = &shopURL
	}
	l.Shop.ID = models.StringPtr(page.MetaValue("etsy:shop_id", "shop_id"))
	l.Shop.Location = models.StringPtr(page.MetaValue("etsy:shop_location"))

	l.Reviews.Count = product.ReviewCount
	l.Reviews.Rating = product.RatingValue

	l.Shipping.FreeShipping = product.FreeShipping
	l.Shipping.ShipsFrom = product.ShipsFrom
	l.Shipping.ProcessingTime = product.HandlingTime

	if len(product.Raw) > 0 {
		l.Raw = product.Raw
	} else if len(page.Meta) > 0 {
		l.Raw, _ = json.Marshal(page.Meta)
	}

	return l
}

func normalizeShop(doc *document, canonicalURL, name string, now time.Time) *models.ShopProfile {
	page := doc.Page
	shop := &models.ShopProfile{
		Name:      models.StringPtr(name),
		URL:       canonicalURL,
		FetchedAt: now,
		Source:    models.SourceScrape,
	}

	if org := page.FindType("Organization", "Store", "LocalBusiness"); org != nil {
		if v, ok := org["name"].(string); ok && v != "" {
			shop.Name = models.StringPtr(strings.TrimSpace(v))
		}
		if v, ok := org["description"].(string); ok {
			shop.Title = models.StringPtr(htmlparse.StripHTML(v))
		}
		if addr, ok := org["address"].(map[string]interface{}); ok {
			parts := []string{}
			for _, k := range []string{"addressLocality", "addressRegion", "addressCountry"} {
				if v, ok := addr[k].(string); ok && strings.TrimSpace(v) != "" {
					parts = append(parts, strings.TrimSpace(v))
				}
			}
			shop.Location = models.StringPtr(strings.Join(parts, ", "))
		}
	}
	if shop.Title == nil {
		shop.Title = models.StringPtr(htmlparse.CollapseSpace(page.MetaValue("og:description", "description")))
	}
	shop.ID = models.StringPtr(page.MetaValue("etsy:shop_id", "shop_id"))
	if shop.Location == nil {
		shop.Location = models.StringPtr(page.MetaValue("etsy:shop_location"))
	}

	if m := shopSalesRegex.FindStringSubmatch(page.Document().Text()); m != nil {
		if n, ok := parseCount(m[1], m[2] != ""); ok {
			shop.SaleCount = &n
		}
	}
	return shop
}

func parseCount(s string, thousands bool) (int, bool) {
	s = strings.ReplaceAll(s, ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if thousands {
		f *= 1000
	}
	return int(f), true
}

// ShopNameFromURL returns the shop slug of a /shop/<name> URL, or "".
func ShopNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	m := shopPathRegex.FindStringSubmatch(u.Path)
	if m == nil {
		return ""
	}
	return m[1]
}
