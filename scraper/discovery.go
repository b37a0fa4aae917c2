package scraper

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"listingsync/config"
)

var (
	listingHrefRegex = regexp.MustCompile(`/listing/(\d{5,})(?:/([A-Za-z0-9_-]+))?`)
	embeddedIDRegex  = regexp.MustCompile(`"listing_?[iI]d"\s*:\s*"?(\d{5,})`)
)

// discoverListingURLs collects up to limit listing URLs from a category page.
// Strategies run in priority order: anchor hrefs, data attributes, then IDs
// embedded in inline JSON.
func discoverListingURLs(doc *document, mc *config.MarketplaceConfig, limit int) []string {
	base := strings.TrimRight(mc.RootURL, "/")
	seen := make(map[string]bool)
	var out []string

	add := func(id, slug string) bool {
		if len(out) >= limit {
			return false
		}
		if seen[id] {
			return true
		}
		seen[id] = true
		u := base + "/listing/" + id
		if slug != "" {
			u += "/" + slug
		}
		out = append(out, u)
		return len(out) < limit
	}

	strategies := []func(add func(id, slug string) bool){
		func(add func(id, slug string) bool) {
			doc.Document().Find(`a[href*="/listing/"]`).EachWithBreak(func(i int, s *goquery.Selection) bool {
				href, _ := s.Attr("href")
				m := listingHrefRegex.FindStringSubmatch(href)
				if m == nil {
					return true
				}
				return add(m[1], m[2])
			})
		},
		func(add func(id, slug string) bool) {
			doc.Document().Find("[data-listing-id]").EachWithBreak(func(i int, s *goquery.Selection) bool {
				id, _ := s.Attr("data-listing-id")
				id = strings.TrimSpace(id)
				if id == "" || strings.Trim(id, "0123456789") != "" {
					return true
				}
				return add(id, "")
			})
		},
		func(add func(id, slug string) bool) {
			for _, m := range embeddedIDRegex.FindAllStringSubmatch(string(doc.raw), -1) {
				if !add(m[1], "") {
					return
				}
			}
		},
	}

	for _, strategy := range strategies {
		if len(out) >= limit {
			break
		}
		strategy(add)
	}
	return out
}
