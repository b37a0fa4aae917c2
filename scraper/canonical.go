package scraper

import (
	"net/url"
	"regexp"
	"strings"

	"listingsync/acqerr"
	"listingsync/config"
)

var listingPathRegex = regexp.MustCompile(`^/listing/(\d+)(?:/([^/]+))?/?$`)

// ListingContext is what the URL alone says about a listing.
type ListingContext struct {
	ID   *string
	Slug *string
}

// Canonicalize validates the host against allowedHosts and strips query,
// fragment, credentials and trailing slashes. It is idempotent.
func Canonicalize(raw string, allowedHosts []string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", acqerr.InvalidURL("canonicalize", raw, err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", acqerr.InvalidURL("canonicalize", raw, "scheme must be http or https")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", acqerr.InvalidURL("canonicalize", raw, "missing host")
	}
	if !hostAllowed(host, allowedHosts) {
		return "", acqerr.InvalidURL("canonicalize", raw, "host not allowed")
	}

	if port := u.Port(); port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host = host + ":" + port
	}

	out := url.URL{
		Scheme: strings.ToLower(u.Scheme),
		Host:   host,
		Path:   strings.TrimRight(u.Path, "/"),
	}
	if out.Path == "" {
		out.Path = "/"
	}
	return out.String(), nil
}

func hostAllowed(host string, allowed []string) bool {
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

// ExtractListingContext pulls the numeric id and slug from a /listing/ URL.
func ExtractListingContext(raw string) ListingContext {
	u, err := url.Parse(raw)
	if err != nil {
		return ListingContext{}
	}
	m := listingPathRegex.FindStringSubmatch(u.Path)
	if m == nil {
		return ListingContext{}
	}
	lc := ListingContext{ID: &m[1]}
	if m[2] != "" {
		slug := m[2]
		lc.Slug = &slug
	}
	return lc
}

// BuildReferers returns the ordered referers to try for a listing: site root,
// the bare listing URL, a search derived from the slug, then the best-sellers
// category page.
func BuildReferers(canonicalURL string, lc ListingContext, mc *config.MarketplaceConfig) []string {
	root := mc.RootURL
	base := strings.TrimRight(root, "/")

	var refs []string
	add := func(s string) {
		if s == "" {
			return
		}
		for _, r := range refs {
			if r == s {
				return
			}
		}
		refs = append(refs, s)
	}

	add(root)
	if lc.ID != nil {
		add(base + "/listing/" + *lc.ID)
	} else {
		add(canonicalURL)
	}
	if lc.Slug != nil && mc.SearchURL != "" {
		query := strings.ReplaceAll(*lc.Slug, "-", " ")
		add(mc.SearchURL + "?q=" + url.PathEscape(query))
	}
	add(mc.BestSellersURL)
	return refs
}
