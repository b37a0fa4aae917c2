package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"listingsync/acqerr"
	"listingsync/htmlparse"
	"listingsync/models"
)

var shopifyProductRegex = regexp.MustCompile(`^(?:/[a-z]{2}(?:-[a-z]{2})?)?(?:/collections/[^/]+)?/products/([^/.?]+)/?$`)

// Shopify reads any storefront's public product JSON
// (/products/<handle>.json) and falls back to the HTML page.
type Shopify struct {
	fetcher Fetcher
}

func NewShopify(f Fetcher) *Shopify {
	return &Shopify{fetcher: f}
}

func (s *Shopify) Name() string {
	return "shopify"
}

func (s *Shopify) CanHandle(u *url.URL) bool {
	return shopifyProductRegex.MatchString(u.Path)
}

type shopifyProductResponse struct {
	Product struct {
		ID          int64  `json:"id"`
		Title       string `json:"title"`
		BodyHTML    string `json:"body_html"`
		Vendor      string `json:"vendor"`
		ProductType string `json:"product_type"`
		Tags        string `json:"tags"`
		Variants    []struct {
			ID        int64  `json:"id"`
			Price     string `json:"price"`
			SKU       string `json:"sku"`
			Available *bool  `json:"available"`
		} `json:"variants"`
		Images []struct {
			Src string `json:"src"`
		} `json:"images"`
	} `json:"product"`
}

func (s *Shopify) Extract(ctx context.Context, u *url.URL) (*models.NormalizedProduct, error) {
	m := shopifyProductRegex.FindStringSubmatch(u.Path)
	if m == nil {
		return nil, acqerr.InvalidURL("shopify.Extract", u.String(), "not a product url")
	}
	handle := m[1]

	jsonURL := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/products/" + handle + ".json"}
	fetched, err := s.fetcher.Fetch(ctx, jsonURL.String())
	if err == nil {
		p, perr := s.fromJSON(u, fetched.Body, fetched.Header)
		if perr == nil {
			return p, nil
		}
		err = perr
	}
	if k := acqerr.KindOf(err); k == acqerr.KindBlocked || k == acqerr.KindFetchFailed {
		return nil, err
	}

	page, base, err := fetchPage(ctx, s.fetcher, u)
	if err != nil {
		return nil, err
	}
	p := newProduct(s.Name(), u)
	applyStructured(page, base, p)
	return p, nil
}

func (s *Shopify) fromJSON(u *url.URL, body []byte, header http.Header) (*models.NormalizedProduct, error) {
	var resp shopifyProductResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode shopify product: %w", err)
	}
	sp := resp.Product
	if sp.ID == 0 {
		return nil, fmt.Errorf("shopify product response has no product")
	}

	p := newProduct(s.Name(), u)
	id := strconv.FormatInt(sp.ID, 10)
	p.ExternalID = &id
	setText(&p.Title, htmlparse.CollapseSpace(sp.Title))
	setText(&p.Description, htmlparse.StripHTML(sp.BodyHTML))
	setText(&p.Brand, sp.Vendor)
	setText(&p.Seller, sp.Vendor)
	if sp.ProductType != "" {
		p.CategoryPath = []string{sp.ProductType}
	}

	base := &url.URL{Scheme: u.Scheme, Host: u.Host}
	srcs := make([]string, 0, len(sp.Images))
	for _, img := range sp.Images {
		srcs = append(srcs, img.Src)
	}
	p.Images = htmlparse.AbsoluteURLs(base, srcs)

	anyAvailable := false
	knownAvailability := false
	for _, v := range sp.Variants {
		if p.Price.Amount == nil {
			if f, err := strconv.ParseFloat(strings.TrimSpace(v.Price), 64); err == nil {
				p.Price.Amount = &f
			}
		}
		if v.Available != nil {
			knownAvailability = true
			anyAvailable = anyAvailable || *v.Available
		}
	}
	if knownAvailability {
		p.Availability = models.AvailabilityOutOfStock
		if anyAvailable {
			p.Availability = models.AvailabilityInStock
		}
	}

	for _, c := range (&http.Response{Header: header}).Cookies() {
		if c.Name == "cart_currency" && c.Value != "" {
			cur := strings.ToUpper(c.Value)
			p.Price.Currency = &cur
		}
	}

	p.Raw = body
	return p, nil
}
