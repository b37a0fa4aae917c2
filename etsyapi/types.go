package etsyapi

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"listingsync/htmlparse"
	"listingsync/models"
)

// Money is Etsy's integer amount with a divisor.
type Money struct {
	Amount       int64  `json:"amount"`
	Divisor      int64  `json:"divisor"`
	CurrencyCode string `json:"currency_code"`
}

func (m *Money) Value() *float64 {
	if m == nil || m.Divisor == 0 {
		return nil
	}
	v := float64(m.Amount) / float64(m.Divisor)
	return &v
}

type Image struct {
	ListingImageID int64  `json:"listing_image_id"`
	Rank           int    `json:"rank"`
	URLFull        string `json:"url_fullxfull"`
	URL570         string `json:"url_570xN"`
}

type Shop struct {
	ShopID           int64    `json:"shop_id"`
	ShopName         string   `json:"shop_name"`
	Title            *string  `json:"title"`
	URL              string   `json:"url"`
	Location         *string  `json:"location"`
	ListingActiveCnt *int     `json:"listing_active_count"`
	TransactionCount *int     `json:"transaction_sold_count"`
	ReviewCount      *int     `json:"review_count"`
	ReviewAverage    *float64 `json:"review_average"`
}

type ShippingProfile struct {
	OriginCountryISO  string `json:"origin_country_iso"`
	MinProcessingDays *int   `json:"min_processing_days"`
	MaxProcessingDays *int   `json:"max_processing_days"`
}

// Listing is the v3 listing resource, limited to the fields we read.
type Listing struct {
	ListingID             int64            `json:"listing_id"`
	ShopID                int64            `json:"shop_id"`
	Title                 string           `json:"title"`
	Description           string           `json:"description"`
	State                 string           `json:"state"`
	URL                   string           `json:"url"`
	Quantity              *int             `json:"quantity"`
	Views                 *int             `json:"views"`
	NumFavorers           *int             `json:"num_favorers"`
	Tags                  []string         `json:"tags"`
	Materials             []string         `json:"materials"`
	TaxonomyID            *int64           `json:"taxonomy_id"`
	Price                 *Money           `json:"price"`
	IsFreeShipping        *bool            `json:"is_free_shipping"`
	LastModifiedTimestamp int64            `json:"last_modified_timestamp"`
	CreatedTimestamp      int64            `json:"created_timestamp"`
	Images                []Image          `json:"images"`
	Shop                  *Shop            `json:"shop"`
	ShippingProfile       *ShippingProfile `json:"shipping_profile"`
	Raw                   json.RawMessage  `json:"-"`
}

func (l *Listing) ExternalID() string {
	return strconv.FormatInt(l.ListingID, 10)
}

func (l *Listing) LastModified() *time.Time {
	if l.LastModifiedTimestamp == 0 {
		return nil
	}
	t := time.Unix(l.LastModifiedTimestamp, 0).UTC()
	return &t
}

func (l *Listing) ImageURLs() []string {
	urls := make([]string, 0, len(l.Images))
	for _, img := range l.Images {
		if img.URLFull != "" {
			urls = append(urls, img.URLFull)
		} else if img.URL570 != "" {
			urls = append(urls, img.URL570)
		}
	}
	return htmlparse.Dedupe(urls)
}

// CanonicalURL drops the tracking query Etsy appends to listing URLs.
func (l *Listing) CanonicalURL() string {
	u := l.URL
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.TrimRight(u, "/")
}

// Normalize maps the API resource onto the canonical listing.
func (l *Listing) Normalize(fetchedAt time.Time) *models.NormalizedListing {
	n := models.NewListing(l.CanonicalURL(), models.SourceAPI, fetchedAt)
	id := l.ExternalID()
	n.ID = &id
	n.Title = models.StringPtr(htmlparse.CollapseSpace(l.Title))
	n.Description = models.StringPtr(htmlparse.StripHTML(l.Description))
	n.Price.Amount = l.Price.Value()
	if l.Price != nil {
		n.Price.Currency = models.StringPtr(strings.ToUpper(l.Price.CurrencyCode))
	}
	n.Images = l.ImageURLs()
	n.Tags = htmlparse.NormalizeTags(l.Tags)
	n.Materials = htmlparse.Dedupe(l.Materials)

	if l.Shop != nil {
		n.Shop.ID = models.StringPtr(strconv.FormatInt(l.Shop.ShopID, 10))
		n.Shop.Name = models.StringPtr(l.Shop.ShopName)
		n.Shop.URL = models.StringPtr(l.Shop.URL)
		n.Shop.Location = l.Shop.Location
		n.Reviews.Count = l.Shop.ReviewCount
		n.Reviews.Rating = l.Shop.ReviewAverage
	} else if l.ShopID != 0 {
		n.Shop.ID = models.StringPtr(strconv.FormatInt(l.ShopID, 10))
	}

	n.Shipping.FreeShipping = l.IsFreeShipping
	if sp := l.ShippingProfile; sp != nil {
		n.Shipping.ShipsFrom = models.StringPtr(sp.OriginCountryISO)
		n.Shipping.ProcessingTime = models.StringPtr(processingRange(sp.MinProcessingDays, sp.MaxProcessingDays))
	}

	if len(l.Raw) > 0 {
		n.Raw = l.Raw
	}
	return n
}

// ToCatalog maps the listing onto a catalog row for accountID.
func (l *Listing) ToCatalog(accountID string) *models.CatalogListing {
	c := &models.CatalogListing{
		AccountID:      accountID,
		ExternalID:     l.ExternalID(),
		Title:          htmlparse.CollapseSpace(l.Title),
		Description:    models.StringPtr(htmlparse.StripHTML(l.Description)),
		State:          l.State,
		URL:            l.CanonicalURL(),
		PriceAmount:    l.Price.Value(),
		Quantity:       l.Quantity,
		Materials:      htmlparse.Dedupe(l.Materials),
		TaxonomyID:     l.TaxonomyID,
		ImageURLs:      l.ImageURLs(),
		Tags:           htmlparse.NormalizeTags(l.Tags),
		Views:          l.Views,
		Favorites:      l.NumFavorers,
		LastModifiedAt: l.LastModified(),
		Details:        l.Raw,
	}
	if l.Price != nil {
		c.PriceCurrency = models.StringPtr(strings.ToUpper(l.Price.CurrencyCode))
	}
	return c
}

func (s *Shop) Profile(fetchedAt time.Time) *models.ShopProfile {
	return &models.ShopProfile{
		ID:           models.StringPtr(strconv.FormatInt(s.ShopID, 10)),
		Name:         models.StringPtr(s.ShopName),
		URL:          strings.TrimRight(strings.SplitN(s.URL, "?", 2)[0], "/"),
		Title:        s.Title,
		Location:     s.Location,
		ListingCount: s.ListingActiveCnt,
		SaleCount:    s.TransactionCount,
		FetchedAt:    fetchedAt,
		Source:       models.SourceAPI,
	}
}

func processingRange(lo, hi *int) string {
	switch {
	case lo != nil && hi != nil && *lo != *hi:
		return strconv.Itoa(*lo) + "-" + strconv.Itoa(*hi) + " days"
	case hi != nil:
		return strconv.Itoa(*hi) + " days"
	case lo != nil:
		return strconv.Itoa(*lo) + " days"
	}
	return ""
}

type listingsResponse struct {
	Count   int               `json:"count"`
	Results []json.RawMessage `json:"results"`
}

type shopsResponse struct {
	Count   int    `json:"count"`
	Results []Shop `json:"results"`
}
