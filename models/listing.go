package models

import (
	"encoding/json"
	"time"
)

type Source string

const (
	SourceScrape Source = "scrape"
	SourceAPI    Source = "api"
)

// NormalizedListing is the canonical listing shape every provider produces.
// Fields the source did not carry stay nil or empty.
type NormalizedListing struct {
	ID           *string         `json:"id"`
	URL          string          `json:"url"`
	Title        *string         `json:"title"`
	Description  *string         `json:"description"`
	Price        Price           `json:"price"`
	Images       []string        `json:"images"`
	Tags         []string        `json:"tags"`
	Materials    []string        `json:"materials"`
	CategoryPath []string        `json:"category_path"`
	Shop         Shop            `json:"shop"`
	Reviews      Reviews         `json:"reviews"`
	Shipping     Shipping        `json:"shipping"`
	Raw          json.RawMessage `json:"raw,omitempty"`
	FetchedAt    time.Time       `json:"fetched_at"`
	Source       Source          `json:"source"`
}

type Price struct {
	Amount   *float64 `json:"amount"`
	Currency *string  `json:"currency"`
}

type Shop struct {
	ID       *string `json:"id"`
	Name     *string `json:"name"`
	URL      *string `json:"url"`
	Location *string `json:"location"`
}

type Reviews struct {
	Count  *int     `json:"count"`
	Rating *float64 `json:"rating"`
}

type Shipping struct {
	FreeShipping   *bool   `json:"free_shipping"`
	ShipsFrom      *string `json:"ships_from"`
	ProcessingTime *string `json:"processing_time"`
}

// NewListing returns a listing with empty, non-nil collections.
func NewListing(url string, source Source, fetchedAt time.Time) *NormalizedListing {
	return &NormalizedListing{
		URL:          url,
		Images:       []string{},
		Tags:         []string{},
		Materials:    []string{},
		CategoryPath: []string{},
		FetchedAt:    fetchedAt,
		Source:       source,
	}
}

// Clone returns a deep copy so callers never share pointers with a cached value.
func (l *NormalizedListing) Clone() *NormalizedListing {
	if l == nil {
		return nil
	}
	c := *l
	c.ID = cloneString(l.ID)
	c.Title = cloneString(l.Title)
	c.Description = cloneString(l.Description)
	c.Price = Price{Amount: cloneFloat(l.Price.Amount), Currency: cloneString(l.Price.Currency)}
	c.Images = cloneSlice(l.Images)
	c.Tags = cloneSlice(l.Tags)
	c.Materials = cloneSlice(l.Materials)
	c.CategoryPath = cloneSlice(l.CategoryPath)
	c.Shop = Shop{
		ID:       cloneString(l.Shop.ID),
		Name:     cloneString(l.Shop.Name),
		URL:      cloneString(l.Shop.URL),
		Location: cloneString(l.Shop.Location),
	}
	c.Reviews = Reviews{Count: cloneInt(l.Reviews.Count), Rating: cloneFloat(l.Reviews.Rating)}
	c.Shipping = Shipping{
		FreeShipping:   cloneBool(l.Shipping.FreeShipping),
		ShipsFrom:      cloneString(l.Shipping.ShipsFrom),
		ProcessingTime: cloneString(l.Shipping.ProcessingTime),
	}
	if l.Raw != nil {
		c.Raw = append(json.RawMessage(nil), l.Raw...)
	}
	return &c
}

// PopulatedFieldCount counts non-null, non-empty data fields.
func (l *NormalizedListing) PopulatedFieldCount() int {
	n := 0
	count := func(ok bool) {
		if ok {
			n++
		}
	}
	count(l.ID != nil)
	count(l.URL != "")
	count(l.Title != nil)
	count(l.Description != nil)
	count(l.Price.Amount != nil)
	count(l.Price.Currency != nil)
	count(len(l.Images) > 0)
	count(len(l.Tags) > 0)
	count(len(l.Materials) > 0)
	count(len(l.CategoryPath) > 0)
	count(l.Shop.ID != nil)
	count(l.Shop.Name != nil)
	count(l.Shop.URL != nil)
	count(l.Shop.Location != nil)
	count(l.Reviews.Count != nil)
	count(l.Reviews.Rating != nil)
	count(l.Shipping.FreeShipping != nil)
	count(l.Shipping.ShipsFrom != nil)
	count(l.Shipping.ProcessingTime != nil)
	return n
}

// ShopProfile describes a seller storefront.
type ShopProfile struct {
	ID           *string   `json:"id"`
	Name         *string   `json:"name"`
	URL          string    `json:"url"`
	Title        *string   `json:"title"`
	Location     *string   `json:"location"`
	ListingCount *int      `json:"listing_count"`
	SaleCount    *int      `json:"sale_count"`
	FetchedAt    time.Time `json:"fetched_at"`
	Source       Source    `json:"source"`
}

// PopulatedFieldCount counts the fields the source actually carried. URL is
// always set.
func (s *ShopProfile) PopulatedFieldCount() int {
	n := 1
	for _, set := range []bool{
		s.ID != nil, s.Name != nil, s.Title != nil, s.Location != nil,
		s.ListingCount != nil, s.SaleCount != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneBool(p *bool) *bool {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string{}, s...)
}

// StringPtr returns nil for blank input.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func IntPtr(i int) *int {
	return &i
}

func Float64Ptr(f float64) *float64 {
	return &f
}

func BoolPtr(b bool) *bool {
	return &b
}
