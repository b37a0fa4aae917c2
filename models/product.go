package models

import (
	"encoding/json"
	"time"
)

type Availability string

const (
	AvailabilityInStock    Availability = "in_stock"
	AvailabilityOutOfStock Availability = "out_of_stock"
	AvailabilityUnknown    Availability = "unknown"
)

// NormalizedProduct is the marketplace-agnostic shape produced by extractors.
type NormalizedProduct struct {
	Marketplace  string          `json:"marketplace"`
	URL          string          `json:"url"`
	ExternalID   *string         `json:"external_id"`
	Title        *string         `json:"title"`
	Description  *string         `json:"description"`
	Price        Price           `json:"price"`
	Images       []string        `json:"images"`
	Brand        *string         `json:"brand"`
	CategoryPath []string        `json:"category_path"`
	Availability Availability    `json:"availability"`
	Rating       *float64        `json:"rating"`
	ReviewCount  *int            `json:"review_count"`
	Seller       *string         `json:"seller"`
	Raw          json.RawMessage `json:"raw,omitempty"`
	FetchedAt    time.Time       `json:"fetched_at"`
}

func NewProduct(marketplace, url string, fetchedAt time.Time) *NormalizedProduct {
	return &NormalizedProduct{
		Marketplace:  marketplace,
		URL:          url,
		Images:       []string{},
		CategoryPath: []string{},
		Availability: AvailabilityUnknown,
		FetchedAt:    fetchedAt,
	}
}

// IsEmpty reports whether the product carries none of title, description or price.
func (p *NormalizedProduct) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Price.Amount == nil
}
