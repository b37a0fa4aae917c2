package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AccountStatus string

const (
	AccountStatusActive  AccountStatus = "active"
	AccountStatusRevoked AccountStatus = "revoked"
)

// MarketplaceAccount is a seller's linked marketplace account.
type MarketplaceAccount struct {
	ID             string        `json:"id" db:"id"`
	UserID         string        `json:"user_id" db:"user_id"`
	ProviderID     string        `json:"provider_id" db:"provider_id"`
	ExternalShopID string        `json:"external_shop_id" db:"external_shop_id"`
	AccessToken    string        `json:"-" db:"access_token"`
	RefreshToken   string        `json:"-" db:"refresh_token"`
	TokenExpiresAt *time.Time    `json:"token_expires_at" db:"token_expires_at"`
	Scopes         []string      `json:"scopes" db:"scopes"`
	Status         AccountStatus `json:"status" db:"status"`
	LastSyncedAt   *time.Time    `json:"last_synced_at" db:"last_synced_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
}

// TokenExpiresWithin reports whether the access token is missing an expiry
// or expires before now+margin.
func (a *MarketplaceAccount) TokenExpiresWithin(now time.Time, margin time.Duration) bool {
	if a.TokenExpiresAt == nil {
		return true
	}
	return !a.TokenExpiresAt.After(now.Add(margin))
}

// TokenPair is the result of a refresh-token exchange.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CatalogListing is one row of the listings table.
type CatalogListing struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	AccountID      string          `json:"account_id" db:"account_id"`
	ExternalID     string          `json:"external_id" db:"external_id"`
	Title          string          `json:"title" db:"title"`
	Description    *string         `json:"description" db:"description"`
	State          string          `json:"state" db:"state"`
	URL            string          `json:"url" db:"url"`
	PriceAmount    *float64        `json:"price_amount" db:"price_amount"`
	PriceCurrency  *string         `json:"price_currency" db:"price_currency"`
	Quantity       *int            `json:"quantity" db:"quantity"`
	Materials      []string        `json:"materials" db:"materials"`
	TaxonomyID     *int64          `json:"taxonomy_id" db:"taxonomy_id"`
	ImageURLs      []string        `json:"image_urls" db:"image_urls"`
	Tags           []string        `json:"tags" db:"-"`
	Views          *int            `json:"views" db:"-"`
	Favorites      *int            `json:"favorites" db:"-"`
	Fingerprint    string          `json:"fingerprint" db:"fingerprint"`
	LastModifiedAt *time.Time      `json:"last_modified_at" db:"last_modified_at"`
	Details        json.RawMessage `json:"details,omitempty" db:"-"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// ListingStat is one daily counters row keyed by (listing, day).
type ListingStat struct {
	ListingID uuid.UUID `json:"listing_id" db:"listing_id"`
	Day       time.Time `json:"day" db:"day"`
	Views     int       `json:"views" db:"views"`
	Favorites int       `json:"favorites" db:"favorites"`
}
