// Package storage persists the seller catalog (accounts, listings, tags,
// daily stats and sync checkpoints) and archives raw pages.
package storage

import (
	"context"
	"fmt"
	"time"

	"listingsync/config"
	"listingsync/models"
)

// PageCounts is what one UpsertListingPage call wrote.
type PageCounts struct {
	Listings  int
	Unchanged int
	Tags      int
	Stats     int
}

// CatalogStore is the catalog persistence the sync orchestrator depends on.
// Every write is an upsert on the table's natural key, so replaying a page is
// a no-op on data.
type CatalogStore interface {
	ListAccounts(ctx context.Context) ([]*models.MarketplaceAccount, error)
	// GetAccount returns nil, nil when the account does not exist.
	GetAccount(ctx context.Context, id string) (*models.MarketplaceAccount, error)
	UpsertAccount(ctx context.Context, a *models.MarketplaceAccount) error
	UpdateAccountTokens(ctx context.Context, accountID string, pair *models.TokenPair) error
	MarkAccountSynced(ctx context.Context, accountID string, at time.Time) error

	// UpsertListingPage writes listings with their tags and a stats row for
	// day in one transaction. Listings whose fingerprint matches the stored
	// row are left untouched.
	UpsertListingPage(ctx context.Context, accountID string, listings []*models.CatalogListing, day time.Time) (PageCounts, error)
	// GetListing returns nil, nil when the listing does not exist.
	GetListing(ctx context.Context, accountID, externalID string) (*models.CatalogListing, error)
	CountListings(ctx context.Context, accountID string) (int, error)

	// GetSyncState returns nil, nil before the first run.
	GetSyncState(ctx context.Context, accountID, syncType string) (*models.SyncState, error)
	SaveSyncState(ctx context.Context, st *models.SyncState) error

	Close() error
}

var (
	_ CatalogStore = (*PostgresStore)(nil)
	_ CatalogStore = (*SQLiteStore)(nil)
)

// Open returns the catalog store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.CatalogConfig) (CatalogStore, error) {
	switch cfg.Driver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("catalog driver postgres needs DATABASE_URL")
		}
		s, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return s, nil
	case "sqlite", "":
		return NewSQLiteStore(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown catalog driver %q", cfg.Driver)
	}
}

func statDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
