package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listingsync/config"
	"listingsync/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAccount(t *testing.T, s *SQLiteStore) *models.MarketplaceAccount {
	t.Helper()
	exp := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	a := &models.MarketplaceAccount{
		ID:             "acct-1",
		UserID:         "user-1",
		ProviderID:     "etsy",
		ExternalShopID: "5550001",
		AccessToken:    "access",
		RefreshToken:   "refresh",
		TokenExpiresAt: &exp,
		Scopes:         []string{"listings_r", "shops_r"},
	}
	require.NoError(t, s.UpsertAccount(context.Background(), a))
	return a
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func sampleListings() []*models.CatalogListing {
	price := 34.99
	return []*models.CatalogListing{
		{
			ExternalID:    "945529830",
			Title:         "Leather Journal",
			Description:   strPtr("Handmade"),
			State:         "active",
			URL:           "https://www.etsy.com/listing/945529830",
			PriceAmount:   &price,
			PriceCurrency: strPtr("USD"),
			Quantity:      intPtr(4),
			Materials:     []string{"leather"},
			ImageURLs:     []string{"https://i.etsystatic.com/1/il_fullxfull.jpg"},
			Tags:          []string{"journal", "gift for him"},
			Views:         intPtr(120),
			Favorites:     intPtr(9),
		},
		{
			ExternalID: "945529831",
			Title:      "Pocket Notebook",
			State:      "active",
			URL:        "https://www.etsy.com/listing/945529831",
			Tags:       []string{"notebook"},
		},
	}
}

func TestOpenDefaultsToSQLite(t *testing.T) {
	s, err := Open(context.Background(), config.CatalogConfig{DBPath: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &SQLiteStore{}, s)

	_, err = Open(context.Background(), config.CatalogConfig{Driver: "postgres"})
	assert.Error(t, err)
	_, err = Open(context.Background(), config.CatalogConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestAccountRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seeded := seedAccount(t, s)

	got, err := s.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "5550001", got.ExternalShopID)
	assert.Equal(t, []string{"listings_r", "shops_r"}, got.Scopes)
	assert.Equal(t, models.AccountStatusActive, got.Status)
	require.NotNil(t, got.TokenExpiresAt)
	assert.True(t, seeded.TokenExpiresAt.Equal(*got.TokenExpiresAt))
	assert.Nil(t, got.LastSyncedAt)

	missing, err := s.GetAccount(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpdateAccountTokensAndSynced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)

	exp := time.Date(2026, 10, 16, 13, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateAccountTokens(ctx, "acct-1", &models.TokenPair{
		AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresAt: exp,
	}))
	assert.Error(t, s.UpdateAccountTokens(ctx, "nope", &models.TokenPair{ExpiresAt: exp}))

	synced := time.Date(2026, 10, 16, 12, 30, 0, 0, time.UTC)
	require.NoError(t, s.MarkAccountSynced(ctx, "acct-1", synced))

	got, err := s.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", got.AccessToken)
	assert.Equal(t, "new-refresh", got.RefreshToken)
	assert.True(t, exp.Equal(*got.TokenExpiresAt))
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, synced.Equal(*got.LastSyncedAt))

	// Re-upserting the account without a sync time keeps the stored one.
	got.LastSyncedAt = nil
	require.NoError(t, s.UpsertAccount(ctx, got))
	again, err := s.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, again.LastSyncedAt)
	assert.True(t, synced.Equal(*again.LastSyncedAt))
}

func TestUpsertListingPageIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)
	day := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	counts, err := s.UpsertListingPage(ctx, "acct-1", sampleListings(), day)
	require.NoError(t, err)
	assert.Equal(t, PageCounts{Listings: 2, Unchanged: 0, Tags: 3, Stats: 1}, counts)

	first, err := s.GetListing(ctx, "acct-1", "945529830")
	require.NoError(t, err)
	require.NotNil(t, first)

	counts, err = s.UpsertListingPage(ctx, "acct-1", sampleListings(), day.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Unchanged)

	second, err := s.GetListing(ctx, "acct-1", "945529830")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))

	n, err := s.CountListings(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	stats, err := s.CountStats(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats, "same day must not add a stats row")
}

func TestUpsertListingPageUpdatesChangedRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s)
	day := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

	_, err := s.UpsertListingPage(ctx, "acct-1", sampleListings(), day)
	require.NoError(t, err)

	changed := sampleListings()
	changed[0].Title = "Leather Journal A5"
	changed[0].Tags = []string{"journal", "a5"}
	changed[0].Views = intPtr(150)

	counts, err := s.UpsertListingPage(ctx, "acct-1", changed, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Unchanged)

	got, err := s.GetListing(ctx, "acct-1", "945529830")
	require.NoError(t, err)
	assert.Equal(t, "Leather Journal A5", got.Title)
	assert.Equal(t, []string{"a5", "journal"}, got.Tags)
	assert.Equal(t, []string{"leather"}, got.Materials)
	require.NotNil(t, got.Views)
	assert.Equal(t, 150, *got.Views)
	require.NotNil(t, got.PriceAmount)
	assert.InDelta(t, 34.99, *got.PriceAmount, 0.001)

	stats, err := s.CountStats(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats)
}

func TestGetListingMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetListing(context.Background(), "acct-1", "404")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSyncStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	none, err := s.GetSyncState(ctx, "acct-1", models.SyncTypeListings)
	require.NoError(t, err)
	assert.Nil(t, none)

	next := time.Date(2026, 10, 16, 13, 0, 0, 0, time.UTC)
	st := &models.SyncState{
		AccountID: "acct-1",
		SyncType:  models.SyncTypeListings,
		Cursor:    strPtr("200"),
		LastRunAt: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
		NextRunAt: &next,
		Status:    models.SyncStatusFailed,
		Message:   strPtr("page 3: fetch failed"),
		Metadata:  models.SyncCounts{PagesProcessed: 2, ListingsProcessed: 200},
	}
	require.NoError(t, s.SaveSyncState(ctx, st))

	got, err := s.GetSyncState(ctx, "acct-1", models.SyncTypeListings)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.SyncStatusFailed, got.Status)
	assert.Equal(t, "200", *got.Cursor)
	assert.Equal(t, 200, got.Metadata.ListingsProcessed)
	assert.True(t, next.Equal(*got.NextRunAt))

	st.Status = models.SyncStatusSuccess
	st.Cursor = nil
	st.Message = nil
	require.NoError(t, s.SaveSyncState(ctx, st))
	got, err = s.GetSyncState(ctx, "acct-1", models.SyncTypeListings)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, got.Status)
	assert.Nil(t, got.Cursor)
	assert.Nil(t, got.Message)
}
