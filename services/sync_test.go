package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"listingsync/acqerr"
	"listingsync/etsyapi"
	"listingsync/metrics"
	"listingsync/models"
	"listingsync/storage"
)

var syncNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu        sync.Mutex
	pages     map[string][][]*etsyapi.Listing
	failAt    map[string]error
	refreshed int
	refreshFn func() (*models.TokenPair, error)
	calls     []etsyapi.PageOptions
	tokens    []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{pages: map[string][][]*etsyapi.Listing{}, failAt: map[string]error{}}
}

func (f *fakeSource) ListShopListings(ctx context.Context, accessToken, shopID string, opts etsyapi.PageOptions) (*etsyapi.ListingsPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	f.tokens = append(f.tokens, accessToken)

	if err, ok := f.failAt[shopID+"@"+opts.Cursor]; ok {
		return nil, err
	}
	pages := f.pages[shopID]
	idx := 0
	if opts.Cursor != "" {
		idx, _ = strconv.Atoi(opts.Cursor)
	}
	if idx >= len(pages) {
		return &etsyapi.ListingsPage{}, nil
	}
	page := &etsyapi.ListingsPage{Listings: pages[idx]}
	if idx+1 < len(pages) {
		next := strconv.Itoa(idx + 1)
		page.NextCursor = &next
	}
	return page, nil
}

func (f *fakeSource) RefreshToken(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	if f.refreshFn != nil {
		return f.refreshFn()
	}
	return &models.TokenPair{
		AccessToken:  "fresh-access",
		RefreshToken: "fresh-refresh",
		ExpiresAt:    syncNow.Add(time.Hour),
	}, nil
}

type fakeEvents struct {
	mu      sync.Mutex
	results []*models.SyncResult
}

func (e *fakeEvents) SyncCompleted(ctx context.Context, r *models.SyncResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, r)
	return nil
}

// makePages builds n pages of size listings for a shop.
func makePages(shopID int64, n, size int) [][]*etsyapi.Listing {
	pages := make([][]*etsyapi.Listing, n)
	id := shopID * 1000
	for p := range pages {
		for i := 0; i < size; i++ {
			id++
			pages[p] = append(pages[p], &etsyapi.Listing{
				ListingID:   id,
				ShopID:      shopID,
				Title:       fmt.Sprintf("Item %d", id),
				State:       "active",
				URL:         fmt.Sprintf("https://www.etsy.com/listing/%d/item?ref=shop", id),
				Tags:        []string{"handmade", fmt.Sprintf("tag-%d", id)},
				Views:       intPtr(10),
				NumFavorers: intPtr(1),
				Price:       &etsyapi.Money{Amount: 1000, Divisor: 100, CurrencyCode: "usd"},
			})
		}
	}
	return pages
}

func intPtr(n int) *int { return &n }

func newSyncFixture(t *testing.T) (*storage.SQLiteStore, *fakeSource) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, newFakeSource()
}

func addAccount(t *testing.T, store storage.CatalogStore, id, shopID string, expires time.Time) {
	t.Helper()
	require.NoError(t, store.UpsertAccount(context.Background(), &models.MarketplaceAccount{
		ID:             id,
		UserID:         "user-" + id,
		ProviderID:     "etsy",
		ExternalShopID: shopID,
		AccessToken:    "old-access",
		RefreshToken:   "old-refresh",
		TokenExpiresAt: &expires,
	}))
}

func newSyncService(store storage.CatalogStore, src ListingSource, opts ...SyncServiceOption) *SyncService {
	opts = append([]SyncServiceOption{WithSyncClock(func() time.Time { return syncNow })}, opts...)
	return NewSyncService(store, src, zap.NewNop(), nil, opts...)
}

func TestSyncAccountIsIdempotent(t *testing.T) {
	store, src := newSyncFixture(t)
	addAccount(t, store, "acct-1", "77", syncNow.Add(time.Hour))
	src.pages["77"] = makePages(77, 3, 4)
	svc := newSyncService(store, src, WithInterval(time.Hour))
	ctx := context.Background()

	first, err := svc.SyncAccount(ctx, "acct-1", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, first.Status)
	assert.Equal(t, 3, first.Counts.PagesProcessed)
	assert.Equal(t, 12, first.Counts.ListingsProcessed)
	assert.Equal(t, 0, first.Counts.Unchanged)
	assert.Equal(t, 24, first.Counts.TagsUpserted)

	second, err := svc.SyncAccount(ctx, "acct-1", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 12, second.Counts.ListingsProcessed)
	assert.Equal(t, 12, second.Counts.Unchanged)

	n, err := store.CountListings(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	stats, err := store.CountStats(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 12, stats)

	st, err := store.GetSyncState(ctx, "acct-1", models.SyncTypeListings)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, st.Status)
	assert.Nil(t, st.Cursor)
	require.NotNil(t, st.NextRunAt)
	assert.True(t, syncNow.Add(time.Hour).Equal(*st.NextRunAt))

	acct, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, acct.LastSyncedAt)
	assert.True(t, syncNow.Equal(*acct.LastSyncedAt))
	assert.Zero(t, src.refreshed)
}

func TestSyncAccountPartialFailureKeepsProgress(t *testing.T) {
	store, src := newSyncFixture(t)
	addAccount(t, store, "acct-1", "77", syncNow.Add(time.Hour))
	src.pages["77"] = makePages(77, 5, 3)
	src.failAt["77@2"] = acqerr.FetchFailed("list", "", 503, nil)
	ev := &fakeEvents{}
	m := metrics.New()
	svc := NewSyncService(store, src, zap.NewNop(), m,
		WithSyncClock(func() time.Time { return syncNow }), WithPublisher(ev))
	ctx := context.Background()

	res, err := svc.SyncAccount(ctx, "acct-1", SyncOptions{})
	require.Error(t, err)
	assert.Equal(t, acqerr.KindFetchFailed, acqerr.KindOf(err))
	require.NotNil(t, res)
	assert.Equal(t, models.SyncStatusFailed, res.Status)
	assert.Equal(t, 2, res.Counts.PagesProcessed)
	assert.Equal(t, 6, res.Counts.ListingsProcessed)

	n, err := store.CountListings(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	for _, l := range src.pages["77"][2] {
		got, err := store.GetListing(ctx, "acct-1", l.ExternalID())
		require.NoError(t, err)
		assert.Nil(t, got)
	}

	st, err := store.GetSyncState(ctx, "acct-1", models.SyncTypeListings)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, st.Status)
	assert.Equal(t, 6, st.Metadata.ListingsProcessed)
	require.NotNil(t, st.Cursor)
	assert.Equal(t, "2", *st.Cursor)
	require.NotNil(t, st.Message)
	assert.Contains(t, *st.Message, "fetch page 3")

	acct, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Nil(t, acct.LastSyncedAt, "failed runs do not advance the sync watermark")

	require.Len(t, ev.results, 1)
	assert.Equal(t, models.SyncStatusFailed, ev.results[0].Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncRuns.WithLabelValues("failed")))

	// The next run resumes at the failed page and finishes the walk.
	delete(src.failAt, "77@2")
	src.calls = nil
	res, err = svc.SyncAccount(ctx, "acct-1", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, res.Status)
	assert.Equal(t, 3, res.Counts.PagesProcessed)
	assert.Equal(t, "2", src.calls[0].Cursor)

	n, err = store.CountListings(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 15, n)
}

func TestSyncAccountRefreshesExpiringToken(t *testing.T) {
	store, src := newSyncFixture(t)
	addAccount(t, store, "acct-1", "77", syncNow.Add(2*time.Minute))
	src.pages["77"] = makePages(77, 1, 2)
	src.failAt["77@"] = acqerr.Blocked("list", "", 403, "blocked")
	svc := newSyncService(store, src)
	ctx := context.Background()

	res, err := svc.SyncAccount(ctx, "acct-1", SyncOptions{})
	require.Error(t, err)
	assert.True(t, res.TokenRefreshed)
	assert.Equal(t, 1, src.refreshed)
	assert.Equal(t, []string{"fresh-access"}, src.tokens)

	// The refreshed pair is stored even though the run failed.
	acct, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", acct.AccessToken)
	assert.Equal(t, "fresh-refresh", acct.RefreshToken)
	assert.True(t, syncNow.Add(time.Hour).Equal(*acct.TokenExpiresAt))
}

func TestSyncAccountRefreshFailure(t *testing.T) {
	store, src := newSyncFixture(t)
	addAccount(t, store, "acct-1", "77", syncNow.Add(-time.Minute))
	src.refreshFn = func() (*models.TokenPair, error) {
		return nil, acqerr.Configuration("refresh", "refresh token rejected")
	}
	svc := newSyncService(store, src)

	res, err := svc.SyncAccount(context.Background(), "acct-1", SyncOptions{})
	require.Error(t, err)
	assert.Equal(t, acqerr.KindConfiguration, acqerr.KindOf(err))
	assert.Equal(t, models.SyncStatusFailed, res.Status)
	assert.Empty(t, src.calls)

	st, err := store.GetSyncState(context.Background(), "acct-1", models.SyncTypeListings)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, st.Status)
}

func TestSyncAccountIncrementalUsesLastSync(t *testing.T) {
	store, src := newSyncFixture(t)
	addAccount(t, store, "acct-1", "77", syncNow.Add(time.Hour))
	last := syncNow.Add(-24 * time.Hour)
	require.NoError(t, store.MarkAccountSynced(context.Background(), "acct-1", last))
	src.pages["77"] = makePages(77, 1, 1)
	svc := newSyncService(store, src)

	_, err := svc.SyncAccount(context.Background(), "acct-1", SyncOptions{Incremental: true, PageSize: 50})
	require.NoError(t, err)
	require.Len(t, src.calls, 1)
	require.NotNil(t, src.calls[0].ModifiedSince)
	assert.True(t, last.Equal(*src.calls[0].ModifiedSince))
	assert.Equal(t, 50, src.calls[0].Limit)

	src.calls = nil
	_, err = svc.SyncAccount(context.Background(), "acct-1", SyncOptions{Incremental: false})
	require.NoError(t, err)
	assert.Nil(t, src.calls[0].ModifiedSince)
}

func TestSyncAccountResumeKeepsChainWatermark(t *testing.T) {
	store, src := newSyncFixture(t)
	addAccount(t, store, "acct-1", "77", syncNow.Add(24*time.Hour))
	last := syncNow.Add(-24 * time.Hour)
	require.NoError(t, store.MarkAccountSynced(context.Background(), "acct-1", last))
	src.pages["77"] = makePages(77, 4, 2)
	src.failAt["77@2"] = acqerr.FetchFailed("list", "", 503, nil)

	var clockMu sync.Mutex
	now := syncNow
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	svc := NewSyncService(store, src, zap.NewNop(), nil, WithSyncClock(clock))
	ctx := context.Background()
	opts := SyncOptions{Incremental: true}

	_, err := svc.SyncAccount(ctx, "acct-1", opts)
	require.Error(t, err)
	st, err := store.GetSyncState(ctx, "acct-1", models.SyncTypeListings)
	require.NoError(t, err)
	require.NotNil(t, st.Metadata.ChainStartedAt)
	assert.True(t, syncNow.Equal(*st.Metadata.ChainStartedAt))

	// Listings on the pages already stored may change while the chain is
	// paused; the resumed run must not hide them from the next sync.
	clockMu.Lock()
	now = syncNow.Add(6 * time.Hour)
	clockMu.Unlock()
	delete(src.failAt, "77@2")
	src.calls = nil

	res, err := svc.SyncAccount(ctx, "acct-1", opts)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, res.Status)
	require.NotEmpty(t, src.calls)
	assert.Equal(t, "2", src.calls[0].Cursor)
	require.NotNil(t, src.calls[0].ModifiedSince)
	assert.True(t, last.Equal(*src.calls[0].ModifiedSince))

	acct, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, acct.LastSyncedAt)
	assert.True(t, syncNow.Equal(*acct.LastSyncedAt), "watermark is the chain start, got %s", acct.LastSyncedAt)

	// A fresh run after the chain completes uses its own start.
	clockMu.Lock()
	now = syncNow.Add(8 * time.Hour)
	clockMu.Unlock()
	src.calls = nil
	_, err = svc.SyncAccount(ctx, "acct-1", opts)
	require.NoError(t, err)
	assert.Equal(t, "", src.calls[0].Cursor)
	assert.True(t, syncNow.Equal(*src.calls[0].ModifiedSince))

	acct, err = store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, syncNow.Add(8*time.Hour).Equal(*acct.LastSyncedAt))
}

func TestSyncAccountResumeWithoutChainStartKeepsWatermark(t *testing.T) {
	store, src := newSyncFixture(t)
	addAccount(t, store, "acct-1", "77", syncNow.Add(time.Hour))
	last := syncNow.Add(-24 * time.Hour)
	ctx := context.Background()
	require.NoError(t, store.MarkAccountSynced(ctx, "acct-1", last))
	cursor := "1"
	require.NoError(t, store.SaveSyncState(ctx, &models.SyncState{
		AccountID: "acct-1",
		SyncType:  models.SyncTypeListings,
		Cursor:    &cursor,
		LastRunAt: syncNow.Add(-time.Hour),
		Status:    models.SyncStatusFailed,
	}))
	src.pages["77"] = makePages(77, 2, 2)
	svc := newSyncService(store, src)

	res, err := svc.SyncAccount(ctx, "acct-1", SyncOptions{Incremental: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.PagesProcessed)
	assert.Equal(t, "1", src.calls[0].Cursor)

	acct, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, last.Equal(*acct.LastSyncedAt))
}

func TestSyncAccountSkipsRevoked(t *testing.T) {
	store, src := newSyncFixture(t)
	addAccount(t, store, "acct-1", "77", syncNow.Add(time.Hour))
	acct, err := store.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	acct.Status = models.AccountStatusRevoked
	require.NoError(t, store.UpsertAccount(context.Background(), acct))
	svc := newSyncService(store, src)

	res, err := svc.SyncAccount(context.Background(), "acct-1", SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSkipped, res.Status)
	assert.Empty(t, src.calls)

	st, err := store.GetSyncState(context.Background(), "acct-1", models.SyncTypeListings)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSkipped, st.Status)
}

func TestSyncAccountUnknown(t *testing.T) {
	store, src := newSyncFixture(t)
	res, err := newSyncService(store, src).SyncAccount(context.Background(), "ghost", SyncOptions{})
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestSyncAllIsolatesAccounts(t *testing.T) {
	store, src := newSyncFixture(t)
	addAccount(t, store, "acct-a", "1", syncNow.Add(time.Hour))
	addAccount(t, store, "acct-b", "2", syncNow.Add(time.Hour))
	addAccount(t, store, "acct-c", "3", syncNow.Add(time.Hour))
	src.pages["1"] = makePages(1, 2, 2)
	src.pages["2"] = makePages(2, 2, 2)
	src.pages["3"] = makePages(3, 1, 2)
	src.failAt["2@"] = acqerr.FetchFailed("list", "", 500, nil)
	svc := newSyncService(store, src, WithConcurrency(2))

	results, err := svc.SyncAll(context.Background(), SyncOptions{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	byAccount := map[string]*models.SyncResult{}
	for _, r := range results {
		byAccount[r.AccountID] = r
	}
	assert.Equal(t, models.SyncStatusSuccess, byAccount["acct-a"].Status)
	assert.Equal(t, models.SyncStatusFailed, byAccount["acct-b"].Status)
	assert.NotEmpty(t, byAccount["acct-b"].Error)
	assert.Equal(t, models.SyncStatusSuccess, byAccount["acct-c"].Status)

	n, err := store.CountListings(context.Background(), "acct-a")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	n, err = store.CountListings(context.Background(), "acct-c")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
