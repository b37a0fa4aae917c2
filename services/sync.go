package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"listingsync/etsyapi"
	"listingsync/metrics"
	"listingsync/models"
	"listingsync/storage"
)

const tokenRefreshMargin = 5 * time.Minute

// ListingSource is the seller-authorized side of the marketplace API.
type ListingSource interface {
	ListShopListings(ctx context.Context, accessToken, shopID string, opts etsyapi.PageOptions) (*etsyapi.ListingsPage, error)
	RefreshToken(ctx context.Context, refreshToken string) (*models.TokenPair, error)
}

// EventPublisher is notified after every finished account run.
type EventPublisher interface {
	SyncCompleted(ctx context.Context, r *models.SyncResult) error
}

type SyncOptions struct {
	// Incremental limits the walk to listings modified since the last
	// successful sync.
	Incremental bool
	PageSize    int
}

// SyncService runs TokenCheck, Paginate, Upsert and RecordState for one
// account at a time. It must not run twice concurrently for the same account.
type SyncService struct {
	store       storage.CatalogStore
	source      ListingSource
	publisher   EventPublisher
	logger      *zap.Logger
	metrics     *metrics.Metrics
	interval    time.Duration
	concurrency int
	now         func() time.Time
}

type SyncServiceOption func(*SyncService)

func WithPublisher(p EventPublisher) SyncServiceOption {
	return func(s *SyncService) { s.publisher = p }
}

// WithInterval sets the gap used for SyncState.NextRunAt.
func WithInterval(d time.Duration) SyncServiceOption {
	return func(s *SyncService) { s.interval = d }
}

func WithConcurrency(n int) SyncServiceOption {
	return func(s *SyncService) { s.concurrency = n }
}

func WithSyncClock(now func() time.Time) SyncServiceOption {
	return func(s *SyncService) { s.now = now }
}

func NewSyncService(store storage.CatalogStore, source ListingSource, logger *zap.Logger, m *metrics.Metrics, opts ...SyncServiceOption) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SyncService{
		store:       store,
		source:      source,
		logger:      logger,
		metrics:     m,
		concurrency: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	return s
}

// SyncAccount runs one sync of accountID. The returned result is non-nil
// whenever the account exists; a failed run also returns the error that
// stopped it, after its partial progress and failed state are stored.
func (s *SyncService) SyncAccount(ctx context.Context, accountID string, opts SyncOptions) (*models.SyncResult, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("account %s not found", accountID)
	}

	prev, err := s.store.GetSyncState(ctx, accountID, models.SyncTypeListings)
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}

	log := s.logger.With(zap.String("account", accountID), zap.String("shop", account.ExternalShopID))
	result := &models.SyncResult{
		AccountID: accountID,
		SyncType:  models.SyncTypeListings,
		StartedAt: s.now().UTC(),
	}

	if account.Status == models.AccountStatusRevoked {
		result.Status = models.SyncStatusSkipped
		if prev != nil {
			result.Cursor = prev.Cursor
		}
		s.finish(ctx, log, account, result, errors.New("account revoked"))
		return result, nil
	}

	cursor := ""
	chainStart := &result.StartedAt
	if prev != nil && prev.Status == models.SyncStatusFailed && prev.Cursor != nil {
		cursor = *prev.Cursor
		// Pages before the cursor were fetched when the chain began, so the
		// watermark cannot move past that point. Without a recorded start
		// the watermark stays where it is.
		chainStart = prev.Metadata.ChainStartedAt
		log.Info("resuming sync", zap.String("cursor", cursor))
	}
	result.Counts.ChainStartedAt = chainStart

	runErr := s.run(ctx, log, account, opts, cursor, result)
	if runErr != nil {
		result.Status = models.SyncStatusFailed
		result.Error = runErr.Error()
	} else {
		result.Status = models.SyncStatusSuccess
	}
	s.finish(ctx, log, account, result, runErr)
	return result, runErr
}

func (s *SyncService) run(ctx context.Context, log *zap.Logger, account *models.MarketplaceAccount, opts SyncOptions, cursor string, result *models.SyncResult) error {
	// TokenCheck
	if account.TokenExpiresWithin(s.now(), tokenRefreshMargin) {
		pair, err := s.source.RefreshToken(ctx, account.RefreshToken)
		if err != nil {
			result.Cursor = cursorPtr(cursor)
			return fmt.Errorf("refresh token: %w", err)
		}
		if err := s.store.UpdateAccountTokens(ctx, account.ID, pair); err != nil {
			result.Cursor = cursorPtr(cursor)
			return fmt.Errorf("persist refreshed token: %w", err)
		}
		account.AccessToken = pair.AccessToken
		account.RefreshToken = pair.RefreshToken
		account.TokenExpiresAt = &pair.ExpiresAt
		result.TokenRefreshed = true
		s.metrics.TokenRefreshed()
		log.Info("access token refreshed", zap.Time("expires_at", pair.ExpiresAt))
	}

	page := etsyapi.PageOptions{Limit: opts.PageSize}
	if opts.Incremental && account.LastSyncedAt != nil {
		page.ModifiedSince = account.LastSyncedAt
	}

	// Paginate and Upsert. The cursor always names the next page to fetch, so
	// a failure leaves it pointing at the page that was not stored.
	for {
		page.Cursor = cursor
		resp, err := s.source.ListShopListings(ctx, account.AccessToken, account.ExternalShopID, page)
		if err != nil {
			result.Cursor = cursorPtr(cursor)
			return fmt.Errorf("fetch page %d: %w", result.Counts.PagesProcessed+1, err)
		}

		rows := make([]*models.CatalogListing, 0, len(resp.Listings))
		for _, l := range resp.Listings {
			rows = append(rows, l.ToCatalog(account.ID))
		}
		counts, err := s.store.UpsertListingPage(ctx, account.ID, rows, result.StartedAt)
		if err != nil {
			result.Cursor = cursorPtr(cursor)
			return fmt.Errorf("store page %d: %w", result.Counts.PagesProcessed+1, err)
		}

		result.Counts.PagesProcessed++
		result.Counts.ListingsProcessed += counts.Listings
		result.Counts.Unchanged += counts.Unchanged
		result.Counts.TagsUpserted += counts.Tags
		result.Counts.StatsUpserted += counts.Stats
		log.Debug("sync page stored",
			zap.Int("page", result.Counts.PagesProcessed),
			zap.Int("listings", counts.Listings),
			zap.Int("unchanged", counts.Unchanged),
		)

		if resp.NextCursor == nil {
			result.Cursor = nil
			return nil
		}
		cursor = *resp.NextCursor
	}
}

// finish records the run (RecordState), publishes it and counts it. Storage
// writes here outlive a cancelled run context so partial progress is
// always described.
func (s *SyncService) finish(ctx context.Context, log *zap.Logger, account *models.MarketplaceAccount, result *models.SyncResult, runErr error) {
	ctx = context.WithoutCancel(ctx)
	result.FinishedAt = s.now().UTC()

	state := &models.SyncState{
		AccountID: account.ID,
		SyncType:  result.SyncType,
		Cursor:    result.Cursor,
		LastRunAt: result.FinishedAt,
		Status:    result.Status,
		Metadata:  result.Counts,
	}
	if s.interval > 0 {
		next := result.FinishedAt.Add(s.interval)
		state.NextRunAt = &next
	}
	if runErr != nil {
		msg := runErr.Error()
		state.Message = &msg
	}
	if err := s.store.SaveSyncState(ctx, state); err != nil {
		log.Error("save sync state failed", zap.Error(err))
	}

	if result.Status == models.SyncStatusSuccess && result.Counts.ChainStartedAt != nil {
		if err := s.store.MarkAccountSynced(ctx, account.ID, *result.Counts.ChainStartedAt); err != nil {
			log.Error("mark account synced failed", zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("status", string(result.Status)),
		zap.Int("pages", result.Counts.PagesProcessed),
		zap.Int("listings", result.Counts.ListingsProcessed),
		zap.Int("unchanged", result.Counts.Unchanged),
		zap.Duration("duration", result.Duration()),
	}
	switch result.Status {
	case models.SyncStatusFailed:
		log.Warn("account sync failed", append(fields, zap.Error(runErr))...)
	case models.SyncStatusSkipped:
		log.Info("account sync skipped", append(fields, zap.String("reason", runErr.Error()))...)
	default:
		log.Info("account sync complete", fields...)
	}

	s.metrics.SyncRun(string(result.Status), result.Counts.ListingsProcessed)
	if s.publisher != nil {
		if err := s.publisher.SyncCompleted(ctx, result); err != nil {
			log.Warn("publish sync event failed", zap.Error(err))
		}
	}
}

// SyncAll syncs every account with bounded concurrency. A failing account
// never stops the others; its error lives in its result and SyncState.
func (s *SyncService) SyncAll(ctx context.Context, opts SyncOptions) ([]*models.SyncResult, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	results := make([]*models.SyncResult, len(accounts))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, a := range accounts {
		g.Go(func() error {
			r, err := s.SyncAccount(ctx, a.ID, opts)
			if r == nil {
				r = &models.SyncResult{
					AccountID: a.ID,
					SyncType:  models.SyncTypeListings,
					Status:    models.SyncStatusFailed,
				}
				if err != nil {
					r.Error = err.Error()
				}
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, r := range results {
		if r.Status == models.SyncStatusFailed {
			failed++
		}
	}
	s.logger.Info("sync run finished", zap.Int("accounts", len(accounts)), zap.Int("failed", failed))
	return results, nil
}

func cursorPtr(c string) *string {
	if c == "" {
		return nil
	}
	return &c
}
