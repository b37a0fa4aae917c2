package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"listingsync/identity"
	"listingsync/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS marketplace_accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		external_shop_id TEXT NOT NULL,
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		token_expires_at TIMESTAMPTZ,
		scopes TEXT[] NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'active',
		last_synced_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS listings (
		id UUID PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES marketplace_accounts(id),
		external_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		state TEXT NOT NULL,
		url TEXT NOT NULL,
		price_amount NUMERIC(12, 2),
		price_currency TEXT,
		quantity INTEGER,
		materials TEXT[] NOT NULL DEFAULT '{}',
		taxonomy_id BIGINT,
		image_urls TEXT[] NOT NULL DEFAULT '{}',
		fingerprint TEXT NOT NULL,
		last_modified_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (account_id, external_id)
	);

	CREATE TABLE IF NOT EXISTS listing_tags (
		listing_id UUID NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
		tag TEXT NOT NULL,
		PRIMARY KEY (listing_id, tag)
	);

	CREATE TABLE IF NOT EXISTS listing_stats (
		listing_id UUID NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
		day DATE NOT NULL,
		views INTEGER NOT NULL DEFAULT 0,
		favorites INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (listing_id, day)
	);

	CREATE TABLE IF NOT EXISTS provider_sync_states (
		account_id TEXT NOT NULL REFERENCES marketplace_accounts(id),
		sync_type TEXT NOT NULL,
		cursor TEXT,
		last_run_at TIMESTAMPTZ NOT NULL,
		next_run_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		message TEXT,
		metadata JSONB NOT NULL DEFAULT '{}',
		PRIMARY KEY (account_id, sync_type)
	);

	CREATE INDEX IF NOT EXISTS idx_listings_account ON listings(account_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_listing_tags_tag ON listing_tags(tag);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// Accounts
// =============================================================================

const accountColumns = `id, user_id, provider_id, external_shop_id, access_token, refresh_token,
	token_expires_at, scopes, status, last_synced_at, updated_at`

func scanAccount(row pgx.Row) (*models.MarketplaceAccount, error) {
	var a models.MarketplaceAccount
	err := row.Scan(
		&a.ID, &a.UserID, &a.ProviderID, &a.ExternalShopID, &a.AccessToken, &a.RefreshToken,
		&a.TokenExpiresAt, &a.Scopes, &a.Status, &a.LastSyncedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]*models.MarketplaceAccount, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM marketplace_accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.MarketplaceAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*models.MarketplaceAccount, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM marketplace_accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *PostgresStore) UpsertAccount(ctx context.Context, a *models.MarketplaceAccount) error {
	if a.Status == "" {
		a.Status = models.AccountStatusActive
	}
	scopes := a.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	query := `
		INSERT INTO marketplace_accounts (
			id, user_id, provider_id, external_shop_id, access_token, refresh_token,
			token_expires_at, scopes, status, last_synced_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			provider_id = EXCLUDED.provider_id,
			external_shop_id = EXCLUDED.external_shop_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			scopes = EXCLUDED.scopes,
			status = EXCLUDED.status,
			last_synced_at = COALESCE(EXCLUDED.last_synced_at, marketplace_accounts.last_synced_at),
			updated_at = NOW()
		RETURNING updated_at`

	return s.pool.QueryRow(ctx, query,
		a.ID, a.UserID, a.ProviderID, a.ExternalShopID, a.AccessToken, a.RefreshToken,
		a.TokenExpiresAt, scopes, a.Status, a.LastSyncedAt,
	).Scan(&a.UpdatedAt)
}

func (s *PostgresStore) UpdateAccountTokens(ctx context.Context, accountID string, pair *models.TokenPair) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE marketplace_accounts
		SET access_token = $2, refresh_token = $3, token_expires_at = $4, updated_at = NOW()
		WHERE id = $1`,
		accountID, pair.AccessToken, pair.RefreshToken, pair.ExpiresAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s not found", accountID)
	}
	return nil
}

func (s *PostgresStore) MarkAccountSynced(ctx context.Context, accountID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE marketplace_accounts SET last_synced_at = $2, updated_at = NOW() WHERE id = $1`,
		accountID, at,
	)
	return err
}

// =============================================================================
// Listings
// =============================================================================

func (s *PostgresStore) UpsertListingPage(ctx context.Context, accountID string, listings []*models.CatalogListing, day time.Time) (PageCounts, error) {
	var counts PageCounts
	day = statDay(day)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return counts, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, l := range listings {
		l.AccountID = accountID
		changed, err := upsertListingTx(ctx, tx, l)
		if err != nil {
			return PageCounts{}, fmt.Errorf("upsert listing %s: %w", l.ExternalID, err)
		}
		counts.Listings++
		if !changed {
			counts.Unchanged++
		}

		n, err := syncTagsTx(ctx, tx, l.ID, l.Tags)
		if err != nil {
			return PageCounts{}, fmt.Errorf("upsert tags %s: %w", l.ExternalID, err)
		}
		counts.Tags += n

		if l.Views != nil || l.Favorites != nil {
			if _, err := tx.Exec(ctx, `
				INSERT INTO listing_stats (listing_id, day, views, favorites)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (listing_id, day) DO UPDATE SET
					views = EXCLUDED.views,
					favorites = EXCLUDED.favorites`,
				l.ID, day, intOrZero(l.Views), intOrZero(l.Favorites),
			); err != nil {
				return PageCounts{}, fmt.Errorf("upsert stats %s: %w", l.ExternalID, err)
			}
			counts.Stats++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return PageCounts{}, fmt.Errorf("commit: %w", err)
	}
	return counts, nil
}

// upsertListingTx reports whether the row was inserted or its content changed.
func upsertListingTx(ctx context.Context, tx pgx.Tx, l *models.CatalogListing) (bool, error) {
	l.Fingerprint = identity.Fingerprint(l)
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}

	query := `
		INSERT INTO listings (
			id, account_id, external_id, title, description, state, url, price_amount,
			price_currency, quantity, materials, taxonomy_id, image_urls, fingerprint,
			last_modified_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW()
		)
		ON CONFLICT (account_id, external_id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			state = EXCLUDED.state,
			url = EXCLUDED.url,
			price_amount = EXCLUDED.price_amount,
			price_currency = EXCLUDED.price_currency,
			quantity = EXCLUDED.quantity,
			materials = EXCLUDED.materials,
			taxonomy_id = EXCLUDED.taxonomy_id,
			image_urls = EXCLUDED.image_urls,
			fingerprint = EXCLUDED.fingerprint,
			last_modified_at = EXCLUDED.last_modified_at,
			updated_at = NOW()
		WHERE listings.fingerprint IS DISTINCT FROM EXCLUDED.fingerprint
		RETURNING id, created_at, updated_at`

	err := tx.QueryRow(ctx, query,
		l.ID, l.AccountID, l.ExternalID, l.Title, l.Description, l.State, l.URL, l.PriceAmount,
		l.PriceCurrency, l.Quantity, nonNil(l.Materials), l.TaxonomyID, nonNil(l.ImageURLs), l.Fingerprint,
		l.LastModifiedAt,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}

	// Conflict with an identical row: nothing was written.
	err = tx.QueryRow(ctx,
		`SELECT id, created_at, updated_at FROM listings WHERE account_id = $1 AND external_id = $2`,
		l.AccountID, l.ExternalID,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	return false, err
}

func syncTagsTx(ctx context.Context, tx pgx.Tx, listingID uuid.UUID, tags []string) (int, error) {
	tags = nonNil(tags)
	for _, tag := range tags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO listing_tags (listing_id, tag) VALUES ($1, $2) ON CONFLICT (listing_id, tag) DO NOTHING`,
			listingID, tag,
		); err != nil {
			return 0, err
		}
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM listing_tags WHERE listing_id = $1 AND NOT (tag = ANY($2))`,
		listingID, tags,
	); err != nil {
		return 0, err
	}
	return len(tags), nil
}

func (s *PostgresStore) GetListing(ctx context.Context, accountID, externalID string) (*models.CatalogListing, error) {
	query := `
		SELECT id, account_id, external_id, title, description, state, url, price_amount::float8,
			price_currency, quantity, materials, taxonomy_id, image_urls, fingerprint,
			last_modified_at, created_at, updated_at
		FROM listings WHERE account_id = $1 AND external_id = $2`

	var l models.CatalogListing
	err := s.pool.QueryRow(ctx, query, accountID, externalID).Scan(
		&l.ID, &l.AccountID, &l.ExternalID, &l.Title, &l.Description, &l.State, &l.URL, &l.PriceAmount,
		&l.PriceCurrency, &l.Quantity, &l.Materials, &l.TaxonomyID, &l.ImageURLs, &l.Fingerprint,
		&l.LastModifiedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `SELECT tag FROM listing_tags WHERE listing_id = $1 ORDER BY tag`, l.ID)
	if err != nil {
		return nil, err
	}
	l.Tags, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) CountListings(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings WHERE account_id = $1`, accountID).Scan(&n)
	return n, err
}

// =============================================================================
// Sync State
// =============================================================================

func (s *PostgresStore) GetSyncState(ctx context.Context, accountID, syncType string) (*models.SyncState, error) {
	query := `
		SELECT account_id, sync_type, cursor, last_run_at, next_run_at, status, message, metadata
		FROM provider_sync_states WHERE account_id = $1 AND sync_type = $2`

	var st models.SyncState
	var metadata []byte
	err := s.pool.QueryRow(ctx, query, accountID, syncType).Scan(
		&st.AccountID, &st.SyncType, &st.Cursor, &st.LastRunAt, &st.NextRunAt, &st.Status, &st.Message, &metadata,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &st.Metadata); err != nil {
			return nil, fmt.Errorf("decode sync metadata: %w", err)
		}
	}
	return &st, nil
}

func (s *PostgresStore) SaveSyncState(ctx context.Context, st *models.SyncState) error {
	query := `
		INSERT INTO provider_sync_states (
			account_id, sync_type, cursor, last_run_at, next_run_at, status, message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (account_id, sync_type) DO UPDATE SET
			cursor = EXCLUDED.cursor,
			last_run_at = EXCLUDED.last_run_at,
			next_run_at = EXCLUDED.next_run_at,
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			metadata = EXCLUDED.metadata`

	_, err := s.pool.Exec(ctx, query,
		st.AccountID, st.SyncType, st.Cursor, st.LastRunAt, st.NextRunAt, st.Status, st.Message,
		string(st.Metadata.ToJSON()),
	)
	return err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
