package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"listingsync/identity"
	"listingsync/models"
)

const dayLayout = "2006-01-02"

// SQLiteStore is the single-node catalog. List columns are stored as JSON text.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS marketplace_accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider_id TEXT NOT NULL,
		external_shop_id TEXT NOT NULL,
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		token_expires_at DATETIME,
		scopes JSON NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'active',
		last_synced_at DATETIME,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES marketplace_accounts(id),
		external_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		state TEXT NOT NULL,
		url TEXT NOT NULL,
		price_amount REAL,
		price_currency TEXT,
		quantity INTEGER,
		materials JSON NOT NULL DEFAULT '[]',
		taxonomy_id INTEGER,
		image_urls JSON NOT NULL DEFAULT '[]',
		fingerprint TEXT NOT NULL,
		last_modified_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(account_id, external_id)
	);

	CREATE TABLE IF NOT EXISTS listing_tags (
		listing_id TEXT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
		tag TEXT NOT NULL,
		PRIMARY KEY (listing_id, tag)
	);

	CREATE TABLE IF NOT EXISTS listing_stats (
		listing_id TEXT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
		day TEXT NOT NULL,
		views INTEGER NOT NULL DEFAULT 0,
		favorites INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (listing_id, day)
	);

	CREATE TABLE IF NOT EXISTS provider_sync_states (
		account_id TEXT NOT NULL,
		sync_type TEXT NOT NULL,
		cursor TEXT,
		last_run_at DATETIME NOT NULL,
		next_run_at DATETIME,
		status TEXT NOT NULL,
		message TEXT,
		metadata JSON NOT NULL DEFAULT '{}',
		PRIMARY KEY (account_id, sync_type)
	);

	CREATE INDEX IF NOT EXISTS idx_listings_account ON listings(account_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_listing_tags_tag ON listing_tags(tag);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Accounts
// =============================================================================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteAccount(row rowScanner) (*models.MarketplaceAccount, error) {
	var a models.MarketplaceAccount
	var scopes string
	err := row.Scan(
		&a.ID, &a.UserID, &a.ProviderID, &a.ExternalShopID, &a.AccessToken, &a.RefreshToken,
		&a.TokenExpiresAt, &scopes, &a.Status, &a.LastSyncedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scopes), &a.Scopes); err != nil {
		return nil, fmt.Errorf("decode scopes: %w", err)
	}
	return &a, nil
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]*models.MarketplaceAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM marketplace_accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.MarketplaceAccount
	for rows.Next() {
		a, err := scanSQLiteAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*models.MarketplaceAccount, error) {
	a, err := scanSQLiteAccount(s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM marketplace_accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *SQLiteStore) UpsertAccount(ctx context.Context, a *models.MarketplaceAccount) error {
	if a.Status == "" {
		a.Status = models.AccountStatusActive
	}
	scopes, err := json.Marshal(nonNil(a.Scopes))
	if err != nil {
		return err
	}
	a.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO marketplace_accounts (
			id, user_id, provider_id, external_shop_id, access_token, refresh_token,
			token_expires_at, scopes, status, last_synced_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			provider_id = excluded.provider_id,
			external_shop_id = excluded.external_shop_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			scopes = excluded.scopes,
			status = excluded.status,
			last_synced_at = COALESCE(excluded.last_synced_at, last_synced_at),
			updated_at = excluded.updated_at`,
		a.ID, a.UserID, a.ProviderID, a.ExternalShopID, a.AccessToken, a.RefreshToken,
		utcPtr(a.TokenExpiresAt), string(scopes), string(a.Status), utcPtr(a.LastSyncedAt), a.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) UpdateAccountTokens(ctx context.Context, accountID string, pair *models.TokenPair) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE marketplace_accounts
		SET access_token = ?, refresh_token = ?, token_expires_at = ?, updated_at = ?
		WHERE id = ?`,
		pair.AccessToken, pair.RefreshToken, pair.ExpiresAt.UTC(), time.Now().UTC(), accountID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s not found", accountID)
	}
	return nil
}

func (s *SQLiteStore) MarkAccountSynced(ctx context.Context, accountID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE marketplace_accounts SET last_synced_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), accountID,
	)
	return err
}

// =============================================================================
// Listings
// =============================================================================

func (s *SQLiteStore) UpsertListingPage(ctx context.Context, accountID string, listings []*models.CatalogListing, day time.Time) (PageCounts, error) {
	var counts PageCounts
	dayKey := statDay(day).Format(dayLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return counts, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, l := range listings {
		l.AccountID = accountID
		changed, err := s.upsertListingTx(ctx, tx, l)
		if err != nil {
			return PageCounts{}, fmt.Errorf("upsert listing %s: %w", l.ExternalID, err)
		}
		counts.Listings++
		if !changed {
			counts.Unchanged++
		}

		n, err := s.syncTagsTx(ctx, tx, l.ID, l.Tags)
		if err != nil {
			return PageCounts{}, fmt.Errorf("upsert tags %s: %w", l.ExternalID, err)
		}
		counts.Tags += n

		if l.Views != nil || l.Favorites != nil {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO listing_stats (listing_id, day, views, favorites)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(listing_id, day) DO UPDATE SET
					views = excluded.views,
					favorites = excluded.favorites`,
				l.ID.String(), dayKey, intOrZero(l.Views), intOrZero(l.Favorites),
			); err != nil {
				return PageCounts{}, fmt.Errorf("upsert stats %s: %w", l.ExternalID, err)
			}
			counts.Stats++
		}
	}

	if err := tx.Commit(); err != nil {
		return PageCounts{}, fmt.Errorf("commit: %w", err)
	}
	return counts, nil
}

func (s *SQLiteStore) upsertListingTx(ctx context.Context, tx *sql.Tx, l *models.CatalogListing) (bool, error) {
	l.Fingerprint = identity.Fingerprint(l)

	var existingID uuid.UUID
	var existingFingerprint string
	var createdAt, updatedAt time.Time
	err := tx.QueryRowContext(ctx,
		`SELECT id, fingerprint, created_at, updated_at FROM listings WHERE account_id = ? AND external_id = ?`,
		l.AccountID, l.ExternalID,
	).Scan(&existingID, &existingFingerprint, &createdAt, &updatedAt)
	switch {
	case err == nil && existingFingerprint == l.Fingerprint:
		l.ID, l.CreatedAt, l.UpdatedAt = existingID, createdAt, updatedAt
		return false, nil
	case err == nil:
		l.ID, l.CreatedAt = existingID, createdAt
	case errors.Is(err, sql.ErrNoRows):
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		l.CreatedAt = time.Now().UTC()
	default:
		return false, err
	}
	l.UpdatedAt = time.Now().UTC()

	materials, _ := json.Marshal(nonNil(l.Materials))
	images, _ := json.Marshal(nonNil(l.ImageURLs))

	_, err = tx.ExecContext(ctx, `
		INSERT INTO listings (
			id, account_id, external_id, title, description, state, url, price_amount,
			price_currency, quantity, materials, taxonomy_id, image_urls, fingerprint,
			last_modified_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, external_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			state = excluded.state,
			url = excluded.url,
			price_amount = excluded.price_amount,
			price_currency = excluded.price_currency,
			quantity = excluded.quantity,
			materials = excluded.materials,
			taxonomy_id = excluded.taxonomy_id,
			image_urls = excluded.image_urls,
			fingerprint = excluded.fingerprint,
			last_modified_at = excluded.last_modified_at,
			updated_at = excluded.updated_at`,
		l.ID.String(), l.AccountID, l.ExternalID, l.Title, l.Description, l.State, l.URL, l.PriceAmount,
		l.PriceCurrency, l.Quantity, string(materials), l.TaxonomyID, string(images), l.Fingerprint,
		utcPtr(l.LastModifiedAt), l.CreatedAt, l.UpdatedAt,
	)
	return err == nil, err
}

func (s *SQLiteStore) syncTagsTx(ctx context.Context, tx *sql.Tx, listingID uuid.UUID, tags []string) (int, error) {
	tags = nonNil(tags)
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO listing_tags (listing_id, tag) VALUES (?, ?) ON CONFLICT(listing_id, tag) DO NOTHING`,
			listingID.String(), tag,
		); err != nil {
			return 0, err
		}
	}

	keep, _ := json.Marshal(tags)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM listing_tags WHERE listing_id = ? AND tag NOT IN (SELECT value FROM json_each(?))`,
		listingID.String(), string(keep),
	); err != nil {
		return 0, err
	}
	return len(tags), nil
}

func (s *SQLiteStore) GetListing(ctx context.Context, accountID, externalID string) (*models.CatalogListing, error) {
	var l models.CatalogListing
	var materials, images string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, external_id, title, description, state, url, price_amount,
			price_currency, quantity, materials, taxonomy_id, image_urls, fingerprint,
			last_modified_at, created_at, updated_at
		FROM listings WHERE account_id = ? AND external_id = ?`, accountID, externalID).Scan(
		&l.ID, &l.AccountID, &l.ExternalID, &l.Title, &l.Description, &l.State, &l.URL, &l.PriceAmount,
		&l.PriceCurrency, &l.Quantity, &materials, &l.TaxonomyID, &images, &l.Fingerprint,
		&l.LastModifiedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(materials), &l.Materials); err != nil {
		return nil, fmt.Errorf("decode materials: %w", err)
	}
	if err := json.Unmarshal([]byte(images), &l.ImageURLs); err != nil {
		return nil, fmt.Errorf("decode image urls: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM listing_tags WHERE listing_id = ? ORDER BY tag`, l.ID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	l.Tags = []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		l.Tags = append(l.Tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var views, favorites sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT views, favorites FROM listing_stats WHERE listing_id = ? ORDER BY day DESC LIMIT 1`,
		l.ID.String(),
	).Scan(&views, &favorites)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if views.Valid {
		v, f := int(views.Int64), int(favorites.Int64)
		l.Views, l.Favorites = &v, &f
	}
	return &l, nil
}

func (s *SQLiteStore) CountListings(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings WHERE account_id = ?`, accountID).Scan(&n)
	return n, err
}

// CountStats returns the number of daily stats rows for an account.
func (s *SQLiteStore) CountStats(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM listing_stats ls
		JOIN listings l ON l.id = ls.listing_id
		WHERE l.account_id = ?`, accountID).Scan(&n)
	return n, err
}

// =============================================================================
// Sync State
// =============================================================================

func (s *SQLiteStore) GetSyncState(ctx context.Context, accountID, syncType string) (*models.SyncState, error) {
	var st models.SyncState
	var metadata string
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, sync_type, cursor, last_run_at, next_run_at, status, message, metadata
		FROM provider_sync_states WHERE account_id = ? AND sync_type = ?`, accountID, syncType).Scan(
		&st.AccountID, &st.SyncType, &st.Cursor, &st.LastRunAt, &st.NextRunAt, &st.Status, &st.Message, &metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadata), &st.Metadata); err != nil {
		return nil, fmt.Errorf("decode sync metadata: %w", err)
	}
	return &st, nil
}

func (s *SQLiteStore) SaveSyncState(ctx context.Context, st *models.SyncState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_sync_states (
			account_id, sync_type, cursor, last_run_at, next_run_at, status, message, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, sync_type) DO UPDATE SET
			cursor = excluded.cursor,
			last_run_at = excluded.last_run_at,
			next_run_at = excluded.next_run_at,
			status = excluded.status,
			message = excluded.message,
			metadata = excluded.metadata`,
		st.AccountID, st.SyncType, st.Cursor, st.LastRunAt.UTC(), utcPtr(st.NextRunAt), string(st.Status), st.Message,
		string(st.Metadata.ToJSON()),
	)
	return err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
