package models

import (
	"encoding/json"
	"time"
)

type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
	SyncStatusSkipped SyncStatus = "skipped"
)

const SyncTypeListings = "listings"

// SyncState is the durable checkpoint for one (account, sync type).
type SyncState struct {
	AccountID string     `json:"account_id" db:"account_id"`
	SyncType  string     `json:"sync_type" db:"sync_type"`
	Cursor    *string    `json:"cursor" db:"cursor"`
	LastRunAt time.Time  `json:"last_run_at" db:"last_run_at"`
	NextRunAt *time.Time `json:"next_run_at" db:"next_run_at"`
	Status    SyncStatus `json:"status" db:"status"`
	Message   *string    `json:"message" db:"message"`
	Metadata  SyncCounts `json:"metadata" db:"metadata"`
}

// SyncCounts is stored in SyncState.Metadata.
type SyncCounts struct {
	PagesProcessed    int `json:"pages_processed"`
	ListingsProcessed int `json:"listings_processed"`
	TagsUpserted      int `json:"tags_upserted"`
	StatsUpserted     int `json:"stats_upserted"`
	Unchanged         int `json:"unchanged"`

	// ChainStartedAt is when the first run of a resumed chain began. A
	// successful resume advances the account watermark to it.
	ChainStartedAt *time.Time `json:"chain_started_at,omitempty"`
}

func (c SyncCounts) ToJSON() json.RawMessage {
	data, _ := json.Marshal(c)
	return data
}

// SyncResult is returned to callers of a single-account sync.
type SyncResult struct {
	AccountID      string     `json:"account_id"`
	SyncType       string     `json:"sync_type"`
	Status         SyncStatus `json:"status"`
	Counts         SyncCounts `json:"counts"`
	Cursor         *string    `json:"cursor"`
	TokenRefreshed bool       `json:"token_refreshed"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     time.Time  `json:"finished_at"`
	Error          string     `json:"error,omitempty"`
}

func (r *SyncResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
