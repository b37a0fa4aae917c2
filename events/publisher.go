// Package events publishes sync lifecycle events on NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"listingsync/models"
)

const SubjectSyncCompleted = "marketplace.sync.completed"

const (
	connectWait   = 5 * time.Second
	maxReconnects = 5
	reconnectWait = 2 * time.Second
)

// SyncCompleted is the payload of SubjectSyncCompleted.
type SyncCompleted struct {
	AccountID  string            `json:"account_id"`
	SyncType   string            `json:"sync_type"`
	Status     models.SyncStatus `json:"status"`
	Counts     models.SyncCounts `json:"counts"`
	Cursor     *string           `json:"cursor,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

func NewSyncCompleted(r *models.SyncResult) SyncCompleted {
	return SyncCompleted{
		AccountID:  r.AccountID,
		SyncType:   r.SyncType,
		Status:     r.Status,
		Counts:     r.Counts,
		Cursor:     r.Cursor,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

type conn interface {
	Publish(subject string, data []byte) error
	Close()
}

type Publisher struct {
	conn   conn
	logger *zap.Logger
}

func NewPublisher(url string, logger *zap.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("listingsync sync events"),
		nats.Timeout(connectWait),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &Publisher{conn: nc, logger: logger}, nil
}

func (p *Publisher) Publish(ctx context.Context, subject string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, payload)
}

func (p *Publisher) SyncCompleted(ctx context.Context, r *models.SyncResult) error {
	return p.Publish(ctx, SubjectSyncCompleted, NewSyncCompleted(r))
}

func (p *Publisher) Close() {
	p.conn.Close()
}
