package postgres

import (
	"context"
	"fmt"

	"distributor/internal/domain/event"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const createInboxTable = `
	CREATE TABLE IF NOT EXISTS inbox_events (
		consumer       TEXT        NOT NULL,
		event_id       TEXT        NOT NULL,
		event_type     TEXT        NOT NULL,
		correlation_id TEXT,
		processed_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (consumer, event_id)
	)
`

type executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// InboxRepository records delivered event ids per consumer so a redelivered
// record is broadcast only once.
type InboxRepository struct {
	db       executor
	consumer string
}

func NewInboxRepository(db executor, consumer string) *InboxRepository {
	return &InboxRepository{db: db, consumer: consumer}
}

func (r *InboxRepository) CreateSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createInboxTable); err != nil {
		return fmt.Errorf("create inbox_events: %w", err)
	}
	return nil
}

// SaveIfNotExists returns true if the event was saved (is new), false if it already existed.
func (r *InboxRepository) SaveIfNotExists(ctx context.Context, eventID, eventType, correlationID string) (bool, error) {
	const query = `
		INSERT INTO inbox_events (consumer, event_id, event_type, correlation_id, processed_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (consumer, event_id) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, r.consumer, eventID, eventType, nullIfEmptyText(correlationID))
	if err != nil {
		return false, fmt.Errorf("insert inbox event: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *InboxRepository) FirstSeen(ctx context.Context, env event.Envelope) (bool, error) {
	if env.EventID == uuid.Nil {
		return true, nil
	}
	return r.SaveIfNotExists(ctx, env.EventID.String(), env.EventType, env.CorrelationID)
}

func nullIfEmptyText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
