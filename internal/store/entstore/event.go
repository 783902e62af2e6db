package entstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/jensholdgaard/auction-console/internal/event"
)

// EventStore is the audit log on database/sql.
type EventStore struct {
	db *sql.DB
}

// NewEventStore returns an EventStore on db.
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Append(ctx context.Context, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning event append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range events {
		version := e.Version
		if version == 0 {
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(version), 0) + 1 FROM events WHERE aggregate_id = $1`,
				e.AggregateID).Scan(&version); err != nil {
				return fmt.Errorf("versioning %s: %w", e.AggregateID, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (aggregate_id, type, data, version) VALUES ($1, $2, $3, $4)`,
			e.AggregateID, e.Type, string(e.Data), version); err != nil {
			return fmt.Errorf("appending %s to %s: %w", e.Type, e.AggregateID, err)
		}
	}
	return tx.Commit()
}

func (s *EventStore) Load(ctx context.Context, aggregateID string, types ...event.Type) ([]event.Event, error) {
	q := `SELECT id, aggregate_id, type, data, version, created_at FROM events WHERE aggregate_id = $1`
	args := []any{aggregateID}
	if len(types) > 0 {
		q += ` AND type = ANY($2)`
		args = append(args, pq.Array(event.TypeNames(types)))
	}
	return s.query(ctx, q+` ORDER BY version`, args...)
}

func (s *EventStore) LoadByType(ctx context.Context, types ...event.Type) ([]event.Event, error) {
	if len(types) == 0 {
		return nil, nil
	}
	return s.query(ctx,
		`SELECT id, aggregate_id, type, data, version, created_at FROM events
		 WHERE type = ANY($1) ORDER BY created_at, aggregate_id, version`,
		pq.Array(event.TypeNames(types)))
}

func (s *EventStore) query(ctx context.Context, q string, args ...any) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var e event.Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.Type, &data, &e.Version, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Data = data
		events = append(events, e)
	}
	return events, rows.Err()
}
