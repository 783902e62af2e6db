package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jensholdgaard/auction-console/internal/event"
)

// appendEvent inserts one event; a zero version takes the next version of
// the aggregate.
const appendEvent = `INSERT INTO events (aggregate_id, type, data, version)
	SELECT $1, $2, $3, COALESCE(NULLIF($4, 0),
		(SELECT COALESCE(MAX(version), 0) + 1 FROM events WHERE aggregate_id = $1))`

// An empty type array matches every type.
const (
	selectAggregate = `SELECT id, aggregate_id, type, data, version, created_at FROM events
		WHERE aggregate_id = $1 AND (cardinality($2::text[]) = 0 OR type = ANY($2))
		ORDER BY version`
	selectTypes = `SELECT id, aggregate_id, type, data, version, created_at FROM events
		WHERE type = ANY($1)
		ORDER BY created_at, aggregate_id, version`
)

// EventStore is the audit log on sqlx.
type EventStore struct {
	db *sqlx.DB
}

// NewEventStore returns an EventStore on db.
func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Append(ctx context.Context, events ...event.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning event append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, appendEvent)
	if err != nil {
		return fmt.Errorf("preparing event append: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.AggregateID, e.Type, string(e.Data), e.Version); err != nil {
			return fmt.Errorf("appending %s to %s: %w", e.Type, e.AggregateID, err)
		}
	}
	return tx.Commit()
}

func (s *EventStore) Load(ctx context.Context, aggregateID string, types ...event.Type) ([]event.Event, error) {
	var events []event.Event
	if err := s.db.SelectContext(ctx, &events, selectAggregate, aggregateID, pq.Array(event.TypeNames(types))); err != nil {
		return nil, fmt.Errorf("loading %s events: %w", aggregateID, err)
	}
	return events, nil
}

func (s *EventStore) LoadByType(ctx context.Context, types ...event.Type) ([]event.Event, error) {
	if len(types) == 0 {
		return nil, nil
	}
	var events []event.Event
	if err := s.db.SelectContext(ctx, &events, selectTypes, pq.Array(event.TypeNames(types))); err != nil {
		return nil, fmt.Errorf("loading %v events: %w", types, err)
	}
	return events, nil
}
