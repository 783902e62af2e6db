package event

import "context"

// Store is the append-only audit log behind ledgers and sale history.
type Store interface {
	// Append writes events in one transaction. A zero Version takes the
	// next version of the event's aggregate.
	Append(ctx context.Context, events ...Event) error
	// Load returns an aggregate's events by version, limited to types when
	// any are given.
	Load(ctx context.Context, aggregateID string, types ...Type) ([]Event, error)
	// LoadByType returns events of any of types across aggregates, oldest first.
	LoadByType(ctx context.Context, types ...Type) ([]Event, error)
}

// TypeNames returns types as strings for database array parameters.
func TypeNames(types []Type) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}
