package store

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/jensholdgaard/auction-console/internal/clock"
	"github.com/jensholdgaard/auction-console/internal/config"
	"github.com/jensholdgaard/auction-console/internal/event"
)

// Repositories groups all repository implementations returned by a store driver.
type Repositories struct {
	Teams   TeamRepository
	Players PlayerRepository
	Auction AuctionStateRepository
	Events  event.Store
	// Closer is called to release underlying resources (e.g. DB connection).
	Closer io.Closer
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}

// Driver is a function that opens a connection and returns Repositories.
type Driver func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*Repositories, error)

// registry maps driver names to their factory functions.
var registry = map[string]Driver{}

// Register adds a named driver to the global registry.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	registry[name] = d
}

// Open selects the driver specified in cfg.Driver and returns Repositories.
func Open(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*Repositories, error) {
	d, ok := registry[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, registeredNames())
	}
	return d(ctx, cfg, clk)
}

// Seed makes sure every configured team exists with the starting purse.
func (r *Repositories) Seed(ctx context.Context, teams []string, purse int) error {
	for _, name := range teams {
		if err := r.Teams.Ensure(ctx, name, purse); err != nil {
			return fmt.Errorf("seeding team %q: %w", name, err)
		}
	}
	return nil
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
