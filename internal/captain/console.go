// Package captain implements the per-team bidding console.
package captain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-console/internal/auction"
	"github.com/jensholdgaard/auction-console/internal/event"
	"github.com/jensholdgaard/auction-console/internal/poller"
	"github.com/jensholdgaard/auction-console/internal/store"
)

const instrumentationName = "github.com/jensholdgaard/auction-console/internal/captain"

// DefaultRosterCap is the largest squad a team may build.
const DefaultRosterCap = 12

var (
	ErrNoActivePlayer = errors.New("no player is up for bidding")
	ErrRosterFull     = errors.New("roster is full")
	ErrCannotAfford   = errors.New("cannot afford this raise")
)

// Mirror is the session mirror a console bids through.
type Mirror interface {
	Start(ctx context.Context)
	Snapshot() auction.Snapshot
	PlaceBid(ctx context.Context, newBid int, bidder string) error
	Resync(ctx context.Context) error
	Close() error
}

// TeamReader reads a team row.
type TeamReader interface {
	Get(ctx context.Context, name string) (*store.Team, error)
}

// Options is what a captain sees before raising.
type Options struct {
	Team        string
	State       auction.State
	Purse       int
	PlayerCount int
	RosterFull  bool
	Small       int
	Large       int
	CanSmall    bool
	CanLarge    bool
}

// Console is one team's calling page. It owns a mirror and the polling
// fallback that keeps the mirror fresh.
type Console struct {
	team         string
	mirror       Mirror
	teams        TeamReader
	events       event.Store
	rosterCap    int
	pollInterval time.Duration
	logger       *slog.Logger
	tracer       trace.Tracer

	poll *poller.Poller
}

// NewConsole returns a console for team. A rosterCap of zero means
// DefaultRosterCap.
func NewConsole(team string, mirror Mirror, teams TeamReader, events event.Store, rosterCap int, pollInterval time.Duration, logger *slog.Logger, tp trace.TracerProvider) *Console {
	if rosterCap <= 0 {
		rosterCap = DefaultRosterCap
	}
	logger = logger.With(slog.String("team", team))
	return &Console{
		team:         team,
		mirror:       mirror,
		teams:        teams,
		events:       events,
		rosterCap:    rosterCap,
		pollInterval: pollInterval,
		logger:       logger,
		tracer:       tp.Tracer(instrumentationName),
		poll:         poller.ForResync("captain-"+team, pollInterval, mirror, logger),
	}
}

// Team returns the team this console bids for.
func (c *Console) Team() string { return c.team }

// Start populates the mirror and begins polling. If polling cannot start the
// mirror is closed again and its subscriptions released.
func (c *Console) Start(ctx context.Context) error {
	c.mirror.Start(ctx)
	if err := c.poll.Start(ctx); err != nil {
		return errors.Join(
			fmt.Errorf("starting %s poller: %w", c.team, err),
			c.mirror.Close(),
		)
	}
	return nil
}

// Close stops polling and tears the mirror down.
func (c *Console) Close() error {
	return errors.Join(c.poll.Stop(), c.mirror.Close())
}

// Snapshot returns the console's current mirror.
func (c *Console) Snapshot() auction.Snapshot { return c.mirror.Snapshot() }

// Options reports the raise buttons and whether each is usable.
func (c *Console) Options(ctx context.Context) (Options, error) {
	ctx, span := c.tracer.Start(ctx, "Console.Options", trace.WithAttributes(attribute.String("team", c.team)))
	defer span.End()

	st := c.mirror.Snapshot().State
	t, err := c.teams.Get(ctx, c.team)
	if err != nil {
		return Options{}, fmt.Errorf("%w: %w", auction.ErrPurseUnavailable, err)
	}
	small, large := auction.Increments(st.CurrentBid)
	full := t.PlayerCount >= c.rosterCap
	open := st.HasActivePlayer() && !full
	return Options{
		Team:        c.team,
		State:       st,
		Purse:       t.Purse,
		PlayerCount: t.PlayerCount,
		RosterFull:  full,
		Small:       small,
		Large:       large,
		CanSmall:    open && auction.Affordable(t.Purse, st.CurrentBid, auction.StepSmall),
		CanLarge:    open && auction.Affordable(t.Purse, st.CurrentBid, auction.StepLarge),
	}, nil
}

// Raise bids the current bid plus the chosen step for this team and
// returns the new bid.
func (c *Console) Raise(ctx context.Context, step auction.Step) (int, error) {
	ctx, span := c.tracer.Start(ctx, "Console.Raise",
		trace.WithAttributes(
			attribute.String("team", c.team),
			attribute.String("step", step.String()),
		),
	)
	defer span.End()

	st := c.mirror.Snapshot().State
	if !st.HasActivePlayer() {
		return 0, ErrNoActivePlayer
	}

	t, err := c.teams.Get(ctx, c.team)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("%w: %w", auction.ErrPurseUnavailable, err)
	}
	if t.PlayerCount >= c.rosterCap {
		return 0, fmt.Errorf("%w: %s already has %d players", ErrRosterFull, c.team, t.PlayerCount)
	}

	next := auction.NextBid(st.CurrentBid, step)
	if !auction.Affordable(t.Purse, st.CurrentBid, step) {
		return 0, fmt.Errorf("%w: ₹%d exceeds remaining purse ₹%d", ErrCannotAfford, next, t.Purse)
	}

	if err := c.mirror.PlaceBid(ctx, next, c.team); err != nil {
		span.RecordError(err)
		return 0, err
	}

	c.record(ctx, st.ActivePlayerIndex, next)
	c.logger.InfoContext(ctx, "raised bid",
		slog.Int("player_index", st.ActivePlayerIndex),
		slog.Int("bid", next),
	)
	return next, nil
}

func (c *Console) record(ctx context.Context, index, bid int) {
	if c.events == nil {
		return
	}
	e, err := event.New(event.AuctionAggregate, event.BidPlaced, event.BidPlacedData{
		Team:        c.team,
		PlayerIndex: index,
		Amount:      bid,
	})
	if err == nil {
		err = c.events.Append(ctx, e)
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to append bid placed event", slog.Any("error", err))
	}
}
