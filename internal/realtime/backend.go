package realtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jensholdgaard/auction-console/internal/auction"
	"github.com/jensholdgaard/auction-console/internal/store"
)

// ChangeSource delivers decoded auction record changes.
type ChangeSource interface {
	Subscribe(fn func(auction.State)) auction.Subscription
}

// Bus publishes and receives named broadcasts.
type Bus interface {
	Publish(ctx context.Context, event string, payload any) error
	Subscribe(event string, fn func(context.Context, Envelope)) (auction.Subscription, error)
}

// Backend implements auction.Backend and auction.BidUpdateSource over the
// authoritative store, the change feed and the broadcast bus.
type Backend struct {
	auction store.AuctionStateRepository
	teams   store.TeamRepository
	changes ChangeSource
	bus     Bus
	logger  *slog.Logger
}

var (
	_ auction.Backend         = (*Backend)(nil)
	_ auction.BidUpdateSource = (*Backend)(nil)
)

// NewBackend wires the store, feed and bus into a mirror backend.
func NewBackend(state store.AuctionStateRepository, teams store.TeamRepository, changes ChangeSource, bus Bus, logger *slog.Logger) *Backend {
	return &Backend{
		auction: state,
		teams:   teams,
		changes: changes,
		bus:     bus,
		logger:  logger,
	}
}

func (b *Backend) ReadAuctionState(ctx context.Context) (auction.State, error) {
	s, err := b.auction.Get(ctx)
	if err != nil {
		return auction.State{}, err
	}
	return auction.State{
		ActivePlayerIndex: s.ActivePlayerIndex,
		CurrentBid:        s.CurrentBid,
		LastBidder:        s.Bidder(),
	}, nil
}

func (b *Backend) WriteAuctionState(ctx context.Context, u auction.Update) error {
	if u.Empty() {
		return nil
	}
	return b.auction.Update(ctx, store.AuctionStateUpdate{
		ActivePlayerIndex: u.ActivePlayerIndex,
		CurrentBid:        u.CurrentBid,
		LastBidder:        u.LastBidder,
	})
}

func (b *Backend) SubscribeAuctionStateChanges(_ context.Context, onChange func(auction.State)) (auction.Subscription, error) {
	if b.changes == nil {
		return nil, fmt.Errorf("no change feed configured")
	}
	return b.changes.Subscribe(onChange), nil
}

func (b *Backend) ReadTeamPurse(ctx context.Context, team string) (int, error) {
	t, err := b.teams.Get(ctx, team)
	if err != nil {
		return 0, err
	}
	return t.Purse, nil
}

func (b *Backend) PublishBidUpdate(ctx context.Context, u auction.BidUpdate) error {
	return b.bus.Publish(ctx, EventBidUpdate, u)
}

// SubscribeBidUpdates delivers valid bid_update broadcasts to onBid.
func (b *Backend) SubscribeBidUpdates(_ context.Context, onBid func(auction.BidUpdate)) (auction.Subscription, error) {
	return b.bus.Subscribe(EventBidUpdate, func(ctx context.Context, env Envelope) {
		u, err := auction.DecodeBidUpdate(env.Payload)
		if err != nil {
			b.logger.WarnContext(ctx, "dropping malformed bid update",
				slog.String("message_id", env.ID),
				slog.Any("error", err),
			)
			return
		}
		onBid(u)
	})
}
