package auction

import (
	"context"
	"errors"
	"fmt"
)

// NoActivePlayer is the ActivePlayerIndex value when no player is up for bid.
const NoActivePlayer = -1

// State is the shared, singleton auction record.
type State struct {
	ActivePlayerIndex int    `json:"active_player_index"`
	CurrentBid        int    `json:"current_bid"`
	LastBidder        string `json:"last_bidder"`
}

// InitialState returns the state of a freshly seeded or reset auction.
func InitialState() State {
	return State{ActivePlayerIndex: NoActivePlayer}
}

// HasActivePlayer reports whether a player is currently open for bidding.
func (s State) HasActivePlayer() bool {
	return s.ActivePlayerIndex != NoActivePlayer
}

// HasBid reports whether a bid has been placed on the active player.
func (s State) HasBid() bool {
	return s.CurrentBid > 0
}

// Validate checks the record invariants: a non-negative bid, an index of
// at least NoActivePlayer, and a bidder present exactly when a bid is.
func (s State) Validate() error {
	if s.ActivePlayerIndex < NoActivePlayer {
		return fmt.Errorf("active player index %d out of range", s.ActivePlayerIndex)
	}
	if s.CurrentBid < 0 {
		return fmt.Errorf("negative current bid %d", s.CurrentBid)
	}
	if (s.CurrentBid == 0) != (s.LastBidder == "") {
		return fmt.Errorf("current bid %d inconsistent with last bidder %q", s.CurrentBid, s.LastBidder)
	}
	return nil
}

// Update is a partial write to the auction record. Nil fields are left
// untouched.
type Update struct {
	ActivePlayerIndex *int
	CurrentBid        *int
	LastBidder        *string
}

// Empty reports whether the update touches no field.
func (u Update) Empty() bool {
	return u.ActivePlayerIndex == nil && u.CurrentBid == nil && u.LastBidder == nil
}

// BidUpdate is the payload fanned out on the broadcast channel after a bid.
type BidUpdate struct {
	NewBid int    `json:"newBid"`
	Bidder string `json:"bidder"`
}

// Snapshot is a point-in-time copy of a session mirror.
type Snapshot struct {
	State
	Loading bool `json:"loading"`
}

// Subscription is a handle on an established notification subscription.
type Subscription interface {
	Unsubscribe() error
}

// Backend is the authoritative store and notification fabric the mirror is
// synchronized against.
type Backend interface {
	ReadAuctionState(ctx context.Context) (State, error)
	WriteAuctionState(ctx context.Context, u Update) error
	SubscribeAuctionStateChanges(ctx context.Context, onChange func(State)) (Subscription, error)
	ReadTeamPurse(ctx context.Context, team string) (int, error)
	PublishBidUpdate(ctx context.Context, b BidUpdate) error
}

// BidUpdateSource is implemented by backends that can also deliver the
// bid_update broadcast. When available the mirror listens on both channels.
type BidUpdateSource interface {
	SubscribeBidUpdates(ctx context.Context, onBid func(BidUpdate)) (Subscription, error)
}

// SubscriptionFunc adapts a func into a Subscription.
type SubscriptionFunc func() error

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() error { return f() }

// Errors returned by mirror operations. All of them are user visible.
var (
	ErrPurseUnavailable  = errors.New("could not check team purse, please try again")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidBid        = errors.New("bid must be positive and name a bidder")
)

// InsufficientFundsError describes a bid rejected by the purse ceiling.
type InsufficientFundsError struct {
	Team  string
	Purse int
	Bid   int
}

// Shortfall is the amount by which the bid exceeds the purse.
func (e *InsufficientFundsError) Shortfall() int {
	return e.Bid - e.Purse
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: %s has only ₹%d remaining, cannot bid ₹%d (short by ₹%d)",
		e.Team, e.Purse, e.Bid, e.Shortfall())
}

// Is lets errors.Is match ErrInsufficientFunds.
func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}
