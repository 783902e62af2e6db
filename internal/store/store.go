package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// AuctionStateID is the primary key of the singleton auction record.
const AuctionStateID = 1

// Team represents one bidding team and its purse.
type Team struct {
	Name            string    `db:"team_name" json:"team_name"`
	Purse           int       `db:"purse" json:"purse"`
	PlayerCount     int       `db:"player_count" json:"player_count"`
	CaptainPlayerID *int      `db:"captain_player_id" json:"captain_player_id,omitempty"`
	CaptainName     *string   `db:"captain_name" json:"captain_name,omitempty"`
	CaptainPIN      *string   `db:"captain_pin" json:"-"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// HasCaptain reports whether a captain is assigned.
func (t Team) HasCaptain() bool { return t.CaptainPlayerID != nil }

// Player represents an auctionable player.
type Player struct {
	ID         int     `db:"player_id" json:"player_id"`
	Name       string  `db:"name" json:"name"`
	Matches    int     `db:"matches" json:"matches"`
	Runs       int     `db:"runs" json:"runs"`
	Wickets    int     `db:"wickets" json:"wickets"`
	Sold       bool    `db:"sold" json:"sold"`
	Team       *string `db:"team" json:"team,omitempty"`
	SoldAmount *int    `db:"sold_amount" json:"sold_amount,omitempty"`
}

// AuctionState is the persisted singleton auction record.
type AuctionState struct {
	ID                int       `db:"id"`
	ActivePlayerIndex int       `db:"active_player_index"`
	CurrentBid        int       `db:"current_bid"`
	LastBidder        *string   `db:"last_bidder"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// Bidder returns the last bidder or "" when none.
func (s AuctionState) Bidder() string {
	if s.LastBidder == nil {
		return ""
	}
	return *s.LastBidder
}

// AuctionStateUpdate is a partial write of the auction record. Nil fields are
// left untouched; a LastBidder pointing at "" clears the column.
type AuctionStateUpdate struct {
	ActivePlayerIndex *int
	CurrentBid        *int
	LastBidder        *string
}

// Empty reports whether the update writes nothing.
func (u AuctionStateUpdate) Empty() bool {
	return u.ActivePlayerIndex == nil && u.CurrentBid == nil && u.LastBidder == nil
}

// SetClause renders the SET list of an UPDATE statement using Postgres
// placeholders starting at $start. updated_at is always written.
func (u AuctionStateUpdate) SetClause(start int, now time.Time) (string, []any) {
	var (
		cols []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		cols = append(cols, fmt.Sprintf("%s = $%d", col, start+len(args)-1))
	}
	if u.ActivePlayerIndex != nil {
		add("active_player_index", *u.ActivePlayerIndex)
	}
	if u.CurrentBid != nil {
		add("current_bid", *u.CurrentBid)
	}
	if u.LastBidder != nil {
		if *u.LastBidder == "" {
			add("last_bidder", nil)
		} else {
			add("last_bidder", *u.LastBidder)
		}
	}
	add("updated_at", now)
	return strings.Join(cols, ", "), args
}

// TeamRepository defines team persistence operations.
type TeamRepository interface {
	// Ensure inserts the team with the given purse if it does not exist.
	Ensure(ctx context.Context, name string, purse int) error
	Get(ctx context.Context, name string) (*Team, error)
	List(ctx context.Context) ([]Team, error)
	// UpdatePurseAndCount sets the purse and adds countDelta to the roster count.
	UpdatePurseAndCount(ctx context.Context, name string, purse, countDelta int) error
	// SetCaptain records the captain (nil clears it) and sets the roster count.
	SetCaptain(ctx context.Context, name string, playerID *int, playerName *string, playerCount int) error
	SetPIN(ctx context.Context, name, pin string) error
	// ResetAll restores every team to the given purse with no roster, captain or PIN.
	ResetAll(ctx context.Context, purse int) error
}

// PlayerRepository defines player persistence operations.
type PlayerRepository interface {
	Create(ctx context.Context, p *Player) error
	Get(ctx context.Context, id int) (*Player, error)
	// List returns all players ordered by id; the active player index is a
	// position in this list.
	List(ctx context.Context) ([]Player, error)
	MarkSold(ctx context.Context, id int, team string, amount int) error
	MarkUnsold(ctx context.Context, id int) error
	ResetAll(ctx context.Context) error
}

// AuctionStateRepository reads and writes the singleton auction record.
type AuctionStateRepository interface {
	Get(ctx context.Context) (*AuctionState, error)
	Update(ctx context.Context, u AuctionStateUpdate) error
}
