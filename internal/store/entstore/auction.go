package entstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jensholdgaard/auction-console/internal/clock"
	"github.com/jensholdgaard/auction-console/internal/store"
)

// AuctionStateRepo implements store.AuctionStateRepository using database/sql.
type AuctionStateRepo struct {
	db    *sql.DB
	clock clock.Clock
}

// NewAuctionStateRepo returns a new AuctionStateRepo.
func NewAuctionStateRepo(db *sql.DB, clk clock.Clock) *AuctionStateRepo {
	return &AuctionStateRepo{db: db, clock: clk}
}

func (r *AuctionStateRepo) Get(ctx context.Context) (*store.AuctionState, error) {
	s := &store.AuctionState{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, active_player_index, current_bid, last_bidder, updated_at
		 FROM auction_state WHERE id = $1`, store.AuctionStateID,
	).Scan(&s.ID, &s.ActivePlayerIndex, &s.CurrentBid, &s.LastBidder, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "getting auction state")
	}
	return s, nil
}

func (r *AuctionStateRepo) Update(ctx context.Context, u store.AuctionStateUpdate) error {
	set, args := u.SetClause(1, r.clock.Now().UTC())
	args = append(args, store.AuctionStateID)
	result, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE auction_state SET %s WHERE id = $%d`, set, len(args)), args...)
	return mustAffect(result, err, "updating auction state")
}
