package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auction-console/internal/clock"
	"github.com/jensholdgaard/auction-console/internal/store"
)

// AuctionStateRepo implements store.AuctionStateRepository with sqlx.
type AuctionStateRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewAuctionStateRepo returns a new AuctionStateRepo.
func NewAuctionStateRepo(db *sqlx.DB, clk clock.Clock) *AuctionStateRepo {
	return &AuctionStateRepo{db: db, clock: clk}
}

func (r *AuctionStateRepo) Get(ctx context.Context) (*store.AuctionState, error) {
	var s store.AuctionState
	err := r.db.GetContext(ctx, &s,
		`SELECT id, active_player_index, current_bid, last_bidder, updated_at
		 FROM auction_state WHERE id = $1`, store.AuctionStateID)
	if err != nil {
		return nil, notFound(err, "getting auction state")
	}
	return &s, nil
}

func (r *AuctionStateRepo) Update(ctx context.Context, u store.AuctionStateUpdate) error {
	set, args := u.SetClause(1, r.clock.Now().UTC())
	args = append(args, store.AuctionStateID)
	query := fmt.Sprintf(`UPDATE auction_state SET %s WHERE id = $%d`, set, len(args))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating auction state: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("auction state: %w", store.ErrNotFound)
	}
	return nil
}
