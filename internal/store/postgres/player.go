package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auction-console/internal/store"
)

const playerColumns = `player_id, name, matches, runs, wickets, sold, team, sold_amount`

// PlayerRepo implements store.PlayerRepository with sqlx.
type PlayerRepo struct {
	db *sqlx.DB
}

// NewPlayerRepo returns a new PlayerRepo.
func NewPlayerRepo(db *sqlx.DB) *PlayerRepo {
	return &PlayerRepo{db: db}
}

func (r *PlayerRepo) Create(ctx context.Context, p *store.Player) error {
	query := `INSERT INTO players (name, matches, runs, wickets)
	           VALUES ($1, $2, $3, $4)
	           RETURNING player_id`
	return r.db.QueryRowContext(ctx, query, p.Name, p.Matches, p.Runs, p.Wickets).Scan(&p.ID)
}

func (r *PlayerRepo) Get(ctx context.Context, id int) (*store.Player, error) {
	var p store.Player
	err := r.db.GetContext(ctx, &p, `SELECT `+playerColumns+` FROM players WHERE player_id = $1`, id)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("getting player %d", id))
	}
	return &p, nil
}

func (r *PlayerRepo) List(ctx context.Context) ([]store.Player, error) {
	var players []store.Player
	err := r.db.SelectContext(ctx, &players, `SELECT `+playerColumns+` FROM players ORDER BY player_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	return players, nil
}

func (r *PlayerRepo) MarkSold(ctx context.Context, id int, team string, amount int) error {
	return r.update(ctx, id,
		`UPDATE players SET sold = TRUE, team = $1, sold_amount = $2 WHERE player_id = $3`,
		team, amount, id,
	)
}

func (r *PlayerRepo) MarkUnsold(ctx context.Context, id int) error {
	return r.update(ctx, id,
		`UPDATE players SET sold = FALSE, team = NULL, sold_amount = NULL WHERE player_id = $1`,
		id,
	)
}

func (r *PlayerRepo) ResetAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE players SET sold = FALSE, team = NULL, sold_amount = NULL`); err != nil {
		return fmt.Errorf("resetting players: %w", err)
	}
	return nil
}

func (r *PlayerRepo) update(ctx context.Context, id int, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating player %d: %w", id, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("player %d: %w", id, store.ErrNotFound)
	}
	return nil
}
