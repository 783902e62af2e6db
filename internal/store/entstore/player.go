package entstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jensholdgaard/auction-console/internal/store"
)

// PlayerRepo implements store.PlayerRepository using database/sql.
type PlayerRepo struct {
	db *sql.DB
}

// NewPlayerRepo returns a new PlayerRepo.
func NewPlayerRepo(db *sql.DB) *PlayerRepo {
	return &PlayerRepo{db: db}
}

func (r *PlayerRepo) Create(ctx context.Context, p *store.Player) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO players (name, matches, runs, wickets) VALUES ($1, $2, $3, $4) RETURNING player_id`,
		p.Name, p.Matches, p.Runs, p.Wickets,
	).Scan(&p.ID)
}

func (r *PlayerRepo) Get(ctx context.Context, id int) (*store.Player, error) {
	p := &store.Player{}
	err := r.db.QueryRowContext(ctx,
		`SELECT player_id, name, matches, runs, wickets, sold, team, sold_amount
		 FROM players WHERE player_id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Matches, &p.Runs, &p.Wickets, &p.Sold, &p.Team, &p.SoldAmount)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("getting player %d", id))
	}
	return p, nil
}

func (r *PlayerRepo) List(ctx context.Context) ([]store.Player, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT player_id, name, matches, runs, wickets, sold, team, sold_amount
		 FROM players ORDER BY player_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	defer rows.Close()

	var players []store.Player
	for rows.Next() {
		var p store.Player
		if err := rows.Scan(&p.ID, &p.Name, &p.Matches, &p.Runs, &p.Wickets, &p.Sold, &p.Team, &p.SoldAmount); err != nil {
			return nil, fmt.Errorf("scanning player row: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (r *PlayerRepo) MarkSold(ctx context.Context, id int, team string, amount int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE players SET sold = TRUE, team = $1, sold_amount = $2 WHERE player_id = $3`,
		team, amount, id,
	)
	return mustAffect(result, err, fmt.Sprintf("selling player %d", id))
}

func (r *PlayerRepo) MarkUnsold(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE players SET sold = FALSE, team = NULL, sold_amount = NULL WHERE player_id = $1`, id)
	return mustAffect(result, err, fmt.Sprintf("unselling player %d", id))
}

func (r *PlayerRepo) ResetAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE players SET sold = FALSE, team = NULL, sold_amount = NULL`); err != nil {
		return fmt.Errorf("resetting players: %w", err)
	}
	return nil
}
