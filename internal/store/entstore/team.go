package entstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jensholdgaard/auction-console/internal/clock"
	"github.com/jensholdgaard/auction-console/internal/store"
)

// TeamRepo implements store.TeamRepository using database/sql.
type TeamRepo struct {
	db    *sql.DB
	clock clock.Clock
}

// NewTeamRepo returns a new TeamRepo.
func NewTeamRepo(db *sql.DB, clk clock.Clock) *TeamRepo {
	return &TeamRepo{db: db, clock: clk}
}

func (r *TeamRepo) Ensure(ctx context.Context, name string, purse int) error {
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO teams (team_name, purse, player_count, updated_at)
		 VALUES ($1, $2, 0, $3) ON CONFLICT (team_name) DO NOTHING`,
		name, purse, r.clock.Now().UTC(),
	); err != nil {
		return fmt.Errorf("ensuring team: %w", err)
	}
	return nil
}

func (r *TeamRepo) Get(ctx context.Context, name string) (*store.Team, error) {
	t := &store.Team{}
	err := r.db.QueryRowContext(ctx,
		`SELECT team_name, purse, player_count, captain_player_id, captain_name, captain_pin, updated_at
		 FROM teams WHERE team_name = $1`, name,
	).Scan(&t.Name, &t.Purse, &t.PlayerCount, &t.CaptainPlayerID, &t.CaptainName, &t.CaptainPIN, &t.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "getting team "+name)
	}
	return t, nil
}

func (r *TeamRepo) List(ctx context.Context) ([]store.Team, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT team_name, purse, player_count, captain_player_id, captain_name, captain_pin, updated_at
		 FROM teams ORDER BY team_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	defer rows.Close()

	var teams []store.Team
	for rows.Next() {
		var t store.Team
		if err := rows.Scan(&t.Name, &t.Purse, &t.PlayerCount, &t.CaptainPlayerID, &t.CaptainName, &t.CaptainPIN, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning team row: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

func (r *TeamRepo) UpdatePurseAndCount(ctx context.Context, name string, purse, countDelta int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE teams SET purse = $1, player_count = player_count + $2, updated_at = $3 WHERE team_name = $4`,
		purse, countDelta, r.clock.Now().UTC(), name,
	)
	return mustAffect(result, err, "updating purse of "+name)
}

func (r *TeamRepo) SetCaptain(ctx context.Context, name string, playerID *int, playerName *string, playerCount int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE teams SET captain_player_id = $1, captain_name = $2, player_count = $3, updated_at = $4
		 WHERE team_name = $5`,
		playerID, playerName, playerCount, r.clock.Now().UTC(), name,
	)
	return mustAffect(result, err, "setting captain of "+name)
}

func (r *TeamRepo) SetPIN(ctx context.Context, name, pin string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE teams SET captain_pin = $1, updated_at = $2 WHERE team_name = $3`,
		pin, r.clock.Now().UTC(), name,
	)
	return mustAffect(result, err, "setting pin of "+name)
}

func (r *TeamRepo) ResetAll(ctx context.Context, purse int) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE teams SET purse = $1, player_count = 0, captain_player_id = NULL,
		 captain_name = NULL, captain_pin = NULL, updated_at = $2`,
		purse, r.clock.Now().UTC(),
	); err != nil {
		return fmt.Errorf("resetting teams: %w", err)
	}
	return nil
}
