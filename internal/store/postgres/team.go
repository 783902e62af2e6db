package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/auction-console/internal/clock"
	"github.com/jensholdgaard/auction-console/internal/store"
)

const teamColumns = `team_name, purse, player_count, captain_player_id, captain_name, captain_pin, updated_at`

// TeamRepo implements store.TeamRepository with sqlx.
type TeamRepo struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewTeamRepo returns a new TeamRepo.
func NewTeamRepo(db *sqlx.DB, clk clock.Clock) *TeamRepo {
	return &TeamRepo{db: db, clock: clk}
}

func (r *TeamRepo) Ensure(ctx context.Context, name string, purse int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO teams (team_name, purse, player_count, updated_at)
		 VALUES ($1, $2, 0, $3) ON CONFLICT (team_name) DO NOTHING`,
		name, purse, r.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("ensuring team: %w", err)
	}
	return nil
}

func (r *TeamRepo) Get(ctx context.Context, name string) (*store.Team, error) {
	var t store.Team
	err := r.db.GetContext(ctx, &t, `SELECT `+teamColumns+` FROM teams WHERE team_name = $1`, name)
	if err != nil {
		return nil, notFound(err, "getting team "+name)
	}
	return &t, nil
}

func (r *TeamRepo) List(ctx context.Context) ([]store.Team, error) {
	var teams []store.Team
	err := r.db.SelectContext(ctx, &teams, `SELECT `+teamColumns+` FROM teams ORDER BY team_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	return teams, nil
}

func (r *TeamRepo) UpdatePurseAndCount(ctx context.Context, name string, purse, countDelta int) error {
	return r.exec(ctx, "updating purse",
		`UPDATE teams SET purse = $1, player_count = player_count + $2, updated_at = $3 WHERE team_name = $4`,
		purse, countDelta, r.clock.Now().UTC(), name,
	)
}

func (r *TeamRepo) SetCaptain(ctx context.Context, name string, playerID *int, playerName *string, playerCount int) error {
	return r.exec(ctx, "setting captain",
		`UPDATE teams SET captain_player_id = $1, captain_name = $2, player_count = $3, updated_at = $4
		 WHERE team_name = $5`,
		playerID, playerName, playerCount, r.clock.Now().UTC(), name,
	)
}

func (r *TeamRepo) SetPIN(ctx context.Context, name, pin string) error {
	return r.exec(ctx, "setting pin",
		`UPDATE teams SET captain_pin = $1, updated_at = $2 WHERE team_name = $3`,
		pin, r.clock.Now().UTC(), name,
	)
}

func (r *TeamRepo) ResetAll(ctx context.Context, purse int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE teams SET purse = $1, player_count = 0, captain_player_id = NULL,
		 captain_name = NULL, captain_pin = NULL, updated_at = $2`,
		purse, r.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("resetting teams: %w", err)
	}
	return nil
}

func (r *TeamRepo) exec(ctx context.Context, what, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s: team %s: %w", what, args[len(args)-1], store.ErrNotFound)
	}
	return nil
}
