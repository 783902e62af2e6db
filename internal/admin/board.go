package admin

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/jensholdgaard/auction-console/internal/auction"
	"github.com/jensholdgaard/auction-console/internal/event"
	"github.com/jensholdgaard/auction-console/internal/store"
)

// Board is what spectators and consoles render: the mirror, the player up
// for bidding and the team standings.
type Board struct {
	Auction      auction.Snapshot `json:"auction"`
	ActivePlayer *store.Player    `json:"active_player,omitempty"`
	Teams        []store.Team     `json:"teams"`
}

// NewBoard resolves a mirror snapshot against the store.
func NewBoard(ctx context.Context, snap auction.Snapshot, teams store.TeamRepository, players store.PlayerRepository) (*Board, error) {
	b := &Board{Auction: snap}

	ts, err := teams.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}
	b.Teams = ts

	if snap.HasActivePlayer() {
		ps, err := players.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing players: %w", err)
		}
		if snap.ActivePlayerIndex < len(ps) {
			p := ps[snap.ActivePlayerIndex]
			b.ActivePlayer = &p
		}
	}
	return b, nil
}

// Board returns the board as seen by the admin mirror.
func (m *Manager) Board(ctx context.Context) (*Board, error) {
	return NewBoard(ctx, m.mirror.Snapshot(), m.teams, m.players)
}

// SaleHistory lists every sale in the order it happened.
func (m *Manager) SaleHistory(ctx context.Context) ([]Sale, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.SaleHistory")
	defer span.End()

	events, err := m.events.LoadByType(ctx, event.PlayerSold)
	if err != nil {
		return nil, fmt.Errorf("loading sales: %w", err)
	}
	sales := make([]Sale, 0, len(events))
	for _, e := range events {
		var d event.PlayerSoldData
		if err := e.Decode(&d); err != nil {
			return nil, err
		}
		sales = append(sales, Sale(d))
	}
	return sales, nil
}

// LedgerEntry is one line of a team ledger.
type LedgerEntry struct {
	Type       event.Type `json:"type"`
	PlayerName string     `json:"player_name"`
	Amount     int        `json:"amount"`
	Version    int        `json:"version"`
}

// Ledger is a team's purchase history next to its current standing.
type Ledger struct {
	Team    store.Team    `json:"team"`
	Entries []LedgerEntry `json:"entries"`
	Spent   int           `json:"spent"`
}

// TeamLedger replays the team's events.
func (m *Manager) TeamLedger(ctx context.Context, team string) (*Ledger, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.TeamLedger")
	defer span.End()

	t, err := m.teams.Get(ctx, team)
	if err != nil {
		return nil, fmt.Errorf("reading team %s: %w", team, err)
	}
	events, err := m.events.Load(ctx, team, event.PlayerSold, event.CaptainAssigned, event.CaptainRemoved)
	if err != nil {
		return nil, fmt.Errorf("loading ledger for %s: %w", team, err)
	}

	l := &Ledger{Team: *t}
	for _, e := range events {
		entry := LedgerEntry{Type: e.Type, Version: e.Version}
		switch e.Type {
		case event.PlayerSold:
			var d event.PlayerSoldData
			if err := e.Decode(&d); err != nil {
				return nil, err
			}
			entry.PlayerName, entry.Amount = d.PlayerName, d.Amount
			l.Spent += d.Amount
		case event.CaptainAssigned, event.CaptainRemoved:
			var d event.CaptainData
			if err := e.Decode(&d); err != nil {
				return nil, err
			}
			entry.PlayerName = d.PlayerName
		default:
			continue
		}
		l.Entries = append(l.Entries, entry)
	}
	return l, nil
}

// FindPlayers returns players whose names fuzzily match query, best first.
func (m *Manager) FindPlayers(ctx context.Context, query string, limit int) ([]store.Player, error) {
	players, err := m.players.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	names := make([]string, len(players))
	for i, p := range players {
		names[i] = p.Name
	}

	ranks := fuzzy.RankFindNormalizedFold(query, names)
	slices.SortStableFunc(ranks, func(a, b fuzzy.Rank) int {
		return cmp.Or(cmp.Compare(a.Distance, b.Distance), cmp.Compare(a.OriginalIndex, b.OriginalIndex))
	})

	var out []store.Player
	for _, r := range ranks {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, players[r.OriginalIndex])
	}
	return out, nil
}
