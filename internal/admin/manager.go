// Package admin implements the auctioneer's console: opening lots, selling
// players, managing captains and resetting the event.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-console/internal/auction"
	"github.com/jensholdgaard/auction-console/internal/event"
	"github.com/jensholdgaard/auction-console/internal/realtime"
	"github.com/jensholdgaard/auction-console/internal/store"
)

const instrumentationName = "github.com/jensholdgaard/auction-console/internal/admin"

var (
	ErrBidOpen          = errors.New("a bid is open on the current player, sell first")
	ErrNoUnsoldPlayers  = errors.New("all players have been auctioned")
	ErrNoActivePlayer   = errors.New("no player is up for bidding")
	ErrNoBid            = errors.New("no bid has been placed")
	ErrRosterFull       = errors.New("roster is full")
	ErrPlayerSold       = errors.New("player is already sold")
	ErrCaptainAssigned  = errors.New("team already has a captain, remove it first")
	ErrNoCaptain        = errors.New("team has no captain")
	ErrPlayerOutOfRange = errors.New("active player index does not match the player list")
)

// Mirror is the admin session's view of the auction record.
type Mirror interface {
	Snapshot() auction.Snapshot
	SetActivePlayer(ctx context.Context, index int)
}

// Publisher sends named broadcasts.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) error
}

// Rules are the event parameters the admin enforces.
type Rules struct {
	StartingPurse int
	RosterCap     int
}

// Option configures a Manager.
type Option func(*Manager)

// WithRand replaces the random source used to pick lots and PINs.
func WithRand(intn func(n int) int) Option {
	return func(m *Manager) { m.intn = intn }
}

// Manager handles admin operations.
type Manager struct {
	teams   store.TeamRepository
	players store.PlayerRepository
	state   store.AuctionStateRepository
	events  event.Store
	mirror  Mirror
	bus     Publisher
	rules   Rules
	intn    func(n int) int
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewManager returns a new admin Manager.
func NewManager(repos *store.Repositories, mirror Mirror, bus Publisher, rules Rules, logger *slog.Logger, tp trace.TracerProvider, opts ...Option) *Manager {
	m := &Manager{
		teams:   repos.Teams,
		players: repos.Players,
		state:   repos.Auction,
		events:  repos.Events,
		mirror:  mirror,
		bus:     bus,
		rules:   rules,
		intn:    rand.IntN,
		logger:  logger,
		tracer:  tp.Tracer(instrumentationName),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Sale describes a completed sale.
type Sale struct {
	PlayerID   int    `json:"player_id"`
	PlayerName string `json:"player_name"`
	Team       string `json:"team"`
	Amount     int    `json:"amount"`
	PurseAfter int    `json:"purse_after"`
}

// NextPlayer opens bidding on a random unsold player.
func (m *Manager) NextPlayer(ctx context.Context) (*store.Player, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.NextPlayer")
	defer span.End()

	st, err := m.state.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading auction state: %w", err)
	}
	if st.CurrentBid > 0 && st.Bidder() != "" {
		return nil, ErrBidOpen
	}

	players, err := m.players.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	var unsold []int
	for i, p := range players {
		if !p.Sold {
			unsold = append(unsold, i)
		}
	}
	if len(unsold) == 0 {
		return nil, ErrNoUnsoldPlayers
	}

	index := unsold[m.intn(len(unsold))]
	player := players[index]
	span.SetAttributes(attribute.Int("player_index", index), attribute.Int("player_id", player.ID))

	zero, none := 0, ""
	if err := m.state.Update(ctx, store.AuctionStateUpdate{
		ActivePlayerIndex: &index,
		CurrentBid:        &zero,
		LastBidder:        &none,
	}); err != nil {
		return nil, fmt.Errorf("opening lot: %w", err)
	}
	m.mirror.SetActivePlayer(ctx, index)

	m.publish(ctx, realtime.EventNextPlayer, realtime.NextPlayerPayload{
		PlayerIndex: index,
		PlayerID:    player.ID,
		PlayerName:  player.Name,
	})
	m.record(ctx, event.AuctionAggregate, event.LotOpened, event.LotOpenedData{
		PlayerID:    player.ID,
		PlayerName:  player.Name,
		PlayerIndex: index,
	})

	m.logger.InfoContext(ctx, "lot opened",
		slog.Int("player_index", index),
		slog.String("player", player.Name),
	)
	return &player, nil
}

// SellPlayer sells the active player to the last bidder for the current bid.
func (m *Manager) SellPlayer(ctx context.Context) (*Sale, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.SellPlayer")
	defer span.End()

	st, err := m.state.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading auction state: %w", err)
	}
	if st.ActivePlayerIndex == auction.NoActivePlayer {
		return nil, ErrNoActivePlayer
	}
	bidder, bid := st.Bidder(), st.CurrentBid
	if bid <= 0 || bidder == "" {
		return nil, ErrNoBid
	}

	players, err := m.players.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	if st.ActivePlayerIndex >= len(players) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrPlayerOutOfRange, st.ActivePlayerIndex, len(players))
	}
	player := players[st.ActivePlayerIndex]
	if player.Sold {
		return nil, fmt.Errorf("%w: %s", ErrPlayerSold, player.Name)
	}

	team, err := m.teams.Get(ctx, bidder)
	if err != nil {
		return nil, fmt.Errorf("reading team %s: %w", bidder, err)
	}
	if team.PlayerCount >= m.rules.RosterCap {
		return nil, fmt.Errorf("%w: %s has %d players", ErrRosterFull, bidder, team.PlayerCount)
	}
	if team.Purse < bid {
		return nil, &auction.InsufficientFundsError{Team: bidder, Purse: team.Purse, Bid: bid}
	}

	span.SetAttributes(
		attribute.Int("player_id", player.ID),
		attribute.String("team", bidder),
		attribute.Int("amount", bid),
	)

	if err := m.players.MarkSold(ctx, player.ID, bidder, bid); err != nil {
		return nil, fmt.Errorf("marking player sold: %w", err)
	}
	purse := team.Purse - bid
	if err := m.teams.UpdatePurseAndCount(ctx, bidder, purse, 1); err != nil {
		return nil, fmt.Errorf("charging %s: %w", bidder, err)
	}

	zero, none := 0, ""
	if err := m.state.Update(ctx, store.AuctionStateUpdate{CurrentBid: &zero, LastBidder: &none}); err != nil {
		span.RecordError(err)
		m.logger.ErrorContext(ctx, "clearing bid after sale failed", slog.Any("error", err))
	}
	m.mirror.SetActivePlayer(ctx, auction.NoActivePlayer)

	sale := &Sale{
		PlayerID:   player.ID,
		PlayerName: player.Name,
		Team:       bidder,
		Amount:     bid,
		PurseAfter: purse,
	}
	m.publish(ctx, realtime.EventPlayerSold, realtime.PlayerSoldPayload{
		PlayerID:   player.ID,
		PlayerName: player.Name,
		Team:       bidder,
		Amount:     bid,
	})
	m.record(ctx, bidder, event.PlayerSold, event.PlayerSoldData{
		PlayerID:   player.ID,
		PlayerName: player.Name,
		Team:       bidder,
		Amount:     bid,
		PurseAfter: purse,
	})

	m.logger.InfoContext(ctx, "player sold",
		slog.String("player", player.Name),
		slog.String("team", bidder),
		slog.Int("amount", bid),
		slog.Int("purse_after", purse),
	)
	return sale, nil
}

// ResetBid clears the bid on the current lot and keeps the player up for
// bidding. It is the auctioneer's undo for a mistaken bid.
func (m *Manager) ResetBid(ctx context.Context, by string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.ResetBid", trace.WithAttributes(attribute.String("by", by)))
	defer span.End()

	st, err := m.state.Get(ctx)
	if err != nil {
		return fmt.Errorf("reading auction state: %w", err)
	}
	if st.CurrentBid == 0 && st.Bidder() == "" {
		return ErrNoBid
	}

	zero, none := 0, ""
	if err := m.state.Update(ctx, store.AuctionStateUpdate{CurrentBid: &zero, LastBidder: &none}); err != nil {
		return fmt.Errorf("clearing bid: %w", err)
	}

	m.record(ctx, event.AuctionAggregate, event.BidReset, event.BidResetData{
		PlayerIndex: st.ActivePlayerIndex,
		Amount:      st.CurrentBid,
		Bidder:      st.Bidder(),
		ResetBy:     by,
	})
	m.logger.InfoContext(ctx, "bid reset",
		slog.Int("amount", st.CurrentBid),
		slog.String("bidder", st.Bidder()),
		slog.String("by", by),
	)
	return nil
}

// ResetAuction restores every team, player and the auction record to the
// start of the event and issues fresh PINs.
func (m *Manager) ResetAuction(ctx context.Context, by string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.ResetAuction", trace.WithAttributes(attribute.String("by", by)))
	defer span.End()

	if err := m.teams.ResetAll(ctx, m.rules.StartingPurse); err != nil {
		return fmt.Errorf("resetting teams: %w", err)
	}
	if _, err := m.GenerateTeamPins(ctx); err != nil {
		return err
	}
	if err := m.players.ResetAll(ctx); err != nil {
		return fmt.Errorf("resetting players: %w", err)
	}
	zero, none := 0, ""
	if err := m.state.Update(ctx, store.AuctionStateUpdate{CurrentBid: &zero, LastBidder: &none}); err != nil {
		return fmt.Errorf("resetting auction state: %w", err)
	}
	m.mirror.SetActivePlayer(ctx, auction.NoActivePlayer)

	m.record(ctx, event.AuctionAggregate, event.AuctionReset, event.AuctionResetData{
		StartingPurse: m.rules.StartingPurse,
		ResetBy:       by,
	})
	m.logger.InfoContext(ctx, "auction reset", slog.String("by", by))
	return nil
}

// GenerateTeamPins gives every team a fresh, distinct 6-digit PIN.
func (m *Manager) GenerateTeamPins(ctx context.Context) (map[string]string, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.GenerateTeamPins")
	defer span.End()

	teams, err := m.teams.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing teams: %w", err)
	}

	pins := make(map[string]string, len(teams))
	used := make(map[string]struct{}, len(teams))
	for _, t := range teams {
		pin := m.pin()
		for _, dup := used[pin]; dup; _, dup = used[pin] {
			pin = m.pin()
		}
		used[pin] = struct{}{}

		if err := m.teams.SetPIN(ctx, t.Name, pin); err != nil {
			return nil, fmt.Errorf("saving pin for %s: %w", t.Name, err)
		}
		pins[t.Name] = pin
	}
	m.logger.InfoContext(ctx, "team pins generated", slog.Int("teams", len(pins)))
	return pins, nil
}

func (m *Manager) pin() string {
	return fmt.Sprintf("%06d", 100000+m.intn(900000))
}

// AssignCaptain makes a player the team's captain. The captain joins the
// roster for free.
func (m *Manager) AssignCaptain(ctx context.Context, team string, playerID int) error {
	ctx, span := m.tracer.Start(ctx, "Manager.AssignCaptain",
		trace.WithAttributes(
			attribute.String("team", team),
			attribute.Int("player_id", playerID),
		),
	)
	defer span.End()

	t, err := m.teams.Get(ctx, team)
	if err != nil {
		return fmt.Errorf("reading team %s: %w", team, err)
	}
	if t.HasCaptain() {
		return fmt.Errorf("%w: %s", ErrCaptainAssigned, *t.CaptainName)
	}
	p, err := m.players.Get(ctx, playerID)
	if err != nil {
		return fmt.Errorf("reading player %d: %w", playerID, err)
	}
	if p.Sold {
		return fmt.Errorf("%w: %s", ErrPlayerSold, p.Name)
	}

	if err := m.teams.SetCaptain(ctx, team, &p.ID, &p.Name, t.PlayerCount+1); err != nil {
		return fmt.Errorf("assigning captain: %w", err)
	}
	if err := m.players.MarkSold(ctx, p.ID, team, 0); err != nil {
		return fmt.Errorf("adding captain to roster: %w", err)
	}

	m.publish(ctx, realtime.EventCaptainAssigned, realtime.CaptainAssignedPayload{
		TeamName:   team,
		PlayerID:   p.ID,
		PlayerName: p.Name,
	})
	m.record(ctx, team, event.CaptainAssigned, event.CaptainData{PlayerID: p.ID, PlayerName: p.Name, Team: team})

	m.logger.InfoContext(ctx, "captain assigned",
		slog.String("team", team),
		slog.String("player", p.Name),
	)
	return nil
}

// RemoveCaptain clears the team's captain and returns the player to the pool.
func (m *Manager) RemoveCaptain(ctx context.Context, team string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.RemoveCaptain", trace.WithAttributes(attribute.String("team", team)))
	defer span.End()

	t, err := m.teams.Get(ctx, team)
	if err != nil {
		return fmt.Errorf("reading team %s: %w", team, err)
	}
	if !t.HasCaptain() {
		return ErrNoCaptain
	}
	captainID, captainName := *t.CaptainPlayerID, ""
	if t.CaptainName != nil {
		captainName = *t.CaptainName
	}

	if err := m.teams.SetCaptain(ctx, team, nil, nil, max(t.PlayerCount-1, 0)); err != nil {
		return fmt.Errorf("removing captain: %w", err)
	}
	if err := m.players.MarkUnsold(ctx, captainID); err != nil {
		return fmt.Errorf("returning captain to pool: %w", err)
	}

	m.record(ctx, team, event.CaptainRemoved, event.CaptainData{PlayerID: captainID, PlayerName: captainName, Team: team})
	m.logger.InfoContext(ctx, "captain removed",
		slog.String("team", team),
		slog.String("player", captainName),
	)
	return nil
}

func (m *Manager) publish(ctx context.Context, name string, payload any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, name, payload); err != nil {
		m.logger.WarnContext(ctx, "broadcast failed", slog.String("event", name), slog.Any("error", err))
	}
}

func (m *Manager) record(ctx context.Context, aggregateID string, typ event.Type, payload any) {
	e, err := event.New(aggregateID, typ, payload)
	if err == nil {
		err = m.events.Append(ctx, e)
	}
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to append event",
			slog.String("type", string(typ)),
			slog.Any("error", err),
		)
	}
}
