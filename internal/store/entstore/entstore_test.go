package entstore_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jensholdgaard/auction-console/internal/clock"
	"github.com/jensholdgaard/auction-console/internal/event"
	"github.com/jensholdgaard/auction-console/internal/store"
	"github.com/jensholdgaard/auction-console/internal/store/entstore"
)

func newTestRepos(t *testing.T) *store.Repositories {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("auction_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}

	repos, err := entstore.New(ctx, db, clock.Real{})
	if err != nil {
		t.Fatalf("entstore.New: %v", err)
	}
	t.Cleanup(func() { repos.Closer.Close() })
	return repos
}

func TestEntStore_AuctionRoundTrip(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	if err := repos.Seed(ctx, []string{"Thakur XI", "Gabbar XI"}, 50000); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	p := &store.Player{Name: "Rohit", Runs: 4000}
	if err := repos.Players.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	idx, bid, bidder := 0, 1500, "Gabbar XI"
	if err := repos.Auction.Update(ctx, store.AuctionStateUpdate{ActivePlayerIndex: &idx, CurrentBid: &bid, LastBidder: &bidder}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	s, err := repos.Auction.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.ActivePlayerIndex != 0 || s.CurrentBid != 1500 || s.Bidder() != "Gabbar XI" {
		t.Errorf("auction state = %+v", s)
	}

	if err := repos.Players.MarkSold(ctx, p.ID, "Gabbar XI", 1500); err != nil {
		t.Fatalf("MarkSold: %v", err)
	}
	if err := repos.Teams.UpdatePurseAndCount(ctx, "Gabbar XI", 48500, 1); err != nil {
		t.Fatalf("UpdatePurseAndCount: %v", err)
	}

	team, err := repos.Teams.Get(ctx, "Gabbar XI")
	if err != nil {
		t.Fatalf("Teams.Get: %v", err)
	}
	if team.Purse != 48500 || team.PlayerCount != 1 {
		t.Errorf("team = %+v", team)
	}

	players, err := repos.Players.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(players) != 1 || !players[0].Sold || *players[0].SoldAmount != 1500 {
		t.Errorf("players = %+v", players)
	}
}

func TestEntStore_NotFound(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	if _, err := repos.Teams.Get(ctx, "Nobody XI"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Teams.Get error = %v, want ErrNotFound", err)
	}
	if err := repos.Players.MarkSold(ctx, 404, "Nobody XI", 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("MarkSold error = %v, want ErrNotFound", err)
	}
}

func TestEntStore_Events(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	events := []event.Event{
		{AggregateID: "Thakur XI", Type: event.PlayerSold, Data: json.RawMessage(`{"amount":900}`)},
		{AggregateID: "Thakur XI", Type: event.PlayerSold, Data: json.RawMessage(`{"amount":1200}`)},
	}
	if err := repos.Events.Append(ctx, events...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	loaded, err := repos.Events.Load(ctx, "Thakur XI")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 || loaded[0].Version != 1 || loaded[1].Version != 2 {
		t.Fatalf("loaded = %+v", loaded)
	}
	var data event.PlayerSoldData
	if err := loaded[1].Decode(&data); err != nil || data.Amount != 1200 {
		t.Errorf("Decode = %+v, %v", data, err)
	}
}

func TestEntStore_EventTypeFilters(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	if err := repos.Events.Append(ctx,
		event.Event{AggregateID: "Thakur XI", Type: event.CaptainAssigned, Data: json.RawMessage(`{}`)},
		event.Event{AggregateID: "Thakur XI", Type: event.BidPlaced, Data: json.RawMessage(`{}`)},
		event.Event{AggregateID: "Thakur XI", Type: event.PlayerSold, Data: json.RawMessage(`{}`)},
		event.Event{AggregateID: event.AuctionAggregate, Type: event.BidReset, Data: json.RawMessage(`{}`)},
	); err != nil {
		t.Fatalf("Append: %v", err)
	}

	ledger, err := repos.Events.Load(ctx, "Thakur XI", event.CaptainAssigned, event.PlayerSold)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ledger) != 2 || ledger[0].Type != event.CaptainAssigned || ledger[1].Type != event.PlayerSold {
		t.Errorf("filtered Load = %+v", ledger)
	}

	admin, err := repos.Events.LoadByType(ctx, event.BidReset, event.CaptainAssigned)
	if err != nil {
		t.Fatalf("LoadByType: %v", err)
	}
	if len(admin) != 2 {
		t.Errorf("LoadByType returned %d events, want 2", len(admin))
	}

	none, err := repos.Events.LoadByType(ctx)
	if err != nil || len(none) != 0 {
		t.Errorf("LoadByType() with no types = %v, %v; want empty", none, err)
	}
}
