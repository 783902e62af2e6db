package captain_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/auction-console/internal/auction"
	"github.com/jensholdgaard/auction-console/internal/captain"
	"github.com/jensholdgaard/auction-console/internal/event"
	"github.com/jensholdgaard/auction-console/internal/store"
)

var testTP = noop.NewTracerProvider()

// --- fakes ---

type fakeMirror struct {
	mu      sync.Mutex
	state   auction.State
	bids    []auction.BidUpdate
	bidErr  error
	started bool
	closed  bool
	resyncs int
}

func (f *fakeMirror) Start(context.Context) {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
}

func (f *fakeMirror) Snapshot() auction.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return auction.Snapshot{State: f.state}
}

func (f *fakeMirror) PlaceBid(_ context.Context, newBid int, bidder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bidErr != nil {
		return f.bidErr
	}
	f.bids = append(f.bids, auction.BidUpdate{NewBid: newBid, Bidder: bidder})
	f.state.CurrentBid = newBid
	f.state.LastBidder = bidder
	return nil
}

func (f *fakeMirror) Resync(context.Context) error {
	f.mu.Lock()
	f.resyncs++
	f.mu.Unlock()
	return nil
}

func (f *fakeMirror) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeMirror) resyncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resyncs
}

type fakeTeams struct {
	teams map[string]*store.Team
	err   error
}

func (f *fakeTeams) Get(_ context.Context, name string) (*store.Team, error) {
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.teams[name]
	if !ok {
		return nil, fmt.Errorf("team %s: %w", name, store.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (f *fakeEvents) Append(_ context.Context, events ...event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, events...)
	return nil
}

func (f *fakeEvents) Load(_ context.Context, id string, types ...event.Type) ([]event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.Event
	for _, e := range f.events {
		if e.AggregateID == id && (len(types) == 0 || slices.Contains(types, e.Type)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEvents) LoadByType(_ context.Context, types ...event.Type) ([]event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.Event
	for _, e := range f.events {
		if slices.Contains(types, e.Type) {
			out = append(out, e)
		}
	}
	return out, nil
}

func newConsole(state auction.State, purse, count int) (*captain.Console, *fakeMirror, *fakeTeams, *fakeEvents) {
	m := &fakeMirror{state: state}
	teams := &fakeTeams{teams: map[string]*store.Team{
		"Thakur XI": {Name: "Thakur XI", Purse: purse, PlayerCount: count},
	}}
	events := &fakeEvents{}
	c := captain.NewConsole("Thakur XI", m, teams, events, 12, time.Hour, slog.Default(), testTP)
	return c, m, teams, events
}

// --- tests ---

func TestConsole_Raise(t *testing.T) {
	tests := []struct {
		name    string
		state   auction.State
		purse   int
		count   int
		step    auction.Step
		want    int
		wantErr error
	}{
		{
			name:  "small raise on opening bid",
			state: auction.State{ActivePlayerIndex: 3},
			purse: 50000,
			step:  auction.StepSmall,
			want:  100,
		},
		{
			name:  "large raise below threshold",
			state: auction.State{ActivePlayerIndex: 3, CurrentBid: 4900, LastBidder: "Gabbar XI"},
			purse: 50000,
			step:  auction.StepLarge,
			want:  5400,
		},
		{
			name:  "steps escalate at threshold",
			state: auction.State{ActivePlayerIndex: 3, CurrentBid: 5000, LastBidder: "Gabbar XI"},
			purse: 50000,
			step:  auction.StepLarge,
			want:  6000,
		},
		{
			name:  "exact purse is affordable",
			state: auction.State{ActivePlayerIndex: 3, CurrentBid: 900, LastBidder: "Gabbar XI"},
			purse: 1000,
			step:  auction.StepSmall,
			want:  1000,
		},
		{
			name:    "no active player",
			state:   auction.InitialState(),
			purse:   50000,
			step:    auction.StepSmall,
			wantErr: captain.ErrNoActivePlayer,
		},
		{
			name:    "roster full",
			state:   auction.State{ActivePlayerIndex: 3},
			purse:   50000,
			count:   12,
			step:    auction.StepSmall,
			wantErr: captain.ErrRosterFull,
		},
		{
			name:    "cannot afford",
			state:   auction.State{ActivePlayerIndex: 3, CurrentBid: 900, LastBidder: "Gabbar XI"},
			purse:   1000,
			step:    auction.StepLarge,
			wantErr: captain.ErrCannotAfford,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, m, _, events := newConsole(tt.state, tt.purse, tt.count)

			got, err := c.Raise(context.Background(), tt.step)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Raise error = %v, want %v", err, tt.wantErr)
				}
				if len(m.bids) != 0 {
					t.Errorf("rejected raise reached the mirror: %v", m.bids)
				}
				return
			}
			if err != nil {
				t.Fatalf("Raise: %v", err)
			}
			if got != tt.want {
				t.Errorf("Raise = %d, want %d", got, tt.want)
			}
			if len(m.bids) != 1 || m.bids[0] != (auction.BidUpdate{NewBid: tt.want, Bidder: "Thakur XI"}) {
				t.Errorf("mirror bids = %v", m.bids)
			}
			if len(events.events) != 1 || events.events[0].Type != event.BidPlaced {
				t.Fatalf("events = %+v", events.events)
			}
			var data event.BidPlacedData
			if err := events.events[0].Decode(&data); err != nil {
				t.Fatal(err)
			}
			if data.Amount != tt.want || data.Team != "Thakur XI" || data.PlayerIndex != tt.state.ActivePlayerIndex {
				t.Errorf("event data = %+v", data)
			}
		})
	}
}

func TestConsole_RaisePurseUnavailable(t *testing.T) {
	c, m, teams, _ := newConsole(auction.State{ActivePlayerIndex: 1}, 50000, 0)
	teams.err = errors.New("connection refused")

	_, err := c.Raise(context.Background(), auction.StepSmall)
	if !errors.Is(err, auction.ErrPurseUnavailable) {
		t.Fatalf("Raise error = %v, want ErrPurseUnavailable", err)
	}
	if len(m.bids) != 0 {
		t.Errorf("bid placed despite purse failure")
	}
}

func TestConsole_RaiseMirrorRejects(t *testing.T) {
	c, m, _, events := newConsole(auction.State{ActivePlayerIndex: 1}, 50000, 0)
	m.bidErr = &auction.InsufficientFundsError{Team: "Thakur XI", Purse: 50, Bid: 100}

	_, err := c.Raise(context.Background(), auction.StepSmall)
	if !errors.Is(err, auction.ErrInsufficientFunds) {
		t.Fatalf("Raise error = %v, want ErrInsufficientFunds", err)
	}
	if len(events.events) != 0 {
		t.Errorf("rejected bid was recorded: %+v", events.events)
	}
}

func TestConsole_RaiseEventFailureIsNotFatal(t *testing.T) {
	c, _, _, events := newConsole(auction.State{ActivePlayerIndex: 1}, 50000, 0)
	events.err = errors.New("events table locked")

	if _, err := c.Raise(context.Background(), auction.StepSmall); err != nil {
		t.Fatalf("Raise: %v", err)
	}
}

func TestConsole_Options(t *testing.T) {
	c, _, _, _ := newConsole(auction.State{ActivePlayerIndex: 2, CurrentBid: 5200, LastBidder: "Gabbar XI"}, 6000, 4)

	opts, err := c.Options(context.Background())
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if opts.Small != 500 || opts.Large != 1000 {
		t.Errorf("increments = %d/%d, want 500/1000", opts.Small, opts.Large)
	}
	if !opts.CanSmall || opts.CanLarge {
		t.Errorf("CanSmall=%v CanLarge=%v, want true false", opts.CanSmall, opts.CanLarge)
	}
	if opts.Purse != 6000 || opts.PlayerCount != 4 || opts.RosterFull {
		t.Errorf("opts = %+v", opts)
	}

	idle, _, _, _ := newConsole(auction.InitialState(), 50000, 0)
	opts, _ = idle.Options(context.Background())
	if opts.CanSmall || opts.CanLarge {
		t.Error("raises offered with no active player")
	}
}

func TestConsole_StartFailureClosesMirror(t *testing.T) {
	m := &fakeMirror{state: auction.InitialState()}
	teams := &fakeTeams{teams: map[string]*store.Team{}}
	c := captain.NewConsole("Gabbar XI", m, teams, nil, 0, 0, slog.Default(), testTP)

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected error for a zero poll interval")
	}
	if !m.closed {
		t.Error("mirror left subscribed after a failed start")
	}
}

func TestConsole_StartPollsAndClose(t *testing.T) {
	m := &fakeMirror{state: auction.InitialState()}
	teams := &fakeTeams{teams: map[string]*store.Team{}}
	c := captain.NewConsole("Gabbar XI", m, teams, nil, 0, 20*time.Millisecond, slog.Default(), testTP)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !m.started {
		t.Error("mirror not started")
	}

	deadline := time.Now().Add(5 * time.Second)
	for m.resyncCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("poller did not resync the mirror")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !m.closed {
		t.Error("mirror not closed")
	}
}
