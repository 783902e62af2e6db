package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/auction-console/internal/admin"
	"github.com/jensholdgaard/auction-console/internal/auction"
	"github.com/jensholdgaard/auction-console/internal/captain"
	"github.com/jensholdgaard/auction-console/internal/event"
	"github.com/jensholdgaard/auction-console/internal/store"
)

type fakeAdmin struct {
	board    *admin.Board
	sale     *admin.Sale
	next     *store.Player
	pins     map[string]string
	found    []store.Player
	err      error
	resetBy  string
	bidReset string
	captain  int
	ledger   *admin.Ledger
	sales    []admin.Sale
	removals []string
}

func (f *fakeAdmin) NextPlayer(context.Context) (*store.Player, error) { return f.next, f.err }
func (f *fakeAdmin) SellPlayer(context.Context) (*admin.Sale, error)   { return f.sale, f.err }
func (f *fakeAdmin) ResetBid(_ context.Context, by string) error {
	f.bidReset = by
	return f.err
}
func (f *fakeAdmin) ResetAuction(_ context.Context, by string) error {
	f.resetBy = by
	return f.err
}
func (f *fakeAdmin) AssignCaptain(_ context.Context, _ string, id int) error {
	f.captain = id
	return f.err
}
func (f *fakeAdmin) RemoveCaptain(_ context.Context, team string) error {
	f.removals = append(f.removals, team)
	return f.err
}
func (f *fakeAdmin) GenerateTeamPins(context.Context) (map[string]string, error) { return f.pins, f.err }
func (f *fakeAdmin) Board(context.Context) (*admin.Board, error)                   { return f.board, f.err }
func (f *fakeAdmin) SaleHistory(context.Context) ([]admin.Sale, error)             { return f.sales, f.err }
func (f *fakeAdmin) TeamLedger(context.Context, string) (*admin.Ledger, error)     { return f.ledger, f.err }
func (f *fakeAdmin) FindPlayers(context.Context, string, int) ([]store.Player, error) {
	return f.found, f.err
}

type fakeConsole struct {
	bid    int
	err    error
	purse  int
	raised []auction.Step
}

func (f *fakeConsole) Options(context.Context) (captain.Options, error) {
	return captain.Options{Purse: f.purse}, nil
}

func (f *fakeConsole) Raise(_ context.Context, step auction.Step) (int, error) {
	f.raised = append(f.raised, step)
	return f.bid, f.err
}

type fakeSessions struct {
	users   map[string]string
	cleared bool
}

func (f *fakeSessions) Login(_ context.Context, user, team, pin string) error {
	if pin != "123456" {
		return captain.ErrInvalidPIN
	}
	f.users[user] = team
	return nil
}

func (f *fakeSessions) Team(user string) (string, error) {
	team, ok := f.users[user]
	if !ok {
		return "", captain.ErrNotLoggedIn
	}
	return team, nil
}

func (f *fakeSessions) Clear() { f.cleared = true }

func str(name, v string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionString, Value: v}
}

func num(name string, v int) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionInteger, Value: float64(v)}
}

func newTestHandlers(adm *fakeAdmin, console *fakeConsole, sessions *fakeSessions) *Handlers {
	return NewHandlers(adm, map[string]Console{"Thakur XI": console}, sessions, "admins", slog.Default(), noop.NewTracerProvider())
}

func TestHandle(t *testing.T) {
	rohit := &store.Player{ID: 1, Name: "Rohit", Matches: 200, Runs: 6000, Wickets: 8}

	tests := []struct {
		name        string
		call        call
		admin       *fakeAdmin
		console     *fakeConsole
		users       map[string]string
		want        string
		wantPrivate bool
	}{
		{
			name:  "auction with bid",
			call:  call{name: "auction"},
			admin: &fakeAdmin{board: &admin.Board{Auction: auction.Snapshot{State: auction.State{ActivePlayerIndex: 0, CurrentBid: 700, LastBidder: "Gabbar XI"}}, ActivePlayer: rohit}},
			want:  "Current bid: **₹700** by **Gabbar XI**",
		},
		{
			name:  "auction idle",
			call:  call{name: "auction"},
			admin: &fakeAdmin{board: &admin.Board{Auction: auction.Snapshot{State: auction.InitialState()}}},
			want:  "No player is up for bidding.",
		},
		{
			name:        "admin command without role",
			call:        call{name: "sell", roles: []string{"fans"}},
			admin:       &fakeAdmin{},
			want:        "auctioneer only",
			wantPrivate: true,
		},
		{
			name:  "sell",
			call:  call{name: "sell", roles: []string{"admins"}},
			admin: &fakeAdmin{sale: &admin.Sale{PlayerName: "Rohit", Team: "Gabbar XI", Amount: 4500, PurseAfter: 45500}},
			want:  "**Rohit** sold to **Gabbar XI** for **₹4500** (₹45500 left)",
		},
		{
			name:        "sell failure",
			call:        call{name: "sell", roles: []string{"admins"}},
			admin:       &fakeAdmin{err: admin.ErrNoBid},
			want:        "Could not sell: no bid has been placed",
			wantPrivate: true,
		},
		{
			name:  "reset bid",
			call:  call{name: "reset-bid", user: "boss", roles: []string{"admins"}},
			admin: &fakeAdmin{},
			want:  "Bid cleared.",
		},
		{
			name:        "reset bid without role",
			call:        call{name: "reset-bid", roles: []string{"fans"}},
			admin:       &fakeAdmin{},
			want:        "auctioneer only",
			wantPrivate: true,
		},
		{
			name:        "reset bid with nothing to clear",
			call:        call{name: "reset-bid", roles: []string{"admins"}},
			admin:       &fakeAdmin{err: admin.ErrNoBid},
			want:        "Could not reset the bid: no bid has been placed",
			wantPrivate: true,
		},
		{
			name:  "next player",
			call:  call{name: "next-player", roles: []string{"admins"}},
			admin: &fakeAdmin{next: rohit},
			want:  "Up for bidding: **Rohit**",
		},
		{
			name:        "bid without login",
			call:        call{name: "bid", user: "u1", opts: optionMap([]*discordgo.ApplicationCommandInteractionDataOption{str("step", "small")})},
			admin:       &fakeAdmin{},
			want:        "Log in with `/login` first.",
			wantPrivate: true,
		},
		{
			name:    "bid",
			call:    call{name: "bid", user: "u1", opts: optionMap([]*discordgo.ApplicationCommandInteractionDataOption{str("step", "large")})},
			admin:   &fakeAdmin{},
			console: &fakeConsole{bid: 1200},
			users:   map[string]string{"u1": "Thakur XI"},
			want:    "**Thakur XI** bids **₹1200**",
		},
		{
			name:        "bid not affordable",
			call:        call{name: "bid", user: "u1", opts: optionMap([]*discordgo.ApplicationCommandInteractionDataOption{str("step", "small")})},
			admin:       &fakeAdmin{},
			console:     &fakeConsole{err: captain.ErrCannotAfford, purse: 300},
			users:       map[string]string{"u1": "Thakur XI"},
			want:        "(purse ₹300)",
			wantPrivate: true,
		},
		{
			name:        "login",
			call:        call{name: "login", user: "u2", opts: optionMap([]*discordgo.ApplicationCommandInteractionDataOption{str("team", "Thakur XI"), str("pin", "123456")})},
			admin:       &fakeAdmin{},
			want:        "Logged in as captain of **Thakur XI**",
			wantPrivate: true,
		},
		{
			name:        "login wrong pin",
			call:        call{name: "login", user: "u2", opts: optionMap([]*discordgo.ApplicationCommandInteractionDataOption{str("team", "Thakur XI"), str("pin", "000000")})},
			admin:       &fakeAdmin{},
			want:        "Login failed",
			wantPrivate: true,
		},
		{
			name:        "pins are private",
			call:        call{name: "pins", roles: []string{"admins"}},
			admin:       &fakeAdmin{pins: map[string]string{"Thakur XI": "111111", "Gabbar XI": "222222"}},
			want:        "Gabbar XI: `222222`\nThakur XI: `111111`",
			wantPrivate: true,
		},
		{
			name:  "sold list",
			call:  call{name: "sold"},
			admin: &fakeAdmin{sales: []admin.Sale{{PlayerName: "Rohit", Team: "Gabbar XI", Amount: 4500}}},
			want:  "1. Rohit to Gabbar XI for ₹4500",
		},
		{
			name: "ledger",
			call: call{name: "ledger", opts: optionMap([]*discordgo.ApplicationCommandInteractionDataOption{str("team", "Gabbar XI")})},
			admin: &fakeAdmin{ledger: &admin.Ledger{
				Team:    store.Team{Name: "Gabbar XI", Purse: 45500},
				Spent:   4500,
				Entries: []admin.LedgerEntry{{Type: event.PlayerSold, PlayerName: "Rohit", Amount: 4500}},
			}},
			want: "bought Rohit for ₹4500",
		},
		{
			name:        "unknown",
			call:        call{name: "bogus"},
			admin:       &fakeAdmin{},
			want:        "Unknown command",
			wantPrivate: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			console := tt.console
			if console == nil {
				console = &fakeConsole{}
			}
			users := tt.users
			if users == nil {
				users = map[string]string{}
			}
			h := newTestHandlers(tt.admin, console, &fakeSessions{users: users})

			got := h.handle(context.Background(), tt.call)
			if !strings.Contains(got.content, tt.want) {
				t.Errorf("got %q, want it to contain %q", got.content, tt.want)
			}
			if got.private != tt.wantPrivate {
				t.Errorf("got private %v, want %v", got.private, tt.wantPrivate)
			}
		})
	}
}

func TestHandle_ResetClearsSessions(t *testing.T) {
	adm := &fakeAdmin{}
	sessions := &fakeSessions{users: map[string]string{"u1": "Thakur XI"}}
	h := newTestHandlers(adm, &fakeConsole{}, sessions)

	r := h.handle(context.Background(), call{name: "reset-auction", user: "boss", roles: []string{"admins"}})
	if r.private {
		t.Errorf("unexpected private reply %q", r.content)
	}
	if adm.resetBy != "boss" {
		t.Errorf("got reset by %q, want boss", adm.resetBy)
	}
	if !sessions.cleared {
		t.Error("sessions not cleared")
	}

	sessions.cleared = false
	adm.err = errors.New("db down")
	h.handle(context.Background(), call{name: "reset-auction", roles: []string{"admins"}})
	if sessions.cleared {
		t.Error("sessions cleared after failed reset")
	}
}

func TestHandle_ResetBidRecordsCaller(t *testing.T) {
	adm := &fakeAdmin{}
	sessions := &fakeSessions{users: map[string]string{"u1": "Thakur XI"}}
	h := newTestHandlers(adm, &fakeConsole{}, sessions)

	h.handle(context.Background(), call{name: "reset-bid", user: "boss", roles: []string{"admins"}})
	if adm.bidReset != "boss" {
		t.Errorf("got bid reset by %q, want boss", adm.bidReset)
	}
	if sessions.cleared {
		t.Error("a bid reset must keep captains logged in")
	}
}

func TestHandle_AssignCaptainUsesPlayerID(t *testing.T) {
	adm := &fakeAdmin{}
	h := newTestHandlers(adm, &fakeConsole{}, &fakeSessions{users: map[string]string{}})

	h.handle(context.Background(), call{
		name:  "assign-captain",
		roles: []string{"admins"},
		opts:  optionMap([]*discordgo.ApplicationCommandInteractionDataOption{str("team", "Thakur XI"), num("player", 42)}),
	})
	if adm.captain != 42 {
		t.Errorf("got player id %d, want 42", adm.captain)
	}
}

func TestPlayerChoices_SkipsSold(t *testing.T) {
	adm := &fakeAdmin{found: []store.Player{{ID: 1, Name: "Rohit", Sold: true}, {ID: 2, Name: "Rahul"}}}
	h := newTestHandlers(adm, &fakeConsole{}, &fakeSessions{})

	choices := h.playerChoices(context.Background(), "r")
	if len(choices) != 1 || choices[0].Name != "Rahul" || choices[0].Value != 2 {
		t.Fatalf("got choices %+v", choices)
	}
}

func TestSlashCommands(t *testing.T) {
	cmds := SlashCommands([]string{"Thakur XI", "Gabbar XI"})
	names := make(map[string]*discordgo.ApplicationCommand, len(cmds))
	for _, c := range cmds {
		names[c.Name] = c
	}
	for _, want := range []string{"auction", "teams", "login", "bid", "sold", "ledger", "next-player", "sell", "reset-bid", "reset-auction", "assign-captain", "remove-captain", "pins"} {
		if names[want] == nil {
			t.Errorf("missing command %q", want)
		}
	}
	if n := len(names["login"].Options[0].Choices); n != 2 {
		t.Errorf("got %d team choices, want 2", n)
	}
	for name := range adminOnly {
		if names[name] == nil {
			t.Errorf("admin-only %q is not registered", name)
		}
	}
}
