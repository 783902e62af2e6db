package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-console/internal/admin"
	"github.com/jensholdgaard/auction-console/internal/auction"
	"github.com/jensholdgaard/auction-console/internal/captain"
	"github.com/jensholdgaard/auction-console/internal/event"
	"github.com/jensholdgaard/auction-console/internal/store"
)

// maxChoices is the Discord limit on autocomplete choices.
const maxChoices = 25

// Admin is the admin console used by the admin-only commands.
type Admin interface {
	NextPlayer(ctx context.Context) (*store.Player, error)
	SellPlayer(ctx context.Context) (*admin.Sale, error)
	ResetBid(ctx context.Context, by string) error
	ResetAuction(ctx context.Context, by string) error
	AssignCaptain(ctx context.Context, team string, playerID int) error
	RemoveCaptain(ctx context.Context, team string) error
	GenerateTeamPins(ctx context.Context) (map[string]string, error)
	Board(ctx context.Context) (*admin.Board, error)
	SaleHistory(ctx context.Context) ([]admin.Sale, error)
	TeamLedger(ctx context.Context, team string) (*admin.Ledger, error)
	FindPlayers(ctx context.Context, query string, limit int) ([]store.Player, error)
}

// Console is one team's captain console.
type Console interface {
	Options(ctx context.Context) (captain.Options, error)
	Raise(ctx context.Context, step auction.Step) (int, error)
}

// Sessions binds Discord users to teams.
type Sessions interface {
	Login(ctx context.Context, user, team, pin string) error
	Team(user string) (string, error)
	Clear()
}

// Handlers process Discord interactions.
type Handlers struct {
	admin       Admin
	consoles    map[string]Console
	sessions    Sessions
	adminRoleID string
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewHandlers creates new command handlers. An empty adminRoleID lets every
// member run the admin commands.
func NewHandlers(adm Admin, consoles map[string]Console, sessions Sessions, adminRoleID string, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		admin:       adm,
		consoles:    consoles,
		sessions:    sessions,
		adminRoleID: adminRoleID,
		logger:      logger,
		tracer:      tp.Tracer("github.com/jensholdgaard/auction-console/internal/bot/commands"),
	}
}

// Teams returns the team names that have a console, sorted.
func (h *Handlers) Teams() []string {
	names := make([]string, 0, len(h.consoles))
	for name := range h.consoles {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SlashCommands returns the slash command definitions.
func SlashCommands(teams []string) []*discordgo.ApplicationCommand {
	teamChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(teams))
	for _, t := range teams {
		teamChoices = append(teamChoices, &discordgo.ApplicationCommandOptionChoice{Name: t, Value: t})
	}
	teamOption := func() *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "team",
			Description: "Team name",
			Required:    true,
			Choices:     teamChoices,
		}
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        "auction",
			Description: "Show the player up for bidding and the current bid",
		},
		{
			Name:        "teams",
			Description: "Show purses and roster sizes",
		},
		{
			Name:        "login",
			Description: "Log in as a team captain",
			Options: []*discordgo.ApplicationCommandOption{
				teamOption(),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "pin",
					Description: "Your team's 6-digit PIN",
					Required:    true,
				},
			},
		},
		{
			Name:        "bid",
			Description: "Raise the current bid for your team",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "step",
					Description: "Raise step",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "small", Value: "small"},
						{Name: "large", Value: "large"},
					},
				},
			},
		},
		{
			Name:        "sold",
			Description: "List every sale so far",
		},
		{
			Name:        "ledger",
			Description: "Show a team's purchases",
			Options:     []*discordgo.ApplicationCommandOption{teamOption()},
		},
		{
			Name:        "next-player",
			Description: "Open bidding on a random unsold player (admin only)",
		},
		{
			Name:        "sell",
			Description: "Sell the current player to the highest bidder (admin only)",
		},
		{
			Name:        "reset-bid",
			Description: "Clear the bid on the current player (admin only)",
		},
		{
			Name:        "reset-auction",
			Description: "Reset every team, player and PIN (admin only)",
		},
		{
			Name:        "assign-captain",
			Description: "Make a player a team's captain (admin only)",
			Options: []*discordgo.ApplicationCommandOption{
				teamOption(),
				{
					Type:         discordgo.ApplicationCommandOptionInteger,
					Name:         "player",
					Description:  "Player to appoint",
					Required:     true,
					Autocomplete: true,
				},
			},
		},
		{
			Name:        "remove-captain",
			Description: "Remove a team's captain (admin only)",
			Options:     []*discordgo.ApplicationCommandOption{teamOption()},
		},
		{
			Name:        "pins",
			Description: "Generate fresh team PINs (admin only)",
		},
	}
}

var adminOnly = map[string]bool{
	"next-player":    true,
	"sell":           true,
	"reset-bid":      true,
	"reset-auction":  true,
	"assign-captain": true,
	"remove-captain": true,
	"pins":           true,
}

// call is a slash command invocation stripped of the Discord transport.
type call struct {
	name  string
	user  string
	roles []string
	opts  map[string]*discordgo.ApplicationCommandInteractionDataOption
}

func (c call) str(name string) string {
	if o, ok := c.opts[name]; ok {
		return o.StringValue()
	}
	return ""
}

func (c call) integer(name string) int {
	if o, ok := c.opts[name]; ok {
		return int(o.IntValue())
	}
	return 0
}

// reply is the text sent back; private replies are only shown to the caller.
type reply struct {
	content string
	private bool
}

func public(format string, args ...any) reply {
	return reply{content: fmt.Sprintf(format, args...)}
}

func private(format string, args ...any) reply {
	return reply{content: fmt.Sprintf(format, args...), private: true}
}

// InteractionCreate handles incoming slash command and autocomplete interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
	case discordgo.InteractionApplicationCommandAutocomplete:
		h.autocomplete(s, i)
		return
	default:
		return
	}

	data := i.ApplicationCommandData()
	ctx, span := h.tracer.Start(context.Background(), "InteractionCreate",
		trace.WithAttributes(attribute.String("command", data.Name)),
	)
	defer span.End()

	c := call{name: data.Name, opts: optionMap(data.Options)}
	if i.Member != nil {
		c.user, c.roles = i.Member.User.ID, i.Member.Roles
	} else if i.User != nil {
		c.user = i.User.ID
	}

	r := h.handle(ctx, c)
	respond(s, i, r)
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func (h *Handlers) handle(ctx context.Context, c call) reply {
	if adminOnly[c.name] && !h.isAdmin(c.roles) {
		return private("This command is for the auctioneer only.")
	}

	switch c.name {
	case "auction":
		return h.handleAuction(ctx)
	case "teams":
		return h.handleTeams(ctx)
	case "login":
		return h.handleLogin(ctx, c)
	case "bid":
		return h.handleBid(ctx, c)
	case "sold":
		return h.handleSold(ctx)
	case "ledger":
		return h.handleLedger(ctx, c)
	case "next-player":
		return h.handleNextPlayer(ctx)
	case "sell":
		return h.handleSell(ctx)
	case "reset-bid":
		return h.handleResetBid(ctx, c)
	case "reset-auction":
		return h.handleReset(ctx, c)
	case "assign-captain":
		return h.handleAssignCaptain(ctx, c)
	case "remove-captain":
		return h.handleRemoveCaptain(ctx, c)
	case "pins":
		return h.handlePins(ctx)
	default:
		return private("Unknown command")
	}
}

func (h *Handlers) isAdmin(roles []string) bool {
	return h.adminRoleID == "" || slices.Contains(roles, h.adminRoleID)
}

func (h *Handlers) handleAuction(ctx context.Context) reply {
	b, err := h.admin.Board(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "loading board", slog.Any("error", err))
		return private("Could not load the auction, please try again.")
	}
	if b.ActivePlayer == nil {
		return public("No player is up for bidding.")
	}
	p := b.ActivePlayer
	msg := fmt.Sprintf("**%s** (matches %d, runs %d, wickets %d)\n", p.Name, p.Matches, p.Runs, p.Wickets)
	if b.Auction.HasBid() {
		msg += fmt.Sprintf("Current bid: **₹%d** by **%s**", b.Auction.CurrentBid, b.Auction.LastBidder)
	} else {
		msg += "No bids yet."
	}
	return public("%s", msg)
}

func (h *Handlers) handleTeams(ctx context.Context) reply {
	b, err := h.admin.Board(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "loading board", slog.Any("error", err))
		return private("Could not load teams, please try again.")
	}
	var sb strings.Builder
	sb.WriteString("**Teams:**\n")
	for _, t := range b.Teams {
		fmt.Fprintf(&sb, "%s: ₹%d left, %d players", t.Name, t.Purse, t.PlayerCount)
		if t.CaptainName != nil {
			fmt.Fprintf(&sb, ", captain %s", *t.CaptainName)
		}
		sb.WriteString("\n")
	}
	return public("%s", sb.String())
}

func (h *Handlers) handleLogin(ctx context.Context, c call) reply {
	team := c.str("team")
	if err := h.sessions.Login(ctx, c.user, team, c.str("pin")); err != nil {
		return private("Login failed: %s", err)
	}
	return private("Logged in as captain of **%s**. Use `/bid` to raise.", team)
}

func (h *Handlers) handleBid(ctx context.Context, c call) reply {
	team, err := h.sessions.Team(c.user)
	if err != nil {
		return private("Log in with `/login` first.")
	}
	console, ok := h.consoles[team]
	if !ok {
		return private("No console for team %s.", team)
	}
	step, ok := auction.ParseStep(c.str("step"))
	if !ok {
		return private("Step must be small or large.")
	}

	bid, err := console.Raise(ctx, step)
	if err != nil {
		if opts, oerr := console.Options(ctx); oerr == nil && errors.Is(err, captain.ErrCannotAfford) {
			return private("Bid failed: %s (purse ₹%d)", err, opts.Purse)
		}
		return private("Bid failed: %s", err)
	}
	return public("**%s** bids **₹%d**", team, bid)
}

func (h *Handlers) handleSold(ctx context.Context) reply {
	sales, err := h.admin.SaleHistory(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "loading sales", slog.Any("error", err))
		return private("Could not load sales, please try again.")
	}
	if len(sales) == 0 {
		return public("No players sold yet.")
	}
	var sb strings.Builder
	sb.WriteString("**Sold:**\n")
	for idx, s := range sales {
		fmt.Fprintf(&sb, "%d. %s to %s for ₹%d\n", idx+1, s.PlayerName, s.Team, s.Amount)
	}
	return public("%s", sb.String())
}

func (h *Handlers) handleLedger(ctx context.Context, c call) reply {
	team := c.str("team")
	l, err := h.admin.TeamLedger(ctx, team)
	if err != nil {
		return private("Could not load ledger for %s: %s", team, err)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s**: ₹%d left, ₹%d spent\n", l.Team.Name, l.Team.Purse, l.Spent)
	for _, e := range l.Entries {
		switch e.Type {
		case event.PlayerSold:
			fmt.Fprintf(&sb, "bought %s for ₹%d\n", e.PlayerName, e.Amount)
		case event.CaptainAssigned:
			fmt.Fprintf(&sb, "appointed captain %s\n", e.PlayerName)
		case event.CaptainRemoved:
			fmt.Fprintf(&sb, "removed captain %s\n", e.PlayerName)
		}
	}
	return public("%s", sb.String())
}

func (h *Handlers) handleNextPlayer(ctx context.Context) reply {
	p, err := h.admin.NextPlayer(ctx)
	if err != nil {
		return private("Could not open the next lot: %s", err)
	}
	return public("Up for bidding: **%s** (matches %d, runs %d, wickets %d)", p.Name, p.Matches, p.Runs, p.Wickets)
}

func (h *Handlers) handleSell(ctx context.Context) reply {
	sale, err := h.admin.SellPlayer(ctx)
	if err != nil {
		return private("Could not sell: %s", err)
	}
	return public("**%s** sold to **%s** for **₹%d** (₹%d left)", sale.PlayerName, sale.Team, sale.Amount, sale.PurseAfter)
}

func (h *Handlers) handleResetBid(ctx context.Context, c call) reply {
	if err := h.admin.ResetBid(ctx, c.user); err != nil {
		return private("Could not reset the bid: %s", err)
	}
	return public("Bid cleared. Bidding restarts from zero.")
}

func (h *Handlers) handleReset(ctx context.Context, c call) reply {
	if err := h.admin.ResetAuction(ctx, c.user); err != nil {
		return private("Reset failed: %s", err)
	}
	h.sessions.Clear()
	return public("Auction reset. Captains must log in again with the new PINs.")
}

func (h *Handlers) handleAssignCaptain(ctx context.Context, c call) reply {
	team := c.str("team")
	if err := h.admin.AssignCaptain(ctx, team, c.integer("player")); err != nil {
		return private("Could not assign captain: %s", err)
	}
	return public("Captain assigned to **%s**.", team)
}

func (h *Handlers) handleRemoveCaptain(ctx context.Context, c call) reply {
	team := c.str("team")
	if err := h.admin.RemoveCaptain(ctx, team); err != nil {
		return private("Could not remove captain: %s", err)
	}
	return public("Captain removed from **%s**.", team)
}

func (h *Handlers) handlePins(ctx context.Context) reply {
	pins, err := h.admin.GenerateTeamPins(ctx)
	if err != nil {
		return private("Could not generate PINs: %s", err)
	}
	h.sessions.Clear()

	names := make([]string, 0, len(pins))
	for name := range pins {
		names = append(names, name)
	}
	slices.Sort(names)

	var sb strings.Builder
	sb.WriteString("**New PINs:**\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "%s: `%s`\n", name, pins[name])
	}
	return private("%s", sb.String())
}

// playerChoices answers the assign-captain player autocomplete.
func (h *Handlers) playerChoices(ctx context.Context, query string) []*discordgo.ApplicationCommandOptionChoice {
	players, err := h.admin.FindPlayers(ctx, query, maxChoices)
	if err != nil {
		h.logger.WarnContext(ctx, "player autocomplete", slog.Any("error", err))
		return nil
	}
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(players))
	for _, p := range players {
		if p.Sold {
			continue
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: p.Name, Value: p.ID})
	}
	return choices
}

func (h *Handlers) autocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, span := h.tracer.Start(context.Background(), "Autocomplete")
	defer span.End()

	var query string
	for _, o := range i.ApplicationCommandData().Options {
		if o.Focused {
			query = fmt.Sprint(o.Value)
		}
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: h.playerChoices(ctx, query)},
	})
	if err != nil {
		h.logger.WarnContext(ctx, "autocomplete response", slog.Any("error", err))
	}
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, r reply) {
	data := &discordgo.InteractionResponseData{Content: r.content}
	if r.private {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
}
