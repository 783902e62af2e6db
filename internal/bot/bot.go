package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/auction-console/internal/auction"
	"github.com/jensholdgaard/auction-console/internal/bot/commands"
	"github.com/jensholdgaard/auction-console/internal/config"
	"github.com/jensholdgaard/auction-console/internal/realtime"
)

// Feed delivers auction broadcasts for channel announcements.
type Feed interface {
	SubscribeAll(fn func(context.Context, realtime.Envelope)) (auction.Subscription, error)
}

// Bot wraps the Discord session and command handlers.
type Bot struct {
	session  *discordgo.Session
	cfg      config.DiscordConfig
	logger   *slog.Logger
	handlers *commands.Handlers
	feed     Feed
	cmds     []*discordgo.ApplicationCommand
	sub      auction.Subscription
}

// New creates a new Bot instance. feed may be nil to disable announcements.
func New(cfg config.DiscordConfig, handlers *commands.Handlers, feed Feed, logger *slog.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	return &Bot{
		session:  session,
		cfg:      cfg,
		logger:   logger,
		handlers: handlers,
		feed:     feed,
	}, nil
}

// Start opens the Discord connection, registers slash commands and begins
// announcing broadcasts.
func (b *Bot) Start(ctx context.Context) error {
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.InfoContext(ctx, "bot is ready", slog.String("user", s.State.User.Username))
	})

	b.session.AddHandler(b.handlers.InteractionCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}

	appCmds := commands.SlashCommands(b.handlers.Teams())
	registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.cfg.GuildID, appCmds)
	if err != nil {
		return fmt.Errorf("registering slash commands: %w", err)
	}
	b.cmds = registered
	b.logger.InfoContext(ctx, "slash commands registered", slog.Int("count", len(registered)))

	if b.feed != nil && b.cfg.AnnounceChannelID != "" {
		sub, err := b.feed.SubscribeAll(b.announce)
		if err != nil {
			return fmt.Errorf("subscribing to announcements: %w", err)
		}
		b.sub = sub
	}
	return nil
}

func (b *Bot) announce(ctx context.Context, env realtime.Envelope) {
	msg, ok := Announcement(env)
	if !ok {
		return
	}
	if _, err := b.session.ChannelMessageSend(b.cfg.AnnounceChannelID, msg); err != nil {
		b.logger.WarnContext(ctx, "announcement failed", slog.String("event", env.Event), slog.Any("error", err))
	}
}

// Announcement renders a broadcast for the announce channel. Bid updates
// are too frequent to announce.
func Announcement(env realtime.Envelope) (string, bool) {
	switch env.Event {
	case realtime.EventNextPlayer:
		var p realtime.NextPlayerPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return "", false
		}
		return fmt.Sprintf("Up for bidding: **%s**", p.PlayerName), true
	case realtime.EventPlayerSold:
		var p realtime.PlayerSoldPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return "", false
		}
		return fmt.Sprintf("**%s** sold to **%s** for **₹%d**", p.PlayerName, p.Team, p.Amount), true
	case realtime.EventCaptainAssigned:
		var p realtime.CaptainAssignedPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return "", false
		}
		return fmt.Sprintf("**%s** is the captain of **%s**", p.PlayerName, p.TeamName), true
	}
	return "", false
}

// Stop removes the registered commands and closes the Discord connection.
func (b *Bot) Stop() error {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	for _, cmd := range b.cmds {
		if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.cfg.GuildID, cmd.ID); err != nil {
			b.logger.Error("failed to delete command", slog.String("command", cmd.Name), slog.Any("error", err))
		}
	}
	return b.session.Close()
}
