package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jensholdgaard/auction-console/internal/admin"
	"github.com/jensholdgaard/auction-console/internal/auction"
	"github.com/jensholdgaard/auction-console/internal/bot"
	"github.com/jensholdgaard/auction-console/internal/bot/commands"
	"github.com/jensholdgaard/auction-console/internal/captain"
	"github.com/jensholdgaard/auction-console/internal/clock"
	"github.com/jensholdgaard/auction-console/internal/config"
	"github.com/jensholdgaard/auction-console/internal/health"
	"github.com/jensholdgaard/auction-console/internal/leader"
	"github.com/jensholdgaard/auction-console/internal/poller"
	"github.com/jensholdgaard/auction-console/internal/realtime"
	"github.com/jensholdgaard/auction-console/internal/store"
	"github.com/jensholdgaard/auction-console/internal/telemetry"
	"github.com/jensholdgaard/auction-console/internal/viewer"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/auction-console/internal/store/entstore"
	_ "github.com/jensholdgaard/auction-console/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

// app holds the process-wide dependencies every session is built from.
type app struct {
	cfg     *config.Config
	tp      *telemetry.Provider
	logger  *slog.Logger
	repos   *store.Repositories
	backend *realtime.Backend
	bus     *realtime.Broadcaster
}

func (a *app) newSync() *auction.Sync {
	return auction.NewSync(a.backend, a.logger, a.tp.TracerProvider, a.tp.MeterProvider)
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	// Open store using the configured driver (sqlx or ent).
	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	if err := repos.Seed(ctx, cfg.Auction.Teams, cfg.Auction.StartingPurse); err != nil {
		return err
	}
	logger.InfoContext(ctx, "connected to database",
		slog.String("driver", cfg.Database.Driver),
		slog.Int("teams", len(cfg.Auction.Teams)),
	)

	feed := realtime.NewChangeFeed(cfg.Database.DSN(), cfg.Realtime.NotifyChannel, cfg.Realtime.PingInterval, logger, tp.TracerProvider)
	if err := feed.Start(ctx); err != nil {
		return fmt.Errorf("starting change feed: %w", err)
	}
	defer feed.Close()

	nc, err := realtime.Connect(cfg.Realtime.NATSURL, cfg.Telemetry.ServiceName, logger)
	if err != nil {
		return err
	}
	bus := realtime.NewBroadcaster(nc, cfg.Realtime.SubjectPrefix, clk, logger, tp.TracerProvider)
	defer bus.Close()

	a := &app{
		cfg:     cfg,
		tp:      tp,
		logger:  logger,
		repos:   repos,
		backend: realtime.NewBackend(repos.Auction, repos.Teams, feed, bus, logger),
		bus:     bus,
	}

	// The viewer mirror runs on every replica.
	viewerSync := a.newSync()
	viewerSync.Start(ctx)
	defer viewerSync.Close()

	viewerPoll := poller.ForResync("viewer", cfg.Auction.PollInterval, viewerSync, logger)
	if err := viewerPoll.Start(ctx); err != nil {
		return err
	}
	defer viewerPoll.Stop()

	feed.OnReconnect(func() {
		if resyncErr := viewerSync.Resync(ctx); resyncErr != nil {
			logger.WarnContext(ctx, "resync after feed reconnect failed", slog.Any("error", resyncErr))
		}
	})

	healthHandler := health.NewHandler(clk,
		health.Checker{Name: "database", Check: repos.Ping},
		health.Checker{Name: "change_feed", Check: feed.Ping},
		health.Checker{Name: "broadcast", Check: bus.Ping, Optional: true},
	)

	srv := viewer.NewServer(viewerSync, repos, bus, healthHandler, cfg.Server.AllowedOrigins, logger, tp.TracerProvider)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting viewer: %w", err)
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting viewer server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "viewer server error", slog.Any("error", listenErr))
		}
	}()

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "auctiond is running", slog.String("version", version))

	if cfg.Discord.Enabled() {
		elector := leader.New(cfg.LeaderElection, logger)
		if leaderErr := elector.Run(ctx, a.runConsoles, func() {
			logger.Info("consoles stopped, shutting down...")
			cancel()
		}); leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	} else {
		logger.InfoContext(ctx, "discord token not set, serving the viewer only")
		<-ctx.Done()
	}

	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}

// runConsoles runs the admin and captain consoles behind the Discord bot.
// Only the leader runs it; it blocks until ctx is done.
func (a *app) runConsoles(ctx context.Context) {
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				a.logger.Error("console shutdown error", slog.Any("error", err))
			}
		}
	}()

	adminSync := a.newSync()
	adminSync.Start(ctx)
	closers = append(closers, adminSync.Close)

	adminPoll := poller.ForResync("admin", a.cfg.Auction.PollInterval, adminSync, a.logger)
	if err := adminPoll.Start(ctx); err != nil {
		a.logger.ErrorContext(ctx, "starting admin poller failed", slog.Any("error", err))
		return
	}
	closers = append(closers, adminPoll.Stop)

	mgr := admin.NewManager(a.repos, adminSync, a.bus, admin.Rules{
		StartingPurse: a.cfg.Auction.StartingPurse,
		RosterCap:     a.cfg.Auction.RosterCap,
	}, a.logger, a.tp.TracerProvider)

	consoles := make(map[string]commands.Console, len(a.cfg.Auction.Teams))
	for _, team := range a.cfg.Auction.Teams {
		c := captain.NewConsole(team, a.newSync(), a.repos.Teams, a.repos.Events,
			a.cfg.Auction.RosterCap, a.cfg.Auction.PollInterval, a.logger, a.tp.TracerProvider)
		if err := c.Start(ctx); err != nil {
			a.logger.ErrorContext(ctx, "starting captain console failed", slog.String("team", team), slog.Any("error", err))
			return
		}
		closers = append(closers, c.Close)
		consoles[team] = c
	}

	sessions := captain.NewSessions(a.repos.Teams, a.logger)
	handlers := commands.NewHandlers(mgr, consoles, sessions, a.cfg.Discord.AdminRoleID, a.logger, a.tp.TracerProvider)

	discordBot, err := bot.New(a.cfg.Discord, handlers, a.bus, a.logger)
	if err != nil {
		a.logger.ErrorContext(ctx, "creating bot failed", slog.Any("error", err))
		return
	}
	if err := discordBot.Start(ctx); err != nil {
		a.logger.ErrorContext(ctx, "starting bot failed", slog.Any("error", err))
		return
	}
	closers = append(closers, discordBot.Stop)

	a.logger.InfoContext(ctx, "discord consoles running (leader)", slog.Int("teams", len(consoles)))

	// Block until leadership is lost or process is shutting down.
	<-ctx.Done()
}
