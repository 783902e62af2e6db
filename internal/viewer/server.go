// Package viewer serves the spectator board: a read API over the auction
// and a websocket feed that pushes the board whenever it changes.
package viewer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-console/internal/admin"
	"github.com/jensholdgaard/auction-console/internal/auction"
	"github.com/jensholdgaard/auction-console/internal/health"
	"github.com/jensholdgaard/auction-console/internal/realtime"
	"github.com/jensholdgaard/auction-console/internal/store"
)

const instrumentationName = "github.com/jensholdgaard/auction-console/internal/viewer"

// Message types pushed on the websocket.
const (
	MessageBoard = "board"
	MessageEvent = "event"
)

// Message is one websocket frame.
type Message struct {
	Type  string             `json:"type"`
	Board *admin.Board       `json:"board,omitempty"`
	Event *realtime.Envelope `json:"event,omitempty"`
}

// Mirror is the viewer session's auction mirror.
type Mirror interface {
	Snapshot() auction.Snapshot
	OnChange(fn func(auction.Snapshot)) (remove func())
}

// Feed delivers auction broadcasts.
type Feed interface {
	SubscribeAll(fn func(context.Context, realtime.Envelope)) (auction.Subscription, error)
}

// Server is the spectator HTTP surface.
type Server struct {
	mirror  Mirror
	teams   store.TeamRepository
	players store.PlayerRepository
	feed    Feed
	hub     *Hub
	router  chi.Router
	logger  *slog.Logger
	tracer  trace.Tracer

	refresh chan struct{}

	mu       sync.Mutex
	teardown []func()
}

// NewServer builds the router. feed and hc may be nil.
func NewServer(mirror Mirror, repos *store.Repositories, feed Feed, hc *health.Handler, allowedOrigins []string, logger *slog.Logger, tp trace.TracerProvider) *Server {
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	s := &Server{
		mirror:  mirror,
		teams:   repos.Teams,
		players: repos.Players,
		feed:    feed,
		hub:     NewHub(DefaultHubConfig(), c.OriginAllowed, logger),
		logger:  logger,
		tracer:  tp.Tracer(instrumentationName),
		refresh: make(chan struct{}, 1),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(c.Handler)

	if hc != nil {
		hc.Routes(r)
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/auction", s.handleAuction)
		r.Get("/teams", s.handleTeams)
		r.Get("/players", s.handlePlayers)
	})
	r.Get("/ws", s.handleWS)

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Hub exposes the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start begins pushing board updates. It returns once subscriptions are in
// place; pushing stops when ctx is done or Close is called.
func (s *Server) Start(ctx context.Context) error {
	remove := s.mirror.OnChange(func(auction.Snapshot) { s.requestRefresh() })
	s.addTeardown(remove)

	if s.feed != nil {
		sub, err := s.feed.SubscribeAll(s.onBroadcast)
		if err != nil {
			remove()
			return err
		}
		s.addTeardown(func() { _ = sub.Unsubscribe() })
	}

	go s.loop(ctx)
	return nil
}

func (s *Server) addTeardown(fn func()) {
	s.mu.Lock()
	s.teardown = append(s.teardown, fn)
	s.mu.Unlock()
}

// Close stops pushing and disconnects spectators.
func (s *Server) Close() {
	s.mu.Lock()
	fns := s.teardown
	s.teardown = nil
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	s.hub.Close()
}

// requestRefresh coalesces board rebuilds; a pending request covers any
// number of changes.
func (s *Server) requestRefresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

func (s *Server) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.refresh:
			s.pushBoard(ctx)
		}
	}
}

func (s *Server) pushBoard(ctx context.Context) {
	if s.hub.Connections() == 0 {
		return
	}
	msg, err := s.boardMessage(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "building board for spectators", slog.Any("error", err))
		return
	}
	s.hub.Broadcast(msg)
}

func (s *Server) boardMessage(ctx context.Context) ([]byte, error) {
	b, err := admin.NewBoard(ctx, s.mirror.Snapshot(), s.teams, s.players)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: MessageBoard, Board: b})
}

func (s *Server) onBroadcast(ctx context.Context, env realtime.Envelope) {
	switch env.Event {
	case realtime.EventPlayerSold, realtime.EventCaptainAssigned:
	default:
		return
	}
	msg, err := json.Marshal(Message{Type: MessageEvent, Event: &env})
	if err != nil {
		s.logger.WarnContext(ctx, "encoding broadcast for spectators", slog.Any("error", err))
		return
	}
	s.hub.Broadcast(msg)
	// Purses and rosters changed without touching the auction record.
	s.requestRefresh()
}

func (s *Server) handleAuction(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "GET /api/auction")
	defer span.End()

	b, err := admin.NewBoard(ctx, s.mirror.Snapshot(), s.teams, s.players)
	if err != nil {
		span.RecordError(err)
		s.fail(ctx, w, err)
		return
	}
	span.SetAttributes(attribute.Int("active_player_index", b.Auction.ActivePlayerIndex))
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleTeams(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "GET /api/teams")
	defer span.End()

	teams, err := s.teams.List(ctx)
	if err != nil {
		span.RecordError(err)
		s.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func (s *Server) handlePlayers(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "GET /api/players")
	defer span.End()

	players, err := s.players.List(ctx)
	if err != nil {
		span.RecordError(err)
		s.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, players)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	first, err := s.boardMessage(r.Context())
	if err != nil {
		s.logger.WarnContext(r.Context(), "building initial board", slog.Any("error", err))
		first = nil
	}
	if err := s.hub.Serve(w, r, first); err != nil {
		// The upgrader has already written the HTTP error.
		s.logger.DebugContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
	}
}

func (s *Server) fail(ctx context.Context, w http.ResponseWriter, err error) {
	s.logger.ErrorContext(ctx, "viewer request failed", slog.Any("error", err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load the auction"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
