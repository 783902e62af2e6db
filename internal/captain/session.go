package captain

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jensholdgaard/auction-console/internal/store"
)

var (
	ErrInvalidPIN  = errors.New("invalid PIN")
	ErrNoPIN       = errors.New("team has no PIN yet, ask the auctioneer")
	ErrNotLoggedIn = errors.New("not logged in as a captain, use /login")
)

// Sessions binds console users to the team whose PIN they presented.
type Sessions struct {
	teams  TeamReader
	logger *slog.Logger

	mu     sync.RWMutex
	byUser map[string]string
}

// NewSessions returns an empty session table.
func NewSessions(teams TeamReader, logger *slog.Logger) *Sessions {
	return &Sessions{
		teams:  teams,
		logger: logger,
		byUser: make(map[string]string),
	}
}

// Login checks pin against the team's current PIN and binds user to team.
func (s *Sessions) Login(ctx context.Context, user, team, pin string) error {
	t, err := s.teams.Get(ctx, team)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("unknown team %q", team)
		}
		return fmt.Errorf("looking up team: %w", err)
	}
	if t.CaptainPIN == nil || *t.CaptainPIN == "" {
		return ErrNoPIN
	}
	if subtle.ConstantTimeCompare([]byte(*t.CaptainPIN), []byte(pin)) != 1 {
		s.logger.WarnContext(ctx, "captain login rejected",
			slog.String("user", user),
			slog.String("team", team),
		)
		return ErrInvalidPIN
	}

	s.mu.Lock()
	s.byUser[user] = team
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "captain logged in",
		slog.String("user", user),
		slog.String("team", team),
	)
	return nil
}

// Team returns the team user is logged in for.
func (s *Sessions) Team(user string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	team, ok := s.byUser[user]
	if !ok {
		return "", ErrNotLoggedIn
	}
	return team, nil
}

// Logout drops user's binding.
func (s *Sessions) Logout(user string) {
	s.mu.Lock()
	delete(s.byUser, user)
	s.mu.Unlock()
}

// Clear drops every binding, e.g. after PINs are regenerated.
func (s *Sessions) Clear() {
	s.mu.Lock()
	clear(s.byUser)
	s.mu.Unlock()
}
