package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jensholdgaard/auction-console/internal/clock"
	"github.com/jensholdgaard/auction-console/internal/store"
	"github.com/jensholdgaard/auction-console/internal/store/postgres"
)

func TestTeamRepo_EnsureAndGet(t *testing.T) {
	db, _ := newTestDB(t)
	repo := postgres.NewTeamRepo(db, clock.Real{})
	ctx := context.Background()

	if err := repo.Ensure(ctx, "Thakur XI", 50000); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	// Ensure never overwrites an existing purse.
	if err := repo.UpdatePurseAndCount(ctx, "Thakur XI", 42000, 1); err != nil {
		t.Fatalf("UpdatePurseAndCount: %v", err)
	}
	if err := repo.Ensure(ctx, "Thakur XI", 50000); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}

	got, err := repo.Get(ctx, "Thakur XI")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Purse != 42000 || got.PlayerCount != 1 {
		t.Errorf("got purse %d count %d, want 42000 1", got.Purse, got.PlayerCount)
	}
}

func TestTeamRepo_GetMissing(t *testing.T) {
	db, _ := newTestDB(t)
	repo := postgres.NewTeamRepo(db, clock.Real{})

	_, err := repo.Get(context.Background(), "Nobody XI")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
	err = repo.SetPIN(context.Background(), "Nobody XI", "123456")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("SetPIN error = %v, want ErrNotFound", err)
	}
}

func TestTeamRepo_CaptainPINAndReset(t *testing.T) {
	db, _ := newTestDB(t)
	repo := postgres.NewTeamRepo(db, clock.Real{})
	ctx := context.Background()

	for _, n := range []string{"Gabbar XI", "Thakur XI"} {
		if err := repo.Ensure(ctx, n, 50000); err != nil {
			t.Fatalf("Ensure(%s): %v", n, err)
		}
	}
	if err := repo.SetCaptain(ctx, "Gabbar XI", ptr(3), ptr("Dhoni"), 1); err != nil {
		t.Fatalf("SetCaptain: %v", err)
	}
	if err := repo.SetPIN(ctx, "Gabbar XI", "482913"); err != nil {
		t.Fatalf("SetPIN: %v", err)
	}

	got, err := repo.Get(ctx, "Gabbar XI")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.HasCaptain() || *got.CaptainName != "Dhoni" || got.PlayerCount != 1 {
		t.Errorf("captain not recorded: %+v", got)
	}
	if got.CaptainPIN == nil || *got.CaptainPIN != "482913" {
		t.Errorf("pin not recorded: %+v", got.CaptainPIN)
	}

	if err := repo.ResetAll(ctx, 50000); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}
	teams, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(teams) != 2 || teams[0].Name != "Gabbar XI" {
		t.Fatalf("List = %+v", teams)
	}
	for _, tm := range teams {
		if tm.HasCaptain() || tm.CaptainPIN != nil || tm.PlayerCount != 0 || tm.Purse != 50000 {
			t.Errorf("team not reset: %+v", tm)
		}
	}
}
