// Package poller runs a cancellable periodic reconciliation task, the
// fallback that keeps a session mirror fresh when notifications are lost.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// ErrRunning is returned by Start on a poller that is already running.
var ErrRunning = errors.New("poller already running")

// Task is one polling round.
type Task func(ctx context.Context) error

// Resyncer is anything that can reconcile itself with a full read.
type Resyncer interface {
	Resync(ctx context.Context) error
}

// Poller invokes a Task every interval until stopped. Rounds never overlap;
// a slow round pushes the next one back.
type Poller struct {
	name     string
	interval time.Duration
	task     Task
	logger   *slog.Logger

	mu     sync.Mutex
	sched  gocron.Scheduler
	cancel context.CancelFunc
}

// New returns a stopped poller.
func New(name string, interval time.Duration, task Task, logger *slog.Logger) *Poller {
	return &Poller{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger.With(slog.String("poller", name)),
	}
}

// ForResync polls r.Resync.
func ForResync(name string, interval time.Duration, r Resyncer, logger *slog.Logger) *Poller {
	return New(name, interval, r.Resync, logger)
}

// Start schedules the task. The poller stops on its own when ctx ends.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sched != nil {
		return ErrRunning
	}
	if p.interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", p.interval)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	_, err = s.NewJob(
		gocron.DurationJob(p.interval),
		gocron.NewTask(func() { p.round(ctx) }),
		gocron.WithName(p.name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = s.Shutdown()
		return fmt.Errorf("creating %s job: %w", p.name, err)
	}

	p.sched = s
	p.cancel = cancel
	s.Start()

	go func() {
		<-ctx.Done()
		if err := p.stopIf(s); err != nil {
			p.logger.Warn("stopping poller", slog.Any("error", err))
		}
	}()

	p.logger.DebugContext(ctx, "poller started", slog.Duration("interval", p.interval))
	return nil
}

func (p *Poller) round(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := p.task(ctx); err != nil {
		p.logger.WarnContext(ctx, "poll round failed", slog.Any("error", err))
	}
}

// Running reports whether the poller is scheduled.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sched != nil
}

// Stop cancels the task and shuts the scheduler down. Stopping a stopped
// poller is a no-op; a stopped poller may be started again.
func (p *Poller) Stop() error {
	return p.stopIf(nil)
}

// stopIf stops the running scheduler. A non-nil only limits it to that
// scheduler, so a watcher from an earlier run cannot stop a later one.
func (p *Poller) stopIf(only gocron.Scheduler) error {
	p.mu.Lock()
	s, cancel := p.sched, p.cancel
	if s == nil || (only != nil && s != only) {
		p.mu.Unlock()
		return nil
	}
	p.sched, p.cancel = nil, nil
	p.mu.Unlock()

	cancel()
	return s.Shutdown()
}
