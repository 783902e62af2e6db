package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/jensholdgaard/auction-console/internal/auction"

// Sync keeps a session-local mirror of the shared auction record and is the
// mutation entry point for that session. It is safe for concurrent use.
//
// Inbound notifications are applied unconditionally. When a notification
// lands while a read or an optimistic write of the same session is in
// flight, the notification wins over the fields it carries and the local
// result for those fields is dropped. A bid_update carries only the bid and
// bidder, so it never overrides the active player index.
type Sync struct {
	mu        sync.RWMutex
	state     State
	loading   bool
	gen       generations
	closed    bool
	subs      []Subscription
	listeners map[int]func(Snapshot)
	nextID    int

	id      string
	backend Backend
	logger  *slog.Logger
	tracer  trace.Tracer

	bidsPlaced    metric.Int64Counter
	bidsRejected  metric.Int64Counter
	notesApplied  metric.Int64Counter
	notesRejected metric.Int64Counter
}

// NewSync returns a mirror in its initial, loading state. Call Start to
// populate it.
func NewSync(backend Backend, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider) *Sync {
	id := uuid.NewString()
	meter := mp.Meter(instrumentationName)
	return &Sync{
		state:     InitialState(),
		loading:   true,
		listeners: make(map[int]func(Snapshot)),

		id:      id,
		backend: backend,
		logger:  logger.With(slog.String("session_id", id)),
		tracer:  tp.Tracer(instrumentationName),

		bidsPlaced:    counter(meter, "auction.bids.placed", "Bids accepted by the purse check"),
		bidsRejected:  counter(meter, "auction.bids.rejected", "Bids rejected before any mutation"),
		notesApplied:  counter(meter, "auction.notifications.applied", "Inbound notifications applied to the mirror"),
		notesRejected: counter(meter, "auction.notifications.rejected", "Malformed inbound notifications"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return metricnoop.Int64Counter{}
	}
	return c
}

// ID identifies the session in logs.
func (s *Sync) ID() string { return s.id }

// Start subscribes to change notifications and performs the initial read.
// A failed read leaves the defaults in place; loading is cleared either way.
func (s *Sync) Start(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "Sync.Start")
	defer span.End()

	s.subscribe(ctx)

	gen := s.generation()
	st, err := s.backend.ReadAuctionState(ctx)

	s.mu.Lock()
	switch {
	case err != nil:
		span.RecordError(err)
		s.logger.WarnContext(ctx, "initial auction state read failed, keeping defaults", slog.Any("error", err))
	case !s.mergeReadLocked(st, gen):
		s.logger.DebugContext(ctx, "notification arrived during initial read, keeping notified state")
	}
	s.loading = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap)
}

func (s *Sync) subscribe(ctx context.Context) {
	sub, err := s.backend.SubscribeAuctionStateChanges(ctx, func(st State) {
		_ = s.ApplyChange(context.Background(), st)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "subscribing to auction state changes failed", slog.Any("error", err))
	} else {
		s.addSubscription(sub)
	}

	src, ok := s.backend.(BidUpdateSource)
	if !ok {
		return
	}
	bidSub, err := src.SubscribeBidUpdates(ctx, func(b BidUpdate) {
		_ = s.ApplyBidUpdate(context.Background(), b)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "subscribing to bid updates failed", slog.Any("error", err))
		return
	}
	s.addSubscription(bidSub)
}

func (s *Sync) addSubscription(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = sub.Unsubscribe()
		return
	}
	s.subs = append(s.subs, sub)
}

// ApplyChange replaces the mirrored fields with a row-change notification.
// Applying the same state twice is a no-op in effect.
func (s *Sync) ApplyChange(ctx context.Context, st State) error {
	if err := st.Validate(); err != nil {
		s.notesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(KindStateChanged))))
		s.logger.WarnContext(ctx, "rejected auction state notification", slog.Any("error", err))
		return err
	}
	s.apply(ctx, KindStateChanged, func(cur *State) { *cur = st })
	return nil
}

// ApplyBidUpdate applies a bid_update broadcast to the mirror.
func (s *Sync) ApplyBidUpdate(ctx context.Context, b BidUpdate) error {
	if b.NewBid <= 0 || b.Bidder == "" {
		s.notesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(KindBidUpdate))))
		s.logger.WarnContext(ctx, "rejected bid update notification",
			slog.Int("new_bid", b.NewBid),
			slog.String("bidder", b.Bidder),
		)
		return ErrInvalidBid
	}
	s.apply(ctx, KindBidUpdate, func(cur *State) {
		cur.CurrentBid = b.NewBid
		cur.LastBidder = b.Bidder
	})
	return nil
}

// Apply dispatches a decoded notification.
func (s *Sync) Apply(ctx context.Context, n Notification) error {
	switch n.Kind {
	case KindStateChanged:
		return s.ApplyChange(ctx, n.State)
	case KindBidUpdate:
		return s.ApplyBidUpdate(ctx, n.Bid)
	default:
		return fmt.Errorf("unknown notification kind %q", n.Kind)
	}
}

func (s *Sync) apply(ctx context.Context, kind Kind, mutate func(*State)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	before := s.state
	mutate(&s.state)
	s.gen.bid++
	if kind == KindStateChanged {
		s.gen.state++
	}
	changed := before != s.state
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notesApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
	if changed {
		s.emit(snap)
	}
}

// SetActivePlayer writes the active player index and then updates the
// mirror optimistically. A failed write is logged, not returned.
func (s *Sync) SetActivePlayer(ctx context.Context, index int) {
	ctx, span := s.tracer.Start(ctx, "Sync.SetActivePlayer",
		trace.WithAttributes(attribute.Int("player.index", index)),
	)
	defer span.End()

	gen := s.generation()
	if err := s.backend.WriteAuctionState(ctx, Update{ActivePlayerIndex: &index}); err != nil {
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "writing active player failed",
			slog.Int("player_index", index),
			slog.Any("error", err),
		)
	}

	s.mu.Lock()
	if s.closed || s.gen.state != gen.state {
		s.mu.Unlock()
		return
	}
	s.state.ActivePlayerIndex = index
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap)
}

// PlaceBid validates a bid against a fresh read of the bidder's purse and,
// when it passes, writes it, mirrors it and broadcasts it. The purse is not
// decremented. Write and broadcast failures are logged, not returned.
func (s *Sync) PlaceBid(ctx context.Context, newBid int, bidder string) error {
	ctx, span := s.tracer.Start(ctx, "Sync.PlaceBid",
		trace.WithAttributes(
			attribute.String("bid.team", bidder),
			attribute.Int("bid.amount", newBid),
		),
	)
	defer span.End()

	if newBid <= 0 || bidder == "" {
		s.rejectBid(ctx, span, "invalid", ErrInvalidBid)
		return ErrInvalidBid
	}

	purse, err := s.backend.ReadTeamPurse(ctx, bidder)
	if err != nil {
		s.logger.ErrorContext(ctx, "reading team purse failed", slog.String("team", bidder), slog.Any("error", err))
		err = fmt.Errorf("%w: %w", ErrPurseUnavailable, err)
		s.rejectBid(ctx, span, "purse_unavailable", err)
		return err
	}

	if newBid > purse {
		ferr := &InsufficientFundsError{Team: bidder, Purse: purse, Bid: newBid}
		s.rejectBid(ctx, span, "insufficient_funds", ferr)
		return ferr
	}

	amount, team := newBid, bidder
	if err := s.backend.WriteAuctionState(ctx, Update{CurrentBid: &amount, LastBidder: &team}); err != nil {
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "writing bid failed", slog.Any("error", err))
	}

	s.mu.Lock()
	s.state.CurrentBid = newBid
	s.state.LastBidder = bidder
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)

	if err := s.backend.PublishBidUpdate(ctx, BidUpdate{NewBid: newBid, Bidder: bidder}); err != nil {
		s.logger.WarnContext(ctx, "broadcasting bid update failed", slog.Any("error", err))
	}

	s.bidsPlaced.Add(ctx, 1, metric.WithAttributes(attribute.String("team", bidder)))
	s.logger.InfoContext(ctx, "bid placed",
		slog.String("team", bidder),
		slog.Int("amount", newBid),
		slog.Int("purse", purse),
	)
	return nil
}

func (s *Sync) rejectBid(ctx context.Context, span trace.Span, reason string, err error) {
	span.SetStatus(codes.Error, reason)
	s.bidsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	s.logger.InfoContext(ctx, "bid rejected", slog.String("reason", reason), slog.Any("error", err))
}

// Resync re-reads the authoritative record and replaces the mirror with it.
// It is the reconciling read run by the polling fallback.
func (s *Sync) Resync(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "Sync.Resync")
	defer span.End()

	gen := s.generation()
	st, err := s.backend.ReadAuctionState(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("reading auction state: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	before := s.state
	if !s.mergeReadLocked(st, gen) {
		s.mu.Unlock()
		return nil
	}
	changed := before != s.state || s.loading
	s.loading = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if changed {
		s.emit(snap)
	}
	return nil
}

// Snapshot returns a copy of the mirror.
func (s *Sync) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// OnChange registers fn to be called with the new mirror after every change.
// The returned func removes the registration.
func (s *Sync) OnChange(fn func(Snapshot)) (remove func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Close tears down all subscriptions. Notifications delivered afterwards are
// ignored.
func (s *Sync) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// generations counts applied notifications. state moves with every row
// change; bid moves with row changes and bid updates alike.
type generations struct {
	state uint64
	bid   uint64
}

func (s *Sync) generation() generations {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// mergeReadLocked applies a read taken at generation g. Fields replaced by a
// notification since g are kept; it reports whether anything of st was used.
func (s *Sync) mergeReadLocked(st State, g generations) bool {
	switch {
	case s.gen.state != g.state:
		return false
	case s.gen.bid != g.bid:
		s.state.ActivePlayerIndex = st.ActivePlayerIndex
	default:
		s.state = st
	}
	return true
}

func (s *Sync) snapshotLocked() Snapshot {
	return Snapshot{State: s.state, Loading: s.loading}
}

func (s *Sync) emit(snap Snapshot) {
	s.mu.RLock()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(snap)
	}
}
