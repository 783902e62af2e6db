// Package realtime carries auction notifications between sessions: row
// changes of the auction record arrive over Postgres LISTEN/NOTIFY and
// explicit broadcasts travel over NATS.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-console/internal/auction"
)

const instrumentationName = "github.com/jensholdgaard/auction-console/internal/realtime"

// ErrFeedDisconnected is reported by Ping while the listener is reconnecting.
var ErrFeedDisconnected = errors.New("change feed disconnected")

// ChangeFeed listens for auction record changes on a Postgres notify channel
// and fans them out to every subscribed session. One feed serves the whole
// process.
type ChangeFeed struct {
	listener *pq.Listener
	channel  string
	ping     time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer

	connected atomic.Bool

	mu     sync.RWMutex
	subs   map[uint64]func(auction.State)
	nextID uint64

	reconnectMu sync.Mutex
	onReconnect []func()

	stop      chan struct{}
	closeOnce sync.Once
}

// NewChangeFeed returns a feed for the given DSN and notify channel.
func NewChangeFeed(dsn, channel string, ping time.Duration, logger *slog.Logger, tp trace.TracerProvider) *ChangeFeed {
	f := &ChangeFeed{
		channel: channel,
		ping:    ping,
		logger:  logger.With(slog.String("channel", channel)),
		tracer:  tp.Tracer(instrumentationName),
		subs:    make(map[uint64]func(auction.State)),
		stop:    make(chan struct{}),
	}
	f.listener = pq.NewListener(dsn, 100*time.Millisecond, 10*time.Second, f.onEvent)
	return f
}

// newFeed builds a feed without a listener for dispatch tests.
func newFeed(logger *slog.Logger, tp trace.TracerProvider) *ChangeFeed {
	return &ChangeFeed{
		logger: logger,
		tracer: tp.Tracer(instrumentationName),
		subs:   make(map[uint64]func(auction.State)),
		stop:   make(chan struct{}),
	}
}

func (f *ChangeFeed) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		f.connected.Store(true)
		f.logger.Info("change feed connected")
	case pq.ListenerEventDisconnected:
		f.connected.Store(false)
		f.logger.Warn("change feed disconnected", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		f.connected.Store(true)
		f.logger.Info("change feed reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		f.logger.Warn("change feed connection attempt failed", slog.Any("error", err))
	}
}

// Start begins listening. It returns once the LISTEN is established; the
// feed then runs until ctx is cancelled or Close is called.
func (f *ChangeFeed) Start(ctx context.Context) error {
	if err := f.listener.Listen(f.channel); err != nil {
		return fmt.Errorf("listening on %s: %w", f.channel, err)
	}
	f.connected.Store(true)
	go f.run(ctx)
	return nil
}

func (f *ChangeFeed) run(ctx context.Context) {
	ticker := time.NewTicker(f.ping)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case n := <-f.listener.Notify:
			if n == nil {
				// The listener re-established its connection and may have
				// missed notifications.
				f.reconnected()
				continue
			}
			f.dispatch(ctx, n.Extra)
		case <-ticker.C:
			if err := f.listener.Ping(); err != nil {
				f.logger.WarnContext(ctx, "change feed ping failed", slog.Any("error", err))
			}
		}
	}
}

// dispatch decodes one payload and delivers it to every subscriber.
// Malformed payloads are dropped.
func (f *ChangeFeed) dispatch(ctx context.Context, payload string) {
	ctx, span := f.tracer.Start(ctx, "ChangeFeed.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.destination.name", f.channel)),
	)
	defer span.End()

	st, err := auction.DecodeStateChange([]byte(payload))
	if err != nil {
		span.RecordError(err)
		f.logger.WarnContext(ctx, "dropping malformed auction state notification",
			slog.Any("error", err),
			slog.String("payload", payload),
		)
		return
	}

	f.mu.RLock()
	fns := make([]func(auction.State), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.RUnlock()

	span.SetAttributes(attribute.Int("subscribers", len(fns)))
	for _, fn := range fns {
		fn(st)
	}
}

func (f *ChangeFeed) reconnected() {
	f.reconnectMu.Lock()
	hooks := append([]func(){}, f.onReconnect...)
	f.reconnectMu.Unlock()
	for _, h := range hooks {
		h()
	}
}

// OnReconnect registers fn to run after the listener reconnects, when
// subscribers should reconcile with a full read.
func (f *ChangeFeed) OnReconnect(fn func()) {
	f.reconnectMu.Lock()
	defer f.reconnectMu.Unlock()
	f.onReconnect = append(f.onReconnect, fn)
}

// Subscribe registers fn for every valid change. fn runs on the feed
// goroutine and must not block.
func (f *ChangeFeed) Subscribe(fn func(auction.State)) auction.Subscription {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return auction.SubscriptionFunc(func() error {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
		return nil
	})
}

// Subscribers returns the number of live subscriptions.
func (f *ChangeFeed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Ping reports whether the listener connection is up.
func (f *ChangeFeed) Ping(_ context.Context) error {
	if !f.connected.Load() {
		return ErrFeedDisconnected
	}
	return nil
}

// Close stops the feed and releases the listener connection.
func (f *ChangeFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.stop)
		f.connected.Store(false)
		if f.listener != nil {
			err = f.listener.Close()
		}
	})
	return err
}
