package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/auction-console/internal/auction"
	"github.com/jensholdgaard/auction-console/internal/clock"
)

// Broadcast event names.
const (
	EventBidUpdate       = "bid_update"
	EventPlayerSold      = "player_sold"
	EventNextPlayer      = "next_player"
	EventCaptainAssigned = "captain_assigned"
)

// ErrNotConnected is returned when the NATS connection is not usable.
var ErrNotConnected = errors.New("broadcast channel not connected")

// Envelope wraps every broadcast payload.
type Envelope struct {
	ID      string          `json:"id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

// PlayerSoldPayload is broadcast after a sale.
type PlayerSoldPayload struct {
	PlayerID   int    `json:"playerId"`
	PlayerName string `json:"playerName"`
	Team       string `json:"team"`
	Amount     int    `json:"amount"`
}

// NextPlayerPayload is broadcast when a new lot opens.
type NextPlayerPayload struct {
	PlayerIndex int    `json:"playerIndex"`
	PlayerID    int    `json:"playerId"`
	PlayerName  string `json:"playerName"`
}

// CaptainAssignedPayload is broadcast when a captain joins a team.
type CaptainAssignedPayload struct {
	TeamName   string `json:"teamName"`
	PlayerID   int    `json:"playerId"`
	PlayerName string `json:"playerName"`
}

// Connect dials NATS with reconnect handling logged through logger.
func Connect(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return nc, nil
}

// Broadcaster publishes and subscribes to auction broadcasts on NATS
// subjects named <prefix>.<event>. Publishing is best effort.
type Broadcaster struct {
	nc     *nats.Conn
	prefix string
	clock  clock.Clock
	logger *slog.Logger
	tracer trace.Tracer
}

// NewBroadcaster returns a Broadcaster on an open connection.
func NewBroadcaster(nc *nats.Conn, prefix string, clk clock.Clock, logger *slog.Logger, tp trace.TracerProvider) *Broadcaster {
	return &Broadcaster{
		nc:     nc,
		prefix: strings.TrimSuffix(prefix, "."),
		clock:  clk,
		logger: logger,
		tracer: tp.Tracer(instrumentationName),
	}
}

// Subject returns the subject for an event name.
func (b *Broadcaster) Subject(event string) string {
	return b.prefix + "." + event
}

// Publish sends payload as the given event.
func (b *Broadcaster) Publish(ctx context.Context, event string, payload any) error {
	ctx, span := b.tracer.Start(ctx, "Broadcaster.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("messaging.destination.name", b.Subject(event))),
	)
	defer span.End()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}
	env := Envelope{
		ID:      uuid.NewString(),
		Event:   event,
		Payload: data,
		SentAt:  b.clock.Now().UTC(),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	msg := nats.NewMsg(b.Subject(event))
	msg.Data = body
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	if err := b.nc.PublishMsg(msg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("publishing %s: %w", event, err)
	}
	span.SetAttributes(attribute.String("messaging.message.id", env.ID))
	return nil
}

// Subscribe delivers envelopes of one event to fn.
func (b *Broadcaster) Subscribe(event string, fn func(context.Context, Envelope)) (auction.Subscription, error) {
	return b.subscribe(b.Subject(event), fn)
}

// SubscribeAll delivers every auction broadcast to fn.
func (b *Broadcaster) SubscribeAll(fn func(context.Context, Envelope)) (auction.Subscription, error) {
	return b.subscribe(b.prefix+".>", fn)
}

func (b *Broadcaster) subscribe(subject string, fn func(context.Context, Envelope)) (auction.Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(m *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(m.Header))
		ctx, span := b.tracer.Start(ctx, "Broadcaster.Receive",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(attribute.String("messaging.destination.name", m.Subject)),
		)
		defer span.End()

		var env Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			span.RecordError(err)
			b.logger.WarnContext(ctx, "dropping malformed broadcast",
				slog.String("subject", m.Subject),
				slog.Any("error", err),
			)
			return
		}
		fn(ctx, env)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return sub, nil
}

// Ping round-trips to the server.
func (b *Broadcaster) Ping(ctx context.Context) error {
	if b.nc.Status() != nats.CONNECTED {
		return fmt.Errorf("%w: %s", ErrNotConnected, b.nc.Status())
	}
	return b.nc.FlushWithContext(ctx)
}

// Close drains the connection.
func (b *Broadcaster) Close() error {
	return b.nc.Drain()
}
