// Package natsbridge forwards events from the in-process bus to NATS subjects.
package natsbridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/packsync/internal/config"
	"git.home.luguber.info/inful/packsync/internal/events"
	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
	"git.home.luguber.info/inful/packsync/internal/logfields"
)

// Publisher is the subset of *nats.Conn used by the bridge.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the JSON document published for every event.
type Message struct {
	Type  string       `json:"type"`
	At    time.Time    `json:"at"`
	Event events.Event `json:"event"`
}

// Bridge publishes every bus event to "<prefix>.<event type>".
type Bridge struct {
	pub    Publisher
	prefix string
	conn   *nats.Conn
	ready  chan struct{}
}

// New creates a bridge over an existing publisher.
func New(pub Publisher, prefix string) *Bridge {
	if prefix == "" {
		prefix = config.DefaultNATSSubject
	}
	return &Bridge{pub: pub, prefix: strings.TrimSuffix(prefix, "."), ready: make(chan struct{})}
}

// Connect dials the NATS server configured in cfg.
func Connect(cfg config.NATSConfig) (*Bridge, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("packsync"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", logfields.URL(c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryNetwork, "failed to connect to NATS").
			WithContext("url", cfg.URL).
			Build()
	}
	b := New(conn, cfg.Subject)
	b.conn = conn
	slog.Info("NATS event bridge connected", logfields.URL(cfg.URL), slog.String("subject", b.prefix))
	return b, nil
}

// Ready is closed once Run has subscribed to the bus.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// Subject returns the subject an event type is published on.
func (b *Bridge) Subject(eventType string) string {
	return b.prefix + "." + eventType
}

// Run forwards events until ctx is canceled or the bus closes.
func (b *Bridge) Run(ctx context.Context, bus *events.Bus) {
	ch, unsubscribe := events.Subscribe[events.Event](bus, 256)
	defer unsubscribe()
	close(b.ready)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := b.Forward(evt); err != nil {
				slog.Warn("Failed to forward event to NATS", slog.String("event", evt.EventType()), logfields.Error(err))
			}
		}
	}
}

// Forward publishes one event.
func (b *Bridge) Forward(evt events.Event) error {
	data, err := json.Marshal(Message{Type: evt.EventType(), At: time.Now().UTC(), Event: evt})
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to marshal event").Build()
	}
	if err := b.pub.Publish(b.Subject(evt.EventType()), data); err != nil {
		return errors.WrapError(err, errors.CategoryNetwork, "failed to publish event").Build()
	}
	return nil
}

// Close drains and closes the connection opened by Connect.
func (b *Bridge) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Drain()
}
