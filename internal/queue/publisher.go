package queue

import (
	"context"
	"encoding/json"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/care-portal/internal/logging"
)

// Publisher publishes SigningEvents to RabbitMQ. Errors are logged and
// returned so callers can ignore them without interrupting the request
// that produced the event.
type Publisher struct {
	url         string
	log         logging.Logger
	dialTimeout time.Duration
}

// DefaultDialTimeout bounds the TCP connect and AMQP handshake of one publish.
const DefaultDialTimeout = 2 * time.Second

// NewPublisher returns a Publisher dialing url on every publish.
func NewPublisher(url string, log logging.Logger) *Publisher {
	return &Publisher{url: url, log: log, dialTimeout: DefaultDialTimeout}
}

// dial opens a connection that gives up after dialTimeout or when ctx
// ends, whichever comes first.
func (p *Publisher) dial(ctx context.Context) (*amqp.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: p.dialTimeout}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			deadline := time.Now().Add(p.dialTimeout)
			if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
				deadline = dl
			}
			// The handshake runs under this deadline; amqp clears it once open.
			if err := conn.SetDeadline(deadline); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
	})
}

// Publish sends ev to the signing.events queue as a persistent message.
func (p *Publisher) Publish(ctx context.Context, ev SigningEvent) error {
	conn, err := p.dial(ctx)
	if err != nil {
		p.log.Warn(ctx, "rabbitmq: dial failed", "error", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn(ctx, "rabbitmq: channel open failed", "error", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(SigningEventsQueue, true, false, false, false, nil); err != nil {
		p.log.Warn(ctx, "rabbitmq: queue declare failed", "error", err)
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Kind,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", SigningEventsQueue, false, false, pub); err != nil {
		p.log.Warn(ctx, "rabbitmq: publish failed", "kind", ev.Kind, "request_id", ev.RequestID, "error", err)
		return err
	}
	return nil
}

// Nop drops every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, SigningEvent) error { return nil }
