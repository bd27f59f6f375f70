package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/care-portal/internal/logging"
)

// EventLogFile is the file, under the consumer's log directory, that
// events are appended to.
const EventLogFile = "signing-events.log"

// StartEventConsumer connects to RabbitMQ, declares the signing.events
// queue and appends every message to logDir/signing-events.log as one
// line. It reconnects with backoff until ctx is cancelled, which is the
// only way it returns.
func StartEventConsumer(ctx context.Context, url, logDir string, log logging.Logger) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn(ctx, "event-consumer: failed to dial broker", "error", err, "retry_in", backoff.String())
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, logDir, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn(ctx, "event-consumer: consume loop ended; reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, logDir string, log logging.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn(ctx, "event-consumer: set QoS failed", "error", err)
	}

	if _, err := ch.QueueDeclare(SigningEventsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.ConsumeWithContext(ctx, SigningEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := HandleMessage(logDir, d.Body); err != nil {
			log.Error(ctx, "event-consumer: handle message failed", "error", err)
			_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// HandleMessage decodes one message body and appends it to the event log.
func HandleMessage(logDir string, body []byte) error {
	var ev SigningEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Kind == "" || ev.RequestID == "" {
		return errors.New("event without kind or request_id")
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, EventLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatLine renders ev as a single human-friendly log line. The signing
// link is never written since it carries the access token.
func FormatLine(ev SigningEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s | request_id=%s | template=%q | recipient=%q",
		ev.OccurredAt, ev.Kind, ev.RequestID, ev.TemplateName, ev.RecipientEmail)
	if ev.ReminderCount > 0 {
		fmt.Fprintf(&b, " | reminders=%d", ev.ReminderCount)
	}
	if ev.Reason != "" {
		fmt.Fprintf(&b, " | reason=%q", ev.Reason)
	}
	if ev.DocumentID != "" {
		fmt.Fprintf(&b, " | signed_document_id=%s | hash=%s", ev.DocumentID, ev.DocumentHash)
	}
	b.WriteByte('\n')
	return b.String()
}
