package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/avinash-eye/image-processor/internal/domain"
)

// Publisher announces finished images so downstream consumers (indexing,
// face clustering) can react without polling.
type Publisher interface {
	Processed(ctx context.Context, event domain.ProcessedEvent) error
}

type jetStreamPublisher struct {
	js      nats.JetStreamContext
	subject string
}

func NewJetStreamPublisher(js nats.JetStreamContext, subject string) *jetStreamPublisher {
	return &jetStreamPublisher{
		js:      js,
		subject: subject,
	}
}

func (p *jetStreamPublisher) Processed(ctx context.Context, event domain.ProcessedEvent) error {
	if event.ID == "" {
		return fmt.Errorf("empty event id")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal processed event: %w", err)
	}

	ack, err := p.js.PublishMsg(&nats.Msg{
		Subject: p.subject,
		Data:    data,
		Header:  nats.Header{},
	})
	if err != nil {
		return fmt.Errorf("publish processed event %s: %w", event.ID, err)
	}

	slog.Debug("processed event published",
		slog.String("image_id", event.ID),
		slog.String("subject", p.subject),
		slog.String("stream", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
	)

	return nil
}

// Noop is the publisher used when NATS is disabled.
type Noop struct{}

func (Noop) Processed(context.Context, domain.ProcessedEvent) error { return nil }
