package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const TypeHandoffRequested = "handoff_requested"

// HandoffEvent tells operators a visitor is waiting for a human.
type HandoffEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	VisitorID      string    `json:"visitor_id,omitempty"`
	VisitorName    string    `json:"visitor_name,omitempty"`
	Reason         string    `json:"reason"`
	At             time.Time `json:"at"`
}

type Publisher interface {
	PublishHandoff(ctx context.Context, ev HandoffEvent) error
	Close() error
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishHandoff(ctx context.Context, ev HandoffEvent) error { return nil }
func (NoopPublisher) Close() error                                              { return nil }

// RabbitPublisher publishes JSON events to a durable queue.
type RabbitPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewPublisher returns a RabbitMQ publisher, or a no-op one when url is empty.
func NewPublisher(url, queue string) (Publisher, error) {
	if url == "" {
		log.Info().Msg("RABBITMQ_URL is not set. Handoff events disabled.")
		return NoopPublisher{}, nil
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open RabbitMQ channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("could not declare queue %s: %w", queue, err)
	}

	log.Info().Str("queue", queue).Msg("RabbitMQ connection established")
	return &RabbitPublisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *RabbitPublisher) PublishHandoff(ctx context.Context, ev HandoffEvent) error {
	if ev.Type == "" {
		ev.Type = TypeHandoffRequested
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode handoff event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		Type:         ev.Type,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish handoff event: %w", err)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing RabbitMQ channel")
	}
	return p.conn.Close()
}
