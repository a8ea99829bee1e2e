// Package queue streams session lifecycle events through RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/benvon/community-portal/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultExchangeName is the default topic exchange for session events.
const DefaultExchangeName = "community.sessions"

// RoutingKey returns the routing key of an event type.
func RoutingKey(t models.SessionEventType) string {
	return "session." + string(t)
}

// RabbitMQPublisher implements EventPublisher on a durable topic exchange.
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	openCh   func() (amqpChannel, error)
	exchange string
	log      *zap.Logger
}

// NewRabbitMQPublisher dials amqpURL and declares the exchange.
func NewRabbitMQPublisher(amqpURL, exchange string, log *zap.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := newPublisher(ch, func() (amqpChannel, error) { return conn.Channel() }, exchange, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch amqpChannel, openCh func() (amqpChannel, error), exchange string, log *zap.Logger) (*RabbitMQPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchangeName
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &RabbitMQPublisher{channel: ch, openCh: openCh, exchange: exchange, log: log}
	if err := p.setup(); err != nil {
		return nil, fmt.Errorf("failed to setup exchange: %w", err)
	}
	return p, nil
}

func (p *RabbitMQPublisher) setup() error {
	err := p.channel.ExchangeDeclare(
		p.exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	return nil
}

// Publish sends event as a persistent JSON message.
func (p *RabbitMQPublisher) Publish(ctx context.Context, event models.SessionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Timestamp:    event.CreatedAt,
		Type:         string(event.Type),
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		RoutingKey(event.Type),
		false, // mandatory
		false, // immediate
		publishing,
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Record publishes event, logging instead of failing.
func (p *RabbitMQPublisher) Record(ctx context.Context, event models.SessionEvent) {
	if err := p.Publish(ctx, event); err != nil {
		p.log.Warn("session_event_not_published",
			zap.String("type", string(event.Type)),
			zap.String("session_id", event.SessionID),
			zap.Error(err),
		)
	}
}

// Subscribe binds an exclusive, auto-deleted queue to the exchange and delivers the
// events routed to it. Messages that do not decode are dropped.
func (p *RabbitMQPublisher) Subscribe(ctx context.Context, bindingKey string) (<-chan models.SessionEvent, <-chan error, error) {
	if bindingKey == "" {
		bindingKey = "session.#"
	}

	// Consumers get their own channel so a slow reader never blocks publishing.
	ch, err := p.openCh()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create consumer channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, bindingKey, p.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	deliveries, err := ch.Consume(
		q.Name,
		"",    // consumer tag (empty = auto-generate)
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	events := make(chan models.SessionEvent)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)
		defer func() {
			_ = ch.Close()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					errs <- errors.New("delivery channel closed")
					return
				}
				var event models.SessionEvent
				if err := json.Unmarshal(delivery.Body, &event); err != nil {
					p.log.Warn("session_event_undecodable",
						zap.String("routing_key", delivery.RoutingKey),
						zap.Error(err),
					)
					continue
				}
				select {
				case <-ctx.Done():
					return
				case events <- event:
				}
			}
		}
	}()

	return events, errs, nil
}

// HealthCheck verifies the connection and channel are open.
func (p *RabbitMQPublisher) HealthCheck(ctx context.Context) error {
	if p.conn != nil && p.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	if p.channel.IsClosed() {
		return errors.New("rabbitmq channel is closed")
	}
	return nil
}

// Close closes the channel and connection.
func (p *RabbitMQPublisher) Close() error {
	var errs []string
	if err := p.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, err.Error())
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close rabbitmq: %s", strings.Join(errs, "; "))
	}
	return nil
}
