package queue

import (
	"context"

	"github.com/benvon/community-portal/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

// EventPublisher publishes session events to a message broker.
type EventPublisher interface {
	// Publish sends one event. Routing keys are "session.<type>".
	Publish(ctx context.Context, event models.SessionEvent) error

	// Subscribe delivers events whose routing key matches bindingKey until ctx is
	// cancelled. The error channel reports a lost connection.
	Subscribe(ctx context.Context, bindingKey string) (<-chan models.SessionEvent, <-chan error, error)

	// Close closes the broker connection
	Close() error

	// HealthCheck verifies the broker connection is healthy
	HealthCheck(ctx context.Context) error
}

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}
