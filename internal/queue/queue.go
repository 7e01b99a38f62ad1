package queue

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/reqgraph/backend/pkg/logger"
)

const (
	SyncQueue      = "sync_queue"
	BatchSyncQueue = "batch_sync_queue"

	MaxRetries = 10
	RetryDelay = 10 * time.Second
)

// Queues lists every work queue the worker consumes.
var Queues = []string{SyncQueue, BatchSyncQueue}

func RetryQueue(name string) string { return name + "_retry" }

func DeadLetterQueue(name string) string { return name + "_dlq" }

type Config struct {
	User     string
	Password string
	Host     string
	Port     string
}

func (c Config) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/",
	}
	return u.String()
}

func Dial(cfg Config) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq at %s:%s: %w", cfg.Host, cfg.Port, err)
	}
	return conn, nil
}

// Channel is the part of *amqp091.Channel used for declaring and publishing.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// SetupQueues declares each work queue with its dead-letter queue and a
// retry queue that hands messages back to the work queue after RetryDelay.
func SetupQueues(ch Channel, queueNames []string) error {
	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}

		dlqName := DeadLetterQueue(name)
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", dlqName, err)
		}

		retryName := RetryQueue(name)
		_, err := ch.QueueDeclare(
			retryName,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			amqp091.Table{
				"x-message-ttl":             int32(RetryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", retryName, err)
		}
		logger.Debug("[Queue] Declared queue", "queue", name, "retry", retryName, "dlq", dlqName)
	}
	return nil
}

// Publish sends a persistent JSON message to a queue on the default
// exchange.
func Publish(ctx context.Context, ch Channel, queueName, correlationID string, data []byte) error {
	return ch.PublishWithContext(ctx, "", queueName, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		Body:          data,
		DeliveryMode:  amqp091.Persistent,
		Timestamp:     time.Now(),
	})
}
