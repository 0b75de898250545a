package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/wafkaw/book-digger/pkg/logger"
)

const (
	RunQueue    = "run_queue"
	CancelQueue = "cancel_queue"

	// Exchange carries progress events, routed as run.<id>.progress.
	Exchange = "pubsub"

	retryDelay = 10 * time.Second
)

// Queues are the work queues consumed by the worker.
var Queues = []string{RunQueue, CancelQueue}

// Publisher is the part of *amqp091.Channel used for publishing.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Init dials the broker at url.
func Init(url string) (*amqp091.Connection, error) {
	if url == "" {
		return nil, fmt.Errorf("queue: RABBITMQ_URL or RABBITMQ_HOST is required")
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// SetupQueues declares the progress exchange and, for each queue, the queue
// itself plus its dead letter queue and a retry queue that routes messages
// back after retryDelay.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	err := ch.ExchangeDeclare(
		Exchange,
		"topic",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("exchange declare failed: %w", err)
	}

	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s failed: %w", name, err)
		}

		dlqName := name + "_dlq"
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s failed: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryDelay.Milliseconds()),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("queue declare %s failed: %w", retryName, err)
		}
		logger.Debug("[Queue] Declared queue", "queue", name)
	}

	return nil
}

func publishing(data []byte, headers amqp091.Table) amqp091.Publishing {
	return amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}
}

// PublishFIFO sends data to a work queue through the default exchange.
func PublishFIFO(ctx context.Context, ch Publisher, queueName string, data []byte) error {
	return ch.PublishWithContext(ctx, "", queueName, false, false, publishing(data, nil))
}

// PublishTopic sends data to the progress exchange under topic.
func PublishTopic(ctx context.Context, ch Publisher, topic string, data []byte) error {
	return ch.PublishWithContext(ctx, Exchange, topic, false, false, publishing(data, nil))
}

// ProgressTopic is the routing key for progress events of a run.
func ProgressTopic(runID string) string {
	return "run." + runID + ".progress"
}
