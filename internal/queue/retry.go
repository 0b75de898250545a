package queue

import (
	"context"
	"errors"

	"github.com/rabbitmq/amqp091-go"

	"github.com/wafkaw/book-digger/pkg/logger"
)

// MaxRetries is how often a failed message is retried before it moves to
// the dead letter queue.
const MaxRetries = 10

const retriesHeader = "x-retries"

func retries(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// HandleFailure settles a delivery whose processing failed. Messages that
// can never succeed, and those retried MaxRetries times, go to the dead
// letter queue; all others go to the retry queue with the counter bumped.
// If republishing fails the delivery is requeued.
func HandleFailure(ctx context.Context, ch Publisher, msg amqp091.Delivery, queueName string, cause error) {
	n := retries(msg.Headers)

	target := queueName + "_retry"
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if errors.Is(cause, ErrInvalidMessage) || n >= MaxRetries {
		target = queueName + "_dlq"
		logger.Warn("[Queue] Sending message to DLQ", "dlq", target, "retries", n, "err", cause)
	} else {
		headers[retriesHeader] = int32(n + 1)
	}

	if err := ch.PublishWithContext(ctx, "", target, false, false, publishing(msg.Body, headers)); err != nil {
		logger.Error("[Queue] Failed to republish message", "queue", target, "err", err)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			logger.Error("[Queue] Failed to nack message", "err", nackErr)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}
