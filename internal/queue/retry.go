package queue

import (
	"context"
	"errors"

	"github.com/rabbitmq/amqp091-go"

	"github.com/reqgraph/backend/pkg/logger"
)

const retriesHeader = "x-retries"

func retryCount(headers amqp091.Table) int {
	switch v := headers[retriesHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// nextRoute picks where a failed message goes: the retry queue until it was
// retried MaxRetries times, then the dead-letter queue. Permanent failures
// skip the retries.
func nextRoute(queueName string, headers amqp091.Table, procErr error) (string, amqp091.Table) {
	out := amqp091.Table{}
	for k, v := range headers {
		out[k] = v
	}
	retries := retryCount(headers)
	if errors.Is(procErr, ErrPermanent) || retries >= MaxRetries {
		return DeadLetterQueue(queueName), out
	}
	out[retriesHeader] = int32(retries + 1)
	return RetryQueue(queueName), out
}

// HandleProcessingError republishes a failed delivery to its retry or
// dead-letter queue and acks the original. If the republish fails the
// delivery is requeued instead.
func HandleProcessingError(ctx context.Context, ch Channel, msg amqp091.Delivery, queueName string, procErr error) {
	target, headers := nextRoute(queueName, msg.Headers, procErr)
	if target == DeadLetterQueue(queueName) {
		logger.Warn("[Queue] Sending message to DLQ", "dlq", target, "retries", retryCount(msg.Headers), "err", procErr)
	} else {
		logger.Info("[Queue] Scheduling retry", "retry_queue", target, "attempt", headers[retriesHeader])
	}

	err := ch.PublishWithContext(ctx, "", target, false, false, amqp091.Publishing{
		ContentType:   msg.ContentType,
		CorrelationId: msg.CorrelationId,
		Body:          msg.Body,
		Headers:       headers,
		DeliveryMode:  amqp091.Persistent,
	})
	if err != nil {
		logger.Error("[Queue] Failed to republish message", "queue", target, "err", err)
		if nerr := msg.Nack(false, true); nerr != nil {
			logger.Error("[Queue] Failed to nack message", "err", nerr)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}
