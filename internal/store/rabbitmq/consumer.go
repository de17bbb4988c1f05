package rabbitmq

import (
	"context"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RetryHeader counts how many times a delivery went through the retry queue.
const RetryHeader = "x-retry-count"

// Channel is the subset of *amqp.Channel the consumer side publishes with.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RetryCount reads RetryHeader. Missing or malformed headers count as zero.
func RetryCount(h amqp.Table) int {
	switch v := h[RetryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

// PublishRetry copies d onto queue's retry queue with the retry count
// bumped. The message expires back into the main queue after delay.
func PublishRetry(ctx context.Context, ch Channel, queue string, d amqp.Delivery, delay time.Duration) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[RetryHeader] = int32(RetryCount(d.Headers) + 1)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(cctx, "", RetryQueue(queue), false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Headers:      headers,
		Body:         d.Body,
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Timestamp:    time.Now(),
	})
}
