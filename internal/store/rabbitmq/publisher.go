package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// FeedbackJob asks the worker to generate feedback for a finished
// interview on behalf of the user who requested it.
type FeedbackJob struct {
	InterviewID string `json:"interview_id"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
}

func RetryQueue(queue string) string { return queue + ".retry" }
func DLQ(queue string) string        { return queue + ".dlq" }

// DeclareTopology declares the main queue, its retry queue (messages
// expire back into main) and its dead-letter queue. Publisher and worker
// must agree on it.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(
		DLQ(queue),
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		RetryQueue(queue),
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": queue,
		},
	); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": DLQ(queue),
		},
	)
	return err
}

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishFeedbackJob(ctx context.Context, job FeedbackJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.InterviewID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// DecodeFeedbackJob parses a delivery body. A job without an interview
// or user id is invalid.
func DecodeFeedbackJob(body []byte) (FeedbackJob, bool) {
	var job FeedbackJob
	if err := json.Unmarshal(body, &job); err != nil {
		return FeedbackJob{}, false
	}
	if job.InterviewID == "" || job.UserID == "" {
		return FeedbackJob{}, false
	}
	return job, true
}
