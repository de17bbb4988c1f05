// Package worker consumes queued feedback jobs.
package worker

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/ai-interview/internal/auth"
	"github.com/suPer8Hu/ai-interview/internal/interview"
	"github.com/suPer8Hu/ai-interview/internal/metrics"
	"github.com/suPer8Hu/ai-interview/internal/store/rabbitmq"
	"go.uber.org/zap"
)

type Outcome int

const (
	Ack Outcome = iota
	Retry
	DeadLetter
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "succeeded"
	case Retry:
		return "retried"
	default:
		return "dead_lettered"
	}
}

type FeedbackRunner interface {
	GenerateInterviewFeedback(ctx context.Context, interviewID string) error
}

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 30 * time.Second
	slowJob           = 2 * time.Second
)

type Handler struct {
	Runner     FeedbackRunner
	MaxRetries int
	Log        *zap.Logger
}

// Handle runs one job body. attempt is the number of earlier retries.
func (h *Handler) Handle(ctx context.Context, body []byte, attempt int) Outcome {
	log := h.Log
	if log == nil {
		log = zap.NewNop()
	}
	limit := h.MaxRetries
	if limit <= 0 {
		limit = DefaultMaxRetries
	}

	job, ok := rabbitmq.DecodeFeedbackJob(body)
	if !ok {
		log.Warn("bad feedback job", zap.ByteString("body", body))
		return DeadLetter
	}

	ctx = auth.WithIdentity(ctx, auth.Identity{UserID: job.UserID, Name: job.UserName})

	start := time.Now()
	err := h.Runner.GenerateInterviewFeedback(ctx, job.InterviewID)
	cost := time.Since(start)
	if err == nil {
		if cost > slowJob {
			log.Info("feedback job slow", zap.String("interview_id", job.InterviewID), zap.Duration("cost", cost))
		}
		return Ack
	}

	fields := []zap.Field{
		zap.String("interview_id", job.InterviewID),
		zap.Int("attempt", attempt),
		zap.Duration("cost", cost),
		zap.Error(err),
	}
	if kind, ok := interview.KindOf(err); ok {
		switch kind {
		case interview.Unauthenticated, interview.Forbidden, interview.PreconditionFailed, interview.InvalidInput:
			log.Warn("feedback job rejected", fields...)
			return DeadLetter
		}
	}
	if attempt >= limit {
		log.Error("feedback job failed, giving up", fields...)
		return DeadLetter
	}
	log.Warn("feedback job failed, will retry", fields...)
	return Retry
}

// Pool fans deliveries out to Concurrency goroutines.
type Pool struct {
	Concurrency int
	Handler     *Handler
	Channel     rabbitmq.Channel
	Queue       string
	RetryDelay  time.Duration
	Log         *zap.Logger
}

// Run dispatches until ctx is done or msgs closes, then waits for the
// in-flight jobs.
func (p *Pool) Run(ctx context.Context, msgs <-chan amqp.Delivery) {
	n := p.Concurrency
	if n <= 0 {
		n = 1
	}
	jobs := make(chan amqp.Delivery, n*2)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				p.process(ctx, workerID, d)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			p.Log.Info("worker shutting down")
			return
		case d, ok := <-msgs:
			if !ok {
				p.Log.Warn("delivery channel closed")
				return
			}
			jobs <- d
		}
	}
}

func (p *Pool) process(ctx context.Context, workerID int, d amqp.Delivery) {
	out := p.Handler.Handle(ctx, d.Body, rabbitmq.RetryCount(d.Headers))

	if out == Retry {
		delay := p.RetryDelay
		if delay <= 0 {
			delay = DefaultRetryDelay
		}
		if err := rabbitmq.PublishRetry(ctx, p.Channel, p.Queue, d, delay); err != nil {
			p.Log.Error("retry publish failed", zap.Int("worker", workerID), zap.String("message_id", d.MessageId), zap.Error(err))
			out = DeadLetter
		}
	}
	metrics.FeedbackJobs.WithLabelValues(out.String()).Inc()

	var err error
	if out == DeadLetter {
		err = d.Nack(false, false)
	} else {
		err = d.Ack(false)
	}
	if err != nil {
		p.Log.Error("ack failed", zap.Int("worker", workerID), zap.String("message_id", d.MessageId), zap.Error(err))
	}
}
