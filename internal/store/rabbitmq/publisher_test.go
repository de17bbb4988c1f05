package rabbitmq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFeedbackJob(t *testing.T) {
	body, err := json.Marshal(FeedbackJob{InterviewID: "iv_1", UserID: "user_1", UserName: "Ada"})
	require.NoError(t, err)

	job, ok := DecodeFeedbackJob(body)
	require.True(t, ok)
	assert.Equal(t, "iv_1", job.InterviewID)
	assert.Equal(t, "Ada", job.UserName)

	_, ok = DecodeFeedbackJob([]byte(`{"interview_id":"iv_1"}`))
	assert.False(t, ok)
	_, ok = DecodeFeedbackJob([]byte(`not json`))
	assert.False(t, ok)
}

func TestQueueNames(t *testing.T) {
	assert.Equal(t, "interview_feedback_jobs.retry", RetryQueue("interview_feedback_jobs"))
	assert.Equal(t, "interview_feedback_jobs.dlq", DLQ("interview_feedback_jobs"))
}

type recordingChannel struct {
	key string
	msg amqp.Publishing
}

func (r *recordingChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	r.key = key
	r.msg = msg
	return nil
}

func TestRetryCount(t *testing.T) {
	assert.Equal(t, 0, RetryCount(nil))
	assert.Equal(t, 2, RetryCount(amqp.Table{RetryHeader: int32(2)}))
	assert.Equal(t, 3, RetryCount(amqp.Table{RetryHeader: int64(3)}))
	assert.Equal(t, 0, RetryCount(amqp.Table{RetryHeader: "x"}))
}

func TestPublishRetryBumpsCount(t *testing.T) {
	ch := &recordingChannel{}
	d := amqp.Delivery{
		MessageId: "iv_1",
		Body:      []byte(`{"interview_id":"iv_1","user_id":"u"}`),
		Headers:   amqp.Table{RetryHeader: int32(1), "trace": "abc"},
	}

	require.NoError(t, PublishRetry(context.Background(), ch, "q", d, 1500*time.Millisecond))

	assert.Equal(t, "q.retry", ch.key)
	assert.Equal(t, int32(2), ch.msg.Headers[RetryHeader])
	assert.Equal(t, "abc", ch.msg.Headers["trace"])
	assert.Equal(t, "1500", ch.msg.Expiration)
	assert.Equal(t, d.Body, ch.msg.Body)
	assert.Equal(t, int32(1), d.Headers[RetryHeader])
}
