package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-interview/internal/common"
	"github.com/suPer8Hu/ai-interview/internal/interview"
	"github.com/suPer8Hu/ai-interview/internal/question"
	"github.com/suPer8Hu/ai-interview/internal/store/rabbitmq"
	"go.uber.org/zap"
)

type FeedbackQueue interface {
	PublishFeedbackJob(ctx context.Context, job rabbitmq.FeedbackJob) error
}

type Handler struct {
	Interviews  *interview.Actions
	Questions   *question.Service
	Queue       FeedbackQueue
	TrailerWait time.Duration
	Log         *zap.Logger
}

func NewHandler(interviews *interview.Actions, questions *question.Service, queue FeedbackQueue, trailerWait time.Duration, log *zap.Logger) *Handler {
	if trailerWait <= 0 {
		trailerWait = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Interviews: interviews, Questions: questions, Queue: queue, TrailerWait: trailerWait, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, "pong")
}
