package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "interview"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	ActionResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "action_results_total",
		Help:      "Action layer outcomes by operation and result kind",
	}, []string{"action", "result"})

	PersistenceRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persistence_retries_total",
		Help:      "Persistence attempts that failed and were retried",
	}, []string{"action"})

	ChatLinkMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_link_mismatches_total",
		Help:      "Chat id link attempts ignored because a different id was already stored",
	})

	RateLimitDenials = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_denials_total",
		Help:      "Requests rejected by the per-user token bucket",
	})

	QuestionTrailers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "question_trailers_total",
		Help:      "Generated question streams by trailer outcome (sent, missed)",
	}, []string{"outcome"})

	StaleInterviews = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stale_unlinked_interviews",
		Help:      "Interviews older than the sweep threshold that never got a chat id",
	})

	FeedbackJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feedback_jobs_total",
		Help:      "Async feedback jobs processed by the worker",
	}, []string{"result"})
)

// Middleware records request counts and latency by route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequests.WithLabelValues(c.Request.Method, path, status).Inc()
		httpLatency.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
