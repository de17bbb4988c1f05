package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/suPer8Hu/ai-interview/internal/metrics"
	"go.uber.org/zap"
)

// DefaultStaleAge is how long an interview may go without a chat id
// before it counts as abandoned.
const DefaultStaleAge = time.Hour

type StaleCounter interface {
	CountStaleUnlinked(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper publishes the number of abandoned interviews as a gauge.
type Sweeper struct {
	Counter StaleCounter
	Age     time.Duration
	Now     func() time.Time
	Log     *zap.Logger
}

func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	age := s.Age
	if age <= 0 {
		age = DefaultStaleAge
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	n, err := s.Counter.CountStaleUnlinked(ctx, now().Add(-age))
	if err != nil {
		s.Log.Warn("stale interview sweep failed", zap.Error(err))
		return 0, err
	}
	metrics.StaleInterviews.Set(float64(n))
	if n > 0 {
		s.Log.Info("stale interviews", zap.Int64("count", n))
	}
	return n, nil
}

// Schedule registers the sweep on c. Each run gets its own timeout.
func (s *Sweeper) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		_, _ = s.Sweep(cctx)
	})
}
