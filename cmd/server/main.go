package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/ai-interview/internal/ai"
	"github.com/suPer8Hu/ai-interview/internal/cache"
	"github.com/suPer8Hu/ai-interview/internal/config"
	"github.com/suPer8Hu/ai-interview/internal/db"
	"github.com/suPer8Hu/ai-interview/internal/httpapi"
	"github.com/suPer8Hu/ai-interview/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-interview/internal/hume"
	"github.com/suPer8Hu/ai-interview/internal/interview"
	"github.com/suPer8Hu/ai-interview/internal/jobinfo"
	"github.com/suPer8Hu/ai-interview/internal/logging"
	"github.com/suPer8Hu/ai-interview/internal/question"
	"github.com/suPer8Hu/ai-interview/internal/quota"
	"github.com/suPer8Hu/ai-interview/internal/ratelimit"
	"github.com/suPer8Hu/ai-interview/internal/store/rabbitmq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	log := logging.Must(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()

	var limiter ratelimit.Limiter
	bucket := ratelimit.Bucket{Capacity: cfg.RateLimitCapacity, Refill: cfg.RateLimitRefill, Interval: cfg.RateLimitInterval}
	store := cache.New(rdb, cfg.CacheTTL, log)
	if err := rdb.Ping(ctx).Err(); err != nil {
		// single replica fallback: buckets live in memory and nothing is cached
		log.Warn("redis unavailable, using in-process rate limiting", zap.Error(err))
		limiter = ratelimit.NewLocalLimiter(bucket)
		store = cache.New(nil, 0, log)
	} else {
		limiter = ratelimit.NewRedisLimiter(rdb, "create_interview", bucket)
	}

	provider, err := ai.RegistryFromConfig(cfg).Get(ctx, cfg.AIProvider, "")
	if err != nil {
		log.Fatal("ai provider", zap.String("provider", cfg.AIProvider), zap.Error(err))
	}

	caps := quota.NewCapChecker(gdb, cfg.InterviewQuota, cfg.QuestionQuota)
	jobs := jobinfo.NewRepo(gdb, store)

	actions := interview.NewActions(interview.Deps{
		Repo:        interview.NewRepo(gdb),
		JobInfos:    jobs,
		Quota:       caps,
		Limiter:     limiter,
		Cache:       store,
		Transcripts: hume.NewClient(cfg.HumeBaseURL, cfg.HumeAPIKey),
		Feedback:    interview.AIFeedback{Provider: provider},
		Log:         log,
	})
	questions := question.NewService(question.NewRepo(gdb, store), jobs, caps, provider, log)

	var queue handlers.FeedbackQueue
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Warn("rabbitmq unavailable, async feedback disabled", zap.Error(err))
	} else {
		defer pub.Close()
		queue = pub
	}

	gin.SetMode(gin.ReleaseMode)
	h := handlers.NewHandler(actions, questions, queue, cfg.TrailerWait, log)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, cfg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("server started", zap.String("addr", cfg.HTTPAddr), zap.String("ai_provider", cfg.AIProvider))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", zap.Error(err))
	}
}
