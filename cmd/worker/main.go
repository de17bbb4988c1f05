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
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/suPer8Hu/ai-interview/internal/ai"
	"github.com/suPer8Hu/ai-interview/internal/cache"
	"github.com/suPer8Hu/ai-interview/internal/config"
	"github.com/suPer8Hu/ai-interview/internal/db"
	"github.com/suPer8Hu/ai-interview/internal/hume"
	"github.com/suPer8Hu/ai-interview/internal/interview"
	"github.com/suPer8Hu/ai-interview/internal/jobinfo"
	"github.com/suPer8Hu/ai-interview/internal/logging"
	"github.com/suPer8Hu/ai-interview/internal/metrics"
	"github.com/suPer8Hu/ai-interview/internal/store/rabbitmq"
	"github.com/suPer8Hu/ai-interview/internal/worker"
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

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()
	store := cache.New(rdb, cfg.CacheTTL, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := ai.RegistryFromConfig(cfg).Get(ctx, cfg.AIProvider, "")
	if err != nil {
		log.Fatal("ai provider", zap.String("provider", cfg.AIProvider), zap.Error(err))
	}

	repo := interview.NewRepo(gdb)
	actions := interview.NewActions(interview.Deps{
		Repo:        repo,
		JobInfos:    jobinfo.NewRepo(gdb, store),
		Cache:       store,
		Transcripts: hume.NewClient(cfg.HumeBaseURL, cfg.HumeAPIKey),
		Feedback:    interview.AIFeedback{Provider: provider},
		Log:         log,
	})

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal("queue declare", zap.Error(err))
	}

	// strict concurrency control
	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume", zap.Error(err))
	}

	sweeper := &worker.Sweeper{Counter: repo, Log: log}
	sched := cron.New()
	if _, err := sweeper.Schedule(ctx, sched, cfg.StaleSweepSchedule); err != nil {
		log.Fatal("stale sweep schedule", zap.String("spec", cfg.StaleSweepSchedule), zap.Error(err))
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: r}

	pool := &worker.Pool{
		Concurrency: concurrency,
		Handler:     &worker.Handler{Runner: actions, Log: log},
		Channel:     ch,
		Queue:       cfg.RabbitQueue,
		Log:         log,
	}

	log.Info("worker started", zap.String("queue", cfg.RabbitQueue), zap.Int("concurrency", concurrency))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pool.Run(gctx, msgs)
		if ctx.Err() == nil {
			return errors.New("delivery channel closed")
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("worker stopped", zap.Error(err))
	}
}
