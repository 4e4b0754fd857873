package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	mqcontracts "habitledger/contracts/mq"
	"habitledger/internal/cache"
	"habitledger/internal/config"
	"habitledger/internal/habit"
	"habitledger/internal/handler"
	"habitledger/internal/httpserver"
	"habitledger/internal/mqhandler"
	"habitledger/internal/repository"
	"habitledger/internal/service"
	"habitledger/pkg/db"
	"habitledger/pkg/logger"
	"habitledger/pkg/mq"
	"habitledger/pkg/outbox"
	"habitledger/pkg/redis"
	"habitledger/pkg/util"
)

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, outbox dispatcher, event consumers and the daily rollover",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func runServe(cfg *config.Config, migrate bool) error {
	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting habitledger...",
		zap.String("version", Version),
		zap.String("db_host", cfg.DB.Host),
		zap.Bool("mq_enabled", cfg.MQ.Enabled),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
	)

	// DB
	pool, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	if migrate {
		if _, err := repository.Migrate(ctx, pool, log); err != nil {
			return err
		}
	}

	repo := repository.NewHabitRepository(pool, log)
	engine := habit.NewEngine(repo, cfg.HabitEngine(), log)

	// Redis 不可用时降级为无缓存
	var rdb *goredis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn("Redis unavailable, running without arrears cache", zap.Error(err))
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}
	var arrearsCache *cache.ArrearsCache
	if rdb != nil {
		arrearsCache = cache.NewArrearsCache(rdb, cfg.Engine.ArrearsCacheTTL, log)
	}
	arrears := cache.NewCachedArrears(engine, arrearsCache)

	g, gctx := errgroup.WithContext(ctx)
	ready := httpserver.Readiness{DB: repo}

	// MQ: outbox dispatcher + consumers
	if cfg.MQ.Enabled {
		publisher, err := mq.NewPublisher(ctx, cfg.MQ.URL, log)
		if err != nil {
			return err
		}
		defer publisher.Close()
		ready.MQ = publisher

		dispatcher := outbox.NewDispatcher(outbox.NewRepository(pool), publisher, log)
		if cfg.Outbox.Interval > 0 {
			dispatcher.WithInterval(cfg.Outbox.Interval)
		}
		if cfg.Outbox.BatchSize > 0 {
			dispatcher.WithBatchSize(cfg.Outbox.BatchSize)
		}
		if cfg.Outbox.MaxRetries > 0 {
			dispatcher.WithMaxRetries(cfg.Outbox.MaxRetries)
		}
		g.Go(func() error { return dispatcher.Start(gctx) })

		bindings := []struct {
			queue      string
			routingKey string
			handler    mq.MessageHandler
		}{
			{"habit.completion.toggled.arrears.q", mqcontracts.RoutingKeyCompletionToggled, mqhandler.NewCompletionToggledHandler(arrears, log).Handle},
			{"habit.skipped.arrears.q", mqcontracts.RoutingKeyHabitSkipped, mqhandler.NewHabitSkippedHandler(arrears, log).Handle},
			{"profile.level_changed.audit.q", mqcontracts.RoutingKeyLevelChanged, mqhandler.NewLevelChangedHandler(log).Handle},
		}
		for _, b := range bindings {
			consumer, err := mq.NewConsumer(ctx, cfg.MQ.URL, b.queue, b.routingKey, log)
			if err != nil {
				return err
			}
			defer consumer.Close()

			consumer.SetHandler(b.handler)
			if rdb != nil {
				consumer.
					WithRetryLimit(util.NewRetryCounter(rdb, cfg.Consumer.RetryTTL), cfg.Consumer.MaxRetries, publisher).
					WithDeduper(util.NewDeduper(rdb, cfg.Consumer.DedupTTL, log))
			} else {
				consumer.WithRetryLimit(nil, cfg.Consumer.MaxRetries, publisher)
			}

			log.Info("Starting consumer...", zap.String("queue", b.queue), zap.String("routing_key", b.routingKey))
			g.Go(func() error { return consumer.StartConsuming(gctx) })
		}
	} else {
		log.Warn("MQ disabled: outbox events stay pending and cache invalidation relies on TTL")
	}

	rollover := service.NewRollover(repo, arrears, cfg.Engine.RolloverHour, log)
	g.Go(func() error { return rollover.Start(gctx) })

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	habitHandler := handler.NewHabitHandler(engine, arrears, log)
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: httpserver.NewRouter(habitHandler, ready, log),
	}

	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("habitledger stopped with error", zap.Error(err))
		return err
	}
	log.Info("habitledger stopped")
	return nil
}
