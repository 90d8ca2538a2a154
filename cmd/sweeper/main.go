// Command sweeper resolves campaigns whose payment deadline has elapsed. It
// sweeps once and exits, or keeps sweeping on SWEEP_SCHEDULE with -watch.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"groupbuy-service/config"
	"groupbuy-service/internal/broker"
	"groupbuy-service/internal/redisclient"
	"groupbuy-service/internal/service"
	"groupbuy-service/internal/store"
	"groupbuy-service/internal/util"
	"groupbuy-service/internal/worker"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
)

var watch bool

func init() {
	flag.BoolVar(&watch, "watch", false, "keep running and sweep on SWEEP_SCHEDULE")
}

func main() {
	flag.Parse()

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	if cfg.Database.Driver != "postgres" {
		logger.Fatal("Sweeper requires the postgres store", zap.String("driver", cfg.Database.Driver))
	}

	db, err := store.NewStore(cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	var locker worker.Locker
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, sweeping without lock", zap.Error(err))
	} else {
		defer redisClient.Close()
		locker = redisClient
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCampaign)
	defer producer.Close()

	coordinator := service.NewCoordinator(db, service.NewPaymentService(), broker.NewEventPublisher(producer),
		service.WithPaymentWindow(cfg.Business.PaymentWindow()))
	sweeper := worker.NewDeadlineWorker(coordinator, locker, cfg.Sweep.Schedule)

	if !watch {
		start := time.Now()
		sweeper.RunOnce()
		logger.Info("Sweep finished", zap.Duration("took", time.Since(start)))
		return
	}

	if err := sweeper.Start(); err != nil {
		logger.Fatal("Failed to schedule deadline sweep", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	<-ctx.Done()

	sweeper.Stop()
	logger.Info("Sweeper exited")
}
