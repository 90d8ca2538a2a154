package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"groupbuy-service/config"
	"groupbuy-service/internal/api"
	"groupbuy-service/internal/auth"
	"groupbuy-service/internal/broker"
	"groupbuy-service/internal/models"
	"groupbuy-service/internal/redisclient"
	"groupbuy-service/internal/service"
	"groupbuy-service/internal/store"
	"groupbuy-service/internal/util"
	"groupbuy-service/internal/worker"

	"github.com/gin-gonic/gin"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting group-buy service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	repo, closeStore := openStore(cfg, logger)
	defer closeStore()

	var (
		listingCache service.ListingCache
		locker       worker.Locker
	)
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, running without listing cache or sweep lock", zap.Error(err))
	} else {
		defer redisClient.Close()
		listingCache = redisclient.NewListingCache(redisClient, cfg.Business.ListingCacheTTL())
		locker = redisClient
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCampaign)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicCampaign))

	eventPublisher := broker.NewEventPublisher(producer)

	paymentService := service.NewPaymentService()
	coordinator := service.NewCoordinator(repo, paymentService, eventPublisher,
		service.WithPaymentWindow(cfg.Business.PaymentWindow()))
	catalog := service.NewCatalogService(repo, listingCache)
	verifier := auth.NewVerifier(cfg.Auth.SessionSecret)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var cacheWorker *worker.CacheWorker
	if cfg.Kafka.ConsumeEnabled && listingCache != nil {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCampaign, cfg.Kafka.ConsumerGroup)
		cacheWorker = worker.NewCacheWorker(consumer, catalog)
		go func() {
			if err := cacheWorker.Start(workerCtx); err != nil {
				logger.Error("Cache worker error", zap.Error(err))
			}
		}()
	}

	var deadlineWorker *worker.DeadlineWorker
	if cfg.Sweep.Enabled {
		deadlineWorker = worker.NewDeadlineWorker(coordinator, locker, cfg.Sweep.Schedule)
		if err := deadlineWorker.Start(); err != nil {
			logger.Fatal("Failed to schedule deadline sweep", zap.Error(err))
		}
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(coordinator, catalog, verifier, repo)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if deadlineWorker != nil {
		deadlineWorker.Stop()
	}
	if cacheWorker != nil {
		if err := cacheWorker.Stop(); err != nil {
			logger.Warn("Error stopping cache worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

// openStore connects the configured repository and returns its cleanup.
func openStore(cfg *config.Config, logger *zap.Logger) (store.Repository, func()) {
	switch cfg.Database.Driver {
	case "memory":
		mem := store.NewMemoryStore()
		mem.AddProduct(models.Product{ID: "demo-product", Name: "Demo Product", Brand: "Demo", Category: "demo"})
		logger.Warn("Using in-memory store; data is lost on exit")
		return mem, func() {}
	case "postgres":
		db, err := store.NewStore(cfg.Database.URL, cfg.Database.MaxOpenConns)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to apply schema", zap.Error(err))
		}
		logger.Info("Database connected")
		return db, func() { db.Close() }
	default:
		logger.Fatal("Unknown store driver", zap.String("driver", cfg.Database.Driver))
		return nil, nil
	}
}
