package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dundurn-Market/open-tender-redux/config"
	"github.com/Dundurn-Market/open-tender-redux/internal/api"
	"github.com/Dundurn-Market/open-tender-redux/internal/broker"
	"github.com/Dundurn-Market/open-tender-redux/internal/commerce"
	"github.com/Dundurn-Market/open-tender-redux/internal/redisclient"
	"github.com/Dundurn-Market/open-tender-redux/internal/service"
	"github.com/Dundurn-Market/open-tender-redux/internal/store"
	"github.com/Dundurn-Market/open-tender-redux/internal/util"
	"github.com/Dundurn-Market/open-tender-redux/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service")

	tp, err := util.InitTracer(cfg.Observ)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := db.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("Failed to apply schema", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout)
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicCheckout))

	eventPublisher := broker.NewEventPublisher(producer)

	commerceClient := commerce.NewClient(commerce.Config{
		BaseURL:  cfg.Commerce.BaseURL,
		AuthURL:  cfg.Commerce.AuthURL,
		ClientID: cfg.Commerce.ClientID,
		BrandID:  cfg.Commerce.BrandID,
		Timeout:  cfg.Commerce.Timeout,
	})
	recurrenceClient := commerce.NewRecurrenceClient(cfg.Recurrence.BaseURL, commerce.WithTimeout(cfg.Recurrence.Timeout))

	settings := service.Settings{
		SessionTTL:     cfg.Checkout.SessionTTL,
		LockTTL:        cfg.Checkout.LockTTL,
		CartAlertDelay: cfg.Checkout.CartAlertDelay,
		WorkingText:    cfg.Checkout.WorkingText,
		SweepInterval:  cfg.Checkout.SweepInterval,
	}
	sessionService := service.NewSessionService(redisClient, commerceClient, settings.SessionTTL)
	menuService := service.NewMenuService(sessionService, commerceClient)
	customerService := service.NewCustomerService(sessionService, commerceClient, recurrenceClient)
	checkoutService := service.NewCheckoutService(
		sessionService,
		menuService,
		customerService,
		commerceClient,
		recurrenceClient,
		redisClient,
		eventPublisher,
		settings,
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go func() {
		if err := checkoutService.RunSweeper(workerCtx, settings.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Checkout sweeper error", zap.Error(err))
		}
	}()

	var ledgerWorker *worker.LedgerWorker
	if !cfg.Kafka.DisableWorkers {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout, cfg.Kafka.ConsumerGroup)
		ledgerWorker = worker.NewLedgerWorker(consumer, db)
		go func() {
			if err := ledgerWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Ledger worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(sessionService, menuService, customerService, checkoutService, db, map[string]api.Pinger{
		"redis":    redisClient,
		"database": db,
	})
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

	err = srv.Shutdown(shutdownCtx)
	checkoutService.Shutdown()

	workerCancel()
	if ledgerWorker != nil {
		err = multierr.Append(err, ledgerWorker.Stop())
	}
	err = multierr.Combine(
		err,
		producer.Close(),
		redisClient.Close(),
		db.Close(),
		tp.Shutdown(shutdownCtx),
	)
	for _, e := range multierr.Errors(err) {
		logger.Error("Shutdown error", zap.Error(e))
	}

	logger.Info("Server exited")
}
