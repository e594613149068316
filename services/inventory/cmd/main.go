package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/stock-reservation/pkg/config"
	"github.com/sakashimaa/stock-reservation/pkg/db"
	"github.com/sakashimaa/stock-reservation/pkg/kafka"
	"github.com/sakashimaa/stock-reservation/pkg/metrics"
	outbox "github.com/sakashimaa/stock-reservation/pkg/outbox/repository"
	"github.com/sakashimaa/stock-reservation/pkg/outbox/worker"
	"github.com/sakashimaa/stock-reservation/pkg/retry"
	"github.com/sakashimaa/stock-reservation/pkg/utils"
	"github.com/sakashimaa/stock-reservation/services/inventory/internal/repository"
	"github.com/sakashimaa/stock-reservation/services/inventory/internal/service"
	inventoryHttp "github.com/sakashimaa/stock-reservation/services/inventory/internal/transport/http"
	inventoryKafka "github.com/sakashimaa/stock-reservation/services/inventory/internal/transport/kafka"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	cfg := config.MustLoad("config/inventory.yaml")

	logger, err := config.NewLogger(cfg.LoggerConfig())
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("inventory service stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, cfg.ServiceName, cfg.Tracing.Endpoint, cfg.Env)
	if err != nil {
		return err
	}

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("Error closing redis client", zap.Error(err))
		}
	}()

	kafkaProducer, err := kafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		return err
	}
	defer func() {
		if err := kafkaProducer.Close(); err != nil {
			logger.Warn("Error closing kafka producer", zap.Error(err))
		}
	}()

	m := metrics.New(cfg.ServiceName)

	productRepository := repository.NewProductRepository(pool, logger)
	reservationRepository := repository.NewReservationRepository(pool, logger)
	outboxRepository := outbox.NewOutboxRepository(pool, logger)

	m.RegisterOutboxBacklog(func() float64 {
		n, err := outboxRepository.CountBacklog(context.Background())
		if err != nil {
			return -1
		}
		return float64(n)
	})

	ledgerService := service.NewLedgerService(productRepository, reservationRepository, outboxRepository, pool, logger)
	cachedLedgerService := service.NewCachedLedgerService(ledgerService, rdb, cfg.Redis.CacheTTL, logger)

	outboxProcessor := worker.NewOutboxProcessor(pool, outboxRepository, kafkaProducer, m, cfg.Outbox, logger)
	consumer := inventoryKafka.NewConsumer(cachedLedgerService, kafkaProducer, m, retry.PolicyFromConfig(cfg.Consumer), logger)
	dlqMonitor := inventoryKafka.NewDLQMonitor(m, logger)

	app := inventoryHttp.NewApp(cfg.Limiter)
	inventoryHttp.RegisterRoutes(app, inventoryHttp.NewProductHandler(cachedLedgerService, cfg.HTTP.Timeout, logger), m)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return outboxProcessor.Start(gCtx)
	})
	g.Go(func() error {
		return consumer.Start(gCtx, cfg.Kafka.Brokers)
	})
	g.Go(func() error {
		return dlqMonitor.Start(gCtx, cfg.Kafka.Brokers)
	})
	g.Go(func() error {
		logger.Info("HTTP inventory service listening", zap.String("port", cfg.HTTP.Port))
		return app.Listen(cfg.HTTP.Port)
	})
	g.Go(func() error {
		<-gCtx.Done()

		logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var errs []error
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}

		return errors.Join(errs...)
	})

	return g.Wait()
}
