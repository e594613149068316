package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sakashimaa/stock-reservation/pkg/config"
	"github.com/sakashimaa/stock-reservation/pkg/db"
	pkgKafka "github.com/sakashimaa/stock-reservation/pkg/kafka"
	"github.com/sakashimaa/stock-reservation/pkg/metrics"
	"github.com/sakashimaa/stock-reservation/pkg/retry"
	"github.com/sakashimaa/stock-reservation/pkg/utils"
	"github.com/sakashimaa/stock-reservation/services/notification/internal/infrastructure/email"
	"github.com/sakashimaa/stock-reservation/services/notification/internal/service"
	notificationHttp "github.com/sakashimaa/stock-reservation/services/notification/internal/transport/http"
	"github.com/sakashimaa/stock-reservation/services/notification/internal/transport/kafka"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	cfg := config.MustLoad("config/notification.yaml")

	logger, err := config.NewLogger(cfg.LoggerConfig())
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("notification service stopped with error", zap.Error(err))
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

	kafkaProducer, err := pkgKafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		return err
	}
	defer func() {
		if err := kafkaProducer.Close(); err != nil {
			logger.Warn("Error closing kafka producer", zap.Error(err))
		}
	}()

	m := metrics.New(cfg.ServiceName)

	emailSender := email.NewSMTPSender(cfg.SMTP, logger)
	notificationService := service.NewNotificationService(emailSender, logger, pool, m)
	consumer := kafka.NewConsumer(notificationService, kafkaProducer, m, retry.PolicyFromConfig(cfg.Consumer), logger)

	app := notificationHttp.NewApp(m)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Start(gCtx, cfg.Kafka.Brokers)
	})
	g.Go(func() error {
		logger.Info("Notification service listening", zap.String("port", cfg.HTTP.Port))
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
