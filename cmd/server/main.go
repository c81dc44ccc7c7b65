package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lipa/config"
	"lipa/internal/database"
	"lipa/internal/events"
	"lipa/internal/middleware"
	"lipa/internal/repository"
	"lipa/internal/router"
	"lipa/internal/service"
	"lipa/pkg/payment"
	"lipa/pkg/poll"

	"github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()
	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	logger.Info("database connected", zap.String("driver", cfg.Database.Driver), zap.String("addr", dsnAddr(cfg.Database)))
	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	gateway := newGateway(cfg, logger)
	publisher := newPublisher(cfg, logger)
	if c, ok := publisher.(interface{ Close() error }); ok {
		defer c.Close()
	}
	limiter := newLimiter(ctx, cfg, logger)

	intents := repository.NewIntentRepository(db)
	orders := repository.NewOrderRepository(db)
	settler := service.NewSettler(intents, orders, publisher, logger)
	deps := router.Deps{
		Initiator: service.NewInitiator(intents, orders, gateway, cfg.Mpesa.AccountRef, logger),
		Status:    service.NewStatusService(intents, poll.Poller{Interval: cfg.Poll.Interval, MaxAttempts: cfg.Poll.MaxAttempts}),
		Callbacks: service.NewCallbackService(intents, settler, logger),
		Limiter:   limiter,
		Ready:     func() error { return ping(db) },
	}

	if cfg.Reconcile.Enabled {
		service.NewReconciler(intents, gateway, settler, service.ReconcilerConfig{
			Interval:     cfg.Reconcile.Interval,
			PendingAfter: cfg.Reconcile.PendingAfter,
			BatchSize:    cfg.Reconcile.BatchSize,
		}, logger).Start(ctx)
	}

	engine, err := router.Setup(cfg, deps, logger)
	if err != nil {
		logger.Fatal("router", zap.Error(err))
	}
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("provider", cfg.Mpesa.Provider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Server.Env != "production" {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func newGateway(cfg *config.Config, logger *zap.Logger) payment.Gateway {
	if cfg.Mpesa.Provider == "stub" {
		logger.Warn("MPESA_PROVIDER=stub: pushes are accepted locally and never reach Safaricom")
		return payment.NewStubGateway()
	}
	return payment.NewDarajaClient(payment.DarajaConfig{
		BaseURL:         cfg.Mpesa.BaseURL,
		ConsumerKey:     cfg.Mpesa.ConsumerKey,
		ConsumerSecret:  cfg.Mpesa.ConsumerSecret,
		ShortCode:       cfg.Mpesa.ShortCode,
		PassKey:         cfg.Mpesa.PassKey,
		TransactionType: cfg.Mpesa.TransactionType,
		CallbackURL:     cfg.Mpesa.CallbackURL,
		TokenTimeout:    cfg.Mpesa.TokenTimeout,
		PushTimeout:     cfg.Mpesa.PushTimeout,
	}, logger)
}

func newPublisher(cfg *config.Config, logger *zap.Logger) events.Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.NopPublisher{}
	}
	producer, err := events.NewSyncProducer(cfg.Kafka.Brokers)
	if err != nil {
		logger.Warn("kafka unavailable, payment events disabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
		return events.NopPublisher{}
	}
	return events.NewKafkaPublisher(producer, cfg.Kafka.Topic, logger)
}

func newLimiter(ctx context.Context, cfg *config.Config, logger *zap.Logger) middleware.Limiter {
	if cfg.RateLimit.Requests <= 0 {
		return nil
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		err := rdb.Ping(pingCtx).Err()
		if err == nil {
			return middleware.NewRedisRateLimiter(rdb, "lipa:ratelimit:", cfg.RateLimit.Requests, cfg.RateLimit.Window)
		}
		logger.Warn("redis unavailable, using in-memory rate limiter", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		_ = rdb.Close()
	}
	mem := middleware.NewInMemoryRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	go mem.Cleanup(ctx, cfg.RateLimit.Window)
	return mem
}

func ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// dsnAddr returns the host part of the DSN so credentials never reach the log.
func dsnAddr(cfg config.DatabaseConfig) string {
	if cfg.Driver != "mysql" {
		return cfg.Driver
	}
	parsed, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return "unparseable dsn"
	}
	return parsed.Addr + "/" + parsed.DBName
}
