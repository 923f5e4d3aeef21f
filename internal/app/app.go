package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orderlanelabs/orderlane/internal/adapter/repository/postgres"
	"github.com/orderlanelabs/orderlane/internal/api"
	"github.com/orderlanelabs/orderlane/internal/config"
	"github.com/orderlanelabs/orderlane/internal/consumer"
	"github.com/orderlanelabs/orderlane/internal/domain/account"
	"github.com/orderlanelabs/orderlane/internal/domain/aftersales"
	"github.com/orderlanelabs/orderlane/internal/domain/inventory"
	"github.com/orderlanelabs/orderlane/internal/ledger"
	"github.com/orderlanelabs/orderlane/internal/outbox"
	"github.com/orderlanelabs/orderlane/internal/tracker"
	aftersalesuc "github.com/orderlanelabs/orderlane/internal/usecase/aftersales"
	"github.com/orderlanelabs/orderlane/internal/usecase/registration"
	"github.com/orderlanelabs/orderlane/internal/usecase/stock"
	"github.com/orderlanelabs/orderlane/pkg/broker"
	"github.com/orderlanelabs/orderlane/pkg/carrier"
	"github.com/orderlanelabs/orderlane/pkg/db"
	"github.com/orderlanelabs/orderlane/pkg/dlock"
	zaplog "github.com/orderlanelabs/orderlane/pkg/log"
	"github.com/orderlanelabs/orderlane/pkg/snowflake"
	"github.com/orderlanelabs/orderlane/sql/migrations"
)

// RunServer starts the HTTP server and background workers.
func RunServer() {
	app := fx.New(
		fx.Provide(
			// Config
			config.Load,

			// Infrastructure (Adapters)
			newRedisClient,
			newBroker,
			dlock.NewManager,

			// Domain Adapters (Bind Interfaces)
			fx.Annotate(
				postgres.NewInventoryRepository,
				fx.As(new(inventory.Repository)),
			),
			fx.Annotate(
				postgres.NewAftersalesRepository,
				fx.As(new(aftersales.Repository)),
			),
			fx.Annotate(
				postgres.NewAccountRepository,
				fx.As(new(account.Repository)),
			),
			fx.Annotate(
				carrier.NewFromEnv,
				fx.As(new(carrier.Tracker)),
				fx.As(new(carrier.LabelIssuer)),
			),

			// Outbox & Ledger
			outbox.NewRepository,
			newOutboxPublisher,
			ledger.NewStore,

			// Use Cases
			newStockUseCase,
			registration.New,
			newAftersalesUseCase,

			// Messaging Workers
			consumer.NewRecorder,
			newConsumer,
			newTrackerPoller,

			// API
			api.NewRouter,
		),
		db.Module,        // Database Module
		snowflake.Module, // Snowflake ID Module
		zaplog.Module,    // Logger Module
		fx.Invoke(registerHooks),
	)

	app.Run()
}

// RunMigrations executes database migrations (up or down).
func RunMigrations(command string) error {
	if command == "" {
		command = "up"
	}

	cfg := config.Load()
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting database migration...", zap.String("command", command))

	dbURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBSSLMode,
	)

	d, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("load migration files: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, dbURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migration up failed: %w", err)
		}
		if err == migrate.ErrNoChange {
			logger.Info("No changes to apply")
		} else {
			logger.Info("Migration up applied successfully")
		}
	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			return fmt.Errorf("migration down failed: %w", err)
		}
		logger.Info("Migration down applied successfully")
	default:
		return fmt.Errorf("unknown migration command: %s", command)
	}

	return nil
}

func registerHooks(lc fx.Lifecycle, router *api.Router, publisher *outbox.Publisher, poller *tracker.Poller, cons *consumer.Consumer, b *broker.Broker, logger *zap.Logger) {
	var publisherCancel context.CancelFunc
	var pollerCancel context.CancelFunc
	var consumerCancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting HTTP server", zap.String("port", "8080"))

			publisherCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			publisherCancel = cancel
			go publisher.Run(publisherCtx)

			pollerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			pollerCancel = cancel
			go poller.Run(pollerCtx)

			consumerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			consumerCancel = cancel
			if err := cons.Start(consumerCtx, b); err != nil {
				cancel()
				return fmt.Errorf("start consumer: %w", err)
			}

			go func() {
				if err := router.Run(); err != nil && err != http.ErrServerClosed {
					logger.Fatal("Server failed to start", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server gracefully...")

			if publisherCancel != nil {
				publisherCancel()
			}
			if pollerCancel != nil {
				pollerCancel()
			}
			if consumerCancel != nil {
				consumerCancel()
			}

			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := router.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server forced to shutdown", zap.Error(err))
				return err
			}

			if err := b.Close(); err != nil {
				logger.Warn("Broker close failed", zap.Error(err))
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		},
	})
}

func newRedisClient(cfg *config.Config) goredislib.UniversalClient {
	return goredislib.NewClient(&goredislib.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func newBroker(logger *zap.Logger) (*broker.Broker, error) {
	return broker.Connect(broker.LoadFromEnv(), logger)
}

func newOutboxPublisher(cfg *config.Config, gdb *gorm.DB, repo *outbox.Repository, b *broker.Broker, locks *dlock.Manager, logger *zap.Logger) *outbox.Publisher {
	lockOpts := dlock.DefaultOptions()
	lockOpts.Expiry = time.Duration(cfg.OutboxLockTimeoutSeconds) * time.Second

	return outbox.NewPublisher(
		gdb,
		repo,
		b,
		locks,
		time.Duration(cfg.OutboxSweepIntervalSeconds)*time.Second,
		cfg.OutboxSweepBatchSize,
		lockOpts,
		logger,
	)
}

func newStockUseCase(repo inventory.Repository, ob *outbox.Repository, ids *snowflake.Node, logger *zap.Logger) *stock.UseCase {
	return stock.New(repo, ob, ids, logger)
}

func newAftersalesUseCase(gdb *gorm.DB, repo aftersales.Repository, ob *outbox.Repository, labels carrier.LabelIssuer, ids *snowflake.Node, logger *zap.Logger) *aftersalesuc.UseCase {
	return aftersalesuc.New(gdb, repo, ob, labels, ids, logger)
}

func newConsumer(gdb *gorm.DB, led *ledger.Store, b *broker.Broker, deadLetters *consumer.Recorder, stockUC *stock.UseCase, registrationUC *registration.UseCase, logger *zap.Logger) *consumer.Consumer {
	c := consumer.New(gdb, led, b, deadLetters, logger)
	stockUC.Register(c)
	registrationUC.Register(c)
	return c
}

func newTrackerPoller(cfg *config.Config, gdb *gorm.DB, repo aftersales.Repository, trk carrier.Tracker, ob *outbox.Repository, ids *snowflake.Node, logger *zap.Logger) *tracker.Poller {
	return tracker.New(
		gdb,
		repo,
		trk,
		ob,
		ids,
		time.Duration(cfg.TrackerIntervalSeconds)*time.Second,
		cfg.TrackerBatchSize,
		logger,
	)
}
