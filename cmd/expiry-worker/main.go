package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/fleet-rental-holds/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/fleet-rental-holds/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/fleet-rental-holds/internal/adapters/redis"
	"github.com/robertarktes/fleet-rental-holds/internal/booking"
	"github.com/robertarktes/fleet-rental-holds/internal/config"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLoggerWithLevel(os.Stdout, cfg.LogLevel).WithField("component", "expiry-worker")

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)

	var ledger booking.Ledger = crdb.NewLedger(pool)
	if cfg.LedgerBackend == config.LedgerRedis {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		ledger = redisadapter.NewLedger(redisClient)
	}

	manager := booking.NewManager(repo, ledger, catalog, logger,
		booking.WithHoldDuration(cfg.HoldDuration),
		booking.WithAuditor(mongoadapter.NewAuditLogger(mongoDB, logger)),
	)

	if cfg.ReconcileOnStart {
		corrections, err := booking.NewReconciler(repo, ledger, catalog, logger).Run(ctx)
		if err != nil {
			logger.WithError(err).Error("ledger reconciliation failed")
		} else {
			logger.WithField("corrections", len(corrections)).Info("ledger reconciled")
		}
	}

	sweeper := booking.NewSweeper(repo, manager, logger,
		booking.WithInterval(cfg.SweepInterval),
		booking.WithBatchSize(cfg.SweepBatchSize),
		booking.WithConcurrency(cfg.SweepConcurrency),
	)

	logger.WithField("interval", cfg.SweepInterval.String()).Info("expiry worker started")
	sweeper.Run(ctx)
	logger.Info("Shutdown expiry worker")
}
