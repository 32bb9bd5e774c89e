package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/fleet-rental-holds/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/fleet-rental-holds/internal/adapters/mongo"
	"github.com/robertarktes/fleet-rental-holds/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/fleet-rental-holds/internal/adapters/redis"
	"github.com/robertarktes/fleet-rental-holds/internal/booking"
	"github.com/robertarktes/fleet-rental-holds/internal/config"
	httphandler "github.com/robertarktes/fleet-rental-holds/internal/http"
	"github.com/robertarktes/fleet-rental-holds/internal/idempotency"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
	"github.com/robertarktes/fleet-rental-holds/internal/payments"
	"github.com/robertarktes/fleet-rental-holds/internal/rateLimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.SetupOTel(ctx, cfg, "api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLoggerWithLevel(os.Stdout, cfg.LogLevel)

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	if err := crdb.Migrate(ctx, pool); err != nil {
		log.Fatalf("failed to migrate crdb: %v", err)
	}
	crdbRepo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	mongoCatalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache)

	var ledger booking.Ledger = crdb.NewLedger(pool)
	if cfg.LedgerBackend == config.LedgerRedis {
		ledger = redisadapter.NewLedger(redisClient)
	}

	manager := booking.NewManager(crdbRepo, ledger, mongoCatalog, logger,
		booking.WithHoldDuration(cfg.HoldDuration),
		booking.WithAuditor(audit),
	)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	consumer, err := rabbit.NewConsumer(rabbitConn, rabbit.PaymentsQueue, rabbit.PaymentSucceeded)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()
	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume %s: %v", rabbit.PaymentsQueue, err)
	}
	listener := payments.NewListener(manager, logger.WithField("component", "payments"))

	handlers := httphandler.NewHandlers(manager, map[string]httphandler.Check{
		"crdb":  pool.Ping,
		"redis": redisCache.Ping,
		"mongo": func(ctx context.Context) error { return mongoClient.Ping(ctx, readpref.Primary()) },
	}, logger)

	r := httphandler.SetupRouter(handlers, logger, httphandler.RouterOptions{
		Limiter:            rl,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Idempotency:        idemp,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		listener.Run(gctx, deliveries)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped with error")
		os.Exit(1)
	}
	logger.Info("Server exiting")
}
