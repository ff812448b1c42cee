package main

import (
	"context"
	"fmt"
	"ms-tiket/internal/auth"
	"ms-tiket/internal/config"
	"ms-tiket/internal/database/migrations"
	"ms-tiket/internal/kafka"
	"ms-tiket/internal/ledger"
	ledgerbadger "ms-tiket/internal/ledger/badger"
	ledgerdb "ms-tiket/internal/ledger/db"
	"ms-tiket/internal/ledger/ledger_api"
	ledgerredis "ms-tiket/internal/ledger/redis"
	"ms-tiket/internal/logger"
	"ms-tiket/internal/payment"
	"ms-tiket/internal/rabbitmq"
	"ms-tiket/internal/sse"
	qr "ms-tiket/internal/tickets/qr_generator"
	"ms-tiket/internal/utils"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Addr, cfg.DB))
	return client
}

// runMigrations applies the PostgreSQL schema on its own connection; the
// migration driver closes the handle it is given.
func runMigrations(ctx context.Context, cfg config.StoreConfig, log *logger.Logger) error {
	bunDB, err := ledgerdb.Open(ctx, cfg, log)
	if err != nil {
		return err
	}

	runner := migrations.NewRunner(bunDB, migrations.Options{MigrationsDir: cfg.MigrationsDir}, log)
	defer func() {
		if err := runner.Close(); err != nil {
			log.Warn("MIGRATE", fmt.Sprintf("Failed to close migrator: %v", err))
		}
	}()
	return runner.MigrateUp()
}

// openStore builds the ledger store selected by STORE_DRIVER. The returned
// func releases its connections.
func openStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client, log *logger.Logger) (ledger.Store, func()) {
	switch cfg.Store.Driver {
	case config.DriverPostgres, config.DriverSQLite:
		if cfg.Store.Driver == config.DriverPostgres && cfg.Store.AutoMigrate {
			log.Info("MIGRATE", fmt.Sprintf("Applying migrations from %s", cfg.Store.MigrationsDir))
			if err := runMigrations(ctx, cfg.Store, log); err != nil {
				log.Fatal("MIGRATE", fmt.Sprintf("Migration failed: %v", err))
			}
		}

		bunDB, err := ledgerdb.Open(ctx, cfg.Store, log)
		if err != nil {
			log.Fatal("DATABASE", err.Error())
		}
		store := ledgerdb.New(bunDB)

		if cfg.Store.Driver == config.DriverSQLite {
			if err := store.CreateSchema(ctx); err != nil {
				log.Fatal("DATABASE", fmt.Sprintf("Failed to create schema: %v", err))
			}
		}
		log.LogStore("OPEN", cfg.Store.Driver, "ledger store ready")
		return store, func() { bunDB.Close() }

	case config.DriverBadger:
		store, err := ledgerbadger.Open(cfg.Store.BadgerDir, log)
		if err != nil {
			log.Fatal("STORE", err.Error())
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Warn("STORE", fmt.Sprintf("Failed to close badger: %v", err))
			}
		}

	case config.DriverRedis:
		log.Info("STORE", fmt.Sprintf("Using redis ledger store with prefix %q", cfg.Redis.KeyPrefix))
		return ledgerredis.NewStore(redisClient, cfg.Redis.KeyPrefix), func() {}

	default:
		log.Warn("STORE", "Using in-memory ledger store; state is lost on restart")
		return ledger.NewMemoryStore(), func() {}
	}
}

func newPayout(cfg config.PayoutConfig, log *logger.Logger) ledger.Payout {
	if cfg.StripeSecretKey == "" {
		log.Warn("PAYOUT", "STRIPE_SECRET_KEY not set, withdrawals are recorded without a payout")
		return payment.RecordOnly{Logger: log}
	}

	payout, err := payment.NewStripePayout(cfg.StripeSecretKey, cfg.Currency, cfg.Destination, int32(cfg.Scale), log)
	if err != nil {
		log.Fatal("PAYOUT", err.Error())
	}
	log.Info("PAYOUT", fmt.Sprintf("Stripe payouts enabled to %s in %s", cfg.Destination, cfg.Currency))
	return payout
}

// newPublishers returns the dispatcher targets and a func closing them.
func newPublishers(cfg *config.Config, emitter *sse.LedgerEventEmitter, log *logger.Logger) ([]ledger.Publisher, func()) {
	publishers := []ledger.Publisher{emitter}
	var closers []func() error

	if cfg.Kafka.Enabled {
		topics := []string{cfg.Kafka.Topics.TicketAdded, cfg.Kafka.Topics.TicketPurchased, cfg.Kafka.Topics.TreasuryWithdrawn}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}

		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, log)
		log.Info("KAFKA", fmt.Sprintf("Kafka producer initialized for %v", cfg.Kafka.Brokers))
		publishers = append(publishers, producer)
		closers = append(closers, producer.Close)
	} else {
		log.Info("KAFKA", "Kafka publishing disabled")
	}

	if cfg.Rabbit.URL != "" {
		publisher := rabbitmq.NewPublisher(cfg.Rabbit.URL, cfg.Rabbit.Exchange, log)
		log.Info("RABBITMQ", fmt.Sprintf("RabbitMQ publisher enabled on exchange %s", cfg.Rabbit.Exchange))
		publishers = append(publishers, publisher)
		closers = append(closers, publisher.Close)
	}

	return publishers, func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Warn("APP", fmt.Sprintf("Failed to close publisher: %v", err))
			}
		}
	}
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.LogAPI(r.Method, r.URL.Path, fmt.Sprintf("%d", ww.Status()), time.Since(start).String())
		})
	}
}

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	log := logger.NewLogger(cfg.Logging.Dir, cfg.Logging.Service)
	defer log.Close()
	log.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	log.Info("APP", "Starting Ticket Ledger initialization")
	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	ctx := context.Background()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = connectRedis(ctx, cfg.Redis, log)
		defer redisClient.Close()
	}

	store, closeStore := openStore(ctx, cfg, redisClient, log)
	defer closeStore()

	emitter := sse.NewLedgerEventEmitter()
	publishers, closePublishers := newPublishers(cfg, emitter, log)
	defer closePublishers()
	dispatcher := ledger.NewDispatcher(publishers, ledger.WithDispatcherLogger(log))

	policy, err := ledger.ParseOverpaymentPolicy(cfg.Ledger.OverpaymentPolicy)
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	l, err := ledger.New(ctx, cfg.Ledger.Owner,
		ledger.WithStore(store),
		ledger.WithPayout(newPayout(cfg.Payout, log)),
		ledger.WithEvents(dispatcher),
		ledger.WithOverpaymentPolicy(policy),
		ledger.WithLogger(log),
	)
	if err != nil {
		log.Fatal("LEDGER", fmt.Sprintf("Failed to start ledger: %v", err))
	}

	verifier, err := auth.NewVerifier(ctx, cfg.Auth)
	if err != nil {
		log.Fatal("AUTH", err.Error())
	}

	handler := ledger_api.NewHandler(l, log)
	handler.Events = emitter
	if cfg.Pass.SecretKey != "" {
		passes, err := qr.NewPassGenerator(cfg.Pass.SecretKey)
		if err != nil {
			log.Fatal("CONFIG", fmt.Sprintf("Invalid QR_SECRET_KEY: %v", err))
		}
		handler.Passes = passes
	} else {
		log.Warn("CONFIG", "QR_SECRET_KEY not set, ticket passes disabled")
	}
	if redisClient != nil {
		handler.Locks = ledgerredis.NewRequestLock(redisClient, cfg.Redis.KeyPrefix, cfg.Redis.IdempotencyTTL)
		log.Info("REDIS", "Idempotency keys enabled for purchases")
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", ledger_api.IdempotencyHeader},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", map[string]string{"owner": l.Owner()}))
	})
	handler.RegisterRoutes(r, auth.Middleware(verifier, log))
	log.Info("ROUTER", "Ticket routes registered under /api/tickets and /api/treasury")

	// cancelled on shutdown so open event streams end
	baseCtx, cancelBase := context.WithCancel(ctx)
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelBase)

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Ticket Ledger running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	if err := dispatcher.Close(ctxShutdown); err != nil {
		log.Warn("DISPATCH", fmt.Sprintf("%d events undelivered at shutdown: %v", dispatcher.Pending(), err))
	}
	log.Info("APP", "✅ Ticket Ledger shutdown complete")
}
