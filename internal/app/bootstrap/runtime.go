package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/sokopay/facepay-core/internal/adapters/cache"
	eventadapter "github.com/sokopay/facepay-core/internal/adapters/events"
	"github.com/sokopay/facepay-core/internal/adapters/gateway"
	grpcadapter "github.com/sokopay/facepay-core/internal/adapters/grpc"
	httpadapter "github.com/sokopay/facepay-core/internal/adapters/http"
	"github.com/sokopay/facepay-core/internal/adapters/postgres"
	"github.com/sokopay/facepay-core/internal/adapters/security"
	"github.com/sokopay/facepay-core/internal/application"
	"github.com/sokopay/facepay-core/internal/ports"
)

// topicByEvent routes outbox event types onto broker topics. Events of one
// aggregate share a topic so the hash-partitioned key preserves their order.
var topicByEvent = map[string]string{
	"settlement.succeeded": "facepay.settlements",
	"settlement.failed":    "facepay.settlements",
	"session.expired":      "facepay.sessions",
	"identity.enrolled":    "facepay.identities",
	"identity.revoked":     "facepay.identities",
	"fraud.alert.raised":   "facepay.fraud",
	"loyalty.accrue":       "facepay.loyalty",
	"notification.receipt": "facepay.notifications",
}

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	evaluator  *application.FraudEvaluator
	service    *application.Service
	outbox     *eventadapter.OutboxWorker
	reconcile  *eventadapter.ReconcileWorker
	sweep      *eventadapter.SessionSweepWorker
	catalog    *eventadapter.CatalogConsumerWorker
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("bootstrapping facepay core", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort)

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}

	if err := postgres.RunMigrations(ctx, db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	repos := postgres.NewRepositories(db)
	tokenSigner, err := security.NewJWTSigner(cfg.JWTKeyID, cfg.JWTPrivateKeyPEM, cfg.JWTPublicKeyPEM)
	if err != nil {
		if !cfg.AllowEphemeralJWT {
			_ = sqlDB.Close()
			_ = redisClient.Close()
			return nil, fmt.Errorf("init jwt signer: %w", err)
		}
		logger.Warn("using ephemeral JWT keys for local/dev runtime")
		tokenSigner, err = security.NewEphemeralJWTSigner(cfg.JWTKeyID)
		if err != nil {
			_ = sqlDB.Close()
			_ = redisClient.Close()
			return nil, fmt.Errorf("init ephemeral jwt signer: %w", err)
		}
	}

	appCfg := application.Config{
		Currency:              cfg.Currency,
		ConfidenceThreshold:   cfg.ConfidenceThreshold,
		FailedMatchThreshold:  cfg.FailedMatchThreshold,
		LockoutDuration:       cfg.LockoutDuration,
		SessionIdleTimeout:    cfg.SessionIdleTimeout,
		SubmitMaxAttempts:     cfg.SubmitMaxAttempts,
		SubmitBackoffBase:     cfg.SubmitBackoffBase,
		ConfirmationTimeout:   cfg.ConfirmationTimeout,
		ReconcileMaxAttempts:  cfg.ReconcileMaxAttempts,
		GatewayCallbackURL:    cfg.GatewayCallbackURL,
		HighValueThreshold:    cfg.HighValueThreshold,
		SweepWindow:           cfg.SweepWindow,
		SweepFailureThreshold: cfg.SweepFailureThreshold,
		TerminalTokenTTL:      cfg.TerminalTokenTTL,
	}

	evaluator := application.NewFraudEvaluator(appCfg, repos.Attempts, repos.FraudAlerts, repos.Outbox)

	svc := application.NewService(application.Dependencies{
		Config:      appCfg,
		Identities:  repos.Identities,
		Sessions:    repos.Sessions,
		Intents:     repos.Intents,
		Attempts:    repos.Attempts,
		FraudAlerts: repos.FraudAlerts,
		Terminals:   repos.Terminals,
		Outbox:      repos.Outbox,
		Idempotency: repos.Idempotency,
		Lockouts:    cacheadapter.NewRedisLockoutStore(redisClient),
		Catalog:     repos.Catalog,
		Gateway: gateway.NewClient(gateway.ClientConfig{
			BaseURL: cfg.GatewayBaseURL,
			APIKey:  cfg.GatewayAPIKey,
		}),
		Fraud:       evaluator,
		Hasher:      security.NewBcryptHasher(cfg.BcryptCost),
		TokenSigner: tokenSigner,
	})

	handler := httpadapter.NewHandler(svc)
	router := httpadapter.NewRouter(handler)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewFacePayInternalServer(svc))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		_ = sqlDB.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}

	var publisher ports.EventPublisher = eventadapter.NewLoggingPublisher(logger)
	var kafkaPub *eventadapter.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub, err = eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, topicByEvent)
		if err != nil {
			_ = sqlDB.Close()
			_ = redisClient.Close()
			return nil, fmt.Errorf("init kafka publisher: %w", err)
		}
		publisher = kafkaPub
	} else {
		logger.Warn("no kafka brokers configured, outbox events publish to log only")
	}

	var catalogWorker *eventadapter.CatalogConsumerWorker
	if len(cfg.KafkaBrokers) > 0 {
		consumer, consumerErr := eventadapter.NewKafkaConsumer(cfg.KafkaBrokers, cfg.CatalogConsumerGroup, cfg.CatalogTopics)
		if consumerErr != nil {
			_ = sqlDB.Close()
			_ = redisClient.Close()
			return nil, fmt.Errorf("init kafka consumer: %w", consumerErr)
		}
		catalogWorker = eventadapter.NewCatalogConsumerWorker(logger, consumer, repos.Catalog, time.Second, 50)
	}

	outbox := eventadapter.NewOutboxWorker(
		logger,
		repos.Outbox,
		publisher,
		cfg.OutboxPollInterval,
		cfg.OutboxBatchSize,
		cfg.OutboxClaimTTL,
		cfg.OutboxMaxRetries,
	)

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		evaluator:  evaluator,
		service:    svc,
		outbox:     outbox,
		reconcile:  eventadapter.NewReconcileWorker(logger, svc, cfg.ReconcileInterval),
		sweep:      eventadapter.NewSessionSweepWorker(logger, svc, cfg.SessionSweepInterval),
		catalog:    catalogWorker,
		cleanupFn: func(ctx context.Context) {
			if kafkaPub != nil {
				_ = kafkaPub.Close()
			}
			_ = redisClient.Close()
			_ = sqlDB.Close()
		},
	}, nil
}

// RunAPI serves HTTP and gRPC until a shutdown signal. The fraud evaluator
// runs here too: match attempts and gateway callbacks land on this process.
func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := r.evaluator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("fraud evaluator stopped", "error", err)
		}
	}()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err := <-errCh:
		r.logger.Error("server failure", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return nil
}

// RunWorker runs the background loops: outbox publishing, pending-intent
// reconciliation, stale-session sweeping and the catalog consumer. The fraud
// evaluator runs here as well so reconciliation outcomes are observed.
func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 4)
	run := func(name string, fn func(context.Context) error) {
		go func() {
			r.logger.Info("worker loop started", "worker", name)
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	run("fraud-evaluator", r.evaluator.Run)
	run("outbox", r.outbox.Run)
	run("reconcile", r.reconcile.Run)
	run("session-sweep", r.sweep.Run)
	if r.catalog != nil {
		run("catalog-consumer", r.catalog.Run)
	}

	var err error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err = <-errCh:
		r.logger.Error("worker failure", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return err
}
