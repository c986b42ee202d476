package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/seefeesaw/afroverse-sub006/internal/config"
	"github.com/seefeesaw/afroverse-sub006/internal/consumer"
	"github.com/seefeesaw/afroverse-sub006/internal/domain"
	"github.com/seefeesaw/afroverse-sub006/internal/event"
	handler "github.com/seefeesaw/afroverse-sub006/internal/handler/http"
	"github.com/seefeesaw/afroverse-sub006/internal/provider"
	providermock "github.com/seefeesaw/afroverse-sub006/internal/provider/mock"
	"github.com/seefeesaw/afroverse-sub006/internal/repository/postgres"
	"github.com/seefeesaw/afroverse-sub006/internal/rules"
	"github.com/seefeesaw/afroverse-sub006/internal/scheduler"
	"github.com/seefeesaw/afroverse-sub006/internal/service"
	"github.com/seefeesaw/afroverse-sub006/internal/targeting"
	"github.com/seefeesaw/afroverse-sub006/internal/template"
	"github.com/seefeesaw/afroverse-sub006/migrations"
	"github.com/seefeesaw/afroverse-sub006/pkg/database"
	"github.com/seefeesaw/afroverse-sub006/pkg/health"
	"github.com/seefeesaw/afroverse-sub006/pkg/httpclient"
	pkgkafka "github.com/seefeesaw/afroverse-sub006/pkg/kafka"
	"github.com/seefeesaw/afroverse-sub006/pkg/tracing"
)

// App wires together all dependencies and runs the notification service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redisClient    *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	consumers      []*pkgkafka.Consumer
	dlq            *pkgkafka.DLQProducer
	sched          *scheduler.Scheduler
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "notification",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, "notification")

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	// Redis backs the eligibility counters (cooldowns and daily caps). When
	// Redis is unreachable at startup the service falls back to in-memory
	// counters so delivery keeps working on a single instance.
	redisCfg := database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	}

	var (
		counters rules.CounterStore
		sweeper  scheduler.CounterSweeper
	)
	redisClient, err := database.NewRedisClient(ctx, redisCfg)
	if err != nil {
		logger.Warn("redis unreachable, using in-memory rule counters",
			slog.String("addr", redisCfg.Addr()),
			slog.String("error", err.Error()),
		)
		memStore := rules.NewMemoryCounterStore()
		counters = memStore
		sweeper = memStore
		redisClient = nil
	} else {
		logger.Info("connected to Redis",
			slog.String("addr", redisCfg.Addr()),
			slog.Int("db", cfg.RedisDB),
		)
		counters = rules.NewRedisCounterStore(redisClient)
	}

	// Initialize Kafka producer with connection validation and retry.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	if err := pingKafkaWithRetry(ctx, producer, logger); err != nil {
		logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Build the dependency graph.
	notificationRepo := postgres.NewNotificationRepository(pool)
	settingsRepo := postgres.NewSettingsRepository(pool)
	templateRepo := postgres.NewTemplateRepository(pool)
	userRepo := postgres.NewUserRepository(pool)

	templateStore := template.NewStore(templateRepo, logger)
	rulesEngine := rules.NewEngine(counters, logger)
	targetingEngine := targeting.NewEngine(userRepo, targeting.NewRegistry(), logger)

	inApp := provider.NewInAppProvider()

	eventProducer := event.NewProducer(producer, logger)
	notificationService := service.NewNotificationService(
		notificationRepo,
		settingsRepo,
		userRepo,
		templateStore,
		rulesEngine,
		targetingEngine,
		buildDeliveryProviders(cfg, logger, inApp),
		eventProducer,
		logger,
	)

	// Background jobs.
	sched := scheduler.New(logger)
	jobs := scheduler.NewJobs(notificationService, targetingEngine, sweeper, logger)
	jobs.Register(sched)

	// Kafka event ingestion.
	var (
		consumers []*pkgkafka.Consumer
		dlq       *pkgkafka.DLQProducer
	)
	if cfg.ConsumersEnabled {
		eventHandler := consumer.NewHandler(notificationService, logger)
		consumers, dlq = consumer.NewConsumers(cfg.KafkaBrokers, eventHandler, logger)
	}

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.Register("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})
	if redisClient != nil {
		rdb := redisClient
		healthHandler.Register("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	// HTTP router.
	router := handler.NewRouter(notificationService, sched, inApp, healthHandler, logger, cfg.PprofAllowedCIDRs)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redisClient:    redisClient,
		producer:       producer,
		httpServer:     httpServer,
		consumers:      consumers,
		dlq:            dlq,
		sched:          sched,
		tracerShutdown: tracerShutdown,
	}, nil
}

// buildDeliveryProviders assembles the channel provider map. Channels whose
// gateway URL is not configured get the loopback mock so local development
// works without external credentials.
func buildDeliveryProviders(cfg *config.Config, logger *slog.Logger, inApp *provider.InAppProvider) map[string]provider.Provider {
	providers := map[string]provider.Provider{
		inApp.Name(): inApp,
	}

	newClient := func(name string) *httpclient.CircuitBreakerClient {
		return httpclient.NewCircuitBreakerClient(
			httpclient.New(httpclient.DefaultConfig()),
			httpclient.DefaultCircuitBreakerConfig(name),
			logger,
		)
	}

	if cfg.PushGatewayURL != "" {
		providers[domain.ChannelPush] = provider.NewPushProvider(newClient("push-gateway"), cfg.PushGatewayURL, logger)
	} else {
		providers[domain.ChannelPush] = providermock.NewProvider(domain.ChannelPush, logger)
	}

	if cfg.WhatsAppGatewayURL != "" {
		providers[domain.ChannelWhatsApp] = provider.NewWhatsAppProvider(newClient("whatsapp-gateway"), cfg.WhatsAppGatewayURL)
	} else {
		providers[domain.ChannelWhatsApp] = providermock.NewProvider(domain.ChannelWhatsApp, logger)
	}

	if cfg.EmailGatewayURL != "" {
		providers[domain.ChannelEmail] = provider.NewEmailProvider(newClient("email-gateway"), cfg.EmailGatewayURL, cfg.EmailFromAddress)
	} else {
		providers[domain.ChannelEmail] = providermock.NewProvider(domain.ChannelEmail, logger)
	}

	return providers
}

// Run starts the HTTP server, Kafka consumers, and the job scheduler, then
// blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1+len(a.consumers))

	// Start HTTP server.
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Start Kafka consumers.
	for _, c := range a.consumers {
		c := c
		go func() {
			if err := c.Start(ctx); err != nil {
				errCh <- fmt.Errorf("kafka consumer: %w", err)
			}
		}()
	}

	// Start the job scheduler.
	if a.cfg.SchedulerEnabled {
		go a.sched.Run(ctx)
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka consumers
// 4. Kafka producer
// 5. Redis client
// 6. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Close Kafka consumers.
	for _, c := range a.consumers {
		if err := c.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("dlq producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Close Kafka producer.
	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 5. Close Redis client.
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 6. Close PostgreSQL pool.
	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s/4s with ±25% jitter).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := producer.Ping(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < 2 {
			base := time.Duration(1<<uint(attempt)) * time.Second
			jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
			wait := base + jitter
			logger.Warn("kafka producer ping failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", 3),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("kafka producer ping failed after 3 attempts: %w", lastErr)
}
