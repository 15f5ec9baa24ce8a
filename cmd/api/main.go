package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/bookporter/api/internal/di"
	"github.com/bookporter/api/internal/handlers"
	"github.com/bookporter/api/internal/platform/auth"
	"github.com/bookporter/api/internal/platform/config"
	"github.com/bookporter/api/internal/platform/idempotency"
	"github.com/bookporter/api/internal/platform/observability"
	"github.com/bookporter/api/internal/platform/requestctx"
)

const meterName = "github.com/bookporter/api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues[envKey("LOG_LEVEL")])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)
	meter := otel.GetMeterProvider().Meter(meterName)

	fetcher, err := newSecretFetcher(ctx, logger, envValues, meter)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", observability.ErrorField(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", observability.ErrorField(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", observability.ErrorField(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	logger.Info("configuration loaded",
		zap.String("store", cfg.Store.Backend),
		zap.String("events", cfg.Events.Sink),
		zap.String("environment", buildInfo.Environment),
		zap.String("version", buildInfo.Version),
	)

	var closers closeStack
	defer closers.run(logger)

	infra, err := buildInfrastructure(ctx, cfg, logger, fetcher, &closers)
	if err != nil {
		logger.Fatal("failed to initialise infrastructure", observability.ErrorField(err))
	}
	infra.container.Build = buildInfo

	container, err := di.NewContainer(ctx, cfg, infra.registry, infra.container)
	if err != nil {
		logger.Fatal("failed to initialise services", observability.ErrorField(err))
	}
	closers.push("repositories", func(ctx context.Context) error { return container.Close(ctx) })

	purgeCtx, purgeCancel := context.WithCancel(context.Background())
	var purgeWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		purgeWG.Add(1)
		go func() {
			defer purgeWG.Done()
			idempotency.RunPurger(purgeCtx, infra.idempotency, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
		}()
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, 0)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", observability.ErrorField(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	router := newRouter(cfg, logger, meter, container, authenticator, infra)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("bookporter api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", observability.ErrorField(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", observability.ErrorField(err))
	}

	purgeCancel()
	purgeWG.Wait()
}

func newRouter(cfg config.Config, logger *zap.Logger, meter metric.Meter, container *di.Container, authenticator *auth.Authenticator, infra *infrastructure) http.Handler {
	svc := container.Services
	requireUser := authenticator.RequireFirebaseAuth()
	requireSeller := authenticator.RequireFirebaseAuth(auth.RoleSeller, auth.RoleAdmin)

	publicLimiter := handlers.NewClientRateLimiter(cfg.RateLimits.PublicPerMinute, 0, nil)
	userLimiter := handlers.NewClientRateLimiter(cfg.RateLimits.AuthenticatedPerMinute, 0, nil)
	webhookLimiter := handlers.NewClientRateLimiter(cfg.RateLimits.WebhookBurst*60, cfg.RateLimits.WebhookBurst, nil)

	orderHandlers := handlers.NewOrderHandlers(svc.Orders, svc.Payments, svc.Checkout,
		handlers.WithIdempotency(idempotency.Middleware(infra.idempotency,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
		)),
	)
	invoiceHandlers := handlers.NewInvoiceHandlers(svc.Invoices)
	catalogHandlers := handlers.NewCatalogHandlers(svc.Catalog, svc.Orders, handlers.WithDefaultCurrency(cfg.Catalog.Currency))
	webhookHandlers := handlers.NewWebhookHandlers(svc.Payments, handlers.WithWebhookMeter(meter))

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(infra.container.Build),
		handlers.WithHealthSystemService(svc.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RequestLogger(logger.Named("http")),
			observability.Recoverer,
		),
		handlers.WithHealthHandlers(healthHandlers),

		handlers.WithRoutes(handlers.GroupPublic, catalogHandlers.PublicRoutes),
		handlers.WithGroupMiddlewares(handlers.GroupPublic, publicLimiter.Middleware),

		handlers.WithRoutes(handlers.GroupMe, orderHandlers.MeRoutes),
		handlers.WithRoutes(handlers.GroupMe, invoiceHandlers.MeRoutes),
		handlers.WithGroupMiddlewares(handlers.GroupMe, requireUser, userLimiter.Middleware),

		handlers.WithRoutes(handlers.GroupOrders, orderHandlers.Routes),
		handlers.WithGroupMiddlewares(handlers.GroupOrders, requireUser, userLimiter.Middleware),

		handlers.WithRoutes(handlers.GroupAdmin, catalogHandlers.AdminRoutes),
		handlers.WithRoutes(handlers.GroupAdmin, orderHandlers.AdminRoutes),
		handlers.WithGroupMiddlewares(handlers.GroupAdmin, requireSeller, userLimiter.Middleware),

		handlers.WithRoutes(handlers.GroupWebhooks, webhookHandlers.Routes),
		handlers.WithGroupMiddlewares(handlers.GroupWebhooks, webhookLimiter.Middleware),
	}

	if oidc := buildOIDCMiddleware(logger.Named("auth"), meter, cfg); oidc != nil {
		opts = append(opts,
			handlers.WithRoutes(handlers.GroupInternal, catalogHandlers.InternalRoutes),
			handlers.WithGroupMiddlewares(handlers.GroupInternal, oidc),
		)
	} else {
		logger.Warn("auth: OIDC not configured; internal routes disabled")
	}

	return handlers.NewRouter(opts...)
}

func buildOIDCMiddleware(logger *zap.Logger, meter metric.Meter, cfg config.Config) func(http.Handler) http.Handler {
	oidc := cfg.Security.OIDC
	if strings.TrimSpace(oidc.JWKSURL) == "" {
		return nil
	}
	if strings.TrimSpace(oidc.Audience) == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	cache := auth.NewJWKSCache(oidc.JWKSURL)
	validator := auth.NewOIDCValidator(cache, logger, meter)
	return validator.RequireOIDC(oidc.Audience, oidc.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
