package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/grants/pkg/api"
	"github.com/platinummonkey/grants/pkg/assignments"
	"github.com/platinummonkey/grants/pkg/audit"
	"github.com/platinummonkey/grants/pkg/batch"
	"github.com/platinummonkey/grants/pkg/codes"
	"github.com/platinummonkey/grants/pkg/config"
	"github.com/platinummonkey/grants/pkg/directory"
	"github.com/platinummonkey/grants/pkg/middleware"
	"github.com/platinummonkey/grants/pkg/notify"
	"github.com/platinummonkey/grants/pkg/observability"
	"github.com/platinummonkey/grants/pkg/resolver"
	"github.com/platinummonkey/grants/pkg/storage"
)

func newServeCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the health/metrics server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*envFile)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("Starting grantsd")

	otel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	db, dialect, err := storage.OpenDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if cfg.Database.AutoMigrate {
		if err := storage.RunMigrations(ctx, db, dialect, logger,
			directory.MigrationSet(),
			assignments.MigrationSet(),
		); err != nil {
			db.Close()
			return err
		}
	}

	cat, err := loadCatalog(cfg.Assignments.CatalogPath)
	if err != nil {
		db.Close()
		return err
	}
	if n, err := directory.SyncRoles(ctx, db, cat); err != nil {
		logger.WithError(err).Warn("Failed to sync catalog roles")
	} else if n > 0 {
		logger.WithField("inserted", n).Info("Catalog roles synced")
	}

	redisClient, err := storage.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		// The distributed limiter is optional; the local limiter takes over
		logger.WithError(err).Warn("Redis unavailable; rate limiting is per instance")
		redisClient = nil
	}

	metrics := observability.NewMetrics(nil)
	auditLog := audit.NewLogrusLogger(logger.Entry().Logger)

	dir := directory.NewCachedDirectory(
		directory.NewSQLDirectory(db),
		cfg.Assignments.DirectoryCacheSize,
		cfg.Assignments.DirectoryCacheTTL,
		metrics,
	)
	store := assignments.NewSQLStore(db)

	notifier, err := newNotifier(cfg.Notify, logger)
	if err != nil {
		db.Close()
		return err
	}
	retry := notify.NewRetryPolicy(notify.RetryConfig{
		MaxAttempts:  cfg.Notify.MaxAttempts,
		InitialDelay: cfg.Notify.InitialRetryDelay,
		MaxDelay:     cfg.Notify.MaxRetryDelay,
	})
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Outbox:        store,
		Contacts:      dir,
		Notifier:      notifier,
		Retry:         retry,
		VerifyBaseURL: cfg.Notify.VerifyBaseURL,
		Metrics:       metrics,
		Logger:        logger,
	})
	relay := notify.NewRelay(dispatcher, store, notify.RelayConfig{
		Schedule:  cfg.Notify.RelaySchedule,
		BatchSize: cfg.Notify.RelayBatchSize,
		Metrics:   metrics,
		Logger:    logger,
	})

	manager := assignments.NewManager(store, dir, codes.NewGenerator(),
		assignments.WithDispatcher(dispatcher),
		assignments.WithAuditLogger(auditLog),
		assignments.WithMetrics(metrics),
		assignments.WithLogger(logger),
		assignments.WithNotifyTimeout(cfg.Notify.DispatchTimeout),
	)

	batchOpts := batch.Options{
		Workers:     cfg.Assignments.BatchWorkers,
		ItemTimeout: cfg.Assignments.ItemTimeout,
		Metrics:     metrics,
		Audit:       auditLog,
		Logger:      logger,
	}
	importOpts := batchOpts
	importOpts.Workers = cfg.Assignments.ImportWorkers

	auth, err := newActorAuth(ctx, cfg.Auth, logger)
	if err != nil {
		db.Close()
		return err
	}

	verifyLimit := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.VerifyRequestsPerWindow,
		WindowDuration:    cfg.RateLimit.VerifyWindow,
		BurstSize:         cfg.RateLimit.VerifyBurst,
	}
	var limiter middleware.Limiter = middleware.NewLocalLimiter(verifyLimit, 0)
	if redisClient != nil {
		limiter = middleware.NewFailoverLimiter(
			middleware.NewRedisLimiter(redisClient, verifyLimit, ""),
			limiter,
			logger,
		)
	}

	apiServer := api.NewServer(api.Config{
		Assignments: manager,
		Assigner:    batch.NewScopeAssigner(manager, batchOpts),
		Importer:    batch.NewImporter(manager, dir, cfg.Assignments.MaxImportRows, importOpts),
		Resolver: resolver.New(store, cat, dir,
			resolver.WithLegacyActiveGate(cfg.Assignments.ResolverLegacyActiveGate),
			resolver.WithMetrics(metrics),
			resolver.WithLogger(logger),
		),
		Auth:          auth,
		Tenants:       dir,
		VerifyLimiter: limiter,
		VerifyLimit:   verifyLimit,
		Metrics:       metrics,
		Logger:        logger,
	})
	if cfg.Assignments.ResolverLegacyActiveGate {
		logger.Warn("Resolver counts unverified assignments (legacy active gate)")
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	opsMux := http.NewServeMux()
	observability.RegisterHealthRoutes(opsMux, observability.NewHealthChecker(db, redisClient, version))
	if cfg.Observability.MetricsEnabled {
		opsMux.Handle("/metrics", metrics.Handler())
	}
	opsServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           opsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.RegisterServer(httpServer)
	shutdown.RegisterServer(opsServer)
	shutdown.RegisterShutdownFunc(relay.Stop)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otel, logger)
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				return fmt.Errorf("closing redis: %w", err)
			}
		}
		return db.Close()
	})

	if err := relay.Start(); err != nil {
		db.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("API server listening")
		return listen(httpServer)
	})
	g.Go(func() error {
		logger.WithField("addr", opsServer.Addr).Info("Health server listening")
		return listen(opsServer)
	})
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("grantsd stopped")
	return nil
}

func listen(s *http.Server) error {
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", s.Addr, err)
	}
	return nil
}

// newNotifier routes to email and SMS when configured, logging otherwise
func newNotifier(cfg config.NotifyConfig, logger *observability.Logger) (notify.Notifier, error) {
	var email, sms notify.Notifier
	if cfg.SMTPHost != "" {
		n, err := notify.NewEmailNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			TLSMode:  "auto",
		})
		if err != nil {
			return nil, fmt.Errorf("email notifier: %w", err)
		}
		email = n
	}
	if cfg.SMSGatewayURL != "" {
		n, err := notify.NewSMSNotifier(cfg.SMSGatewayURL, cfg.SMSAPIKey, &http.Client{Timeout: cfg.DispatchTimeout})
		if err != nil {
			return nil, fmt.Errorf("sms notifier: %w", err)
		}
		sms = n
	}
	return notify.NewRouter(email, sms, notify.NewLogNotifier(logger)), nil
}

// newActorAuth verifies OIDC bearer tokens when an issuer is configured and
// otherwise falls back to the trusted actor header
func newActorAuth(ctx context.Context, cfg config.AuthConfig, logger *observability.Logger) (*middleware.ActorAuth, error) {
	authCfg := middleware.AuthConfig{
		ActorClaim:  cfg.ActorClaim,
		TrustHeader: cfg.TrustActorHeader,
		Logger:      logger,
	}
	if cfg.OIDCEnabled() {
		verifier, err := middleware.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			return nil, fmt.Errorf("oidc discovery: %w", err)
		}
		authCfg.Verifier = verifier
	} else if !cfg.TrustActorHeader {
		logger.Warn("No OIDC issuer and actor header not trusted; administrative routes will reject every request")
	}
	return middleware.NewActorAuth(authCfg), nil
}
