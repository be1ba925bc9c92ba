// Package main is the entry point for the ExpenseTerminal API server.
//
// It loads configuration (resolving SSM pointers outside local), connects to
// Postgres, wires the billing, ingest and webhook components onto the core
// chassis, and serves HTTP until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"expenseterminal/internal/api/handlers"
	"expenseterminal/internal/auth"
	"expenseterminal/internal/billing"
	"expenseterminal/internal/config"
	"expenseterminal/internal/core"
	"expenseterminal/internal/db"
	"expenseterminal/internal/external"
	"expenseterminal/internal/ingest"
	"expenseterminal/internal/metrics"
	"expenseterminal/internal/queue"
)

const limiterSweepInterval = time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The provider only needs the region and endpoint, which must be read
	// before the rest of the configuration exists.
	provider := config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL"))
	cfg, err := config.Load(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := config.NewLogger(cfg.LogLevel).With("service", cfg.Service)
	slog.SetDefault(logger)
	logger.Info("expenseterminal API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask(), db.PoolOptions{
		MaxConns:          cfg.Database.MaxConns,
		MinConns:          cfg.Database.MinConns,
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		pool.Close()
		return err
	}

	srv, err := buildServer(ctx, cfg, pool, awsCfg, logger)
	if err != nil {
		pool.Close()
		return err
	}
	srv.RegisterOnShutdown(pool.Close)

	return serve(ctx, srv, cfg, logger)
}

// buildServer constructs every component and mounts the routes.
func buildServer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, awsCfg aws.Config, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	if cfg.Observability.EnableMetrics {
		srv.Metrics = metrics.NewCloudWatchRecorder(cloudwatch.NewFromConfig(awsCfg, endpointOverride(cfg.AWS, func(o *cloudwatch.Options, u *string) {
			o.BaseEndpoint = u
		})), logger)
	}

	verifier, err := auth.NewVerifier(ctx, auth.Config{
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		JWKSURL:    cfg.Auth.JWKSURL,
		HMACSecret: cfg.Auth.JWTSecret,
		Leeway:     cfg.Auth.ClockSkew,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating token verifier: %w", err)
	}
	srv.Authenticator = verifier

	subs := db.NewSubscriptionRepo(pool, logger)
	txns := db.NewTransactionRepo(pool)

	catalog := billing.NewCatalog()
	resolver := billing.NewPlanResolver(subs)
	usage := billing.NewUsageAggregator(catalog, subs, txns)
	reconciler := billing.NewReconciler(subs, logger)

	stripeClient := external.NewStripeClient(nil, external.StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey,
		Logger:    logger,
	})
	checkout := billing.NewCheckout(stripeClient, subs, cfg.Billing.Prices())

	var enqueuer ingest.CategorizationEnqueuer
	if cfg.AWS.CategorizeQueueURL != "" {
		sqsClient := sqs.NewFromConfig(awsCfg, endpointOverride(cfg.AWS, func(o *sqs.Options, u *string) {
			o.BaseEndpoint = u
		}))
		enqueuer = queue.NewCategorizationProducer(sqsClient, cfg.AWS, logger)
	} else {
		logger.Warn("SQS_CATEGORIZE not set; imported rows will not be categorized")
	}
	importer := ingest.NewService(catalog, resolver, txns, enqueuer, srv.Metrics, logger)

	billingHandler := handlers.NewBillingHandler(checkout, stripeClient, usage, catalog,
		cfg.Server.DashboardURL, srv.Validator, logger)
	txnHandler := handlers.NewTransactionHandler(importer, txns, srv.Validator, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(&external.StripeVerifier{}, reconciler, subs,
		srv.Metrics, cfg.Billing.StripeWebhookSecret, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		billingHandler.RegisterRoutes,
		txnHandler.RegisterRoutes,
	)
	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars, webhookHandler.RegisterRoutes)
	srv.HealthProbes = append(srv.HealthProbes, core.NewPingProbe("database", pool))

	if err := srv.MountRoutes(); err != nil {
		return nil, fmt.Errorf("mounting routes: %w", err)
	}
	return srv, nil
}

func loadAWSConfig(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return awsCfg, nil
}

// endpointOverride points an SDK client at AWS_ENDPOINT_URL (LocalStack)
// when it is set.
func endpointOverride[O any](c config.AWSConfig, set func(o *O, u *string)) func(*O) {
	return func(o *O) {
		if c.EndpointURL != "" {
			set(o, aws.String(c.EndpointURL))
		}
	}
}

// serve runs the listener and the rate limiter sweeper until ctx is
// canceled, then shuts both down.
func serve(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(limiterSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := srv.Limiter.Sweep(); n > 0 {
					logger.Debug("rate limiter swept", "removed", n, "remaining", srv.Limiter.Len())
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}
