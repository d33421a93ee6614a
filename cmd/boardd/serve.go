package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/catalogboard/internal/board"
	"github.com/pitabwire/catalogboard/internal/capability"
	"github.com/pitabwire/catalogboard/internal/catalog"
	"github.com/pitabwire/catalogboard/internal/config"
	"github.com/pitabwire/catalogboard/internal/definition"
	"github.com/pitabwire/catalogboard/internal/idempotency"
	"github.com/pitabwire/catalogboard/internal/journal"
	"github.com/pitabwire/catalogboard/internal/observability"
	"github.com/pitabwire/catalogboard/internal/openapi"
	"github.com/pitabwire/catalogboard/internal/session"
	"github.com/pitabwire/catalogboard/internal/transport"
	"github.com/pitabwire/catalogboard/model"
)

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the board HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "boardd", version)
	if err != nil {
		return err
	}
	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	index := openapi.NewIndex()
	if err := catalog.LoadContract(index, cfg.Catalog); err != nil {
		return err
	}
	metrics.SetOpenAPIOperationsIndexed(cfg.Catalog.ServiceID, float64(len(index.AllOperationIDs(cfg.Catalog.ServiceID))))

	defs, err := definition.LoadAndValidate(cfg.Definitions.Directories)
	if err != nil {
		return err
	}
	registry := definition.NewRegistry(defs)
	metrics.SetDefinitionsLoaded(float64(registry.Len()))

	client, err := catalog.New(cfg.Catalog, index, catalog.Options{
		Credentials: catalog.ForwardedCredential(),
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return err
	}

	resolver, err := buildCapabilityResolver(cfg.Capability, metrics, logger)
	if err != nil {
		return err
	}

	store, err := journal.Open(ctx, cfg.Journal, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("journal close error", zap.Error(err))
		}
	}()
	moves := journal.Instrument(store, metrics)

	idem, idemClose, err := idempotency.Open(cfg.Idempotency, logger)
	if err != nil {
		return err
	}
	defer func() { _ = idemClose() }()

	sessions := session.NewManager(registry, client, session.Options{
		Engine: board.Options{
			PageSize:         cfg.Board.PageSize,
			FetchConcurrency: cfg.Board.FetchConcurrency,
			Logger:           logger,
			Journal:          moves,
			Metrics:          metrics,
			Capabilities:     resolver,
		},
		AutoScroll: board.AutoScroll{
			EdgeThreshold: cfg.Board.AutoScroll.EdgeThreshold,
			MaxStep:       cfg.Board.AutoScroll.MaxStep,
			Interval:      cfg.Board.AutoScroll.Interval,
		},
		ColumnWidth:   cfg.Board.ColumnWidth,
		IdleTTL:       cfg.Sessions.IdleTTL,
		SweepInterval: cfg.Sessions.SweepInterval,
		NoticeBuffer:  cfg.Sessions.NoticeBuffer,
		MaxPerSubject: cfg.Sessions.MaxPerSubject,
		Logger:        logger,
		Metrics:       metrics,
	})

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go sessions.Run(bgCtx)

	if cfg.Definitions.HotReload {
		watcher := definition.NewWatcher(cfg.Definitions.Directories, registry, cfg.Definitions.Debounce, logger, metrics)
		go func() {
			if err := watcher.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("definition watcher stopped", zap.Error(err))
			}
		}()
	}

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return registry.Len() > 0 },
		CatalogIndexed:    index.Loaded,
		Catalog:           client,
		Journal:           store,
	}
	if idem != nil {
		readiness.IdempotencyStore = idem
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Logger:             logger,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, jwks),
		CapabilityResolver: resolver,
		Sessions:           sessions,
		Definitions:        registry,
		Journal:            moves,
		Idempotency:        idem,
		Metrics:            metrics,
		Readiness:          readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("boards", registry.Len()),
		zap.String("journal", cfg.Journal.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case serveErr = <-errCh:
		logger.Error("server error", zap.Error(serveErr))
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	// In-flight commits finish before the stores close.
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		logger.Error("session shutdown error", zap.Error(err))
	}
	bgCancel()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return serveErr
}

// buildCapabilityResolver evaluates the static policy file when one is
// configured and grants every capability otherwise.
func buildCapabilityResolver(cfg config.CapabilityConfig, metrics capability.CacheRecorder, logger *zap.Logger) (*capability.Resolver, error) {
	var evaluator model.PolicyEvaluator = capability.Unrestricted{}
	if cfg.StaticPolicyFile != "" {
		static, err := capability.NewStaticPolicyEvaluator(cfg.StaticPolicyFile)
		if err != nil {
			return nil, fmt.Errorf("static policy: %w", err)
		}
		evaluator = static
	} else {
		logger.Warn("no capability policy configured, all capabilities granted")
	}
	return capability.NewResolver(evaluator, cfg.Cache.TTL, cfg.Cache.MaxEntries, metrics), nil
}
