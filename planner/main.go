package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animus-labs/stage-retry/internal/platform/auditlog"
	"github.com/animus-labs/stage-retry/internal/platform/auth"
	"github.com/animus-labs/stage-retry/internal/platform/httpserver"
	"github.com/animus-labs/stage-retry/internal/platform/objectstore"
	"github.com/animus-labs/stage-retry/internal/platform/postgres"
	repopg "github.com/animus-labs/stage-retry/internal/repo/postgres"
	"github.com/animus-labs/stage-retry/internal/service/retries"
	store "github.com/animus-labs/stage-retry/internal/storage/objectstore"
)

const serviceName = "retry-planner"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := plannerConfigFromEnv()
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if dbCfg.AutoMigrate {
		if err := repopg.Migrate(ctx, db); err != nil {
			logger.Error("database migration failed", "error", err)
			os.Exit(1)
		}
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	var authenticator auth.Authenticator
	switch authCfg.Mode {
	case auth.ModeOIDC:
		verifier, err := auth.NewOIDCVerifier(ctx, authCfg)
		if err != nil {
			logger.Error("oidc init failed", "error", err)
			os.Exit(1)
		}
		authenticator = verifier
	case auth.ModeDev:
		logger.Warn("dev auth enabled", "subject", authCfg.DevSubject)
		authenticator = auth.NewDevAuthenticator(authCfg)
	default:
		logger.Warn("auth disabled")
		authenticator = auth.NewAnonymousAuthenticator()
	}

	checks := []httpserver.ReadinessCheck{
		{
			Name:  "postgres",
			Check: httpserver.WithTimeout(750*time.Millisecond, db.PingContext),
		},
	}

	var archive retries.PlanArchiver
	if cfg.ArchiveEnabled {
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		storeClient, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(2)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := objectstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
			cancel()
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		cancel()

		minioStore, err := store.NewMinioStoreWithClient(storeClient)
		if err != nil {
			logger.Error("object store init failed", "error", err)
			os.Exit(2)
		}
		archive = store.NewPlanArchive(minioStore, storeCfg.BucketPlans)
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: httpserver.WithTimeout(750*time.Millisecond, func(ctx context.Context) error {
				return objectstore.CheckBuckets(ctx, storeClient, storeCfg)
			}),
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName, checks...))

	api := newPlannerAPI(logger, db, archive, cfg.MaxExecutionAge)
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     auth.MethodRoleAuthorizer(),
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, db, serviceName, event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz"},
	}.Wrap(mux)

	serverCfg := httpserver.Config{
		Service:         serviceName,
		Addr:            cfg.Addr,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, serverCfg, httpserver.Wrap(logger, handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
