package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/animus-labs/dispatch-gateway/internal/bindings"
	"github.com/animus-labs/dispatch-gateway/internal/dispatch"
	"github.com/animus-labs/dispatch-gateway/internal/domain"
	"github.com/animus-labs/dispatch-gateway/internal/platform/apispec"
	"github.com/animus-labs/dispatch-gateway/internal/platform/auditlog"
	"github.com/animus-labs/dispatch-gateway/internal/platform/httpserver"
	"github.com/animus-labs/dispatch-gateway/internal/platform/metrics"
	"github.com/animus-labs/dispatch-gateway/internal/platform/objectstore"
	"github.com/animus-labs/dispatch-gateway/internal/platform/postgres"
	"github.com/animus-labs/dispatch-gateway/internal/platform/sqlite"
	"github.com/animus-labs/dispatch-gateway/internal/platform/tracing"
	"github.com/animus-labs/dispatch-gateway/internal/platform/workers"
	"github.com/animus-labs/dispatch-gateway/internal/repo"
	"github.com/animus-labs/dispatch-gateway/internal/repo/cached"
	"github.com/animus-labs/dispatch-gateway/internal/repo/memory"
	pgrepo "github.com/animus-labs/dispatch-gateway/internal/repo/postgres"
	sqliterepo "github.com/animus-labs/dispatch-gateway/internal/repo/sqlite"
	"github.com/animus-labs/dispatch-gateway/internal/service/registrar"
	"github.com/animus-labs/dispatch-gateway/internal/service/router"
	"github.com/animus-labs/dispatch-gateway/internal/storage/sourcearchive"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := configFromEnv()
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	workersCfg, err := workers.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid workers api config", "error", err)
		os.Exit(2)
	}
	dispatchCfg, err := dispatch.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid dispatch config", "error", err)
		os.Exit(2)
	}
	tracingCfg, err := tracing.ConfigFromEnv("dispatch-gateway")
	if err != nil {
		logger.Error("invalid tracing config", "error", err)
		os.Exit(2)
	}

	m := metrics.New()

	var readiness []httpserver.ReadinessCheck
	var db *sql.DB
	var directory repo.DirectoryStore
	var audit auditlog.Recorder = auditlog.LogRecorder{Logger: logger}
	switch cfg.DirectoryBackend {
	case backendPostgres:
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		// Open applies pending migrations unless DATABASE_AUTO_MIGRATE=false.
		db, err = postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		directory = pgrepo.NewDirectoryStore(db)
		audit = auditlog.DBRecorder{DB: db}
	case backendSQLite:
		sqliteCfg, err := sqlite.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid sqlite config", "error", err)
			os.Exit(2)
		}
		db, err = sqlite.Open(ctx, sqliteCfg)
		if err != nil {
			logger.Error("sqlite unavailable", "error", err)
			os.Exit(1)
		}
		directory = sqliterepo.NewDirectoryStore(db)
	default:
		directory = memory.NewDirectoryStore()
	}
	if db != nil {
		defer func() { _ = db.Close() }()
		readiness = append(readiness, httpserver.ReadinessCheck{
			Name: cfg.DirectoryBackend,
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return db.PingContext(checkCtx)
			},
		})
	}
	directory = cached.Wrap(directory, cfg.CacheTTL, m.RecordCache)

	var archive sourcearchive.Archive
	if cfg.SourceArchive == archiveMinIO {
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		client, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store init failed", "error", err)
			os.Exit(1)
		}
		if err := objectstore.EnsureBucket(ctx, client, storeCfg); err != nil {
			logger.Error("object store bucket unavailable", "bucket", storeCfg.Bucket, "error", err)
			os.Exit(1)
		}
		objects, err := sourcearchive.NewMinioObjects(client, storeCfg.Bucket)
		if err != nil {
			logger.Error("source archive init failed", "error", err)
			os.Exit(1)
		}
		archive = sourcearchive.New(objects)
		readiness = append(readiness, minioReadiness(client, storeCfg))
	}

	var unitBindings *bindings.Source
	if cfg.BindingsFile != "" {
		unitBindings, err = bindings.Watch(ctx, logger, cfg.BindingsFile, bindings.DefaultDebounce)
		if err != nil {
			logger.Error("bindings unavailable", "path", cfg.BindingsFile, "error", err)
			os.Exit(2)
		}
	} else {
		unitBindings = bindings.Static(nil)
	}

	tp, err := tracing.NewProvider(ctx, tracingCfg)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	spec, err := apispec.Load(ctx)
	if err != nil {
		logger.Error("openapi document invalid", "error", err)
		os.Exit(1)
	}

	newWorkersClient := workers.Factory(workersCfg)
	clients := func(creds domain.Credentials) (registrar.NamespaceClient, error) {
		client, err := newWorkersClient(creds)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	reg, err := registrar.New(logger, clients, directory, registrar.Options{
		Archive: archive,
		Audit:   audit,
		Tracer:  tp.Tracer(),
		Metrics: m,
	})
	if err != nil {
		logger.Error("registrar init failed", "error", err)
		os.Exit(1)
	}

	dispatcher, err := dispatch.NewProxyDispatcher(logger, dispatchCfg)
	if err != nil {
		logger.Error("dispatcher init failed", "error", err)
		os.Exit(1)
	}
	rt, err := router.New(logger, directory, dispatcher, router.Options{
		Prefix:  cfg.DispatchPrefix,
		Tracer:  tp.Tracer(),
		Metrics: m,
	})
	if err != nil {
		logger.Error("router init failed", "error", err)
		os.Exit(1)
	}

	api := &gatewayAPI{
		logger:      logger,
		registrar:   reg,
		router:      rt,
		directory:   directory,
		archive:     archive,
		spec:        spec,
		bindings:    unitBindings,
		metrics:     m,
		readiness:   readiness,
		namespace:   cfg.Namespace,
		credentials: workersCfg.Credentials(),
		corsOrigin:  cfg.CORSAllowOrigin,
		maxBody:     cfg.MaxCodeBytes,
	}

	logger.Info("gateway starting",
		"addr", cfg.Addr,
		"directory_backend", cfg.DirectoryBackend,
		"namespace", cfg.Namespace,
		"dispatch_prefix", rt.Prefix(),
		"source_archive", cfg.SourceArchive != archiveNone,
		"tracing", tp.Enabled(),
	)
	if err := httpserver.Run(ctx, logger, httpserver.Config{
		Service:         serviceName,
		Addr:            cfg.Addr,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, api.handler()); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func minioReadiness(client *minio.Client, cfg objectstore.Config) httpserver.ReadinessCheck {
	return httpserver.ReadinessCheck{
		Name: "minio",
		Check: func(ctx context.Context) error {
			checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return objectstore.CheckBucket(checkCtx, client, cfg)
		},
	}
}
