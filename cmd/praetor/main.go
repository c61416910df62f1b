package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/praetor-ai/praetor/internal/assist"
	"github.com/praetor-ai/praetor/internal/auth"
	"github.com/praetor-ai/praetor/internal/config"
	"github.com/praetor-ai/praetor/internal/gate"
	"github.com/praetor-ai/praetor/internal/ratelimit"
	"github.com/praetor-ai/praetor/internal/retrieval"
	"github.com/praetor-ai/praetor/internal/search"
	"github.com/praetor-ai/praetor/internal/server"
	"github.com/praetor-ai/praetor/internal/storage"
	"github.com/praetor-ai/praetor/internal/telemetry"
	"github.com/praetor-ai/praetor/internal/vault"
	"github.com/praetor-ai/praetor/internal/workflow"
	"github.com/praetor-ai/praetor/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("PRAETOR_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("praetor starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	// Dev-mode migrations; production applies them out of band, so a failure
	// here (already-migrated database, restricted role) is not fatal.
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		slog.Warn("migrations failed", "error", err)
	}

	if cfg.VaultMasterKey == "" {
		return fmt.Errorf("PRAETOR_VAULT_MASTER_KEY is required")
	}
	masterKey, err := cfg.DecodedVaultKey()
	if err != nil {
		return err
	}
	credVault, err := vault.New(db, masterKey, logger)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}

	public, err := search.NewPublicCorpus(search.QdrantConfig{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
		Dims:       uint64(cfg.EmbeddingDims),
	}, logger)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	defer func() { _ = public.Close() }()

	if err := public.EnsureCollection(ctx); err != nil {
		// The public corpus is maintained by the ingestion pipeline; a
		// missing collection degrades retrieval but doesn't block startup.
		slog.Warn("public corpus unavailable", "error", err)
	}

	if cfg.WorkflowBaseURL == "" {
		return fmt.Errorf("PRAETOR_WORKFLOW_URL is required")
	}
	wf := workflow.NewClient(workflow.Config{
		BaseURL: cfg.WorkflowBaseURL,
		APIKey:  cfg.WorkflowAPIKey,
		Timeout: cfg.WorkflowTimeout,
	})

	g := gate.New(db, credVault, logger)
	engine := retrieval.New(public, search.NewPrivateCorpus(db), wf, cfg.RetrievalTimeout, logger)
	assistSvc := assist.New(g, engine, wf, cfg.SourceLimit, logger)

	authMgr, err := auth.NewManager(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		return err
	}

	limiter := ratelimit.NewPerMinute(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	defer func() { _ = limiter.Close() }()

	srv := server.New(server.Config{
		DB:                  db,
		AuthMgr:             authMgr,
		AssistSvc:           assistSvc,
		Vault:               credVault,
		Public:              public,
		Limiter:             limiter,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
