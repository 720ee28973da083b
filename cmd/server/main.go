// Linkdrop Server
//
// Features:
// - Upload links with password, expiry and upload limits
// - Copying link subtrees into private workspaces
// - Drag-and-drop bridge between link and workspace trees
// - SSE tree change events
// - Prometheus metrics & structured logging (zap)
// - Storage on S3-compatible buckets or the local filesystem
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/linkdrop/internal/api"
	"github.com/fruitsalade/linkdrop/internal/auth"
	"github.com/fruitsalade/linkdrop/internal/config"
	"github.com/fruitsalade/linkdrop/internal/copier"
	"github.com/fruitsalade/linkdrop/internal/events"
	"github.com/fruitsalade/linkdrop/internal/logging"
	"github.com/fruitsalade/linkdrop/internal/metadata/sqldb"
	"github.com/fruitsalade/linkdrop/internal/metrics"
	"github.com/fruitsalade/linkdrop/internal/quota"
	"github.com/fruitsalade/linkdrop/internal/sharing"
	"github.com/fruitsalade/linkdrop/internal/storage"
	"github.com/fruitsalade/linkdrop/internal/tree"
)

func main() {
	issueToken := flag.String("issue-token", "", "print a signed token for this user id and exit")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	authHandler := auth.New(cfg.JWTSecret, cfg.TokenTTL)
	if *issueToken != "" {
		token, exp, err := authHandler.IssueToken(*issueToken, "")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("%s\n# expires %s\n", token, exp.Format(time.RFC3339))
		return
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Linkdrop Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metadata database
	logging.Info("connecting to database...", zap.String("driver", cfg.DatabaseDriver))
	metaStore, err := sqldb.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer metaStore.Close()

	if err := metaStore.Migrate(ctx); err != nil {
		logging.Fatal("migration failed", zap.Error(err))
	}

	// Initialize storage: one backend per bucket context
	storageConfigs, err := cfg.StorageConfigs()
	if err != nil {
		logging.Fatal("invalid storage configuration", zap.Error(err))
	}
	storageRouter, err := storage.NewRouterFromConfig(ctx, cfg.StorageBackend, storageConfigs)
	if err != nil {
		logging.Fatal("storage router init failed", zap.Error(err))
	}
	defer storageRouter.Close()
	logging.Info("storage initialized", zap.String("backend", cfg.StorageBackend))

	broadcaster := events.NewBroadcaster()
	linkStore := sharing.NewLinkStore(metaStore)

	copyEngine := copier.New(metaStore, storageRouter,
		copier.WithMaxStorageOps(cfg.CopyMaxStorageOps),
		copier.WithFileConcurrency(cfg.CopyFileConcurrency),
		copier.WithLogger(logging.L().Named("copier")))
	logging.Info("copy engine initialized",
		zap.Int("max_storage_ops", cfg.CopyMaxStorageOps),
		zap.Int("file_concurrency", cfg.CopyFileConcurrency))

	rateLimiter := quota.NewRateLimiter(cfg.CopyRequestsPerMin)
	go rateLimiter.Run(ctx, time.Hour, 24*time.Hour)

	srv := api.NewServer(api.Deps{
		DB:            metaStore,
		Storage:       storageRouter,
		Auth:          authHandler,
		Copier:        copyEngine,
		Links:         linkStore,
		Broadcaster:   broadcaster,
		RateLimiter:   rateLimiter,
		MaxUploadSize: cfg.MaxUploadSize,
		PublicURL:     cfg.PublicURL,
		TreeOptions: []tree.Option{
			tree.WithStrict(cfg.TreeStrict),
			tree.WithLogger(logging.L().Named("tree")),
		},
	})

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn("http shutdown incomplete", zap.Error(err))
			httpServer.Close()
		}
		metricsServer.Close()
	}()

	// Start periodic metrics update
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metaStore.UpdateConnectionMetrics()
			}
		}
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}
