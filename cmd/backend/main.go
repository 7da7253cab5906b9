package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"manga-reader/internal/config"
	"manga-reader/internal/db"
	"manga-reader/internal/server"
)

func main() {
	cfg, err := config.Load(getenvDefault("MR_ENV_FILE", ".env"))
	if err != nil {
		// Safety: refuse to start without a valid configuration, in
		// particular without a signing secret.
		fmt.Fprintf(os.Stderr, "service=backend msg=%q err=%v\n", "invalid_configuration", err)
		os.Exit(1)
	}

	logger := server.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat).With(map[string]any{"env": cfg.Env})
	server.SetDefaultLogger(logger)

	auth, err := server.NewAuthenticator(cfg.JWTSecret)
	if err != nil {
		logger.Error("auth setup failed", nil, err)
		os.Exit(1)
	}

	// Database
	dbConn, err := db.OpenDB(cfg.DatabaseURL)
	if err != nil {
		logger.Error("db open failed", nil, err)
		os.Exit(1)
	}
	defer func() { _ = dbConn.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Ping(ctx, dbConn); err != nil {
		// Not fatal: the first API request retries initialization and
		// /api/health reports the outage.
		logger.Warn("database unreachable at startup", map[string]any{"error": err.Error()})
	}

	bootstrap := db.Bootstrap{
		DB: dbConn,
		Seed: db.SeedConfig{
			Genres:        db.DefaultGenres,
			AdminEmail:    cfg.SeedAdminEmail,
			AdminPassword: cfg.SeedAdminPassword,
		},
	}
	guard := server.NewInitGuard(bootstrap.Run, server.InitGuardOptions{
		Timeout: cfg.InitTimeout,
		Wait:    cfg.InitWait,
		Logger:  logger,
	})

	assets, err := newAssetServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("asset store setup failed", nil, err)
		os.Exit(1)
	}

	build := server.BuildInfo{Version: cfg.Version, Commit: cfg.Commit}
	srv, err := server.New(server.Config{
		Addr:              cfg.Addr,
		Build:             build,
		DB:                dbConn,
		Auth:              auth,
		Assets:            assets,
		Guard:             guard,
		Logger:            logger,
		CookieSecure:      cfg.CookieSecure,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		LoginRate:         cfg.LoginRate,
		LoginBurst:        cfg.LoginBurst,
		RequestTimeout:    cfg.RequestTimeout,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})
	if err != nil {
		logger.Error("server setup failed", nil, err)
		os.Exit(1)
	}

	if cfg.InitOnStart {
		go func() { _ = guard.EnsureInitialized(ctx) }()
	}

	// Start the HTTP server in a background goroutine so the main
	// goroutine can wait for a shutdown signal.
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting", map[string]any{
			"addr":    cfg.Addr,
			"env":     cfg.Env,
			"version": build.Version,
			"commit":  build.Commit,
		})
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", nil)
		// Give in-flight requests 5 seconds to finish.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", nil, err)
			os.Exit(1)
		}
		logger.Info("shutdown complete", nil)
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", nil, err)
			os.Exit(1)
		}
	}
}

// newAssetServer picks MinIO when MR_S3_* is set, the upload dir otherwise.
func newAssetServer(ctx context.Context, cfg config.Config, logger *server.Logger) (*server.AssetServer, error) {
	if cfg.S3.Enabled() {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		store, err := server.NewMinioStore(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		logger.Info("asset store", map[string]any{"kind": "minio", "bucket": cfg.S3.Bucket, "prefix": store.Prefix})
		return server.NewAssetServer(cfg.UploadDir, store, logger), nil
	}

	store, err := server.NewFSStore(cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	logger.Info("asset store", map[string]any{"kind": "fs", "dir": cfg.UploadDir})
	return server.NewAssetServer(cfg.UploadDir, store, logger), nil
}

// getenvDefault reads an environment variable and returns a default value if not set.
func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
