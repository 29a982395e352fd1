package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"examreviewer/internal/ratelimit"
	"examreviewer/internal/util"
	"examreviewer/pkg/ai"
	"examreviewer/pkg/storage"
	"examreviewer/pkg/store"
	"examreviewer/services/reviewer/internal/app"
	"examreviewer/services/reviewer/internal/config"
	"examreviewer/services/reviewer/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel, cfg.LogFormat)

	dataStore, err := store.NewGormStore(cfg.DatabaseURL, store.WithMaxOpenConns(cfg.DatabaseMaxOpenConns))
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	defer dataStore.Close()

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	} else {
		objects, err = storage.NewLocalStore(cfg.UploadDir)
	}
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	generator, err := ai.NewGenerator(context.Background(), ai.Config{
		Provider: cfg.Generation.Provider,
		BaseURL:  cfg.Generation.BaseURL,
		APIKey:   cfg.Generation.APIKey,
		Model:    cfg.Generation.Model,
		Timeout:  time.Duration(cfg.Generation.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init generator: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:                 dataStore,
		Objects:               objects,
		Generator:             generator,
		MaxUploadBytes:        cfg.MaxUploadBytes,
		HistoryLimit:          cfg.HistoryLimit,
		MaxTokens:             cfg.Generation.MaxTokens,
		SummaryMaxTokens:      cfg.Generation.SummaryMaxTokens,
		DefaultTargetLanguage: cfg.DefaultTargetLanguage,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	serverCfg := server.Config{
		App:                appCore,
		TrustedProxies:     trusted,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MaxUploadBytes:     cfg.MaxUploadBytes,
	}
	if cfg.RateLimit.RedisAddr != "" {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(
			cfg.RateLimit.RedisAddr,
			cfg.RateLimit.RedisPassword,
			"reviewer:ratelimit",
			cfg.RateLimit.Requests,
			time.Duration(cfg.RateLimit.WindowSeconds)*time.Second,
		)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
		defer limiter.Close()
		serverCfg.Limiter = limiter
	}
	httpServer, err := server.New(serverCfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// model calls over a whole PDF can take minutes
		WriteTimeout: time.Duration(cfg.Generation.TimeoutSeconds)*time.Second + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		slog.Info("reviewer server listening", "addr", addr, "provider", cfg.Generation.Provider, "model", cfg.Generation.Model)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	slog.Info("reviewer server stopped")
}
