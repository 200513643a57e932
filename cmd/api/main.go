package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lexrelay/internal/app"
	"lexrelay/internal/assistant"
	"lexrelay/internal/authpw"
	"lexrelay/internal/chunker"
	"lexrelay/internal/config"
	"lexrelay/internal/email"
	"lexrelay/internal/embedding"
	"lexrelay/internal/export"
	"lexrelay/internal/filestore"
	"lexrelay/internal/gitrepo"
	"lexrelay/internal/ingest"
	"lexrelay/internal/search"
	"lexrelay/internal/session"
	"lexrelay/internal/slogx"
	"lexrelay/internal/store"
)

func main() {
	cfg := config.Load()
	logger := slogx.New(slogx.Config{Service: "lexrelay-api", Level: cfg.LogLevel})
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		logger.Error("create repos dir", "error", err)
		os.Exit(1)
	}

	dataStore := store.NewPostgresStore(db)
	gitService := gitrepo.New(cfg.ReposDir)
	passwords := authpw.NewService(dataStore)
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	embedder := embedding.NewClient(embedding.Config{
		BaseURL:    cfg.OpenAIBaseURL,
		APIKey:     cfg.OpenAIAPIKey,
		EmbedModel: cfg.EmbedModel,
		ChatModel:  cfg.ChatModel,
		Dimensions: cfg.EmbedDimensions,
	})

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, dataStore, embedder)
	searchService.ReindexAllFromPG(ctx)

	deps := app.Deps{
		Store:     dataStore,
		Sessions:  dataStore,
		Passwords: passwords,
		Email:     mailer,
		Search:    searchService,
		Assistant: assistant.NewService(dataStore, embedder, cfg.AssistantTopK),
		Git:       gitService,
		Exporter:  export.NewService(dataStore, gitService),
		Logger:    logger,
	}

	// Redis holds refresh tokens when available; Postgres otherwise.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		logger.Info("using redis for refresh tokens")
	} else {
		logger.Info("using postgres for refresh tokens")
	}

	// Object storage is optional; without credentials, source uploads are
	// rejected at the endpoint. Ingestion still works on pasted body text.
	var files *filestore.Client
	if cfg.MinioAccessKey != "" && cfg.MinioSecretKey != "" {
		files, err = filestore.New(ctx, filestore.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Error("object store connection failed", "error", err)
			os.Exit(1)
		}
		deps.Files = files
	}
	deps.Ingest = ingest.NewService(dataStore, files, embedder, chunker.NewSentenceChunker(5, 1), logger)

	service := app.New(cfg, deps)
	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap error, will retry on next restart", "error", err)
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go expireInvitations(sweepCtx, dataStore, logger)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("lexrelay api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// expireInvitations marks overdue PENDING invitations EXPIRED on a timer,
// complementing the expiry check done at accept time.
func expireInvitations(ctx context.Context, dataStore *store.PostgresStore, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := dataStore.ExpireOverdueInvitations(ctx)
			if err != nil {
				logger.Warn("expire invitations sweep", "error", err)
				continue
			}
			if expired > 0 {
				logger.Info("expired overdue invitations", "count", expired)
			}
		}
	}
}
