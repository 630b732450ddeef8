package main

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"forge/api/db"
	"forge/api/internal/app"
	"forge/api/internal/config"
	"forge/api/internal/defcache"
	"forge/api/internal/gitrepo"
	"forge/api/internal/search"
	"forge/api/internal/snapshot"
	"forge/api/internal/store"
	"forge/api/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	tracer, err := tracing.NewProvider(ctx, tracing.Config{
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		ServiceName:  "forge-api",
	})
	if err != nil {
		log.Fatalf("tracing setup failed: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Printf("tracing shutdown error: %v", err)
		}
	}()

	database, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{MaxOpenConns: cfg.DBMaxOpenConns})
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer database.Close()

	var migrations fs.FS = db.Migrations()
	if dir := strings.TrimSpace(cfg.MigrationsDir); dir != "" {
		migrations = os.DirFS(dir)
	}
	if err := store.ApplyMigrations(ctx, database, migrations); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	dataStore := store.NewPostgresStore(database)
	gitService := gitrepo.New(cfg.ReposDir)

	var cache defcache.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for the definition cache")
		redisCache, err := defcache.NewRedisCache(cfg.RedisURL, cfg.DefinitionCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisCache.Close()
		cache = redisCache
	} else {
		log.Printf("Using in-process definition cache")
		cache = defcache.NewMemoryCache(cfg.DefinitionCacheTTL)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewStoreSearcher(dataStore))

	var snapshots *snapshot.Uploader
	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		snapshots, err = snapshot.NewUploader(ctx, snapshot.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			log.Printf("WARNING: snapshots disabled: %v", err)
			snapshots = nil
		}
	}

	service := app.New(cfg, dataStore, gitService, app.Dependencies{
		Cache:     cache,
		Search:    searchService,
		Snapshots: snapshots,
		Tracer:    tracer.Tracer(),
	})
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Forge API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
