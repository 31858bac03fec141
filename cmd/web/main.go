package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"etesti/internal/app"
	"etesti/internal/db"
	"etesti/internal/storage"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := app.LoadConfig()
	ctx := context.Background()

	dbConn, err := db.OpenPostgresWithConfig(ctx, cfg.DBDSN, db.PostgresConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
	})
	if err != nil {
		log.Printf("database error: %v", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	if err := db.EnsureSchema(ctx, dbConn); err != nil {
		log.Printf("schema error: %v", err)
		os.Exit(1)
	}
	if cfg.IsDevelopment() {
		if err := db.Seed(ctx, dbConn); err != nil {
			log.Printf("seed error: %v", err)
		}
	}

	uploads, err := storage.Open(ctx, storage.Config{
		Bucket:          cfg.StorageBucket,
		CredentialsFile: cfg.StorageCredentials,
		MaxImageWidth:   cfg.StorageMaxImageSize,
	})
	if err != nil {
		log.Printf("storage error: %v", err)
		os.Exit(1)
	}
	defer uploads.Close()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = app.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Printf("redis unavailable, using in-memory rate limits: %v", err)
		} else {
			defer redisClient.Close()
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.NewRouter(cfg, dbConn, app.Deps{Redis: redisClient, Storage: uploads}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("etesti api listening on %s (%s)", cfg.HTTPAddr, cfg.AppEnv)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}
