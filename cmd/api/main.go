package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MalithRanasinghe16/SyncDoc/internal/app"
	"github.com/MalithRanasinghe16/SyncDoc/internal/config"
	"github.com/MalithRanasinghe16/SyncDoc/internal/store"
	"github.com/MalithRanasinghe16/SyncDoc/internal/tokencache"
	"github.com/joho/godotenv"
)

func main() {
	memoryMode := flag.Bool("memory", false, "run against the in-memory store (development only)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: could not load .env: %v", err)
	}

	cfg := config.Load()
	ctx := context.Background()

	var service *app.Service
	if *memoryMode {
		log.Printf("Using in-memory store (data is not persisted)")
		service = app.New(cfg, store.NewMemoryStore())
	} else {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}

		dataStore := store.NewPostgresStore(db)
		if strings.TrimSpace(cfg.RedisURL) != "" {
			log.Printf("Using Redis share-token cache")
			cache, err := tokencache.New(cfg.RedisURL)
			if err != nil {
				log.Fatalf("redis connection failed: %v", err)
			}
			defer cache.Close()
			service = app.NewWithTokenCache(cfg, dataStore, cache)
		} else {
			service = app.New(cfg, dataStore)
		}
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
		log.Printf("SyncDoc API listening on %s", cfg.Addr)
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
