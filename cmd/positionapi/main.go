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

	goredis "github.com/go-redis/redis/v8"

	"position-ledger/config"
	"position-ledger/internal/api"
	"position-ledger/internal/logger"
	"position-ledger/internal/metrics"
	"position-ledger/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	slg := logger.Init("positionapi", logger.ParseLevel(cfg.LogLevel))
	slg.Info("starting", slog.String("addr", cfg.APIAddr))

	store, err := sqlite.New(sqlite.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[positionapi] opening store: %v", err)
	}
	defer store.Close()

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	prom := metrics.NewMetrics()
	metrics.Serve(cfg.MetricsAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := api.NewHub(rdb, prom)
	go hub.Run(ctx)

	server := &http.Server{
		Addr:         cfg.APIAddr,
		Handler:      api.NewServer(store, hub).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[positionapi] shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[positionapi] shutdown: %v", err)
		}
	}()

	log.Printf("[positionapi] listening on %s", cfg.APIAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("[positionapi] fatal: %v", err)
	}
	log.Println("[positionapi] stopped")
}
