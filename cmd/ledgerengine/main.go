package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"position-ledger/config"
	"position-ledger/internal/ingest"
	"position-ledger/internal/logger"
	"position-ledger/internal/marketdata"
	"position-ledger/internal/metrics"
	"position-ledger/internal/model"
	"position-ledger/internal/processor"
	"position-ledger/internal/store/sqlite"
	streamredis "position-ledger/internal/stream/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg := config.Load()
	slg := logger.Init("ledgerengine", logger.ParseLevel(cfg.LogLevel))
	slg.Info("starting", slog.String("redis", cfg.RedisAddr), slog.String("sqlite", cfg.SQLitePath))

	store, err := sqlite.New(sqlite.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[ledgerengine] opening store: %v", err)
	}
	defer store.Close()

	broker, err := streamredis.New(streamredis.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("[ledgerengine] connecting to redis: %v", err)
	}
	defer broker.Close()

	prom := metrics.NewMetrics()
	metrics.Serve(cfg.MetricsAddr)

	pr := processor.New(store)

	orchestrator := ingest.NewOrchestrator(
		ingest.NewConsumer(cfg.CreatedStream, cfg.ConsumerGroup, cfg.ConsumerName, broker, ingest.CreatedHandler(pr), prom),
		ingest.NewConsumer(cfg.UpdatedStream, cfg.ConsumerGroup, cfg.ConsumerName, broker, ingest.UpdatedHandler(pr), prom),
		ingest.NewConsumer(cfg.DeletedStream, cfg.ConsumerGroup, cfg.ConsumerName, broker, ingest.DeletedHandler(pr), prom),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[ledgerengine] shutdown signal received")
		cancel()
	}()

	if refresher := buildRefresher(cfg, store, broker, prom); refresher != nil {
		go refresher.Run(ctx)
	}

	if err := orchestrator.Run(ctx); err != nil {
		log.Fatalf("[ledgerengine] fatal: %v", err)
	}
	log.Println("[ledgerengine] stopped")
}

// buildRefresher wires the price waterfall and the periodic refresher.
// Returns nil when no quote provider is configured.
func buildRefresher(cfg *config.Config, store model.PositionStore, broker *streamredis.Broker, prom *metrics.Metrics) *marketdata.Refresher {
	var providers []model.PriceProvider
	if cfg.PrimaryQuoteURL != "" {
		providers = append(providers, marketdata.NewHTTPProvider("primary", cfg.PrimaryQuoteURL))
	}
	if cfg.FallbackQuoteURL != "" {
		providers = append(providers, marketdata.NewHTTPProvider("fallback", cfg.FallbackQuoteURL))
	}
	if len(providers) == 0 {
		log.Println("[ledgerengine] no quote providers configured, price refresh disabled")
		return nil
	}

	cache := marketdata.NewCache(broker.Client(), cfg.PriceCacheTTL)
	waterfall := marketdata.NewWaterfall(cache, prom, providers...)
	return marketdata.NewRefresher(store, waterfall, prom, cfg.RefreshInterval)
}
