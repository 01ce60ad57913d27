package marketdata

import (
	"context"
	"errors"
	"log"
	"time"

	"position-ledger/internal/metrics"
	"position-ledger/internal/model"
)

// Refresher periodically refreshes LatestMarketPrice for every open
// position. It runs outside the transaction-event path and competes with
// it only through the store's optimistic versioning.
type Refresher struct {
	store    model.PositionStore
	source   model.PriceProvider
	prom     *metrics.Metrics
	interval time.Duration
}

// NewRefresher creates a refresher pulling prices from source every
// interval.
func NewRefresher(store model.PositionStore, source model.PriceProvider, prom *metrics.Metrics, interval time.Duration) *Refresher {
	return &Refresher{store: store, source: source, prom: prom, interval: interval}
}

// Run refreshes prices on every tick until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

func (r *Refresher) refreshAll(ctx context.Context) {
	positions, err := r.store.FindAll(ctx)
	if err != nil {
		log.Printf("[marketdata] listing positions: %v", err)
		return
	}

	refreshed := 0
	for _, pos := range positions {
		if !pos.IsOpen() {
			continue
		}
		if err := r.refreshOne(ctx, pos.Ticker); err != nil {
			log.Printf("[marketdata] refresh %s: %v", pos.Ticker, err)
			continue
		}
		refreshed++
	}
	if refreshed > 0 {
		log.Printf("[marketdata] refreshed %d position prices", refreshed)
	}
}

// refreshOne reloads the position before each write attempt so a price
// update never clobbers a concurrently applied transaction.
func (r *Refresher) refreshOne(ctx context.Context, ticker string) error {
	const maxAttempts = 3

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		pos, err := r.store.FindByTicker(ctx, ticker)
		if err != nil {
			return err
		}

		price, err := r.source.GetCurrentPrice(ctx, pos.Ticker, pos.Exchange)
		if err != nil {
			return err
		}

		pos.SetMarketPrice(price, time.Now().UTC())
		if _, err := r.store.Update(ctx, pos); err != nil {
			if errors.Is(err, model.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return err
		}
		if r.prom != nil {
			r.prom.PriceRefreshes.Inc()
		}
		return nil
	}
	return lastErr
}
