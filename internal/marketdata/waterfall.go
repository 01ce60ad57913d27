package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"position-ledger/internal/metrics"
	"position-ledger/internal/model"
)

const defaultResetTimeout = 30 * time.Second

// Waterfall tries each provider in order behind a per-provider circuit
// breaker, caching the first successful quote. With a primary and a
// fallback provider this is the two-provider waterfall.
type Waterfall struct {
	providers []model.PriceProvider
	breakers  []*CircuitBreaker
	cache     *Cache
	prom      *metrics.Metrics
}

// NewWaterfall chains providers in priority order. cache and prom may be
// nil (then every call hits the providers and nothing is recorded).
func NewWaterfall(cache *Cache, prom *metrics.Metrics, providers ...model.PriceProvider) *Waterfall {
	breakers := make([]*CircuitBreaker, len(providers))
	for i := range providers {
		breakers[i] = NewCircuitBreaker(5, defaultResetTimeout)
	}
	return &Waterfall{providers: providers, breakers: breakers, cache: cache, prom: prom}
}

// Name identifies the waterfall as a composite provider.
func (w *Waterfall) Name() string { return "waterfall" }

// GetCurrentPrice returns the cached price if fresh, otherwise the first
// provider answer in priority order.
func (w *Waterfall) GetCurrentPrice(ctx context.Context, ticker, exchange string) (decimal.Decimal, error) {
	if w.cache != nil {
		if price, ok := w.cache.Get(ctx, ticker); ok {
			if w.prom != nil {
				w.prom.PriceCacheHits.Inc()
			}
			return price, nil
		}
	}

	var errs []error
	for i, p := range w.providers {
		var price decimal.Decimal
		err := w.breakers[i].Execute(func() error {
			var ferr error
			price, ferr = p.GetCurrentPrice(ctx, ticker, exchange)
			return ferr
		})
		if err != nil {
			if w.prom != nil {
				w.prom.PriceFetchErrors.WithLabelValues(p.Name()).Inc()
			}
			if !errors.Is(err, ErrCircuitOpen) {
				log.Printf("[marketdata] %s failed for %s: %v", p.Name(), ticker, err)
			}
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}

		if w.cache != nil {
			if cerr := w.cache.Set(ctx, ticker, price); cerr != nil {
				log.Printf("[marketdata] cache set failed for %s: %v", ticker, cerr)
			}
		}
		return price, nil
	}

	return decimal.Zero, fmt.Errorf("all providers failed for %s: %w", ticker, errors.Join(errs...))
}
