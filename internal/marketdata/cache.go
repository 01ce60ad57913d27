package marketdata

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// Cache stores the latest fetched price per ticker in Redis with a TTL,
// so the waterfall only hits providers when the cached quote has expired.
type Cache struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewCache creates a price cache with the given TTL.
func NewCache(client *goredis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func priceKey(ticker string) string {
	return "price:latest:" + ticker
}

// Get returns the cached price for ticker, or ok=false on a miss.
func (c *Cache) Get(ctx context.Context, ticker string) (decimal.Decimal, bool) {
	val, err := c.client.Get(ctx, priceKey(ticker)).Result()
	if err != nil {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false
	}
	return price, true
}

// Set stores the price for ticker with the cache TTL.
func (c *Cache) Set(ctx context.Context, ticker string, price decimal.Decimal) error {
	if err := c.client.Set(ctx, priceKey(ticker), price.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", ticker, err)
	}
	return nil
}
