package pricefeed

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// lastPriceKeyPrefix is the Redis key prefix for last-known prices.
// Format: pricefeed:last:{symbol}
const lastPriceKeyPrefix = "pricefeed:last"

// Cache mirrors the last successfully read price per symbol into Redis so
// the API layer can show last-known prices without touching the feed file.
// Every operation is best-effort: Redis failures are logged and ignored.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCache creates a Redis-backed last-price cache.
func NewCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Cache{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "price_cache").Logger(),
	}
}

func key(symbol string) string {
	return lastPriceKeyPrefix + ":" + symbol
}

// Store records the latest price for symbol.
func (c *Cache) Store(ctx context.Context, symbol string, price float64) {
	if err := c.client.Set(ctx, key(symbol), strconv.FormatFloat(price, 'f', -1, 64), c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to cache price")
	}
}

// Last returns the cached last-known price for symbol, if any.
func (c *Cache) Last(ctx context.Context, symbol string) (float64, bool) {
	val, err := c.client.Get(ctx, key(symbol)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to read cached price")
		}
		return 0, false
	}
	price, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}
