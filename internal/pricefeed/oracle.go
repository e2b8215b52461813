// Package pricefeed wraps the MT5 file-based price feed behind an Oracle
// interface with a staleness contract: data older than the freshness
// threshold is reported unavailable, never acted on.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrUnavailable means no usable price exists for the symbol right now.
	ErrUnavailable = errors.New("price unavailable")
	// ErrStale means the feed file exists but is older than the freshness
	// threshold. Callers treat it the same as ErrUnavailable.
	ErrStale = errors.New("price feed stale")
)

// Oracle supplies the current bid price for a symbol.
type Oracle interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// DefaultMaxAge is the freshness threshold for the feed file.
const DefaultMaxAge = 5 * time.Minute

// feedDocument is the on-disk shape written by the MT5 terminal.
type feedDocument struct {
	Prices map[string]struct {
		Bid float64 `json:"bid"`
		Ask float64 `json:"ask"`
	} `json:"prices"`
}

// FileOracle reads prices from a periodically rewritten JSON file.
type FileOracle struct {
	path   string
	maxAge time.Duration
	cache  *Cache
	logger zerolog.Logger

	now func() time.Time
}

// NewFileOracle creates an oracle over the feed file at path. cache may be
// nil to disable last-price mirroring.
func NewFileOracle(path string, maxAge time.Duration, cache *Cache, logger zerolog.Logger) *FileOracle {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &FileOracle{
		path:   path,
		maxAge: maxAge,
		cache:  cache,
		logger: logger.With().Str("component", "pricefeed").Logger(),
		now:    time.Now,
	}
}

// CurrentPrice returns the bid for symbol, or ErrStale/ErrUnavailable.
func (o *FileOracle) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	info, err := os.Stat(o.path)
	if err != nil {
		o.logger.Error().Str("path", o.path).Msg("price feed file not found")
		return 0, ErrUnavailable
	}

	if age := o.now().Sub(info.ModTime()); age > o.maxAge {
		o.logger.Warn().
			Str("symbol", symbol).
			Dur("age", age).
			Msg("price feed stale, skipping price-dependent actions")
		return 0, ErrStale
	}

	data, err := os.ReadFile(o.path)
	if err != nil {
		return 0, fmt.Errorf("read price feed: %w", err)
	}

	var doc feedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		o.logger.Error().Err(err).Msg("invalid JSON in price feed file")
		return 0, ErrUnavailable
	}

	entry, ok := doc.Prices[symbol]
	if !ok {
		o.logger.Error().Str("symbol", symbol).Int("available", len(doc.Prices)).
			Msg("symbol not found in price feed")
		return 0, ErrUnavailable
	}

	if o.cache != nil {
		o.cache.Store(ctx, symbol, entry.Bid)
	}
	return entry.Bid, nil
}
