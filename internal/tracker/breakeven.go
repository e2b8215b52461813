// Package tracker runs the signal lifecycle engines: the breakeven engine
// moves stops to entry once price covers the original risk distance, and
// the outcome engine detects exits, computes actual and hypothetical P&L
// and closes signals. A background worker drives both on a fixed cadence.
package tracker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"ai-trading-server/internal/pricefeed"
	"ai-trading-server/internal/signal"
)

// SignalStore is the slice of the repository the engines need.
type SignalStore interface {
	ActiveNonBreakevenSignals(ctx context.Context) ([]*signal.Signal, error)
	GetActiveSignals(ctx context.Context, symbol string) ([]*signal.Signal, error)
	MarkBreakeven(ctx context.Context, id int64, newStop float64, mod signal.StopModification) (bool, error)
	CloseSignal(ctx context.Context, id int64, c signal.Closure) (bool, error)
}

// Notifier delivers fire-and-forget messages. Implementations log their
// own failures and never block on retries.
type Notifier interface {
	Send(ctx context.Context, text string)
}

// BreakevenEngine scans active signals and moves stops to breakeven.
type BreakevenEngine struct {
	store    SignalStore
	oracle   pricefeed.Oracle
	notifier Notifier
	logger   zerolog.Logger

	now func() time.Time
}

// NewBreakevenEngine creates a breakeven engine.
func NewBreakevenEngine(store SignalStore, oracle pricefeed.Oracle, notifier Notifier, logger zerolog.Logger) *BreakevenEngine {
	return &BreakevenEngine{
		store:    store,
		oracle:   oracle,
		notifier: notifier,
		logger:   logger.With().Str("component", "breakeven").Logger(),
		now:      time.Now,
	}
}

// breakevenPrice returns the price at which the trade has moved one full
// risk distance in its favor.
func breakevenPrice(s *signal.Signal) float64 {
	risk := math.Abs(s.Entry - s.OriginalStop)
	if s.Decision == signal.DecisionBuy {
		return s.Entry + risk
	}
	return s.Entry - risk
}

// reached reports whether price has hit or passed the breakeven trigger
// price in the trade's favorable direction.
func reached(s *signal.Signal, price, trigger float64) bool {
	if s.Decision == signal.DecisionBuy {
		return price >= trigger
	}
	return price <= trigger
}

// RunPass evaluates every active non-breakeven signal once. Signals with
// no usable price are skipped until the next cycle. The check is monotonic
// and idempotent: once a signal's stop is at entry it is never selected
// again.
func (e *BreakevenEngine) RunPass(ctx context.Context) error {
	signals, err := e.store.ActiveNonBreakevenSignals(ctx)
	if err != nil {
		return fmt.Errorf("load active signals: %w", err)
	}

	for _, s := range signals {
		price, err := e.oracle.CurrentPrice(ctx, s.Symbol)
		if err != nil {
			continue
		}

		trigger := breakevenPrice(s)
		if !reached(s, price, trigger) {
			continue
		}

		mod := signal.StopModification{
			Timestamp:    e.now(),
			Type:         "BREAKEVEN",
			TriggerPrice: price,
			NewStopLoss:  s.Entry,
			Reason:       "Moved to breakeven at 1:1 R/R",
		}
		applied, err := e.store.MarkBreakeven(ctx, s.ID, s.Entry, mod)
		if err != nil {
			e.logger.Error().Err(err).Int64("signal_id", s.ID).Msg("breakeven update failed")
			continue
		}
		if !applied {
			// Another pass or a concurrent close got there first.
			continue
		}

		e.logger.Info().
			Int64("signal_id", s.ID).
			Str("symbol", s.Symbol).
			Float64("new_stop", s.Entry).
			Float64("trigger_price", price).
			Msg("stop loss moved to breakeven")

		e.notifier.Send(ctx, breakevenMessage(s, price))
	}
	return nil
}

func breakevenMessage(s *signal.Signal, triggerPrice float64) string {
	return fmt.Sprintf(`🔒 <b>Stop Loss Moved to Breakeven</b>
<b>Signal ID:</b> %d
<b>Symbol:</b> %s
<b>Decision:</b> %s
<b>New Stop Loss:</b> %g
<b>Trigger Price:</b> %g
<b>Status:</b> Risk eliminated - now trading with house money!`,
		s.ID, s.Symbol, s.Decision, s.Entry, triggerPrice)
}
