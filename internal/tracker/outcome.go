package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ai-trading-server/internal/pricefeed"
	"ai-trading-server/internal/signal"
)

// OutcomeEngine detects exits on active signals and closes them with both
// the actual outcome and the hypothetical outcome the trade would have had
// if the stop had never moved to breakeven.
type OutcomeEngine struct {
	store    SignalStore
	oracle   pricefeed.Oracle
	notifier Notifier
	logger   zerolog.Logger

	now func() time.Time
}

// NewOutcomeEngine creates an outcome engine.
func NewOutcomeEngine(store SignalStore, oracle pricefeed.Oracle, notifier Notifier, logger zerolog.Logger) *OutcomeEngine {
	return &OutcomeEngine{
		store:    store,
		oracle:   oracle,
		notifier: notifier,
		logger:   logger.With().Str("component", "outcome").Logger(),
		now:      time.Now,
	}
}

// exit describes one simulated trade resolution.
type exit struct {
	result signal.Result
	price  float64
}

// simulate resolves a signal against the current price using the given
// stop. Target is checked before stop so a bar that would have hit both is
// scored as a win, matching the live tracker's ordering.
func simulate(decision signal.Decision, price, stop, target, entry float64) *exit {
	switch decision {
	case signal.DecisionBuy:
		if price >= target {
			return &exit{result: signal.ResultWin, price: target}
		}
		if price <= stop {
			return &exit{result: stopResult(stop, entry), price: stop}
		}
	case signal.DecisionSell:
		if price <= target {
			return &exit{result: signal.ResultWin, price: target}
		}
		if price >= stop {
			return &exit{result: stopResult(stop, entry), price: stop}
		}
	}
	return nil
}

// stopResult distinguishes a breakeven exit from a loss: a stop sitting at
// entry closes the trade flat.
func stopResult(stop, entry float64) signal.Result {
	if stop == entry {
		return signal.ResultBreakeven
	}
	return signal.ResultLoss
}

// RunPass evaluates every active signal once against the current price.
// The actual leg uses the effective stop (entry after breakeven), the
// hypothetical leg always uses the original stop.
func (e *OutcomeEngine) RunPass(ctx context.Context) error {
	signals, err := e.store.GetActiveSignals(ctx, "")
	if err != nil {
		return fmt.Errorf("load active signals: %w", err)
	}

	for _, s := range signals {
		price, err := e.oracle.CurrentPrice(ctx, s.Symbol)
		if err != nil {
			continue
		}

		actual := simulate(s.Decision, price, s.CurrentStop, s.Target, s.Entry)
		if actual == nil {
			continue
		}
		hypothetical := simulate(s.Decision, price, s.OriginalStop, s.Target, s.Entry)

		now := e.now()
		closure := signal.Closure{
			Result:          actual.result,
			ExitPrice:       actual.price,
			ExitTimestamp:   now,
			PnlPips:         signal.Pips(s.Entry, actual.price, s.Symbol, s.Decision),
			DurationMinutes: int(now.Sub(s.CreatedAt).Minutes()),
		}

		var hypResult *signal.Result
		hypPnl := 0.0
		if hypothetical != nil {
			hypResult = &hypothetical.result
			hypPnl = signal.Pips(s.Entry, hypothetical.price, s.Symbol, s.Decision)
			closure.HypotheticalExitPrice = &hypothetical.price
			closure.HypotheticalResult = hypResult
			closure.HypotheticalPnlPips = &hypPnl
		}
		closure.Impact = signal.ClassifyImpact(actual.result, hypResult, closure.PnlPips, hypPnl, s.BreakevenTriggered)

		applied, err := e.store.CloseSignal(ctx, s.ID, closure)
		if err != nil {
			e.logger.Error().Err(err).Int64("signal_id", s.ID).Msg("close failed")
			continue
		}
		if !applied {
			continue
		}

		e.logger.Info().
			Int64("signal_id", s.ID).
			Str("symbol", s.Symbol).
			Str("result", string(actual.result)).
			Float64("pnl_pips", closure.PnlPips).
			Str("impact", string(closure.Impact)).
			Msg("signal closed")

		e.notifier.Send(ctx, outcomeMessage(s, closure))
	}
	return nil
}

func outcomeMessage(s *signal.Signal, c signal.Closure) string {
	emoji := map[signal.Result]string{
		signal.ResultWin:       "✅",
		signal.ResultLoss:      "❌",
		signal.ResultBreakeven: "🔒",
	}[c.Result]

	msg := fmt.Sprintf(`%s <b>Signal Closed: %s</b>
<b>Signal ID:</b> %d
<b>Symbol:</b> %s
<b>Decision:</b> %s
<b>Exit Price:</b> %g
<b>P&amp;L:</b> %.1f pips
<b>Duration:</b> %d min`,
		emoji, c.Result, s.ID, s.Symbol, s.Decision, c.ExitPrice, c.PnlPips, c.DurationMinutes)

	if s.BreakevenTriggered {
		msg += fmt.Sprintf("\n<b>Breakeven Impact:</b> %s", impactNarrative(c))
	}
	return msg
}

// impactNarrative explains what the breakeven move did to the trade
// relative to holding the original stop.
func impactNarrative(c signal.Closure) string {
	switch c.Impact {
	case signal.ImpactSavedLoss:
		if c.HypotheticalPnlPips != nil {
			return fmt.Sprintf("saved a %.1f pip loss", -*c.HypotheticalPnlPips)
		}
		return "saved a loss"
	case signal.ImpactMissedProfit:
		if c.HypotheticalPnlPips != nil {
			return fmt.Sprintf("missed %.1f pips of profit", *c.HypotheticalPnlPips)
		}
		return "missed profit"
	case signal.ImpactReducedProfit:
		if c.HypotheticalPnlPips != nil {
			return fmt.Sprintf("reduced profit by %.1f pips", *c.HypotheticalPnlPips-c.PnlPips)
		}
		return "reduced profit"
	case signal.ImpactNoImpact:
		return "no impact on outcome"
	default:
		return string(c.Impact)
	}
}
