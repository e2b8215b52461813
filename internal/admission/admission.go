// Package admission decides whether a new chart analysis may produce a
// trade signal. Four gates run in order: active-signal blocking, the
// per-symbol cooldown, the daily net-win cap and the risky-trade ceiling.
// Store failures fail open so a database hiccup never blocks analysis.
package admission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"ai-trading-server/internal/database"
	"ai-trading-server/internal/signal"
)

// Rejection reasons, stable strings the API returns to clients.
const (
	ReasonActiveSignal = "active_signal_exists"
	ReasonCooldown     = "symbol_cooldown"
	ReasonDailyLimit   = "daily_limit_reached"
	ReasonRiskyTrades  = "too_many_risky_trades"
)

// Store is the repository slice the controller reads.
type Store interface {
	ActiveSignalForSymbol(ctx context.Context, symbol string) (*signal.Signal, error)
	LatestExitTime(ctx context.Context, symbol string) (time.Time, error)
	DailyResultCounts(ctx context.Context, dayStart, dayEnd time.Time) (wins, losses, total int, err error)
	ActiveNonBreakevenSignals(ctx context.Context) ([]*signal.Signal, error)
}

// Verdict is the outcome of an admission check.
type Verdict struct {
	Admitted bool
	Reason   string
	Detail   string
	Status   int

	// RemainingMinutes is set for cooldown rejections.
	RemainingMinutes int
	// Existing holds the blocking signal for active-signal rejections.
	Existing *signal.Signal
}

func admit() Verdict {
	return Verdict{Admitted: true, Status: http.StatusOK}
}

// Config tunes the gates.
type Config struct {
	// BlockingEnabled rejects new analysis while a signal is active on
	// the same symbol.
	BlockingEnabled bool
	// Cooldown is the minimum gap after a symbol's last exit.
	Cooldown time.Duration
	// DailyNetWinCap stops new entries once wins minus losses reaches it.
	DailyNetWinCap int
	// RiskyCeiling is the maximum number of concurrently open signals
	// still running their original stop, across all symbols.
	RiskyCeiling int
}

// DefaultConfig mirrors the live server's settings.
func DefaultConfig() Config {
	return Config{
		BlockingEnabled: true,
		Cooldown:        time.Hour,
		DailyNetWinCap:  3,
		RiskyCeiling:    3,
	}
}

// Controller runs the admission gates.
type Controller struct {
	store  Store
	cfg    Config
	logger zerolog.Logger

	now func() time.Time
}

// NewController creates an admission controller.
func NewController(store Store, cfg Config, logger zerolog.Logger) *Controller {
	return &Controller{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "admission").Logger(),
		now:    time.Now,
	}
}

// Check runs the gates in order and returns the first rejection, or an
// admitting verdict. Any store error is logged and that gate is skipped.
func (c *Controller) Check(ctx context.Context, symbol string) Verdict {
	if v := c.checkActiveSignal(ctx, symbol); !v.Admitted {
		return v
	}
	if v := c.checkCooldown(ctx, symbol); !v.Admitted {
		return v
	}

	risky := c.riskyCount(ctx)

	if v := c.checkDailyCap(ctx, risky); !v.Admitted {
		return v
	}
	if risky >= 0 && risky > c.cfg.RiskyCeiling {
		return Verdict{
			Reason: ReasonRiskyTrades,
			Detail: fmt.Sprintf("%d signals are still running their original stop (limit %d)", risky, c.cfg.RiskyCeiling),
			Status: http.StatusTooManyRequests,
		}
	}
	return admit()
}

func (c *Controller) checkActiveSignal(ctx context.Context, symbol string) Verdict {
	if !c.cfg.BlockingEnabled {
		return admit()
	}
	existing, err := c.store.ActiveSignalForSymbol(ctx, symbol)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("active signal check failed, admitting")
		}
		return admit()
	}
	return Verdict{
		Reason:   ReasonActiveSignal,
		Detail:   fmt.Sprintf("signal #%d (%s) is still active on %s", existing.ID, existing.Decision, symbol),
		Status:   http.StatusConflict,
		Existing: existing,
	}
}

func (c *Controller) checkCooldown(ctx context.Context, symbol string) Verdict {
	if c.cfg.Cooldown <= 0 {
		return admit()
	}
	lastExit, err := c.store.LatestExitTime(ctx, symbol)
	if errors.Is(err, database.ErrNotFound) {
		return admit()
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("cooldown check failed, admitting")
		return admit()
	}
	if lastExit.IsZero() {
		return admit()
	}
	elapsed := c.now().Sub(lastExit)
	if elapsed >= c.cfg.Cooldown {
		return admit()
	}
	remaining := int(math.Ceil((c.cfg.Cooldown - elapsed).Minutes()))
	return Verdict{
		Reason:           ReasonCooldown,
		Detail:           fmt.Sprintf("%s closed a signal %d minutes ago, wait %d more", symbol, int(elapsed.Minutes()), remaining),
		Status:           http.StatusTooManyRequests,
		RemainingMinutes: remaining,
	}
}

// checkDailyCap blocks new entries once the day's net wins reach the cap,
// but only while nothing is at risk: an open signal still running its
// original stop means the day's result is not locked in yet, so analysis
// stays open.
func (c *Controller) checkDailyCap(ctx context.Context, risky int) Verdict {
	if c.cfg.DailyNetWinCap <= 0 {
		return admit()
	}
	now := c.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	wins, losses, _, err := c.store.DailyResultCounts(ctx, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		c.logger.Warn().Err(err).Msg("daily cap check failed, admitting")
		return admit()
	}
	net := wins - losses
	if net < c.cfg.DailyNetWinCap {
		return admit()
	}
	if risky != 0 {
		c.logger.Info().Int("net_wins", net).Int("risky", risky).
			Msg("daily cap reached but risky signals remain open, admitting")
		return admit()
	}
	return Verdict{
		Reason: ReasonDailyLimit,
		Detail: fmt.Sprintf("daily target reached: %d wins, %d losses (net +%d)", wins, losses, net),
		Status: http.StatusTooManyRequests,
	}
}

// riskyCount returns the number of open signals still carrying their
// original stop, or -1 when the store cannot answer.
func (c *Controller) riskyCount(ctx context.Context) int {
	signals, err := c.store.ActiveNonBreakevenSignals(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("risky count unavailable, admitting")
		return -1
	}
	return len(signals)
}
