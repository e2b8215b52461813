package triggers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-trading-server/internal/pricefeed"
	"ai-trading-server/internal/signal"
)

// DefaultWatchInterval is the pending-trigger scan cadence.
const DefaultWatchInterval = 120 * time.Second

// Store is the repository slice the watcher drives.
type Store interface {
	PendingTriggers(ctx context.Context) ([]*Trigger, error)
	MarkTriggerStatus(ctx context.Context, id int64, status Status, result *signal.Decision, fireReason string) (bool, error)
}

// ReAnalyzer runs the reduced-context re-analysis when a trigger fires.
// Implementations create the trade signal themselves when the decision is
// actionable and return the resulting decision.
type ReAnalyzer interface {
	ReAnalyzeTrigger(ctx context.Context, t *Trigger, price float64, fireReason string) (signal.Decision, error)
}

// TradingHours bounds when triggers may fire, in server-local hours.
type TradingHours struct {
	StartHour int
	EndHour   int
}

// Contains reports whether t falls inside the trading window.
func (h TradingHours) Contains(t time.Time) bool {
	hour := t.Hour()
	return hour >= h.StartHour && hour < h.EndHour
}

// DefaultTradingHours covers the London and New York sessions.
func DefaultTradingHours() TradingHours {
	return TradingHours{StartHour: 6, EndHour: 20}
}

// errorResult marks a trigger whose re-analysis failed. Recorded so the
// trigger still leaves PENDING exactly once.
const errorResult = signal.Decision("ERROR")

// Watcher scans pending triggers on an interval, expires stale ones and
// runs re-analysis on the ones whose price condition is met.
type Watcher struct {
	store      Store
	oracle     pricefeed.Oracle
	reAnalyzer ReAnalyzer
	hours      TradingHours
	logger     zerolog.Logger

	// newsBlocked reports whether a high-impact news window is in effect.
	newsBlocked func(time.Time) bool

	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher creates a trigger watcher. newsBlocked may be nil to disable
// the news gate.
func NewWatcher(store Store, oracle pricefeed.Oracle, reAnalyzer ReAnalyzer, hours TradingHours, interval time.Duration, newsBlocked func(time.Time) bool, logger zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	if newsBlocked == nil {
		newsBlocked = func(time.Time) bool { return false }
	}
	return &Watcher{
		store:       store,
		oracle:      oracle,
		reAnalyzer:  reAnalyzer,
		hours:       hours,
		logger:      logger.With().Str("component", "trigger_watcher").Logger(),
		newsBlocked: newsBlocked,
		interval:    interval,
		now:         time.Now,
	}
}

// Start launches the watch loop.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopChan = make(chan struct{})

	w.wg.Add(1)
	go w.loop()

	w.logger.Info().Dur("interval", w.interval).Msg("trigger watcher started")
}

// Stop halts the loop and waits for the in-flight scan.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopChan)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info().Msg("trigger watcher stopped")
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.runScan()
		}
	}
}

func (w *Watcher) runScan() {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("trigger scan panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	if err := w.Scan(ctx); err != nil {
		w.logger.Error().Err(err).Msg("trigger scan failed")
	}
}

// Scan runs one pass over all pending triggers. Expiry is checked before
// anything else so a stale trigger never fires; the trading-hours and news
// gates only defer evaluation, they never consume the trigger.
func (w *Watcher) Scan(ctx context.Context) error {
	pending, err := w.store.PendingTriggers(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	now := w.now()
	for _, t := range pending {
		if t.Expired(now) {
			if _, err := w.store.MarkTriggerStatus(ctx, t.ID, StatusExpired, nil, ""); err != nil {
				w.logger.Error().Err(err).Int64("trigger_id", t.ID).Msg("expiry update failed")
			} else {
				w.logger.Info().Int64("trigger_id", t.ID).Str("symbol", t.Symbol).Msg("trigger expired")
			}
			continue
		}

		if !w.hours.Contains(now) || w.newsBlocked(now) {
			continue
		}

		price, err := w.oracle.CurrentPrice(ctx, t.Symbol)
		if err != nil {
			continue
		}

		fired, reason := Evaluate(t.Definition, t.Symbol, price)
		if !fired {
			continue
		}

		w.logger.Info().
			Int64("trigger_id", t.ID).
			Str("symbol", t.Symbol).
			Str("type", string(t.Definition.Type)).
			Float64("price", price).
			Str("reason", reason).
			Msg("trigger fired")

		w.consume(ctx, t, price, reason)
	}
	return nil
}

// consume runs the re-analysis and records the terminal state. A failed
// re-analysis still consumes the trigger with an error result so it is
// never retried.
func (w *Watcher) consume(ctx context.Context, t *Trigger, price float64, fireReason string) {
	decision, err := w.reAnalyzer.ReAnalyzeTrigger(ctx, t, price, fireReason)
	if err != nil {
		w.logger.Error().Err(err).Int64("trigger_id", t.ID).Msg("re-analysis failed")
		res := errorResult
		if _, err := w.store.MarkTriggerStatus(ctx, t.ID, StatusConsumed, &res, fireReason); err != nil {
			w.logger.Error().Err(err).Int64("trigger_id", t.ID).Msg("trigger consume update failed")
		}
		return
	}

	if _, err := w.store.MarkTriggerStatus(ctx, t.ID, StatusConsumed, &decision, fireReason); err != nil {
		w.logger.Error().Err(err).Int64("trigger_id", t.ID).Msg("trigger consume update failed")
		return
	}

	w.logger.Info().
		Int64("trigger_id", t.ID).
		Str("symbol", t.Symbol).
		Str("decision", string(decision)).
		Msg("trigger consumed")
}
