package tracker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultInterval is the signal tracking cadence.
	DefaultInterval = 60 * time.Second

	// cleanupEvery is how many tracking cycles pass between screenshot
	// directory sweeps. At the default interval this is roughly six hours.
	cleanupEvery = 360

	// screenshotRetention is how long uploaded chart images are kept.
	screenshotRetention = 7 * 24 * time.Hour
)

// Worker runs the breakeven and outcome engines on a fixed interval.
type Worker struct {
	breakeven *BreakevenEngine
	outcome   *OutcomeEngine
	logger    zerolog.Logger

	interval      time.Duration
	screenshotDir string

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates the tracking worker. screenshotDir may be empty to
// disable the periodic cleanup sweep.
func NewWorker(breakeven *BreakevenEngine, outcome *OutcomeEngine, screenshotDir string, interval time.Duration, logger zerolog.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		breakeven:     breakeven,
		outcome:       outcome,
		logger:        logger.With().Str("component", "tracker_worker").Logger(),
		interval:      interval,
		screenshotDir: screenshotDir,
	}
}

// Start launches the tracking loop. Calling Start on a running worker is
// a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopChan = make(chan struct{})

	w.wg.Add(1)
	go w.loop()

	w.logger.Info().Dur("interval", w.interval).Msg("signal tracking worker started")
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopChan)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info().Msg("signal tracking worker stopped")
}

func (w *Worker) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	cycle := 0
	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			cycle++
			w.runCycle(cycle)
		}
	}
}

// runCycle executes one tracking pass. Errors are logged and never stop
// the loop.
func (w *Worker) runCycle(cycle int) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("tracking cycle panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	defer cancel()

	if err := w.breakeven.RunPass(ctx); err != nil {
		w.logger.Error().Err(err).Msg("breakeven pass failed")
	}
	if err := w.outcome.RunPass(ctx); err != nil {
		w.logger.Error().Err(err).Msg("outcome pass failed")
	}

	if w.screenshotDir != "" && cycle%cleanupEvery == 0 {
		w.cleanupScreenshots()
	}
}

// cleanupScreenshots removes chart images older than the retention window.
func (w *Worker) cleanupScreenshots() {
	entries, err := os.ReadDir(w.screenshotDir)
	if err != nil {
		w.logger.Warn().Err(err).Msg("screenshot cleanup skipped")
		return
	}

	cutoff := time.Now().Add(-screenshotRetention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		if !strings.HasSuffix(name, ".png") && !strings.HasSuffix(name, ".jpg") && !strings.HasSuffix(name, ".jpeg") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(w.screenshotDir, entry.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		w.logger.Info().Int("removed", removed).Msg("old screenshots cleaned up")
	}
}
