// Package analysis orchestrates one chart analysis end to end: admission
// gates, the model call, decision parsing, signal creation and trigger
// management.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-trading-server/internal/admission"
	"ai-trading-server/internal/ai/llm"
	"ai-trading-server/internal/pricefeed"
	"ai-trading-server/internal/signal"
	"ai-trading-server/internal/triggers"
)

// Store is the repository slice the orchestrator writes through.
type Store interface {
	CreateSignal(ctx context.Context, s *signal.Signal) error
	SaveTrigger(ctx context.Context, t *triggers.Trigger) (int, error)
	ClearPendingTriggers(ctx context.Context, symbol, reason string) (int, error)
}

// Analyzer is the model client surface the orchestrator calls.
type Analyzer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, images []llm.ChartImage) (string, llm.Usage, error)
}

// Notifier delivers fire-and-forget alerts, optionally with a chart image.
type Notifier interface {
	Send(ctx context.Context, text string)
	SendPhoto(ctx context.Context, caption, photoPath string)
}

// Request is one multi-timeframe analysis job.
type Request struct {
	Symbol string
	Charts []llm.ChartImage
	// ScreenshotPath is the stored M15 chart, attached to the signal
	// record and the creation notification.
	ScreenshotPath string
}

// Result is the outcome of one analysis request.
type Result struct {
	TraceID  string
	Decision *llm.DecisionResponse
	Signal   *signal.Signal
	Trigger  *triggers.Trigger
	Usage    llm.Usage
	Verdict  admission.Verdict
}

// Service runs the analysis pipeline.
type Service struct {
	store     Store
	analyzer  Analyzer
	admission *admission.Controller
	oracle    pricefeed.Oracle
	notifier  Notifier
	stats     *SessionStats
	logger    zerolog.Logger

	now func() time.Time
}

// NewService wires the orchestrator.
func NewService(store Store, analyzer Analyzer, adm *admission.Controller, oracle pricefeed.Oracle, notifier Notifier, stats *SessionStats, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		analyzer:  analyzer,
		admission: adm,
		oracle:    oracle,
		notifier:  notifier,
		stats:     stats,
		logger:    logger.With().Str("component", "analysis").Logger(),
		now:       time.Now,
	}
}

// Analyze runs the full pipeline. An admission rejection short-circuits
// before the model is called and comes back in the result's Verdict with
// no error.
func (s *Service) Analyze(ctx context.Context, req Request) (*Result, error) {
	traceID := uuid.New().String()
	logger := s.logger.With().Str("trace_id", traceID).Str("symbol", req.Symbol).Logger()

	result := &Result{TraceID: traceID}

	result.Verdict = s.admission.Check(ctx, req.Symbol)
	if !result.Verdict.Admitted {
		logger.Info().Str("reason", result.Verdict.Reason).Msg("analysis rejected by admission gate")
		return result, nil
	}

	price, err := s.oracle.CurrentPrice(ctx, req.Symbol)
	if err != nil {
		logger.Warn().Err(err).Msg("current price unavailable, analyzing from charts only")
		price = 0
	}

	prompt := llm.AnalysisPrompt(req.Symbol, price, llm.SessionContext(s.now()))
	text, usage, err := s.analyzer.Complete(ctx, llm.SystemPrompt(), prompt, req.Charts)
	if err != nil {
		s.stats.RecordError()
		logger.Error().Err(err).Msg("model call failed")
		return nil, fmt.Errorf("analyze %s: %w", req.Symbol, err)
	}
	result.Usage = usage
	s.stats.RecordUsage(usage)

	decision, err := llm.ParseDecision(text)
	if err != nil {
		s.stats.RecordError()
		logger.Error().Err(err).Msg("model response unparseable")
		return nil, fmt.Errorf("parse decision for %s: %w", req.Symbol, err)
	}
	result.Decision = decision
	s.stats.RecordDecision(decision.Decision)

	logger.Info().
		Str("decision", string(decision.Decision)).
		Str("confidence", string(decision.Confidence)).
		Msg("analysis complete")

	if decision.Decision.Actionable() {
		// An immediate entry supersedes any deferred plan still pending
		// for the symbol.
		if cleared, err := s.store.ClearPendingTriggers(ctx, req.Symbol, "actionable decision"); err != nil {
			logger.Warn().Err(err).Msg("pending trigger cleanup failed")
		} else if cleared > 0 {
			logger.Info().Int("cleared", cleared).Msg("pending triggers cleared")
		}

		sig, err := s.openSignal(ctx, req, decision, logger)
		if err != nil {
			return nil, err
		}
		result.Signal = sig
		return result, nil
	}

	result.Trigger = s.saveTrigger(ctx, req.Symbol, decision, logger)
	return result, nil
}

// openSignal persists a BUY/SELL decision. Callers on the direct analysis
// path clear pending triggers first; the trigger-fire path must not, so
// the firing trigger stays PENDING for the watcher to consume.
func (s *Service) openSignal(ctx context.Context, req Request, d *llm.DecisionResponse, logger zerolog.Logger) (*signal.Signal, error) {
	if ok, ratio, _ := signal.VerifyRiskReward(*d.Entry, *d.StopLoss, *d.TakeProfit); !ok {
		logger.Warn().Float64("ratio", ratio).Float64("min", signal.MinRiskReward).
			Msg("risk/reward below minimum, proceeding anyway")
	}

	sig := &signal.Signal{
		Symbol:               req.Symbol,
		Timeframe:            "M15",
		Decision:             d.Decision,
		Confidence:           d.Confidence,
		Entry:                *d.Entry,
		OriginalStop:         *d.StopLoss,
		CurrentStop:          *d.StopLoss,
		Target:               *d.TakeProfit,
		RiskReward:           d.RiskReward,
		Reasoning:            d.Reasoning,
		MarketStructure:      d.MarketStructure,
		InvalidationCriteria: d.InvalidationCriteria,
		Status:               signal.StatusActive,
		ScreenshotPath:       req.ScreenshotPath,
	}
	if err := s.store.CreateSignal(ctx, sig); err != nil {
		return nil, fmt.Errorf("persist signal for %s: %w", req.Symbol, err)
	}

	logger.Info().Int64("signal_id", sig.ID).
		Float64("entry", sig.Entry).Float64("sl", sig.OriginalStop).Float64("tp", sig.Target).
		Msg("signal created")

	caption := signalMessage(sig)
	if req.ScreenshotPath != "" {
		s.notifier.SendPhoto(ctx, caption, req.ScreenshotPath)
	} else {
		s.notifier.Send(ctx, caption)
	}
	return sig, nil
}

// saveTrigger persists the WAIT decision's watch condition, if it carries
// a complete one. Incomplete or "none" definitions are discarded quietly.
func (s *Service) saveTrigger(ctx context.Context, symbol string, d *llm.DecisionResponse, logger zerolog.Logger) *triggers.Trigger {
	if d.NextTrigger == nil || !d.NextTrigger.Complete() {
		return nil
	}

	now := s.now()
	t := &triggers.Trigger{
		Symbol:     symbol,
		Definition: *d.NextTrigger,
		Context:    d.H4Context,
		Playbook:   d.Playbook,
		SetupType:  string(d.NextTrigger.Type),
		ExpiryAt:   d.NextTrigger.ExpiryTime(now),
		Status:     triggers.StatusPending,
	}
	superseded, err := s.store.SaveTrigger(ctx, t)
	if err != nil {
		logger.Error().Err(err).Msg("trigger save failed")
		return nil
	}
	logger.Info().
		Int64("trigger_id", t.ID).
		Str("type", string(t.Definition.Type)).
		Float64("level", t.Definition.Level).
		Time("expires", t.ExpiryAt).
		Int("superseded", superseded).
		Msg("trigger saved")
	return t
}

// ReAnalyzeTrigger runs the reduced re-analysis when a pending trigger
// fires. An actionable decision opens a signal, subject to the same
// admission gates as a direct request.
func (s *Service) ReAnalyzeTrigger(ctx context.Context, t *triggers.Trigger, price float64, fireReason string) (signal.Decision, error) {
	logger := s.logger.With().Int64("trigger_id", t.ID).Str("symbol", t.Symbol).Logger()
	s.stats.RecordReAnalysis()

	prompt := llm.ReAnalysisPrompt(t, price, fireReason)
	text, usage, err := s.analyzer.Complete(ctx, llm.SystemPrompt(), prompt, nil)
	if err != nil {
		s.stats.RecordError()
		return "", fmt.Errorf("re-analyze %s: %w", t.Symbol, err)
	}
	s.stats.RecordUsage(usage)

	decision, err := llm.ParseDecision(text)
	if err != nil {
		s.stats.RecordError()
		return "", fmt.Errorf("parse re-analysis for %s: %w", t.Symbol, err)
	}
	s.stats.RecordDecision(decision.Decision)

	if !decision.Decision.Actionable() {
		logger.Info().Str("decision", string(decision.Decision)).Msg("trigger re-analysis declined entry")
		return decision.Decision, nil
	}

	// Admission suppresses only the signal; the trigger is still recorded
	// with the decision the re-analysis actually made.
	verdict := s.admission.Check(ctx, t.Symbol)
	if !verdict.Admitted {
		logger.Info().Str("reason", verdict.Reason).Msg("trigger entry rejected by admission gate")
		return decision.Decision, nil
	}

	req := Request{Symbol: t.Symbol}
	if _, err := s.openSignal(ctx, req, decision, logger); err != nil {
		return "", err
	}
	return decision.Decision, nil
}

func signalMessage(s *signal.Signal) string {
	emoji := "🟢"
	if s.Decision == signal.DecisionSell {
		emoji = "🔴"
	}
	return fmt.Sprintf(`%s <b>New Signal: %s %s</b>
<b>Signal ID:</b> %d
<b>Confidence:</b> %s
<b>Entry:</b> %g
<b>Stop Loss:</b> %g
<b>Take Profit:</b> %g
<b>R/R:</b> %s
<b>Reasoning:</b> %s`,
		emoji, s.Decision, s.Symbol, s.ID, s.Confidence,
		s.Entry, s.OriginalStop, s.Target, s.RiskReward, s.Reasoning)
}
