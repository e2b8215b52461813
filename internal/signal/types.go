// Package signal defines the trade signal domain model: decisions, results,
// breakeven impact classification and pip arithmetic shared by the tracking
// engines, the stores and the API layer.
package signal

import (
	"time"
)

// Decision is the closed set of outcomes a chart analysis can produce.
type Decision string

const (
	DecisionBuy  Decision = "BUY"
	DecisionSell Decision = "SELL"
	DecisionWait Decision = "WAIT"
)

// Valid reports whether d is one of BUY, SELL, WAIT.
func (d Decision) Valid() bool {
	switch d {
	case DecisionBuy, DecisionSell, DecisionWait:
		return true
	}
	return false
}

// Actionable reports whether d opens a trade.
func (d Decision) Actionable() bool {
	return d == DecisionBuy || d == DecisionSell
}

// Confidence is the analysis confidence grade.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Signal lifecycle status values.
const (
	StatusActive = "ACTIVE"
	StatusClosed = "CLOSED"
)

// Result is the terminal outcome of a closed signal.
type Result string

const (
	ResultWin       Result = "WIN"
	ResultLoss      Result = "LOSS"
	ResultBreakeven Result = "BREAKEVEN"
)

func (r Result) Valid() bool {
	switch r {
	case ResultWin, ResultLoss, ResultBreakeven:
		return true
	}
	return false
}

// Impact classifies what the breakeven stop did to the final outcome
// relative to the hypothetical no-breakeven run of the same trade.
type Impact string

const (
	ImpactNoBreakevenUsed Impact = "NO_BREAKEVEN_USED"
	ImpactNoImpact        Impact = "NO_IMPACT"
	ImpactSavedLoss       Impact = "SAVED_LOSS"
	ImpactMissedProfit    Impact = "MISSED_PROFIT"
	ImpactReducedProfit   Impact = "REDUCED_PROFIT"
)

// StopModification is one entry in a signal's stop adjustment history.
type StopModification struct {
	Timestamp    time.Time `json:"timestamp"`
	Type         string    `json:"type"`
	TriggerPrice float64   `json:"trigger_price"`
	NewStopLoss  float64   `json:"new_stop_loss"`
	Reason       string    `json:"reason"`
}

// Signal is one tracked trade recommendation. CurrentStop starts equal to
// OriginalStop and only ever moves toward the entry; OriginalStop is
// immutable after creation.
type Signal struct {
	ID        int64      `json:"id"`
	CreatedAt time.Time  `json:"timestamp"`
	Symbol    string     `json:"symbol"`
	Timeframe string     `json:"timeframe"`
	Decision  Decision   `json:"decision"`
	Confidence Confidence `json:"confidence"`

	Entry        float64 `json:"entry_price"`
	OriginalStop float64 `json:"original_stop_loss"`
	CurrentStop  float64 `json:"current_stop_loss"`
	Target       float64 `json:"take_profit"`
	RiskReward   string  `json:"risk_reward"`

	Reasoning            string `json:"reasoning"`
	MarketStructure      string `json:"market_structure"`
	InvalidationCriteria string `json:"invalidation_criteria"`
	Notes                string `json:"notes,omitempty"`

	Status          string     `json:"status"`
	Result          *Result    `json:"result,omitempty"`
	ExitPrice       *float64   `json:"exit_price,omitempty"`
	ExitTimestamp   *time.Time `json:"exit_timestamp,omitempty"`
	PnlPips         *float64   `json:"pnl_pips,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`

	BreakevenTriggered  bool               `json:"breakeven_triggered"`
	BreakevenTimestamp  *time.Time         `json:"breakeven_timestamp,omitempty"`
	StopModifications   []StopModification `json:"stop_modifications,omitempty"`

	HypotheticalExitPrice *float64 `json:"hypothetical_exit_price,omitempty"`
	HypotheticalResult    *Result  `json:"hypothetical_result,omitempty"`
	HypotheticalPnlPips   *float64 `json:"hypothetical_pnl_pips,omitempty"`
	BreakevenImpact       *Impact  `json:"breakeven_impact,omitempty"`

	ScreenshotPath string `json:"screenshot_path,omitempty"`
}

// Age returns how long the signal has been open (or was open, for closed
// signals whose exit timestamp is set).
func (s *Signal) Age(now time.Time) time.Duration {
	if s.ExitTimestamp != nil {
		return s.ExitTimestamp.Sub(s.CreatedAt)
	}
	return now.Sub(s.CreatedAt)
}

// Closure carries every field the transition to CLOSED sets atomically.
type Closure struct {
	Result          Result
	ExitPrice       float64
	ExitTimestamp   time.Time
	PnlPips         float64
	DurationMinutes int

	HypotheticalExitPrice *float64
	HypotheticalResult    *Result
	HypotheticalPnlPips   *float64
	Impact                Impact

	Notes string
}

// ClassifyImpact determines the effect of breakeven management on a closed
// trade. A nil hypothetical result means the no-breakeven run of the trade
// would still be open, which counts as no impact.
func ClassifyImpact(actual Result, hypothetical *Result, actualPnl, hypotheticalPnl float64, breakevenUsed bool) Impact {
	if !breakevenUsed {
		return ImpactNoBreakevenUsed
	}
	if hypothetical == nil {
		return ImpactNoImpact
	}
	switch {
	case actual == ResultBreakeven && *hypothetical == ResultLoss:
		return ImpactSavedLoss
	case actual == ResultBreakeven && *hypothetical == ResultWin:
		return ImpactMissedProfit
	case actual == ResultWin && *hypothetical == ResultWin && actualPnl < hypotheticalPnl:
		return ImpactReducedProfit
	}
	return ImpactNoImpact
}
