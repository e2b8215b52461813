// Package triggers implements the deferred conditional watch system:
// triggers created on WAIT decisions, evaluated against live prices by a
// background watcher, and consumed through a lightweight re-analysis when
// their condition is met.
package triggers

import (
	"time"

	"ai-trading-server/internal/signal"
)

// Type is the kind of price condition a trigger watches for.
type Type string

const (
	TypeLevelBreak      Type = "level_break"
	TypeRetestHold      Type = "retest_hold"
	TypeRangeEdgeReject Type = "range_edge_reject"
	TypeEMARetouch      Type = "ema_retouch"
	TypeNone            Type = "none"
)

func (t Type) Valid() bool {
	switch t {
	case TypeLevelBreak, TypeRetestHold, TypeRangeEdgeReject, TypeEMARetouch:
		return true
	}
	return false
}

// Direction qualifies the condition: above/below for breaks,
// bullish/bearish for retests and rejections.
type Direction string

const (
	DirectionAbove   Direction = "above"
	DirectionBelow   Direction = "below"
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
)

// Status is the trigger lifecycle state. PENDING is the only non-terminal
// state; a trigger leaves it exactly once.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConsumed   Status = "CONSUMED"
	StatusExpired    Status = "EXPIRED"
	StatusSuperseded Status = "SUPERSEDED"
	StatusCleared    Status = "CLEARED"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Definition is the structured "next watch" supplied by the analysis.
type Definition struct {
	Type             Type      `json:"type"`
	Timeframe        string    `json:"timeframe"`
	Level            float64   `json:"level"`
	Direction        Direction `json:"direction"`
	ConfirmationBars int       `json:"confirmation_bars,omitempty"`
	ExpiryBars       int       `json:"expiry_bars,omitempty"`
	Description      string    `json:"description,omitempty"`
}

// Complete reports whether the definition carries everything a watchable
// trigger needs. Incomplete definitions are discarded without error.
func (d Definition) Complete() bool {
	return d.Type.Valid() && d.Timeframe != "" && d.Level != 0 && d.Direction != ""
}

// Context is the H4 snapshot cached from the originating analysis and fed
// back into the re-analysis prompt when the trigger fires.
type Context struct {
	Trend     string    `json:"trend,omitempty"`
	TradeBias string    `json:"trade_bias,omitempty"`
	KeyLevels []float64 `json:"key_levels,omitempty"`
}

// Trigger is one persisted conditional watch.
type Trigger struct {
	ID        int64      `json:"id"`
	Symbol    string     `json:"symbol"`
	CreatedAt time.Time  `json:"created_at"`
	Definition Definition `json:"trigger"`
	Context   Context    `json:"context"`
	Playbook  string     `json:"playbook,omitempty"`
	SetupType string     `json:"setup_type,omitempty"`
	ExpiryAt  time.Time  `json:"expiry_ts"`
	Status    Status     `json:"status"`

	ConsumedAt *time.Time       `json:"consumed_at,omitempty"`
	Result     *signal.Decision `json:"result,omitempty"`
	FireReason string           `json:"fire_reason,omitempty"`
}

// Expired reports whether the trigger's expiry timestamp has passed.
func (t *Trigger) Expired(now time.Time) bool {
	return now.After(t.ExpiryAt)
}

const defaultExpiryBars = 8

// timeframeMinutes maps chart timeframe labels to bar length.
var timeframeMinutes = map[string]int{
	"M15": 15,
	"M30": 30,
	"H1":  60,
	"H4":  240,
}

// ExpiryTime converts the definition's bar-denominated expiry into an
// absolute timestamp. Unknown timeframes fall back to M15; a missing bar
// count falls back to 8 bars.
func (d Definition) ExpiryTime(from time.Time) time.Time {
	bars := d.ExpiryBars
	if bars <= 0 {
		bars = defaultExpiryBars
	}
	minutes, ok := timeframeMinutes[d.Timeframe]
	if !ok {
		minutes = 15
	}
	return from.Add(time.Duration(bars*minutes) * time.Minute)
}

// StatsEvent names a daily trigger counter.
type StatsEvent string

const (
	StatCreated   StatsEvent = "created"
	StatFired     StatsEvent = "fired"
	StatExpired   StatsEvent = "expired"
	StatConverted StatsEvent = "converted"
)

// DailyStats is one row of per-day trigger counters.
type DailyStats struct {
	Date      string `json:"date"`
	Created   int    `json:"created"`
	Fired     int    `json:"fired"`
	Expired   int    `json:"expired"`
	Converted int    `json:"converted"`
}
