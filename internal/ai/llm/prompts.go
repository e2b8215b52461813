package llm

import (
	"fmt"
	"strings"
	"time"

	"ai-trading-server/internal/triggers"
)

// systemPrompt frames every analysis call.
const systemPrompt = `You are a disciplined multi-timeframe forex analyst. You receive H4, H1 and M15 chart screenshots and decide BUY, SELL or WAIT. H4 sets directional bias, H1 locates the entry zone, M15 confirms the trigger. You never chase price: without an M15 trigger the answer is WAIT with a precise next_trigger to watch. Respond with a single JSON object and nothing else.`

// SystemPrompt returns the system prompt shared by full analysis and
// trigger re-analysis calls.
func SystemPrompt() string {
	return systemPrompt
}

// outputFormat is the JSON contract appended to every analysis prompt.
const outputFormat = `Respond with exactly this JSON structure:
{
  "h4_analysis": {"trend": "UPTREND|DOWNTREND|RANGING", "trade_bias": "LONG_ONLY|SHORT_ONLY|REVERSALS", "key_levels": [1.08500, 1.08200]},
  "decision": "BUY|SELL|WAIT",
  "next_trigger": {"type": "level_break|retest_hold|range_edge_reject|ema_retouch|none", "timeframe": "M15|H1", "level": 1.08350, "direction": "above|below|bullish|bearish", "confirm_bars": 1, "expiry_bars": 8, "description": "what to watch for"},
  "confluence_factors": ["..."],
  "risk_factors": ["..."],
  "confidence": "High|Medium|Low",
  "reasoning": "...",
  "market_structure": "...",
  "invalidation_criteria": "...",
  "playbook": "...",
  "entry": 1.08400,
  "sl": 1.08200,
  "tp": 1.08800,
  "risk_reward": "2.0:1"
}
Rules:
- confluence_factors and risk_factors MUST be arrays
- If decision is WAIT: set entry/sl/tp/risk_reward to null and provide next_trigger
- If decision is BUY/SELL: set next_trigger to null
- next_trigger.type is "none" only when the setup is fundamentally flawed
- next_trigger.level must be an exact price, not a range
- risk_reward format is "X.X:1"`

// MarketContext is what the model cannot read off a screenshot.
type MarketContext struct {
	Session   string `json:"session"`
	Liquidity string `json:"liquidity"`
	Timestamp string `json:"timestamp"`
}

// SessionContext maps the server-local hour onto a trading session.
func SessionContext(now time.Time) MarketContext {
	hour := now.Hour()
	var session, liquidity string
	switch {
	case hour < 7:
		session, liquidity = "ASIAN", "LOW"
	case hour < 13:
		session, liquidity = "LONDON", "HIGH"
	case hour < 17:
		session, liquidity = "OVERLAP", "VERY_HIGH"
	case hour < 21:
		session, liquidity = "NEW_YORK", "HIGH"
	default:
		session, liquidity = "CLOSING", "MEDIUM"
	}
	return MarketContext{
		Session:   session,
		Liquidity: liquidity,
		Timestamp: now.Format(time.RFC3339),
	}
}

// AnalysisPrompt builds the user prompt for a full multi-timeframe
// analysis. The chart images precede this text in the message.
func AnalysisPrompt(symbol string, price float64, mc MarketContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze %s across the attached H4, H1 and M15 charts.\n\n", symbol)
	fmt.Fprintf(&b, "Current price: %g\n", price)
	fmt.Fprintf(&b, "Session: %s (liquidity %s) at %s\n\n", mc.Session, mc.Liquidity, mc.Timestamp)
	b.WriteString("Work top-down: H4 trend and bias first, then the H1 entry zone, then the M15 trigger. ")
	b.WriteString("Only issue BUY or SELL when all three align; otherwise WAIT and describe the exact condition to watch.\n\n")
	b.WriteString(outputFormat)
	return b.String()
}

// ReAnalysisPrompt builds the reduced prompt used when a pending trigger
// fires. The cached H4 context substitutes for the full chart set; only
// the M15 chart is re-examined.
func ReAnalysisPrompt(t *triggers.Trigger, price float64, fireReason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A previously planned condition on %s just occurred: %s\n", t.Symbol, fireReason)
	fmt.Fprintf(&b, "Planned watch: %s %s at %g on %s", t.Definition.Type, t.Definition.Direction, t.Definition.Level, t.Definition.Timeframe)
	if t.Definition.Description != "" {
		fmt.Fprintf(&b, " (%s)", t.Definition.Description)
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Cached H4 context from the original analysis:\n")
	fmt.Fprintf(&b, "- Trend: %s\n", orUnknown(t.Context.Trend))
	fmt.Fprintf(&b, "- Trade bias: %s\n", orUnknown(t.Context.TradeBias))
	if len(t.Context.KeyLevels) > 0 {
		fmt.Fprintf(&b, "- Key levels: %v\n", t.Context.KeyLevels)
	}
	if t.Playbook != "" && t.Playbook != "unknown" {
		fmt.Fprintf(&b, "- Playbook: %s\n", t.Playbook)
	}

	fmt.Fprintf(&b, "\nCurrent price: %g\n\n", price)
	b.WriteString("Using the attached fresh M15 chart and the cached H4 context, decide whether the planned entry is now valid. ")
	b.WriteString("Confirm the trigger condition actually completed; a mere touch of the level is not confirmation.\n\n")
	b.WriteString(outputFormat)
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
