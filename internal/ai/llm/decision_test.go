package llm

import (
	"strings"
	"testing"
	"time"

	"ai-trading-server/internal/signal"
	"ai-trading-server/internal/triggers"
)

const buyResponse = `{
  "h4_analysis": {"trend": "UPTREND", "trade_bias": "LONG_ONLY", "key_levels": ["1.08500", 1.08200]},
  "decision": "BUY",
  "next_trigger": null,
  "confluence_factors": ["H4 uptrend", "H1 pullback complete"],
  "risk_factors": ["Asian session"],
  "confidence": "High",
  "reasoning": "All three timeframes aligned.",
  "entry": 1.0840,
  "sl": 1.0820,
  "tp": 1.0880,
  "risk_reward": "2.0:1"
}`

func TestParseDecisionBuy(t *testing.T) {
	d, err := ParseDecision(buyResponse)
	if err != nil {
		t.Fatalf("ParseDecision: %v", err)
	}
	if d.Decision != signal.DecisionBuy {
		t.Errorf("decision = %s, want BUY", d.Decision)
	}
	if d.Confidence != signal.ConfidenceHigh {
		t.Errorf("confidence = %s, want High", d.Confidence)
	}
	if d.Entry == nil || *d.Entry != 1.0840 {
		t.Errorf("entry = %v, want 1.0840", d.Entry)
	}
	if d.RiskReward != "2.0:1" {
		t.Errorf("risk_reward = %q", d.RiskReward)
	}
	if len(d.ConfluenceFactors) != 2 || len(d.RiskFactors) != 1 {
		t.Errorf("factors not parsed: %v / %v", d.ConfluenceFactors, d.RiskFactors)
	}
	if d.H4Context.Trend != "UPTREND" {
		t.Errorf("h4 trend = %q", d.H4Context.Trend)
	}
	// String-quoted key levels coerce to floats.
	if len(d.H4Context.KeyLevels) != 2 || d.H4Context.KeyLevels[0] != 1.085 {
		t.Errorf("key levels = %v", d.H4Context.KeyLevels)
	}
}

func TestParseDecisionStripsMarkdownFence(t *testing.T) {
	fenced := "Here is my analysis:\n```json\n" + buyResponse + "\n```"
	d, err := ParseDecision(fenced)
	if err != nil {
		t.Fatalf("ParseDecision: %v", err)
	}
	if d.Decision != signal.DecisionBuy {
		t.Errorf("decision = %s, want BUY", d.Decision)
	}
}

func TestParseDecisionWaitWithTrigger(t *testing.T) {
	resp := `{
	  "decision": "WAIT",
	  "confidence": "Medium",
	  "reasoning": "No M15 trigger yet.",
	  "entry": null, "sl": null, "tp": null, "risk_reward": null,
	  "next_trigger": {"type": "retest_hold", "timeframe": "M15", "level": 1.0835, "direction": "bullish", "confirm_bars": 1, "expiry_bars": 8, "description": "retest and hold 1.0835"}
	}`
	d, err := ParseDecision(resp)
	if err != nil {
		t.Fatalf("ParseDecision: %v", err)
	}
	if d.Decision != signal.DecisionWait {
		t.Errorf("decision = %s, want WAIT", d.Decision)
	}
	if d.NextTrigger == nil {
		t.Fatal("next trigger not parsed")
	}
	if d.NextTrigger.Type != triggers.TypeRetestHold || d.NextTrigger.Level != 1.0835 {
		t.Errorf("trigger = %+v", d.NextTrigger)
	}
	if !d.NextTrigger.Complete() {
		t.Error("trigger should be complete and watchable")
	}
}

func TestParseDecisionDemotesIncompleteTrade(t *testing.T) {
	resp := `{
	  "decision": "SELL",
	  "confidence": "High",
	  "reasoning": "Strong rejection.",
	  "entry": 1.0850,
	  "sl": 1.0870
	}`
	d, err := ParseDecision(resp)
	if err != nil {
		t.Fatalf("ParseDecision: %v", err)
	}
	if d.Decision != signal.DecisionWait {
		t.Errorf("decision = %s, want WAIT after demotion", d.Decision)
	}
	if !strings.Contains(d.Reasoning, "Converted to WAIT: missing tp") {
		t.Errorf("reasoning not annotated: %q", d.Reasoning)
	}
}

func TestParseDecisionCoercesDictFactors(t *testing.T) {
	resp := `{
	  "decision": "WAIT",
	  "confidence": "Low",
	  "reasoning": "Mixed signals.",
	  "confluence_factors": {"a": "H4 uptrend", "b": "H1 support"},
	  "risk_factors": ["news soon"]
	}`
	d, err := ParseDecision(resp)
	if err != nil {
		t.Fatalf("ParseDecision: %v", err)
	}
	if len(d.ConfluenceFactors) != 2 {
		t.Errorf("dict factors not coerced: %v", d.ConfluenceFactors)
	}
}

func TestParseDecisionRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		resp string
	}{
		{"no decision", `{"confidence": "High", "reasoning": "x"}`},
		{"no reasoning", `{"decision": "WAIT", "confidence": "High"}`},
		{"no confidence", `{"decision": "WAIT", "reasoning": "x"}`},
		{"invalid decision", `{"decision": "HOLD", "confidence": "High", "reasoning": "x"}`},
		{"not json", `the chart looks bullish`},
	}
	for _, c := range cases {
		if _, err := ParseDecision(c.resp); err == nil {
			t.Errorf("%s: expected error", c.name)
		}
	}
}

func TestStripMarkdownCodeBlock(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
		{"prefix\n```json\n{\"a\":1}\n```\nsuffix", `{"a":1}`},
	}
	for _, c := range cases {
		if got := StripMarkdownCodeBlock(c.in); got != c.want {
			t.Errorf("StripMarkdownCodeBlock(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSessionContext(t *testing.T) {
	cases := []struct {
		hour    int
		session string
	}{
		{3, "ASIAN"}, {8, "LONDON"}, {14, "OVERLAP"}, {18, "NEW_YORK"}, {22, "CLOSING"},
	}
	for _, c := range cases {
		ts := time.Date(2026, 3, 2, c.hour, 0, 0, 0, time.UTC)
		if mc := SessionContext(ts); mc.Session != c.session {
			t.Errorf("hour %d: session = %s, want %s", c.hour, mc.Session, c.session)
		}
	}
}
