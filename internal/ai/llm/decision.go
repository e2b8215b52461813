package llm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"ai-trading-server/internal/signal"
	"ai-trading-server/internal/triggers"
)

// DecisionResponse is the validated, normalized trade decision extracted
// from a model reply.
type DecisionResponse struct {
	Decision   signal.Decision
	Confidence signal.Confidence
	Reasoning  string

	Entry      *float64
	StopLoss   *float64
	TakeProfit *float64
	RiskReward string

	ConfluenceFactors    []string
	RiskFactors          []string
	MarketStructure      string
	InvalidationCriteria string

	NextTrigger *triggers.Definition
	H4Context   triggers.Context
	Playbook    string
}

// rawDecision mirrors the model's JSON loosely; normalization happens in
// ParseDecision.
type rawDecision struct {
	Decision   string `json:"decision"`
	Confidence string `json:"confidence"`
	Reasoning  string `json:"reasoning"`

	Entry      *flexFloat `json:"entry"`
	StopLoss   *flexFloat `json:"sl"`
	TakeProfit *flexFloat `json:"tp"`
	RiskReward *string    `json:"risk_reward"`

	ConfluenceFactors json.RawMessage `json:"confluence_factors"`
	RiskFactors       json.RawMessage `json:"risk_factors"`

	MarketStructure      string `json:"market_structure"`
	InvalidationCriteria string `json:"invalidation_criteria"`
	Playbook             string `json:"playbook"`

	NextTrigger *rawTrigger `json:"next_trigger"`
	H4Analysis  *struct {
		Trend     string          `json:"trend"`
		TradeBias string          `json:"trade_bias"`
		KeyLevels json.RawMessage `json:"key_levels"`
	} `json:"h4_analysis"`
}

type rawTrigger struct {
	Type        string     `json:"type"`
	Timeframe   string     `json:"timeframe"`
	Level       *flexFloat `json:"level"`
	Direction   string     `json:"direction"`
	ConfirmBars int        `json:"confirm_bars"`
	ExpiryBars  int        `json:"expiry_bars"`
	Description string     `json:"description"`
}

// flexFloat accepts JSON numbers and numeric strings. Models sometimes
// quote prices.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", s)
	}
	*f = flexFloat(v)
	return nil
}

// StripMarkdownCodeBlock removes a ```json fence wrapping the payload.
func StripMarkdownCodeBlock(text string) string {
	cleaned := strings.TrimSpace(text)
	if idx := strings.Index(cleaned, "```json"); idx >= 0 {
		cleaned = cleaned[idx+len("```json"):]
		if end := strings.Index(cleaned, "```"); end >= 0 {
			cleaned = cleaned[:end]
		}
	} else if idx := strings.Index(cleaned, "```"); idx >= 0 {
		cleaned = cleaned[idx+len("```"):]
		if end := strings.Index(cleaned, "```"); end >= 0 {
			cleaned = cleaned[:end]
		}
	}
	return strings.TrimSpace(cleaned)
}

// ParseDecision validates and normalizes a model reply. Required fields
// are decision, reasoning and confidence; an unknown decision value is an
// error. A BUY/SELL missing any trade field is demoted to WAIT rather
// than rejected.
func ParseDecision(text string) (*DecisionResponse, error) {
	cleaned := StripMarkdownCodeBlock(text)

	var raw rawDecision
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("decode decision JSON: %w", err)
	}

	if raw.Decision == "" {
		return nil, fmt.Errorf("missing required field: decision")
	}
	if raw.Reasoning == "" {
		return nil, fmt.Errorf("missing required field: reasoning")
	}
	if raw.Confidence == "" {
		return nil, fmt.Errorf("missing required field: confidence")
	}

	decision := signal.Decision(strings.ToUpper(raw.Decision))
	if !decision.Valid() {
		return nil, fmt.Errorf("invalid decision: %s", raw.Decision)
	}

	out := &DecisionResponse{
		Decision:             decision,
		Confidence:           signal.Confidence(raw.Confidence),
		Reasoning:            raw.Reasoning,
		ConfluenceFactors:    coerceStringList(raw.ConfluenceFactors),
		RiskFactors:          coerceStringList(raw.RiskFactors),
		MarketStructure:      raw.MarketStructure,
		InvalidationCriteria: raw.InvalidationCriteria,
		Playbook:             raw.Playbook,
	}
	if out.Playbook == "" {
		out.Playbook = "unknown"
	}

	if raw.Entry != nil {
		v := float64(*raw.Entry)
		out.Entry = &v
	}
	if raw.StopLoss != nil {
		v := float64(*raw.StopLoss)
		out.StopLoss = &v
	}
	if raw.TakeProfit != nil {
		v := float64(*raw.TakeProfit)
		out.TakeProfit = &v
	}
	if raw.RiskReward != nil {
		out.RiskReward = *raw.RiskReward
	}

	if decision.Actionable() {
		if missing := missingTradeField(out); missing != "" {
			out.Decision = signal.DecisionWait
			out.Reasoning += fmt.Sprintf(" [Converted to WAIT: missing %s]", missing)
		}
	}

	if raw.NextTrigger != nil {
		def := triggers.Definition{
			Type:             triggers.Type(raw.NextTrigger.Type),
			Timeframe:        raw.NextTrigger.Timeframe,
			Direction:        triggers.Direction(raw.NextTrigger.Direction),
			ConfirmationBars: raw.NextTrigger.ConfirmBars,
			ExpiryBars:       raw.NextTrigger.ExpiryBars,
			Description:      raw.NextTrigger.Description,
		}
		if raw.NextTrigger.Level != nil {
			def.Level = float64(*raw.NextTrigger.Level)
		}
		if def.Timeframe == "" {
			def.Timeframe = "M15"
		}
		out.NextTrigger = &def
	}

	if raw.H4Analysis != nil {
		out.H4Context = triggers.Context{
			Trend:     raw.H4Analysis.Trend,
			TradeBias: raw.H4Analysis.TradeBias,
			KeyLevels: coerceFloatList(raw.H4Analysis.KeyLevels),
		}
	}

	return out, nil
}

func missingTradeField(d *DecisionResponse) string {
	switch {
	case d.Entry == nil:
		return "entry"
	case d.StopLoss == nil:
		return "sl"
	case d.TakeProfit == nil:
		return "tp"
	case d.RiskReward == "":
		return "risk_reward"
	}
	return ""
}

// coerceStringList accepts an array of strings, or an object whose values
// are taken in place of the array the model should have produced.
func coerceStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var arr []interface{}
	if err := json.Unmarshal(raw, &arr); err == nil {
		return stringify(arr)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		vals := make([]interface{}, 0, len(obj))
		for _, v := range obj {
			vals = append(vals, v)
		}
		return stringify(vals)
	}
	return nil
}

func stringify(vals []interface{}) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		switch s := v.(type) {
		case string:
			out = append(out, s)
		default:
			out = append(out, fmt.Sprintf("%v", v))
		}
	}
	return out
}

// coerceFloatList accepts numbers or numeric strings.
func coerceFloatList(raw json.RawMessage) []float64 {
	if len(raw) == 0 {
		return nil
	}
	var arr []interface{}
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil
	}
	var out []float64
	for _, v := range arr {
		switch n := v.(type) {
		case float64:
			out = append(out, n)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				out = append(out, f)
			}
		}
	}
	return out
}
