package analysis

import (
	"sync"
	"time"

	"ai-trading-server/internal/ai/llm"
	"ai-trading-server/internal/signal"
)

// SessionStats accumulates per-process counters since startup. All methods
// are safe for concurrent use.
type SessionStats struct {
	mu sync.Mutex

	startedAt time.Time

	analyses  int
	buys      int
	sells     int
	waits     int
	errors    int
	reruns    int

	inputTokens  int
	outputTokens int
}

// NewSessionStats creates a zeroed stats accumulator.
func NewSessionStats() *SessionStats {
	return &SessionStats{startedAt: time.Now()}
}

// RecordDecision counts one completed analysis.
func (s *SessionStats) RecordDecision(d signal.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses++
	switch d {
	case signal.DecisionBuy:
		s.buys++
	case signal.DecisionSell:
		s.sells++
	case signal.DecisionWait:
		s.waits++
	}
}

// RecordError counts one failed analysis.
func (s *SessionStats) RecordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses++
	s.errors++
}

// RecordReAnalysis counts one trigger-driven re-analysis.
func (s *SessionStats) RecordReAnalysis() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reruns++
}

// RecordUsage adds one API call's token consumption.
func (s *SessionStats) RecordUsage(u llm.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputTokens += u.InputTokens
	s.outputTokens += u.OutputTokens
}

// Claude Sonnet pricing per million tokens, used for the running estimate
// the token_usage endpoint reports.
const (
	inputCostPerMillion  = 3.00
	outputCostPerMillion = 15.00
)

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	StartedAt        time.Time `json:"session_start"`
	Analyses         int       `json:"total_analyses"`
	Buys             int       `json:"buy_decisions"`
	Sells            int       `json:"sell_decisions"`
	Waits            int       `json:"wait_decisions"`
	Errors           int       `json:"errors"`
	ReAnalyses       int       `json:"trigger_reanalyses"`
	InputTokens      int       `json:"input_tokens"`
	OutputTokens     int       `json:"output_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
}

// Snapshot returns a consistent copy of all counters.
func (s *SessionStats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	cost := float64(s.inputTokens)/1_000_000*inputCostPerMillion +
		float64(s.outputTokens)/1_000_000*outputCostPerMillion
	return Snapshot{
		StartedAt:        s.startedAt,
		Analyses:         s.analyses,
		Buys:             s.buys,
		Sells:            s.sells,
		Waits:            s.waits,
		Errors:           s.errors,
		ReAnalyses:       s.reruns,
		InputTokens:      s.inputTokens,
		OutputTokens:     s.outputTokens,
		TotalTokens:      s.inputTokens + s.outputTokens,
		EstimatedCostUSD: cost,
	}
}
