package signal

import "math"

// PerformanceStats aggregates closed signals over a trailing window.
type PerformanceStats struct {
	PeriodDays   int     `json:"period_days"`
	TotalSignals int     `json:"total_signals"`
	Winners      int     `json:"winners"`
	Losers       int     `json:"losers"`
	Breakeven    int     `json:"breakeven"`
	WinRate      float64 `json:"win_rate"`

	AvgWinnerPips float64 `json:"avg_winner_pips"`
	AvgLoserPips  float64 `json:"avg_loser_pips"`
	TotalPips     float64 `json:"total_pips"`
	ProfitFactor  float64 `json:"profit_factor"`

	ConfidenceBreakdown ConfidenceBreakdown `json:"confidence_breakdown"`
	AvgDurationMinutes  float64             `json:"avg_duration_minutes"`
	BreakevenStats      BreakevenUsage      `json:"breakeven_stats"`

	// HypotheticalTotalPips treats still-running hypothetical legs as zero,
	// which understates running exposure. Kept for parity with the actual
	// totals this report has always shown.
	HypotheticalTotalPips float64 `json:"hypothetical_total_pips"`
}

// ConfidenceBreakdown counts closed signals per confidence grade.
type ConfidenceBreakdown struct {
	High              int     `json:"high"`
	Medium            int     `json:"medium"`
	Low               int     `json:"low"`
	HighConfWinRate   float64 `json:"high_confidence_win_rate"`
}

// BreakevenUsage summarizes how often the breakeven stop engaged.
type BreakevenUsage struct {
	SignalsWithBreakeven int     `json:"signals_with_breakeven"`
	UsageRate            float64 `json:"breakeven_usage_rate"`
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

// ComputePerformance aggregates a set of closed signals. Returns the zero
// value with TotalSignals == 0 when the set is empty.
func ComputePerformance(closed []*Signal, periodDays int) PerformanceStats {
	stats := PerformanceStats{PeriodDays: periodDays, TotalSignals: len(closed)}
	if len(closed) == 0 {
		return stats
	}

	var (
		winPips, lossPips   float64
		durationSum         float64
		durationCount       int
		highConf, highWins  int
	)

	for _, s := range closed {
		if s.Result == nil {
			continue
		}
		switch *s.Result {
		case ResultWin:
			stats.Winners++
			if s.PnlPips != nil {
				winPips += *s.PnlPips
			}
		case ResultLoss:
			stats.Losers++
			if s.PnlPips != nil {
				lossPips += *s.PnlPips
			}
		case ResultBreakeven:
			stats.Breakeven++
		}
		if s.PnlPips != nil {
			stats.TotalPips += *s.PnlPips
		}
		if s.HypotheticalPnlPips != nil {
			stats.HypotheticalTotalPips += *s.HypotheticalPnlPips
		}
		if s.DurationMinutes != nil {
			durationSum += float64(*s.DurationMinutes)
			durationCount++
		}
		switch s.Confidence {
		case ConfidenceHigh:
			highConf++
			if *s.Result == ResultWin {
				highWins++
			}
		case ConfidenceMedium:
			stats.ConfidenceBreakdown.Medium++
		case ConfidenceLow:
			stats.ConfidenceBreakdown.Low++
		}
		if s.BreakevenTriggered {
			stats.BreakevenStats.SignalsWithBreakeven++
		}
	}
	stats.ConfidenceBreakdown.High = highConf

	total := float64(stats.TotalSignals)
	stats.WinRate = round2(float64(stats.Winners) / total * 100)
	if stats.Winners > 0 {
		stats.AvgWinnerPips = round1(winPips / float64(stats.Winners))
	}
	if stats.Losers > 0 {
		stats.AvgLoserPips = round1(lossPips / float64(stats.Losers))
	}
	stats.TotalPips = round1(stats.TotalPips)
	stats.HypotheticalTotalPips = round1(stats.HypotheticalTotalPips)
	// Zero losses leaves the factor at 0; Inf does not survive JSON
	// encoding.
	if lossPips != 0 {
		stats.ProfitFactor = round2(winPips / math.Abs(lossPips))
	}
	if highConf > 0 {
		stats.ConfidenceBreakdown.HighConfWinRate = round2(float64(highWins) / float64(highConf) * 100)
	}
	if durationCount > 0 {
		stats.AvgDurationMinutes = round1(durationSum / float64(durationCount))
	}
	stats.BreakevenStats.UsageRate = round1(float64(stats.BreakevenStats.SignalsWithBreakeven) / total * 100)

	return stats
}

// BreakevenReport summarizes outcomes of signals that engaged breakeven.
type BreakevenReport struct {
	PeriodDays           int     `json:"period_days"`
	SignalsWithBreakeven int     `json:"signals_with_breakeven"`
	BreakevenExits       int     `json:"breakeven_exits"`
	WinsAfterBreakeven   int     `json:"wins_after_breakeven"`
	AvgWinPips           float64 `json:"avg_win_pips_after_breakeven"`
	SuccessRate          float64 `json:"breakeven_success_rate"`
}

// ComputeBreakevenReport aggregates closed signals that had their stop
// moved to breakeven.
func ComputeBreakevenReport(closed []*Signal, periodDays int) BreakevenReport {
	report := BreakevenReport{PeriodDays: periodDays}
	var winPips float64
	for _, s := range closed {
		if !s.BreakevenTriggered || s.Result == nil {
			continue
		}
		report.SignalsWithBreakeven++
		switch *s.Result {
		case ResultBreakeven:
			report.BreakevenExits++
		case ResultWin:
			report.WinsAfterBreakeven++
			if s.PnlPips != nil {
				winPips += *s.PnlPips
			}
		}
	}
	if report.WinsAfterBreakeven > 0 {
		report.AvgWinPips = round1(winPips / float64(report.WinsAfterBreakeven))
	}
	if report.SignalsWithBreakeven > 0 {
		report.SuccessRate = round1(float64(report.WinsAfterBreakeven) / float64(report.SignalsWithBreakeven) * 100)
	}
	return report
}
