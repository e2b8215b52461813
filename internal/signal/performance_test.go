package signal

import (
	"encoding/json"
	"testing"
)

func closedSignal(result Result, conf Confidence, pips float64, breakeven bool) *Signal {
	r := result
	p := pips
	return &Signal{
		Symbol:             "EURUSD",
		Decision:           DecisionBuy,
		Confidence:         conf,
		Status:             StatusClosed,
		Result:             &r,
		PnlPips:            &p,
		BreakevenTriggered: breakeven,
	}
}

func TestComputePerformanceEmpty(t *testing.T) {
	stats := ComputePerformance(nil, 30)
	if stats.TotalSignals != 0 {
		t.Fatalf("TotalSignals = %d, want 0", stats.TotalSignals)
	}
	if stats.PeriodDays != 30 {
		t.Errorf("PeriodDays = %d, want 30", stats.PeriodDays)
	}
	if stats.WinRate != 0 || stats.ProfitFactor != 0 {
		t.Errorf("empty set should produce zero rates, got win_rate=%v pf=%v", stats.WinRate, stats.ProfitFactor)
	}
}

func TestComputePerformanceAggregates(t *testing.T) {
	closed := []*Signal{
		closedSignal(ResultWin, ConfidenceHigh, 50, false),
		closedSignal(ResultWin, ConfidenceHigh, 30, true),
		closedSignal(ResultLoss, ConfidenceMedium, -20, false),
		closedSignal(ResultBreakeven, ConfidenceLow, 0, true),
	}
	dur := 90
	closed[0].DurationMinutes = &dur

	stats := ComputePerformance(closed, 30)

	if stats.TotalSignals != 4 || stats.Winners != 2 || stats.Losers != 1 || stats.Breakeven != 1 {
		t.Fatalf("counts = %d/%d/%d/%d, want 4/2/1/1",
			stats.TotalSignals, stats.Winners, stats.Losers, stats.Breakeven)
	}
	if stats.WinRate != 50 {
		t.Errorf("WinRate = %v, want 50", stats.WinRate)
	}
	if stats.AvgWinnerPips != 40 {
		t.Errorf("AvgWinnerPips = %v, want 40", stats.AvgWinnerPips)
	}
	if stats.AvgLoserPips != -20 {
		t.Errorf("AvgLoserPips = %v, want -20", stats.AvgLoserPips)
	}
	if stats.TotalPips != 60 {
		t.Errorf("TotalPips = %v, want 60", stats.TotalPips)
	}
	if stats.ProfitFactor != 4 {
		t.Errorf("ProfitFactor = %v, want 4", stats.ProfitFactor)
	}
	if stats.ConfidenceBreakdown.High != 2 || stats.ConfidenceBreakdown.Medium != 1 || stats.ConfidenceBreakdown.Low != 1 {
		t.Errorf("confidence breakdown = %+v", stats.ConfidenceBreakdown)
	}
	if stats.ConfidenceBreakdown.HighConfWinRate != 100 {
		t.Errorf("HighConfWinRate = %v, want 100", stats.ConfidenceBreakdown.HighConfWinRate)
	}
	if stats.AvgDurationMinutes != 90 {
		t.Errorf("AvgDurationMinutes = %v, want 90", stats.AvgDurationMinutes)
	}
	if stats.BreakevenStats.SignalsWithBreakeven != 2 {
		t.Errorf("SignalsWithBreakeven = %d, want 2", stats.BreakevenStats.SignalsWithBreakeven)
	}
	if stats.BreakevenStats.UsageRate != 50 {
		t.Errorf("UsageRate = %v, want 50", stats.BreakevenStats.UsageRate)
	}
}

func TestComputePerformanceNoLosses(t *testing.T) {
	closed := []*Signal{
		closedSignal(ResultWin, ConfidenceMedium, 25, false),
	}
	stats := ComputePerformance(closed, 7)
	if stats.ProfitFactor != 0 {
		t.Errorf("ProfitFactor = %v, want 0", stats.ProfitFactor)
	}
	if _, err := json.Marshal(stats); err != nil {
		t.Errorf("stats should always encode: %v", err)
	}
}

func TestComputePerformanceHypotheticalTotals(t *testing.T) {
	s := closedSignal(ResultBreakeven, ConfidenceHigh, 0, true)
	hyp := -35.0
	s.HypotheticalPnlPips = &hyp
	running := closedSignal(ResultWin, ConfidenceHigh, 40, true)
	// still-running hypothetical leg: counted as zero

	stats := ComputePerformance([]*Signal{s, running}, 30)
	if stats.HypotheticalTotalPips != -35 {
		t.Errorf("HypotheticalTotalPips = %v, want -35", stats.HypotheticalTotalPips)
	}
	if stats.TotalPips != 40 {
		t.Errorf("TotalPips = %v, want 40", stats.TotalPips)
	}
}

func TestComputePerformanceSkipsOpenResults(t *testing.T) {
	open := &Signal{Symbol: "EURUSD", Decision: DecisionBuy, Confidence: ConfidenceHigh, Status: StatusActive}
	stats := ComputePerformance([]*Signal{open}, 30)
	if stats.Winners != 0 || stats.Losers != 0 || stats.Breakeven != 0 {
		t.Errorf("nil-result signal should not count toward outcomes: %+v", stats)
	}
	if stats.TotalSignals != 1 {
		t.Errorf("TotalSignals = %d, want 1", stats.TotalSignals)
	}
}

func TestComputeBreakevenReport(t *testing.T) {
	closed := []*Signal{
		closedSignal(ResultBreakeven, ConfidenceHigh, 0, true),
		closedSignal(ResultWin, ConfidenceHigh, 60, true),
		closedSignal(ResultWin, ConfidenceMedium, 20, true),
		closedSignal(ResultWin, ConfidenceLow, 45, false),
		closedSignal(ResultLoss, ConfidenceLow, -30, false),
	}

	report := ComputeBreakevenReport(closed, 30)
	if report.SignalsWithBreakeven != 3 {
		t.Fatalf("SignalsWithBreakeven = %d, want 3", report.SignalsWithBreakeven)
	}
	if report.BreakevenExits != 1 {
		t.Errorf("BreakevenExits = %d, want 1", report.BreakevenExits)
	}
	if report.WinsAfterBreakeven != 2 {
		t.Errorf("WinsAfterBreakeven = %d, want 2", report.WinsAfterBreakeven)
	}
	if report.AvgWinPips != 40 {
		t.Errorf("AvgWinPips = %v, want 40", report.AvgWinPips)
	}
	if report.SuccessRate != 66.7 {
		t.Errorf("SuccessRate = %v, want 66.7", report.SuccessRate)
	}
}

func TestComputeBreakevenReportEmpty(t *testing.T) {
	report := ComputeBreakevenReport(nil, 14)
	if report.SignalsWithBreakeven != 0 || report.SuccessRate != 0 {
		t.Errorf("empty report should be zero: %+v", report)
	}
	if report.PeriodDays != 14 {
		t.Errorf("PeriodDays = %d, want 14", report.PeriodDays)
	}
}
