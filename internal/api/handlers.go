package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ai-trading-server/internal/admission"
	"ai-trading-server/internal/ai/llm"
	"ai-trading-server/internal/analysis"
	"ai-trading-server/internal/database"
	"ai-trading-server/internal/signal"
)

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// intQuery parses a positive integer query parameter with a default.
func intQuery(c *gin.Context, name string, def int) int {
	if v := c.Query(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

// ============================================================================
// ANALYSIS
// ============================================================================

type analyzeRequest struct {
	Symbol        string                 `json:"symbol"`
	H4Screenshot  string                 `json:"h4_screenshot"`
	H1Screenshot  string                 `json:"h1_screenshot"`
	M15Screenshot string                 `json:"m15_screenshot"`
	Indicators    map[string]interface{} `json:"indicators"`
}

// handleAnalyze runs one multi-timeframe analysis. The request carries
// server-local paths to the three chart screenshots the capture side
// already wrote.
func (s *Server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Symbol == "" {
		errorResponse(c, http.StatusBadRequest, "Symbol required")
		return
	}
	if req.H4Screenshot == "" || req.H1Screenshot == "" || req.M15Screenshot == "" {
		errorResponse(c, http.StatusBadRequest, "Missing screenshot paths")
		return
	}

	charts := make([]llm.ChartImage, 0, 3)
	for _, chart := range []struct {
		timeframe, path string
	}{
		{"H4", req.H4Screenshot},
		{"H1", req.H1Screenshot},
		{"M15", req.M15Screenshot},
	} {
		img, err := loadChart(chart.timeframe, chart.path)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "Unreadable screenshot: "+chart.path)
			return
		}
		charts = append(charts, img)
	}

	result, err := s.runner.Analyze(c.Request.Context(), analysis.Request{
		Symbol:         req.Symbol,
		Charts:         charts,
		ScreenshotPath: req.M15Screenshot,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", req.Symbol).Msg("analysis failed")
		errorResponse(c, http.StatusInternalServerError, "Analysis failed")
		return
	}

	if !result.Verdict.Admitted {
		s.rejectAnalysis(c, result.Verdict)
		return
	}

	resp := gin.H{
		"trace_id":           result.TraceID,
		"symbol":             req.Symbol,
		"decision":           result.Decision.Decision,
		"confidence":         result.Decision.Confidence,
		"reasoning":          result.Decision.Reasoning,
		"confluence_factors": result.Decision.ConfluenceFactors,
		"risk_factors":       result.Decision.RiskFactors,
	}
	if result.Signal != nil {
		resp["signal_id"] = result.Signal.ID
		resp["entry"] = result.Signal.Entry
		resp["sl"] = result.Signal.OriginalStop
		resp["tp"] = result.Signal.Target
		resp["risk_reward"] = result.Signal.RiskReward
	}
	if result.Trigger != nil {
		resp["trigger_id"] = result.Trigger.ID
		resp["next_trigger"] = result.Trigger.Definition
		resp["trigger_expires"] = result.Trigger.ExpiryAt
	}
	c.JSON(http.StatusOK, resp)
}

// rejectAnalysis renders an admission verdict. Rejections always force
// WAIT so the capture side never acts on them.
func (s *Server) rejectAnalysis(c *gin.Context, v admission.Verdict) {
	resp := gin.H{
		"decision": signal.DecisionWait,
		"reason":   v.Reason,
	}
	switch v.Reason {
	case admission.ReasonActiveSignal:
		resp["error"] = "Symbol already has active signal"
		if v.Existing != nil {
			resp["active_signal"] = gin.H{
				"id":          v.Existing.ID,
				"decision":    v.Existing.Decision,
				"entry":       v.Existing.Entry,
				"stop_loss":   v.Existing.CurrentStop,
				"take_profit": v.Existing.Target,
			}
		}
	case admission.ReasonCooldown:
		resp["error"] = "Symbol in cooldown period"
		resp["retry_after_minutes"] = v.RemainingMinutes
	case admission.ReasonDailyLimit:
		resp["error"] = "Daily analysis limit reached"
	case admission.ReasonRiskyTrades:
		resp["error"] = "Too many risky active trades"
	default:
		resp["error"] = v.Detail
	}
	c.JSON(v.Status, resp)
}

func loadChart(timeframe, path string) (llm.ChartImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return llm.ChartImage{}, err
	}
	mediaType := "image/png"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		mediaType = "image/jpeg"
	}
	return llm.ChartImage{Timeframe: timeframe, MediaType: mediaType, Data: data}, nil
}

// ============================================================================
// SIGNALS
// ============================================================================

func (s *Server) handleListSignals(c *gin.Context) {
	days := intQuery(c, "days", 30)
	filter := database.SignalFilter{
		Since:    time.Now().AddDate(0, 0, -days),
		Status:   c.Query("status"),
		Decision: c.Query("decision"),
		Symbol:   c.Query("symbol"),
		Limit:    intQuery(c, "limit", 50),
	}

	signals, err := s.repo.ListSignals(c.Request.Context(), filter)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch signals")
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(signals), "signals": signals})
}

func (s *Server) handleGetSignal(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid signal ID")
		return
	}

	sig, err := s.repo.GetSignal(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		errorResponse(c, http.StatusNotFound, "Signal not found")
		return
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch signal")
		return
	}
	c.JSON(http.StatusOK, sig)
}

func (s *Server) handleGetModifications(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid signal ID")
		return
	}

	sig, err := s.repo.GetSignal(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		errorResponse(c, http.StatusNotFound, "Signal not found")
		return
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch signal")
		return
	}

	mods := sig.StopModifications
	if mods == nil {
		mods = []signal.StopModification{}
	}
	c.JSON(http.StatusOK, gin.H{
		"signal_id":           sig.ID,
		"symbol":              sig.Symbol,
		"breakeven_triggered": sig.BreakevenTriggered,
		"original_stop_loss":  sig.OriginalStop,
		"current_stop_loss":   sig.CurrentStop,
		"modifications":       mods,
	})
}

type closeRequest struct {
	Result    string   `json:"result"`
	ExitPrice *float64 `json:"exit_price"`
	Notes     string   `json:"notes"`
}

// handleCloseSignal closes a signal manually. No hypothetical leg is
// simulated for manual closes.
func (s *Server) handleCloseSignal(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid signal ID")
		return
	}

	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	result := signal.Result(req.Result)
	if !result.Valid() || req.ExitPrice == nil {
		errorResponse(c, http.StatusBadRequest, "Result and exit_price required")
		return
	}

	ctx := c.Request.Context()
	sig, err := s.repo.GetSignal(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		errorResponse(c, http.StatusNotFound, "Signal not found")
		return
	}
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch signal")
		return
	}

	now := time.Now()
	pnl := signal.Pips(sig.Entry, *req.ExitPrice, sig.Symbol, sig.Decision)
	closure := signal.Closure{
		Result:          result,
		ExitPrice:       *req.ExitPrice,
		ExitTimestamp:   now,
		PnlPips:         pnl,
		DurationMinutes: int(now.Sub(sig.CreatedAt).Minutes()),
		Impact:          signal.ClassifyImpact(result, nil, pnl, 0, sig.BreakevenTriggered),
		Notes:           req.Notes,
	}

	applied, err := s.repo.CloseSignal(ctx, id, closure)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to close signal")
		return
	}
	if !applied {
		errorResponse(c, http.StatusConflict, "Signal is not active")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Signal closed successfully",
		"signal_id": id,
		"result":    result,
		"pnl_pips":  pnl,
	})
}

func (s *Server) handleActiveSignals(c *gin.Context) {
	signals, err := s.repo.GetActiveSignals(c.Request.Context(), c.Query("symbol"))
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch active signals")
		return
	}
	now := time.Now()
	items := make([]gin.H, 0, len(signals))
	for _, sig := range signals {
		items = append(items, gin.H{
			"id":                  sig.ID,
			"symbol":              sig.Symbol,
			"decision":            sig.Decision,
			"entry":               sig.Entry,
			"current_stop_loss":   sig.CurrentStop,
			"take_profit":         sig.Target,
			"breakeven_triggered": sig.BreakevenTriggered,
			"age_minutes":         int(sig.Age(now).Minutes()),
		})
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "active_signals": items})
}

// ============================================================================
// PERFORMANCE
// ============================================================================

func (s *Server) handlePerformance(c *gin.Context) {
	days := intQuery(c, "days", 30)
	closed, err := s.repo.ClosedSignalsSince(c.Request.Context(), time.Now().AddDate(0, 0, -days))
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to compute performance")
		return
	}
	c.JSON(http.StatusOK, signal.ComputePerformance(closed, days))
}

func (s *Server) handleBreakevenStats(c *gin.Context) {
	days := intQuery(c, "days", 30)
	closed, err := s.repo.ClosedSignalsSince(c.Request.Context(), time.Now().AddDate(0, 0, -days))
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to compute breakeven stats")
		return
	}
	c.JSON(http.StatusOK, signal.ComputeBreakevenReport(closed, days))
}

// ============================================================================
// TRIGGERS
// ============================================================================

func (s *Server) handleTriggersSummary(c *gin.Context) {
	ctx := c.Request.Context()

	today, err := s.repo.TriggerStatsToday(ctx)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch trigger stats")
		return
	}
	counts, err := s.repo.TriggerStatusCounts(ctx)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch trigger counts")
		return
	}
	conversion, err := s.repo.TriggerConversionRate(ctx)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch conversion rate")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"today":               today,
		"status_counts":       counts,
		"conversion_rate_pct": conversion,
	})
}

func (s *Server) handleTriggersPending(c *gin.Context) {
	pending, err := s.repo.PendingTriggers(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch pending triggers")
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(pending), "triggers": pending})
}

// ============================================================================
// STATUS
// ============================================================================

func (s *Server) handleTokenUsage(c *gin.Context) {
	c.JSON(http.StatusOK, s.stats.Snapshot())
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()

	dbStatus := "ok"
	if err := s.repo.HealthCheck(ctx); err != nil {
		dbStatus = "unavailable"
	}
	active, total, breakeven, err := s.repo.SignalCounts(ctx)
	if err != nil {
		active, total, breakeven = 0, 0, 0
	}

	snap := s.stats.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":    "running",
		"timestamp": time.Now().Format(time.RFC3339),
		"ai_model":  s.config.Model,
		"database":  dbStatus,
		"signal_tracking": gin.H{
			"active_signals":    active,
			"total_signals":     total,
			"breakeven_signals": breakeven,
		},
		"token_usage": gin.H{
			"session_total":  snap.TotalTokens,
			"total_requests": snap.Analyses,
		},
	})
}

func (s *Server) handleIndex(c *gin.Context) {
	uptime := time.Since(s.startedAt)
	c.JSON(http.StatusOK, gin.H{
		"service": "ai-trading-server",
		"status":  "running",
		"uptime":  uptime.Round(time.Second).String(),
		"endpoints": []string{
			"POST /analyze_multi_timeframe",
			"GET /signals",
			"GET /signal/:id",
			"GET /signal/:id/modifications",
			"POST /signal/:id/close",
			"GET /active_signals",
			"GET /performance",
			"GET /breakeven_stats",
			"GET /triggers_summary",
			"GET /triggers_pending",
			"GET /token_usage",
			"GET /health",
		},
	})
}
