package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-trading-server/internal/admission"
	"ai-trading-server/internal/ai/llm"
	"ai-trading-server/internal/analysis"
	"ai-trading-server/internal/database"
	"ai-trading-server/internal/signal"
	"ai-trading-server/internal/triggers"
)

// ============================================================
// Fakes
// ============================================================

type fakeRepo struct {
	signals  map[int64]*signal.Signal
	pending  []*triggers.Trigger
	closed   []*signal.Signal
	closeOK  bool
	healthOK bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		signals:  make(map[int64]*signal.Signal),
		closeOK:  true,
		healthOK: true,
	}
}

func (r *fakeRepo) HealthCheck(ctx context.Context) error {
	if !r.healthOK {
		return context.DeadlineExceeded
	}
	return nil
}

func (r *fakeRepo) ListSignals(ctx context.Context, f database.SignalFilter) ([]*signal.Signal, error) {
	var out []*signal.Signal
	for _, s := range r.signals {
		out = append(out, s)
	}
	return out, nil
}

func (r *fakeRepo) GetSignal(ctx context.Context, id int64) (*signal.Signal, error) {
	if s, ok := r.signals[id]; ok {
		return s, nil
	}
	return nil, database.ErrNotFound
}

func (r *fakeRepo) GetActiveSignals(ctx context.Context, symbol string) ([]*signal.Signal, error) {
	var out []*signal.Signal
	for _, s := range r.signals {
		if s.Status == signal.StatusActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeRepo) CloseSignal(ctx context.Context, id int64, c signal.Closure) (bool, error) {
	return r.closeOK, nil
}

func (r *fakeRepo) ClosedSignalsSince(ctx context.Context, since time.Time) ([]*signal.Signal, error) {
	return r.closed, nil
}

func (r *fakeRepo) SignalCounts(ctx context.Context) (int, int, int, error) {
	return 1, 2, 1, nil
}

func (r *fakeRepo) PendingTriggers(ctx context.Context) ([]*triggers.Trigger, error) {
	return r.pending, nil
}

func (r *fakeRepo) TriggerStatsToday(ctx context.Context) (triggers.DailyStats, error) {
	return triggers.DailyStats{Date: "2026-03-02", Created: 3, Fired: 1, Expired: 1, Converted: 1}, nil
}

func (r *fakeRepo) TriggerStatusCounts(ctx context.Context) (map[string]int, error) {
	return map[string]int{"PENDING": 1, "CONSUMED": 2}, nil
}

func (r *fakeRepo) TriggerConversionRate(ctx context.Context) (float64, error) {
	return 50.0, nil
}

type fakeRunner struct {
	result *analysis.Result
	err    error
	last   analysis.Request
}

func (f *fakeRunner) Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error) {
	f.last = req
	return f.result, f.err
}

func decisionFixture() *llm.DecisionResponse {
	entry, sl, tp := 1.084, 1.082, 1.088
	return &llm.DecisionResponse{
		Decision:   signal.DecisionBuy,
		Confidence: signal.ConfidenceHigh,
		Reasoning:  "aligned",
		Entry:      &entry,
		StopLoss:   &sl,
		TakeProfit: &tp,
		RiskReward: "2.0:1",
	}
}

func newTestServer(repo Repo, runner AnalysisRunner) *Server {
	return NewServer(ServerConfig{ProductionMode: true, Model: "test-model"}, repo, runner, analysis.NewSessionStats(), zerolog.Nop())
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return out
}

func writeCharts(t *testing.T) (h4, h1, m15 string) {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"h4.png", "h1.png", "m15.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("png"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return filepath.Join(dir, "h4.png"), filepath.Join(dir, "h1.png"), filepath.Join(dir, "m15.png")
}

// ============================================================
// Analyze endpoint
// ============================================================

func TestAnalyzeEndpointSuccess(t *testing.T) {
	h4, h1, m15 := writeCharts(t)
	runner := &fakeRunner{
		result: &analysis.Result{
			TraceID:  "trace-1",
			Verdict:  admission.Verdict{Admitted: true, Status: http.StatusOK},
			Decision: decisionFixture(),
			Signal: &signal.Signal{
				ID: 11, Symbol: "EURUSD", Decision: signal.DecisionBuy,
				Entry: 1.084, OriginalStop: 1.082, Target: 1.088, RiskReward: "2.0:1",
			},
		},
	}
	srv := newTestServer(newFakeRepo(), runner)

	w := doRequest(t, srv, http.MethodPost, "/analyze_multi_timeframe", map[string]interface{}{
		"symbol":         "EURUSD",
		"h4_screenshot":  h4,
		"h1_screenshot":  h1,
		"m15_screenshot": m15,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["decision"] != "BUY" || body["signal_id"] != float64(11) {
		t.Errorf("unexpected body: %v", body)
	}
	if len(runner.last.Charts) != 3 {
		t.Errorf("charts passed = %d, want 3", len(runner.last.Charts))
	}
	if runner.last.ScreenshotPath != m15 {
		t.Error("M15 path should be recorded as the signal screenshot")
	}
}

func TestAnalyzeEndpointMissingScreenshots(t *testing.T) {
	srv := newTestServer(newFakeRepo(), &fakeRunner{})
	w := doRequest(t, srv, http.MethodPost, "/analyze_multi_timeframe", map[string]interface{}{
		"symbol": "EURUSD",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAnalyzeEndpointActiveSignalConflict(t *testing.T) {
	h4, h1, m15 := writeCharts(t)
	runner := &fakeRunner{
		result: &analysis.Result{
			TraceID: "trace-2",
			Verdict: admission.Verdict{
				Reason: admission.ReasonActiveSignal,
				Status: http.StatusConflict,
				Existing: &signal.Signal{
					ID: 5, Symbol: "EURUSD", Decision: signal.DecisionBuy,
					Entry: 1.08, CurrentStop: 1.078, Target: 1.085,
				},
			},
		},
	}
	srv := newTestServer(newFakeRepo(), runner)

	w := doRequest(t, srv, http.MethodPost, "/analyze_multi_timeframe", map[string]interface{}{
		"symbol": "EURUSD", "h4_screenshot": h4, "h1_screenshot": h1, "m15_screenshot": m15,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	body := decodeBody(t, w)
	if body["decision"] != "WAIT" {
		t.Error("rejection must force WAIT")
	}
	active, ok := body["active_signal"].(map[string]interface{})
	if !ok || active["id"] != float64(5) {
		t.Errorf("active_signal missing: %v", body)
	}
}

func TestAnalyzeEndpointCooldown(t *testing.T) {
	h4, h1, m15 := writeCharts(t)
	runner := &fakeRunner{
		result: &analysis.Result{
			Verdict: admission.Verdict{
				Reason:           admission.ReasonCooldown,
				Status:           http.StatusTooManyRequests,
				RemainingMinutes: 20,
			},
		},
	}
	srv := newTestServer(newFakeRepo(), runner)

	w := doRequest(t, srv, http.MethodPost, "/analyze_multi_timeframe", map[string]interface{}{
		"symbol": "EURUSD", "h4_screenshot": h4, "h1_screenshot": h1, "m15_screenshot": m15,
	})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	body := decodeBody(t, w)
	if body["retry_after_minutes"] != float64(20) {
		t.Errorf("retry_after_minutes = %v", body["retry_after_minutes"])
	}
}

// ============================================================
// Signal endpoints
// ============================================================

func activeSignal(id int64) *signal.Signal {
	return &signal.Signal{
		ID: id, CreatedAt: time.Now().Add(-time.Hour), Symbol: "EURUSD",
		Decision: signal.DecisionBuy, Entry: 1.1, OriginalStop: 1.098,
		CurrentStop: 1.098, Target: 1.105, Status: signal.StatusActive,
	}
}

func TestGetSignalNotFound(t *testing.T) {
	srv := newTestServer(newFakeRepo(), &fakeRunner{})
	w := doRequest(t, srv, http.MethodGet, "/signal/99", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetSignal(t *testing.T) {
	repo := newFakeRepo()
	repo.signals[7] = activeSignal(7)
	srv := newTestServer(repo, &fakeRunner{})

	w := doRequest(t, srv, http.MethodGet, "/signal/7", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["id"] != float64(7) || body["decision"] != "BUY" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestGetModificationsEmptyArray(t *testing.T) {
	repo := newFakeRepo()
	repo.signals[7] = activeSignal(7)
	srv := newTestServer(repo, &fakeRunner{})

	w := doRequest(t, srv, http.MethodGet, "/signal/7/modifications", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	mods, ok := body["modifications"].([]interface{})
	if !ok {
		t.Fatalf("modifications should be an array, got %T", body["modifications"])
	}
	if len(mods) != 0 {
		t.Errorf("mods = %v", mods)
	}
}

func TestCloseSignalValidation(t *testing.T) {
	repo := newFakeRepo()
	repo.signals[7] = activeSignal(7)
	srv := newTestServer(repo, &fakeRunner{})

	w := doRequest(t, srv, http.MethodPost, "/signal/7/close", map[string]interface{}{
		"result": "WIN",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing exit_price: status = %d, want 400", w.Code)
	}

	w = doRequest(t, srv, http.MethodPost, "/signal/7/close", map[string]interface{}{
		"result": "DRAW", "exit_price": 1.105,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid result: status = %d, want 400", w.Code)
	}
}

func TestCloseSignalSuccess(t *testing.T) {
	repo := newFakeRepo()
	repo.signals[7] = activeSignal(7)
	srv := newTestServer(repo, &fakeRunner{})

	w := doRequest(t, srv, http.MethodPost, "/signal/7/close", map[string]interface{}{
		"result": "WIN", "exit_price": 1.105, "notes": "manual",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["pnl_pips"] != float64(50) {
		t.Errorf("pnl_pips = %v, want 50", body["pnl_pips"])
	}
}

func TestCloseSignalAlreadyClosed(t *testing.T) {
	repo := newFakeRepo()
	repo.signals[7] = activeSignal(7)
	repo.closeOK = false
	srv := newTestServer(repo, &fakeRunner{})

	w := doRequest(t, srv, http.MethodPost, "/signal/7/close", map[string]interface{}{
		"result": "WIN", "exit_price": 1.105,
	})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestActiveSignals(t *testing.T) {
	repo := newFakeRepo()
	repo.signals[7] = activeSignal(7)
	srv := newTestServer(repo, &fakeRunner{})

	w := doRequest(t, srv, http.MethodGet, "/active_signals", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["count"] != float64(1) {
		t.Errorf("count = %v", body["count"])
	}
}

// ============================================================
// Status endpoints
// ============================================================

func TestHealth(t *testing.T) {
	srv := newTestServer(newFakeRepo(), &fakeRunner{})
	w := doRequest(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "running" || body["database"] != "ok" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestTriggersSummary(t *testing.T) {
	srv := newTestServer(newFakeRepo(), &fakeRunner{})
	w := doRequest(t, srv, http.MethodGet, "/triggers_summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["conversion_rate_pct"] != float64(50) {
		t.Errorf("conversion = %v", body["conversion_rate_pct"])
	}
}

func TestPerformanceEndpoint(t *testing.T) {
	repo := newFakeRepo()
	win := signal.ResultWin
	pnl := 50.0
	repo.closed = []*signal.Signal{{
		ID: 1, Symbol: "EURUSD", Decision: signal.DecisionBuy,
		Status: signal.StatusClosed, Result: &win, PnlPips: &pnl,
		Confidence: signal.ConfidenceHigh,
	}}
	srv := newTestServer(repo, &fakeRunner{})

	w := doRequest(t, srv, http.MethodGet, "/performance?days=7", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["total_pips"] != float64(50) {
		t.Errorf("total_pips = %v", body["total_pips"])
	}
	// A loss-free history must still produce an encodable body.
	if body["profit_factor"] != float64(0) {
		t.Errorf("profit_factor = %v, want 0", body["profit_factor"])
	}
}
