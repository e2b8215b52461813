package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-trading-server/internal/admission"
	"ai-trading-server/internal/ai/llm"
	"ai-trading-server/internal/database"
	"ai-trading-server/internal/signal"
	"ai-trading-server/internal/triggers"
)

// ============================================================
// Fakes
// ============================================================

type fakeStore struct {
	created  []*signal.Signal
	triggers []*triggers.Trigger
	cleared  []string
	nextID   int64
}

func (s *fakeStore) CreateSignal(ctx context.Context, sig *signal.Signal) error {
	s.nextID++
	sig.ID = s.nextID
	sig.CreatedAt = time.Now()
	s.created = append(s.created, sig)
	return nil
}

func (s *fakeStore) SaveTrigger(ctx context.Context, t *triggers.Trigger) (int, error) {
	superseded := 0
	for _, existing := range s.triggers {
		if existing.Symbol == t.Symbol && existing.Status == triggers.StatusPending {
			existing.Status = triggers.StatusSuperseded
			superseded++
		}
	}
	s.nextID++
	t.ID = s.nextID
	s.triggers = append(s.triggers, t)
	return superseded, nil
}

func (s *fakeStore) ClearPendingTriggers(ctx context.Context, symbol, reason string) (int, error) {
	cleared := 0
	for _, t := range s.triggers {
		if t.Symbol == symbol && t.Status == triggers.StatusPending {
			t.Status = triggers.StatusCleared
			cleared++
		}
	}
	s.cleared = append(s.cleared, symbol)
	return cleared, nil
}

func (s *fakeStore) PendingTriggers(ctx context.Context) ([]*triggers.Trigger, error) {
	var pending []*triggers.Trigger
	for _, t := range s.triggers {
		if t.Status == triggers.StatusPending {
			pending = append(pending, t)
		}
	}
	return pending, nil
}

// MarkTriggerStatus mirrors the store's PENDING-only transition guard.
func (s *fakeStore) MarkTriggerStatus(ctx context.Context, id int64, status triggers.Status, result *signal.Decision, fireReason string) (bool, error) {
	for _, t := range s.triggers {
		if t.ID == id && t.Status == triggers.StatusPending {
			t.Status = status
			t.Result = result
			t.FireReason = fireReason
			return true, nil
		}
	}
	return false, nil
}

// openAdmissionStore admits everything.
type openAdmissionStore struct {
	active *signal.Signal
}

func (s *openAdmissionStore) ActiveSignalForSymbol(ctx context.Context, symbol string) (*signal.Signal, error) {
	if s.active != nil && s.active.Symbol == symbol {
		return s.active, nil
	}
	return nil, database.ErrNotFound
}

func (s *openAdmissionStore) LatestExitTime(ctx context.Context, symbol string) (time.Time, error) {
	return time.Time{}, nil
}

func (s *openAdmissionStore) DailyResultCounts(ctx context.Context, dayStart, dayEnd time.Time) (int, int, int, error) {
	return 0, 0, 0, nil
}

func (s *openAdmissionStore) ActiveNonBreakevenSignals(ctx context.Context) ([]*signal.Signal, error) {
	return nil, nil
}

type fakeAnalyzer struct {
	response string
	err      error
	calls    int
	lastUser string
}

func (a *fakeAnalyzer) Complete(ctx context.Context, systemPrompt, userPrompt string, images []llm.ChartImage) (string, llm.Usage, error) {
	a.calls++
	a.lastUser = userPrompt
	if a.err != nil {
		return "", llm.Usage{}, a.err
	}
	return a.response, llm.Usage{InputTokens: 1000, OutputTokens: 200}, nil
}

type fakeNotifier struct {
	texts  []string
	photos []string
}

func (n *fakeNotifier) Send(ctx context.Context, text string) {
	n.texts = append(n.texts, text)
}

func (n *fakeNotifier) SendPhoto(ctx context.Context, caption, photoPath string) {
	n.photos = append(n.photos, photoPath)
	n.texts = append(n.texts, caption)
}

type fixedOracle struct {
	price float64
	err   error
}

func (o *fixedOracle) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return o.price, o.err
}

func newService(store *fakeStore, analyzer *fakeAnalyzer, admStore admission.Store, notifier *fakeNotifier) (*Service, *SessionStats) {
	stats := NewSessionStats()
	adm := admission.NewController(admStore, admission.DefaultConfig(), zerolog.Nop())
	svc := NewService(store, analyzer, adm, &fixedOracle{price: 1.0840}, notifier, stats, zerolog.Nop())
	return svc, stats
}

const buyResponse = `{
  "decision": "BUY",
  "confidence": "High",
  "reasoning": "All aligned.",
  "market_structure": "H4 uptrend, H1 pullback complete",
  "invalidation_criteria": "Close below 1.0820",
  "entry": 1.0840, "sl": 1.0820, "tp": 1.0880, "risk_reward": "2.0:1",
  "confluence_factors": ["a"], "risk_factors": ["b"]
}`

const waitResponse = `{
  "decision": "WAIT",
  "confidence": "Medium",
  "reasoning": "No trigger yet.",
  "h4_analysis": {"trend": "UPTREND", "trade_bias": "LONG_ONLY", "key_levels": [1.085, 1.082]},
  "next_trigger": {"type": "retest_hold", "timeframe": "M15", "level": 1.0835, "direction": "bullish", "expiry_bars": 8, "description": "retest 1.0835"}
}`

// ============================================================
// Analyze
// ============================================================

func TestAnalyzeBuyCreatesSignal(t *testing.T) {
	store := &fakeStore{}
	notifier := &fakeNotifier{}
	svc, stats := newService(store, &fakeAnalyzer{response: buyResponse}, &openAdmissionStore{}, notifier)

	res, err := svc.Analyze(context.Background(), Request{Symbol: "EURUSD", ScreenshotPath: "/tmp/m15.png"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.Verdict.Admitted {
		t.Fatal("expected admission")
	}
	if res.Signal == nil {
		t.Fatal("expected a signal")
	}
	if res.Signal.CurrentStop != res.Signal.OriginalStop {
		t.Error("current stop should start at original stop")
	}
	if res.Signal.Status != signal.StatusActive {
		t.Errorf("status = %s, want ACTIVE", res.Signal.Status)
	}
	if len(notifier.photos) != 1 {
		t.Error("signal notification should carry the chart image")
	}
	snap := stats.Snapshot()
	if snap.Buys != 1 || snap.TotalTokens != 1200 {
		t.Errorf("stats = %+v", snap)
	}
	if res.TraceID == "" {
		t.Error("missing trace id")
	}
}

func TestAnalyzeWaitSavesTrigger(t *testing.T) {
	store := &fakeStore{}
	svc, _ := newService(store, &fakeAnalyzer{response: waitResponse}, &openAdmissionStore{}, &fakeNotifier{})

	res, err := svc.Analyze(context.Background(), Request{Symbol: "EURUSD"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Signal != nil {
		t.Error("WAIT must not create a signal")
	}
	if res.Trigger == nil {
		t.Fatal("expected a trigger")
	}
	if res.Trigger.Definition.Type != triggers.TypeRetestHold {
		t.Errorf("trigger type = %s", res.Trigger.Definition.Type)
	}
	if res.Trigger.Context.Trend != "UPTREND" {
		t.Errorf("cached context = %+v", res.Trigger.Context)
	}
	// 8 bars x 15 minutes.
	lifetime := res.Trigger.ExpiryAt.Sub(time.Now())
	if lifetime < 115*time.Minute || lifetime > 121*time.Minute {
		t.Errorf("trigger lifetime = %v, want ~120m", lifetime)
	}
}

func TestAnalyzeWaitSupersedesPriorTrigger(t *testing.T) {
	store := &fakeStore{}
	svc, _ := newService(store, &fakeAnalyzer{response: waitResponse}, &openAdmissionStore{}, &fakeNotifier{})

	if _, err := svc.Analyze(context.Background(), Request{Symbol: "EURUSD"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Analyze(context.Background(), Request{Symbol: "EURUSD"}); err != nil {
		t.Fatal(err)
	}
	if len(store.triggers) != 2 {
		t.Fatalf("triggers = %d, want 2", len(store.triggers))
	}
	if store.triggers[0].Status != triggers.StatusSuperseded {
		t.Errorf("first trigger status = %s, want SUPERSEDED", store.triggers[0].Status)
	}
	if store.triggers[1].Status != triggers.StatusPending {
		t.Errorf("second trigger status = %s, want PENDING", store.triggers[1].Status)
	}
}

func TestAnalyzeBuyClearsPendingTriggers(t *testing.T) {
	store := &fakeStore{}
	analyzer := &fakeAnalyzer{response: waitResponse}
	svc, _ := newService(store, analyzer, &openAdmissionStore{}, &fakeNotifier{})

	if _, err := svc.Analyze(context.Background(), Request{Symbol: "EURUSD"}); err != nil {
		t.Fatal(err)
	}
	analyzer.response = buyResponse
	if _, err := svc.Analyze(context.Background(), Request{Symbol: "EURUSD"}); err != nil {
		t.Fatal(err)
	}
	if store.triggers[0].Status != triggers.StatusCleared {
		t.Errorf("trigger status = %s, want CLEARED after actionable decision", store.triggers[0].Status)
	}
}

func TestAnalyzeRejectedByAdmission(t *testing.T) {
	store := &fakeStore{}
	analyzer := &fakeAnalyzer{response: buyResponse}
	admStore := &openAdmissionStore{
		active: &signal.Signal{ID: 5, Symbol: "EURUSD", Decision: signal.DecisionBuy},
	}
	svc, _ := newService(store, analyzer, admStore, &fakeNotifier{})

	res, err := svc.Analyze(context.Background(), Request{Symbol: "EURUSD"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Verdict.Admitted {
		t.Fatal("expected rejection")
	}
	if res.Verdict.Reason != admission.ReasonActiveSignal {
		t.Errorf("reason = %s", res.Verdict.Reason)
	}
	if analyzer.calls != 0 {
		t.Error("model must not be called for rejected requests")
	}
}

func TestAnalyzeModelFailure(t *testing.T) {
	store := &fakeStore{}
	svc, stats := newService(store, &fakeAnalyzer{err: errors.New("overloaded")}, &openAdmissionStore{}, &fakeNotifier{})

	if _, err := svc.Analyze(context.Background(), Request{Symbol: "EURUSD"}); err == nil {
		t.Fatal("expected error")
	}
	if stats.Snapshot().Errors != 1 {
		t.Error("error not counted")
	}
	if len(store.created) != 0 {
		t.Error("no signal should be created on model failure")
	}
}

// ============================================================
// Trigger re-analysis
// ============================================================

func firedTrigger() *triggers.Trigger {
	return &triggers.Trigger{
		ID:     9,
		Symbol: "EURUSD",
		Definition: triggers.Definition{
			Type:      triggers.TypeRetestHold,
			Timeframe: "M15",
			Level:     1.0835,
			Direction: triggers.DirectionBullish,
		},
		Context: triggers.Context{Trend: "UPTREND", TradeBias: "LONG_ONLY"},
		Status:  triggers.StatusPending,
	}
}

func TestReAnalyzeTriggerOpensSignal(t *testing.T) {
	store := &fakeStore{}
	analyzer := &fakeAnalyzer{response: buyResponse}
	svc, stats := newService(store, analyzer, &openAdmissionStore{}, &fakeNotifier{})

	decision, err := svc.ReAnalyzeTrigger(context.Background(), firedTrigger(), 1.0837, "price held 1.0835")
	if err != nil {
		t.Fatalf("ReAnalyzeTrigger: %v", err)
	}
	if decision != signal.DecisionBuy {
		t.Errorf("decision = %s, want BUY", decision)
	}
	if len(store.created) != 1 {
		t.Fatal("expected a signal from the re-analysis")
	}
	if !strings.Contains(analyzer.lastUser, "1.0835") {
		t.Error("re-analysis prompt should carry the trigger level")
	}
	if stats.Snapshot().ReAnalyses != 1 {
		t.Error("re-analysis not counted")
	}
}

func TestReAnalyzeTriggerWaitDoesNotOpenSignal(t *testing.T) {
	store := &fakeStore{}
	svc, _ := newService(store, &fakeAnalyzer{response: waitResponse}, &openAdmissionStore{}, &fakeNotifier{})

	decision, err := svc.ReAnalyzeTrigger(context.Background(), firedTrigger(), 1.0837, "retest held")
	if err != nil {
		t.Fatalf("ReAnalyzeTrigger: %v", err)
	}
	if decision != signal.DecisionWait {
		t.Errorf("decision = %s, want WAIT", decision)
	}
	if len(store.created) != 0 {
		t.Error("WAIT re-analysis must not open a signal")
	}
}

func TestReAnalyzeTriggerBlockedByAdmission(t *testing.T) {
	store := &fakeStore{}
	admStore := &openAdmissionStore{
		active: &signal.Signal{ID: 5, Symbol: "EURUSD", Decision: signal.DecisionBuy},
	}
	svc, _ := newService(store, &fakeAnalyzer{response: buyResponse}, admStore, &fakeNotifier{})

	decision, err := svc.ReAnalyzeTrigger(context.Background(), firedTrigger(), 1.0837, "retest held")
	if err != nil {
		t.Fatalf("ReAnalyzeTrigger: %v", err)
	}
	// The trigger still records the decision the model made; admission only
	// suppresses the signal.
	if decision != signal.DecisionBuy {
		t.Errorf("decision = %s, want BUY", decision)
	}
	if len(store.created) != 0 {
		t.Error("admission-blocked re-analysis must not open a signal")
	}
}

func TestReAnalyzeTriggerKeepsFiringTriggerPending(t *testing.T) {
	store := &fakeStore{}
	fired := firedTrigger()
	fired.ExpiryAt = time.Now().Add(time.Hour)
	store.triggers = append(store.triggers, fired)
	svc, _ := newService(store, &fakeAnalyzer{response: buyResponse}, &openAdmissionStore{}, &fakeNotifier{})

	decision, err := svc.ReAnalyzeTrigger(context.Background(), fired, 1.0837, "retest held")
	if err != nil {
		t.Fatalf("ReAnalyzeTrigger: %v", err)
	}
	if decision != signal.DecisionBuy {
		t.Errorf("decision = %s, want BUY", decision)
	}
	if len(store.created) != 1 {
		t.Fatal("expected a signal from the re-analysis")
	}
	// The firing trigger must stay PENDING for the watcher's consume step.
	if fired.Status != triggers.StatusPending {
		t.Errorf("trigger status = %s, want PENDING until the watcher consumes it", fired.Status)
	}
	if len(store.cleared) != 0 {
		t.Error("trigger-sourced signals must not clear pending triggers")
	}
}

// The watcher and the orchestrator share the trigger row; a converted
// trigger must end CONSUMED with the decision recorded.
func TestWatcherConsumesConvertedTrigger(t *testing.T) {
	store := &fakeStore{}
	pending := firedTrigger()
	pending.ExpiryAt = time.Now().Add(time.Hour)
	store.triggers = append(store.triggers, pending)

	svc, _ := newService(store, &fakeAnalyzer{response: buyResponse}, &openAdmissionStore{}, &fakeNotifier{})
	watcher := triggers.NewWatcher(store, &fixedOracle{price: 1.08352}, svc,
		triggers.TradingHours{StartHour: 0, EndHour: 24}, time.Minute, nil, zerolog.Nop())

	if err := watcher.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if pending.Status != triggers.StatusConsumed {
		t.Fatalf("trigger status = %s, want CONSUMED", pending.Status)
	}
	if pending.Result == nil || *pending.Result != signal.DecisionBuy {
		t.Errorf("trigger result = %v, want BUY", pending.Result)
	}
	if len(store.created) != 1 {
		t.Error("converted trigger should have opened a signal")
	}
}

func TestReAnalyzeTriggerModelFailure(t *testing.T) {
	store := &fakeStore{}
	svc, _ := newService(store, &fakeAnalyzer{err: errors.New("timeout")}, &openAdmissionStore{}, &fakeNotifier{})

	if _, err := svc.ReAnalyzeTrigger(context.Background(), firedTrigger(), 1.0837, "retest held"); err == nil {
		t.Fatal("expected error")
	}
}
