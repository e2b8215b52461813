package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ai-trading-server/internal/signal"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Repository provides data access methods over the signal and trigger
// stores.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// SIGNALS
// ============================================================================

const signalColumns = `
	id, created_at, symbol, timeframe, decision, confidence,
	entry_price, original_stop_loss, current_stop_loss, take_profit, risk_reward,
	reasoning, market_structure, invalidation_criteria, notes,
	status, result, exit_price, exit_timestamp, pnl_pips, duration_minutes,
	breakeven_triggered, breakeven_timestamp, stop_modifications,
	hypothetical_exit_price, hypothetical_result, hypothetical_pnl_pips,
	breakeven_impact, screenshot_path`

func scanSignal(row pgx.Row) (*signal.Signal, error) {
	var (
		s          signal.Signal
		decision   string
		confidence string
		result     *string
		hypResult  *string
		impact     *string
		mods       []byte
		notes      *string
		screenshot *string
	)
	err := row.Scan(
		&s.ID, &s.CreatedAt, &s.Symbol, &s.Timeframe, &decision, &confidence,
		&s.Entry, &s.OriginalStop, &s.CurrentStop, &s.Target, &s.RiskReward,
		&s.Reasoning, &s.MarketStructure, &s.InvalidationCriteria, &notes,
		&s.Status, &result, &s.ExitPrice, &s.ExitTimestamp, &s.PnlPips, &s.DurationMinutes,
		&s.BreakevenTriggered, &s.BreakevenTimestamp, &mods,
		&s.HypotheticalExitPrice, &hypResult, &s.HypotheticalPnlPips,
		&impact, &screenshot,
	)
	if err != nil {
		return nil, err
	}
	s.Decision = signal.Decision(decision)
	s.Confidence = signal.Confidence(confidence)
	if result != nil {
		res := signal.Result(*result)
		s.Result = &res
	}
	if hypResult != nil {
		res := signal.Result(*hypResult)
		s.HypotheticalResult = &res
	}
	if impact != nil {
		imp := signal.Impact(*impact)
		s.BreakevenImpact = &imp
	}
	if notes != nil {
		s.Notes = *notes
	}
	if screenshot != nil {
		s.ScreenshotPath = *screenshot
	}
	if len(mods) > 0 {
		// A corrupted history is surfaced as empty rather than failing the
		// whole read, matching how the stop history was always treated.
		_ = json.Unmarshal(mods, &s.StopModifications)
	}
	return &s, nil
}

func (r *Repository) querySignals(ctx context.Context, query string, args ...interface{}) ([]*signal.Signal, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*signal.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// CreateSignal inserts a new signal. The current stop always starts at the
// original stop and breakeven starts untriggered, regardless of what the
// caller set.
func (r *Repository) CreateSignal(ctx context.Context, s *signal.Signal) error {
	query := `
		INSERT INTO signals (
			symbol, timeframe, decision, confidence,
			entry_price, original_stop_loss, current_stop_loss, take_profit, risk_reward,
			reasoning, market_structure, invalidation_criteria, screenshot_path
		) VALUES ($1, $2, $3, $4, $5, $6, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`
	err := r.db.Pool.QueryRow(
		ctx, query,
		s.Symbol, s.Timeframe, string(s.Decision), string(s.Confidence),
		s.Entry, s.OriginalStop, s.Target, s.RiskReward,
		s.Reasoning, s.MarketStructure, s.InvalidationCriteria, s.ScreenshotPath,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create signal: %w", err)
	}
	s.CurrentStop = s.OriginalStop
	s.BreakevenTriggered = false
	s.Status = signal.StatusActive
	return nil
}

// GetSignal retrieves a signal by id.
func (r *Repository) GetSignal(ctx context.Context, id int64) (*signal.Signal, error) {
	query := `SELECT` + signalColumns + ` FROM signals WHERE id = $1`
	s, err := scanSignal(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// GetActiveSignals retrieves active BUY/SELL signals, optionally filtered
// by symbol (empty symbol means all).
func (r *Repository) GetActiveSignals(ctx context.Context, symbol string) ([]*signal.Signal, error) {
	query := `SELECT` + signalColumns + `
		FROM signals
		WHERE status = 'ACTIVE' AND decision IN ('BUY', 'SELL')`
	if symbol != "" {
		return r.querySignals(ctx, query+` AND symbol = $1 ORDER BY symbol, created_at DESC`, symbol)
	}
	return r.querySignals(ctx, query+` ORDER BY symbol, created_at DESC`)
}

// ActiveSignalForSymbol returns the most recent active BUY/SELL signal for
// the symbol, or ErrNotFound.
func (r *Repository) ActiveSignalForSymbol(ctx context.Context, symbol string) (*signal.Signal, error) {
	query := `SELECT` + signalColumns + `
		FROM signals
		WHERE symbol = $1 AND status = 'ACTIVE' AND decision IN ('BUY', 'SELL')
		ORDER BY created_at DESC
		LIMIT 1`
	s, err := scanSignal(r.db.Pool.QueryRow(ctx, query, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// ActiveNonBreakevenSignals returns active BUY/SELL signals whose stop has
// not yet been moved to breakeven.
func (r *Repository) ActiveNonBreakevenSignals(ctx context.Context) ([]*signal.Signal, error) {
	query := `SELECT` + signalColumns + `
		FROM signals
		WHERE status = 'ACTIVE' AND decision IN ('BUY', 'SELL') AND breakeven_triggered = FALSE
		ORDER BY created_at`
	return r.querySignals(ctx, query)
}

// SignalFilter narrows ListSignals.
type SignalFilter struct {
	Since    time.Time
	Status   string
	Decision string
	Symbol   string
	Limit    int
}

// ListSignals returns signals newest first, filtered.
func (r *Repository) ListSignals(ctx context.Context, f SignalFilter) ([]*signal.Signal, error) {
	query := `SELECT` + signalColumns + ` FROM signals WHERE created_at > $1`
	args := []interface{}{f.Since}

	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.Decision != "" {
		args = append(args, f.Decision)
		query += fmt.Sprintf(` AND decision = $%d`, len(args))
	}
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		query += fmt.Sprintf(` AND symbol = $%d`, len(args))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	return r.querySignals(ctx, query, args...)
}

// ClosedSignalsSince returns closed signals created after the cutoff, for
// performance aggregation.
func (r *Repository) ClosedSignalsSince(ctx context.Context, since time.Time) ([]*signal.Signal, error) {
	query := `SELECT` + signalColumns + `
		FROM signals
		WHERE status = 'CLOSED' AND created_at > $1
		ORDER BY created_at`
	return r.querySignals(ctx, query, since)
}

// LatestExitTime returns the most recent exit timestamp for a symbol, or
// ErrNotFound when the symbol has no closed trades.
func (r *Repository) LatestExitTime(ctx context.Context, symbol string) (time.Time, error) {
	query := `
		SELECT exit_timestamp FROM signals
		WHERE symbol = $1 AND status = 'CLOSED' AND exit_timestamp IS NOT NULL
		ORDER BY exit_timestamp DESC
		LIMIT 1`
	var ts time.Time
	err := r.db.Pool.QueryRow(ctx, query, symbol).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	return ts, err
}

// DailyResultCounts counts today's closed wins and losses.
func (r *Repository) DailyResultCounts(ctx context.Context, dayStart, dayEnd time.Time) (wins, losses, total int, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE result = 'WIN'),
			COUNT(*) FILTER (WHERE result = 'LOSS'),
			COUNT(*)
		FROM signals
		WHERE status = 'CLOSED' AND created_at BETWEEN $1 AND $2`
	err = r.db.Pool.QueryRow(ctx, query, dayStart, dayEnd).Scan(&wins, &losses, &total)
	return
}

// MarkBreakeven moves the signal's stop to the entry price, records the
// modification and stamps the breakeven timestamp. The update only applies
// while the row is still ACTIVE with breakeven untriggered, so concurrent
// passes cannot double-apply it. Returns whether the transition happened.
func (r *Repository) MarkBreakeven(ctx context.Context, id int64, newStop float64, mod signal.StopModification) (bool, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var existing []byte
	err = tx.QueryRow(ctx,
		`SELECT stop_modifications FROM signals
		 WHERE id = $1 AND status = 'ACTIVE' AND breakeven_triggered = FALSE
		 FOR UPDATE`, id,
	).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var mods []signal.StopModification
	if len(existing) > 0 {
		_ = json.Unmarshal(existing, &mods)
	}
	mods = append(mods, mod)
	encoded, err := json.Marshal(mods)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE signals SET
			current_stop_loss = $2,
			breakeven_triggered = TRUE,
			breakeven_timestamp = $3,
			stop_modifications = $4
		WHERE id = $1 AND status = 'ACTIVE' AND breakeven_triggered = FALSE`,
		id, newStop, mod.Timestamp, encoded,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	return true, tx.Commit(ctx)
}

// CloseSignal transitions an ACTIVE signal to CLOSED, setting the result,
// exit, P&L, duration, hypothetical leg and impact atomically. The WHERE
// guard makes closing idempotent: a row closes exactly once. Returns
// whether this call performed the transition.
func (r *Repository) CloseSignal(ctx context.Context, id int64, c signal.Closure) (bool, error) {
	var hypResult *string
	if c.HypotheticalResult != nil {
		v := string(*c.HypotheticalResult)
		hypResult = &v
	}
	var notes *string
	if c.Notes != "" {
		notes = &c.Notes
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE signals SET
			status = 'CLOSED',
			result = $2,
			exit_price = $3,
			exit_timestamp = $4,
			pnl_pips = $5,
			duration_minutes = $6,
			hypothetical_exit_price = $7,
			hypothetical_result = $8,
			hypothetical_pnl_pips = $9,
			breakeven_impact = $10,
			notes = COALESCE($11, notes)
		WHERE id = $1 AND status = 'ACTIVE'`,
		id, string(c.Result), c.ExitPrice, c.ExitTimestamp, c.PnlPips, c.DurationMinutes,
		c.HypotheticalExitPrice, hypResult, c.HypotheticalPnlPips, string(c.Impact), notes,
	)
	if err != nil {
		return false, fmt.Errorf("close signal %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// SignalCounts reports totals for the health endpoint.
func (r *Repository) SignalCounts(ctx context.Context) (active, total, breakeven int, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'ACTIVE'),
			COUNT(*),
			COUNT(*) FILTER (WHERE breakeven_triggered)
		FROM signals`
	err = r.db.Pool.QueryRow(ctx, query).Scan(&active, &total, &breakeven)
	return
}
