package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"ai-trading-server/internal/signal"
	"ai-trading-server/internal/triggers"
)

// ============================================================================
// TRIGGERS
// ============================================================================

const triggerColumns = `
	id, symbol, created_at, trigger_json, context_json, playbook, setup_type,
	expiry_ts, status, consumed_at, result, fire_reason`

func scanTrigger(row pgx.Row) (*triggers.Trigger, error) {
	var (
		t          triggers.Trigger
		defJSON    []byte
		ctxJSON    []byte
		playbook   *string
		setupType  *string
		status     string
		result     *string
		fireReason *string
	)
	err := row.Scan(
		&t.ID, &t.Symbol, &t.CreatedAt, &defJSON, &ctxJSON, &playbook, &setupType,
		&t.ExpiryAt, &status, &t.ConsumedAt, &result, &fireReason,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(defJSON, &t.Definition); err != nil {
		return nil, fmt.Errorf("trigger %d: decode definition: %w", t.ID, err)
	}
	if len(ctxJSON) > 0 {
		_ = json.Unmarshal(ctxJSON, &t.Context)
	}
	if playbook != nil {
		t.Playbook = *playbook
	}
	if setupType != nil {
		t.SetupType = *setupType
	}
	t.Status = triggers.Status(status)
	if result != nil {
		d := signal.Decision(*result)
		t.Result = &d
	}
	if fireReason != nil {
		t.FireReason = *fireReason
	}
	return &t, nil
}

// SaveTrigger persists a new PENDING trigger for the symbol, superseding
// any other PENDING trigger for the same symbol in the same transaction so
// at most one pending watch per symbol ever exists. Returns the number of
// superseded triggers.
func (r *Repository) SaveTrigger(ctx context.Context, t *triggers.Trigger) (int, error) {
	defJSON, err := json.Marshal(t.Definition)
	if err != nil {
		return 0, fmt.Errorf("encode trigger definition: %w", err)
	}
	ctxJSON, err := json.Marshal(t.Context)
	if err != nil {
		return 0, fmt.Errorf("encode trigger context: %w", err)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE triggers SET status = 'SUPERSEDED', consumed_at = $2
		WHERE symbol = $1 AND status = 'PENDING'`,
		t.Symbol, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	superseded := int(tag.RowsAffected())

	err = tx.QueryRow(ctx, `
		INSERT INTO triggers (symbol, trigger_json, context_json, playbook, setup_type, expiry_ts, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'PENDING')
		RETURNING id, created_at`,
		t.Symbol, defJSON, ctxJSON, t.Playbook, t.SetupType, t.ExpiryAt,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return 0, err
	}
	t.Status = triggers.StatusPending

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	if err := r.IncrementTriggerStat(ctx, triggers.StatCreated); err != nil {
		r.db.logger.Warn().Err(err).Msg("trigger stats update failed")
	}
	return superseded, nil
}

// ClearPendingTriggers marks every PENDING trigger for the symbol CLEARED,
// recording the originating reason. Returns the number cleared.
func (r *Repository) ClearPendingTriggers(ctx context.Context, symbol, reason string) (int, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE triggers SET status = 'CLEARED', consumed_at = $2, fire_reason = $3
		WHERE symbol = $1 AND status = 'PENDING'`,
		symbol, time.Now(), reason,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// PendingTriggers returns all pending triggers, oldest first.
func (r *Repository) PendingTriggers(ctx context.Context) ([]*triggers.Trigger, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT`+triggerColumns+`
		FROM triggers
		WHERE status = 'PENDING'
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*triggers.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// MarkTriggerStatus transitions a PENDING trigger into a terminal state.
// The WHERE guard ensures a trigger leaves PENDING exactly once; a row
// already in a terminal state is never overwritten. Daily counters are
// bumped for EXPIRED and CONSUMED (plus converted for actionable results).
func (r *Repository) MarkTriggerStatus(ctx context.Context, id int64, status triggers.Status, result *signal.Decision, fireReason string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("trigger %d: %s is not a terminal status", id, status)
	}
	var resultStr *string
	if result != nil {
		v := string(*result)
		resultStr = &v
	}
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE triggers SET status = $2, consumed_at = $3, result = $4, fire_reason = $5
		WHERE id = $1 AND status = 'PENDING'`,
		id, string(status), time.Now(), resultStr, fireReason,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	switch status {
	case triggers.StatusExpired:
		err = r.IncrementTriggerStat(ctx, triggers.StatExpired)
	case triggers.StatusConsumed:
		err = r.IncrementTriggerStat(ctx, triggers.StatFired)
		if err == nil && result != nil && result.Actionable() {
			err = r.IncrementTriggerStat(ctx, triggers.StatConverted)
		}
	}
	if err != nil {
		r.db.logger.Warn().Err(err).Msg("trigger stats update failed")
	}
	return true, nil
}

// ============================================================================
// TRIGGER STATS
// ============================================================================

// statIncrements maps each counter to its increment statement. The mapping
// is explicit so the column name never comes from input.
var statIncrements = map[triggers.StatsEvent]string{
	triggers.StatCreated:   `UPDATE trigger_stats SET created = created + 1 WHERE date = $1`,
	triggers.StatFired:     `UPDATE trigger_stats SET fired = fired + 1 WHERE date = $1`,
	triggers.StatExpired:   `UPDATE trigger_stats SET expired = expired + 1 WHERE date = $1`,
	triggers.StatConverted: `UPDATE trigger_stats SET converted = converted + 1 WHERE date = $1`,
}

// IncrementTriggerStat upserts today's stats row and increments one named
// counter.
func (r *Repository) IncrementTriggerStat(ctx context.Context, event triggers.StatsEvent) error {
	stmt, ok := statIncrements[event]
	if !ok {
		return fmt.Errorf("unknown trigger stat event: %s", event)
	}
	today := time.Now().Format("2006-01-02")
	if _, err := r.db.Pool.Exec(ctx, `
		INSERT INTO trigger_stats (date) VALUES ($1)
		ON CONFLICT (date) DO NOTHING`, today); err != nil {
		return err
	}
	_, err := r.db.Pool.Exec(ctx, stmt, today)
	return err
}

// TriggerStatsToday returns today's counter row (zeroes when absent).
func (r *Repository) TriggerStatsToday(ctx context.Context) (triggers.DailyStats, error) {
	today := time.Now().Format("2006-01-02")
	stats := triggers.DailyStats{Date: today}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT created, fired, expired, converted
		FROM trigger_stats WHERE date = $1`, today,
	).Scan(&stats.Created, &stats.Fired, &stats.Expired, &stats.Converted)
	if errors.Is(err, pgx.ErrNoRows) {
		return stats, nil
	}
	return stats, err
}

// TriggerStatusCounts returns the all-time breakdown of triggers by status.
func (r *Repository) TriggerStatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT status, COUNT(*) FROM triggers GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// TriggerConversionRate returns the percentage of consumed triggers whose
// re-analysis produced an actionable decision.
func (r *Repository) TriggerConversionRate(ctx context.Context) (float64, error) {
	var converted, total int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE result IN ('BUY', 'SELL')),
			COUNT(*)
		FROM triggers
		WHERE status = 'CONSUMED'`,
	).Scan(&converted, &total)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return float64(converted) / float64(total) * 100, nil
}
