package repository

import (
	"context"
	"errors"
	"time"

	"funnel_backend/internal/funnel/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (r *Repository) AppendSignal(ctx context.Context, signal domain.Signal) error {
	if signal.ID == uuid.Nil {
		signal.ID = uuid.New()
	}
	// The insert only happens when the lead is live for the tenant.
	tag, err := r.pool.Exec(ctx, `
		WITH touched AS (
			UPDATE funnel_leads
			SET last_activity_at = GREATEST(last_activity_at, $5), updated_at = now()
			WHERE id = $3 AND tenant_id = $2 AND deleted_at IS NULL
			RETURNING id
		)
		INSERT INTO funnel_signals (id, tenant_id, lead_id, signal_type, occurred_at, recorded_at)
		SELECT $1, $2, touched.id, $4, $5, $6 FROM touched`,
		signal.ID, signal.TenantID, signal.LeadID, signal.Type, signal.OccurredAt, signal.RecordedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListSignals(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.Signal, error) {
	if _, err := r.GetLead(ctx, tenantID, leadID); err != nil {
		return nil, err
	}
	return listSignals(ctx, r.pool, tenantID, leadID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listSignals(ctx context.Context, q querier, tenantID, leadID uuid.UUID) ([]domain.Signal, error) {
	rows, err := q.Query(ctx, `
		SELECT id, tenant_id, lead_id, signal_type, occurred_at, recorded_at
		FROM funnel_signals
		WHERE lead_id = $1 AND tenant_id = $2
		ORDER BY occurred_at ASC`,
		leadID, tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Signal, 0)
	for rows.Next() {
		var s domain.Signal
		if err := rows.Scan(&s.ID, &s.TenantID, &s.LeadID, &s.Type, &s.OccurredAt, &s.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) ApplyScore(ctx context.Context, tenantID, leadID uuid.UUID, at time.Time, compute ScoreComputer) (domain.Lead, domain.Lead, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Lead{}, domain.Lead{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	before, err := scanLead(tx.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM funnel_leads
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
		FOR UPDATE`,
		leadID, tenantID,
	))
	if err != nil {
		return domain.Lead{}, domain.Lead{}, err
	}

	signals, err := listSignals(ctx, tx, tenantID, leadID)
	if err != nil {
		return domain.Lead{}, domain.Lead{}, err
	}

	result, err := compute(before, signals)
	if err != nil {
		return domain.Lead{}, domain.Lead{}, err
	}

	after, err := scanLead(tx.QueryRow(ctx, `
		UPDATE funnel_leads
		SET score = $3, temperature = $4, scored_at = $5, updated_at = $5
		WHERE id = $1 AND tenant_id = $2
		RETURNING `+leadColumns,
		leadID, tenantID, result.Score, string(result.Temperature), at,
	))
	if err != nil {
		return domain.Lead{}, domain.Lead{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Lead{}, domain.Lead{}, err
	}
	return before, after, nil
}

func (r *Repository) GetRuleSet(ctx context.Context, tenantID uuid.UUID) (domain.RuleSet, error) {
	rs := domain.RuleSet{TenantID: tenantID, Rules: make(map[string]domain.ScoringRule)}
	err := r.pool.QueryRow(ctx, `
		SELECT warm_at, hot_at, updated_at
		FROM funnel_scoring_thresholds
		WHERE tenant_id = $1`,
		tenantID,
	).Scan(&rs.Thresholds.WarmAt, &rs.Thresholds.HotAt, &rs.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RuleSet{}, ErrNotFound
	}
	if err != nil {
		return domain.RuleSet{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT signal_type, weight, staleness_window_seconds, max_occurrences
		FROM funnel_scoring_rules
		WHERE tenant_id = $1`,
		tenantID,
	)
	if err != nil {
		return domain.RuleSet{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var rule domain.ScoringRule
		var windowSeconds int64
		if err := rows.Scan(&rule.SignalType, &rule.Weight, &windowSeconds, &rule.MaxOccurrences); err != nil {
			return domain.RuleSet{}, err
		}
		rule.StalenessWindow = time.Duration(windowSeconds) * time.Second
		rs.Rules[rule.SignalType] = rule
	}
	if rows.Err() != nil {
		return domain.RuleSet{}, rows.Err()
	}
	return rs, nil
}

func (r *Repository) ReplaceRuleSet(ctx context.Context, rules domain.RuleSet) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO funnel_scoring_thresholds (tenant_id, warm_at, hot_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id) DO UPDATE
		SET warm_at = EXCLUDED.warm_at, hot_at = EXCLUDED.hot_at, updated_at = EXCLUDED.updated_at`,
		rules.TenantID, rules.Thresholds.WarmAt, rules.Thresholds.HotAt, rules.UpdatedAt,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM funnel_scoring_rules WHERE tenant_id = $1`, rules.TenantID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, rule := range rules.SortedRules() {
		batch.Queue(`
			INSERT INTO funnel_scoring_rules (tenant_id, signal_type, weight, staleness_window_seconds, max_occurrences)
			VALUES ($1, $2, $3, $4, $5)`,
			rules.TenantID, rule.SignalType, rule.Weight, int64(rule.StalenessWindow/time.Second), rule.MaxOccurrences,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
