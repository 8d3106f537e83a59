package repository

import (
	"context"

	"funnel_backend/internal/funnel/domain"

	"github.com/google/uuid"
)

func (r *Repository) CountLeadsByStage(ctx context.Context, tenantID uuid.UUID) (map[domain.Stage]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT stage, COUNT(*)
		FROM funnel_leads
		WHERE tenant_id = $1 AND deleted_at IS NULL
		GROUP BY stage`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Stage]int)
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		counts[domain.Stage(stage)] = n
	}
	return counts, rows.Err()
}

func (r *Repository) ListPeriodActivity(ctx context.Context, tenantID uuid.UUID, period domain.Period) ([]LeadPeriodActivity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT l.id,
			l.created_at BETWEEN $2 AND $3 AS created_in_period,
			COALESCE(array_agg(DISTINCT t.to_stage) FILTER (WHERE t.id IS NOT NULL), '{}') AS reached
		FROM funnel_leads l
		LEFT JOIN funnel_stage_transitions t
			ON t.lead_id = l.id AND t.occurred_at BETWEEN $2 AND $3
		WHERE l.tenant_id = $1 AND l.deleted_at IS NULL
		GROUP BY l.id, l.created_at
		HAVING l.created_at BETWEEN $2 AND $3 OR COUNT(t.id) > 0`,
		tenantID, period.From, period.To,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]LeadPeriodActivity, 0)
	for rows.Next() {
		var a LeadPeriodActivity
		var reached []string
		if err := rows.Scan(&a.LeadID, &a.CreatedInPeriod, &reached); err != nil {
			return nil, err
		}
		a.ReachedStages = toStages(reached)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) CountLeadsByTemperature(ctx context.Context, tenantID uuid.UUID) (map[domain.Temperature]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT temperature, COUNT(*)
		FROM funnel_leads
		WHERE tenant_id = $1 AND deleted_at IS NULL
		GROUP BY temperature`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.Temperature]int)
	for rows.Next() {
		var temperature string
		var n int
		if err := rows.Scan(&temperature, &n); err != nil {
			return nil, err
		}
		counts[domain.Temperature(temperature)] = n
	}
	return counts, rows.Err()
}
