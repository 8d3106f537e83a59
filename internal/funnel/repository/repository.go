package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"funnel_backend/internal/funnel/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the PostgreSQL implementation of Store.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a repository on top of a pgx pool.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const leadColumns = `id, tenant_id, first_name, last_name, email, phone, source, stage, score, temperature,
	stage_entered_at, last_activity_at, scored_at, created_at, updated_at, deleted_at`

func scanLead(row pgx.Row) (domain.Lead, error) {
	var lead domain.Lead
	var stage, temperature string
	err := row.Scan(
		&lead.ID, &lead.TenantID, &lead.FirstName, &lead.LastName, &lead.Email, &lead.Phone, &lead.Source,
		&stage, &lead.Score, &temperature,
		&lead.StageEnteredAt, &lead.LastActivityAt, &lead.ScoredAt, &lead.CreatedAt, &lead.UpdatedAt, &lead.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Lead{}, ErrNotFound
	}
	if err != nil {
		return domain.Lead{}, err
	}
	lead.Stage = domain.Stage(stage)
	lead.Temperature = domain.Temperature(temperature)
	return lead, nil
}

func (r *Repository) CreateLead(ctx context.Context, lead domain.Lead) (domain.Lead, error) {
	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO funnel_leads (id, tenant_id, first_name, last_name, email, phone, source, stage, score,
			temperature, stage_entered_at, last_activity_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+leadColumns,
		lead.ID, lead.TenantID, lead.FirstName, lead.LastName, lead.Email, lead.Phone, lead.Source,
		string(lead.Stage), lead.Score, string(lead.Temperature),
		lead.StageEnteredAt, lead.LastActivityAt, lead.CreatedAt, lead.UpdatedAt,
	)
	return scanLead(row)
}

func (r *Repository) GetLead(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM funnel_leads
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		leadID, tenantID,
	)
	return scanLead(row)
}

func (r *Repository) ListLeads(ctx context.Context, params ListLeadsParams) ([]domain.Lead, int, error) {
	var stage, temperature *string
	if params.Stage != nil {
		s := string(*params.Stage)
		stage = &s
	}
	if params.Temperature != nil {
		t := string(*params.Temperature)
		temperature = &t
	}

	var total int
	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM funnel_leads
		WHERE tenant_id = $1 AND deleted_at IS NULL
		  AND ($2::text IS NULL OR stage = $2)
		  AND ($3::text IS NULL OR temperature = $3)`,
		params.TenantID, stage, temperature,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM funnel_leads
		WHERE tenant_id = $1 AND deleted_at IS NULL
		  AND ($2::text IS NULL OR stage = $2)
		  AND ($3::text IS NULL OR temperature = $3)
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5`,
		params.TenantID, stage, temperature, params.PageSize, params.Offset(),
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	leads := make([]domain.Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, 0, err
		}
		leads = append(leads, lead)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return leads, total, nil
}

func (r *Repository) SoftDeleteLead(ctx context.Context, tenantID, leadID uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE funnel_leads
		SET deleted_at = $3, updated_at = $3
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`,
		leadID, tenantID, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListTransitions(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.StageTransition, error) {
	if _, err := r.GetLead(ctx, tenantID, leadID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, lead_id, from_stage, to_stage, reason, actor_id, occurred_at
		FROM funnel_stage_transitions
		WHERE lead_id = $1 AND tenant_id = $2
		ORDER BY seq ASC`,
		leadID, tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StageTransition, 0)
	for rows.Next() {
		var t domain.StageTransition
		var from *string
		var to string
		if err := rows.Scan(&t.ID, &t.TenantID, &t.LeadID, &from, &to, &t.Reason, &t.ActorID, &t.OccurredAt); err != nil {
			return nil, err
		}
		if from != nil {
			st := domain.Stage(*from)
			t.FromStage = &st
		}
		t.ToStage = domain.Stage(to)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) ApplyStageTransition(ctx context.Context, tenantID, leadID uuid.UUID, decide TransitionDecider) (domain.Lead, domain.StageTransition, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Lead{}, domain.StageTransition{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lead, err := scanLead(tx.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM funnel_leads
		WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL
		FOR UPDATE`,
		leadID, tenantID,
	))
	if err != nil {
		return domain.Lead{}, domain.StageTransition{}, err
	}

	transition, err := decide(lead)
	if err != nil {
		return domain.Lead{}, domain.StageTransition{}, err
	}

	var from *string
	if transition.FromStage != nil {
		s := string(*transition.FromStage)
		from = &s
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO funnel_stage_transitions (id, tenant_id, lead_id, from_stage, to_stage, reason, actor_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		transition.ID, transition.TenantID, transition.LeadID, from, string(transition.ToStage),
		transition.Reason, transition.ActorID, transition.OccurredAt,
	); err != nil {
		return domain.Lead{}, domain.StageTransition{}, fmt.Errorf("insert transition: %w", err)
	}

	updated, err := scanLead(tx.QueryRow(ctx, `
		UPDATE funnel_leads
		SET stage = $3, stage_entered_at = $4, updated_at = $4
		WHERE id = $1 AND tenant_id = $2
		RETURNING `+leadColumns,
		leadID, tenantID, string(transition.ToStage), transition.OccurredAt,
	))
	if err != nil {
		return domain.Lead{}, domain.StageTransition{}, fmt.Errorf("update stage: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Lead{}, domain.StageTransition{}, err
	}
	return updated, transition, nil
}
