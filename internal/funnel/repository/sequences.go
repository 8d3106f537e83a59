package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"funnel_backend/internal/funnel/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sequenceColumns = `id, tenant_id, name, trigger_kind, trigger_stage, inactivity_hours, exit_stages, steps,
	active, created_at, updated_at`

func scanSequence(row pgx.Row) (domain.Sequence, error) {
	var seq domain.Sequence
	var kind, stage string
	var exits []string
	var steps []byte
	err := row.Scan(&seq.ID, &seq.TenantID, &seq.Name, &kind, &stage, &seq.Trigger.InactivityHours,
		&exits, &steps, &seq.Active, &seq.CreatedAt, &seq.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Sequence{}, ErrNotFound
	}
	if err != nil {
		return domain.Sequence{}, err
	}
	seq.Trigger.Kind = domain.TriggerKind(kind)
	seq.Trigger.Stage = domain.Stage(stage)
	seq.ExitStages = toStages(exits)
	if err := json.Unmarshal(steps, &seq.Steps); err != nil {
		return domain.Sequence{}, fmt.Errorf("decode sequence steps: %w", err)
	}
	return seq, nil
}

func toStages(values []string) []domain.Stage {
	out := make([]domain.Stage, 0, len(values))
	for _, v := range values {
		out = append(out, domain.Stage(v))
	}
	return out
}

func fromStages(stages []domain.Stage) []string {
	out := make([]string, 0, len(stages))
	for _, s := range stages {
		out = append(out, string(s))
	}
	return out
}

func (r *Repository) querySequences(ctx context.Context, where string, args ...any) ([]domain.Sequence, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sequenceColumns+` FROM funnel_sequences WHERE `+where+` ORDER BY created_at, name`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Sequence, 0)
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seq)
	}
	return out, rows.Err()
}

func (r *Repository) ListSequences(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]domain.Sequence, error) {
	return r.querySequences(ctx, `tenant_id = $1 AND (active OR NOT $2)`, tenantID, activeOnly)
}

func (r *Repository) GetSequence(ctx context.Context, tenantID, sequenceID uuid.UUID) (domain.Sequence, error) {
	return scanSequence(r.pool.QueryRow(ctx,
		`SELECT `+sequenceColumns+` FROM funnel_sequences WHERE id = $1 AND tenant_id = $2`,
		sequenceID, tenantID,
	))
}

func (r *Repository) UpsertSequence(ctx context.Context, seq domain.Sequence) (domain.Sequence, error) {
	if seq.ID == uuid.Nil {
		seq.ID = uuid.New()
	}
	steps, err := json.Marshal(seq.Steps)
	if err != nil {
		return domain.Sequence{}, fmt.Errorf("encode sequence steps: %w", err)
	}
	// The tenant guard on the update keeps one tenant from overwriting another's id.
	return scanSequence(r.pool.QueryRow(ctx, `
		INSERT INTO funnel_sequences (id, tenant_id, name, trigger_kind, trigger_stage, inactivity_hours,
			exit_stages, steps, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			trigger_kind = EXCLUDED.trigger_kind,
			trigger_stage = EXCLUDED.trigger_stage,
			inactivity_hours = EXCLUDED.inactivity_hours,
			exit_stages = EXCLUDED.exit_stages,
			steps = EXCLUDED.steps,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
		WHERE funnel_sequences.tenant_id = EXCLUDED.tenant_id
		RETURNING `+sequenceColumns,
		seq.ID, seq.TenantID, seq.Name, string(seq.Trigger.Kind), string(seq.Trigger.Stage), seq.Trigger.InactivityHours,
		fromStages(seq.ExitStages), steps, seq.Active, seq.CreatedAt, seq.UpdatedAt,
	))
}

func (r *Repository) DeactivateSequence(ctx context.Context, tenantID, sequenceID uuid.UUID, at time.Time) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE funnel_sequences SET active = false, updated_at = $3
		WHERE id = $1 AND tenant_id = $2`,
		sequenceID, tenantID, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		UPDATE funnel_scheduled_steps s
		SET status = 'cancelled', claimed_until = NULL, updated_at = $3
		FROM funnel_enrollments e
		WHERE s.enrollment_id = e.id
		  AND e.sequence_id = $1 AND e.tenant_id = $2 AND e.status = 'active'
		  AND s.status IN ('pending', 'sending')`,
		sequenceID, tenantID, at,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE funnel_enrollments
		SET status = 'cancelled', cancelled_at = $3, cancel_reason = $4
		WHERE sequence_id = $1 AND tenant_id = $2 AND status = 'active'`,
		sequenceID, tenantID, at, domain.CancelSequenceInactive,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) ListTriggeredSequences(ctx context.Context, tenantID uuid.UUID, kind domain.TriggerKind, stage domain.Stage) ([]domain.Sequence, error) {
	return r.querySequences(ctx, `tenant_id = $1 AND active AND trigger_kind = $2 AND trigger_stage = $3`,
		tenantID, string(kind), string(stage))
}

func (r *Repository) ListInactivitySequences(ctx context.Context, scope SweepScope) ([]domain.Sequence, error) {
	return r.querySequences(ctx, `active AND trigger_kind = $1 AND ($2::uuid IS NULL OR tenant_id = $2)`,
		string(domain.TriggerInactivity), scope.TenantID)
}
