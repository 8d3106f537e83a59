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

const enrollmentColumns = `id, tenant_id, lead_id, sequence_id, sequence_name, status, trigger_kind, trigger_stage,
	inactivity_hours, exit_stages, steps, enrolled_at, completed_at, cancelled_at, cancel_reason`

const stepColumns = `id, tenant_id, enrollment_id, lead_id, sequence_id, step_index, channel, template_ref, due_at,
	status, attempts, last_error, claimed_until, sent_at, created_at, updated_at`

func scanEnrollment(row pgx.Row) (domain.Enrollment, error) {
	var e domain.Enrollment
	var status, kind, stage string
	var exits []string
	var steps []byte
	err := row.Scan(&e.ID, &e.TenantID, &e.LeadID, &e.SequenceID, &e.SequenceName, &status, &kind, &stage,
		&e.Trigger.InactivityHours, &exits, &steps, &e.EnrolledAt, &e.CompletedAt, &e.CancelledAt, &e.CancelReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Enrollment{}, ErrNotFound
	}
	if err != nil {
		return domain.Enrollment{}, err
	}
	e.Status = domain.EnrollmentStatus(status)
	e.Trigger.Kind = domain.TriggerKind(kind)
	e.Trigger.Stage = domain.Stage(stage)
	e.ExitStages = toStages(exits)
	if err := json.Unmarshal(steps, &e.Steps); err != nil {
		return domain.Enrollment{}, fmt.Errorf("decode enrollment steps: %w", err)
	}
	return e, nil
}

func scanStep(row pgx.Row) (domain.ScheduledStep, error) {
	var s domain.ScheduledStep
	var channel, status string
	err := row.Scan(&s.ID, &s.TenantID, &s.EnrollmentID, &s.LeadID, &s.SequenceID, &s.StepIndex, &channel,
		&s.TemplateRef, &s.DueAt, &status, &s.Attempts, &s.LastError, &s.ClaimedUntil, &s.SentAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScheduledStep{}, ErrNotFound
	}
	if err != nil {
		return domain.ScheduledStep{}, err
	}
	s.Channel = domain.Channel(channel)
	s.Status = domain.StepStatus(status)
	return s, nil
}

const insertStepSQL = `
	INSERT INTO funnel_scheduled_steps (id, tenant_id, enrollment_id, lead_id, sequence_id, step_index, channel,
		template_ref, due_at, status, attempts, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $11)`

func insertStep(ctx context.Context, tx pgx.Tx, s domain.ScheduledStep) error {
	_, err := tx.Exec(ctx, insertStepSQL,
		s.ID, s.TenantID, s.EnrollmentID, s.LeadID, s.SequenceID, s.StepIndex, string(s.Channel),
		s.TemplateRef, s.DueAt, string(s.Status), s.CreatedAt,
	)
	return err
}

func (r *Repository) CreateEnrollment(ctx context.Context, e domain.Enrollment, first domain.ScheduledStep) (bool, error) {
	steps, err := json.Marshal(e.Steps)
	if err != nil {
		return false, fmt.Errorf("encode enrollment steps: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO funnel_enrollments (id, tenant_id, lead_id, sequence_id, sequence_name, status, trigger_kind,
			trigger_stage, inactivity_hours, exit_stages, steps, enrolled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (lead_id, sequence_id) WHERE status = 'active' DO NOTHING`,
		e.ID, e.TenantID, e.LeadID, e.SequenceID, e.SequenceName, string(e.Status), string(e.Trigger.Kind),
		string(e.Trigger.Stage), e.Trigger.InactivityHours, fromStages(e.ExitStages), steps, e.EnrolledAt,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := insertStep(ctx, tx, first); err != nil {
		return false, fmt.Errorf("insert first step: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) GetEnrollment(ctx context.Context, tenantID, enrollmentID uuid.UUID) (domain.Enrollment, error) {
	return scanEnrollment(r.pool.QueryRow(ctx,
		`SELECT `+enrollmentColumns+` FROM funnel_enrollments WHERE id = $1 AND tenant_id = $2`,
		enrollmentID, tenantID,
	))
}

func (r *Repository) queryEnrollments(ctx context.Context, tenantID, leadID uuid.UUID, activeOnly bool) ([]domain.Enrollment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+enrollmentColumns+`
		FROM funnel_enrollments
		WHERE tenant_id = $1 AND lead_id = $2 AND (status = 'active' OR NOT $3)
		ORDER BY enrolled_at`,
		tenantID, leadID, activeOnly,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Enrollment, 0)
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) ListEnrollments(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.Enrollment, error) {
	return r.queryEnrollments(ctx, tenantID, leadID, false)
}

func (r *Repository) ListActiveEnrollments(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.Enrollment, error) {
	return r.queryEnrollments(ctx, tenantID, leadID, true)
}

func (r *Repository) ListSteps(ctx context.Context, tenantID, enrollmentID uuid.UUID) ([]domain.ScheduledStep, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+stepColumns+`
		FROM funnel_scheduled_steps
		WHERE tenant_id = $1 AND enrollment_id = $2
		ORDER BY step_index`,
		tenantID, enrollmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ScheduledStep, 0)
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func cancelEnrollment(ctx context.Context, tx pgx.Tx, tenantID, enrollmentID uuid.UUID, reason string, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE funnel_enrollments
		SET status = 'cancelled', cancelled_at = $3, cancel_reason = $4
		WHERE id = $1 AND tenant_id = $2 AND status = 'active'`,
		enrollmentID, tenantID, at, reason,
	)
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE funnel_scheduled_steps
		SET status = 'cancelled', claimed_until = NULL, updated_at = $2
		WHERE enrollment_id = $1 AND status IN ('pending', 'sending')`,
		enrollmentID, at,
	); err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) CancelEnrollment(ctx context.Context, tenantID, enrollmentID uuid.UUID, reason string, at time.Time) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM funnel_enrollments WHERE id = $1 AND tenant_id = $2)`,
		enrollmentID, tenantID,
	).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	if _, err := cancelEnrollment(ctx, tx, tenantID, enrollmentID, reason, at); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) FindInactiveLeads(ctx context.Context, seq domain.Sequence, cutoff time.Time, limit int) ([]domain.Lead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM funnel_leads l
		WHERE l.tenant_id = $1
		  AND l.deleted_at IS NULL
		  AND l.stage = $2
		  AND GREATEST(l.stage_entered_at, l.last_activity_at) <= $3
		  AND NOT EXISTS (
			SELECT 1 FROM funnel_enrollments e
			WHERE e.lead_id = l.id AND e.sequence_id = $4 AND e.enrolled_at >= l.stage_entered_at
		  )
		ORDER BY l.stage_entered_at
		LIMIT $5`,
		seq.TenantID, string(seq.Trigger.Stage), cutoff, seq.ID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lead)
	}
	return out, rows.Err()
}

func (r *Repository) ClaimDueSteps(ctx context.Context, scope SweepScope, now time.Time, lease time.Duration, limit int) ([]domain.ScheduledStep, error) {
	if limit < 1 {
		limit = 100
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH cte AS (
		SELECT id
		FROM funnel_scheduled_steps
		WHERE due_at <= $1
		  AND (status = 'pending' OR (status = 'sending' AND claimed_until <= $1))
		  AND ($4::uuid IS NULL OR tenant_id = $4)
		ORDER BY due_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	)
	UPDATE funnel_scheduled_steps s
	SET status = 'sending', claimed_until = $3, updated_at = $1
	FROM cte
	WHERE s.id = cte.id
	RETURNING s.id, s.tenant_id, s.enrollment_id, s.lead_id, s.sequence_id, s.step_index, s.channel, s.template_ref,
		s.due_at, s.status, s.attempts, s.last_error, s.claimed_until, s.sent_at, s.created_at, s.updated_at`,
		now, limit, now.Add(lease), scope.TenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claimed []domain.ScheduledStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	rows.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *Repository) ResolveStep(ctx context.Context, res StepResolution) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var sentAt *time.Time
	if res.Status == domain.StepSent {
		at := res.At
		sentAt = &at
	}
	tag, err := tx.Exec(ctx, `
		UPDATE funnel_scheduled_steps
		SET status = $3, attempts = $4, last_error = $5, claimed_until = NULL, sent_at = COALESCE($6, sent_at), updated_at = $7
		WHERE id = $1 AND tenant_id = $2 AND status = 'sending' AND claimed_until = $8`,
		res.StepID, res.TenantID, string(res.Status), res.Attempts, res.LastError, sentAt, res.At, res.ClaimedUntil,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStepNotClaimed
	}

	switch {
	case res.Status == domain.StepCancelled:
		if _, err := cancelEnrollment(ctx, tx, res.TenantID, res.EnrollmentID, res.CancelReason, res.At); err != nil {
			return err
		}
	case res.Next != nil:
		if err := insertStep(ctx, tx, *res.Next); err != nil {
			return fmt.Errorf("insert next step: %w", err)
		}
	case res.Complete:
		if _, err := tx.Exec(ctx, `
			UPDATE funnel_enrollments SET status = 'completed', completed_at = $3
			WHERE id = $1 AND tenant_id = $2 AND status = 'active'`,
			res.EnrollmentID, res.TenantID, res.At,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
