// Package repository persists funnel state. Two implementations share the
// interfaces below: Repository on PostgreSQL and MemoryRepository for tests
// and single-process tooling.
package repository

import (
	"context"
	"errors"
	"time"

	"funnel_backend/internal/funnel/domain"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record does not exist, is soft-deleted or
// belongs to another tenant.
var ErrNotFound = errors.New("not found")

// ErrStepNotClaimed is returned by ResolveStep when the step is no longer held
// under the claim the caller received: it was cancelled meanwhile, or its
// lease expired and another sweep claimed it again.
var ErrStepNotClaimed = errors.New("step is no longer claimed by this sweep")

// =====================================
// Segregated Interfaces
// =====================================

// LeadStore persists leads and their stage history.
type LeadStore interface {
	CreateLead(ctx context.Context, lead domain.Lead) (domain.Lead, error)
	GetLead(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error)
	ListLeads(ctx context.Context, params ListLeadsParams) ([]domain.Lead, int, error)
	SoftDeleteLead(ctx context.Context, tenantID, leadID uuid.UUID, at time.Time) error
	ListTransitions(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.StageTransition, error)

	// ApplyStageTransition locks the lead, asks decide for the transition to
	// record and commits the stage update together with the history entry.
	// If decide returns an error nothing is written.
	ApplyStageTransition(ctx context.Context, tenantID, leadID uuid.UUID, decide TransitionDecider) (domain.Lead, domain.StageTransition, error)
}

// TransitionDecider inspects the locked lead and returns the transition to apply.
type TransitionDecider func(lead domain.Lead) (domain.StageTransition, error)

// ScoreStore persists signals, rule tables and computed scores.
type ScoreStore interface {
	AppendSignal(ctx context.Context, signal domain.Signal) error
	ListSignals(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.Signal, error)

	// ApplyScore locks the lead, loads its signals and persists what compute
	// returns with scored_at set to at. It returns the lead before and after
	// the update.
	ApplyScore(ctx context.Context, tenantID, leadID uuid.UUID, at time.Time, compute ScoreComputer) (before domain.Lead, after domain.Lead, err error)

	GetRuleSet(ctx context.Context, tenantID uuid.UUID) (domain.RuleSet, error)
	ReplaceRuleSet(ctx context.Context, rules domain.RuleSet) error
}

// ScoreComputer evaluates the locked lead's signals.
type ScoreComputer func(lead domain.Lead, signals []domain.Signal) (domain.ScoreResult, error)

// SequenceStore persists sequence definitions.
type SequenceStore interface {
	ListSequences(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]domain.Sequence, error)
	GetSequence(ctx context.Context, tenantID, sequenceID uuid.UUID) (domain.Sequence, error)
	UpsertSequence(ctx context.Context, seq domain.Sequence) (domain.Sequence, error)
	// DeactivateSequence stops new enrollments and cancels the active ones.
	DeactivateSequence(ctx context.Context, tenantID, sequenceID uuid.UUID, at time.Time) error
	ListTriggeredSequences(ctx context.Context, tenantID uuid.UUID, kind domain.TriggerKind, stage domain.Stage) ([]domain.Sequence, error)
	ListInactivitySequences(ctx context.Context, scope SweepScope) ([]domain.Sequence, error)
}

// EnrollmentStore persists enrollments and their scheduled steps.
type EnrollmentStore interface {
	// CreateEnrollment stores the enrollment and its first scheduled step.
	// It returns false without writing when the lead already has an active
	// enrollment in the sequence.
	CreateEnrollment(ctx context.Context, enrollment domain.Enrollment, first domain.ScheduledStep) (bool, error)
	GetEnrollment(ctx context.Context, tenantID, enrollmentID uuid.UUID) (domain.Enrollment, error)
	ListEnrollments(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.Enrollment, error)
	ListActiveEnrollments(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.Enrollment, error)
	ListSteps(ctx context.Context, tenantID, enrollmentID uuid.UUID) ([]domain.ScheduledStep, error)

	// CancelEnrollment marks an active enrollment cancelled and cancels its
	// unsent steps.
	CancelEnrollment(ctx context.Context, tenantID, enrollmentID uuid.UUID, reason string, at time.Time) error

	// FindInactiveLeads returns non-deleted leads sitting in seq's trigger
	// stage, untouched since cutoff, with no enrollment in seq since they
	// entered the stage.
	FindInactiveLeads(ctx context.Context, seq domain.Sequence, cutoff time.Time, limit int) ([]domain.Lead, error)

	// ClaimDueSteps marks up to limit claimable steps as sending with a lease
	// ending at now+lease and returns them.
	ClaimDueSteps(ctx context.Context, scope SweepScope, now time.Time, lease time.Duration, limit int) ([]domain.ScheduledStep, error)

	// ResolveStep records the outcome of a claimed step atomically with
	// scheduling the next step or completing the enrollment. It only applies
	// while the step is still sending under resolution.ClaimedUntil and
	// returns ErrStepNotClaimed, changing nothing, otherwise.
	ResolveStep(ctx context.Context, resolution StepResolution) error
}

// AnalyticsStore reads aggregates for reporting.
type AnalyticsStore interface {
	CountLeadsByStage(ctx context.Context, tenantID uuid.UUID) (map[domain.Stage]int, error)
	ListPeriodActivity(ctx context.Context, tenantID uuid.UUID, period domain.Period) ([]LeadPeriodActivity, error)
	CountLeadsByTemperature(ctx context.Context, tenantID uuid.UUID) (map[domain.Temperature]int, error)
}

// Store is the complete persistence surface of the funnel module.
type Store interface {
	LeadStore
	ScoreStore
	SequenceStore
	EnrollmentStore
	AnalyticsStore
}

// =====================================
// Parameter types
// =====================================

// ListLeadsParams filters a lead listing. Page is 1-based.
type ListLeadsParams struct {
	TenantID    uuid.UUID
	Stage       *domain.Stage
	Temperature *domain.Temperature
	Page        int
	PageSize    int
}

// Offset returns the row offset for the page.
func (p ListLeadsParams) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// SweepScope restricts a sweep to one tenant when TenantID is set.
type SweepScope struct {
	TenantID *uuid.UUID
}

// Matches reports whether tenantID falls inside the scope.
func (s SweepScope) Matches(tenantID uuid.UUID) bool {
	return s.TenantID == nil || *s.TenantID == tenantID
}

// StepResolution describes what happened to a claimed step.
type StepResolution struct {
	TenantID     uuid.UUID
	StepID       uuid.UUID
	EnrollmentID uuid.UUID
	Status       domain.StepStatus
	Attempts     int
	LastError    *string
	At           time.Time
	// ClaimedUntil is the lease returned by ClaimDueSteps; it identifies the claim.
	ClaimedUntil time.Time
	// Next is inserted when the enrollment continues.
	Next *domain.ScheduledStep
	// Complete marks the enrollment completed.
	Complete bool
	// CancelReason marks the enrollment cancelled when Status is cancelled.
	CancelReason string
}

// LeadPeriodActivity is one lead's footprint inside an analytics period.
type LeadPeriodActivity struct {
	LeadID          uuid.UUID
	CreatedInPeriod bool
	ReachedStages   []domain.Stage
}
