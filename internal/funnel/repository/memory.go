package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"funnel_backend/internal/funnel/domain"

	"github.com/google/uuid"
)

// MemoryRepository keeps funnel state in process memory. A single mutex
// serializes writers, which gives the same per-lead atomicity as row locks.
type MemoryRepository struct {
	mu          sync.RWMutex
	leads       map[uuid.UUID]*domain.Lead
	transitions map[uuid.UUID][]domain.StageTransition
	signals     map[uuid.UUID][]domain.Signal
	rules       map[uuid.UUID]domain.RuleSet
	sequences   map[uuid.UUID]*domain.Sequence
	enrollments map[uuid.UUID]*domain.Enrollment
	steps       map[uuid.UUID]*domain.ScheduledStep
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		leads:       make(map[uuid.UUID]*domain.Lead),
		transitions: make(map[uuid.UUID][]domain.StageTransition),
		signals:     make(map[uuid.UUID][]domain.Signal),
		rules:       make(map[uuid.UUID]domain.RuleSet),
		sequences:   make(map[uuid.UUID]*domain.Sequence),
		enrollments: make(map[uuid.UUID]*domain.Enrollment),
		steps:       make(map[uuid.UUID]*domain.ScheduledStep),
	}
}

var _ Store = (*MemoryRepository)(nil)

// -----------------------------------------------------------------------------
// Leads
// -----------------------------------------------------------------------------

func (r *MemoryRepository) CreateLead(_ context.Context, lead domain.Lead) (domain.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	stored := lead
	r.leads[lead.ID] = &stored
	return stored, nil
}

// liveLead returns the lead when it exists, is not deleted and belongs to tenantID.
// Callers hold the lock.
func (r *MemoryRepository) liveLead(tenantID, leadID uuid.UUID) (*domain.Lead, error) {
	lead, ok := r.leads[leadID]
	if !ok || lead.TenantID != tenantID || lead.IsDeleted() {
		return nil, ErrNotFound
	}
	return lead, nil
}

func (r *MemoryRepository) GetLead(_ context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, err := r.liveLead(tenantID, leadID)
	if err != nil {
		return domain.Lead{}, err
	}
	return *lead, nil
}

func (r *MemoryRepository) ListLeads(_ context.Context, params ListLeadsParams) ([]domain.Lead, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]domain.Lead, 0)
	for _, lead := range r.leads {
		if lead.TenantID != params.TenantID || lead.IsDeleted() {
			continue
		}
		if params.Stage != nil && lead.Stage != *params.Stage {
			continue
		}
		if params.Temperature != nil && lead.Temperature != *params.Temperature {
			continue
		}
		matched = append(matched, *lead)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := params.Offset()
	if start > total {
		start = total
	}
	end := total
	if params.PageSize > 0 && start+params.PageSize < total {
		end = start + params.PageSize
	}
	return matched[start:end], total, nil
}

func (r *MemoryRepository) SoftDeleteLead(_ context.Context, tenantID, leadID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lead, err := r.liveLead(tenantID, leadID)
	if err != nil {
		return err
	}
	deletedAt := at
	lead.DeletedAt = &deletedAt
	lead.UpdatedAt = at
	return nil
}

func (r *MemoryRepository) ListTransitions(_ context.Context, tenantID, leadID uuid.UUID) ([]domain.StageTransition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, err := r.liveLead(tenantID, leadID); err != nil {
		return nil, err
	}
	out := make([]domain.StageTransition, len(r.transitions[leadID]))
	copy(out, r.transitions[leadID])
	return out, nil
}

func (r *MemoryRepository) ApplyStageTransition(_ context.Context, tenantID, leadID uuid.UUID, decide TransitionDecider) (domain.Lead, domain.StageTransition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lead, err := r.liveLead(tenantID, leadID)
	if err != nil {
		return domain.Lead{}, domain.StageTransition{}, err
	}
	transition, err := decide(*lead)
	if err != nil {
		return domain.Lead{}, domain.StageTransition{}, err
	}

	lead.Stage = transition.ToStage
	lead.StageEnteredAt = transition.OccurredAt
	lead.UpdatedAt = transition.OccurredAt
	r.transitions[leadID] = append(r.transitions[leadID], transition)
	return *lead, transition, nil
}

// -----------------------------------------------------------------------------
// Signals, rules and scores
// -----------------------------------------------------------------------------

func (r *MemoryRepository) AppendSignal(_ context.Context, signal domain.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lead, err := r.liveLead(signal.TenantID, signal.LeadID)
	if err != nil {
		return err
	}
	if signal.ID == uuid.Nil {
		signal.ID = uuid.New()
	}
	r.signals[signal.LeadID] = append(r.signals[signal.LeadID], signal)
	if signal.OccurredAt.After(lead.LastActivityAt) {
		lead.LastActivityAt = signal.OccurredAt
	}
	return nil
}

func (r *MemoryRepository) ListSignals(_ context.Context, tenantID, leadID uuid.UUID) ([]domain.Signal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, err := r.liveLead(tenantID, leadID); err != nil {
		return nil, err
	}
	out := make([]domain.Signal, len(r.signals[leadID]))
	copy(out, r.signals[leadID])
	return out, nil
}

func (r *MemoryRepository) ApplyScore(_ context.Context, tenantID, leadID uuid.UUID, at time.Time, compute ScoreComputer) (domain.Lead, domain.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lead, err := r.liveLead(tenantID, leadID)
	if err != nil {
		return domain.Lead{}, domain.Lead{}, err
	}
	before := *lead
	signals := make([]domain.Signal, len(r.signals[leadID]))
	copy(signals, r.signals[leadID])

	result, err := compute(before, signals)
	if err != nil {
		return domain.Lead{}, domain.Lead{}, err
	}
	lead.Score = result.Score
	lead.Temperature = result.Temperature
	scoredAt := at
	lead.ScoredAt = &scoredAt
	return before, *lead, nil
}

func (r *MemoryRepository) GetRuleSet(_ context.Context, tenantID uuid.UUID) (domain.RuleSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rs, ok := r.rules[tenantID]
	if !ok {
		return domain.RuleSet{}, ErrNotFound
	}
	return copyRuleSet(rs), nil
}

func (r *MemoryRepository) ReplaceRuleSet(_ context.Context, rules domain.RuleSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rules[rules.TenantID] = copyRuleSet(rules)
	return nil
}

func copyRuleSet(rs domain.RuleSet) domain.RuleSet {
	out := rs
	out.Rules = make(map[string]domain.ScoringRule, len(rs.Rules))
	for k, v := range rs.Rules {
		out.Rules[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------
// Sequences
// -----------------------------------------------------------------------------

func copySequence(s domain.Sequence) domain.Sequence {
	out := s
	out.Steps = append([]domain.SequenceStep(nil), s.Steps...)
	out.ExitStages = append([]domain.Stage(nil), s.ExitStages...)
	return out
}

func (r *MemoryRepository) sortedSequences(keep func(domain.Sequence) bool) []domain.Sequence {
	out := make([]domain.Sequence, 0)
	for _, seq := range r.sequences {
		if keep(*seq) {
			out = append(out, copySequence(*seq))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *MemoryRepository) ListSequences(_ context.Context, tenantID uuid.UUID, activeOnly bool) ([]domain.Sequence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedSequences(func(s domain.Sequence) bool {
		return s.TenantID == tenantID && (!activeOnly || s.Active)
	}), nil
}

func (r *MemoryRepository) GetSequence(_ context.Context, tenantID, sequenceID uuid.UUID) (domain.Sequence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seq, ok := r.sequences[sequenceID]
	if !ok || seq.TenantID != tenantID {
		return domain.Sequence{}, ErrNotFound
	}
	return copySequence(*seq), nil
}

func (r *MemoryRepository) UpsertSequence(_ context.Context, seq domain.Sequence) (domain.Sequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if seq.ID == uuid.Nil {
		seq.ID = uuid.New()
	} else if existing, ok := r.sequences[seq.ID]; ok {
		if existing.TenantID != seq.TenantID {
			return domain.Sequence{}, ErrNotFound
		}
		seq.CreatedAt = existing.CreatedAt
	}
	stored := copySequence(seq)
	r.sequences[seq.ID] = &stored
	return copySequence(stored), nil
}

func (r *MemoryRepository) DeactivateSequence(_ context.Context, tenantID, sequenceID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq, ok := r.sequences[sequenceID]
	if !ok || seq.TenantID != tenantID {
		return ErrNotFound
	}
	seq.Active = false
	seq.UpdatedAt = at
	for _, e := range r.enrollments {
		if e.SequenceID == sequenceID {
			r.cancelEnrollmentLocked(e, domain.CancelSequenceInactive, at)
		}
	}
	return nil
}

func (r *MemoryRepository) ListTriggeredSequences(_ context.Context, tenantID uuid.UUID, kind domain.TriggerKind, stage domain.Stage) ([]domain.Sequence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedSequences(func(s domain.Sequence) bool {
		return s.TenantID == tenantID && s.Active && s.Trigger.Kind == kind && s.Trigger.Stage == stage
	}), nil
}

func (r *MemoryRepository) ListInactivitySequences(_ context.Context, scope SweepScope) ([]domain.Sequence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedSequences(func(s domain.Sequence) bool {
		return scope.Matches(s.TenantID) && s.Active && s.Trigger.Kind == domain.TriggerInactivity
	}), nil
}

// -----------------------------------------------------------------------------
// Enrollments and steps
// -----------------------------------------------------------------------------

func copyEnrollment(e domain.Enrollment) domain.Enrollment {
	out := e
	out.Steps = append([]domain.SequenceStep(nil), e.Steps...)
	out.ExitStages = append([]domain.Stage(nil), e.ExitStages...)
	return out
}

func (r *MemoryRepository) CreateEnrollment(_ context.Context, enrollment domain.Enrollment, first domain.ScheduledStep) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.enrollments {
		if existing.LeadID == enrollment.LeadID && existing.SequenceID == enrollment.SequenceID && existing.Status == domain.EnrollmentActive {
			return false, nil
		}
	}
	stored := copyEnrollment(enrollment)
	r.enrollments[enrollment.ID] = &stored
	step := first
	r.steps[first.ID] = &step
	return true, nil
}

func (r *MemoryRepository) GetEnrollment(_ context.Context, tenantID, enrollmentID uuid.UUID) (domain.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.enrollments[enrollmentID]
	if !ok || e.TenantID != tenantID {
		return domain.Enrollment{}, ErrNotFound
	}
	return copyEnrollment(*e), nil
}

func (r *MemoryRepository) listEnrollments(tenantID, leadID uuid.UUID, activeOnly bool) []domain.Enrollment {
	out := make([]domain.Enrollment, 0)
	for _, e := range r.enrollments {
		if e.TenantID != tenantID || e.LeadID != leadID {
			continue
		}
		if activeOnly && e.Status != domain.EnrollmentActive {
			continue
		}
		out = append(out, copyEnrollment(*e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt.Before(out[j].EnrolledAt) })
	return out
}

func (r *MemoryRepository) ListEnrollments(_ context.Context, tenantID, leadID uuid.UUID) ([]domain.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listEnrollments(tenantID, leadID, false), nil
}

func (r *MemoryRepository) ListActiveEnrollments(_ context.Context, tenantID, leadID uuid.UUID) ([]domain.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listEnrollments(tenantID, leadID, true), nil
}

func (r *MemoryRepository) ListSteps(_ context.Context, tenantID, enrollmentID uuid.UUID) ([]domain.ScheduledStep, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ScheduledStep, 0)
	for _, s := range r.steps {
		if s.TenantID == tenantID && s.EnrollmentID == enrollmentID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out, nil
}

func (r *MemoryRepository) CancelEnrollment(_ context.Context, tenantID, enrollmentID uuid.UUID, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.enrollments[enrollmentID]
	if !ok || e.TenantID != tenantID {
		return ErrNotFound
	}
	r.cancelEnrollmentLocked(e, reason, at)
	return nil
}

func (r *MemoryRepository) cancelEnrollmentLocked(e *domain.Enrollment, reason string, at time.Time) {
	if e.Status != domain.EnrollmentActive {
		return
	}
	cancelledAt := at
	cancelReason := reason
	e.Status = domain.EnrollmentCancelled
	e.CancelledAt = &cancelledAt
	e.CancelReason = &cancelReason
	for _, s := range r.steps {
		if s.EnrollmentID == e.ID && (s.Status == domain.StepPending || s.Status == domain.StepSending) {
			s.Status = domain.StepCancelled
			s.ClaimedUntil = nil
			s.UpdatedAt = at
		}
	}
}

func (r *MemoryRepository) FindInactiveLeads(_ context.Context, seq domain.Sequence, cutoff time.Time, limit int) ([]domain.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Lead, 0)
	for _, lead := range r.leads {
		if lead.TenantID != seq.TenantID || lead.IsDeleted() || lead.Stage != seq.Trigger.Stage {
			continue
		}
		if lead.LastTouchedAt().After(cutoff) {
			continue
		}
		if r.enrolledSinceLocked(lead.ID, seq.ID, lead.StageEnteredAt) {
			continue
		}
		out = append(out, *lead)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageEnteredAt.Before(out[j].StageEnteredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) enrolledSinceLocked(leadID, sequenceID uuid.UUID, since time.Time) bool {
	for _, e := range r.enrollments {
		if e.LeadID == leadID && e.SequenceID == sequenceID && !e.EnrolledAt.Before(since) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) ClaimDueSteps(_ context.Context, scope SweepScope, now time.Time, lease time.Duration, limit int) ([]domain.ScheduledStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := make([]*domain.ScheduledStep, 0)
	for _, s := range r.steps {
		if scope.Matches(s.TenantID) && s.IsClaimable(now) {
			due = append(due, s)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimedUntil := now.Add(lease)
	out := make([]domain.ScheduledStep, 0, len(due))
	for _, s := range due {
		until := claimedUntil
		s.Status = domain.StepSending
		s.ClaimedUntil = &until
		s.UpdatedAt = now
		out = append(out, *s)
	}
	return out, nil
}

func (r *MemoryRepository) ResolveStep(_ context.Context, res StepResolution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	step, ok := r.steps[res.StepID]
	if !ok || step.TenantID != res.TenantID {
		return ErrNotFound
	}
	if step.Status != domain.StepSending || step.ClaimedUntil == nil || !step.ClaimedUntil.Equal(res.ClaimedUntil) {
		return ErrStepNotClaimed
	}
	e, ok := r.enrollments[res.EnrollmentID]
	if !ok {
		return ErrNotFound
	}

	step.Status = res.Status
	step.Attempts = res.Attempts
	step.LastError = res.LastError
	step.ClaimedUntil = nil
	step.UpdatedAt = res.At
	if res.Status == domain.StepSent {
		sentAt := res.At
		step.SentAt = &sentAt
	}

	switch {
	case res.Status == domain.StepCancelled:
		r.cancelEnrollmentLocked(e, res.CancelReason, res.At)
	case res.Next != nil:
		next := *res.Next
		r.steps[next.ID] = &next
	case res.Complete:
		completedAt := res.At
		e.Status = domain.EnrollmentCompleted
		e.CompletedAt = &completedAt
	}
	return nil
}

// -----------------------------------------------------------------------------
// Analytics
// -----------------------------------------------------------------------------

func (r *MemoryRepository) CountLeadsByStage(_ context.Context, tenantID uuid.UUID) (map[domain.Stage]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.Stage]int)
	for _, lead := range r.leads {
		if lead.TenantID == tenantID && !lead.IsDeleted() {
			counts[lead.Stage]++
		}
	}
	return counts, nil
}

func (r *MemoryRepository) ListPeriodActivity(_ context.Context, tenantID uuid.UUID, period domain.Period) ([]LeadPeriodActivity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LeadPeriodActivity, 0)
	for _, lead := range r.leads {
		if lead.TenantID != tenantID || lead.IsDeleted() {
			continue
		}
		activity := LeadPeriodActivity{LeadID: lead.ID, CreatedInPeriod: period.Contains(lead.CreatedAt)}
		for _, t := range r.transitions[lead.ID] {
			if period.Contains(t.OccurredAt) {
				activity.ReachedStages = append(activity.ReachedStages, t.ToStage)
			}
		}
		if activity.CreatedInPeriod || len(activity.ReachedStages) > 0 {
			out = append(out, activity)
		}
	}
	return out, nil
}

func (r *MemoryRepository) CountLeadsByTemperature(_ context.Context, tenantID uuid.UUID) (map[domain.Temperature]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[domain.Temperature]int)
	for _, lead := range r.leads {
		if lead.TenantID == tenantID && !lead.IsDeleted() {
			counts[lead.Temperature]++
		}
	}
	return counts, nil
}
