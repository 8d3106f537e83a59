package domain

import (
	"time"

	"github.com/google/uuid"
)

// EnrollmentStatus tracks an enrollment's lifecycle.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

// Cancellation reasons recorded on enrollments and steps.
const (
	CancelLeadDeleted      = "lead_deleted"
	CancelTerminalStage    = "terminal_stage"
	CancelExitStage        = "exit_stage"
	CancelLeftTriggerStage = "left_trigger_stage"
	CancelSequenceInactive = "sequence_deactivated"
)

// Enrollment is a lead's membership in a sequence. The trigger, exit stages
// and steps are copied from the sequence at enrollment time, so later edits to
// the sequence never change an enrollment in flight.
type Enrollment struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	LeadID       uuid.UUID
	SequenceID   uuid.UUID
	SequenceName string
	Status       EnrollmentStatus
	Trigger      Trigger
	ExitStages   []Stage
	Steps        []SequenceStep
	EnrolledAt   time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	CancelReason *string
}

// NewEnrollment snapshots seq for lead at instant now.
func NewEnrollment(seq Sequence, leadID uuid.UUID, now time.Time) Enrollment {
	steps := make([]SequenceStep, len(seq.Steps))
	copy(steps, seq.Steps)
	exits := make([]Stage, len(seq.ExitStages))
	copy(exits, seq.ExitStages)
	return Enrollment{
		ID:           uuid.New(),
		TenantID:     seq.TenantID,
		LeadID:       leadID,
		SequenceID:   seq.ID,
		SequenceName: seq.Name,
		Status:       EnrollmentActive,
		Trigger:      seq.Trigger,
		ExitStages:   exits,
		Steps:        steps,
		EnrolledAt:   now,
	}
}

// DueAt returns when step index becomes due.
func (e Enrollment) DueAt(index int) time.Time {
	return e.EnrolledAt.Add(time.Duration(e.Steps[index].DelayHours) * time.Hour)
}

// HasStep reports whether index addresses a step of the snapshot.
func (e Enrollment) HasStep(index int) bool {
	return index >= 0 && index < len(e.Steps)
}

// CancelReasonFor returns why the enrollment no longer applies to lead, if it
// does not.
func (e Enrollment) CancelReasonFor(lead Lead) (string, bool) {
	switch {
	case lead.IsDeleted():
		return CancelLeadDeleted, true
	case lead.Stage.IsTerminal():
		return CancelTerminalStage, true
	case containsStage(e.ExitStages, lead.Stage):
		return CancelExitStage, true
	case e.Trigger.Kind == TriggerInactivity && lead.Stage != e.Trigger.Stage:
		return CancelLeftTriggerStage, true
	}
	return "", false
}

// StepStatus tracks one scheduled send.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepSending   StepStatus = "sending"
	StepSent      StepStatus = "sent"
	StepFailed    StepStatus = "failed"
	StepCancelled StepStatus = "cancelled"
)

// ScheduledStep is a concrete, due-dated send of one enrollment step.
type ScheduledStep struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	EnrollmentID uuid.UUID
	LeadID       uuid.UUID
	SequenceID   uuid.UUID
	StepIndex    int
	Channel      Channel
	TemplateRef  string
	DueAt        time.Time
	Status       StepStatus
	Attempts     int
	LastError    *string
	ClaimedUntil *time.Time
	SentAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewScheduledStep builds the pending send for step index of e.
func NewScheduledStep(e Enrollment, index int, now time.Time) ScheduledStep {
	step := e.Steps[index]
	return ScheduledStep{
		ID:           uuid.New(),
		TenantID:     e.TenantID,
		EnrollmentID: e.ID,
		LeadID:       e.LeadID,
		SequenceID:   e.SequenceID,
		StepIndex:    index,
		Channel:      step.Channel,
		TemplateRef:  step.TemplateRef,
		DueAt:        e.DueAt(index),
		Status:       StepPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsClaimable reports whether a sweep at now may take the step.
func (s ScheduledStep) IsClaimable(now time.Time) bool {
	if s.DueAt.After(now) {
		return false
	}
	switch s.Status {
	case StepPending:
		return true
	case StepSending:
		return s.ClaimedUntil != nil && !s.ClaimedUntil.After(now)
	}
	return false
}
