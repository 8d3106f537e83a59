// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"funnel_backend/platform/events"
	"funnel_backend/platform/logger"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Publisher   = events.Publisher
	Subscriber  = events.Subscriber
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// LeadEvent is implemented by every funnel event that concerns a single lead.
type LeadEvent interface {
	Event
	Subject() (tenantID, leadID uuid.UUID)
}

const (
	NameLeadCaptured       = "funnel.lead.captured"
	NameStageChanged       = "funnel.stage.changed"
	NameLeadScored         = "funnel.lead.scored"
	NameSignalRecorded     = "funnel.signal.recorded"
	NameLeadDeleted        = "funnel.lead.deleted"
	NameSequenceStepSent   = "funnel.sequence.step_sent"
	NameSequenceStepFailed = "funnel.sequence.step_failed"
)

// LeadCaptured is published when a new lead enters the funnel.
type LeadCaptured struct {
	BaseEvent
	TenantID uuid.UUID `json:"tenantId"`
	LeadID   uuid.UUID `json:"leadId"`
	Source   string    `json:"source,omitempty"`
	Stage    string    `json:"stage"`
}

func (e LeadCaptured) EventName() string { return NameLeadCaptured }
func (e LeadCaptured) Subject() (uuid.UUID, uuid.UUID) { return e.TenantID, e.LeadID }

// StageChanged is published after a stage move has been committed.
// FromStage is the stage the lead left; ToStage is the stage it entered.
type StageChanged struct {
	BaseEvent
	TenantID     uuid.UUID  `json:"tenantId"`
	LeadID       uuid.UUID  `json:"leadId"`
	TransitionID uuid.UUID  `json:"transitionId"`
	FromStage    string     `json:"fromStage"`
	ToStage      string     `json:"toStage"`
	Reason       string     `json:"reason,omitempty"`
	ActorID      *uuid.UUID `json:"actorId,omitempty"`
}

func (e StageChanged) EventName() string { return NameStageChanged }
func (e StageChanged) Subject() (uuid.UUID, uuid.UUID) { return e.TenantID, e.LeadID }

// LeadScored is published when a recalculation changed the persisted score.
type LeadScored struct {
	BaseEvent
	TenantID            uuid.UUID `json:"tenantId"`
	LeadID              uuid.UUID `json:"leadId"`
	Score               int       `json:"score"`
	Temperature         string    `json:"temperature"`
	PreviousScore       int       `json:"previousScore"`
	PreviousTemperature string    `json:"previousTemperature"`
}

func (e LeadScored) EventName() string { return NameLeadScored }
func (e LeadScored) Subject() (uuid.UUID, uuid.UUID) { return e.TenantID, e.LeadID }

// SignalRecorded is published when an engagement signal is appended to a lead.
type SignalRecorded struct {
	BaseEvent
	TenantID   uuid.UUID `json:"tenantId"`
	LeadID     uuid.UUID `json:"leadId"`
	SignalType string    `json:"signalType"`
	SignalAt   time.Time `json:"signalAt"`
}

func (e SignalRecorded) EventName() string { return NameSignalRecorded }
func (e SignalRecorded) Subject() (uuid.UUID, uuid.UUID) { return e.TenantID, e.LeadID }

// LeadDeleted is published after a lead has been soft-deleted.
type LeadDeleted struct {
	BaseEvent
	TenantID uuid.UUID `json:"tenantId"`
	LeadID   uuid.UUID `json:"leadId"`
}

func (e LeadDeleted) EventName() string { return NameLeadDeleted }
func (e LeadDeleted) Subject() (uuid.UUID, uuid.UUID) { return e.TenantID, e.LeadID }

// SequenceStepSent is published when a sequence step was delivered.
type SequenceStepSent struct {
	BaseEvent
	TenantID     uuid.UUID `json:"tenantId"`
	LeadID       uuid.UUID `json:"leadId"`
	SequenceID   uuid.UUID `json:"sequenceId"`
	EnrollmentID uuid.UUID `json:"enrollmentId"`
	StepIndex    int       `json:"stepIndex"`
	Channel      string    `json:"channel"`
	TemplateRef  string    `json:"templateRef"`
}

func (e SequenceStepSent) EventName() string { return NameSequenceStepSent }
func (e SequenceStepSent) Subject() (uuid.UUID, uuid.UUID) { return e.TenantID, e.LeadID }

// SequenceStepFailed is published when a step exhausted its delivery attempts.
type SequenceStepFailed struct {
	BaseEvent
	TenantID     uuid.UUID `json:"tenantId"`
	LeadID       uuid.UUID `json:"leadId"`
	SequenceID   uuid.UUID `json:"sequenceId"`
	EnrollmentID uuid.UUID `json:"enrollmentId"`
	StepIndex    int       `json:"stepIndex"`
	Channel      string    `json:"channel"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"lastError"`
}

func (e SequenceStepFailed) EventName() string { return NameSequenceStepFailed }
func (e SequenceStepFailed) Subject() (uuid.UUID, uuid.UUID) { return e.TenantID, e.LeadID }
