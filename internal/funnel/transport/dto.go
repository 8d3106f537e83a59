package transport

import (
	"time"

	"github.com/google/uuid"
)

// Request DTOs

type CaptureLeadRequest struct {
	FirstName string `json:"firstName" validate:"required,min=1,max=100"`
	LastName  string `json:"lastName" validate:"omitempty,max=100"`
	Email     string `json:"email,omitempty" validate:"required_without=Phone,omitempty,email"`
	Phone     string `json:"phone,omitempty" validate:"required_without=Email,omitempty,min=5,max=20"`
	Source    string `json:"source,omitempty" validate:"omitempty,max=100"`
}

type ListLeadsRequest struct {
	Stage       string `form:"stage" validate:"omitempty,funnel_stage"`
	Temperature string `form:"temperature" validate:"omitempty,oneof=COLD WARM HOT"`
	Page        int    `form:"page" validate:"omitempty,min=1"`
	PageSize    int    `form:"pageSize" validate:"omitempty,min=1,max=100"`
}

type MoveStageRequest struct {
	TargetStage string  `json:"targetStage" validate:"required"`
	Reason      *string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type RecordSignalRequest struct {
	SignalType string     `json:"signalType" validate:"required,signal_type"`
	OccurredAt *time.Time `json:"occurredAt,omitempty"`
}

type ScoringRuleDTO struct {
	SignalType          string `json:"signalType" validate:"required,signal_type"`
	Weight              int    `json:"weight" validate:"min=-100,max=100"`
	StalenessWindowDays int    `json:"stalenessWindowDays" validate:"min=0"`
	MaxOccurrences      int    `json:"maxOccurrences" validate:"min=0"`
}

type ReplaceScoringRulesRequest struct {
	WarmAt int              `json:"warmAt" validate:"required,min=1"`
	HotAt  int              `json:"hotAt" validate:"required,gtfield=WarmAt"`
	Rules  []ScoringRuleDTO `json:"rules" validate:"required,min=1,dive"`
}

type TriggerDTO struct {
	Kind            string `json:"kind" validate:"required,oneof=stage_entry inactivity"`
	Stage           string `json:"stage" validate:"required,funnel_stage"`
	InactivityHours int    `json:"inactivityHours,omitempty" validate:"min=0"`
}

type SequenceStepDTO struct {
	TemplateRef string `json:"templateRef" validate:"required,max=200"`
	DelayHours  int    `json:"delayHours" validate:"min=0"`
	Channel     string `json:"channel" validate:"required,oneof=email whatsapp"`
}

type UpsertSequenceRequest struct {
	ID         *uuid.UUID        `json:"id,omitempty"`
	Name       string            `json:"name" validate:"required,min=1,max=200"`
	Trigger    TriggerDTO        `json:"trigger" validate:"required"`
	ExitStages []string          `json:"exitStages,omitempty" validate:"omitempty,dive,funnel_stage"`
	Steps      []SequenceStepDTO `json:"steps" validate:"required,min=1,dive"`
	Active     *bool             `json:"active,omitempty"`
}

type PeriodRequest struct {
	From *time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To   *time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
}

// Response DTOs

type LeadResponse struct {
	ID             uuid.UUID  `json:"id"`
	FirstName      string     `json:"firstName"`
	LastName       string     `json:"lastName"`
	Email          *string    `json:"email,omitempty"`
	Phone          *string    `json:"phone,omitempty"`
	Source         *string    `json:"source,omitempty"`
	Stage          string     `json:"stage"`
	Score          int        `json:"score"`
	Temperature    string     `json:"temperature"`
	StageEnteredAt time.Time  `json:"stageEnteredAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	ScoredAt       *time.Time `json:"scoredAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type LeadListResponse struct {
	Items      []LeadResponse `json:"items"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	TotalPages int            `json:"totalPages"`
}

type TransitionResponse struct {
	ID         uuid.UUID `json:"id"`
	FromStage  *string   `json:"fromStage"`
	ToStage    string    `json:"toStage"`
	Reason     *string   `json:"reason,omitempty"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurredAt"`
}

type ContributionResponse struct {
	SignalType  string `json:"signalType"`
	Occurrences int    `json:"occurrences"`
	Counted     int    `json:"counted"`
	Points      int    `json:"points"`
}

type ScoreResponse struct {
	LeadID        uuid.UUID              `json:"leadId"`
	Score         int                    `json:"score"`
	Temperature   string                 `json:"temperature"`
	Contributions []ContributionResponse `json:"contributions"`
}

type ScoringRulesResponse struct {
	WarmAt    int              `json:"warmAt"`
	HotAt     int              `json:"hotAt"`
	Rules     []ScoringRuleDTO `json:"rules"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

type SequenceResponse struct {
	ID         uuid.UUID         `json:"id"`
	Name       string            `json:"name"`
	Trigger    TriggerDTO        `json:"trigger"`
	ExitStages []string          `json:"exitStages"`
	Steps      []SequenceStepDTO `json:"steps"`
	Active     bool              `json:"active"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

type ScheduledStepResponse struct {
	ID          uuid.UUID  `json:"id"`
	StepIndex   int        `json:"stepIndex"`
	Channel     string     `json:"channel"`
	TemplateRef string     `json:"templateRef"`
	DueAt       time.Time  `json:"dueAt"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   *string    `json:"lastError,omitempty"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
}

type EnrollmentResponse struct {
	ID           uuid.UUID               `json:"id"`
	SequenceID   uuid.UUID               `json:"sequenceId"`
	SequenceName string                  `json:"sequenceName"`
	Status       string                  `json:"status"`
	EnrolledAt   time.Time               `json:"enrolledAt"`
	CompletedAt  *time.Time              `json:"completedAt,omitempty"`
	CancelledAt  *time.Time              `json:"cancelledAt,omitempty"`
	CancelReason *string                 `json:"cancelReason,omitempty"`
	Steps        []ScheduledStepResponse `json:"steps"`
}

type SweepResponse struct {
	Enrolled  int `json:"enrolled"`
	Claimed   int `json:"claimed"`
	Sent      int `json:"sent"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Deferred  int `json:"deferred"`
}

type StageGraphResponse struct {
	Stages []StageNode `json:"stages"`
}

type StageNode struct {
	Stage          string   `json:"stage"`
	Terminal       bool     `json:"terminal"`
	AllowedTargets []string `json:"allowedTargets"`
}

type ExportResponse struct {
	FileKey   string    `json:"fileKey"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
