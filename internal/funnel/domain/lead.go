package domain

import (
	"time"

	"github.com/google/uuid"
)

// Lead is a prospective student tracked through the funnel.
type Lead struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	FirstName      string
	LastName       string
	Email          *string
	Phone          *string
	Source         *string
	Stage          Stage
	Score          int
	Temperature    Temperature
	StageEnteredAt time.Time
	LastActivityAt time.Time
	ScoredAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// IsDeleted reports whether the lead was soft-deleted.
func (l Lead) IsDeleted() bool {
	return l.DeletedAt != nil
}

// LastTouchedAt is the later of the stage entry and the last recorded activity.
func (l Lead) LastTouchedAt() time.Time {
	if l.LastActivityAt.After(l.StageEnteredAt) {
		return l.LastActivityAt
	}
	return l.StageEnteredAt
}

// StageTransition is an append-only record of a stage move. FromStage is nil
// only for records that capture a lead's entry into the funnel.
type StageTransition struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	LeadID     uuid.UUID
	FromStage  *Stage
	ToStage    Stage
	Reason     *string
	ActorID    *uuid.UUID
	OccurredAt time.Time
}

// Actor renders the actor for display: "system" or the user id.
func (t StageTransition) Actor() string {
	if t.ActorID == nil {
		return "system"
	}
	return t.ActorID.String()
}
