// Package stages moves leads through the funnel's stage graph.
package stages

import (
	"context"
	"errors"
	"time"

	"funnel_backend/internal/events"
	"funnel_backend/internal/funnel/domain"
	"funnel_backend/internal/funnel/repository"
	"funnel_backend/platform/apperr"
	"funnel_backend/platform/logger"
	"funnel_backend/platform/sanitize"

	"github.com/google/uuid"
)

// Service validates and applies stage transitions.
type Service struct {
	repo repository.LeadStore
	bus  events.Publisher
	log  *logger.Logger
	now  func() time.Time
}

// New creates a stage transition service.
func New(repo repository.LeadStore, bus events.Publisher, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: bus, log: log, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// MoveStage moves a lead to target. The check against the edge table, the
// stage update and the history entry happen under the lead's row lock, so
// concurrent moves of the same lead serialize and the loser sees the
// winner's stage. A nil actor records the system as the author.
//
// After commit the StageChanged event is published synchronously so that
// automation enrollment has happened by the time MoveStage returns. Handler
// failures are logged; the move itself stands.
func (s *Service) MoveStage(ctx context.Context, tenantID, leadID uuid.UUID, target domain.Stage, reason *string, actor *uuid.UUID) (domain.Lead, error) {
	cleanReason := sanitize.TextPtr(reason)

	lead, transition, err := s.repo.ApplyStageTransition(ctx, tenantID, leadID, func(current domain.Lead) (domain.StageTransition, error) {
		if err := domain.ValidateTransition(current.Stage, target); err != nil {
			return domain.StageTransition{}, err
		}
		from := current.Stage
		occurredAt := s.now().UTC().Truncate(time.Microsecond)
		if occurredAt.Before(current.StageEnteredAt) {
			// clock stepped back; history and stage_entered_at stay monotonic
			occurredAt = current.StageEnteredAt
		}
		return domain.StageTransition{
			ID:         uuid.New(),
			TenantID:   tenantID,
			LeadID:     leadID,
			FromStage:  &from,
			ToStage:    target,
			Reason:     cleanReason,
			ActorID:    actor,
			OccurredAt: occurredAt,
		}, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Lead{}, apperr.NotFound("lead not found")
		}
		return domain.Lead{}, err
	}

	event := events.StageChanged{
		BaseEvent:    events.NewBaseEvent(),
		TenantID:     tenantID,
		LeadID:       leadID,
		TransitionID: transition.ID,
		FromStage:    string(*transition.FromStage),
		ToStage:      string(transition.ToStage),
		ActorID:      actor,
	}
	if cleanReason != nil {
		event.Reason = *cleanReason
	}

	log := s.log.WithContext(ctx)
	if err := s.bus.PublishSync(ctx, event); err != nil {
		log.Error("stage changed handlers failed", "leadId", leadID, "toStage", target, "error", err)
	}
	log.Info("lead stage changed", "leadId", leadID, "from", event.FromStage, "to", event.ToStage)
	return lead, nil
}
