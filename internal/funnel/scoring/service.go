// Package scoring records engagement signals and derives each lead's score
// and temperature from the tenant's rule table.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"funnel_backend/internal/events"
	"funnel_backend/internal/funnel/domain"
	"funnel_backend/internal/funnel/repository"
	"funnel_backend/platform/apperr"
	"funnel_backend/platform/logger"

	"github.com/google/uuid"
)

const msgNoRules = "tenant has no scoring rules configured"

// Service evaluates and persists lead scores.
type Service struct {
	repo repository.ScoreStore
	bus  events.Publisher
	log  *logger.Logger
	now  func() time.Time
}

// New creates a scoring service.
func New(repo repository.ScoreStore, bus events.Publisher, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: bus, log: log, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Recalculate scores the lead from its full signal set and persists the
// result. With an unchanged clock, signals and rules it always yields the
// same score.
func (s *Service) Recalculate(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, domain.ScoreResult, error) {
	rules, err := s.rules(ctx, tenantID)
	if err != nil {
		return domain.Lead{}, domain.ScoreResult{}, err
	}
	return s.apply(ctx, tenantID, leadID, rules)
}

// RecordSignal appends a signal occurrence and recalculates. A tenant without
// rules gets MisconfiguredRules and nothing is recorded.
func (s *Service) RecordSignal(ctx context.Context, tenantID, leadID uuid.UUID, signalType string, occurredAt *time.Time) (domain.Lead, domain.ScoreResult, error) {
	signalType = strings.TrimSpace(signalType)
	if signalType == "" {
		return domain.Lead{}, domain.ScoreResult{}, apperr.Validation("signalType is required")
	}

	rules, err := s.rules(ctx, tenantID)
	if err != nil {
		return domain.Lead{}, domain.ScoreResult{}, err
	}
	if !isAcceptedSignal(rules, signalType) {
		return domain.Lead{}, domain.ScoreResult{}, apperr.Validation(fmt.Sprintf("unknown signal type %q", signalType))
	}

	now := s.now().UTC()
	at := now
	if occurredAt != nil {
		if occurredAt.After(now) {
			return domain.Lead{}, domain.ScoreResult{}, apperr.Validation("occurredAt cannot be in the future")
		}
		at = occurredAt.UTC()
	}

	signal := domain.Signal{
		ID:         uuid.New(),
		TenantID:   tenantID,
		LeadID:     leadID,
		Type:       signalType,
		OccurredAt: at,
		RecordedAt: now,
	}
	if err := s.repo.AppendSignal(ctx, signal); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Lead{}, domain.ScoreResult{}, apperr.NotFound("lead not found")
		}
		return domain.Lead{}, domain.ScoreResult{}, err
	}

	s.bus.Publish(ctx, events.SignalRecorded{
		BaseEvent:  events.NewBaseEvent(),
		TenantID:   tenantID,
		LeadID:     leadID,
		SignalType: signalType,
		SignalAt:   at,
	})

	return s.apply(ctx, tenantID, leadID, rules)
}

// GetRules returns the tenant's rule table.
func (s *Service) GetRules(ctx context.Context, tenantID uuid.UUID) (domain.RuleSet, error) {
	return s.rules(ctx, tenantID)
}

// ReplaceRules validates and stores a complete rule table for the tenant.
// Existing scores are not rewritten; they change on the next recalculation.
func (s *Service) ReplaceRules(ctx context.Context, tenantID uuid.UUID, rules domain.RuleSet) (domain.RuleSet, error) {
	rules.TenantID = tenantID
	rules.UpdatedAt = s.now().UTC()
	if err := rules.Validate(); err != nil {
		return domain.RuleSet{}, apperr.Validation(err.Error())
	}
	if err := s.repo.ReplaceRuleSet(ctx, rules); err != nil {
		return domain.RuleSet{}, err
	}
	s.log.WithContext(ctx).Info("scoring rules replaced", "rules", len(rules.Rules))
	return rules, nil
}

func (s *Service) rules(ctx context.Context, tenantID uuid.UUID) (domain.RuleSet, error) {
	rules, err := s.repo.GetRuleSet(ctx, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.RuleSet{}, apperr.Misconfigured(msgNoRules)
	}
	if err != nil {
		return domain.RuleSet{}, fmt.Errorf("load scoring rules: %w", err)
	}
	return rules, nil
}

func (s *Service) apply(ctx context.Context, tenantID, leadID uuid.UUID, rules domain.RuleSet) (domain.Lead, domain.ScoreResult, error) {
	now := s.now().UTC()
	var result domain.ScoreResult
	before, after, err := s.repo.ApplyScore(ctx, tenantID, leadID, now, func(_ domain.Lead, signals []domain.Signal) (domain.ScoreResult, error) {
		result = domain.Evaluate(signals, rules, now)
		return result, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Lead{}, domain.ScoreResult{}, apperr.NotFound("lead not found")
		}
		return domain.Lead{}, domain.ScoreResult{}, err
	}

	if before.Score != after.Score || before.Temperature != after.Temperature {
		s.bus.Publish(ctx, events.LeadScored{
			BaseEvent:           events.NewBaseEvent(),
			TenantID:            tenantID,
			LeadID:              leadID,
			Score:               after.Score,
			Temperature:         string(after.Temperature),
			PreviousScore:       before.Score,
			PreviousTemperature: string(before.Temperature),
		})
		s.log.WithContext(ctx).Info("lead rescored", "leadId", leadID, "score", after.Score, "temperature", after.Temperature)
	}
	return after, result, nil
}

// isAcceptedSignal accepts the built-in types plus any type the tenant scores.
func isAcceptedSignal(rules domain.RuleSet, signalType string) bool {
	if _, ok := rules.Rules[signalType]; ok {
		return true
	}
	for _, known := range domain.KnownSignalTypes {
		if known == signalType {
			return true
		}
	}
	return false
}
