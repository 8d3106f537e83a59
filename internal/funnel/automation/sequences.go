package automation

import (
	"context"
	"errors"
	"time"

	"funnel_backend/internal/funnel/domain"
	"funnel_backend/internal/funnel/repository"
	"funnel_backend/internal/funnel/transport"
	"funnel_backend/platform/apperr"
	"funnel_backend/platform/logger"

	"github.com/google/uuid"
)

const msgSequenceNotFound = "sequence not found"

// SequenceService manages sequence definitions and exposes enrollments.
type SequenceService struct {
	store Store
	log   *logger.Logger
	now   func() time.Time
}

// NewSequenceService creates a sequence service.
func NewSequenceService(store Store, log *logger.Logger) *SequenceService {
	return &SequenceService{store: store, log: log, now: time.Now}
}

// WithClock overrides the time source.
func (s *SequenceService) WithClock(now func() time.Time) *SequenceService {
	s.now = now
	return s
}

// List returns the tenant's sequences, active and inactive.
func (s *SequenceService) List(ctx context.Context, tenantID uuid.UUID) ([]domain.Sequence, error) {
	return s.store.ListSequences(ctx, tenantID, false)
}

// Upsert validates and stores a sequence. Existing enrollments keep the
// snapshot they were created with.
func (s *SequenceService) Upsert(ctx context.Context, tenantID uuid.UUID, req transport.UpsertSequenceRequest) (domain.Sequence, error) {
	seq := transport.ToSequence(req)
	if err := seq.Validate(); err != nil {
		return domain.Sequence{}, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}

	now := s.now().UTC()
	seq.TenantID = tenantID
	seq.CreatedAt = now
	seq.UpdatedAt = now

	saved, err := s.store.UpsertSequence(ctx, seq)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Sequence{}, apperr.NotFound(msgSequenceNotFound)
	}
	if err != nil {
		return domain.Sequence{}, err
	}
	s.log.WithContext(ctx).Info("sequence saved", "sequenceId", saved.ID, "name", saved.Name, "active", saved.Active)
	return saved, nil
}

// Deactivate stops a sequence from enrolling leads and cancels its active
// enrollments.
func (s *SequenceService) Deactivate(ctx context.Context, tenantID, sequenceID uuid.UUID) error {
	err := s.store.DeactivateSequence(ctx, tenantID, sequenceID, s.now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(msgSequenceNotFound)
	}
	return err
}

// ListEnrollments returns every enrollment of a lead with its scheduled steps.
func (s *SequenceService) ListEnrollments(ctx context.Context, tenantID, leadID uuid.UUID) ([]transport.EnrollmentResponse, error) {
	if _, err := s.store.GetLead(ctx, tenantID, leadID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("lead not found")
		}
		return nil, err
	}

	enrollments, err := s.store.ListEnrollments(ctx, tenantID, leadID)
	if err != nil {
		return nil, err
	}
	out := make([]transport.EnrollmentResponse, 0, len(enrollments))
	for _, e := range enrollments {
		steps, err := s.store.ListSteps(ctx, tenantID, e.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, transport.ToEnrollmentResponse(e, steps))
	}
	return out, nil
}
