// Package leads handles lead capture, lookup, listing and soft deletion.
package leads

import (
	"context"
	"errors"
	"strings"
	"time"

	"funnel_backend/internal/events"
	"funnel_backend/internal/funnel/domain"
	"funnel_backend/internal/funnel/repository"
	"funnel_backend/internal/funnel/transport"
	"funnel_backend/platform/apperr"
	"funnel_backend/platform/logger"
	"funnel_backend/platform/phone"
	"funnel_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	msgLeadNotFound = "lead not found"
)

// Service handles lead lifecycle operations.
type Service struct {
	repo        repository.LeadStore
	bus         events.Publisher
	log         *logger.Logger
	phoneRegion string
	now         func() time.Time
}

// New creates a lead service. phoneRegion is the default region for phone
// numbers captured without a country prefix.
func New(repo repository.LeadStore, bus events.Publisher, log *logger.Logger, phoneRegion string) *Service {
	return &Service{repo: repo, bus: bus, log: log, phoneRegion: phoneRegion, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Capture creates a lead at the initial stage with score 0 and COLD temperature.
func (s *Service) Capture(ctx context.Context, tenantID uuid.UUID, req transport.CaptureLeadRequest) (domain.Lead, error) {
	firstName := sanitize.Text(req.FirstName)
	if firstName == "" {
		return domain.Lead{}, apperr.Validation("firstName is required")
	}

	now := s.now().UTC()
	lead := domain.Lead{
		ID:             uuid.New(),
		TenantID:       tenantID,
		FirstName:      firstName,
		LastName:       sanitize.Text(req.LastName),
		Email:          optional(strings.ToLower(strings.TrimSpace(req.Email))),
		Source:         sanitize.TextPtr(optional(req.Source)),
		Stage:          domain.InitialStage,
		Score:          0,
		Temperature:    domain.TemperatureCold,
		StageEnteredAt: now,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p := strings.TrimSpace(req.Phone); p != "" {
		if !phone.IsValid(p, s.phoneRegion) {
			return domain.Lead{}, apperr.Validation("phone is not a valid number")
		}
		normalized := phone.NormalizeE164(p, s.phoneRegion)
		lead.Phone = &normalized
	}

	created, err := s.repo.CreateLead(ctx, lead)
	if err != nil {
		return domain.Lead{}, err
	}

	source := ""
	if created.Source != nil {
		source = *created.Source
	}
	s.bus.Publish(ctx, events.LeadCaptured{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  tenantID,
		LeadID:    created.ID,
		Source:    source,
		Stage:     string(created.Stage),
	})
	s.log.WithContext(ctx).Info("lead captured", "leadId", created.ID)
	return created, nil
}

// Get returns a live lead of the tenant.
func (s *Service) Get(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error) {
	lead, err := s.repo.GetLead(ctx, tenantID, leadID)
	if err != nil {
		return domain.Lead{}, mapNotFound(err)
	}
	return lead, nil
}

// List returns a page of the tenant's live leads.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, req transport.ListLeadsRequest) (transport.LeadListResponse, error) {
	params := repository.ListLeadsParams{TenantID: tenantID, Page: req.Page, PageSize: req.PageSize}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}
	if req.Stage != "" {
		stage, ok := domain.ParseStage(req.Stage)
		if !ok {
			return transport.LeadListResponse{}, apperr.Validation("unknown stage filter")
		}
		params.Stage = &stage
	}
	if req.Temperature != "" {
		temperature, ok := domain.ParseTemperature(req.Temperature)
		if !ok {
			return transport.LeadListResponse{}, apperr.Validation("unknown temperature filter")
		}
		params.Temperature = &temperature
	}

	leads, total, err := s.repo.ListLeads(ctx, params)
	if err != nil {
		return transport.LeadListResponse{}, err
	}
	return transport.ToLeadListResponse(leads, total, params.Page, params.PageSize), nil
}

// SoftDelete hides the lead from every query. History stays in place.
// Subscribers of LeadDeleted cancel the lead's automation synchronously.
func (s *Service) SoftDelete(ctx context.Context, tenantID, leadID uuid.UUID) error {
	if err := s.repo.SoftDeleteLead(ctx, tenantID, leadID, s.now().UTC()); err != nil {
		return mapNotFound(err)
	}
	if err := s.bus.PublishSync(ctx, events.LeadDeleted{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  tenantID,
		LeadID:    leadID,
	}); err != nil {
		s.log.WithContext(ctx).Error("lead deleted handlers failed", "leadId", leadID, "error", err)
	}
	return nil
}

// History returns the lead's stage transitions in order.
func (s *Service) History(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.StageTransition, error) {
	transitions, err := s.repo.ListTransitions(ctx, tenantID, leadID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return transitions, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(msgLeadNotFound)
	}
	return err
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
