package leads

import (
	"context"
	"testing"
	"time"

	"funnel_backend/internal/events"
	"funnel_backend/internal/funnel/domain"
	"funnel_backend/internal/funnel/repository"
	"funnel_backend/internal/funnel/transport"
	"funnel_backend/platform/apperr"
	"funnel_backend/platform/logger"

	"github.com/google/uuid"
)

var fixedNow = time.Date(2026, 1, 19, 8, 30, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *repository.MemoryRepository, *events.InMemoryBus) {
	t.Helper()
	log := logger.New("test")
	repo := repository.NewMemoryRepository()
	bus := events.NewInMemoryBus(log)
	return New(repo, bus, log, "CO").WithClock(func() time.Time { return fixedNow }), repo, bus
}

func TestCaptureStartsAtInitialStage(t *testing.T) {
	svc, _, bus := newService(t)
	tenantID := uuid.New()

	var captured []events.LeadCaptured
	bus.Subscribe(events.NameLeadCaptured, events.HandlerFunc(func(_ context.Context, e events.Event) error {
		captured = append(captured, e.(events.LeadCaptured))
		return nil
	}))

	lead, err := svc.Capture(context.Background(), tenantID, transport.CaptureLeadRequest{
		FirstName: " <i>María</i> ",
		LastName:  "Gómez",
		Email:     " Maria.Gomez@Example.com ",
		Phone:     "300 123 4567",
		Source:    "instagram",
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	bus.Wait()

	if lead.Stage != domain.StageNuevo || lead.Score != 0 || lead.Temperature != domain.TemperatureCold {
		t.Fatalf("expected NUEVO/0/COLD, got %s/%d/%s", lead.Stage, lead.Score, lead.Temperature)
	}
	if lead.FirstName != "María" {
		t.Fatalf("expected sanitized first name, got %q", lead.FirstName)
	}
	if lead.Email == nil || *lead.Email != "maria.gomez@example.com" {
		t.Fatalf("expected normalized email, got %v", lead.Email)
	}
	if lead.Phone == nil || *lead.Phone != "+573001234567" {
		t.Fatalf("expected E.164 phone, got %v", lead.Phone)
	}
	if !lead.StageEnteredAt.Equal(fixedNow) {
		t.Fatalf("expected stage entered at %s, got %s", fixedNow, lead.StageEnteredAt)
	}
	if len(captured) != 1 || captured[0].LeadID != lead.ID || captured[0].Source != "instagram" {
		t.Fatalf("expected one LeadCaptured event, got %+v", captured)
	}
}

func TestCaptureRejectsInvalidPhone(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Capture(context.Background(), uuid.New(), transport.CaptureLeadRequest{FirstName: "Juan", Phone: "12"})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	svc, _, _ := newService(t)
	tenantID := uuid.New()
	for i := 0; i < 5; i++ {
		if _, err := svc.Capture(context.Background(), tenantID, transport.CaptureLeadRequest{FirstName: "Lead", Email: "lead@example.com"}); err != nil {
			t.Fatalf("capture: %v", err)
		}
	}
	if _, err := svc.Capture(context.Background(), uuid.New(), transport.CaptureLeadRequest{FirstName: "Other", Email: "other@example.com"}); err != nil {
		t.Fatalf("capture: %v", err)
	}

	page, err := svc.List(context.Background(), tenantID, transport.ListLeadsRequest{Stage: "nuevo", Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 5 || len(page.Items) != 2 || page.TotalPages != 3 {
		t.Fatalf("unexpected page: total=%d items=%d pages=%d", page.Total, len(page.Items), page.TotalPages)
	}

	if _, err := svc.List(context.Background(), tenantID, transport.ListLeadsRequest{Stage: "ARCHIVADO"}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for unknown stage, got %v", err)
	}
}

func TestSoftDeleteHidesLeadAndNotifiesSynchronously(t *testing.T) {
	svc, _, bus := newService(t)
	tenantID := uuid.New()
	lead, err := svc.Capture(context.Background(), tenantID, transport.CaptureLeadRequest{FirstName: "Sofía", Email: "sofia@example.com"})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	deleted := false
	bus.Subscribe(events.NameLeadDeleted, events.HandlerFunc(func(context.Context, events.Event) error {
		deleted = true
		return nil
	}))

	if err := svc.SoftDelete(context.Background(), tenantID, lead.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if !deleted {
		t.Fatalf("expected LeadDeleted handled before SoftDelete returns")
	}
	if _, err := svc.Get(context.Background(), tenantID, lead.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected deleted lead to be hidden, got %v", err)
	}
	if err := svc.SoftDelete(context.Background(), tenantID, lead.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected second delete to be not found, got %v", err)
	}
}

func TestGetIsTenantScoped(t *testing.T) {
	svc, _, _ := newService(t)
	lead, err := svc.Capture(context.Background(), uuid.New(), transport.CaptureLeadRequest{FirstName: "Pedro", Email: "pedro@example.com"})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	if _, err := svc.Get(context.Background(), uuid.New(), lead.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for foreign tenant, got %v", err)
	}
	if _, err := svc.History(context.Background(), uuid.New(), lead.ID); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found history for foreign tenant, got %v", err)
	}
}
