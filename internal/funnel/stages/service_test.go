package stages

import (
	"context"
	"testing"
	"time"

	"funnel_backend/internal/eventrelay"
	"funnel_backend/internal/events"
	"funnel_backend/internal/funnel/domain"
	"funnel_backend/internal/funnel/repository"
	"funnel_backend/platform/apperr"
	"funnel_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

var fixedNow = time.Date(2026, 4, 6, 15, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *repository.MemoryRepository, *events.InMemoryBus) {
	t.Helper()
	log := logger.New("test")
	repo := repository.NewMemoryRepository()
	bus := events.NewInMemoryBus(log)
	svc := New(repo, bus, log).WithClock(func() time.Time { return fixedNow })
	return svc, repo, bus
}

func seedLead(t *testing.T, repo *repository.MemoryRepository, tenantID uuid.UUID) domain.Lead {
	t.Helper()
	lead, err := repo.CreateLead(context.Background(), domain.Lead{
		TenantID:       tenantID,
		FirstName:      "Andrés",
		Stage:          domain.StageNuevo,
		Temperature:    domain.TemperatureCold,
		StageEnteredAt: fixedNow.Add(-time.Hour),
		LastActivityAt: fixedNow.Add(-time.Hour),
		CreatedAt:      fixedNow.Add(-time.Hour),
		UpdatedAt:      fixedNow.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	return lead
}

func TestMoveStageAlongMainPathRecordsHistory(t *testing.T) {
	svc, repo, _ := newService(t)
	tenantID := uuid.New()
	lead := seedLead(t, repo, tenantID)
	actor := uuid.New()

	for _, target := range []domain.Stage{domain.StageContactado, domain.StageInteresado, domain.StageCalificado} {
		moved, err := svc.MoveStage(context.Background(), tenantID, lead.ID, target, nil, &actor)
		if err != nil {
			t.Fatalf("move to %s: %v", target, err)
		}
		if moved.Stage != target || !moved.StageEnteredAt.Equal(fixedNow) {
			t.Fatalf("expected lead in %s since %s, got %s since %s", target, fixedNow, moved.Stage, moved.StageEnteredAt)
		}
	}

	history, err := repo.ListTransitions(context.Background(), tenantID, lead.ID)
	if err != nil {
		t.Fatalf("list transitions: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(history))
	}
	if *history[0].FromStage != domain.StageNuevo || history[2].ToStage != domain.StageCalificado {
		t.Fatalf("unexpected history order: %+v", history)
	}
	if history[1].Actor() != actor.String() {
		t.Fatalf("expected actor %s, got %s", actor, history[1].Actor())
	}
}

func TestMoveStageRejections(t *testing.T) {
	tests := []struct {
		name   string
		path   []domain.Stage
		target domain.Stage
		kind   apperr.Kind
	}{
		{name: "skip ahead", target: domain.StageNegociacion, kind: apperr.KindInvalidTransition},
		{name: "self move", target: domain.StageNuevo, kind: apperr.KindInvalidTransition},
		{name: "unknown stage", target: domain.Stage("ARCHIVADO"), kind: apperr.KindInvalidTransition},
		{name: "out of lost", path: []domain.Stage{domain.StagePerdido}, target: domain.StageContactado, kind: apperr.KindTerminalStage},
		{
			name:   "out of enrolled",
			path:   []domain.Stage{domain.StageInteresado, domain.StageCalificado, domain.StageNegociacion, domain.StageMatriculado},
			target: domain.StagePerdido,
			kind:   apperr.KindTerminalStage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _ := newService(t)
			tenantID := uuid.New()
			lead := seedLead(t, repo, tenantID)
			for _, step := range tt.path {
				if _, err := svc.MoveStage(context.Background(), tenantID, lead.ID, step, nil, nil); err != nil {
					t.Fatalf("setup move to %s: %v", step, err)
				}
			}
			before, _ := repo.ListTransitions(context.Background(), tenantID, lead.ID)

			_, err := svc.MoveStage(context.Background(), tenantID, lead.ID, tt.target, nil, nil)
			if !apperr.Is(err, tt.kind) {
				t.Fatalf("expected %s, got %v", tt.kind.Code(), err)
			}
			after, _ := repo.ListTransitions(context.Background(), tenantID, lead.ID)
			if len(after) != len(before) {
				t.Fatalf("rejected move must not write history")
			}
		})
	}
}

func TestMoveStagePublishesStageChanged(t *testing.T) {
	svc, repo, bus := newService(t)
	tenantID := uuid.New()
	lead := seedLead(t, repo, tenantID)

	var got []events.StageChanged
	bus.Subscribe(events.NameStageChanged, events.HandlerFunc(func(_ context.Context, e events.Event) error {
		got = append(got, e.(events.StageChanged))
		return nil
	}))

	reason := "  respondió <b>WhatsApp</b> "
	if _, err := svc.MoveStage(context.Background(), tenantID, lead.ID, domain.StageContactado, &reason, nil); err != nil {
		t.Fatalf("move: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one StageChanged event, got %d", len(got))
	}
	if got[0].FromStage != "NUEVO" || got[0].ToStage != "CONTACTADO" || got[0].Reason != "respondió WhatsApp" {
		t.Fatalf("unexpected event: %+v", got[0])
	}
}

func TestMoveStageIsTenantScoped(t *testing.T) {
	svc, repo, _ := newService(t)
	lead := seedLead(t, repo, uuid.New())

	_, err := svc.MoveStage(context.Background(), uuid.New(), lead.ID, domain.StageContactado, nil, nil)
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for foreign tenant, got %v", err)
	}
}

func TestMoveStageKeepsHistoryOrderedWhenClockStepsBack(t *testing.T) {
	svc, repo, _ := newService(t)
	tenantID := uuid.New()
	lead := seedLead(t, repo, tenantID)

	if _, err := svc.MoveStage(context.Background(), tenantID, lead.ID, domain.StageContactado, nil, nil); err != nil {
		t.Fatalf("move to CONTACTADO: %v", err)
	}
	svc.WithClock(func() time.Time { return fixedNow.Add(-10 * time.Minute) })
	moved, err := svc.MoveStage(context.Background(), tenantID, lead.ID, domain.StageInteresado, nil, nil)
	if err != nil {
		t.Fatalf("move to INTERESADO: %v", err)
	}
	if moved.StageEnteredAt.Before(fixedNow) {
		t.Fatalf("stage_entered_at went backwards to %s", moved.StageEnteredAt)
	}

	history, err := repo.ListTransitions(context.Background(), tenantID, lead.ID)
	if err != nil {
		t.Fatalf("list transitions: %v", err)
	}
	if len(history) != 2 || history[0].ToStage != domain.StageContactado || history[1].ToStage != domain.StageInteresado {
		t.Fatalf("unexpected history: %+v", history)
	}
	if history[1].OccurredAt.Before(history[0].OccurredAt) {
		t.Fatalf("transition times out of order: %s then %s", history[0].OccurredAt, history[1].OccurredAt)
	}
}

type stalledBroker struct {
	release chan struct{}
}

func (b *stalledBroker) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *stalledBroker) Close() error { return nil }

func TestMoveStageDoesNotWaitForEventBroker(t *testing.T) {
	svc, repo, bus := newService(t)
	broker := &stalledBroker{release: make(chan struct{})}
	relay := eventrelay.New(broker, logger.New("test"))
	relay.Subscribe(bus)
	tenantID := uuid.New()
	lead := seedLead(t, repo, tenantID)

	start := time.Now()
	if _, err := svc.MoveStage(context.Background(), tenantID, lead.ID, domain.StageContactado, nil, nil); err != nil {
		t.Fatalf("move: %v", err)
	}
	elapsed := time.Since(start)

	close(broker.release)
	if err := relay.Close(); err != nil {
		t.Fatalf("close relay: %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("MoveStage blocked on the broker for %s", elapsed)
	}
}
