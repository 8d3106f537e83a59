package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"funnel_backend/internal/events"
	"funnel_backend/internal/funnel/domain"
	"funnel_backend/internal/funnel/ports"
	"funnel_backend/internal/funnel/repository"
	"funnel_backend/platform/lock"
	"funnel_backend/platform/logger"

	"github.com/google/uuid"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recordingSender struct {
	mu   sync.Mutex
	sent []ports.Message
	err  error
	// failFor fails only the listed leads.
	failFor map[uuid.UUID]error
	// onSend runs before delivery, outside the lock.
	onSend func(ports.Message)
	delay  time.Duration

	inFlight    int
	maxInFlight int
}

func (s *recordingSender) Send(_ context.Context, msg ports.Message) error {
	if s.onSend != nil {
		s.onSend(msg)
	}

	s.mu.Lock()
	s.inFlight++
	s.maxInFlight = max(s.maxInFlight, s.inFlight)
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if s.err != nil {
		return s.err
	}
	if err := s.failFor[msg.LeadID]; err != nil {
		return err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type recordingWaker struct {
	mu    sync.Mutex
	wakes []time.Time
}

func (w *recordingWaker) WakeAt(_ context.Context, _ uuid.UUID, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.wakes = append(w.wakes, at)
	return nil
}

type fixture struct {
	repo       *repository.MemoryRepository
	sender     *recordingSender
	waker      *recordingWaker
	locker     *lock.MemoryLocker
	bus        *events.InMemoryBus
	dispatcher *Dispatcher
	tenantID   uuid.UUID
	now        time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	log := logger.New("test")
	f := &fixture{
		repo:     repository.NewMemoryRepository(),
		sender:   &recordingSender{},
		waker:    &recordingWaker{},
		locker:   lock.NewMemoryLocker(),
		bus:      events.NewInMemoryBus(log),
		tenantID: uuid.New(),
		now:      t0,
	}
	f.dispatcher = NewDispatcher(f.repo, f.sender, f.locker, f.waker, f.bus, log, cfg).
		WithClock(func() time.Time { return f.now })
	f.dispatcher.RegisterHandlers(f.bus)
	return f
}

func (f *fixture) addLead(t *testing.T, stage domain.Stage) domain.Lead {
	t.Helper()
	email := "lead@example.com"
	lead, err := f.repo.CreateLead(context.Background(), domain.Lead{
		ID:             uuid.New(),
		TenantID:       f.tenantID,
		FirstName:      "Camila",
		LastName:       "Rojas",
		Email:          &email,
		Stage:          stage,
		Temperature:    domain.TemperatureCold,
		StageEnteredAt: f.now,
		LastActivityAt: f.now,
		CreatedAt:      f.now,
		UpdatedAt:      f.now,
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	return lead
}

func (f *fixture) addSequence(t *testing.T, seq domain.Sequence) domain.Sequence {
	t.Helper()
	seq.TenantID = f.tenantID
	seq.Active = true
	saved, err := f.repo.UpsertSequence(context.Background(), seq)
	if err != nil {
		t.Fatalf("upsert sequence: %v", err)
	}
	return saved
}

func (f *fixture) move(t *testing.T, lead domain.Lead, to domain.Stage) {
	t.Helper()
	_, transition, err := f.repo.ApplyStageTransition(context.Background(), f.tenantID, lead.ID, func(current domain.Lead) (domain.StageTransition, error) {
		from := current.Stage
		return domain.StageTransition{ID: uuid.New(), TenantID: f.tenantID, LeadID: lead.ID, FromStage: &from, ToStage: to, OccurredAt: f.now}, nil
	})
	if err != nil {
		t.Fatalf("apply transition: %v", err)
	}
	if err := f.bus.PublishSync(context.Background(), events.StageChanged{
		BaseEvent:    events.NewBaseEvent(),
		TenantID:     f.tenantID,
		LeadID:       lead.ID,
		TransitionID: transition.ID,
		FromStage:    string(*transition.FromStage),
		ToStage:      string(to),
	}); err != nil {
		t.Fatalf("stage changed handlers: %v", err)
	}
}

func (f *fixture) sweep(t *testing.T) SweepReport {
	t.Helper()
	report, err := f.dispatcher.SweepDueSteps(context.Background(), f.now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	f.bus.Wait()
	return report
}

func (f *fixture) enrollments(t *testing.T, lead domain.Lead) []domain.Enrollment {
	t.Helper()
	out, err := f.repo.ListEnrollments(context.Background(), f.tenantID, lead.ID)
	if err != nil {
		t.Fatalf("list enrollments: %v", err)
	}
	return out
}

func welcomeSequence() domain.Sequence {
	return domain.Sequence{
		Name:       "bienvenida",
		Trigger:    domain.Trigger{Kind: domain.TriggerStageEntry, Stage: domain.StageContactado},
		ExitStages: []domain.Stage{domain.StageCalificado},
		Steps: []domain.SequenceStep{
			{TemplateRef: "welcome", DelayHours: 0, Channel: domain.ChannelEmail},
			{TemplateRef: "masterclass-invite", DelayHours: 24, Channel: domain.ChannelWhatsApp},
		},
	}
}

func TestStageEntryEnrollsAndSendsEachStepOnce(t *testing.T) {
	f := newFixture(t, Config{})
	f.addSequence(t, welcomeSequence())
	lead := f.addLead(t, domain.StageNuevo)

	f.move(t, lead, domain.StageContactado)

	if got := f.enrollments(t, lead); len(got) != 1 || got[0].Status != domain.EnrollmentActive {
		t.Fatalf("expected one active enrollment, got %+v", got)
	}

	report := f.sweep(t)
	if report.Sent != 1 || f.sender.count() != 1 {
		t.Fatalf("expected first step sent once, report=%+v sent=%d", report, f.sender.count())
	}
	msg := f.sender.sent[0]
	if msg.TemplateRef != "welcome" || msg.Variables["stage"] != string(domain.StageContactado) || msg.Variables["step"] != "1" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	// The second step is not due yet and the first is already sent.
	if report := f.sweep(t); report.Claimed != 0 || f.sender.count() != 1 {
		t.Fatalf("expected nothing to send, report=%+v sent=%d", report, f.sender.count())
	}
	if len(f.waker.wakes) == 0 || !f.waker.wakes[len(f.waker.wakes)-1].Equal(t0.Add(24*time.Hour)) {
		t.Fatalf("expected a wake-up at the second step due time, got %v", f.waker.wakes)
	}

	f.now = t0.Add(24 * time.Hour)
	if report := f.sweep(t); report.Sent != 1 {
		t.Fatalf("expected second step sent, report=%+v", report)
	}
	if got := f.enrollments(t, lead); got[0].Status != domain.EnrollmentCompleted {
		t.Fatalf("expected completed enrollment, got %s", got[0].Status)
	}
	if f.sender.sent[1].Channel != domain.ChannelWhatsApp {
		t.Fatalf("expected whatsapp channel for second step, got %s", f.sender.sent[1].Channel)
	}
}

func TestOnStageChangedIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	f.addSequence(t, welcomeSequence())
	lead := f.addLead(t, domain.StageContactado)

	for i := 0; i < 3; i++ {
		if err := f.dispatcher.OnStageChanged(context.Background(), f.tenantID, lead.ID); err != nil {
			t.Fatalf("OnStageChanged: %v", err)
		}
	}
	if got := f.enrollments(t, lead); len(got) != 1 {
		t.Fatalf("expected exactly one enrollment, got %d", len(got))
	}
}

func TestExitStageCancelsEnrollment(t *testing.T) {
	f := newFixture(t, Config{})
	f.addSequence(t, welcomeSequence())
	lead := f.addLead(t, domain.StageNuevo)
	f.move(t, lead, domain.StageContactado)
	f.sweep(t)

	f.move(t, lead, domain.StageInteresado)
	f.move(t, lead, domain.StageCalificado)

	got := f.enrollments(t, lead)
	if got[0].Status != domain.EnrollmentCancelled || got[0].CancelReason == nil || *got[0].CancelReason != domain.CancelExitStage {
		t.Fatalf("expected enrollment cancelled by exit stage, got %+v", got[0])
	}

	f.now = t0.Add(48 * time.Hour)
	if report := f.sweep(t); report.Sent != 0 || f.sender.count() != 1 {
		t.Fatalf("expected no sends after cancellation, report=%+v", report)
	}
}

func TestLeadDeletionCancelsEnrollment(t *testing.T) {
	f := newFixture(t, Config{})
	f.addSequence(t, welcomeSequence())
	lead := f.addLead(t, domain.StageNuevo)
	f.move(t, lead, domain.StageContactado)

	if err := f.repo.SoftDeleteLead(context.Background(), f.tenantID, lead.ID, f.now); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if err := f.bus.PublishSync(context.Background(), events.LeadDeleted{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  f.tenantID,
		LeadID:    lead.ID,
	}); err != nil {
		t.Fatalf("lead deleted handlers: %v", err)
	}

	got := f.enrollments(t, lead)
	if got[0].Status != domain.EnrollmentCancelled || *got[0].CancelReason != domain.CancelLeadDeleted {
		t.Fatalf("expected enrollment cancelled for deleted lead, got %+v", got[0])
	}
	if report := f.sweep(t); report.Claimed != 0 {
		t.Fatalf("expected no claimable steps, report=%+v", report)
	}
}

func TestDeliveryRetriesUntilAttemptsExhausted(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 3})
	f.sender.err = errors.New("smtp timeout")
	seq := welcomeSequence()
	f.addSequence(t, seq)
	lead := f.addLead(t, domain.StageNuevo)

	var failed []events.SequenceStepFailed
	var mu sync.Mutex
	f.bus.Subscribe(events.NameSequenceStepFailed, events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, e.(events.SequenceStepFailed))
		return nil
	}))

	f.move(t, lead, domain.StageContactado)

	for attempt := 1; attempt <= 2; attempt++ {
		if report := f.sweep(t); report.Retried != 1 {
			t.Fatalf("attempt %d: expected a retry, report=%+v", attempt, report)
		}
	}
	if report := f.sweep(t); report.Failed != 1 {
		t.Fatalf("expected final failure, report=%+v", report)
	}

	if len(failed) != 1 || failed[0].Attempts != 3 || failed[0].LastError != "smtp timeout" {
		t.Fatalf("expected one step failed event after 3 attempts, got %+v", failed)
	}

	enrollment := f.enrollments(t, lead)[0]
	steps, err := f.repo.ListSteps(context.Background(), f.tenantID, enrollment.ID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 2 || steps[0].Status != domain.StepFailed || steps[1].Status != domain.StepPending {
		t.Fatalf("expected failed first step and pending second step, got %+v", steps)
	}
}

func TestPermanentDeliveryErrorFailsImmediately(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 5})
	f.sender.err = fmt.Errorf("lead has no email: %w", ports.ErrPermanentDelivery)
	f.addSequence(t, welcomeSequence())
	lead := f.addLead(t, domain.StageNuevo)
	f.move(t, lead, domain.StageContactado)

	if report := f.sweep(t); report.Failed != 1 || report.Retried != 0 {
		t.Fatalf("expected immediate failure, report=%+v", report)
	}
}

func TestHeldLockDefersStep(t *testing.T) {
	f := newFixture(t, Config{})
	f.addSequence(t, welcomeSequence())
	lead := f.addLead(t, domain.StageNuevo)
	f.move(t, lead, domain.StageContactado)

	enrollment := f.enrollments(t, lead)[0]
	key := lead.ID.String() + ":" + enrollment.SequenceID.String()
	token, ok, err := f.locker.TryAcquire(context.Background(), key, time.Hour)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	if report := f.sweep(t); report.Deferred != 1 || f.sender.count() != 0 {
		t.Fatalf("expected deferred step, report=%+v", report)
	}

	if err := f.locker.Release(context.Background(), key, token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if report := f.sweep(t); report.Sent != 1 {
		t.Fatalf("expected step sent once lock is free, report=%+v", report)
	}
}

func TestInactivityTriggerEnrollsStaleLeadsOnce(t *testing.T) {
	f := newFixture(t, Config{})
	f.addSequence(t, domain.Sequence{
		Name:    "reactivacion",
		Trigger: domain.Trigger{Kind: domain.TriggerInactivity, Stage: domain.StageInteresado, InactivityHours: 48},
		Steps:   []domain.SequenceStep{{TemplateRef: "still-interested", Channel: domain.ChannelWhatsApp}},
	})
	stale := f.addLead(t, domain.StageInteresado)
	f.now = t0.Add(30 * time.Hour)
	fresh := f.addLead(t, domain.StageInteresado)

	f.now = t0.Add(49 * time.Hour)
	report := f.sweep(t)
	if report.Enrolled != 1 || report.Sent != 1 {
		t.Fatalf("expected the stale lead enrolled and messaged, report=%+v", report)
	}
	if len(f.enrollments(t, stale)) != 1 || len(f.enrollments(t, fresh)) != 0 {
		t.Fatalf("expected only the stale lead to be enrolled")
	}

	f.now = t0.Add(60 * time.Hour)
	if report := f.sweep(t); report.Enrolled != 0 {
		t.Fatalf("expected no re-enrollment without a stage change, report=%+v", report)
	}
}

func TestInactivityEnrollmentCancelledWhenLeadLeavesStage(t *testing.T) {
	f := newFixture(t, Config{})
	f.addSequence(t, domain.Sequence{
		Name:    "reactivacion",
		Trigger: domain.Trigger{Kind: domain.TriggerInactivity, Stage: domain.StageInteresado, InactivityHours: 48},
		Steps: []domain.SequenceStep{
			{TemplateRef: "still-interested", Channel: domain.ChannelWhatsApp},
			{TemplateRef: "last-call", DelayHours: 72, Channel: domain.ChannelEmail},
		},
	})
	lead := f.addLead(t, domain.StageInteresado)
	f.now = t0.Add(49 * time.Hour)
	f.sweep(t)

	f.move(t, lead, domain.StageCalificado)

	got := f.enrollments(t, lead)
	if got[0].Status != domain.EnrollmentCancelled || *got[0].CancelReason != domain.CancelLeftTriggerStage {
		t.Fatalf("expected enrollment cancelled after leaving trigger stage, got %+v", got[0])
	}
}

func TestCapturedLeadEntersInitialStageSequences(t *testing.T) {
	f := newFixture(t, Config{})
	f.addSequence(t, domain.Sequence{
		Name:    "bienvenida",
		Trigger: domain.Trigger{Kind: domain.TriggerStageEntry, Stage: domain.StageNuevo},
		Steps:   []domain.SequenceStep{{TemplateRef: "welcome", Channel: domain.ChannelEmail}},
	})
	lead := f.addLead(t, domain.StageNuevo)

	f.bus.Publish(context.Background(), events.LeadCaptured{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  f.tenantID,
		LeadID:    lead.ID,
		Stage:     string(domain.StageNuevo),
	})
	f.bus.Wait()

	if got := f.enrollments(t, lead); len(got) != 1 {
		t.Fatalf("expected captured lead to be enrolled, got %d enrollments", len(got))
	}
}

func TestOneLeadFailureDoesNotBlockBatch(t *testing.T) {
	f := newFixture(t, Config{Workers: 4})
	f.addSequence(t, welcomeSequence())

	leads := make([]domain.Lead, 5)
	for i := range leads {
		leads[i] = f.addLead(t, domain.StageNuevo)
		f.move(t, leads[i], domain.StageContactado)
	}
	f.sender.failFor = map[uuid.UUID]error{leads[2].ID: errors.New("smtp 451 try again later")}

	report := f.sweep(t)
	if report.Claimed != 5 || report.Sent != 4 || report.Retried != 1 || report.Failed != 0 {
		t.Fatalf("expected 5 claimed, 4 sent, 1 retried, got %+v", report)
	}
	for _, msg := range f.sender.sent {
		if msg.LeadID == leads[2].ID {
			t.Fatalf("failing lead recorded as sent")
		}
	}

	steps, err := f.repo.ListSteps(context.Background(), f.tenantID, f.enrollments(t, leads[2])[0].ID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 1 || steps[0].Status != domain.StepPending || steps[0].Attempts != 1 {
		t.Fatalf("expected failing step back to pending after one attempt, got %+v", steps)
	}
}

func TestSweepRespectsWorkerLimit(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	f.addSequence(t, welcomeSequence())
	for i := 0; i < 4; i++ {
		f.move(t, f.addLead(t, domain.StageNuevo), domain.StageContactado)
	}
	f.sender.delay = 5 * time.Millisecond

	if report := f.sweep(t); report.Sent != 4 {
		t.Fatalf("expected 4 sent, got %+v", report)
	}
	if f.sender.maxInFlight != 1 {
		t.Fatalf("expected sends to run one at a time, saw %d in flight", f.sender.maxInFlight)
	}
}

func TestEnrollmentCancelledDuringSendStaysCancelled(t *testing.T) {
	f := newFixture(t, Config{})
	f.addSequence(t, welcomeSequence())
	lead := f.addLead(t, domain.StageNuevo)
	f.move(t, lead, domain.StageContactado)
	enrollment := f.enrollments(t, lead)[0]

	f.sender.onSend = func(ports.Message) {
		err := f.repo.CancelEnrollment(context.Background(), f.tenantID, enrollment.ID, domain.CancelExitStage, f.now)
		if err != nil {
			t.Errorf("cancel enrollment: %v", err)
		}
	}

	var sent []events.SequenceStepSent
	var mu sync.Mutex
	f.bus.Subscribe(events.NameSequenceStepSent, events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, e.(events.SequenceStepSent))
		return nil
	}))

	wakes := len(f.waker.wakes)
	f.sweep(t)

	got := f.enrollments(t, lead)
	if got[0].Status != domain.EnrollmentCancelled {
		t.Fatalf("expected enrollment to stay cancelled, got %s", got[0].Status)
	}
	steps, err := f.repo.ListSteps(context.Background(), f.tenantID, enrollment.ID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 1 || steps[0].Status != domain.StepCancelled {
		t.Fatalf("expected no follow-up step and the claimed one cancelled, got %+v", steps)
	}
	if len(f.waker.wakes) != wakes {
		t.Fatalf("expected no wake-up for a cancelled enrollment, got %v", f.waker.wakes)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 0 {
		t.Fatalf("expected no SequenceStepSent for a lost claim, got %d", len(sent))
	}
}
