// Package automation enrolls leads into message sequences and delivers due
// steps. Enrollment happens on stage entry (driven by StageChanged) and on
// inactivity (evaluated at the start of every sweep). SweepDueSteps claims
// due steps, cancels the ones that no longer apply and sends the rest.
package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"funnel_backend/internal/events"
	"funnel_backend/internal/funnel/domain"
	"funnel_backend/internal/funnel/ports"
	"funnel_backend/internal/funnel/repository"
	"funnel_backend/platform/lock"
	"funnel_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	defaultMaxAttempts = 5
	defaultLease       = 5 * time.Minute
	defaultBatchSize   = 100
	defaultWorkers     = 4
)

// Store is the persistence the dispatcher needs.
type Store interface {
	repository.SequenceStore
	repository.EnrollmentStore
	GetLead(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error)
}

// Config tunes retries and sweep batching.
type Config struct {
	MaxAttempts int
	Lease       time.Duration
	BatchSize   int
	Workers     int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.Lease <= 0 {
		c.Lease = defaultLease
	}
	if c.BatchSize < 1 {
		c.BatchSize = defaultBatchSize
	}
	if c.Workers < 1 {
		c.Workers = defaultWorkers
	}
	return c
}

// Dispatcher owns enrollment and delivery of sequence steps.
type Dispatcher struct {
	store  Store
	sender ports.Sender
	locker lock.Locker
	waker  ports.Waker
	bus    events.Publisher
	log    *logger.Logger
	cfg    Config
	now    func() time.Time
}

// NewDispatcher creates a dispatcher. waker may be nil when no scheduler is
// available; due steps are then picked up by the periodic sweep.
func NewDispatcher(store Store, sender ports.Sender, locker lock.Locker, waker ports.Waker, bus events.Publisher, log *logger.Logger, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:  store,
		sender: sender,
		locker: locker,
		waker:  waker,
		bus:    bus,
		log:    log,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

// WithClock overrides the time source used for enrollment timestamps.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// RegisterHandlers subscribes the dispatcher to the lead lifecycle events.
func (d *Dispatcher) RegisterHandlers(bus events.Subscriber) {
	bus.Subscribe(events.NameLeadCaptured, events.HandlerFunc(d.handleLeadCaptured))
	bus.Subscribe(events.NameStageChanged, events.HandlerFunc(d.handleStageChanged))
	bus.Subscribe(events.NameLeadDeleted, events.HandlerFunc(d.handleLeadDeleted))
}

// A captured lead has entered the initial stage.
func (d *Dispatcher) handleLeadCaptured(ctx context.Context, event events.Event) error {
	e, ok := event.(events.LeadCaptured)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	return d.OnStageChanged(ctx, e.TenantID, e.LeadID)
}

func (d *Dispatcher) handleStageChanged(ctx context.Context, event events.Event) error {
	e, ok := event.(events.StageChanged)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	return d.OnStageChanged(ctx, e.TenantID, e.LeadID)
}

func (d *Dispatcher) handleLeadDeleted(ctx context.Context, event events.Event) error {
	e, ok := event.(events.LeadDeleted)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}
	return d.cancelActive(ctx, e.TenantID, e.LeadID, func(domain.Enrollment) (string, bool) {
		return domain.CancelLeadDeleted, true
	})
}

// OnStageChanged cancels the lead's enrollments that no longer apply and
// enrolls it into every active stage-entry sequence of its new stage.
func (d *Dispatcher) OnStageChanged(ctx context.Context, tenantID, leadID uuid.UUID) error {
	lead, err := d.store.GetLead(ctx, tenantID, leadID)
	if errors.Is(err, repository.ErrNotFound) {
		return d.cancelActive(ctx, tenantID, leadID, func(domain.Enrollment) (string, bool) {
			return domain.CancelLeadDeleted, true
		})
	}
	if err != nil {
		return err
	}

	var errs []error
	if err := d.cancelActive(ctx, tenantID, leadID, func(e domain.Enrollment) (string, bool) {
		return e.CancelReasonFor(lead)
	}); err != nil {
		errs = append(errs, err)
	}

	if !lead.Stage.IsTerminal() {
		sequences, err := d.store.ListTriggeredSequences(ctx, tenantID, domain.TriggerStageEntry, lead.Stage)
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		for _, seq := range sequences {
			if _, err := d.enroll(ctx, seq, lead); err != nil {
				errs = append(errs, fmt.Errorf("enroll in %s: %w", seq.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) cancelActive(ctx context.Context, tenantID, leadID uuid.UUID, decide func(domain.Enrollment) (string, bool)) error {
	active, err := d.store.ListActiveEnrollments(ctx, tenantID, leadID)
	if err != nil {
		return err
	}
	now := d.now().UTC()
	var errs []error
	for _, e := range active {
		reason, cancel := decide(e)
		if !cancel {
			continue
		}
		if err := d.store.CancelEnrollment(ctx, tenantID, e.ID, reason, now); err != nil {
			errs = append(errs, err)
			continue
		}
		d.log.WithContext(ctx).Info("enrollment cancelled", "leadId", leadID, "sequenceId", e.SequenceID, "reason", reason)
	}
	return errors.Join(errs...)
}

// enroll snapshots seq for lead and schedules its first step. It returns
// false when the lead already has an active enrollment in seq.
func (d *Dispatcher) enroll(ctx context.Context, seq domain.Sequence, lead domain.Lead) (bool, error) {
	now := d.now().UTC()
	enrollment := domain.NewEnrollment(seq, lead.ID, now)
	first := domain.NewScheduledStep(enrollment, 0, now)

	created, err := d.store.CreateEnrollment(ctx, enrollment, first)
	if err != nil || !created {
		return false, err
	}
	d.log.WithContext(ctx).Info("lead enrolled", "leadId", lead.ID, "sequenceId", seq.ID, "firstDueAt", first.DueAt)
	d.wake(ctx, lead.TenantID, first.DueAt, now)
	return true, nil
}

func (d *Dispatcher) wake(ctx context.Context, tenantID uuid.UUID, dueAt, now time.Time) {
	if d.waker == nil || !dueAt.After(now) {
		return
	}
	if err := d.waker.WakeAt(ctx, tenantID, dueAt); err != nil {
		d.log.WithContext(ctx).Warn("failed to schedule sweep wake-up", "tenantId", tenantID, "dueAt", dueAt, "error", err)
	}
}
