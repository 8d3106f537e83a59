package automation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"funnel_backend/internal/events"
	"funnel_backend/internal/funnel/domain"
	"funnel_backend/internal/funnel/ports"
	"funnel_backend/internal/funnel/repository"
	"funnel_backend/platform/apperr"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SweepReport counts what a sweep did.
type SweepReport struct {
	Enrolled  int
	Claimed   int
	Sent      int
	Retried   int
	Failed    int
	Cancelled int
	Deferred  int
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeRetried
	outcomeFailed
	outcomeCancelled
	outcomeDeferred
)

func (r *SweepReport) add(o outcome) {
	switch o {
	case outcomeSent:
		r.Sent++
	case outcomeRetried:
		r.Retried++
	case outcomeFailed:
		r.Failed++
	case outcomeCancelled:
		r.Cancelled++
	case outcomeDeferred:
		r.Deferred++
	}
}

// SweepDueSteps evaluates inactivity triggers and delivers every step due at
// now across all tenants.
func (d *Dispatcher) SweepDueSteps(ctx context.Context, now time.Time) (SweepReport, error) {
	return d.sweep(ctx, repository.SweepScope{}, now)
}

// SweepTenant is SweepDueSteps restricted to one tenant.
func (d *Dispatcher) SweepTenant(ctx context.Context, tenantID uuid.UUID, now time.Time) (SweepReport, error) {
	return d.sweep(ctx, repository.SweepScope{TenantID: &tenantID}, now)
}

func (d *Dispatcher) sweep(ctx context.Context, scope repository.SweepScope, now time.Time) (SweepReport, error) {
	now = now.UTC()
	var report SweepReport

	enrolled, err := d.evaluateInactivity(ctx, scope, now)
	report.Enrolled = enrolled
	if err != nil {
		d.log.WithContext(ctx).Error("inactivity evaluation failed", "error", err)
	}

	steps, err := d.store.ClaimDueSteps(ctx, scope, now, d.cfg.Lease, d.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("claim due steps: %w", err)
	}
	report.Claimed = len(steps)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for _, step := range steps {
		g.Go(func() error {
			o, err := d.processStep(gctx, step, now)
			if err != nil {
				d.log.WithContext(gctx).Error("sequence step processing failed",
					"stepId", step.ID, "leadId", step.LeadID, "sequenceId", step.SequenceID, "error", err)
			}
			mu.Lock()
			report.add(o)
			mu.Unlock()
			// One lead's failure never stops the batch.
			return nil
		})
	}
	_ = g.Wait()

	scopeName := "all"
	if scope.TenantID != nil {
		scopeName = scope.TenantID.String()
	}
	d.log.SweepSummary(scopeName, report.Claimed, report.Sent, report.Retried, report.Failed, report.Cancelled)
	return report, nil
}

// evaluateInactivity enrolls leads that sat in an inactivity sequence's
// trigger stage longer than its threshold.
func (d *Dispatcher) evaluateInactivity(ctx context.Context, scope repository.SweepScope, now time.Time) (int, error) {
	sequences, err := d.store.ListInactivitySequences(ctx, scope)
	if err != nil {
		return 0, err
	}

	enrolled := 0
	var errs []error
	for _, seq := range sequences {
		cutoff := now.Add(-time.Duration(seq.Trigger.InactivityHours) * time.Hour)
		leads, err := d.store.FindInactiveLeads(ctx, seq, cutoff, d.cfg.BatchSize)
		if err != nil {
			errs = append(errs, fmt.Errorf("find inactive leads for %s: %w", seq.Name, err))
			continue
		}
		for _, lead := range leads {
			created, err := d.enroll(ctx, seq, lead)
			if err != nil {
				errs = append(errs, fmt.Errorf("enroll lead %s in %s: %w", lead.ID, seq.Name, err))
				continue
			}
			if created {
				enrolled++
			}
		}
	}
	return enrolled, errors.Join(errs...)
}

func lockKey(step domain.ScheduledStep) string {
	return step.LeadID.String() + ":" + step.SequenceID.String()
}

// processStep handles one claimed step. The per (lead, sequence) lock keeps a
// second replica from sending for the same pair while this one is in flight.
func (d *Dispatcher) processStep(ctx context.Context, step domain.ScheduledStep, now time.Time) (outcome, error) {
	token, ok, err := d.locker.TryAcquire(ctx, lockKey(step), d.cfg.Lease)
	if err != nil || !ok {
		if relErr := d.release(ctx, step, now); relErr != nil {
			err = errors.Join(err, relErr)
		}
		return outcomeDeferred, err
	}
	defer func() {
		if err := d.locker.Release(context.WithoutCancel(ctx), lockKey(step), token); err != nil {
			d.log.Warn("failed to release sequence lock", "stepId", step.ID, "error", err)
		}
	}()

	enrollment, err := d.store.GetEnrollment(ctx, step.TenantID, step.EnrollmentID)
	if err != nil {
		return outcomeDeferred, errors.Join(err, d.release(ctx, step, now))
	}
	if enrollment.Status != domain.EnrollmentActive || !enrollment.HasStep(step.StepIndex) {
		reason := domain.CancelSequenceInactive
		if enrollment.CancelReason != nil {
			reason = *enrollment.CancelReason
		}
		return outcomeCancelled, d.cancel(ctx, step, reason, now)
	}

	lead, err := d.store.GetLead(ctx, step.TenantID, step.LeadID)
	if errors.Is(err, repository.ErrNotFound) {
		return outcomeCancelled, d.cancel(ctx, step, domain.CancelLeadDeleted, now)
	}
	if err != nil {
		return outcomeDeferred, errors.Join(err, d.release(ctx, step, now))
	}
	if reason, cancel := enrollment.CancelReasonFor(lead); cancel {
		return outcomeCancelled, d.cancel(ctx, step, reason, now)
	}

	sendErr := d.sender.Send(ctx, buildMessage(step, enrollment, lead))
	if sendErr == nil {
		_, err := d.complete(ctx, step, enrollment, domain.StepSent, step.Attempts+1, nil, now)
		return outcomeSent, err
	}

	attempts := step.Attempts + 1
	lastError := sendErr.Error()
	log := d.log.WithContext(ctx).With("stepId", step.ID, "leadId", step.LeadID, "channel", step.Channel)
	if attempts < d.cfg.MaxAttempts && !errors.Is(sendErr, ports.ErrPermanentDelivery) {
		log.Warn("sequence step delivery failed, will retry", "attempt", attempts, "error", sendErr)
		_, err := d.resolve(ctx, step, repository.StepResolution{
			TenantID:     step.TenantID,
			StepID:       step.ID,
			EnrollmentID: step.EnrollmentID,
			Status:       domain.StepPending,
			Attempts:     attempts,
			LastError:    &lastError,
			At:           now,
		})
		return outcomeRetried, err
	}

	failure := apperr.DeliveryFailed(fmt.Sprintf("step %d of %s gave up after %d attempts", step.StepIndex, enrollment.SequenceName, attempts), sendErr)
	log.Error("sequence step failed", "error", failure)
	if applied, err := d.complete(ctx, step, enrollment, domain.StepFailed, attempts, &lastError, now); err != nil || !applied {
		return outcomeFailed, err
	}
	d.bus.Publish(ctx, events.SequenceStepFailed{
		BaseEvent:    events.NewBaseEvent(),
		TenantID:     step.TenantID,
		LeadID:       step.LeadID,
		SequenceID:   step.SequenceID,
		EnrollmentID: step.EnrollmentID,
		StepIndex:    step.StepIndex,
		Channel:      string(step.Channel),
		Attempts:     attempts,
		LastError:    lastError,
	})
	return outcomeFailed, nil
}

// complete resolves a sent or failed step and moves the enrollment on: the
// next step is scheduled at enrolledAt plus its delay, or the enrollment is
// completed after the last step.
func (d *Dispatcher) complete(ctx context.Context, step domain.ScheduledStep, enrollment domain.Enrollment, status domain.StepStatus, attempts int, lastError *string, now time.Time) (bool, error) {
	res := repository.StepResolution{
		TenantID:     step.TenantID,
		StepID:       step.ID,
		EnrollmentID: step.EnrollmentID,
		Status:       status,
		Attempts:     attempts,
		LastError:    lastError,
		At:           now,
	}
	nextIndex := step.StepIndex + 1
	if enrollment.HasStep(nextIndex) {
		next := domain.NewScheduledStep(enrollment, nextIndex, now)
		res.Next = &next
	} else {
		res.Complete = true
	}
	if applied, err := d.resolve(ctx, step, res); err != nil || !applied {
		return false, err
	}

	if status == domain.StepSent {
		d.bus.Publish(ctx, events.SequenceStepSent{
			BaseEvent:    events.NewBaseEvent(),
			TenantID:     step.TenantID,
			LeadID:       step.LeadID,
			SequenceID:   step.SequenceID,
			EnrollmentID: step.EnrollmentID,
			StepIndex:    step.StepIndex,
			Channel:      string(step.Channel),
			TemplateRef:  step.TemplateRef,
		})
	}
	if res.Next != nil {
		d.wake(ctx, step.TenantID, res.Next.DueAt, now)
	}
	return true, nil
}

func (d *Dispatcher) cancel(ctx context.Context, step domain.ScheduledStep, reason string, now time.Time) error {
	d.log.WithContext(ctx).Info("sequence step cancelled", "stepId", step.ID, "leadId", step.LeadID, "reason", reason)
	_, err := d.resolve(ctx, step, repository.StepResolution{
		TenantID:     step.TenantID,
		StepID:       step.ID,
		EnrollmentID: step.EnrollmentID,
		Status:       domain.StepCancelled,
		Attempts:     step.Attempts,
		At:           now,
		CancelReason: reason,
	})
	return err
}

// release hands a claimed step back without counting an attempt.
func (d *Dispatcher) release(ctx context.Context, step domain.ScheduledStep, now time.Time) error {
	_, err := d.resolve(ctx, step, repository.StepResolution{
		TenantID:     step.TenantID,
		StepID:       step.ID,
		EnrollmentID: step.EnrollmentID,
		Status:       domain.StepPending,
		Attempts:     step.Attempts,
		LastError:    step.LastError,
		At:           now,
	})
	return err
}

// resolve stores res under the claim step was handed out with. A claim lost
// to cancellation or to a re-claim after lease expiry leaves the step to its
// new owner and reports applied=false.
func (d *Dispatcher) resolve(ctx context.Context, step domain.ScheduledStep, res repository.StepResolution) (applied bool, err error) {
	if step.ClaimedUntil != nil {
		res.ClaimedUntil = *step.ClaimedUntil
	}
	err = d.store.ResolveStep(ctx, res)
	if errors.Is(err, repository.ErrStepNotClaimed) {
		d.log.WithContext(ctx).Info("sequence step claim lost before resolve", "stepId", step.ID, "leadId", step.LeadID, "status", res.Status)
		return false, nil
	}
	return err == nil, err
}

func buildMessage(step domain.ScheduledStep, enrollment domain.Enrollment, lead domain.Lead) ports.Message {
	return ports.Message{
		TenantID:    step.TenantID,
		LeadID:      step.LeadID,
		StepID:      step.ID,
		Channel:     step.Channel,
		TemplateRef: step.TemplateRef,
		Recipient: ports.Recipient{
			FirstName: lead.FirstName,
			LastName:  lead.LastName,
			Email:     lead.Email,
			Phone:     lead.Phone,
		},
		Variables: map[string]string{
			"firstName":   lead.FirstName,
			"lastName":    lead.LastName,
			"stage":       string(lead.Stage),
			"score":       strconv.Itoa(lead.Score),
			"temperature": string(lead.Temperature),
			"sequence":    enrollment.SequenceName,
			"step":        strconv.Itoa(step.StepIndex + 1),
		},
	}
}
