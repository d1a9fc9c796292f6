package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/orchestrator/domain"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/outbox"
)

// Reaper guarantees forward progress: sagas stuck in a non-terminal state past
// the timeout are failed into compensation as if a failure event had arrived,
// and scheduled retries (re-issued step or compensation commands) actually
// fire. Without it a single lost result event would strand a saga forever.
type Reaper struct {
	log      *slog.Logger
	svc      *Service
	interval time.Duration
	timeout  time.Duration
}

func NewReaper(log *slog.Logger, svc *Service, interval, timeout time.Duration) *Reaper {
	return &Reaper{log: log, svc: svc, interval: interval, timeout: timeout}
}

func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopping")
			return nil
		case <-t.C:
			if err := r.svc.RetryDue(ctx); err != nil {
				r.log.Error("retry pass failed", "err", err)
			}
			if err := r.svc.ReapStuck(ctx, r.timeout); err != nil {
				r.log.Error("reap pass failed", "err", err)
			}
		}
	}
}

// RetryDue re-issues commands for sagas whose retry schedule has come due.
func (s *Service) RetryDue(ctx context.Context) error {
	now := s.now().UTC()
	due, err := s.repo.ListDue(ctx, now, 100)
	if err != nil {
		return err
	}
	for i := range due {
		sg := due[i]
		if sg.Terminal() {
			continue
		}
		if sg.CurrentState.Compensating() {
			if err := s.retryCompensation(ctx, &sg); err != nil {
				s.log.Error("compensation retry failed", "saga_id", sg.ID, "err", err)
			}
			continue
		}
		if err := s.reissueForward(ctx, &sg); err != nil {
			s.log.Error("step re-issue failed", "saga_id", sg.ID, "err", err)
		}
	}
	return nil
}

// ReapStuck compensates sagas that have not moved within the timeout window.
func (s *Service) ReapStuck(ctx context.Context, timeout time.Duration) error {
	cutoff := s.now().UTC().Add(-timeout)
	stuck, err := s.repo.ListStuck(ctx, cutoff, 100)
	if err != nil {
		return err
	}
	for i := range stuck {
		sg := stuck[i]
		if sg.Terminal() {
			continue
		}
		sg.RecordError(fmt.Sprintf("saga stuck in %s past %s, reaping", sg.CurrentState, timeout))
		s.log.Warn("reaping stuck saga", "saga_id", sg.ID, "state", sg.CurrentState)

		var reapErr error
		switch {
		case sg.CurrentState == domain.StateBookingCancelled:
			reapErr = s.beginCancelCompensation(ctx, &sg)
		case sg.CurrentState.Compensating():
			reapErr = s.retryCompensation(ctx, &sg)
		default:
			reapErr = s.beginCompensation(ctx, &sg)
		}
		if reapErr != nil {
			s.log.Error("reap failed", "saga_id", sg.ID, "err", reapErr)
		}
	}
	return nil
}

// retryCompensation re-issues the pending compensation command with backoff;
// exhausting the attempt budget freezes the saga in FAILED for operators.
func (s *Service) retryCompensation(ctx context.Context, sg *domain.Saga) error {
	step, ok := compensationStep(sg.CurrentState)
	if !ok {
		return nil
	}

	if sg.RetryCount >= s.opts.MaxCompensationAttempts {
		sg.RecordError(fmt.Sprintf("compensation of %s step exhausted %d attempts", step, sg.RetryCount))
		if err := sg.Transition(domain.StateFailed); err != nil {
			return err
		}
		sg.NextRetryAt = nil
		sg.UpdatedAt = s.now().UTC()
		if err := s.repo.UpdateWithOutbox(ctx, *sg, nil); err != nil {
			return err
		}
		s.log.Error("saga frozen, manual intervention required", "saga_id", sg.ID, "step", step)
		return nil
	}

	rec, err := s.buildCompensationCommand(ctx, sg, step)
	if err != nil {
		return err
	}
	sg.RetryCount++
	at := s.now().UTC().Add(s.retryDelay(sg.RetryCount))
	sg.NextRetryAt = &at
	sg.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateWithOutbox(ctx, *sg, []outbox.Record{rec}); err != nil {
		return err
	}
	s.log.Info("compensation re-issued", "saga_id", sg.ID, "step", step, "attempt", sg.RetryCount)
	return nil
}

// reissueForward re-sends the current step command with its original
// idempotency key, so a handler that already acted on it replies idempotently.
func (s *Service) reissueForward(ctx context.Context, sg *domain.Saga) error {
	step, ok := sg.NextStep()
	if !ok || sg.CurrentState != step.PendingState() {
		return nil
	}
	rec, err := s.buildForwardCommand(ctx, sg, step)
	if err != nil {
		return err
	}
	sg.NextRetryAt = nil
	sg.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateWithOutbox(ctx, *sg, []outbox.Record{rec}); err != nil {
		return err
	}
	s.log.Info("step command re-issued", "saga_id", sg.ID, "step", step, "attempt", sg.RetryCount)
	return nil
}

func compensationStep(st domain.State) (domain.Step, bool) {
	switch st {
	case domain.StateCompensationFlightCancel:
		return domain.StepFlight, true
	case domain.StateCompensationHotelCancel:
		return domain.StepHotel, true
	case domain.StateCompensationPaymentRefund:
		return domain.StepPayment, true
	}
	return "", false
}
