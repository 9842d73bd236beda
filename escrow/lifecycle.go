package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"

	"reviewescrow/timeline"
)

// CreateJob funds a job with p.Amount. The id is derived from the client's
// pre-increment nonce, so PredictJobID returns it ahead of the call.
func (s *Service) CreateJob(ctx context.Context, p CreateJobParams) (*Job, error) {
	if p.Client == (common.Address{}) {
		return nil, fmt.Errorf("%w: client is zero", ErrInvalidInput)
	}
	if p.Amount == nil || p.Amount.IsZero() {
		return nil, ErrZeroAmount
	}

	var created *Job
	err := s.run(ctx, "create_job", func(tx pgx.Tx) error {
		cfg, err := s.params.Get(ctx, tx)
		if err != nil {
			return err
		}
		if p.Reviewer != (common.Address{}) {
			ok, err := s.allowlist.IsReviewer(ctx, tx, p.Reviewer)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: pinned reviewer %s is not allowlisted", ErrInvalidInput, p.Reviewer.Hex())
			}
		}

		nonce, err := s.jobs.NextNonce(ctx, tx, p.Client)
		if err != nil {
			return err
		}
		now := s.clock()
		job := &Job{
			ID:             JobID(p.Client, nonce),
			Client:         p.Client,
			Nonce:          nonce,
			Reviewer:       p.Reviewer,
			Amount:         new(uint256.Int).Set(p.Amount),
			FeeBps:         cfg.FeeBps,
			CreatedAt:      now,
			AcceptWindow:   cfg.AcceptWindow,
			SubmitDeadline: now.Add(cfg.SubmitWindow),
			Status:         StatusOpen,
		}
		if err := s.jobs.Insert(ctx, tx, job); err != nil {
			return err
		}
		if err := s.ledger.Collect(ctx, tx, job.Amount); err != nil {
			return err
		}
		payload := map[string]any{
			"client":          job.Client.Hex(),
			"reviewer":        job.Reviewer.Hex(),
			"amount":          job.Amount.Dec(),
			"fee_bps":         job.FeeBps,
			"nonce":           job.Nonce,
			"submit_deadline": job.SubmitDeadline,
		}
		if err := s.emit(ctx, tx, job, timeline.JobCreated, p.Client, payload); err != nil {
			return err
		}
		created = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "job created", "job_id", created.ID.Hex(), "client", created.Client.Hex(), "amount", created.Amount.Dec())
	return created, nil
}

// Accept assigns the caller as reviewer of an open job.
func (s *Service) Accept(ctx context.Context, id common.Hash, caller common.Address) (*Job, error) {
	return s.mutateJob(ctx, "accept", id, func(tx pgx.Tx, job *Job) error {
		if err := requireStatus(job, StatusOpen); err != nil {
			return err
		}
		ok, err := s.allowlist.IsReviewer(ctx, tx, caller)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotReviewer
		}
		if job.HasReviewer() && job.Reviewer != caller {
			return fmt.Errorf("%w: job is pinned to %s", ErrUnauthorized, job.Reviewer.Hex())
		}
		job.Reviewer = caller
		if err := job.transition(StatusAccepted); err != nil {
			return err
		}
		if err := s.jobs.Update(ctx, tx, job); err != nil {
			return err
		}
		return s.emit(ctx, tx, job, timeline.JobAccepted, caller, map[string]any{"reviewer": caller.Hex()})
	})
}

// Cancel refunds an open job to its client.
func (s *Service) Cancel(ctx context.Context, id common.Hash, caller common.Address) (*Job, error) {
	return s.mutateJob(ctx, "cancel", id, func(tx pgx.Tx, job *Job) error {
		if err := requireStatus(job, StatusOpen); err != nil {
			return err
		}
		if caller != job.Client {
			return ErrUnauthorized
		}
		plan := settleRefund(job, StatusCancelled)
		if err := s.settle(ctx, tx, job, plan); err != nil {
			return err
		}
		return s.emit(ctx, tx, job, timeline.JobCancelled, caller, map[string]any{"payouts": payoutPayload(plan)})
	})
}

// SubmitReport stores the report commitment and starts the accept clock.
func (s *Service) SubmitReport(ctx context.Context, id common.Hash, caller common.Address, report common.Hash) (*Job, error) {
	return s.mutateJob(ctx, "submit_report", id, func(tx pgx.Tx, job *Job) error {
		if err := requireStatus(job, StatusAccepted); err != nil {
			return err
		}
		if caller != job.Reviewer {
			return ErrUnauthorized
		}
		now := s.clock()
		if now.After(job.SubmitDeadline) {
			return fmt.Errorf("%w: submit deadline was %s", ErrTooLate, job.SubmitDeadline.Format(time.RFC3339))
		}
		if report == (common.Hash{}) {
			return ErrZeroReport
		}
		deadline := now.Add(job.AcceptWindow)
		job.ReportHash = report
		job.AcceptDeadline = &deadline
		if err := job.transition(StatusSubmitted); err != nil {
			return err
		}
		if err := s.jobs.Update(ctx, tx, job); err != nil {
			return err
		}
		payload := map[string]any{
			"report_hash":     report.Hex(),
			"accept_deadline": deadline,
		}
		return s.emit(ctx, tx, job, timeline.ReportSubmitted, caller, payload)
	})
}

// ReclaimAfterNoSubmit refunds the client once the submit deadline has
// passed without a report, whether or not a reviewer accepted.
func (s *Service) ReclaimAfterNoSubmit(ctx context.Context, id common.Hash, caller common.Address) (*Job, error) {
	return s.mutateJob(ctx, "reclaim", id, func(tx pgx.Tx, job *Job) error {
		if err := requireStatus(job, StatusOpen, StatusAccepted); err != nil {
			return err
		}
		if caller != job.Client {
			return ErrUnauthorized
		}
		if !s.clock().After(job.SubmitDeadline) {
			return fmt.Errorf("%w: submit deadline is %s", ErrTooEarly, job.SubmitDeadline.Format(time.RFC3339))
		}
		plan := settleRefund(job, StatusReclaimed)
		if err := s.settle(ctx, tx, job, plan); err != nil {
			return err
		}
		return s.emit(ctx, tx, job, timeline.JobReclaimed, caller, map[string]any{"payouts": payoutPayload(plan)})
	})
}

// Approve lets the client release a submitted job up to and including the
// accept deadline.
func (s *Service) Approve(ctx context.Context, id common.Hash, caller common.Address) (*Job, error) {
	return s.mutateJob(ctx, "approve", id, func(tx pgx.Tx, job *Job) error {
		if err := requireStatus(job, StatusSubmitted); err != nil {
			return err
		}
		if caller != job.Client {
			return ErrUnauthorized
		}
		if job.AcceptDeadline == nil {
			return fmt.Errorf("%w: accept deadline unset", ErrInvalidStatus)
		}
		if s.clock().After(*job.AcceptDeadline) {
			return fmt.Errorf("%w: accept deadline was %s", ErrTooLate, job.AcceptDeadline.Format(time.RFC3339))
		}
		return s.release(ctx, tx, job, caller, "approved")
	})
}

// AutoRelease lets anyone release a submitted job strictly after the accept
// deadline.
func (s *Service) AutoRelease(ctx context.Context, id common.Hash, caller common.Address) (*Job, error) {
	return s.mutateJob(ctx, "auto_release", id, func(tx pgx.Tx, job *Job) error {
		if err := requireStatus(job, StatusSubmitted); err != nil {
			return err
		}
		if job.AcceptDeadline == nil {
			return fmt.Errorf("%w: accept deadline unset", ErrInvalidStatus)
		}
		if !s.clock().After(*job.AcceptDeadline) {
			return fmt.Errorf("%w: accept deadline is %s", ErrTooEarly, job.AcceptDeadline.Format(time.RFC3339))
		}
		return s.release(ctx, tx, job, caller, "auto_release")
	})
}

func (s *Service) release(ctx context.Context, tx pgx.Tx, job *Job, caller common.Address, via string) error {
	owner, err := s.owner(ctx, tx)
	if err != nil {
		return err
	}
	plan := settleRelease(job, owner)
	if err := s.settle(ctx, tx, job, plan); err != nil {
		return err
	}
	payload := map[string]any{
		"via":     via,
		"payouts": payoutPayload(plan),
	}
	return s.emit(ctx, tx, job, timeline.JobReleased, caller, payload)
}

// mutateJob locks the job, applies fn and returns the updated copy.
func (s *Service) mutateJob(ctx context.Context, op string, id common.Hash, fn func(tx pgx.Tx, job *Job) error) (*Job, error) {
	var out *Job
	err := s.run(ctx, op, func(tx pgx.Tx) error {
		job, err := s.lockJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, job); err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "job updated", "operation", op, "job_id", id.Hex(), "status", string(out.Status))
	return out, nil
}

