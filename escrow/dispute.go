package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"

	"reviewescrow/dispute"
	"reviewescrow/timeline"
)

// OpenDisputeParams opens a dispute on a submitted job. Deposit is the value
// the client attaches and must equal the configured dispute deposit.
type OpenDisputeParams struct {
	JobID       common.Hash
	Caller      common.Address
	Arbitrators dispute.Panel
	Deposit     *uint256.Int
}

// VoteParams is one arbitrator ballot.
type VoteParams struct {
	JobID       common.Hash
	Caller      common.Address
	Outcome     dispute.Outcome
	ReviewerBps uint16
}

// OpenDispute empanels three arbitrators and moves the job to disputed.
func (s *Service) OpenDispute(ctx context.Context, p OpenDisputeParams) (*dispute.Core, error) {
	var opened *dispute.Core
	_, err := s.mutateJob(ctx, "open_dispute", p.JobID, func(tx pgx.Tx, job *Job) error {
		if err := requireStatus(job, StatusSubmitted); err != nil {
			return err
		}
		if p.Caller != job.Client {
			return ErrUnauthorized
		}
		now := s.clock()
		if job.AcceptDeadline == nil {
			return fmt.Errorf("%w: accept deadline unset", ErrInvalidStatus)
		}
		if now.After(*job.AcceptDeadline) {
			return fmt.Errorf("%w: accept deadline was %s", ErrTooLate, job.AcceptDeadline.Format(time.RFC3339))
		}
		if _, err := s.disputes.Get(ctx, tx, job.ID); err == nil {
			return ErrDisputeExists
		} else if !isNotFound(err) {
			return err
		}

		cfg, err := s.params.Get(ctx, tx)
		if err != nil {
			return err
		}
		required := cfg.Deposit()
		if p.Deposit == nil || !p.Deposit.Eq(required) {
			return fmt.Errorf("%w: want %s", ErrWrongDeposit, required.Dec())
		}
		if err := p.Arbitrators.Validate(job.Client, job.Reviewer, cfg.Owner); err != nil {
			return err
		}
		for _, arb := range p.Arbitrators {
			ok, err := s.allowlist.IsArbitrator(ctx, tx, arb)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", ErrArbitratorNotListed, arb.Hex())
			}
		}

		core := &dispute.Core{
			JobID:           job.ID,
			OpenedAt:        now,
			VoteDeadline:    now.Add(cfg.VoteWindow),
			Arbitrators:     p.Arbitrators,
			ClientDeposited: true,
			ClientDeposit:   new(uint256.Int).Set(required),
			ReviewerDeposit: new(uint256.Int),
			DepositAmount:   required,
		}
		if err := s.disputes.Insert(ctx, tx, core); err != nil {
			return err
		}
		if err := s.ledger.Collect(ctx, tx, required); err != nil {
			return err
		}
		if err := job.transition(StatusDisputed); err != nil {
			return err
		}
		if err := s.jobs.Update(ctx, tx, job); err != nil {
			return err
		}
		payload := map[string]any{
			"arbitrators":    []string{core.Arbitrators[0].Hex(), core.Arbitrators[1].Hex(), core.Arbitrators[2].Hex()},
			"deposit_amount": required.Dec(),
			"vote_deadline":  core.VoteDeadline,
		}
		if err := s.emit(ctx, tx, job, timeline.DisputeOpened, p.Caller, payload); err != nil {
			return err
		}
		opened = core
		return nil
	})
	if err != nil {
		return nil, err
	}
	return opened, nil
}

// PostDisputeDeposit records the client's or reviewer's deposit. Each party
// posts once, exactly the amount snapshotted at open.
func (s *Service) PostDisputeDeposit(ctx context.Context, id common.Hash, caller common.Address, value *uint256.Int) (*dispute.Core, error) {
	var updated *dispute.Core
	_, err := s.mutateJob(ctx, "post_deposit", id, func(tx pgx.Tx, job *Job) error {
		core, err := s.openDispute(ctx, tx, job)
		if err != nil {
			return err
		}
		var party string
		switch caller {
		case job.Client:
			if core.ClientDeposited {
				return ErrDepositPosted
			}
			party = "client"
		case job.Reviewer:
			if core.ReviewerDeposited {
				return ErrDepositPosted
			}
			party = "reviewer"
		default:
			return ErrUnauthorized
		}
		if value == nil || !value.Eq(core.DepositAmount) {
			return fmt.Errorf("%w: want %s", ErrWrongDeposit, core.DepositAmount.Dec())
		}

		amount := new(uint256.Int).Set(value)
		if party == "client" {
			core.ClientDeposited = true
			core.ClientDeposit = amount
		} else {
			core.ReviewerDeposited = true
			core.ReviewerDeposit = amount
		}
		if err := s.disputes.Update(ctx, tx, core); err != nil {
			return err
		}
		if err := s.ledger.Collect(ctx, tx, amount); err != nil {
			return err
		}
		payload := map[string]any{
			"party":  party,
			"amount": amount.Dec(),
		}
		if err := s.emit(ctx, tx, job, timeline.DisputeDepositPosted, caller, payload); err != nil {
			return err
		}
		updated = core
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Vote casts an arbitrator's ballot up to and including the vote deadline.
func (s *Service) Vote(ctx context.Context, p VoteParams) (dispute.Vote, error) {
	var cast dispute.Vote
	_, err := s.mutateJob(ctx, "vote", p.JobID, func(tx pgx.Tx, job *Job) error {
		core, err := s.openDispute(ctx, tx, job)
		if err != nil {
			return err
		}
		if !core.Arbitrators.Contains(p.Caller) {
			return ErrNotArbitrator
		}
		now := s.clock()
		if now.After(core.VoteDeadline) {
			return fmt.Errorf("%w: vote deadline was %s", ErrTooLate, core.VoteDeadline.Format(time.RFC3339))
		}
		if err := dispute.ValidateBallot(p.Outcome, p.ReviewerBps); err != nil {
			return err
		}
		if _, err := s.disputes.GetVote(ctx, tx, job.ID, p.Caller); err == nil {
			return dispute.ErrAlreadyVoted
		} else if !isNotFound(err) {
			return err
		}
		vote := dispute.Vote{
			JobID:       job.ID,
			Arbitrator:  p.Caller,
			Outcome:     p.Outcome,
			ReviewerBps: p.ReviewerBps,
			CastAt:      now,
		}
		if err := s.disputes.InsertVote(ctx, tx, vote); err != nil {
			return err
		}
		payload := map[string]any{
			"arbitrator":   p.Caller.Hex(),
			"outcome":      p.Outcome.String(),
			"reviewer_bps": p.ReviewerBps,
		}
		if err := s.emit(ctx, tx, job, timeline.DisputeVoted, p.Caller, payload); err != nil {
			return err
		}
		cast = vote
		return nil
	})
	return cast, err
}

// ResolveDispute applies a quorum decision once both deposits are posted.
// Anyone may call it.
func (s *Service) ResolveDispute(ctx context.Context, id common.Hash, caller common.Address) (*dispute.Core, error) {
	return s.resolve(ctx, "resolve_dispute", id, caller, func(core *dispute.Core, tally dispute.Tally) (dispute.Decision, error) {
		if !core.DepositsComplete() {
			return dispute.Decision{}, ErrDepositsIncomplete
		}
		decision, ok := tally.Decide()
		if !ok {
			return dispute.Decision{}, ErrDisputeNotReady
		}
		return decision, nil
	})
}

// ResolveDisputeTimeout finalises a dispute strictly after the vote
// deadline, whatever the deposits. Without a quorum the client is refunded.
func (s *Service) ResolveDisputeTimeout(ctx context.Context, id common.Hash, caller common.Address) (*dispute.Core, error) {
	return s.resolve(ctx, "resolve_dispute_timeout", id, caller, func(core *dispute.Core, tally dispute.Tally) (dispute.Decision, error) {
		if !s.clock().After(core.VoteDeadline) {
			return dispute.Decision{}, fmt.Errorf("%w: vote deadline is %s", ErrTooEarly, core.VoteDeadline.Format(time.RFC3339))
		}
		if decision, ok := tally.Decide(); ok {
			return decision, nil
		}
		return dispute.Decision{Outcome: dispute.OutcomeRefundToClient}, nil
	})
}

func (s *Service) resolve(ctx context.Context, op string, id common.Hash, caller common.Address, decide func(*dispute.Core, dispute.Tally) (dispute.Decision, error)) (*dispute.Core, error) {
	var resolved *dispute.Core
	_, err := s.mutateJob(ctx, op, id, func(tx pgx.Tx, job *Job) error {
		core, err := s.openDispute(ctx, tx, job)
		if err != nil {
			return err
		}
		votes, err := s.disputes.Votes(ctx, tx, job.ID)
		if err != nil {
			return err
		}
		decision, err := decide(core, dispute.TallyVotes(votes))
		if err != nil {
			return err
		}
		if err := s.finalize(ctx, tx, job, core, decision, caller); err != nil {
			return err
		}
		resolved = core
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// finalize marks the dispute resolved and pays out amount plus deposits.
func (s *Service) finalize(ctx context.Context, tx pgx.Tx, job *Job, core *dispute.Core, decision dispute.Decision, caller common.Address) error {
	owner, err := s.owner(ctx, tx)
	if err != nil {
		return err
	}
	core.Resolved = true
	core.Outcome = decision.Outcome
	core.ReviewerBps = decision.ReviewerBps
	if err := s.disputes.Update(ctx, tx, core); err != nil {
		return err
	}
	plan := settleDispute(job, core, decision, owner)
	if err := s.settle(ctx, tx, job, plan); err != nil {
		return err
	}
	payload := map[string]any{
		"outcome":        decision.Outcome.String(),
		"reviewer_bps":   decision.ReviewerBps,
		"total_deposits": core.TotalDeposits().Dec(),
		"payouts":        payoutPayload(plan),
	}
	return s.emit(ctx, tx, job, timeline.DisputeResolved, caller, payload)
}

// openDispute loads the unresolved dispute of a disputed job.
func (s *Service) openDispute(ctx context.Context, tx pgx.Tx, job *Job) (*dispute.Core, error) {
	if err := requireStatus(job, StatusDisputed); err != nil {
		return nil, err
	}
	core, err := s.disputes.Get(ctx, tx, job.ID)
	if err != nil {
		if errors.Is(err, dispute.ErrNotFound) {
			return nil, fmt.Errorf("%w: disputed job %s has no dispute record", ErrInvalidStatus, job.ID.Hex())
		}
		return nil, err
	}
	if core.Resolved {
		return nil, fmt.Errorf("%w: dispute already resolved", ErrInvalidStatus)
	}
	return core, nil
}
