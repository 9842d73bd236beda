package actors

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"reviewescrow/app"
	"reviewescrow/dispute"
	"reviewescrow/escrow"
)

// Stats counts actor outcomes. Rejections are expected under contention;
// internal errors come from chaos killing backends mid-transaction.
type Stats struct {
	Committed atomic.Int64
	Rejected  atomic.Int64
	Internal  atomic.Int64
}

func (s *Stats) record(err error) {
	switch {
	case err == nil:
		s.Committed.Add(1)
	case escrow.KindOf(err) == escrow.KindInternal:
		s.Internal.Add(1)
	default:
		s.Rejected.Add(1)
	}
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

func pause(base, jitter int) {
	time.Sleep(time.Duration(base+rand.Intn(jitter)) * time.Millisecond)
}

func pick(jobs []escrow.Job) (escrow.Job, bool) {
	if len(jobs) == 0 {
		return escrow.Job{}, false
	}
	return jobs[rand.Intn(len(jobs))], true
}

// Client creates jobs, cancels some, approves or disputes submissions and
// reclaims jobs whose reviewer never submitted.
func Client(ctx context.Context, a *app.App, client common.Address, reviewers []common.Address, stats *Stats, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		switch rand.Intn(5) {
		case 0, 1:
			p := escrow.CreateJobParams{Client: client, Amount: uint256.NewInt(uint64(1000 + rand.Intn(1_000_000)))}
			if rand.Intn(3) == 0 {
				p.Reviewer = reviewers[rand.Intn(len(reviewers))]
			}
			_, err := a.Escrow.CreateJob(ctx, p)
			stats.record(err)
		case 2:
			jobs, err := a.Escrow.Jobs(ctx, escrow.Filter{Client: client, Status: escrow.StatusOpen, Limit: 20})
			if job, ok := pick(jobs); ok && err == nil {
				_, err = a.Escrow.Cancel(ctx, job.ID, client)
				stats.record(err)
			}
		case 3:
			jobs, err := a.Escrow.Jobs(ctx, escrow.Filter{Client: client, Status: escrow.StatusSubmitted, Limit: 20})
			job, ok := pick(jobs)
			if !ok || err != nil {
				break
			}
			if rand.Intn(2) == 0 {
				_, err = a.Escrow.Approve(ctx, job.ID, client)
				stats.record(err)
				break
			}
			err = openDispute(ctx, a, job.ID, client)
			stats.record(err)
		case 4:
			jobs, err := a.Escrow.Jobs(ctx, escrow.Filter{Client: client, Status: escrow.StatusAccepted, Limit: 20})
			if job, ok := pick(jobs); ok && err == nil {
				_, err = a.Escrow.ReclaimAfterNoSubmit(ctx, job.ID, client)
				stats.record(err)
			}
		}
		pause(10, 30)
	}
}

func openDispute(ctx context.Context, a *app.App, id common.Hash, client common.Address) error {
	arbs, err := a.Registry.Arbitrators(ctx)
	if err != nil {
		return err
	}
	if len(arbs) < len(dispute.Panel{}) {
		return nil
	}
	rand.Shuffle(len(arbs), func(i, j int) { arbs[i], arbs[j] = arbs[j], arbs[i] })
	cfg, err := a.Params.Get(ctx)
	if err != nil {
		return err
	}
	_, err = a.Escrow.OpenDispute(ctx, escrow.OpenDisputeParams{
		JobID:       id,
		Caller:      client,
		Arbitrators: dispute.Panel{arbs[0], arbs[1], arbs[2]},
		Deposit:     cfg.Deposit(),
	})
	return err
}

// Reviewer races other reviewers for open jobs, submits accepted ones, posts
// dispute deposits and sweeps auto-releases and withdrawals.
func Reviewer(ctx context.Context, a *app.App, reviewer common.Address, stats *Stats, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		switch rand.Intn(5) {
		case 0, 1:
			jobs, err := a.Escrow.Jobs(ctx, escrow.Filter{Status: escrow.StatusOpen, Limit: 20})
			if job, ok := pick(jobs); ok && err == nil {
				_, err = a.Escrow.Accept(ctx, job.ID, reviewer)
				stats.record(err)
			}
		case 2:
			jobs, err := a.Escrow.Jobs(ctx, escrow.Filter{Reviewer: reviewer, Status: escrow.StatusAccepted, Limit: 20})
			if job, ok := pick(jobs); ok && err == nil {
				report := make([]byte, 32)
				rand.Read(report)
				_, err = a.Escrow.SubmitReport(ctx, job.ID, reviewer, escrow.ReportHash(report))
				stats.record(err)
			}
		case 3:
			jobs, err := a.Escrow.Jobs(ctx, escrow.Filter{Reviewer: reviewer, Status: escrow.StatusDisputed, Limit: 20})
			job, ok := pick(jobs)
			if !ok || err != nil {
				break
			}
			cfg, err := a.Params.Get(ctx)
			if err != nil {
				break
			}
			_, err = a.Escrow.PostDisputeDeposit(ctx, job.ID, reviewer, cfg.Deposit())
			stats.record(err)
		case 4:
			jobs, err := a.Escrow.Jobs(ctx, escrow.Filter{Reviewer: reviewer, Status: escrow.StatusSubmitted, Limit: 20})
			if job, ok := pick(jobs); ok && err == nil {
				_, err = a.Escrow.AutoRelease(ctx, job.ID, reviewer)
				stats.record(err)
			}
			_, err = a.Ledger.Withdraw(ctx, reviewer)
			stats.record(err)
		}
		pause(10, 30)
	}
}

// Arbitrator votes on disputes it sits on and pushes decided or expired
// disputes to resolution.
func Arbitrator(ctx context.Context, a *app.App, arbitrator common.Address, stats *Stats, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		jobs, err := a.Escrow.Jobs(ctx, escrow.Filter{Status: escrow.StatusDisputed, Limit: 50})
		if job, ok := pick(jobs); ok && err == nil {
			switch rand.Intn(3) {
			case 0:
				outcome := dispute.Outcome(1 + rand.Intn(3))
				var bps uint16
				if outcome == dispute.OutcomeSplit {
					bps = uint16(rand.Intn(3)) * 2500
				}
				_, err = a.Escrow.Vote(ctx, escrow.VoteParams{JobID: job.ID, Caller: arbitrator, Outcome: outcome, ReviewerBps: bps})
			case 1:
				_, err = a.Escrow.ResolveDispute(ctx, job.ID, arbitrator)
			default:
				_, err = a.Escrow.ResolveDisputeTimeout(ctx, job.ID, arbitrator)
			}
			stats.record(err)
		}
		pause(20, 40)
	}
}

// Withdrawer drains the balance of an account that only receives credits
// (clients getting refunds, the fee owner).
func Withdrawer(ctx context.Context, a *app.App, account common.Address, stats *Stats, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		_, err := a.Ledger.Withdraw(ctx, account)
		stats.record(err)
		pause(100, 200)
	}
}
