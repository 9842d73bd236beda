package escrow_test

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"reviewescrow/dispute"
	"reviewescrow/escrow"
)

func TestSplitResolution(t *testing.T) {
	f := newFixture(t)
	job, core := f.disputedJob()
	require.True(t, core.ClientDeposited)
	require.False(t, core.ReviewerDeposited)

	_, err := f.svc.PostDisputeDeposit(f.ctx, job.ID, reviewerAddr, deposit)
	require.NoError(t, err)

	require.NoError(t, f.vote(job.ID, arbAddrs[0], dispute.OutcomeSplit, 6000))
	_, err = f.svc.ResolveDispute(f.ctx, job.ID, outsider)
	require.ErrorIs(t, err, escrow.ErrDisputeNotReady)

	require.NoError(t, f.vote(job.ID, arbAddrs[1], dispute.OutcomeSplit, 6000))
	resolved, err := f.svc.ResolveDispute(f.ctx, job.ID, outsider)
	require.NoError(t, err)
	require.True(t, resolved.Resolved)
	require.Equal(t, dispute.OutcomeSplit, resolved.Outcome)
	require.Equal(t, uint16(6000), resolved.ReviewerBps)

	// reviewer: 0.6 - 0.03 fee + 0.12 of the 0.2 deposits
	f.requireBalance(reviewerAddr, "690000000000000000")
	// client: 0.4 + 0.08 of the deposits
	f.requireBalance(clientAddr, "480000000000000000")
	f.requireBalance(ownerAddr, "30000000000000000")
	f.requireConserved(job.ID, wei("1200000000000000000"))

	stored, err := f.svc.Job(f.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusResolvedSplit, stored.Status)

	err = f.vote(job.ID, arbAddrs[2], dispute.OutcomeSplit, 6000)
	requireKind(t, err, escrow.KindInvalidStatus)
	_, err = f.svc.ResolveDisputeTimeout(f.ctx, job.ID, outsider)
	requireKind(t, err, escrow.KindInvalidStatus)
}

func TestTimeoutAppliesQuorumWithoutReviewerDeposit(t *testing.T) {
	f := newFixture(t)
	job, core := f.disputedJob()

	require.NoError(t, f.vote(job.ID, arbAddrs[0], dispute.OutcomeReleaseToReviewer, 0))
	require.NoError(t, f.vote(job.ID, arbAddrs[2], dispute.OutcomeReleaseToReviewer, 0))

	_, err := f.svc.ResolveDispute(f.ctx, job.ID, outsider)
	require.ErrorIs(t, err, escrow.ErrDepositsIncomplete)

	f.clock.Set(core.VoteDeadline)
	_, err = f.svc.ResolveDisputeTimeout(f.ctx, job.ID, outsider)
	requireKind(t, err, escrow.KindTooEarly)

	f.clock.Set(core.VoteDeadline.Add(time.Second))
	_, err = f.svc.ResolveDispute(f.ctx, job.ID, outsider)
	require.ErrorIs(t, err, escrow.ErrDepositsIncomplete)

	resolved, err := f.svc.ResolveDisputeTimeout(f.ctx, job.ID, outsider)
	require.NoError(t, err)
	require.Equal(t, dispute.OutcomeReleaseToReviewer, resolved.Outcome)

	f.requireBalance(reviewerAddr, "1050000000000000000")
	f.requireBalance(ownerAddr, "50000000000000000")
	f.requireBalance(clientAddr, "0")
	f.requireConserved(job.ID, wei("1100000000000000000"))
}

func TestDistinctSplitsNeverReachQuorum(t *testing.T) {
	f := newFixture(t)
	job, core := f.disputedJob()
	_, err := f.svc.PostDisputeDeposit(f.ctx, job.ID, reviewerAddr, deposit)
	require.NoError(t, err)

	require.NoError(t, f.vote(job.ID, arbAddrs[0], dispute.OutcomeSplit, 3000))
	require.NoError(t, f.vote(job.ID, arbAddrs[1], dispute.OutcomeSplit, 5000))
	require.NoError(t, f.vote(job.ID, arbAddrs[2], dispute.OutcomeSplit, 7000))

	_, err = f.svc.ResolveDispute(f.ctx, job.ID, outsider)
	require.ErrorIs(t, err, escrow.ErrDisputeNotReady)

	count, err := f.app.Disputes.SplitCount(f.ctx, job.ID, 5000)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	f.clock.Set(core.VoteDeadline.Add(time.Second))
	resolved, err := f.svc.ResolveDisputeTimeout(f.ctx, job.ID, outsider)
	require.NoError(t, err)
	require.Equal(t, dispute.OutcomeRefundToClient, resolved.Outcome)

	f.requireBalance(clientAddr, "1200000000000000000")
	f.requireBalance(reviewerAddr, "0")
	f.requireBalance(ownerAddr, "0")

	stored, err := f.svc.Job(f.ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusResolvedRefunded, stored.Status)
}

func TestRefundQuorum(t *testing.T) {
	f := newFixture(t)
	job, _ := f.disputedJob()
	_, err := f.svc.PostDisputeDeposit(f.ctx, job.ID, reviewerAddr, deposit)
	require.NoError(t, err)

	require.NoError(t, f.vote(job.ID, arbAddrs[1], dispute.OutcomeRefundToClient, 0))
	require.NoError(t, f.vote(job.ID, arbAddrs[2], dispute.OutcomeRefundToClient, 0))

	_, err = f.svc.ResolveDispute(f.ctx, job.ID, clientAddr)
	require.NoError(t, err)
	f.requireBalance(clientAddr, "1200000000000000000")
	f.requireBalance(ownerAddr, "0")
}

func TestOpenDisputeGuards(t *testing.T) {
	f := newFixture(t)
	job := f.submittedJob()
	open := func(caller common.Address, panel dispute.Panel, value *uint256.Int) error {
		_, err := f.svc.OpenDispute(f.ctx, escrow.OpenDisputeParams{
			JobID:       job.ID,
			Caller:      caller,
			Arbitrators: panel,
			Deposit:     value,
		})
		return err
	}

	requireKind(t, open(reviewerAddr, f.panel(), deposit), escrow.KindUnauthorized)
	require.ErrorIs(t, open(clientAddr, f.panel(), wei("1")), escrow.ErrWrongDeposit)
	require.ErrorIs(t, open(clientAddr, dispute.Panel{arbAddrs[0], arbAddrs[0], arbAddrs[1]}, deposit), dispute.ErrInvalidPanel)
	require.ErrorIs(t, open(clientAddr, dispute.Panel{arbAddrs[0], arbAddrs[1], {}}, deposit), dispute.ErrInvalidPanel)
	require.ErrorIs(t, open(clientAddr, dispute.Panel{arbAddrs[0], arbAddrs[1], clientAddr}, deposit), dispute.ErrInvalidPanel)
	// The reviewer is allowlisted so only the party exclusion can reject it.
	require.NoError(t, f.app.Registry.SetArbitrator(f.ctx, ownerAddr, reviewerAddr, true))
	require.ErrorIs(t, open(clientAddr, dispute.Panel{arbAddrs[0], reviewerAddr, arbAddrs[1]}, deposit), dispute.ErrInvalidPanel)
	require.ErrorIs(t, open(clientAddr, dispute.Panel{ownerAddr, arbAddrs[0], arbAddrs[1]}, deposit), dispute.ErrInvalidPanel)
	require.ErrorIs(t, open(clientAddr, dispute.Panel{arbAddrs[0], arbAddrs[1], outsider}, deposit), escrow.ErrArbitratorNotListed)

	f.clock.Set(job.AcceptDeadline.Add(time.Second))
	requireKind(t, open(clientAddr, f.panel(), deposit), escrow.KindTooLate)

	f.clock.Set(*job.AcceptDeadline)
	require.NoError(t, open(clientAddr, f.panel(), deposit))
	requireKind(t, open(clientAddr, f.panel(), deposit), escrow.KindInvalidStatus)

	custody, err := f.app.Ledger.Custody(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "1100000000000000000", custody.Dec())
}

func TestDepositAndVoteGuards(t *testing.T) {
	f := newFixture(t)
	job, core := f.disputedJob()

	_, err := f.svc.PostDisputeDeposit(f.ctx, job.ID, clientAddr, deposit)
	require.ErrorIs(t, err, escrow.ErrDepositPosted)
	_, err = f.svc.PostDisputeDeposit(f.ctx, job.ID, outsider, deposit)
	requireKind(t, err, escrow.KindUnauthorized)
	_, err = f.svc.PostDisputeDeposit(f.ctx, job.ID, reviewerAddr, wei("5"))
	require.ErrorIs(t, err, escrow.ErrWrongDeposit)

	require.ErrorIs(t, f.vote(job.ID, arbAddrs[3], dispute.OutcomeRefundToClient, 0), escrow.ErrNotArbitrator)
	require.ErrorIs(t, f.vote(job.ID, arbAddrs[0], dispute.OutcomeRefundToClient, 100), dispute.ErrInvalidBallot)
	require.ErrorIs(t, f.vote(job.ID, arbAddrs[0], dispute.OutcomeSplit, 10001), dispute.ErrInvalidBallot)
	require.ErrorIs(t, f.vote(job.ID, arbAddrs[0], dispute.OutcomeNone, 0), dispute.ErrInvalidBallot)

	f.clock.Set(core.VoteDeadline)
	require.NoError(t, f.vote(job.ID, arbAddrs[0], dispute.OutcomeSplit, 10000))
	require.ErrorIs(t, f.vote(job.ID, arbAddrs[0], dispute.OutcomeSplit, 10000), dispute.ErrAlreadyVoted)

	f.clock.Set(core.VoteDeadline.Add(time.Second))
	requireKind(t, f.vote(job.ID, arbAddrs[1], dispute.OutcomeSplit, 10000), escrow.KindTooLate)

	vote, err := f.app.Disputes.Vote(f.ctx, job.ID, arbAddrs[0])
	require.NoError(t, err)
	require.Equal(t, uint16(10000), vote.ReviewerBps)
}

func TestZeroDepositConfiguration(t *testing.T) {
	f := newFixture(t)
	current, err := f.app.Params.Get(f.ctx)
	require.NoError(t, err)
	current.DisputeDeposit = wei("0")
	_, err = f.app.Params.Update(f.ctx, ownerAddr, current)
	require.NoError(t, err)

	job := f.submittedJob()
	_, err = f.svc.OpenDispute(f.ctx, escrow.OpenDisputeParams{
		JobID:       job.ID,
		Caller:      clientAddr,
		Arbitrators: f.panel(),
		Deposit:     wei("0"),
	})
	require.NoError(t, err)

	require.NoError(t, f.vote(job.ID, arbAddrs[0], dispute.OutcomeReleaseToReviewer, 0))
	require.NoError(t, f.vote(job.ID, arbAddrs[1], dispute.OutcomeReleaseToReviewer, 0))
	_, err = f.svc.ResolveDispute(f.ctx, job.ID, outsider)
	require.ErrorIs(t, err, escrow.ErrDepositsIncomplete)

	_, err = f.svc.PostDisputeDeposit(f.ctx, job.ID, reviewerAddr, wei("0"))
	require.NoError(t, err)
	_, err = f.svc.ResolveDispute(f.ctx, job.ID, outsider)
	require.NoError(t, err)
	f.requireBalance(reviewerAddr, "950000000000000000")
	f.requireConserved(job.ID, oneUnit)
}

func TestDepositSnapshotSurvivesParamChange(t *testing.T) {
	f := newFixture(t)
	job, _ := f.disputedJob()

	current, err := f.app.Params.Get(f.ctx)
	require.NoError(t, err)
	current.DisputeDeposit = wei("300000000000000000")
	_, err = f.app.Params.Update(f.ctx, ownerAddr, current)
	require.NoError(t, err)

	_, err = f.svc.PostDisputeDeposit(f.ctx, job.ID, reviewerAddr, wei("300000000000000000"))
	require.ErrorIs(t, err, escrow.ErrWrongDeposit)
	_, err = f.svc.PostDisputeDeposit(f.ctx, job.ID, reviewerAddr, deposit)
	require.NoError(t, err)
}
