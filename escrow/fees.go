package escrow

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"reviewescrow/dispute"
	"reviewescrow/ledger"
)

var bpsDenominator = uint256.NewInt(dispute.MaxBps)

// bpsOf returns floor(amount * bps / 10000). The product is computed at 512
// bits so no amount can overflow.
func bpsOf(amount *uint256.Int, bps uint16) *uint256.Int {
	if amount == nil {
		return new(uint256.Int)
	}
	z, _ := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(uint64(bps)), bpsDenominator)
	return z
}

// Payout is a single ledger credit planned by a settlement.
type Payout struct {
	Account common.Address
	Amount  *uint256.Int
	Reason  ledger.Reason
}

// Settlement is the terminal status and credits of a finished job.
type Settlement struct {
	Status  Status
	Payouts []Payout
}

// Total sums the planned payouts.
func (s Settlement) Total() *uint256.Int {
	total := new(uint256.Int)
	for _, p := range s.Payouts {
		total.Add(total, p.Amount)
	}
	return total
}

// reviewerPayouts takes the fee out of the reviewer-bound share. The
// rounding remainder of the fee stays with the reviewer.
func reviewerPayouts(reviewer, owner common.Address, share *uint256.Int, feeBps uint16) []Payout {
	fee := bpsOf(share, feeBps)
	net := new(uint256.Int).Sub(share, fee)
	return []Payout{
		{Account: reviewer, Amount: net, Reason: ledger.ReasonPayout},
		{Account: owner, Amount: fee, Reason: ledger.ReasonFee},
	}
}

// settleRelease plans an ordinary approval or auto-release.
func settleRelease(job *Job, owner common.Address) Settlement {
	return Settlement{
		Status:  StatusReleased,
		Payouts: reviewerPayouts(job.Reviewer, owner, job.Amount, job.FeeBps),
	}
}

// settleRefund plans a cancellation or reclaim.
func settleRefund(job *Job, status Status) Settlement {
	return Settlement{
		Status: status,
		Payouts: []Payout{
			{Account: job.Client, Amount: new(uint256.Int).Set(job.Amount), Reason: ledger.ReasonRefund},
		},
	}
}

// settleDispute distributes the job amount and both deposits per decision.
// The fee only ever touches the reviewer-bound part of the amount.
func settleDispute(job *Job, core *dispute.Core, decision dispute.Decision, owner common.Address) Settlement {
	deposits := core.TotalDeposits()

	switch decision.Outcome {
	case dispute.OutcomeReleaseToReviewer:
		payouts := reviewerPayouts(job.Reviewer, owner, job.Amount, job.FeeBps)
		payouts = append(payouts, Payout{Account: job.Reviewer, Amount: deposits, Reason: ledger.ReasonDeposit})
		return Settlement{Status: StatusReleased, Payouts: payouts}

	case dispute.OutcomeSplit:
		reviewerShare := bpsOf(job.Amount, decision.ReviewerBps)
		clientShare := new(uint256.Int).Sub(job.Amount, reviewerShare)
		reviewerDeposit := bpsOf(deposits, decision.ReviewerBps)
		clientDeposit := new(uint256.Int).Sub(deposits, reviewerDeposit)

		payouts := reviewerPayouts(job.Reviewer, owner, reviewerShare, job.FeeBps)
		payouts = append(payouts,
			Payout{Account: job.Client, Amount: clientShare, Reason: ledger.ReasonRefund},
			Payout{Account: job.Reviewer, Amount: reviewerDeposit, Reason: ledger.ReasonDeposit},
			Payout{Account: job.Client, Amount: clientDeposit, Reason: ledger.ReasonDeposit},
		)
		return Settlement{Status: StatusResolvedSplit, Payouts: payouts}

	default:
		return Settlement{
			Status: StatusResolvedRefunded,
			Payouts: []Payout{
				{Account: job.Client, Amount: new(uint256.Int).Set(job.Amount), Reason: ledger.ReasonRefund},
				{Account: job.Client, Amount: deposits, Reason: ledger.ReasonDeposit},
			},
		}
	}
}
